// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

// Package notify delivers out-of-band notifications about pending approvals.
// Delivery is strictly best-effort: a failed notification is logged by the
// caller and nothing else happens, because the approval stays reachable
// through the /pending listing and the direct link regardless.
package notify

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sapcc/go-bits/logg"

	"github.com/sapcc/portcullis/internal/gate"
	"github.com/sapcc/portcullis/internal/portcullis"
)

// Notifier is a delivery channel for approval requests. Adding a channel
// means adding an implementation of this interface and a case in NewNotifier,
// nothing else.
type Notifier interface {
	// Send notifies the operator that `pending` awaits their decision at
	// `approveURL`.
	Send(pending gate.PendingApproval, approveURL string) error
}

// NewNotifier builds the Notifier selected by cfg.NotifyMethod.
func NewNotifier(cfg portcullis.Configuration) (Notifier, error) {
	switch cfg.NotifyMethod {
	case "none":
		return nullNotifier{}, nil
	case "ntfy":
		if cfg.Ntfy.Topic == "" {
			return nil, errors.New("PORTCULLIS_NTFY_TOPIC is not set")
		}
		return ntfyNotifier{cfg.Ntfy}, nil
	case "telegram":
		if cfg.Telegram.BotToken == "" || cfg.Telegram.ChatID == "" {
			return nil, errors.New("PORTCULLIS_TELEGRAM_BOT_TOKEN and PORTCULLIS_TELEGRAM_CHAT_ID must both be set")
		}
		return telegramNotifier{cfg.Telegram}, nil
	case "pushover":
		if cfg.Pushover.APIToken == "" || cfg.Pushover.UserKey == "" {
			return nil, errors.New("PORTCULLIS_PUSHOVER_TOKEN and PORTCULLIS_PUSHOVER_USER_KEY must both be set")
		}
		return pushoverNotifier{cfg.Pushover}, nil
	case "discord":
		if cfg.Discord.WebhookURL == "" {
			return nil, errors.New("PORTCULLIS_DISCORD_WEBHOOK_URL is not set")
		}
		return discordNotifier{cfg.Discord}, nil
	default:
		return nil, fmt.Errorf("unknown notification method: %q", cfg.NotifyMethod)
	}
}

// notification dispatch is not in the approval-request path, but it must not
// stall the poll loop either
var httpClient = &http.Client{Timeout: 30 * time.Second}

// nullNotifier is used when notifications are disabled. The operator is
// expected to check the /pending endpoint instead.
type nullNotifier struct{}

// Send implements the Notifier interface.
func (nullNotifier) Send(pending gate.PendingApproval, approveURL string) error {
	logg.Info("notifications disabled, pending approval for %s at: %s", pending.Image, approveURL)
	return nil
}
