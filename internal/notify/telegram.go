// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/sapcc/portcullis/internal/gate"
	"github.com/sapcc/portcullis/internal/portcullis"
)

type telegramNotifier struct {
	cfg portcullis.TelegramConfig
}

// Send implements the Notifier interface.
func (n telegramNotifier) Send(pending gate.PendingApproval, approveURL string) error {
	message := fmt.Sprintf(
		"*Deploy Approval Required*\n\nImage: `%s`\nContainer: `%s`\n\n[Tap to approve](%s)",
		pending.Image, pending.Container, approveURL,
	)

	payload, err := json.Marshal(map[string]any{
		"chat_id":                  n.cfg.ChatID,
		"text":                     message,
		"parse_mode":               "Markdown",
		"disable_web_page_preview": true,
	})
	if err != nil {
		return err
	}

	uri := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", n.cfg.BotToken)
	resp, err := httpClient.Post(uri, "application/json", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram API returned status %s", resp.Status)
	}
	return nil
}
