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

type discordNotifier struct {
	cfg portcullis.DiscordConfig
}

// Send implements the Notifier interface.
func (n discordNotifier) Send(pending gate.PendingApproval, approveURL string) error {
	payload, err := json.Marshal(map[string]any{
		"content": "**New deployment pending approval**\n" + approveURL,
		"embeds": []map[string]any{{
			"title": "Deploy Approval Required",
			"color": 3447003,
			"fields": []map[string]any{
				{"name": "Image", "value": fmt.Sprintf("`%s`", pending.Image)},
				{"name": "Container", "value": fmt.Sprintf("`%s`", pending.Container)},
			},
			"footer": map[string]any{"text": "Enter TOTP code to approve"},
		}},
	})
	if err != nil {
		return err
	}

	resp, err := httpClient.Post(n.cfg.WebhookURL, "application/json", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("discord webhook returned status %s", resp.Status)
	}
	return nil
}
