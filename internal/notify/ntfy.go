// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package notify

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/sapcc/portcullis/internal/gate"
	"github.com/sapcc/portcullis/internal/portcullis"
)

type ntfyNotifier struct {
	cfg portcullis.NtfyConfig
}

// Send implements the Notifier interface.
func (n ntfyNotifier) Send(pending gate.PendingApproval, approveURL string) error {
	message := fmt.Sprintf("New image: %s\nContainer: %s", pending.Image, pending.Container)

	uri := strings.TrimSuffix(n.cfg.ServerURL, "/") + "/" + n.cfg.Topic
	req, err := http.NewRequest(http.MethodPost, uri, strings.NewReader(message))
	if err != nil {
		return err
	}
	req.Header.Set("Title", "Deploy Approval Required")
	req.Header.Set("Priority", "high")
	req.Header.Set("Tags", "whale,lock")
	req.Header.Set("Click", approveURL)
	req.Header.Set("Actions", "view, Approve, "+approveURL)
	if n.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+n.cfg.Token)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ntfy server returned status %s", resp.Status)
	}
	return nil
}
