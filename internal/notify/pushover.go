// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package notify

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/sapcc/portcullis/internal/gate"
	"github.com/sapcc/portcullis/internal/portcullis"
)

type pushoverNotifier struct {
	cfg portcullis.PushoverConfig
}

// Send implements the Notifier interface.
func (n pushoverNotifier) Send(pending gate.PendingApproval, approveURL string) error {
	form := url.Values{
		"token":     {n.cfg.APIToken},
		"user":      {n.cfg.UserKey},
		"title":     {"Deploy Approval Required"},
		"message":   {fmt.Sprintf("New image available\n\nImage: %s\nContainer: %s", pending.Image, pending.Container)},
		"url":       {approveURL},
		"url_title": {"Approve Update"},
		"priority":  {"1"},
	}

	resp, err := httpClient.PostForm("https://api.pushover.net/1/messages.json", form)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("pushover API returned status %s", resp.Status)
	}
	return nil
}
