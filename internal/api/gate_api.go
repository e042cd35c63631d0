// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sapcc/go-bits/httpapi"
	"github.com/sapcc/go-bits/logg"
	"github.com/sapcc/go-bits/respondwith"

	"github.com/sapcc/portcullis/internal/executor"
	"github.com/sapcc/portcullis/internal/gate"
	"github.com/sapcc/portcullis/internal/portcullis"
)

// API contains state variables used by the approval API.
type API struct {
	cfg      portcullis.Configuration
	registry *gate.Registry
	state    *portcullis.StateFile
	executor executor.Executor

	// non-pure functions that can be replaced by deterministic doubles for unit tests
	timeNow func() time.Time
}

// NewAPI constructs a new API instance.
func NewAPI(cfg portcullis.Configuration, registry *gate.Registry, state *portcullis.StateFile, exc executor.Executor) *API {
	return &API{cfg, registry, state, exc, time.Now}
}

// OverrideTimeNow replaces time.Now with a test double.
func (a *API) OverrideTimeNow(timeNow func() time.Time) *API {
	a.timeNow = timeNow
	return a
}

// AddTo implements the httpapi.API interface.
func (a *API) AddTo(r *mux.Router) {
	r.Methods("GET").Path("/").HandlerFunc(a.handleGetStatus)
	r.Methods("GET").Path("/pending").HandlerFunc(a.handleListPending)
	r.Methods("GET").Path("/approve/{token}").HandlerFunc(a.handleGetApproval)
	r.Methods("POST").Path("/approve/{token}").HandlerFunc(a.handlePostApproval)
}

func (a *API) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	httpapi.IdentifyEndpoint(r, "/")
	respondwith.JSON(w, http.StatusOK, map[string]any{
		"status":                "ok",
		"pending_updates":       len(a.registry.Pending()),
		"poll_interval_seconds": int(a.cfg.PollInterval.Seconds()),
		"notify_method":         a.cfg.NotifyMethod,
	})
}

func (a *API) handleListPending(w http.ResponseWriter, r *http.Request) {
	httpapi.IdentifyEndpoint(r, "/pending")

	type pendingUpdate struct {
		Image      string `json:"image"`
		Container  string `json:"container"`
		DetectedAt string `json:"detected_at"`
		ApproveURL string `json:"approve_url"`
	}
	result := []pendingUpdate{}
	for _, entry := range a.registry.Pending() {
		result = append(result, pendingUpdate{
			Image:      entry.Image,
			Container:  entry.Container,
			DetectedAt: entry.DetectedAt.Format(time.RFC3339),
			ApproveURL: a.cfg.ApproveURL(entry.Token),
		})
	}
	respondwith.JSON(w, http.StatusOK, result)
}

func (a *API) handleGetApproval(w http.ResponseWriter, r *http.Request) {
	httpapi.IdentifyEndpoint(r, "/approve/:token")

	pending, exists := a.registry.Lookup(mux.Vars(r)["token"])
	if !exists {
		writeApprovalPage(w, http.StatusNotFound, approvalPageData{})
		return
	}
	writeApprovalPage(w, http.StatusOK, approvalPageData{
		Found:     true,
		Image:     pending.Image,
		Container: pending.Container,
	})
}

func (a *API) handlePostApproval(w http.ResponseWriter, r *http.Request) {
	httpapi.IdentifyEndpoint(r, "/approve/:token")
	token := mux.Vars(r)["token"]

	// an unknown token, an expired token and an already-consumed token are all
	// deliberately indistinguishable here
	pending, exists := a.registry.Lookup(token)
	if !exists {
		writeApprovalPage(w, http.StatusNotFound, approvalPageData{})
		return
	}

	if !gate.ValidateCode(a.cfg.TOTPSecret, r.FormValue("code"), a.timeNow()) {
		// a wrong code is a no-op: the entry stays pending, the operator may
		// retry until the request expires
		logg.Info("invalid TOTP code submitted for %s", pending.Image)
		writeApprovalPage(w, http.StatusOK, approvalPageData{
			Found:     true,
			Image:     pending.Image,
			Container: pending.Container,
			Error:     "Invalid code. Please try again.",
		})
		return
	}

	// re-check under the registry lock: a concurrent request may have consumed
	// this token between our Lookup and now, and only one of us may deploy
	pending, exists = a.registry.Consume(token)
	if !exists {
		writeApprovalPage(w, http.StatusNotFound, approvalPageData{})
		return
	}
	logg.Info("TOTP verified for %s, proceeding with update", pending.Image)

	// the state write must complete before we acknowledge the approval, so
	// that a restart of the gate never re-offers an approved version
	err := a.state.RecordDigest(pending.Image, pending.NewDigest)
	if respondwith.ErrorText(w, err) {
		return
	}

	// the deploy action must not block the HTTP response; its outcome is
	// observed via logs only
	go func() {
		err := a.executor.Run(pending)
		if err != nil {
			logg.Error("update of %s failed: %s", pending.Container, err.Error())
		}
	}()

	writeApprovalPage(w, http.StatusOK, approvalPageData{
		Found:     true,
		Success:   true,
		Image:     pending.Image,
		Container: pending.Container,
	})
}
