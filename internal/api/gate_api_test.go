// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/sapcc/go-bits/assert"
	"github.com/sapcc/go-bits/httpapi"
	"github.com/sapcc/go-bits/mock"

	"github.com/sapcc/portcullis/internal/gate"
	"github.com/sapcc/portcullis/internal/portcullis"
)

const (
	testSecret    = "JBSWY3DPEHPK3PXP"
	testOldDigest = "sha256:aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	testNewDigest = "sha256:bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
)

// recordingExecutor reports invocations on a channel, so that tests can wait
// for the detached goroutine that the handler spawns.
type recordingExecutor struct {
	ran chan gate.PendingApproval
}

// Run implements the executor.Executor interface.
func (e *recordingExecutor) Run(approved gate.PendingApproval) error {
	e.ran <- approved
	return nil
}

type apiSetup struct {
	Clock    *mock.Clock
	Registry *gate.Registry
	State    *portcullis.StateFile
	Executor *recordingExecutor
	Handler  http.Handler
}

func setupAPI(t *testing.T) apiSetup {
	t.Helper()

	cfg := portcullis.Configuration{
		GateURL:         url.URL{Scheme: "https", Host: "gate.example.org"},
		TOTPSecret:      testSecret,
		PollInterval:    5 * time.Minute,
		ApprovalTimeout: time.Hour,
		StatePath:       filepath.Join(t.TempDir(), "state.json"),
		NotifyMethod:    "none",
	}

	clock := mock.NewClock()
	// start at a realistic wall-clock time so that TOTP counters are far away
	// from zero
	clock.StepBy(time.Duration(1700000000) * time.Second)

	registry := gate.NewRegistry(cfg.ApprovalTimeout).OverrideTimeNow(clock.Now)
	state := portcullis.NewStateFile(cfg.StatePath)
	exc := &recordingExecutor{ran: make(chan gate.PendingApproval, 1)}
	handler := httpapi.Compose(
		NewAPI(cfg, registry, state, exc).OverrideTimeNow(clock.Now),
		httpapi.WithoutLogging(),
	)

	return apiSetup{clock, registry, state, exc, handler}
}

func (s apiSetup) validCode(t *testing.T) string {
	t.Helper()
	code, err := totp.GenerateCodeCustom(testSecret, s.Clock.Now(), totp.ValidateOpts{
		Period:    30,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		t.Fatal(err.Error())
	}
	return code
}

// wrongCode returns a syntactically valid code that is far outside the
// tolerance window.
func (s apiSetup) wrongCode(t *testing.T) string {
	t.Helper()
	for offset := time.Hour; ; offset += time.Hour {
		code, err := totp.GenerateCodeCustom(testSecret, s.Clock.Now().Add(offset), totp.ValidateOpts{
			Period:    30,
			Digits:    otp.DigitsSix,
			Algorithm: otp.AlgorithmSHA1,
		})
		if err != nil {
			t.Fatal(err.Error())
		}
		// guard against the code coinciding with one inside the window
		if !gate.ValidateCode(testSecret, code, s.Clock.Now()) {
			return code
		}
	}
}

func (s apiSetup) postCode(t *testing.T, token, code string) *httptest.ResponseRecorder {
	t.Helper()
	form := url.Values{"code": {code}}
	req := httptest.NewRequest(http.MethodPost, "/approve/"+token, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	recorder := httptest.NewRecorder()
	s.Handler.ServeHTTP(recorder, req)
	return recorder
}

func (s apiSetup) waitForExecutor(t *testing.T) gate.PendingApproval {
	t.Helper()
	select {
	case approved := <-s.Executor.ran:
		return approved
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for the executor to run")
		return gate.PendingApproval{}
	}
}

func TestStatusAndPendingEndpoints(t *testing.T) {
	s := setupAPI(t)

	assert.HTTPRequest{
		Method:       "GET",
		Path:         "/",
		ExpectStatus: http.StatusOK,
		ExpectBody: assert.JSONObject{
			"status":                "ok",
			"pending_updates":       0,
			"poll_interval_seconds": 300,
			"notify_method":         "none",
		},
	}.Check(t, s.Handler)
	assert.HTTPRequest{
		Method:       "GET",
		Path:         "/pending",
		ExpectStatus: http.StatusOK,
		ExpectBody:   assert.StringData("[]\n"),
	}.Check(t, s.Handler)
}

func TestPendingListing(t *testing.T) {
	s := setupAPI(t)
	pending, _ := s.Registry.Create("ghcr.io/acme/app:latest", "app", "", testOldDigest, testNewDigest)

	req := httptest.NewRequest(http.MethodGet, "/pending", http.NoBody)
	recorder := httptest.NewRecorder()
	s.Handler.ServeHTTP(recorder, req)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", recorder.Code)
	}

	var listing []struct {
		Image      string `json:"image"`
		Container  string `json:"container"`
		DetectedAt string `json:"detected_at"`
		ApproveURL string `json:"approve_url"`
	}
	err := json.Unmarshal(recorder.Body.Bytes(), &listing)
	if err != nil {
		t.Fatal(err.Error())
	}
	if len(listing) != 1 {
		t.Fatalf("expected 1 pending update, got %d", len(listing))
	}
	assert.DeepEqual(t, "image", listing[0].Image, "ghcr.io/acme/app:latest")
	assert.DeepEqual(t, "container", listing[0].Container, "app")
	assert.DeepEqual(t, "detected_at", listing[0].DetectedAt, s.Clock.Now().Format(time.RFC3339))
	assert.DeepEqual(t, "approve_url", listing[0].ApproveURL,
		"https://gate.example.org/approve/"+pending.Token)

	// the status endpoint counts this entry
	assert.HTTPRequest{
		Method:       "GET",
		Path:         "/",
		ExpectStatus: http.StatusOK,
		ExpectBody: assert.JSONObject{
			"status":                "ok",
			"pending_updates":       1,
			"poll_interval_seconds": 300,
			"notify_method":         "none",
		},
	}.Check(t, s.Handler)
}

func TestApprovalWithCorrectCode(t *testing.T) {
	s := setupAPI(t)
	pending, _ := s.Registry.Create("ghcr.io/acme/app:latest", "app", "/apps/app", testOldDigest, testNewDigest)

	// the challenge page renders for a live token
	assert.HTTPRequest{
		Method:       "GET",
		Path:         "/approve/" + pending.Token,
		ExpectStatus: http.StatusOK,
	}.Check(t, s.Handler)

	recorder := s.postCode(t, pending.Token, s.validCode(t))
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", recorder.Code)
	}
	if !strings.Contains(recorder.Body.String(), "Approved") {
		t.Error("expected success page")
	}

	// the digest store was updated before the response was returned
	digests, err := s.State.ApprovedDigests()
	if err != nil {
		t.Fatal(err.Error())
	}
	assert.DeepEqual(t, "approved digest", digests["ghcr.io/acme/app:latest"], testNewDigest)

	// the token is consumed
	_, ok := s.Registry.Lookup(pending.Token)
	if ok {
		t.Error("expected token to be consumed")
	}

	// the executor ran exactly once, with the approved update
	approved := s.waitForExecutor(t)
	assert.DeepEqual(t, "executed update", approved, pending)
	select {
	case <-s.Executor.ran:
		t.Fatal("executor ran more than once")
	default:
	}
}

func TestApprovalWithWrongCode(t *testing.T) {
	s := setupAPI(t)
	pending, _ := s.Registry.Create("ghcr.io/acme/app:latest", "app", "", testOldDigest, testNewDigest)

	// scenario: three wrong codes, then the correct one before the timeout
	for range 3 {
		recorder := s.postCode(t, pending.Token, s.wrongCode(t))
		if recorder.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", recorder.Code)
		}
		if !strings.Contains(recorder.Body.String(), "Invalid code") {
			t.Error("expected error message on page")
		}

		// no state change: entry still pending, store untouched, no executor run
		_, ok := s.Registry.Lookup(pending.Token)
		if !ok {
			t.Fatal("expected entry to remain pending after wrong code")
		}
		digests, err := s.State.ApprovedDigests()
		if err != nil {
			t.Fatal(err.Error())
		}
		assert.DeepEqual(t, "approved digests", len(digests), 0)
	}

	recorder := s.postCode(t, pending.Token, s.validCode(t))
	if !strings.Contains(recorder.Body.String(), "Approved") {
		t.Error("expected success page after correct code")
	}
	s.waitForExecutor(t)
}

func TestApprovalOfUnknownToken(t *testing.T) {
	s := setupAPI(t)

	// unknown tokens, consumed tokens and expired tokens all render the same
	// not-found page
	assert.HTTPRequest{
		Method:       "GET",
		Path:         "/approve/" + gate.GenerateToken(),
		ExpectStatus: http.StatusNotFound,
	}.Check(t, s.Handler)

	recorder := s.postCode(t, gate.GenerateToken(), s.validCode(t))
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", recorder.Code)
	}
	if !strings.Contains(recorder.Body.String(), "expired or was already used") {
		t.Error("expected not-found page")
	}
}

func TestApprovalAfterTimeout(t *testing.T) {
	s := setupAPI(t)
	pending, _ := s.Registry.Create("ghcr.io/acme/app:latest", "app", "", testOldDigest, testNewDigest)

	s.Clock.StepBy(time.Hour + time.Minute)

	// even with a correct code, the expired entry cannot be consumed anymore
	recorder := s.postCode(t, pending.Token, s.validCode(t))
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", recorder.Code)
	}

	// no action was taken: store untouched, executor never invoked
	digests, err := s.State.ApprovedDigests()
	if err != nil {
		t.Fatal(err.Error())
	}
	assert.DeepEqual(t, "approved digests", len(digests), 0)
	select {
	case <-s.Executor.ran:
		t.Fatal("executor ran for an expired approval")
	default:
	}
}

func TestApprovalDoubleSubmit(t *testing.T) {
	s := setupAPI(t)
	pending, _ := s.Registry.Create("ghcr.io/acme/app:latest", "app", "", testOldDigest, testNewDigest)

	recorder := s.postCode(t, pending.Token, s.validCode(t))
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", recorder.Code)
	}
	s.waitForExecutor(t)

	// a second submit with the same (now consumed) token is indistinguishable
	// from an unknown token, and the executor does not run again
	recorder = s.postCode(t, pending.Token, s.validCode(t))
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", recorder.Code)
	}
	select {
	case <-s.Executor.ran:
		t.Fatal("executor ran twice for the same approval")
	default:
	}
}
