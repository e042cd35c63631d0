// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package gate

import (
	"crypto/rand"
	"encoding/base64"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PendingApproval is one detected, not-yet-acted-upon image update. Values of
// this type are immutable once created; all lifecycle transitions happen on
// the Registry level by inserting or removing entries.
type PendingApproval struct {
	// opaque capability: possession is necessary (but not sufficient) to
	// approve this update
	Token string

	Image     string
	Container string
	AppDir    string

	// last approved digest, or portcullis.UnknownDigest if none is on record
	OldDigest string
	// the newly observed digest that triggered this request
	NewDigest string

	DetectedAt time.Time
}

// Registry holds all in-flight approval requests. It is shared between the
// poll loop and an arbitrary number of concurrent HTTP handlers, so all
// operations serialize on one mutex. The entry count is bounded by the number
// of distinct in-flight updates (typically single digits), hence a single
// coarse lock is both correct and fast enough.
type Registry struct {
	timeout time.Duration

	mu      sync.Mutex
	entries map[string]PendingApproval

	// non-pure functions that can be replaced by deterministic doubles for unit tests
	timeNow       func() time.Time
	generateToken func() string
}

// NewRegistry creates a Registry whose entries expire after the given timeout.
func NewRegistry(timeout time.Duration) *Registry {
	return &Registry{
		timeout:       timeout,
		entries:       make(map[string]PendingApproval),
		timeNow:       time.Now,
		generateToken: GenerateToken,
	}
}

// OverrideTimeNow replaces time.Now with a test double.
func (r *Registry) OverrideTimeNow(timeNow func() time.Time) *Registry {
	r.timeNow = timeNow
	return r
}

// OverrideGenerateToken replaces GenerateToken with a test double.
func (r *Registry) OverrideGenerateToken(generateToken func() string) *Registry {
	r.generateToken = generateToken
	return r
}

// GenerateToken produces a fresh approval token: 32 bytes from the CSPRNG,
// URL-safe encoded, so brute-forcing a live token is computationally
// infeasible.
func GenerateToken() string {
	var buf [32]byte
	_, err := rand.Read(buf[:])
	if err != nil {
		panic(err.Error())
	}
	return base64.RawURLEncoding.EncodeToString(buf[:])
}

// InstrumentWith registers a gauge for the live entry count on the given
// registerer (or on the default registry when nil is given).
func (r *Registry) InstrumentWith(registerer prometheus.Registerer) *Registry {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	registerer.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "portcullis_pending_approvals",
			Help: "Number of image updates currently awaiting approval.",
		},
		func() float64 {
			r.mu.Lock()
			defer r.mu.Unlock()
			return float64(len(r.entries))
		},
	))
	return r
}

// Create adds a new entry for the given update, unless a live entry for the
// same (image, newDigest) pair already exists. The check and the insert happen
// under the same lock acquisition, so a concurrent sweep or consume can never
// interleave with them. The second return value reports whether a new entry
// was created; on false, the already-live entry is returned instead and the
// caller must not send another notification.
func (r *Registry) Create(image, container, appDir, oldDigest, newDigest string) (PendingApproval, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, entry := range r.entries {
		if entry.Image == image && entry.NewDigest == newDigest {
			return entry, false
		}
	}

	token := r.generateToken()
	for _, exists := r.entries[token]; exists; _, exists = r.entries[token] {
		token = r.generateToken()
	}

	entry := PendingApproval{
		Token:      token,
		Image:      image,
		Container:  container,
		AppDir:     appDir,
		OldDigest:  oldDigest,
		NewDigest:  newDigest,
		DetectedAt: r.timeNow(),
	}
	r.entries[token] = entry
	return entry, true
}

// Lookup returns the entry for the given token without consuming it. Entries
// that have passed their expiry but have not been swept yet are still
// returned; expiry is enforced when it matters, in Consume.
func (r *Registry) Lookup(token string) (PendingApproval, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, exists := r.entries[token]
	return entry, exists
}

// Consume atomically removes and returns the entry for the given token. This
// is the single point of truth for "has this request been decided": when N
// concurrent requests race on the same token, exactly one of them gets
// ok == true and may go on to trigger the deploy action. Entries past their
// expiry are removed but reported as not found, indistinguishable from a
// token that never existed.
func (r *Registry) Consume(token string) (PendingApproval, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, exists := r.entries[token]
	if !exists {
		return PendingApproval{}, false
	}
	delete(r.entries, token)

	if r.timeNow().Sub(entry.DetectedAt) > r.timeout {
		return PendingApproval{}, false
	}
	return entry, true
}

// Sweep removes all entries that have passed their expiry, and returns them
// so that the caller can log what was dropped.
func (r *Registry) Sweep() []PendingApproval {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.timeNow()
	var expired []PendingApproval
	for token, entry := range r.entries {
		if now.Sub(entry.DetectedAt) > r.timeout {
			expired = append(expired, entry)
			delete(r.entries, token)
		}
	}
	return expired
}

// Pending returns a snapshot of all live entries, oldest first.
func (r *Registry) Pending() []PendingApproval {
	r.mu.Lock()
	defer r.mu.Unlock()

	result := make([]PendingApproval, 0, len(r.entries))
	for _, entry := range r.entries {
		result = append(result, entry)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].DetectedAt.Before(result[j].DetectedAt)
	})
	return result
}
