// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package tasks

import (
	"context"
	"time"

	"github.com/opencontainers/go-digest"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sapcc/go-bits/jobloop"
	"github.com/sapcc/go-bits/logg"

	"github.com/sapcc/portcullis/internal/client"
	"github.com/sapcc/portcullis/internal/gate"
	"github.com/sapcc/portcullis/internal/notify"
	"github.com/sapcc/portcullis/internal/portcullis"
)

// DigestFetcher obtains the digest currently stored behind an image tag on
// its registry. It exists as a named type so that tests can substitute a
// deterministic double for the network call.
type DigestFetcher func(ctx context.Context, ref portcullis.ImageReference) (digest.Digest, error)

// Poller is the single periodic driver of change detection and registry
// hygiene.
type Poller struct {
	cfg      portcullis.Configuration
	registry *gate.Registry
	state    *portcullis.StateFile
	notifier notify.Notifier

	// non-pure functions that can be replaced by deterministic doubles for unit tests
	fetchDigest DigestFetcher
	timeNow     func() time.Time
}

// NewPoller creates a Poller.
func NewPoller(cfg portcullis.Configuration, registry *gate.Registry, state *portcullis.StateFile, notifier notify.Notifier) *Poller {
	// the pool lives as long as the poller, so bearer tokens obtained for
	// authenticated registries are reused across poll cycles
	pool := &client.RepoClientPool{
		UserName: cfg.RegistryUserName,
		Password: cfg.RegistryPassword,
	}
	return &Poller{
		cfg:         cfg,
		registry:    registry,
		state:       state,
		notifier:    notifier,
		fetchDigest: pool.FetchDigest,
		timeNow:     time.Now,
	}
}

// OverrideFetchDigest replaces the registry network call with a test double.
func (p *Poller) OverrideFetchDigest(fetchDigest DigestFetcher) *Poller {
	p.fetchDigest = fetchDigest
	return p
}

// OverrideTimeNow replaces time.Now with a test double.
func (p *Poller) OverrideTimeNow(timeNow func() time.Time) *Poller {
	p.timeNow = timeNow
	return p
}

// CheckForUpdatesJob polls all watched images for digest changes, files
// approval requests for new digests, and sweeps expired requests.
func (p *Poller) CheckForUpdatesJob(registerer prometheus.Registerer) jobloop.Job {
	return (&jobloop.CronJob{
		Metadata: jobloop.JobMetadata{
			ReadableName: "check for image updates",
			CounterOpts: prometheus.CounterOpts{
				Name: "portcullis_update_check_runs",
				Help: "Counter for runs of the image update check.",
			},
		},
		Interval: p.cfg.PollInterval,
		// check right after startup instead of waiting out a full interval
		InitialDelay: 5 * time.Second,
		Task:         p.checkForUpdates,
	}).Setup(registerer)
}

func (p *Poller) checkForUpdates(ctx context.Context, _ prometheus.Labels) error {
	// both inputs are re-read on every cycle: the watchlist may be edited by
	// the operator at any time, and the state file is written by the approval
	// handler
	approvedDigests, err := p.state.ApprovedDigests()
	if err != nil {
		return err
	}
	watchlist, err := portcullis.ReadWatchlist(p.cfg.WatchlistPath)
	if err != nil {
		return err
	}

	for _, entry := range watchlist {
		// a failure for one image must not prevent the check of the others
		p.checkImage(ctx, entry, approvedDigests)
	}

	for _, expired := range p.registry.Sweep() {
		logg.Info("expired pending update for %s (digest %s was never approved)", expired.Image, expired.NewDigest)
	}
	return nil
}

func (p *Poller) checkImage(ctx context.Context, entry portcullis.WatchlistEntry, approvedDigests map[string]string) {
	ref, err := portcullis.ParseImageReference(entry.Image)
	if err != nil {
		logg.Error("skipping %s: %s", entry.Image, err.Error())
		return
	}

	currentDigest, err := p.fetchDigest(ctx, ref)
	if err != nil {
		// transient fetch errors are self-healing: the next poll cycle retries
		logg.Error("cannot fetch digest for %s: %s", entry.Image, err.Error())
		return
	}

	approvedDigest, exists := approvedDigests[entry.Image]
	if !exists {
		approvedDigest = portcullis.UnknownDigest
	}
	if approvedDigest == currentDigest.String() {
		return
	}

	pending, created := p.registry.Create(entry.Image, entry.Container, entry.AppDir, approvedDigest, currentDigest.String())
	if !created {
		logg.Debug("update already pending approval for %s", entry.Image)
		return
	}
	logg.Info("new version detected for %s: %s -> %s", entry.Image, pending.OldDigest, pending.NewDigest)

	// notification failure does not roll back the entry: the approval stays
	// reachable via /pending and the direct link
	err = p.notifier.Send(pending, p.cfg.ApproveURL(pending.Token))
	if err != nil {
		logg.Error("cannot notify about pending update for %s: %s", entry.Image, err.Error())
	}
}
