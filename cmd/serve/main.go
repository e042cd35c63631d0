// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package servecmd

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sapcc/go-bits/httpapi"
	"github.com/sapcc/go-bits/httpext"
	"github.com/sapcc/go-bits/logg"
	"github.com/sapcc/go-bits/must"
	"github.com/spf13/cobra"

	"github.com/sapcc/portcullis/internal/api"
	"github.com/sapcc/portcullis/internal/executor"
	"github.com/sapcc/portcullis/internal/gate"
	"github.com/sapcc/portcullis/internal/notify"
	"github.com/sapcc/portcullis/internal/portcullis"
	"github.com/sapcc/portcullis/internal/tasks"
)

// AddCommandTo mounts this command into the command hierarchy.
func AddCommandTo(parent *cobra.Command) {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the approval gate.",
		Long:  "Run the approval gate (poll loop and HTTP server). Configuration is read from environment variables.",
		Args:  cobra.NoArgs,
		Run:   run,
	}
	parent.AddCommand(cmd)
}

func run(cmd *cobra.Command, args []string) {
	cfg := portcullis.ParseConfiguration()
	ctx := httpext.ContextWithSIGINT(cmd.Context(), 10*time.Second)

	// fail fast on a malformed watchlist; a missing file is not an error, it
	// just means that nothing is being watched yet
	must.Return(portcullis.ReadWatchlist(cfg.WatchlistPath))

	registry := gate.NewRegistry(cfg.ApprovalTimeout).InstrumentWith(nil)
	state := portcullis.NewStateFile(cfg.StatePath)
	notifier := must.Return(notify.NewNotifier(cfg))

	// start background goroutines
	poller := tasks.NewPoller(cfg, registry, state, notifier)
	go poller.CheckForUpdatesJob(nil).Run(ctx)

	// wire up HTTP handlers
	handler := httpapi.Compose(
		api.NewAPI(cfg, registry, state, executor.NewDockerExecutor()),
		httpapi.HealthCheckAPI{SkipRequestLog: true},
	)
	mux := http.NewServeMux()
	mux.Handle("/", handler)
	mux.Handle("/metrics", promhttp.Handler())

	logg.Info("starting approval gate (notify method: %s, poll interval: %s)", cfg.NotifyMethod, cfg.PollInterval)
	must.Succeed(httpext.ListenAndServeContext(ctx, cfg.ListenAddress, mux))
}
