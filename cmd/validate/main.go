// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package validatecmd

import (
	"fmt"

	"github.com/sapcc/go-bits/logg"
	"github.com/sapcc/go-bits/osext"
	"github.com/spf13/cobra"

	"github.com/sapcc/portcullis/internal/portcullis"
)

// AddCommandTo mounts this command into the command hierarchy.
func AddCommandTo(parent *cobra.Command) {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the watchlist and state files.",
		Long:  "Parse the watchlist and state files and report any problems, without starting the gate.",
		Args:  cobra.NoArgs,
		Run:   run,
	}
	parent.AddCommand(cmd)
}

func run(cmd *cobra.Command, args []string) {
	_, _ = cmd, args

	watchlistPath := osext.GetenvOrDefault("PORTCULLIS_WATCHLIST_PATH", "/config/images.json")
	watchlist, err := portcullis.ReadWatchlist(watchlistPath)
	if err != nil {
		logg.Fatal(err.Error())
	}
	for _, entry := range watchlist {
		ref, err := portcullis.ParseImageReference(entry.Image)
		if err != nil {
			logg.Fatal(err.Error())
		}
		fmt.Printf("watching %s (container %q)\n", ref.String(), entry.Container)
	}

	statePath := osext.GetenvOrDefault("PORTCULLIS_STATE_PATH", "/config/state.json")
	digests, err := portcullis.NewStateFile(statePath).ApprovedDigests()
	if err != nil {
		logg.Fatal(err.Error())
	}
	fmt.Printf("state file has approved digests for %d image(s)\n", len(digests))
}
