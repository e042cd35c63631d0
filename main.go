// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"github.com/sapcc/go-bits/logg"
	"github.com/sapcc/go-bits/osext"
	"github.com/spf13/cobra"

	servecmd "github.com/sapcc/portcullis/cmd/serve"
	validatecmd "github.com/sapcc/portcullis/cmd/validate"
	"github.com/sapcc/portcullis/internal/portcullis"
)

func main() {
	logg.ShowDebug = osext.GetenvBool("PORTCULLIS_DEBUG")

	rootCmd := &cobra.Command{
		Use:     "portcullis",
		Short:   "TOTP-gated approval gate for container image updates",
		Long:    "Portcullis polls registries for new image digests and gates the actual pull/restart behind an out-of-band TOTP approval.",
		Version: portcullis.Version,
		Args:    cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			must(cmd.Help())
		},
	}
	servecmd.AddCommandTo(rootCmd)
	validatecmd.AddCommandTo(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		logg.Fatal(err.Error())
	}
}

func must(err error) {
	if err != nil {
		logg.Fatal(err.Error())
	}
}
