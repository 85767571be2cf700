// Package main is the nornir command line: it runs the enrollment engine as
// a service and offers offline tools to inspect sampling decisions and
// feature manifests.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd builds the command tree. A fresh tree per call keeps flag
// state out of package globals, which lets tests execute commands repeatedly.
func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "nornir",
		Short:         "Experiment enrollment and pref-override engine",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newServeCmd(),
		newSampleCmd(),
		newFeaturesCmd(),
	)

	return root
}
