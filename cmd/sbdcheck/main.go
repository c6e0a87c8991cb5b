// Command sbdcheck is a diagnostic CLI for secure block device images: it
// creates, inspects, benchmarks, and re-verifies them, living entirely
// outside the core library (spec §7: "nothing is logged from within the
// core; the caller controls observability").
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "sbdcheck:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "sbdcheck",
		Short:         "Inspect, exercise, and benchmark secure block device images",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newCreateCmd(), newInspectCmd(), newBenchCmd(), newVerifyCmd())
	return root
}
