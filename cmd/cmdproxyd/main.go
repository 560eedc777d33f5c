// Command cmdproxyd is the server daemon: it loads configuration, the
// command palette, and the environments file, wires the broker/blobstore/
// launcher/audit/metrics/tracing stack, and serves the cmdproxyserver façade
// until terminated, grounded in cmd/comet's root/daemon cobra split.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "cmdproxyd",
		Short: "Run the cmdproxy server daemon",
		Long:  "Run cmdproxyd, a worker that consumes RunRequests off the broker and executes them locally.",
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to config file")
	rootCmd.AddCommand(daemonCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
