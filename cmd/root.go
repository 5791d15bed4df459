package cmd

import (
	"io"
	"log"

	"github.com/spf13/cobra"
)

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "sitecache",
	Short: "Offline cache worker for static websites",
	Long: `sitecache sits in front of a static site and keeps it usable offline.
It precaches critical assets, serves assets cache-first and pages
network-first, and falls back to an offline page when the network
and the cache both come up empty.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// The server always logs; one-shot commands only with -v.
		if !verbose && cmd != serveCmd {
			log.SetOutput(io.Discard)
		}
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", ".sitecache.yml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
