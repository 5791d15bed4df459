package cmd

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ziadkadry99/sitecache/internal/offline"
)

var (
	offlineOut        string
	offlineSiteName   string
	offlineStylesheet string
)

var offlineCmd = &cobra.Command{
	Use:   "offline",
	Short: "Author the offline fallback page",
}

var offlineRenderCmd = &cobra.Command{
	Use:   "render <in.md>",
	Short: "Render a markdown file to the offline HTML page",
	Long: `Renders markdown to a standalone HTML page. Publish the output on the
site at offline_url so install can precache it.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		src, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("reading %s: %w", args[0], err)
		}

		r, err := offline.NewRenderer()
		if err != nil {
			return err
		}
		var buf bytes.Buffer
		if err := r.Render(&buf, src, offline.Options{
			SiteName:   offlineSiteName,
			Stylesheet: offlineStylesheet,
			Source:     args[0],
		}); err != nil {
			return err
		}

		if err := os.MkdirAll(filepath.Dir(offlineOut), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(offlineOut, buf.Bytes(), 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", offlineOut, err)
		}
		fmt.Fprintf(os.Stderr, "Wrote %s\n", offlineOut)
		return nil
	},
}

func init() {
	offlineRenderCmd.Flags().StringVarP(&offlineOut, "output", "o", "offline.html", "Output HTML file")
	offlineRenderCmd.Flags().StringVar(&offlineSiteName, "site-name", "", "Site name shown in the page title")
	offlineRenderCmd.Flags().StringVar(&offlineStylesheet, "stylesheet", "", "Stylesheet href, ideally a precached asset")
	offlineCmd.AddCommand(offlineRenderCmd)
	rootCmd.AddCommand(offlineCmd)
}
