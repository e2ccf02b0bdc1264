package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/agentic-research/launchpad/internal/export"
	"github.com/agentic-research/launchpad/internal/metrics"
	"github.com/agentic-research/launchpad/internal/publish"
)

var (
	artifactsDir    string
	developerDir    string
	codebaseURL     string
	metricsTextfile string
)

func addSourceFlags(c *cobra.Command) {
	c.Flags().StringVar(&artifactsDir, "artifacts", ".", "Directory holding server-provided jars and signing output")
	c.Flags().StringVar(&developerDir, "developer", "", "Directory holding developer override documents and resources")
	c.Flags().StringVar(&codebaseURL, "codebase", "http://localhost:8080", "Base URL content is served from")
}

func init() {
	addSourceFlags(synthCmd)
	synthCmd.Flags().StringVar(&metricsTextfile, "metrics-textfile", "", "Write Prometheus metrics to this file")
	rootCmd.AddCommand(synthCmd)
}

var synthCmd = &cobra.Command{
	Use:   "synth [manifest.json] [outdir]",
	Short: "Synthesize every unit in a manifest and write servable content to a directory",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		manifest, err := loadManifest(args[0])
		if err != nil {
			return err
		}
		e, err := newEnv(artifactsDir, developerDir)
		if err != nil {
			return err
		}
		defer func() { _ = e.Close() }()

		deployErr := e.manager.DeployAll(cmd.Context(), manifest)
		if deployErr != nil {
			logger.Error("Deployment incomplete", zap.Error(deployErr))
		}

		fs := export.New(e.repo, export.WithCodebase(e.codebase(codebaseURL)))
		n, err := publish.Tree(fs, args[1])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d files for %d units to %s\n", n, len(e.manager.Units()), args[1])

		if metricsTextfile != "" {
			if err := metrics.WriteTextfile(metricsTextfile); err != nil {
				return errors.Join(deployErr, fmt.Errorf("write metrics: %w", err))
			}
		}
		return deployErr
	},
}
