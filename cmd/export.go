package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/agentic-research/launchpad/internal/export"
)

var (
	listenAddr string
	mountPoint string
)

func init() {
	addSourceFlags(exportCmd)
	exportCmd.Flags().StringVar(&listenAddr, "listen", ":0", "NFS listen address")
	exportCmd.Flags().StringVar(&mountPoint, "mount", "", "Mount the export read-only at this directory (requires sudo)")
	rootCmd.AddCommand(exportCmd)
}

var exportCmd = &cobra.Command{
	Use:   "export [manifest.json]",
	Short: "Serve synthesized content read-only over NFS",
	Args:  cobra.ExactArgs(1),
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

		if err := e.manager.DeployAll(cmd.Context(), manifest); err != nil {
			logger.Error("Deployment incomplete", zap.Error(err))
		}

		fs := export.New(e.repo, export.WithCodebase(e.codebase(codebaseURL)))
		srv, err := export.NewServer(fs, listenAddr)
		if err != nil {
			return err
		}
		defer func() { _ = srv.Close() }()
		fmt.Fprintf(cmd.OutOrStdout(), "Serving %d units over NFS on port %d\n", len(e.manager.Units()), srv.Port())

		if mountPoint != "" {
			if err := export.Mount(srv.Port(), mountPoint); err != nil {
				return err
			}
			defer func() {
				if err := export.Unmount(mountPoint); err != nil {
					logger.Warn("Unmount failed", zap.String("mountpoint", mountPoint), zap.Error(err))
				}
			}()
			logger.Info("Mounted export", zap.String("mountpoint", mountPoint))
		}

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		logger.Info("Shutting down")
		return nil
	},
}
