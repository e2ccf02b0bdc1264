package cmd

import (
	"fmt"

	"github.com/ohler55/ojg/oj"
	"github.com/spf13/cobra"
)

func init() {
	addSourceFlags(listCmd)
	rootCmd.AddCommand(listCmd)
}

var listCmd = &cobra.Command{
	Use:   "list [manifest.json]",
	Short: "Synthesize a manifest and print each unit's content as JSON",
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

		deployErr := e.manager.DeployAll(cmd.Context(), manifest)

		units := make([]any, 0, len(manifest.Units))
		for _, u := range e.manager.Units() {
			items := make([]any, 0)
			all := u.Items()
			for _, key := range u.Keys() {
				it := all[key]
				items = append(items, map[string]any{
					"key":       key,
					"mime_type": it.MIMEType(),
					"servable":  it.Servable(),
				})
			}
			warnings := make([]any, 0)
			for _, w := range u.Warnings() {
				warnings = append(warnings, w.Error())
			}
			units = append(units, map[string]any{
				"name":         u.Name,
				"context_root": u.ContextRoot,
				"state":        u.State().String(),
				"enabled":      u.Enabled(),
				"items":        items,
				"warnings":     warnings,
			})
		}
		out := map[string]any{"version": manifest.Version, "units": units}
		if deployErr != nil {
			out["error"] = deployErr.Error()
		}
		fmt.Fprintln(cmd.OutOrStdout(), oj.JSON(out, &oj.Options{Indent: 2, Sort: true}))
		return nil
	},
}
