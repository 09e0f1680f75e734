package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sirfifer/vscode-wsl-manager/internal/wslexec"
)

func installCatalogCmd(a *App) {
	catalogCmd := &cobra.Command{
		Use:   "catalog",
		Short: "Inspect and refresh the distro catalog",
	}

	var force, online bool
	refreshCmd := &cobra.Command{
		Use:   "refresh",
		Short: "Refresh the catalog from the upstream registry",
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := a.cat.Refresh(cmd.Context(), force)
			if err != nil {
				return err
			}
			if online {
				// Supplemental and strictly best-effort: a missing wsl.exe or a
				// timeout here must not fail an otherwise-successful refresh.
				if merged, err := a.cat.IngestOnlineListing(cmd.Context(), wslexec.New()); err == nil {
					list = merged
				} else {
					fmt.Fprintf(cmd.ErrOrStderr(), "online listing skipped: %v\n", err)
				}
			}
			return printJSON(cmd, list)
		},
	}
	refreshCmd.Flags().BoolVar(&force, "force", false, "bypass the 24h TTL and refresh unconditionally")
	refreshCmd.Flags().BoolVar(&online, "online", false, "also merge `wsl --list --online` as a best-effort supplemental source")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List the cached catalog without refreshing",
		RunE: func(cmd *cobra.Command, args []string) error {
			return printJSON(cmd, a.cat.List())
		},
	}

	catalogCmd.AddCommand(refreshCmd, listCmd)
	a.cmd.AddCommand(catalogCmd)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("could not encode output: %w", err)
	}
	return nil
}
