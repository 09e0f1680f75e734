package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sirfifer/vscode-wsl-manager/internal/distro"
	"github.com/sirfifer/vscode-wsl-manager/internal/download"
)

func installDistroCmd(a *App) {
	distroCmd := &cobra.Command{
		Use:   "distro",
		Short: "Download and manage cached distro templates",
	}

	downloadCmd := &cobra.Command{
		Use:   "download NAME",
		Short: "Download and verify a distro's canonical tar",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			got, err := a.dl.Download(cmd.Context(), args[0], distro.Options{
				OnProgress: func(p download.Progress) {
					fmt.Fprintf(cmd.ErrOrStderr(), "\r%s: %.0f%%", args[0], p.Percent)
				},
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s\n", got.Name, got.LocalPath)
			return nil
		},
	}

	removeCmd := &cobra.Command{
		Use:   "remove NAME",
		Short: "Remove a distro's canonical tar and clear its local availability",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.dl.Remove(args[0])
		},
	}

	distroCmd.AddCommand(downloadCmd, removeCmd)
	a.cmd.AddCommand(distroCmd)
}
