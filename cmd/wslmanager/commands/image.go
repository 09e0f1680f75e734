package commands

import (
	"github.com/spf13/cobra"

	"github.com/sirfifer/vscode-wsl-manager/internal/image"
)

func installImageCmd(a *App) {
	imageCmd := &cobra.Command{
		Use:   "image",
		Short: "Create, clone, inspect and destroy WSL images",
	}

	var (
		displayName string
		description string
		enable      bool
	)

	createCmd := &cobra.Command{
		Use:   "create DISTRO NAME",
		Short: "Create a new image from a downloaded distro",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			got, err := a.images.CreateFromDistro(cmd.Context(), args[0], args[1], image.CreateOptions{
				DisplayName:    displayName,
				Description:    description,
				EnableTerminal: enable,
			})
			if err != nil {
				return err
			}
			if err := a.reproject(cmd.Context()); err != nil {
				return err
			}
			return printJSON(cmd, got)
		},
	}
	createCmd.Flags().StringVar(&displayName, "display-name", "", "human-readable name")
	createCmd.Flags().StringVar(&description, "description", "", "free-form description")
	createCmd.Flags().BoolVar(&enable, "enable", true, "enable the terminal profile for this image")

	cloneCmd := &cobra.Command{
		Use:   "clone SRC NAME",
		Short: "Clone an existing image",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			got, err := a.images.CloneImage(cmd.Context(), args[0], args[1], image.CloneOptions{
				DisplayName:    displayName,
				Description:    description,
				EnableTerminal: enable,
			})
			if err != nil {
				return err
			}
			if err := a.reproject(cmd.Context()); err != nil {
				return err
			}
			return printJSON(cmd, got)
		},
	}
	cloneCmd.Flags().StringVar(&displayName, "display-name", "", "human-readable name")
	cloneCmd.Flags().StringVar(&description, "description", "", "free-form description")
	cloneCmd.Flags().BoolVar(&enable, "enable", true, "enable the terminal profile for this image")

	var digest string
	importCmd := &cobra.Command{
		Use:   "import TAR NAME",
		Short: "Import an arbitrary tar as a new image",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			got, err := a.images.ImportTar(cmd.Context(), args[0], args[1], digest, image.CreateOptions{
				DisplayName:    displayName,
				Description:    description,
				EnableTerminal: enable,
			})
			if err != nil {
				return err
			}
			if err := a.reproject(cmd.Context()); err != nil {
				return err
			}
			return printJSON(cmd, got)
		},
	}
	importCmd.Flags().StringVar(&displayName, "display-name", "", "human-readable name")
	importCmd.Flags().StringVar(&description, "description", "", "free-form description")
	importCmd.Flags().BoolVar(&enable, "enable", true, "enable the terminal profile for this image")
	importCmd.Flags().StringVar(&digest, "digest", "", "expected sha256 digest of the tar, recorded in the manifest")

	exportCmd := &cobra.Command{
		Use:   "export NAME OUT_TAR",
		Short: "Export an image's filesystem to a tar file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.images.ExportImage(cmd.Context(), args[0], args[1])
		},
	}

	deleteCmd := &cobra.Command{
		Use:   "delete NAME",
		Short: "Unregister and delete an image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.images.DeleteImage(cmd.Context(), args[0]); err != nil {
				return err
			}
			return a.reproject(cmd.Context())
		},
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List images, reconciled against live WSL registrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			got, err := a.images.List(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, got)
		},
	}

	infoCmd := &cobra.Command{
		Use:   "info NAME",
		Short: "Show an image's metadata plus best-effort OS/kernel/memory info",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			got, err := a.images.GetInfo(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, got)
		},
	}

	var (
		enableVal  bool
		setEnabled bool
		tags       []string
	)
	setCmd := &cobra.Command{
		Use:   "set NAME",
		Short: "Update an image's display name, description, enabled bit or tags",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var dn, desc *string
			var en *bool
			if cmd.Flags().Changed("display-name") {
				dn = &displayName
			}
			if cmd.Flags().Changed("description") {
				desc = &description
			}
			if setEnabled {
				en = &enableVal
			}
			var newTags []string
			if cmd.Flags().Changed("tags") {
				newTags = tags
			}
			got, err := a.images.UpdateProperties(args[0], dn, desc, en, newTags)
			if err != nil {
				return err
			}
			if en != nil {
				if err := a.reproject(cmd.Context()); err != nil {
					return err
				}
			}
			return printJSON(cmd, got)
		},
	}
	setCmd.Flags().StringVar(&displayName, "display-name", "", "new display name")
	setCmd.Flags().StringVar(&description, "description", "", "new description")
	setCmd.Flags().BoolVar(&enableVal, "enabled", true, "new enabled state")
	setCmd.Flags().BoolVar(&setEnabled, "set-enabled", false, "apply --enabled")
	setCmd.Flags().StringSliceVar(&tags, "tags", nil, "new comma-separated tag list")

	imageCmd.AddCommand(createCmd, cloneCmd, importCmd, exportCmd, deleteCmd, listCmd, infoCmd, setCmd)
	a.cmd.AddCommand(imageCmd)
}
