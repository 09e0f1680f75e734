// Package commands contains the cobra sub-commands for the wslmanager CLI.
package commands

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sirfifer/vscode-wsl-manager/internal/catalog"
	"github.com/sirfifer/vscode-wsl-manager/internal/cliutil"
	"github.com/sirfifer/vscode-wsl-manager/internal/constants"
	"github.com/sirfifer/vscode-wsl-manager/internal/distro"
	"github.com/sirfifer/vscode-wsl-manager/internal/image"
	"github.com/sirfifer/vscode-wsl-manager/internal/manifest"
	"github.com/sirfifer/vscode-wsl-manager/internal/profile"
	"github.com/sirfifer/vscode-wsl-manager/internal/wslexec"
)

// App represents the wslmanager CLI application.
type App struct {
	cmd   *cobra.Command
	viper *viper.Viper

	config cliutil.Config

	newIDFunc manifest.IDFunc
	nowFunc   func() time.Time

	cat      *catalog.Catalog
	dl       *distro.Downloader
	images   *image.Manager
	profiles *profile.Projector
}

// reproject reloads the current image set and republishes terminal
// profiles. Called after any operation that mutates the image index or its
// enabled bit, per the manager's control flow linking H to I.
func (a *App) reproject(ctx context.Context) error {
	imgs, err := a.images.List(ctx)
	if err != nil {
		return err
	}
	return a.profiles.Publish(imgs)
}

type options struct {
	newIDFunc manifest.IDFunc
	nowFunc   func() time.Time
}

// Option overrides an App default; used by tests to pin time and ID generation.
type Option func(*options)

// WithNewID overrides the image-id generator.
func WithNewID(f manifest.IDFunc) Option { return func(o *options) { o.newIDFunc = f } }

// WithNow overrides the clock.
func WithNow(f func() time.Time) Option { return func(o *options) { o.nowFunc = f } }

// New registers every sub-command and returns a ready App.
func New(args ...Option) (*App, error) {
	opts := options{
		newIDFunc: defaultNewID,
		nowFunc:   time.Now,
	}
	for _, opt := range args {
		opt(&opts)
	}

	a := &App{newIDFunc: opts.newIDFunc, nowFunc: opts.nowFunc}
	a.viper = viper.New()
	a.cmd = &cobra.Command{
		Use:           constants.CmdName,
		Short:         "Manage WSL distro downloads and image lifecycle",
		SilenceErrors: true,
		Version:       constants.Version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			a.cmd.SilenceUsage = true
			cliutil.SetVerbosity(a.config.Verbose)
			if err := cliutil.InitViperConfig(constants.CmdName, a.cmd, a.viper); err != nil {
				return err
			}
			if err := a.viper.Unmarshal(&a.config); err != nil {
				return fmt.Errorf("unable to decode configuration into struct: %w", err)
			}
			cliutil.SetVerbosity(a.config.Verbose)
			return a.initStores()
		},
	}
	a.cmd.CompletionOptions.HiddenDefaultCmd = true

	a.cmd.PersistentFlags().CountVarP(&a.config.Verbose, "verbose", "v", "issue INFO (-v), DEBUG (-vv)")
	a.cmd.PersistentFlags().StringVar(&a.config.StorePath, "store-path", "", "override the manager's store directory")
	a.cmd.PersistentFlags().StringVar(&a.config.RegistryURL, "registry-url", cliutil.DefaultRegistryURL, "upstream distribution registry URL")
	cliutil.InstallConfigFlag(a.cmd)

	installCatalogCmd(a)
	installDistroCmd(a)
	installImageCmd(a)

	if err := a.viper.BindPFlags(a.cmd.PersistentFlags()); err != nil {
		return nil, err
	}

	return a, nil
}

func defaultNewID() string {
	return uuid.New().String()
}

// initStores wires up the catalog, downloader and image manager against the
// resolved store path. Called from PersistentPreRunE so every sub-command
// sees a consistent, already-configured set of dependencies.
func (a *App) initStores() error {
	storePath, err := cliutil.ResolveStorePath(a.config)
	if err != nil {
		return err
	}

	distrosDir := filepath.Join(storePath, constants.DistrosDirName)
	imagesDir := filepath.Join(storePath, constants.ImagesDirName)
	catalogPath := filepath.Join(distrosDir, constants.CatalogFileName)
	indexPath := filepath.Join(storePath, constants.ImageIndexFileName)

	log := slog.Default()
	a.cat = catalog.New(log, catalogPath, a.config.RegistryURL)
	a.dl = distro.New(log, distrosDir, a.cat)
	a.images = image.New(log, imagesDir, indexPath, wslexec.New(), a.cat, a.nowFunc, a.newIDFunc)

	profilesPath := filepath.Join(storePath, constants.TerminalProfilesFileName)
	a.profiles = profile.New(log, profile.NewFilePublisher(log, profilesPath))
	return nil
}

// Run executes the command tree.
func (a *App) Run() error {
	return a.cmd.Execute()
}

// RootCmd exposes the underlying cobra command for tests.
func (a *App) RootCmd() *cobra.Command {
	return a.cmd
}

// UsageError reports whether the last Run failure was a usage/parsing error.
func (a *App) UsageError() bool {
	return !a.cmd.SilenceUsage
}

// SetArgs forwards to the underlying cobra command, for tests.
func (a *App) SetArgs(args []string) {
	a.cmd.SetArgs(args)
}
