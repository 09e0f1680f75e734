// Command wslmanager downloads WSL distro templates and manages the
// lifecycle of WSL images built from them.
package main

import (
	"errors"
	"log/slog"
	"os"

	"github.com/sirfifer/vscode-wsl-manager/cmd/wslmanager/commands"
	"github.com/sirfifer/vscode-wsl-manager/internal/wslerr"
)

func main() {
	slog.SetLogLoggerLevel(slog.LevelWarn)

	a, err := commands.New()
	if err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}

	os.Exit(run(a))
}

type app interface {
	Run() error
	UsageError() bool
}

func run(a app) int {
	err := a.Run()
	if err == nil {
		return 0
	}

	slog.Error(err.Error())

	if a.UsageError() {
		return wslerr.KindValidation.ExitCode()
	}

	var wErr *wslerr.Error
	if errors.As(err, &wErr) {
		return wErr.Kind.ExitCode()
	}
	return wslerr.KindInternal.ExitCode()
}
