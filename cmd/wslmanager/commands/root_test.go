package commands_test

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sirfifer/vscode-wsl-manager/cmd/wslmanager/commands"
	"github.com/sirfifer/vscode-wsl-manager/internal/constants"
)

func TestUsageError(t *testing.T) {
	app, err := commands.New()
	require.NoError(t, err)

	app.RootCmd().SilenceUsage = true
	assert.False(t, app.UsageError())

	app.RootCmd().SilenceUsage = false
	assert.True(t, app.UsageError())
}

func TestRootCmd(t *testing.T) {
	app, err := commands.New()
	require.NoError(t, err)

	cmd := app.RootCmd()

	assert.NotNil(t, cmd, "returned root cmd should not be nil")
	assert.Equal(t, constants.CmdName, cmd.Name())
}

// TestCatalogListSmoke exercises the CLI end to end against a throwaway
// store: no upstream registry call is needed since "catalog list" only
// reads the in-memory snapshot (the built-in fallback table on first run).
func TestCatalogListSmoke(t *testing.T) {
	app, err := commands.New()
	require.NoError(t, err)

	var out bytes.Buffer
	app.RootCmd().SetOut(&out)
	app.RootCmd().SetErr(&out)
	app.SetArgs([]string{"--store-path", t.TempDir(), "catalog", "list"})

	require.NoError(t, app.Run())

	var got []map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	assert.NotEmpty(t, got, "fallback catalog should be non-empty on first run")
}

func TestImageLifecycleValidationRejectsBadName(t *testing.T) {
	app, err := commands.New()
	require.NoError(t, err)

	var out bytes.Buffer
	app.RootCmd().SetOut(&out)
	app.RootCmd().SetErr(&out)
	app.SetArgs([]string{"--store-path", t.TempDir(), "image", "create", "ubuntu", "x; rm -rf /"})

	err = app.Run()
	require.Error(t, err)
}
