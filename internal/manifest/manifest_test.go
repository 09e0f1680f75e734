package manifest_test

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sirfifer/vscode-wsl-manager/internal/manifest"
	"github.com/sirfifer/vscode-wsl-manager/internal/wslexec"
)

func fixedID(id string) manifest.IDFunc {
	return func() string { return id }
}

func TestBuildForNewImage(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	m := manifest.BuildForNewImage(now, fixedID("img-1"), "base", manifest.Source{
		Kind: manifest.SourceDistro, Ref: "alpine", Digest: "deadbeef",
	})

	assert.Equal(t, 1, m.ManifestVersion)
	assert.Equal(t, "img-1", m.ImageID)
	assert.Empty(t, m.Lineage)
	require.Len(t, m.Layers, 1)
	assert.Equal(t, manifest.LayerDistro, m.Layers[0].Kind)
}

func TestBuildForCloneAppendsLineageAndLayer(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	parent := manifest.BuildForNewImage(now, fixedID("base-id"), "base", manifest.Source{
		Kind: manifest.SourceDistro, Ref: "alpine",
	})

	later := now.Add(time.Hour)
	child := manifest.BuildForClone(later, fixedID("proj1-id"), "proj1", parent)

	require.Len(t, child.Lineage, 1)
	assert.Equal(t, "base", child.Lineage[0].Name)
	assert.Equal(t, "base-id", child.ParentID)
	require.Len(t, child.Layers, 2)
	assert.Equal(t, manifest.LayerClone, child.Layers[len(child.Layers)-1].Kind)
}

func TestWriteIntoUsesStdinPipedCatOneLiner(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	m := manifest.BuildForNewImage(now, fixedID("img-1"), "base", manifest.Source{
		Kind: manifest.SourceDistro, Ref: "alpine", Digest: "deadbeef",
	})

	var sawWriteCommand bool
	inv := wslexec.New()
	inv.WithRunFn(func(ctx context.Context, program string, argv []string) (stdout, stderr []byte, exitCode int, err error) {
		joined := strings.Join(argv, " ")
		if strings.Contains(joined, "cat > /etc/vscode-wsl-manager.json") {
			sawWriteCommand = true
		}
		return nil, nil, 0, nil
	})

	eng := manifest.New(inv)
	require.NoError(t, eng.WriteInto(context.Background(), "base", m))
	assert.True(t, sawWriteCommand)
}

func TestReadFromParsesExistingManifest(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	m := manifest.BuildForNewImage(now, fixedID("img-1"), "base", manifest.Source{
		Kind: manifest.SourceDistro, Ref: "alpine", Digest: "deadbeef",
	})
	data, err := json.Marshal(m)
	require.NoError(t, err)

	inv := wslexec.New()
	inv.WithRunFn(func(ctx context.Context, program string, argv []string) (stdout, stderr []byte, exitCode int, err error) {
		joined := strings.Join(argv, " ")
		switch {
		case strings.Contains(joined, "test -f"):
			return []byte("EXISTS\n"), nil, 0, nil
		case strings.Contains(joined, "cat /etc/vscode-wsl-manager.json"):
			return data, nil, 0, nil
		}
		return nil, nil, 0, nil
	})

	eng := manifest.New(inv)
	got, err := eng.ReadFrom(context.Background(), "base")
	require.NoError(t, err)
	assert.Equal(t, m.ImageID, got.ImageID)
	assert.Equal(t, m.Source.Ref, got.Source.Ref)
}

func TestReadFromNotFound(t *testing.T) {
	t.Parallel()

	inv := wslexec.New()
	inv.WithRunFn(func(ctx context.Context, program string, argv []string) (stdout, stderr []byte, exitCode int, err error) {
		return []byte("NOT_FOUND\n"), nil, 0, nil
	})

	eng := manifest.New(inv)
	_, err := eng.ReadFrom(context.Background(), "nope")
	require.ErrorIs(t, err, manifest.ErrNotFound)
}

func TestAppendLayerInto(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	base := manifest.BuildForNewImage(now, fixedID("img-1"), "base", manifest.Source{
		Kind: manifest.SourceDistro, Ref: "alpine",
	})
	existing, err := json.Marshal(base)
	require.NoError(t, err)

	var sawWriteCommand bool
	inv := wslexec.New()
	inv.WithRunFn(func(ctx context.Context, program string, argv []string) (stdout, stderr []byte, exitCode int, err error) {
		joined := strings.Join(argv, " ")
		switch {
		case strings.Contains(joined, "test -f"):
			return []byte("EXISTS\n"), nil, 0, nil
		case strings.Contains(joined, "cat /etc/vscode-wsl-manager.json"):
			return existing, nil, 0, nil
		case strings.Contains(joined, "cat > /etc/vscode-wsl-manager.json"):
			sawWriteCommand = true
			return nil, nil, 0, nil
		}
		return nil, nil, 0, nil
	})

	eng := manifest.New(inv)
	err = eng.AppendLayerInto(context.Background(), "base", manifest.Layer{
		Kind: manifest.LayerSettings, ID: "layer-2", At: now,
	})
	require.NoError(t, err)
	assert.True(t, sawWriteCommand)
}
