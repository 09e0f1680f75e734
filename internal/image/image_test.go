package image_test

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sirfifer/vscode-wsl-manager/internal/catalog"
	"github.com/sirfifer/vscode-wsl-manager/internal/image"
	"github.com/sirfifer/vscode-wsl-manager/internal/wslerr"
	"github.com/sirfifer/vscode-wsl-manager/internal/wslexec"
)

func fixedNow() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }
func fixedID(id string) func() string { return func() string { return id } }

func newCatalogWithAvailable(t *testing.T, name, localPath string) *catalog.Catalog {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.json")
	c := catalog.New(nil, path, "")
	require.NoError(t, c.RecordLocal(name, localPath, "digest123", ""))
	return c
}

func TestCreateFromDistroSuccess(t *testing.T) {
	t.Parallel()

	cat := newCatalogWithAvailable(t, "alpine", "/store/distros/alpine.tar.gz")
	inv := wslexec.New()
	var importedArgs []string
	inv.WithRunFn(func(ctx context.Context, program string, argv []string) (stdout, stderr []byte, exitCode int, err error) {
		if len(argv) > 0 && argv[0] == "--import" {
			importedArgs = argv
		}
		return nil, nil, 0, nil
	})

	storeRoot := filepath.Join(t.TempDir(), "images")
	indexPath := filepath.Join(t.TempDir(), "images.json")
	mgr := image.New(nil, storeRoot, indexPath, inv, cat, fixedNow, fixedID("img-1"))

	got, err := mgr.CreateFromDistro(context.Background(), "alpine", "base", image.CreateOptions{EnableTerminal: true})
	require.NoError(t, err)
	assert.Equal(t, "base", got.Name)
	assert.Equal(t, image.ManifestPresent, got.ManifestPresent)
	assert.True(t, got.Enabled)
	require.NotEmpty(t, importedArgs)
	assert.Equal(t, "--import", importedArgs[0])
	assert.Equal(t, "base", importedArgs[1])
}

func TestCreateFromDistroUnknownDistro(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "catalog.json")
	cat := catalog.New(nil, path, "")

	inv := wslexec.New()
	inv.WithRunFn(func(ctx context.Context, program string, argv []string) (stdout, stderr []byte, exitCode int, err error) {
		return nil, nil, 0, nil
	})

	mgr := image.New(nil, filepath.Join(t.TempDir(), "images"), filepath.Join(t.TempDir(), "images.json"), inv, cat, fixedNow, fixedID("img-1"))
	// "gentoo" is absent from both the upstream registry (unreachable here)
	// and the built-in fallback table, so this must surface DISTRO_UNKNOWN
	// rather than DISTRO_UNAVAILABLE.
	_, err := mgr.CreateFromDistro(context.Background(), "gentoo", "base", image.CreateOptions{})
	require.Error(t, err)
	assert.Equal(t, wslerr.KindDistroUnknown, wslerr.KindOf(err))
}

func TestCreateFromDistroRejectsInjectionName(t *testing.T) {
	t.Parallel()

	cat := newCatalogWithAvailable(t, "alpine", "/store/distros/alpine.tar.gz")
	inv := wslexec.New()
	var spawned bool
	inv.WithRunFn(func(ctx context.Context, program string, argv []string) (stdout, stderr []byte, exitCode int, err error) {
		spawned = true
		return nil, nil, 0, nil
	})

	mgr := image.New(nil, filepath.Join(t.TempDir(), "images"), filepath.Join(t.TempDir(), "images.json"), inv, cat, fixedNow, fixedID("img-1"))
	_, err := mgr.CreateFromDistro(context.Background(), "alpine", "x; rm -rf /", image.CreateOptions{})
	require.Error(t, err)
	assert.Equal(t, wslerr.KindValidation, wslerr.KindOf(err))
	assert.False(t, spawned, "no subprocess should be spawned for an invalid name")
}

func TestCreateFromDistroAlreadyExists(t *testing.T) {
	t.Parallel()

	cat := newCatalogWithAvailable(t, "alpine", "/store/distros/alpine.tar.gz")
	inv := wslexec.New()
	inv.WithRunFn(func(ctx context.Context, program string, argv []string) (stdout, stderr []byte, exitCode int, err error) {
		return nil, nil, 0, nil
	})

	mgr := image.New(nil, filepath.Join(t.TempDir(), "images"), filepath.Join(t.TempDir(), "images.json"), inv, cat, fixedNow, fixedID("img-1"))
	_, err := mgr.CreateFromDistro(context.Background(), "alpine", "base", image.CreateOptions{})
	require.NoError(t, err)

	_, err = mgr.CreateFromDistro(context.Background(), "alpine", "base", image.CreateOptions{})
	require.Error(t, err)
	assert.Equal(t, wslerr.KindImageExists, wslerr.KindOf(err))
}

func TestListReconcilesAgainstLiveRegistrations(t *testing.T) {
	t.Parallel()

	cat := newCatalogWithAvailable(t, "alpine", "/store/distros/alpine.tar.gz")
	inv := wslexec.New()
	listOutput := "  NAME      STATE           VERSION\n* base      Running         2\n  legacy-1  Stopped         2\n"
	inv.WithRunFn(func(ctx context.Context, program string, argv []string) (stdout, stderr []byte, exitCode int, err error) {
		if len(argv) > 0 && argv[0] == "--list" {
			return []byte(listOutput), nil, 0, nil
		}
		return nil, nil, 0, nil
	})

	mgr := image.New(nil, filepath.Join(t.TempDir(), "images"), filepath.Join(t.TempDir(), "images.json"), inv, cat, fixedNow, fixedID("img-1"))
	_, err := mgr.CreateFromDistro(context.Background(), "alpine", "base", image.CreateOptions{})
	require.NoError(t, err)

	list, err := mgr.List(context.Background())
	require.NoError(t, err)

	names := make(map[string]image.Image, len(list))
	for _, img := range list {
		names[img.Name] = img
	}
	require.Contains(t, names, "base")
	require.Contains(t, names, "legacy-1")
	assert.Equal(t, image.ManifestUnknown, names["legacy-1"].ManifestPresent)
}

func TestListDropsEntriesNoLongerRegistered(t *testing.T) {
	t.Parallel()

	cat := newCatalogWithAvailable(t, "alpine", "/store/distros/alpine.tar.gz")
	inv := wslexec.New()
	inv.WithRunFn(func(ctx context.Context, program string, argv []string) (stdout, stderr []byte, exitCode int, err error) {
		if len(argv) > 0 && argv[0] == "--list" {
			return []byte("NAME STATE VERSION\n"), nil, 0, nil
		}
		return nil, nil, 0, nil
	})

	mgr := image.New(nil, filepath.Join(t.TempDir(), "images"), filepath.Join(t.TempDir(), "images.json"), inv, cat, fixedNow, fixedID("img-1"))
	_, err := mgr.CreateFromDistro(context.Background(), "alpine", "gone", image.CreateOptions{})
	require.NoError(t, err)

	list, err := mgr.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestDeleteImageRemovesFromIndex(t *testing.T) {
	t.Parallel()

	cat := newCatalogWithAvailable(t, "alpine", "/store/distros/alpine.tar.gz")
	inv := wslexec.New()
	inv.WithRunFn(func(ctx context.Context, program string, argv []string) (stdout, stderr []byte, exitCode int, err error) {
		return nil, nil, 0, nil
	})

	mgr := image.New(nil, filepath.Join(t.TempDir(), "images"), filepath.Join(t.TempDir(), "images.json"), inv, cat, fixedNow, fixedID("img-1"))
	_, err := mgr.CreateFromDistro(context.Background(), "alpine", "base", image.CreateOptions{})
	require.NoError(t, err)

	require.NoError(t, mgr.DeleteImage(context.Background(), "base"))

	_, err = mgr.UpdateProperties("base", nil, nil, nil, nil)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "base"))
}
