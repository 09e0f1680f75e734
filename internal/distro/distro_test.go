package distro_test

import (
	"archive/zip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sirfifer/vscode-wsl-manager/internal/catalog"
	"github.com/sirfifer/vscode-wsl-manager/internal/distro"
	"github.com/sirfifer/vscode-wsl-manager/internal/wslerr"
)

func newTestCatalog(t *testing.T, name, url string) *catalog.Catalog {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.json")
	// seed a single entry pointing at our test server by refreshing against
	// a throwaway registry server that reports it.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"Default":"` + name + `","Distributions":[{"Name":"` + name + `","FriendlyName":"` + name + `","Amd64PackageUrl":"` + url + `"}]}`))
	}))
	t.Cleanup(srv.Close)
	c2 := catalog.New(nil, path, srv.URL)
	_, err := c2.Refresh(context.Background(), true)
	require.NoError(t, err)
	return c2
}

func TestDownloadPlainTarGz(t *testing.T) {
	t.Parallel()

	payload := []byte{0x1F, 0x8B, 0x08, 0, 0, 0, 0, 0, 0, 0xFF, 'h', 'i'}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	cat := newTestCatalog(t, "alpine", srv.URL+"/alpine.tar.gz")
	storeRoot := filepath.Join(t.TempDir(), "distros")
	d := distro.New(nil, storeRoot, cat)

	got, err := d.Download(context.Background(), "alpine", distro.Options{})
	require.NoError(t, err)
	assert.True(t, got.Available)
	assert.FileExists(t, got.LocalPath)
	assert.Equal(t, filepath.Join(storeRoot, "alpine.tar.gz"), got.LocalPath)

	entries, err := os.ReadDir(storeRoot)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "scratch directory must be cleaned up")
}

func TestDownloadZipExtractsInnerTar(t *testing.T) {
	t.Parallel()

	inner := []byte{0x1F, 0x8B, 0x08, 0, 0, 0, 0, 0, 0, 0xFF, 'r', 'o', 'o', 't', 'f', 's'}

	zipPath := filepath.Join(t.TempDir(), "bundle.appx")
	f, err := os.Create(zipPath)
	require.NoError(t, err)
	w := zip.NewWriter(f)
	fw, err := w.Create("install.tar.gz")
	require.NoError(t, err)
	_, err = fw.Write(inner)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, f.Close())
	zipBytes, err := os.ReadFile(zipPath)
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(zipBytes)
	}))
	defer srv.Close()

	cat := newTestCatalog(t, "ubuntu-22.04", srv.URL+"/bundle.appxbundle")
	storeRoot := filepath.Join(t.TempDir(), "distros")
	d := distro.New(nil, storeRoot, cat)

	got, err := d.Download(context.Background(), "ubuntu-22.04", distro.Options{})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(storeRoot, "ubuntu-22.04.tar.gz"), got.LocalPath)

	data, err := os.ReadFile(got.LocalPath)
	require.NoError(t, err)
	assert.Equal(t, inner, data)
}

func TestDownloadDigestMismatchLeavesNoCanonicalFile(t *testing.T) {
	t.Parallel()

	payload := []byte("some tar bytes")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "catalog.json")
	regSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"Distributions":[{"Name":"debian","FriendlyName":"debian","Amd64PackageUrl":"` + srv.URL + `/debian.tar"}]}`))
	}))
	defer regSrv.Close()
	c2 := catalog.New(nil, path, regSrv.URL)
	_, err := c2.Refresh(context.Background(), true)
	require.NoError(t, err)

	// Seed a wrong expected digest: RecordLocal sets both ExpectedDigest and
	// Available=true; RemoveLocal then clears Available/LocalPath but leaves
	// the (wrong) ExpectedDigest in place for Download to check against.
	wrongDigest := hex.EncodeToString(sha256.Sum256([]byte("not-the-real-digest"))[:])
	require.NoError(t, c2.RecordLocal("debian", "", wrongDigest, ""))
	require.NoError(t, c2.RemoveLocal("debian"))

	storeRoot := filepath.Join(t.TempDir(), "distros")
	d := distro.New(nil, storeRoot, c2)
	_, dlErr := d.Download(context.Background(), "debian", distro.Options{})
	require.Error(t, dlErr)
	assert.Equal(t, wslerr.KindIntegrityFailed, wslerr.KindOf(dlErr))

	entry, err := c2.Get("debian")
	require.NoError(t, err)
	assert.False(t, entry.Available)
	assert.Empty(t, entry.LocalPath)

	entries, err := os.ReadDir(storeRoot)
	if err == nil {
		for _, e := range entries {
			assert.NotEqual(t, "debian.tar", e.Name())
		}
	}
}

func TestDownloadUnknownDistro(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "catalog.json")
	c := catalog.New(nil, path, "")
	d := distro.New(nil, filepath.Join(t.TempDir(), "distros"), c)

	_, err := d.Download(context.Background(), "does-not-exist", distro.Options{})
	require.Error(t, err)
	assert.Equal(t, wslerr.KindDistroUnknown, wslerr.KindOf(err))
}
