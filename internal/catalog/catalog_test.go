package catalog_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sirfifer/vscode-wsl-manager/internal/catalog"
	"github.com/sirfifer/vscode-wsl-manager/internal/wslexec"
)

func registryServer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
}

func TestNewWithoutExistingFileUsesFallback(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "catalog.json")
	c := catalog.New(nil, path, "https://example.invalid/registry.json")
	list := c.List()
	require.NotEmpty(t, list)
	names := make([]string, 0, len(list))
	for _, d := range list {
		names = append(names, d.Name)
	}
	assert.Contains(t, names, "ubuntu")
}

func TestRefreshMergesAndPreservesLocalFields(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "catalog.json")
	c := catalog.New(nil, path, "")

	require.NoError(t, c.RecordLocal("ubuntu", "/store/distros/ubuntu.tar.gz", "deadbeef", ""))

	srv := registryServer(t, `{"Default":"ubuntu","Distributions":[{"Name":"ubuntu","FriendlyName":"Ubuntu","Amd64PackageUrl":"https://example/ubuntu.appx"}]}`)
	defer srv.Close()

	c2 := catalog.New(nil, path, srv.URL)
	list, err := c2.Refresh(context.Background(), true)
	require.NoError(t, err)

	var ubuntu catalog.Distro
	for _, d := range list {
		if d.Name == "ubuntu" {
			ubuntu = d
		}
	}
	assert.True(t, ubuntu.Available)
	assert.Equal(t, "/store/distros/ubuntu.tar.gz", ubuntu.LocalPath)
	assert.Equal(t, "deadbeef", ubuntu.ExpectedDigest)

	data, err := json.Marshal(list)
	require.NoError(t, err)
	var roundTrip []catalog.Distro
	require.NoError(t, json.Unmarshal(data, &roundTrip))
}

func TestDownloadLockSuppressesRefresh(t *testing.T) {
	t.Parallel()

	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		_, _ = w.Write([]byte(`{"Default":"ubuntu","Distributions":[]}`))
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "catalog.json")
	c := catalog.New(nil, path, srv.URL)
	c.SetDownloadLock(true)

	_, err := c.Refresh(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, 0, calls)
}

func TestIngestOnlineListingKeepsExistingEntries(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "catalog.json")
	c := catalog.New(nil, path, "")

	inv := wslexec.New()
	inv.WithRunFn(func(ctx context.Context, program string, argv []string) ([]byte, []byte, int, error) {
		out := "NAME                 FRIENDLY NAME\n" +
			"ubuntu               Ubuntu\n" +
			"kali-linux           Kali Linux Rolling Edition\n"
		return []byte(out), nil, 0, nil
	})

	list, err := c.IngestOnlineListing(context.Background(), inv)
	require.NoError(t, err)

	names := make(map[string]string, len(list))
	for _, d := range list {
		names[d.Name] = d.DisplayName
	}
	// "ubuntu" is already a fallback entry: its existing display name wins.
	assert.Equal(t, "Ubuntu", names["ubuntu"])
	// "kali-linux" is also a fallback entry with its own display name, so the
	// online listing must not overwrite it either.
	assert.Equal(t, "Kali Linux Rolling", names["kali-linux"])
}

func TestGetUnknownDistro(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "catalog.json")
	c := catalog.New(nil, path, "")
	_, err := c.Get("does-not-exist")
	require.Error(t, err)
}

func TestRemoveLocalClearsAvailability(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "catalog.json")
	c := catalog.New(nil, path, "")
	require.NoError(t, c.RecordLocal("alpine", "/store/distros/alpine.tar.gz", "abc123", ""))

	d, err := c.Get("alpine")
	require.NoError(t, err)
	assert.True(t, d.Available)

	require.NoError(t, c.RemoveLocal("alpine"))
	d, err = c.Get("alpine")
	require.NoError(t, err)
	assert.False(t, d.Available)
	assert.Empty(t, d.LocalPath)
}
