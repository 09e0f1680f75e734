// Package catalog fetches and caches the upstream WSL distribution list,
// merging it with a built-in fallback table and tracking which distros are
// locally available.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ubuntu/decorate"

	"github.com/sirfifer/vscode-wsl-manager/internal/constants"
	"github.com/sirfifer/vscode-wsl-manager/internal/jsonstore"
	"github.com/sirfifer/vscode-wsl-manager/internal/wslexec"
)

// ErrNotFound is returned by Get when no distro with the given name exists.
var ErrNotFound = errors.New("distro not found in catalog")

// Distro is one entry in the catalog: an immutable template once materialized.
type Distro struct {
	Name            string `json:"name"`
	DisplayName     string `json:"display_name"`
	Version         string `json:"version"`
	Description     string `json:"description"`
	Architecture    string `json:"architecture"`
	SourceURL       string `json:"source_url"`
	ExpectedSize    int64  `json:"expected_size,omitempty"`
	ExpectedDigest  string `json:"expected_digest,omitempty"`
	LocalPath       string `json:"local_path,omitempty"`
	Available       bool   `json:"available"`
	// ArchiveEntry is the archive-relative name of the inner tar chosen by
	// archive.NormalizeToTar when the source was a multi-file container
	// (e.g. an appxbundle zip), empty for plain tar sources.
	ArchiveEntry string `json:"archive_entry,omitempty"`
}

// file is the on-disk shape of catalog.json .
type file struct {
	FetchedAt     time.Time `json:"fetched_at"`
	Default       string    `json:"default"`
	Distributions []Distro  `json:"distributions"`
}

// upstreamRegistry mirrors the JSON the upstream registry serves .
type upstreamRegistry struct {
	Default       string `json:"Default"`
	Distributions []struct {
		Name           string `json:"Name"`
		FriendlyName   string `json:"FriendlyName"`
		Amd64PackageURL string `json:"Amd64PackageUrl"`
		Arm64PackageURL string `json:"Arm64PackageUrl"`
		Amd64WslURL    string `json:"Amd64WslUrl"`
		Arm64WslURL    string `json:"Arm64WslUrl"`
	} `json:"Distributions"`
}

// Catalog owns the on-disk catalog.json and the cached registry snapshot.
type Catalog struct {
	log         *slog.Logger
	path        string
	registryURL string
	httpClient  *http.Client

	mu          sync.Mutex
	data        file
	downloadLock bool
}

// New returns a Catalog backed by path (conventionally
// {store}/distros/catalog.json), fetching from registryURL on refresh.
func New(l *slog.Logger, path, registryURL string) *Catalog {
	c := &Catalog{
		log:         l,
		path:        path,
		registryURL: registryURL,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		data:        file{Distributions: builtinFallback()},
	}
	if jsonstore.Exists(path) {
		var f file
		if err := jsonstore.ReadJSON(path, &f); err == nil {
			c.data = f
		} else if l != nil {
			l.Warn("could not read existing catalog, starting from fallback", "error", err)
		}
	}
	return c
}

// List returns the current in-memory snapshot, most recently fetched or
// loaded from disk, without triggering a refresh.
func (c *Catalog) List() []Distro {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Distro, len(c.data.Distributions))
	copy(out, c.data.Distributions)
	return out
}

// Get returns a single distro by name, or ErrNotFound.
func (c *Catalog) Get(name string) (Distro, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, d := range c.data.Distributions {
		if d.Name == name {
			return d, nil
		}
	}
	return Distro{}, fmt.Errorf("%s: %w", name, ErrNotFound)
}

// SetDownloadLock suppresses Refresh while a download is in flight (P3):
// concurrent refreshes must not clobber availability bookkeeping.
func (c *Catalog) SetDownloadLock(held bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.downloadLock = held
}

// Refresh fetches the upstream registry and merges it with the existing
// cache, unless a download lock is held or the cache is within TTL and force
// is false. Local-only fields (LocalPath, Available, ExpectedDigest) survive
// the merge for any distro the upstream registry still lists (P2).
func (c *Catalog) Refresh(ctx context.Context, force bool) (_ []Distro, err error) {
	defer decorate.OnError(&err, "could not refresh catalog")

	c.mu.Lock()
	if c.downloadLock {
		defer c.mu.Unlock()
		if c.log != nil {
			c.log.Debug("refresh suppressed: download lock held")
		}
		return c.snapshotLocked(), nil
	}
	fresh := !force && time.Since(c.data.FetchedAt) < constants.CatalogTTLSeconds*time.Second && len(c.data.Distributions) > 0
	c.mu.Unlock()
	if fresh {
		return c.List(), nil
	}

	reg, err := c.fetchUpstream(ctx)
	if err != nil {
		if c.log != nil {
			c.log.Warn("upstream registry fetch failed, keeping cached catalog", "error", err)
		}
		return c.List(), nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = c.merge(reg)
	c.data.FetchedAt = time.Now()
	if err := jsonstore.WriteJSON(c.log, c.path, c.data); err != nil {
		return nil, err
	}
	return c.snapshotLocked(), nil
}

func (c *Catalog) snapshotLocked() []Distro {
	out := make([]Distro, len(c.data.Distributions))
	copy(out, c.data.Distributions)
	return out
}

func (c *Catalog) fetchUpstream(ctx context.Context) (upstreamRegistry, error) {
	var reg upstreamRegistry
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.registryURL, nil)
	if err != nil {
		return reg, err
	}
	req.Header.Set("User-Agent", constants.UserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return reg, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return reg, fmt.Errorf("registry returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return reg, err
	}
	if err := json.Unmarshal(body, &reg); err != nil {
		return reg, err
	}
	return reg, nil
}

// merge combines the upstream registry with the existing local state,
// preserving local-only fields, then adds any built-in fallback entries the
// upstream registry omitted.
func (c *Catalog) merge(reg upstreamRegistry) file {
	existing := make(map[string]Distro, len(c.data.Distributions))
	for _, d := range c.data.Distributions {
		existing[d.Name] = d
	}

	merged := make([]Distro, 0, len(reg.Distributions))
	seen := make(map[string]struct{})
	for _, u := range reg.Distributions {
		d := Distro{
			Name:         u.Name,
			DisplayName:  u.FriendlyName,
			Architecture: "x64",
			SourceURL:    firstNonEmpty(u.Amd64PackageURL, u.Amd64WslURL, u.Arm64PackageURL, u.Arm64WslURL),
		}
		if u.Arm64PackageURL != "" || u.Arm64WslURL != "" {
			if u.Amd64PackageURL != "" || u.Amd64WslURL != "" {
				d.Architecture = "both"
			} else {
				d.Architecture = "arm64"
			}
		}
		if prev, ok := existing[u.Name]; ok {
			d.LocalPath = prev.LocalPath
			d.Available = prev.Available
			d.ExpectedDigest = prev.ExpectedDigest
			d.ExpectedSize = prev.ExpectedSize
			d.ArchiveEntry = prev.ArchiveEntry
			if d.DisplayName == "" {
				d.DisplayName = prev.DisplayName
			}
		}
		merged = append(merged, d)
		seen[u.Name] = struct{}{}
	}

	for _, fb := range builtinFallback() {
		if _, ok := seen[fb.Name]; ok {
			continue
		}
		if prev, ok := existing[fb.Name]; ok {
			fb.LocalPath = prev.LocalPath
			fb.Available = prev.Available
			fb.ExpectedDigest = prev.ExpectedDigest
		}
		merged = append(merged, fb)
	}

	def := reg.Default
	if def == "" {
		def = c.data.Default
	}
	return file{Default: def, Distributions: merged}
}

// IngestOnlineListing merges `wsl --list --online`'s best-effort NAME/
// FRIENDLY NAME table into the catalog, the same way Refresh merges the
// upstream JSON registry: any name neither upstream nor in the built-in
// fallback table is added with no source URL (display-only until a package
// URL is known some other way), and every existing entry's local-only
// fields (LocalPath, Available, ExpectedDigest) are left untouched. A
// failure here (WSL CLI missing, timeout) is returned to the caller but must
// never be treated as fatal to an overall refresh — the online listing is
// strictly supplemental.
func (c *Catalog) IngestOnlineListing(ctx context.Context, exec *wslexec.Invoker) (_ []Distro, err error) {
	defer decorate.OnError(&err, "could not ingest online distro listing")

	res, execErr := exec.ExecWSL(ctx, []string{"--list", "--online"})
	if execErr != nil {
		return nil, execErr
	}
	entries := wslexec.ParseOnlineListing(res.Stdout)

	c.mu.Lock()
	defer c.mu.Unlock()

	known := make(map[string]struct{}, len(c.data.Distributions))
	for _, d := range c.data.Distributions {
		known[strings.ToLower(d.Name)] = struct{}{}
	}

	changed := false
	for _, e := range entries {
		// `wsl --list --online` prints its NAME column in whatever case
		// Microsoft's registry assigned it ("Ubuntu", "openSUSE-Leap-15.6");
		// the catalog's own name is always the lowercase identifier.
		name := strings.ToLower(e.Name)
		if _, ok := known[name]; ok {
			continue
		}
		c.data.Distributions = append(c.data.Distributions, Distro{
			Name:         name,
			DisplayName:  e.FriendlyName,
			Architecture: "x64",
		})
		known[name] = struct{}{}
		changed = true
	}

	if changed {
		if err := jsonstore.WriteJSON(c.log, c.path, c.data); err != nil {
			return nil, err
		}
	}
	return c.snapshotLocked(), nil
}

// RecordLocal records that name is now available at path with the given
// digest and, when the source was a multi-file container, the archive entry
// that was extracted to produce it, persisting the update.
func (c *Catalog) RecordLocal(name, path, digest, archiveEntry string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	found := false
	for i := range c.data.Distributions {
		if c.data.Distributions[i].Name == name {
			c.data.Distributions[i].LocalPath = path
			c.data.Distributions[i].ExpectedDigest = digest
			c.data.Distributions[i].Available = true
			c.data.Distributions[i].ArchiveEntry = archiveEntry
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	return jsonstore.WriteJSON(c.log, c.path, c.data)
}

// RemoveLocal clears the local availability of name, persisting the update.
func (c *Catalog) RemoveLocal(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	found := false
	for i := range c.data.Distributions {
		if c.data.Distributions[i].Name == name {
			c.data.Distributions[i].LocalPath = ""
			c.data.Distributions[i].Available = false
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	return jsonstore.WriteJSON(c.log, c.path, c.data)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// builtinFallback is consulted when the upstream registry is unreachable or
// omits an entry a prior run already knew about. Names are lowercase
// identifiers, matching the catalog's own name invariant; DisplayName carries
// the human-facing capitalization instead.
func builtinFallback() []Distro {
	return []Distro{
		{Name: "ubuntu", DisplayName: "Ubuntu", Architecture: "both", SourceURL: "https://aka.ms/wslubuntu"},
		{Name: "debian", DisplayName: "Debian GNU/Linux", Architecture: "both", SourceURL: "https://aka.ms/wsl-debian-gnulinux"},
		{Name: "alpine", DisplayName: "Alpine WSL", Architecture: "both", SourceURL: "https://aka.ms/wslalpine"},
		{Name: "kali-linux", DisplayName: "Kali Linux Rolling", Architecture: "both", SourceURL: "https://aka.ms/wsl-kali-linux-new"},
	}
}
