// Package distro orchestrates the HTTP downloader, the archive normalizer
// and the distro catalog to materialize a canonical distro tar on disk.
package distro

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/ubuntu/decorate"

	"github.com/sirfifer/vscode-wsl-manager/internal/archive"
	"github.com/sirfifer/vscode-wsl-manager/internal/catalog"
	"github.com/sirfifer/vscode-wsl-manager/internal/download"
	"github.com/sirfifer/vscode-wsl-manager/internal/validate"
	"github.com/sirfifer/vscode-wsl-manager/internal/wslerr"
)

// ErrUnknown is returned when the requested distro name has no catalog entry.
var ErrUnknown = errors.New("distro is unknown")

// Options configures a Download call.
type Options struct {
	OnProgress func(download.Progress)
	MaxRetries int
	Cancel     <-chan struct{}
}

// Downloader materializes catalog distros into the on-disk store.
type Downloader struct {
	log       *slog.Logger
	storeRoot string // {store}/distros
	cat       *catalog.Catalog
}

// New returns a Downloader writing canonical tars under storeRoot
// ({store}/distros) and recording availability in cat.
func New(l *slog.Logger, storeRoot string, cat *catalog.Catalog) *Downloader {
	return &Downloader{log: l, storeRoot: storeRoot, cat: cat}
}

// Download fetches, normalizes, verifies and records the named distro,
// returning its updated catalog entry. The download lock is held for the
// duration of the call (set before any filesystem effect, cleared on every
// exit path) so a concurrent catalog refresh cannot clobber availability.
func (d *Downloader) Download(ctx context.Context, name string, opts Options) (_ catalog.Distro, err error) {
	defer decorate.OnError(&err, "could not download distro %q", name)

	vName, err := validate.ValidateName(name)
	if err != nil {
		return catalog.Distro{}, err
	}
	name = string(vName)

	entry, err := d.cat.Get(name)
	if err != nil {
		return catalog.Distro{}, wslerr.Wrap(wslerr.KindDistroUnknown, fmt.Errorf("%w: %s", ErrUnknown, name), "distro not in catalog")
	}

	d.cat.SetDownloadLock(true)
	defer d.cat.SetDownloadLock(false)

	scratchDir := filepath.Join(d.storeRoot, ".scratch-"+name)
	if err := os.MkdirAll(scratchDir, 0o750); err != nil {
		return catalog.Distro{}, wslerr.Wrap(wslerr.KindInternal, err, "could not create scratch directory")
	}
	defer os.RemoveAll(scratchDir)

	scratchFile := filepath.Join(scratchDir, scratchName(entry.SourceURL))
	if _, err := download.Download(ctx, entry.SourceURL, scratchFile, download.Options{
		OnProgress: opts.OnProgress,
		MaxRetries: opts.MaxRetries,
		Cancel:     opts.Cancel,
	}); err != nil {
		return catalog.Distro{}, err
	}

	normalized, archiveEntry, err := archive.NormalizeToTar(scratchFile, scratchDir)
	if err != nil {
		return catalog.Distro{}, err
	}

	digest, err := sha256Of(normalized)
	if err != nil {
		return catalog.Distro{}, wslerr.Wrap(wslerr.KindInternal, err, "could not digest downloaded tar")
	}
	if entry.ExpectedDigest != "" && !strings.EqualFold(digest, entry.ExpectedDigest) {
		return catalog.Distro{}, wslerr.Digest(normalized, entry.ExpectedDigest, digest)
	}

	canonical := filepath.Join(d.storeRoot, name+canonicalExt(normalized))
	if err := os.MkdirAll(filepath.Dir(canonical), 0o750); err != nil {
		return catalog.Distro{}, wslerr.Wrap(wslerr.KindInternal, err, "could not create distro store directory")
	}
	if err := moveFile(normalized, canonical); err != nil {
		return catalog.Distro{}, wslerr.Wrap(wslerr.KindInternal, err, "could not finalize distro tar")
	}

	if err := d.cat.RecordLocal(name, canonical, digest, archiveEntry); err != nil {
		_ = os.Remove(canonical)
		return catalog.Distro{}, wslerr.Wrap(wslerr.KindInternal, err, "could not record distro as local")
	}

	return d.cat.Get(name)
}

// Remove deletes the canonical tar for name and clears its catalog entry.
func (d *Downloader) Remove(name string) (err error) {
	defer decorate.OnError(&err, "could not remove distro %q", name)

	entry, err := d.cat.Get(name)
	if err != nil {
		return wslerr.Wrap(wslerr.KindDistroUnknown, err, "distro not in catalog")
	}
	if entry.LocalPath != "" {
		if err := os.Remove(entry.LocalPath); err != nil && !os.IsNotExist(err) {
			return wslerr.Wrap(wslerr.KindInternal, err, "could not remove canonical tar")
		}
	}
	return d.cat.RemoveLocal(name)
}

func canonicalExt(normalized string) string {
	switch {
	case strings.HasSuffix(normalized, ".tar.gz"), strings.HasSuffix(normalized, ".tgz"):
		return ".tar.gz"
	case strings.HasSuffix(normalized, ".tar.xz"):
		return ".tar.xz"
	default:
		return ".tar"
	}
}

func scratchName(url string) string {
	base := filepath.Base(url)
	if base == "" || base == "." || base == "/" {
		return "package.bin"
	}
	return base
}

func sha256Of(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return os.Remove(src)
}
