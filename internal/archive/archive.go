// Package archive sniffs a downloaded package's file magic and, for a zip
// container (an appx/appxbundle/.wsl file), extracts the inner rootfs tar.
// Everything else passes through unchanged.
package archive

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"

	"github.com/sirfifer/vscode-wsl-manager/internal/wslerr"
)

// Kind is the sniffed shape of an input file.
type Kind int

const (
	// KindUnknown could not be identified; it is treated as a raw tar.
	KindUnknown Kind = iota
	KindZip
	KindGzip
	KindXz
	KindTar
)

var innerRootfsPattern = regexp.MustCompile(`(?i)^(install|rootfs)[^/\\]*\.tar(\.[a-z0-9]+)?$`)

// Sniff identifies the shape of the file at path by reading its magic bytes.
func Sniff(path string) (Kind, error) {
	f, err := os.Open(path)
	if err != nil {
		return KindUnknown, err
	}
	defer f.Close()

	head := make([]byte, 262)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return KindUnknown, err
	}
	head = head[:n]

	switch {
	case len(head) >= 4 && head[0] == 0x50 && head[1] == 0x4B && head[2] == 0x03 && head[3] == 0x04:
		return KindZip, nil
	case len(head) >= 2 && head[0] == 0x1F && head[1] == 0x8B:
		return KindGzip, nil
	case len(head) >= 6 && head[0] == 0xFD && head[1] == 0x37 && head[2] == 0x7A && head[3] == 0x58 && head[4] == 0x5A && head[5] == 0x00:
		return KindXz, nil
	case len(head) >= 262 && string(head[257:262]) == "ustar":
		return KindTar, nil
	default:
		return KindUnknown, nil
	}
}

// NormalizeToTar sniffs inputPath and, if it is a zip container, extracts
// its inner rootfs tar into workdir, returning the path to the canonical
// tar. Non-zip inputs (gzip, xz, raw tar, or unidentified) pass through
// unchanged: WSL's --import accepts a gzip- or xz-compressed tar directly.
func NormalizeToTar(inputPath, workdir string) (string, string, error) {
	kind, err := Sniff(inputPath)
	if err != nil {
		return "", "", wslerr.Wrap(wslerr.KindInternal, err, "could not sniff archive")
	}

	if kind != KindZip {
		return inputPath, "", nil
	}

	extracted, chosen, err := extractInnerTarFromZip(inputPath, workdir)
	if err != nil {
		return "", "", err
	}
	return extracted, chosen, nil
}

// extractInnerTarFromZip extracts into workdir every entry whose basename
// matches install*.tar* or rootfs*.tar*, then picks the best candidate:
// install.tar.gz over install.tar over any other match, then the largest file.
// The chosen entry's original archive-relative name is returned so the
// caller can record it in the manifest's source detail (this package, open
// question on multi-arch appxbundles).
func extractInnerTarFromZip(inputPath, workdir string) (string, string, error) {
	r, err := zip.OpenReader(inputPath)
	if err != nil {
		return "", "", wslerr.Wrap(wslerr.KindArchiveNoRootfs, err, "could not open zip container")
	}
	defer r.Close()

	if err := os.MkdirAll(workdir, 0o750); err != nil {
		return "", "", wslerr.Wrap(wslerr.KindInternal, err, "could not create work directory")
	}

	type candidate struct {
		name      string
		extracted string
		size      int64
	}
	var candidates []candidate

	for _, f := range r.File {
		base := filepath.Base(f.Name)
		if !innerRootfsPattern.MatchString(base) {
			continue
		}
		dest := filepath.Join(workdir, filepath.Base(f.Name))
		if err := extractZipEntry(f, dest); err != nil {
			return "", "", wslerr.Wrap(wslerr.KindArchiveNoRootfs, err, "could not extract "+f.Name)
		}
		candidates = append(candidates, candidate{name: f.Name, extracted: dest, size: int64(f.UncompressedSize64)})
	}

	if len(candidates) == 0 {
		return "", "", wslerr.New(wslerr.KindArchiveNoRootfs, fmt.Sprintf("no install*.tar* or rootfs*.tar* entry found in %s", inputPath))
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		ri, rj := rank(candidates[i].name), rank(candidates[j].name)
		if ri != rj {
			return ri < rj
		}
		return candidates[i].size > candidates[j].size
	})

	return candidates[0].extracted, candidates[0].name, nil
}

// rank orders candidates: install.tar.gz first, then install.tar, then
// anything else matching the pattern (ties broken by size, largest wins).
func rank(name string) int {
	base := filepath.Base(name)
	switch {
	case regexp.MustCompile(`(?i)^install\.tar\.gz$`).MatchString(base):
		return 0
	case regexp.MustCompile(`(?i)^install\.tar$`).MatchString(base):
		return 1
	default:
		return 2
	}
}

func extractZipEntry(f *zip.File, dest string) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, rc)
	return err
}
