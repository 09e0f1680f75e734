// Package constants defines the constants used across the application and
// derives the default store path from the user's home directory.
package constants

import (
	"fmt"
	"os"
	"path/filepath"
)

// Version is the version of the application. Overridden at link time.
var Version = "Dev"

const (
	// CmdName is the name of the command line tool, and the env var prefix.
	CmdName = "wslmanager"

	// StoreDirName is the name of the root store folder under the user's home.
	StoreDirName = ".vscode-wsl-manager"

	// DistrosDirName is the folder holding cached, immutable distro tars.
	DistrosDirName = "distros"

	// ImagesDirName is the folder holding WSL import targets, one per image.
	ImagesDirName = "images"

	// CacheDirName is the folder holding the last upstream registry snapshot.
	CacheDirName = "cache"

	// CatalogFileName is the basename of the distro catalog file.
	CatalogFileName = "catalog.json"

	// ImageIndexFileName is the basename of the image index file.
	ImageIndexFileName = "images.json"

	// DistributionsCacheFileName is the basename of the cached upstream registry snapshot.
	DistributionsCacheFileName = "distributions.json"

	// TerminalProfilesFileName is the basename of the published terminal-profile document.
	TerminalProfilesFileName = "terminal-profiles.json"

	// ManifestPath is the fixed path of the provenance manifest inside an image.
	ManifestPath = "/etc/vscode-wsl-manager.json"

	// ManifestVersion is the current manifest schema version.
	ManifestVersion = 1

	// CatalogTTLSeconds is how long a cached catalog is considered fresh.
	CatalogTTLSeconds = 24 * 60 * 60

	// ShortCommandTimeoutSeconds is the default timeout for short WSL CLI invocations.
	ShortCommandTimeoutSeconds = 30

	// LongCommandTimeoutSeconds is the timeout used for --import/--export.
	LongCommandTimeoutSeconds = 5 * 60

	// HeadProbeTimeoutSeconds is the timeout for a HEAD size probe.
	HeadProbeTimeoutSeconds = 5

	// MaxDownloadRetries is the default retry budget for a distro download.
	MaxDownloadRetries = 3

	// MaxRedirects is the maximum number of HTTP redirects followed.
	MaxRedirects = 10

	// StderrTailLimit bounds how much of a failed subprocess's stderr is kept.
	StderrTailLimit = 4 * 1024

	// UserAgent identifies the tool to the upstream registry and distro hosts.
	UserAgent = "vscode-wsl-manager/" + "dev"
)

// NamePattern is the allowed shape of any user-supplied name (distro or image).
const NamePattern = `^[A-Za-z0-9][A-Za-z0-9_.-]{0,63}$`

// DefaultStorePath returns {home}/.vscode-wsl-manager, reading USERPROFILE then HOME.
func DefaultStorePath() (string, error) {
	home := os.Getenv("USERPROFILE")
	if home == "" {
		home = os.Getenv("HOME")
	}
	if home == "" {
		return "", fmt.Errorf("could not determine user home directory: neither USERPROFILE nor HOME is set")
	}
	return filepath.Join(home, StoreDirName), nil
}
