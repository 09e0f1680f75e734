// Package validate sanitizes every externally supplied name and filesystem
// path before it reaches a subprocess or a file API
package validate

import (
	"path/filepath"
	"regexp"
	"strings"

	"github.com/sirfifer/vscode-wsl-manager/internal/constants"
	"github.com/sirfifer/vscode-wsl-manager/internal/wslerr"
)

// Name is a validated identifier safe to pass to a subprocess or use as a
// filesystem path component.
type Name string

// Path is a validated, canonicalized filesystem path.
type Path string

var namePattern = regexp.MustCompile(constants.NamePattern)

// shellMetacharacters lists characters rejected anywhere in a name or path,
// regardless of the regexp above (defense in depth: argv-array invocation
// already prevents shell injection, but a name containing these is almost
// certainly a mistake or an attack attempt).
const shellMetacharacters = ";&|`$()<>'\""

var reservedDeviceNames = map[string]struct{}{
	"CON": {}, "PRN": {}, "AUX": {}, "NUL": {},
	"COM1": {}, "COM2": {}, "COM3": {}, "COM4": {}, "COM5": {}, "COM6": {}, "COM7": {}, "COM8": {}, "COM9": {},
	"LPT1": {}, "LPT2": {}, "LPT3": {}, "LPT4": {}, "LPT5": {}, "LPT6": {}, "LPT7": {}, "LPT8": {}, "LPT9": {},
}

// ValidateName checks s against the name grammar of invariant (I5):
// ^[A-Za-z0-9][A-Za-z0-9_.-]{0,63}$, with no embedded NUL, no line
// terminators, no shell metacharacters, and not a Windows reserved device
// name (case-insensitively).
func ValidateName(s string) (Name, error) {
	if strings.ContainsRune(s, 0) {
		return "", wslerr.New(wslerr.KindValidation, "name must not contain a NUL byte")
	}
	if strings.ContainsAny(s, "\r\n") {
		return "", wslerr.New(wslerr.KindValidation, "name must not contain a line terminator")
	}
	if strings.ContainsAny(s, shellMetacharacters) {
		return "", wslerr.New(wslerr.KindValidation, "name must not contain shell metacharacters")
	}
	if !namePattern.MatchString(s) {
		return "", wslerr.New(wslerr.KindValidation, "name must match "+constants.NamePattern)
	}
	if _, reserved := reservedDeviceNames[strings.ToUpper(s)]; reserved {
		return "", wslerr.New(wslerr.KindValidation, "name is a reserved Windows device name")
	}
	return Name(s), nil
}

// PathOptions configures ValidateTarPath and ValidateDirPath.
type PathOptions struct {
	// MustExist requires the path to already exist on disk.
	MustExist bool
	// CreateIfMissing creates the directory (and parents) if it is absent.
	CreateIfMissing bool
	// AllowedRoot, when non-empty, requires the canonicalized path to remain
	// under this root; anything that escapes it (e.g. via "..") is rejected.
	AllowedRoot string
}

// ValidateTarPath validates a path expected to name a tar(-like) file.
func ValidateTarPath(s string, opts PathOptions) (Path, error) {
	return validatePath(s, opts, mkdirNone)
}

// ValidateDirPath validates a path expected to name a directory, optionally
// creating it.
func ValidateDirPath(s string, opts PathOptions) (Path, error) {
	mode := mkdirNone
	if opts.CreateIfMissing {
		mode = mkdirAll
	}
	return validatePath(s, opts, mode)
}

type mkdirMode int

const (
	mkdirNone mkdirMode = iota
	mkdirAll
)

func validatePath(s string, opts PathOptions, mode mkdirMode) (Path, error) {
	if s == "" {
		return "", wslerr.New(wslerr.KindValidation, "path must not be empty")
	}
	if strings.ContainsRune(s, 0) {
		return "", wslerr.New(wslerr.KindValidation, "path must not contain a NUL byte")
	}
	if strings.ContainsAny(s, "\r\n") {
		return "", wslerr.New(wslerr.KindValidation, "path must not contain a line terminator")
	}
	if strings.ContainsAny(s, shellMetacharacters) {
		return "", wslerr.New(wslerr.KindValidation, "path must not contain shell metacharacters")
	}
	if hasURIScheme(s) {
		return "", wslerr.New(wslerr.KindValidation, "path must not be an absolute URI")
	}
	for _, comp := range strings.FieldsFunc(s, func(r rune) bool { return r == '/' || r == '\\' }) {
		if comp == ".." {
			return "", wslerr.New(wslerr.KindValidation, "path must not contain a '..' component")
		}
	}

	clean := filepath.Clean(s)
	abs, err := filepath.Abs(clean)
	if err != nil {
		return "", wslerr.Wrap(wslerr.KindValidation, err, "path could not be resolved")
	}

	if opts.AllowedRoot != "" {
		rootAbs, err := filepath.Abs(opts.AllowedRoot)
		if err != nil {
			return "", wslerr.Wrap(wslerr.KindValidation, err, "allowed root could not be resolved")
		}
		rel, err := filepath.Rel(rootAbs, abs)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return "", wslerr.New(wslerr.KindValidation, "path escapes its allowed root")
		}
	}

	if mode == mkdirAll {
		if err := mkdirAllFn(abs); err != nil {
			return "", wslerr.Wrap(wslerr.KindValidation, err, "could not create directory")
		}
	} else if opts.MustExist {
		if _, err := statFn(abs); err != nil {
			return "", wslerr.Wrap(wslerr.KindValidation, err, "path does not exist")
		}
	}

	return Path(abs), nil
}

func hasURIScheme(s string) bool {
	idx := strings.Index(s, "://")
	if idx <= 0 {
		return false
	}
	scheme := s[:idx]
	for _, r := range scheme {
		if !(r == '+' || r == '-' || r == '.' ||
			(r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')) {
			return false
		}
	}
	return true
}

// SanitizeForDisplay is a thin re-export so callers only need to import
// validate for name/path handling and wslerr for error surfacing.
func SanitizeForDisplay(s string) string { return wslerr.SanitizeForDisplay(s) }
