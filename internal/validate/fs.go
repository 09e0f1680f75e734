package validate

import "os"

// mkdirAllFn and statFn are indirections over the os package so tests can
// exercise failure paths without touching the real filesystem.
var (
	mkdirAllFn = func(path string) error { return os.MkdirAll(path, 0o750) }
	statFn     = os.Stat
)
