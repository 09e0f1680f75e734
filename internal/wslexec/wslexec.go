// Package wslexec is the uniform, argv-array interface used to spawn the
// WSL CLI and a shell interpreter. Arguments are always passed as a slice;
// no component may build a shell command string from untrusted fragments.
package wslexec

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"golang.org/x/text/encoding/unicode"

	"github.com/sirfifer/vscode-wsl-manager/internal/constants"
	"github.com/sirfifer/vscode-wsl-manager/internal/wslerr"
)

// Result is the outcome of a subprocess invocation.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Invoker runs WSL CLI commands and shell scripts with a uniform, testable
// surface. The zero value is ready to use.
type Invoker struct {
	// ShortTimeout bounds ordinary WSL CLI calls. Defaults to
	// constants.ShortCommandTimeoutSeconds when zero.
	ShortTimeout time.Duration
	// LongTimeout bounds --import/--export. Defaults to
	// constants.LongCommandTimeoutSeconds when zero.
	LongTimeout time.Duration

	// runFn is swapped out in tests to avoid spawning real processes.
	runFn func(ctx context.Context, program string, argv []string) (stdout, stderr []byte, exitCode int, err error)
}

// New returns an Invoker configured with the package's default timeouts.
func New() *Invoker {
	return &Invoker{
		ShortTimeout: constants.ShortCommandTimeoutSeconds * time.Second,
		LongTimeout:  constants.LongCommandTimeoutSeconds * time.Second,
	}
}

// WithRunFn overrides the real process-spawning path with fn, so callers in
// this and other packages can exercise every command built on top of an
// Invoker (the image manager, the manifest engine, the distro catalog) without
// spawning a real wsl.exe. Not for production use.
func (iv *Invoker) WithRunFn(fn func(ctx context.Context, program string, argv []string) (stdout, stderr []byte, exitCode int, err error)) {
	iv.runFn = fn
}

func (iv *Invoker) shortTimeout() time.Duration {
	if iv.ShortTimeout > 0 {
		return iv.ShortTimeout
	}
	return constants.ShortCommandTimeoutSeconds * time.Second
}

func (iv *Invoker) longTimeout() time.Duration {
	if iv.LongTimeout > 0 {
		return iv.LongTimeout
	}
	return constants.LongCommandTimeoutSeconds * time.Second
}

// ExecWSL runs `wsl.exe <argv...>` with the short timeout.
func (iv *Invoker) ExecWSL(ctx context.Context, argv []string) (Result, error) {
	return iv.run(ctx, iv.shortTimeout(), "wsl.exe", argv)
}

// ExecWSLLong runs `wsl.exe <argv...>` with the extended import/export timeout.
func (iv *Invoker) ExecWSLLong(ctx context.Context, argv []string) (Result, error) {
	return iv.run(ctx, iv.longTimeout(), "wsl.exe", argv)
}

// ExecWSLIn runs argvInside as root inside the named distro:
// `wsl.exe -d name -u root -- argvInside...`.
func (iv *Invoker) ExecWSLIn(ctx context.Context, name string, argvInside []string) (Result, error) {
	argv := append([]string{"-d", name, "-u", "root", "--"}, argvInside...)
	return iv.run(ctx, iv.shortTimeout(), "wsl.exe", argv)
}

// ExecWSLInStdin is like ExecWSLIn but pipes stdin into the inner command,
// used by the manifest engine to write the provenance JSON without relying
// on a platform-specific UNC path into the image's filesystem.
func (iv *Invoker) ExecWSLInStdin(ctx context.Context, name string, argvInside []string, stdin []byte) (Result, error) {
	argv := append([]string{"-d", name, "-u", "root", "--"}, argvInside...)
	return iv.runStdin(ctx, iv.shortTimeout(), "wsl.exe", argv, stdin)
}

// ExecSystem runs an arbitrary program with the given argv and timeout.
func (iv *Invoker) ExecSystem(ctx context.Context, timeout time.Duration, program string, argv []string) (Result, error) {
	if timeout <= 0 {
		timeout = iv.shortTimeout()
	}
	return iv.run(ctx, timeout, program, argv)
}

// ExecPowerShell runs script via `powershell.exe -NoProfile -NonInteractive -Command script`.
func (iv *Invoker) ExecPowerShell(ctx context.Context, script string) (Result, error) {
	argv := []string{"-NoProfile", "-NonInteractive", "-Command", script}
	return iv.run(ctx, iv.shortTimeout(), "powershell.exe", argv)
}

func (iv *Invoker) run(ctx context.Context, timeout time.Duration, program string, argv []string) (Result, error) {
	return iv.runStdin(ctx, timeout, program, argv, nil)
}

func (iv *Invoker) runStdin(ctx context.Context, timeout time.Duration, program string, argv []string, stdin []byte) (Result, error) {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	stdoutB, stderrB, exitCode, err := iv.exec(cctx, program, argv, stdin)
	stdout := decodeOutput(stdoutB)
	stderr := decodeOutput(stderrB)

	if cctx.Err() != nil {
		if cctx.Err() == context.DeadlineExceeded {
			return Result{}, wslerr.New(wslerr.KindTimeout, fmt.Sprintf("%s %v timed out after %s", program, argv, timeout))
		}
		return Result{}, wslerr.New(wslerr.KindCancelled, fmt.Sprintf("%s %v was cancelled", program, argv))
	}

	if err != nil || exitCode != 0 {
		return Result{Stdout: stdout, Stderr: stderr, ExitCode: exitCode}, wslerr.FromSubprocess(program, argv, exitCode, stderr)
	}

	return Result{Stdout: stdout, Stderr: stderr, ExitCode: exitCode}, nil
}

// exec is the real process-spawning path; swappable via runFn for tests.
func (iv *Invoker) exec(ctx context.Context, program string, argv []string, stdin []byte) (stdout, stderr []byte, exitCode int, err error) {
	if iv.runFn != nil {
		stdout, stderr, exitCode, err = iv.runFn(ctx, program, argv)
		return stdout, stderr, exitCode, err
	}

	var outBuf, errBuf bytes.Buffer
	c := exec.CommandContext(ctx, program, argv...)
	c.Stdout = &outBuf
	c.Stderr = &errBuf
	if stdin != nil {
		c.Stdin = bytes.NewReader(stdin)
	}

	runErr := c.Run()
	code := 0
	if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			code = exitErr.ExitCode()
		} else {
			return outBuf.Bytes(), errBuf.Bytes(), -1, runErr
		}
	}
	return outBuf.Bytes(), errBuf.Bytes(), code, nil
}

// decodeOutput detects UTF-16LE (BOM, or alternating NULs in the first 16
// bytes, the shape the WSL CLI emits on some Windows code paths) and
// re-decodes accordingly; otherwise treats the bytes as UTF-8.
func decodeOutput(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	if isUTF16LE(b) {
		return decodeUTF16LE(b)
	}
	return string(b)
}

func isUTF16LE(b []byte) bool {
	if len(b) >= 2 && b[0] == 0xFF && b[1] == 0xFE {
		return true
	}
	n := len(b)
	if n > 16 {
		n = 16
	}
	if n < 4 || n%2 != 0 {
		return false
	}
	nulAtOdd := 0
	for i := 1; i < n; i += 2 {
		if b[i] == 0 {
			nulAtOdd++
		}
	}
	return nulAtOdd >= n/2/2+1
}

// decodeUTF16LE decodes b as UTF-16LE using the same transform the GoWSL
// binding layer relies on for Win32 API text, tolerating an odd trailing
// byte and an optional BOM rather than failing the whole output.
func decodeUTF16LE(b []byte) string {
	if len(b)%2 != 0 {
		b = b[:len(b)-1]
	}
	out, err := unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewDecoder().Bytes(b)
	if err != nil {
		return string(b)
	}
	return string(out)
}

// listEntryRegex matches "key: value" lines of the colon-delimited detail
// views some WSL CLI commands emit (get_info probes, `wsl --status`).
var listEntryRegex = regexp.MustCompile(`(?m)^\s*(\S+)\s*:[^\S\n]*(.*?)\s*$`)
var listReplaceRegex = regexp.MustCompile(`\r?\n\s*`)
var listSplitRegex = regexp.MustCompile(`\r?\n\r?\n`)

// ParseListFormat parses `key: value` sections separated by a blank line,
// optionally keeping only keys present in filter (nil keeps everything).
func ParseListFormat(text string, filter map[string]struct{}, log *slog.Logger) []map[string]string {
	sections := listSplitRegex.Split(text, -1)
	out := make([]map[string]string, 0, len(sections))

	for _, section := range sections {
		if section == "" {
			continue
		}
		entries := listEntryRegex.FindAllStringSubmatch(section, -1)
		if len(entries) == 0 {
			if log != nil {
				log.Warn("list output has malformed section", "section", section)
			}
			continue
		}
		v := make(map[string]string, len(entries))
		for _, e := range entries {
			if filter != nil {
				if _, ok := filter[e[1]]; !ok {
					continue
				}
			}
			v[e[1]] = listReplaceRegex.ReplaceAllString(e[2], "")
		}
		out = append(out, v)
	}
	return out
}

// OnlineEntry is one row of `wsl --list --online`'s NAME / FRIENDLY NAME
// table, used to supplement the distro catalog with names the upstream JSON
// registry does not carry.
type OnlineEntry struct {
	Name         string
	FriendlyName string
}

var onlineListLineRegex = regexp.MustCompile(`^(\S+)\s{2,}(.+)$`)

// ParseOnlineListing parses `wsl --list --online`'s fixed-width, two-column
// table, skipping the leading banner lines and the NAME/FRIENDLY NAME header.
func ParseOnlineListing(text string) []OnlineEntry {
	var out []OnlineEntry
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, "\r")
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		upper := strings.ToUpper(trimmed)
		if strings.Contains(upper, "NAME") && strings.Contains(upper, "FRIENDLY") {
			continue // header row
		}
		if strings.HasPrefix(upper, "THE FOLLOWING") || strings.HasPrefix(upper, "INSTALL USING") {
			continue // banner lines
		}
		m := onlineListLineRegex.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		out = append(out, OnlineEntry{Name: strings.TrimSpace(m[1]), FriendlyName: strings.TrimSpace(m[2])})
	}
	return out
}
