package validate_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sirfifer/vscode-wsl-manager/internal/validate"
	"github.com/sirfifer/vscode-wsl-manager/internal/wslerr"
)

func TestValidateName(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		in      string
		wantErr bool
	}{
		"simple lowercase":       {in: "alpine"},
		"with version dots":      {in: "ubuntu-22.04"},
		"with underscore":        {in: "my_image"},
		"max length":             {in: repeat("a", 64)},
		"empty":                  {in: "", wantErr: true},
		"too long":                {in: repeat("a", 65), wantErr: true},
		"leading dash":           {in: "-alpine", wantErr: true},
		"leading dot":            {in: ".alpine", wantErr: true},
		"embedded NUL":           {in: "alpine\x00", wantErr: true},
		"embedded newline":       {in: "alpine\nrm -rf /", wantErr: true},
		"semicolon injection":    {in: "x; rm -rf /", wantErr: true},
		"backtick injection":     {in: "x`whoami`", wantErr: true},
		"dollar injection":       {in: "x$(whoami)", wantErr: true},
		"pipe injection":         {in: "x|cat", wantErr: true},
		"reserved device name":   {in: "CON", wantErr: true},
		"reserved lowercase":     {in: "nul", wantErr: true},
		"reserved comport":       {in: "COM1", wantErr: true},
		"space rejected":         {in: "my image", wantErr: true},
		"parent traversal chars": {in: "..", wantErr: true},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			got, err := validate.ValidateName(tc.in)
			if tc.wantErr {
				require.Error(t, err)
				assert.Equal(t, wslerr.KindValidation, wslerr.KindOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.in, string(got))
		})
	}
}

func TestValidateDirPath(t *testing.T) {
	t.Parallel()

	root := t.TempDir()

	t.Run("creates missing directory under allowed root", func(t *testing.T) {
		t.Parallel()
		target := filepath.Join(root, "sub", "images")
		p, err := validate.ValidateDirPath(target, validate.PathOptions{CreateIfMissing: true, AllowedRoot: root})
		require.NoError(t, err)
		assert.DirExists(t, string(p))
	})

	t.Run("rejects traversal outside allowed root", func(t *testing.T) {
		t.Parallel()
		_, err := validate.ValidateDirPath(filepath.Join(root, "..", "escape"), validate.PathOptions{AllowedRoot: root})
		require.Error(t, err)
		assert.Equal(t, wslerr.KindValidation, wslerr.KindOf(err))
	})

	t.Run("rejects dotdot component regardless of root", func(t *testing.T) {
		t.Parallel()
		_, err := validate.ValidateDirPath("a/../../b", validate.PathOptions{})
		require.Error(t, err)
	})

	t.Run("rejects absolute URI scheme", func(t *testing.T) {
		t.Parallel()
		_, err := validate.ValidateDirPath("https://example.com/evil", validate.PathOptions{})
		require.Error(t, err)
	})

	t.Run("must exist fails on absent path", func(t *testing.T) {
		t.Parallel()
		_, err := validate.ValidateDirPath(filepath.Join(root, "missing"), validate.PathOptions{MustExist: true})
		require.Error(t, err)
	})
}

func repeat(s string, n int) string {
	out := make([]byte, 0, n*len(s))
	for i := 0; i < n; i++ {
		out = append(out, s...)
	}
	return string(out)
}
