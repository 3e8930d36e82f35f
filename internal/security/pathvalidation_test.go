package security

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidatePathWithinDirectory(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "images"), 0o755))

	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"file in dir", filepath.Join(dir, "a.png"), false},
		{"nested new file", filepath.Join(dir, "images", "b.png"), false},
		{"dir itself", dir, false},
		{"parent escape", filepath.Join(dir, "..", "x.png"), true},
		{"deep escape", filepath.Join(dir, "images", "..", "..", "etc"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePathWithinDirectory(tt.path, dir)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidatePathWithinDirectory_Symlink(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	outside := t.TempDir()
	link := filepath.Join(dir, "evil")
	if err := os.Symlink(outside, link); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	err := ValidatePathWithinDirectory(filepath.Join(link, "new.jpg"), dir)
	assert.Error(t, err)
}

func TestSafeJoin(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	p, err := SafeJoin(dir, "20250301-093000-ab12c_annotated.png")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "20250301-093000-ab12c_annotated.png"), p)

	for _, bad := range []string{"", ".", "..", "../x", "a/b", `a\b`, "x..y"} {
		_, err := SafeJoin(dir, bad)
		assert.Errorf(t, err, "SafeJoin(%q) should fail", bad)
	}
}

func TestSanitizeFilename(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"":                  "unknown",
		"fish tank.mp4":     "fish_tank.mp4",
		"../../etc/passwd":  "etc_passwd",
		"a   b":             "a_b",
		"ikan_mas-01.JPG":   "ikan_mas-01.JPG",
		"???":               "unknown",
	}
	for in, want := range tests {
		assert.Equal(t, want, SanitizeFilename(in), "input %q", in)
	}
}
