package report

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/tankwatch/internal/decision"
	"github.com/banshee-data/tankwatch/internal/fsutil"
)

func TestArtifactStore_PathsAndResolve(t *testing.T) {
	root := t.TempDir()
	s := NewArtifactStore(root, nil)
	require.NoError(t, s.EnsureDirs())
	for _, k := range Kinds {
		assert.DirExists(t, filepath.Join(root, string(k)))
	}

	p, err := s.Path(KindImages, AnnotatedImageName("run1"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "images", "run1_annotated.png"), p)
	require.NoError(t, os.WriteFile(p, []byte("png"), 0o644))

	got, err := s.Resolve("images", "run1_annotated.png")
	require.NoError(t, err)
	assert.Equal(t, p, got)
	assert.Equal(t, "/artifacts/images/run1_annotated.png", URL(KindImages, "run1_annotated.png"))

	for _, tc := range []struct{ kind, name string }{
		{"images", "missing.png"},
		{"secrets", "run1_annotated.png"},
		{"images", "../videos/x.mp4"},
		{"images", ".."},
		{"images", ""},
	} {
		_, err := s.Resolve(tc.kind, tc.name)
		assert.True(t, errors.Is(err, ErrArtifactNotFound), "%s/%s: %v", tc.kind, tc.name, err)
	}
}

func TestUploadName(t *testing.T) {
	name := UploadName(`C:\Users\fish\tank photo (1).JPG`)
	assert.Regexp(t, `^[0-9a-f]{8}_tank_photo_1_.JPG$`, name)

	assert.True(t, strings.HasSuffix(UploadName("../../etc/passwd"), "_passwd"))
	assert.True(t, strings.HasSuffix(UploadName(".."), "_upload"))
	assert.NotEqual(t, UploadName("a.mp4"), UploadName("a.mp4"))
}

func TestWriteCSV(t *testing.T) {
	fs := fsutil.NewMemoryFileSystem()
	records := []decision.Record{
		{RunID: "r1", Frame: 0, FishID: 1, Confidence: 0.91234, LengthPx: 120.456, LengthCm: 9.35},
		{RunID: "r1", Frame: 4, FishID: 2, Confidence: 0.7, LengthPx: 200, LengthCm: 15.524},
	}

	require.NoError(t, WriteCSV(fs, "/out/r1.csv", records, decision.ModeImage))
	data, err := fs.ReadFile("/out/r1.csv")
	require.NoError(t, err)
	assert.Equal(t, "run_id,fish_id,confidence,length_px,length_cm\n"+
		"r1,1,0.9123,120.46,9.35\n"+
		"r1,2,0.7000,200.00,15.52\n", string(data))

	require.NoError(t, WriteCSV(fs, "/out/r1v.csv", records, decision.ModeVideo))
	data, err = fs.ReadFile("/out/r1v.csv")
	require.NoError(t, err)
	assert.Equal(t, "run_id,frame,fish_id,length_px,length_cm\n"+
		"r1,0,1,120.46,9.35\n"+
		"r1,4,2,200.00,15.52\n", string(data))
}

func TestWriteCSV_Empty(t *testing.T) {
	fs := fsutil.NewMemoryFileSystem()
	require.NoError(t, WriteCSV(fs, "/out/empty.csv", nil, decision.ModeImage))
	data, err := fs.ReadFile("/out/empty.csv")
	require.NoError(t, err)
	assert.Equal(t, "run_id,fish_id,confidence,length_px,length_cm\n", string(data))
}

func TestLengthHistogram(t *testing.T) {
	_, err := LengthHistogram("empty", nil)
	assert.ErrorIs(t, err, ErrNoData)

	png, err := LengthHistogram("r1", []decision.Record{{LengthCm: 18}, {LengthCm: 21.5}, {LengthCm: 26}})
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(png, []byte("\x89PNG")))
}

func TestRunsChart(t *testing.T) {
	var buf bytes.Buffer
	err := RunsChart(&buf, []decision.Summary{
		{RunID: "20250101-000000-aaaaa", NumFish: 3, AvgLengthCm: 19.5},
		{RunID: "20250102-000000-bbbbb", NumFish: 4, AvgLengthCm: 21.25},
	})
	require.NoError(t, err)
	html := buf.String()
	assert.Contains(t, html, "20250102-000000-bbbbb")
	assert.Contains(t, html, "avg length (cm)")
}
