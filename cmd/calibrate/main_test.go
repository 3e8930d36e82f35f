package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/tankwatch/internal/measure"
)

func det(length, conf float64) measure.Detection {
	return measure.Detection{
		Head:       measure.Point{X: 0, Y: 0},
		Tail:       measure.Point{X: length, Y: 0},
		Confidence: conf,
	}
}

func TestSampleLengths(t *testing.T) {
	got := sampleLengths([]measure.Detection{det(100, 0.9), det(50, 0.69), det(80, 0.70)}, 0.70)
	assert.Equal(t, []float64{100, 80}, got)
}

func TestPxPerCm(t *testing.T) {
	f, err := pxPerCm([]float64{96, 104}, 8.0)
	require.NoError(t, err)
	assert.InDelta(t, 12.5, f, 1e-9)

	_, err = pxPerCm(nil, 8.0)
	assert.ErrorIs(t, err, errNoSamples)

	_, err = pxPerCm([]float64{100}, 0)
	assert.Error(t, err)
}

func TestImageFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.PNG", "a.jpg", "c.jpeg", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.jpg"), 0o755))

	files, err := imageFiles(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "a.jpg"),
		filepath.Join(dir, "b.PNG"),
		filepath.Join(dir, "c.jpeg"),
	}, files)
}
