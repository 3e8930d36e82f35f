package frames

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/tankwatch/internal/measure"
)

func TestBlank(t *testing.T) {
	t.Parallel()

	f := Blank(640, 480)
	assert.Equal(t, measure.Size{Width: 640, Height: 480}, f.Size())

	img, err := f.Image()
	require.NoError(t, err)
	r, g, b, a := img.At(10, 10).RGBA()
	assert.Equal(t, []uint32{0, 0, 0, 0xffff}, []uint32{r, g, b, a})
}

func TestImageFrame_CloneIsIndependent(t *testing.T) {
	t.Parallel()

	src := image.NewRGBA(image.Rect(0, 0, 4, 4))
	f := FromImage(src)
	c := f.Clone()

	src.Set(1, 1, color.White)
	img, _ := c.Image()
	_, _, _, a := img.At(1, 1).RGBA()
	assert.Zero(t, a, "clone must not see writes to the original")

	require.NoError(t, f.Close())
	assert.True(t, f.Closed())
	assert.False(t, c.(*ImageFrame).Closed())
}
