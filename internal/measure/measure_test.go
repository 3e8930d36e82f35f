package measure

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

var frame = Size{Width: 1000, Height: 500}

// fish builds a detection centred at (cx, cy) with a horizontal body of the
// given pixel length.
func fish(cx, cy, length, conf float64) Detection {
	return Detection{
		Box:        Rect{X1: cx - length/2, Y1: cy - 10, X2: cx + length/2, Y2: cy + 10},
		Head:       Point{X: cx - length/2, Y: cy},
		Tail:       Point{X: cx + length/2, Y: cy},
		Confidence: conf,
	}
}

func TestLengthPx(t *testing.T) {
	t.Parallel()

	d := Detection{Head: Point{X: 0, Y: 0}, Tail: Point{X: 30, Y: 40}}
	assert.InDelta(t, 50.0, d.LengthPx(), 1e-9)
}

func TestLengthCm_LinearInverse(t *testing.T) {
	t.Parallel()

	assert.InDelta(t, 10.0, LengthCm(128.83, 12.883), 1e-9)
	// doubling pxPerCm halves the length
	a := LengthCm(200, 10)
	b := LengthCm(200, 20)
	assert.InDelta(t, a/2, b, 1e-12)
	// doubling pixels doubles the length
	assert.InDelta(t, 2*LengthCm(50, 12.883), LengthCm(100, 12.883), 1e-12)
	assert.Equal(t, 0.0, LengthCm(100, 0))
}

func TestRect(t *testing.T) {
	t.Parallel()

	r := Rect{X1: 10, Y1: 20, X2: 30, Y2: 60}
	assert.Equal(t, Point{X: 20, Y: 40}, r.Center())
	assert.Equal(t, 20.0, r.Width())
	assert.Equal(t, 40.0, Rect{X1: 30, Y1: 60, X2: 10, Y2: 20}.Height())
}

func TestThresholdsCheck(t *testing.T) {
	t.Parallel()

	th := DefaultThresholds()
	tests := []struct {
		name string
		det  Detection
		want string
	}{
		{"passes", fish(500, 250, 100, 0.9), RejectNone},
		{"confidence at threshold passes", fish(500, 250, 100, 0.65), RejectNone},
		{"low confidence", fish(500, 250, 100, 0.64), RejectConfidence},
		{"length at threshold passes", fish(500, 250, 40, 0.9), RejectNone},
		{"too short", fish(500, 250, 39.9, 0.9), RejectLength},
		{"left border", fish(79, 250, 100, 0.9), RejectBorder},
		{"left border edge passes", fish(80, 250, 100, 0.9), RejectNone},
		{"right border", fish(921, 250, 100, 0.9), RejectBorder},
		{"top border", fish(500, 39, 100, 0.9), RejectBorder},
		{"bottom border", fish(500, 461, 100, 0.9), RejectBorder},
		// confidence is checked before length and border
		{"priority", fish(5, 5, 1, 0.1), RejectConfidence},
		{"length before border", fish(5, 5, 1, 0.9), RejectLength},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, th.Check(tt.det, frame))
		})
	}
}

func TestFilter(t *testing.T) {
	t.Parallel()

	in := []Detection{
		fish(500, 250, 100, 0.9),
		fish(500, 250, 100, 0.2),
		fish(300, 200, 60, 0.8),
		fish(10, 250, 100, 0.9),
	}
	orig := append([]Detection(nil), in...)

	got := Filter(in, frame, DefaultThresholds())
	assert.Equal(t, []Detection{in[0], in[2]}, got)
	assert.Equal(t, orig, in, "input must not be modified")

	assert.Empty(t, Filter(nil, frame, DefaultThresholds()))
}

func TestFilter_ZeroMarginAcceptsWholeFrame(t *testing.T) {
	t.Parallel()

	th := Thresholds{MinConfidence: 0, MinLengthPx: 0}
	got := Filter([]Detection{fish(0, 0, 10, 0)}, frame, th)
	assert.Len(t, got, 1)
}

func TestThresholdsValidate(t *testing.T) {
	t.Parallel()

	assert.NoError(t, DefaultThresholds().Validate())
	assert.Error(t, Thresholds{MinConfidence: 1.2}.Validate())
	assert.Error(t, Thresholds{MinConfidence: 0.5, MinLengthPx: -1}.Validate())
	assert.Error(t, Thresholds{MinConfidence: 0.5, BorderMargin: 0.5}.Validate())
}
