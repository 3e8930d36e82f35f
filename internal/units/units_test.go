package units

import (
	"math"
	"testing"
)

func TestIsValid(t *testing.T) {
	t.Parallel()

	for _, u := range ValidUnits {
		if !IsValid(u) {
			t.Errorf("IsValid(%q) = false, want true", u)
		}
	}
	for _, u := range []string{"", "CM", "m", "mph"} {
		if IsValid(u) {
			t.Errorf("IsValid(%q) = true, want false", u)
		}
	}
}

func TestConvertLength(t *testing.T) {
	t.Parallel()

	tests := []struct {
		units string
		in    float64
		want  float64
	}{
		{CM, 21.5, 21.5},
		{MM, 21.5, 215},
		{IN, 2.54, 1},
		{"furlong", 12, 12},
	}
	for _, tt := range tests {
		t.Run(tt.units, func(t *testing.T) {
			got := ConvertLength(tt.in, tt.units)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("ConvertLength(%v, %q) = %v, want %v", tt.in, tt.units, got, tt.want)
			}
		})
	}
}
