package region

import (
	"testing"

	"github.com/matzehuels/tilecraft/pkg/errors"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in      string
		want    Region
		wantErr bool
	}{
		{"-109.2,36.8,-106.8,38.5", Region{-109.2, 36.8, -106.8, 38.5}, false},
		{" 7.0 , 46.0 , 8.5 , 47.0 ", Region{7, 46, 8.5, 47}, false},
		{"1,2,3", Region{}, true},
		{"a,b,c,d", Region{}, true},
		{"10,0,5,1", Region{}, true},
		{"0,10,1,5", Region{}, true},
		{"-181,0,1,1", Region{}, true},
		{"0,-91,1,1", Region{}, true},
	}

	for _, tt := range tests {
		got, err := Parse(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("Parse(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if err != nil && !errors.Is(err, errors.ErrCodeInvalidRegion) {
			t.Errorf("Parse(%q) code = %v, want INVALID_REGION", tt.in, errors.GetCode(err))
		}
		if got != tt.want {
			t.Errorf("Parse(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestStringRoundTrip(t *testing.T) {
	r := Region{West: -109.25, South: 36.8, East: -106.8, North: 38.5}
	if got := r.String(); got != "-109.25,36.8,-106.8,38.5" {
		t.Errorf("String() = %q", got)
	}
	back, err := Parse(r.String())
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if back != r {
		t.Errorf("round trip = %v, want %v", back, r)
	}
}

func TestCenterAndArea(t *testing.T) {
	r := Region{West: 0, South: 0, East: 2, North: 4}
	c := r.Center()
	if c[0] != 1 || c[1] != 2 {
		t.Errorf("Center() = %v, want [1 2]", c)
	}
	if got := r.AreaDegrees(); got != 8 {
		t.Errorf("AreaDegrees() = %v, want 8", got)
	}
}

func TestSuggestedZoom(t *testing.T) {
	tests := []struct {
		r    Region
		want int
	}{
		{Region{0, 0, 5, 5}, 8},
		{Region{0, 0, 2, 2}, 10},
		{Region{0, 0, 0.5, 0.5}, 12},
		{Region{0, 0, 0.1, 0.1}, 14},
	}
	for _, tt := range tests {
		if got := tt.r.SuggestedZoom(); got != tt.want {
			t.Errorf("SuggestedZoom(%v) = %d, want %d", tt.r, got, tt.want)
		}
	}
}

func TestTileCount(t *testing.T) {
	world := Region{West: -180, South: -85, East: 179.999, North: 85}
	if got := world.TileCount(0); got != 1 {
		t.Errorf("TileCount(0) = %d, want 1", got)
	}
	if got := world.TileCount(1); got != 4 {
		t.Errorf("TileCount(1) = %d, want 4", got)
	}
	small := Region{West: 7.40, South: 46.90, East: 7.50, North: 46.95}
	if got := small.TileCount(14); got < 1 {
		t.Errorf("TileCount(14) = %d, want >= 1", got)
	}
}
