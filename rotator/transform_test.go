package rotator

import (
	"math"
	"testing"
)

func angleDiff(a, b float64) float64 {
	d := math.Abs(Wrap360(a) - Wrap360(b))
	return math.Min(d, 360-d)
}

func TestXYRoundTrip(t *testing.T) {
	for az := 0.0; az < 360; az += 45 {
		for _, el := range []float64{1, 30, 60, 89} {
			x, y := AzElToXY(az, el)
			gotAz, gotEl := XYToAzEl(x, y)
			if angleDiff(gotAz, az) > 0.1 || math.Abs(gotEl-el) > 0.1 {
				t.Errorf("XYToAzEl(AzElToXY(%v, %v)) = %v, %v via x=%v y=%v", az, el, gotAz, gotEl, x, y)
			}
		}
	}
}

func TestXYBoundarySnap(t *testing.T) {
	for az := 0.0; az < 360; az += 15 {
		if x, _ := AzElToXY(az, 0); x != 90 {
			t.Errorf("AzElToXY(%v, 0) x = %v, want 90", az, x)
		}
		if x, _ := AzElToXY(az, 90); x != 0 {
			t.Errorf("AzElToXY(%v, 90) x = %v, want 0", az, x)
		}
		for el := 0.0; el <= 90; el += 0.005 {
			x, y := AzElToXY(az, el)
			if math.IsNaN(x) || math.IsNaN(y) {
				t.Fatalf("AzElToXY(%v, %v) = %v, %v", az, el, x, y)
			}
			a, e := XYToAzEl(x, y)
			if math.IsNaN(a) || math.IsNaN(e) {
				t.Fatalf("XYToAzEl(%v, %v) = %v, %v", x, y, a, e)
			}
		}
	}
}

// x == 0 is the zenith whichever way y points; both sides map to the
// same azimuth.
func TestXYZenithIgnoresY(t *testing.T) {
	for _, y := range []float64{10, 90, 170} {
		az, el := XYToAzEl(0, y)
		if az != 0 || el != 90 {
			t.Errorf("XYToAzEl(0, %v) = %v, %v; want 0, 90", y, az, el)
		}
	}
}

func TestXYAxes(t *testing.T) {
	for _, test := range []struct {
		x, y, az, el float64
	}{
		{90, 90, 0, 0},
		{90, 60, 90, 60},
		{90, 120, 270, 60},
		{120, 90, 0, 60},
		{60, 90, 180, 60},
	} {
		az, el := XYToAzEl(test.x, test.y)
		if angleDiff(az, test.az) > 1e-9 || math.Abs(el-test.el) > 1e-9 {
			t.Errorf("XYToAzEl(%v, %v) = %v, %v; want %v, %v", test.x, test.y, az, el, test.az, test.el)
		}
	}
}
