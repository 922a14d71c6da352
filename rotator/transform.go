package rotator

import "math"

// Accuracy is the snap epsilon, in degrees, used at the poles of the
// X/Y mapping.
const Accuracy = 0.01

func deg2rad(x float64) float64 {
	return x * math.Pi / 180
}

func rad2deg(x float64) float64 {
	return x * 180 / math.Pi
}

// AzElToXY converts azimuth/elevation into the X/Y actuator space of an
// X-Y mount. Both outputs are in [0, 180]; 90/90 is the unrotated axis.
func AzElToXY(az, el float64) (x, y float64) {
	a, e := deg2rad(az), deg2rad(el)
	switch {
	case el <= Accuracy:
		x = 90
	case el >= 90-Accuracy:
		x = 0
	default:
		x = 90 - rad2deg(math.Atan(-math.Cos(a)/math.Tan(e)))
	}
	y = 90 - rad2deg(math.Asin(clampUnit(math.Sin(a)*math.Cos(e))))
	return x, y
}

// XYToAzEl is the inverse of AzElToXY, up to Accuracy.
//
// Quadrants are picked from the signs of the tilts of both axes away
// from 90. x == 0 is the zenith snap of AzElToXY; it returns the same
// azimuth whichever side y is on.
func XYToAzEl(x, y float64) (az, el float64) {
	if x == 0 {
		return 0, 90
	}
	tx, ty := 90-x, 90-y
	switch {
	case tx == 0 && ty == 0:
		return 0, 0
	case tx == 0:
		el = 90 - math.Abs(ty)
		if ty > 0 {
			return 90, el
		}
		return 270, el
	case ty == 0:
		el = 90 - math.Abs(tx)
		if tx < 0 {
			return 0, el
		}
		return 180, el
	}

	tanX := math.Tan(deg2rad(tx))
	sinY := math.Sin(deg2rad(ty))
	t2, s2 := tanX*tanX, sinY*sinY
	cosAz := snapSqrt(-(t2*s2 - t2) / (s2 + t2))
	base := rad2deg(math.Acos(cosAz))

	switch {
	case tx < 0 && ty > 0:
		az = base
	case tx > 0 && ty > 0:
		az = 180 - base
	case tx > 0 && ty < 0:
		az = 180 + base
	default:
		az = 360 - base
	}

	sinAz := math.Sqrt(1 - cosAz*cosAz)
	if sinAz < 1e-9 {
		el = 90 - math.Abs(tx)
	} else {
		el = rad2deg(math.Acos(clampUnit(math.Abs(sinY) / sinAz)))
	}
	return Wrap360(az), el
}

// snapSqrt returns sqrt(v) limited to [0, 1]. Small negative arguments
// from rounding at the boundaries snap to 0 instead of producing NaN.
func snapSqrt(v float64) float64 {
	if math.IsNaN(v) || v <= 0 {
		return 0
	}
	if v >= 1 {
		return 1
	}
	return math.Sqrt(v)
}

func clampUnit(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return Clamp(v, -1, 1)
}
