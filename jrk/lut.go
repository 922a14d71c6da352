package jrk

import (
	"fmt"
	"io"
	"math"
	"sort"

	"gopkg.in/yaml.v3"
)

// Table remaps raw 12-bit values to degrees and back, replacing the
// linear calibration.
type Table interface {
	Degrees(raw int) float64
	Target(deg float64) int
}

// Point is one calibration sample.
type Point struct {
	Raw int     `yaml:"raw"`
	Deg float64 `yaml:"deg"`
}

// PointTable interpolates linearly between calibration points. Points
// must be monotonic in both Raw and Deg. Values past either end are
// clamped to the end point.
type PointTable []Point

func NewPointTable(points []Point) (PointTable, error) {
	if len(points) < 2 {
		return nil, fmt.Errorf("lookup table needs at least 2 points, got %d", len(points))
	}
	t := append(PointTable(nil), points...)
	sort.Slice(t, func(i, j int) bool { return t[i].Raw < t[j].Raw })
	inc := t[len(t)-1].Deg > t[0].Deg
	for i := 1; i < len(t); i++ {
		if t[i].Raw == t[i-1].Raw || (t[i].Deg > t[i-1].Deg) != inc || t[i].Deg == t[i-1].Deg {
			return nil, fmt.Errorf("lookup table not monotonic at raw %d", t[i].Raw)
		}
	}
	return t, nil
}

// LoadTable reads a YAML list of {raw, deg} points.
func LoadTable(r io.Reader) (PointTable, error) {
	var points []Point
	if err := yaml.NewDecoder(r).Decode(&points); err != nil {
		return nil, fmt.Errorf("decoding lookup table: %w", err)
	}
	return NewPointTable(points)
}

func lerp(x0, x1, y0, y1, x float64) float64 {
	return y0 + (y1-y0)*(x-x0)/(x1-x0)
}

func (t PointTable) Degrees(raw int) float64 {
	if raw <= t[0].Raw {
		return t[0].Deg
	}
	i := sort.Search(len(t), func(i int) bool { return t[i].Raw >= raw })
	if i == len(t) {
		return t[len(t)-1].Deg
	}
	a, b := t[i-1], t[i]
	return lerp(float64(a.Raw), float64(b.Raw), a.Deg, b.Deg, float64(raw))
}

func (t PointTable) Target(deg float64) int {
	inc := t[len(t)-1].Deg > t[0].Deg
	before := func(p Point) bool {
		if inc {
			return p.Deg <= deg
		}
		return p.Deg >= deg
	}
	if before(t[len(t)-1]) {
		return t[len(t)-1].Raw
	}
	if !before(t[0]) {
		return t[0].Raw
	}
	i := sort.Search(len(t), func(i int) bool { return !before(t[i]) })
	a, b := t[i-1], t[i]
	return int(math.Round(lerp(a.Deg, b.Deg, float64(a.Raw), float64(b.Raw), deg)))
}
