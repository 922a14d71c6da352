package rotor

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/w1xm/satrotor/rotator"
	"github.com/w1xm/satrotor/settings"
)

type call struct {
	Op   string
	A, B float64
}

type fakeBackend struct {
	space   rotator.Space
	pos     rotator.Position
	open    bool
	calls   []call
	moveErr error
}

func (f *fakeBackend) Open() error {
	f.open = true
	return nil
}

func (f *fakeBackend) Close() error {
	f.open = false
	f.calls = append(f.calls, call{Op: "close"})
	return nil
}

func (f *fakeBackend) IsOpen() bool               { return f.open }
func (f *fakeBackend) ReadPosition() error        { return nil }
func (f *fakeBackend) Position() rotator.Position { return f.pos }
func (f *fakeBackend) ErrorString() string        { return "" }
func (f *fakeBackend) Space() rotator.Space       { return f.space }

func (f *fakeBackend) MoveTo(a, b float64) error {
	return f.move("move", a, b)
}

func (f *fakeBackend) MoveToAxis1(v float64) error {
	return f.move("axis1", v, f.pos.B)
}

func (f *fakeBackend) MoveToAxis2(v float64) error {
	return f.move("axis2", f.pos.A, v)
}

func (f *fakeBackend) Stop() error {
	f.calls = append(f.calls, call{Op: "stop"})
	return nil
}

func (f *fakeBackend) move(op string, a, b float64) error {
	if f.moveErr != nil {
		return f.moveErr
	}
	f.calls = append(f.calls, call{op, a, b})
	f.pos = rotator.Position{A: a, B: b}
	return nil
}

type estimatingBackend struct {
	fakeBackend
	d time.Duration
}

func (e *estimatingBackend) MoveDuration(a, b float64) time.Duration { return e.d }

type clock struct{ t time.Time }

func (c *clock) Now() time.Time { return c.t }

func testController(t *testing.T, cfg Config, backends map[rotator.Kind]rotator.Backend) (*Controller, *clock) {
	t.Helper()
	c, err := New(cfg, backends)
	if err != nil {
		t.Fatal(err)
	}
	clk := &clock{t: time.Unix(1000, 0)}
	c.Now = clk.Now
	if err := c.Enable(true); err != nil {
		t.Fatal(err)
	}
	return c, clk
}

func azelConfig() Config {
	cfg := DefaultConfig()
	cfg.Active = rotator.GS232B
	cfg.Spare = 0
	cfg.AzSpeed = 100
	cfg.ElSpeed = 100
	return cfg
}

func TestLimitNoop(t *testing.T) {
	b := &fakeBackend{pos: rotator.Position{A: 100, B: 10}}
	cfg := azelConfig()
	cfg.Limits.AzMax = 300
	c, _ := testController(t, cfg, map[rotator.Kind]rotator.Backend{rotator.GS232B: b})
	if err := c.MoveTo(310, 45); err != nil {
		t.Fatalf("MoveTo outside limits = %v, want nil", err)
	}
	if len(b.calls) != 0 {
		t.Errorf("out-of-limits move reached the backend: %v", b.calls)
	}
	if az, _ := c.Position(); az != 100 {
		t.Errorf("azimuth = %v, want unchanged 100", az)
	}
}

func TestDisabledNoop(t *testing.T) {
	b := &fakeBackend{}
	c, _ := testController(t, azelConfig(), map[rotator.Kind]rotator.Backend{rotator.GS232B: b})
	c.Enable(false)
	if err := c.MoveTo(10, 10); err != nil {
		t.Fatal(err)
	}
	if len(b.calls) != 0 {
		t.Errorf("disabled controller moved: %v", b.calls)
	}
}

func TestSamePositionNoop(t *testing.T) {
	b := &fakeBackend{pos: rotator.Position{A: 10, B: 20}}
	c, _ := testController(t, azelConfig(), map[rotator.Kind]rotator.Backend{rotator.GS232B: b})
	if err := c.MoveTo(10, 20); err != nil {
		t.Fatal(err)
	}
	if len(b.calls) != 0 {
		t.Errorf("move to current position reached the backend: %v", b.calls)
	}
}

func TestRateLimit(t *testing.T) {
	b := &fakeBackend{}
	c, clk := testController(t, azelConfig(), map[rotator.Kind]rotator.Backend{rotator.GS232B: b})
	if err := c.MoveTo(10, 0); err != nil {
		t.Fatal(err)
	}
	if err := c.MoveTo(20, 0); !errors.Is(err, rotator.ErrRateLimited) {
		t.Fatalf("second MoveTo = %v, want ErrRateLimited", err)
	}
	if diff := cmp.Diff(b.calls, []call{{"move", 10, 0}}); diff != "" {
		t.Errorf("unexpected calls: got(-)/want(+):\n%s", diff)
	}
	// 10 degrees at 100 ms/degree.
	clk.t = clk.t.Add(time.Second)
	if err := c.MoveTo(20, 0); err != nil {
		t.Errorf("MoveTo after cool-down: %v", err)
	}
}

func TestFailedMoveKeepsGateOpen(t *testing.T) {
	b := &fakeBackend{moveErr: rotator.ErrNotOpen}
	c, _ := testController(t, azelConfig(), map[rotator.Kind]rotator.Backend{rotator.GS232B: b})
	if err := c.MoveTo(10, 0); !errors.Is(err, rotator.ErrNotOpen) {
		t.Fatalf("MoveTo = %v, want ErrNotOpen", err)
	}
	b.moveErr = nil
	if err := c.MoveTo(10, 0); err != nil {
		t.Errorf("MoveTo after failure = %v", err)
	}
}

func TestXYDispatch(t *testing.T) {
	b := &fakeBackend{space: rotator.XY, pos: rotator.Position{A: 90, B: 90}}
	cfg := azelConfig()
	cfg.Active = rotator.Monstrum
	c, _ := testController(t, cfg, map[rotator.Kind]rotator.Backend{rotator.Monstrum: b})
	if err := c.MoveTo(90, 60); err != nil {
		t.Fatal(err)
	}
	x, y := rotator.AzElToXY(90, 60)
	if diff := cmp.Diff(b.calls, []call{{"move", x, y}}); diff != "" {
		t.Errorf("unexpected calls: got(-)/want(+):\n%s", diff)
	}
	az, el := c.Position()
	if math.Abs(az-90) > 0.01 || math.Abs(el-60) > 0.01 {
		t.Errorf("Position = %v, %v; want 90, 60", az, el)
	}
}

func TestSingleAxis(t *testing.T) {
	b := &fakeBackend{pos: rotator.Position{A: 10, B: 20}}
	c, clk := testController(t, azelConfig(), map[rotator.Kind]rotator.Backend{rotator.GS232B: b})
	if err := c.MoveToAzimuth(30); err != nil {
		t.Fatal(err)
	}
	clk.t = clk.t.Add(time.Hour)
	if err := c.MoveToElevation(40); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(b.calls, []call{{"axis1", 30, 20}, {"axis2", 30, 40}}); diff != "" {
		t.Errorf("unexpected calls: got(-)/want(+):\n%s", diff)
	}
}

func TestRotationTime(t *testing.T) {
	b := &estimatingBackend{d: 7 * time.Second}
	for _, test := range []struct {
		policy RotationPolicy
		want   time.Duration
	}{
		{RotationKinematic, 500*time.Millisecond + 30*160*time.Millisecond},
		{RotationSpareOnly, 500 * time.Millisecond},
		{RotationBackend, 500*time.Millisecond + 7*time.Second},
	} {
		t.Run(test.policy.String(), func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Policy = test.policy
			c, _ := testController(t, cfg, map[rotator.Kind]rotator.Backend{rotator.GS232B: b})
			// 30 degrees of azimuth at 160 ms/degree beats 10 of elevation at 130.
			if got := c.GetRotationTime(30, 10); got != test.want {
				t.Errorf("GetRotationTime = %v, want %v", got, test.want)
			}
		})
	}
}

func TestPark(t *testing.T) {
	b := &fakeBackend{pos: rotator.Position{A: 100, B: 30}}
	cfg := azelConfig()
	cfg.ParkAz, cfg.ParkEl = 180, 5
	c, _ := testController(t, cfg, map[rotator.Kind]rotator.Backend{rotator.GS232B: b})
	if err := c.Park(); err != nil {
		t.Fatal(err)
	}
	if len(b.calls) != 0 {
		t.Errorf("park with parking disabled moved: %v", b.calls)
	}
	cfg.ParkEnabled = true
	c, _ = testController(t, cfg, map[rotator.Kind]rotator.Backend{rotator.GS232B: b})
	if err := c.Park(); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(b.calls, []call{{"move", 180, 5}}); diff != "" {
		t.Errorf("unexpected calls: got(-)/want(+):\n%s", diff)
	}
}

func TestWobble(t *testing.T) {
	b := &fakeBackend{pos: rotator.Position{A: 100, B: 45}}
	cfg := azelConfig()
	cfg.AzSpeed, cfg.ElSpeed = 0, 0
	cfg.WobbleRadius = 2
	c, _ := testController(t, cfg, map[rotator.Kind]rotator.Backend{rotator.GS232B: b})
	if err := c.Wobble(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(b.calls) != 360/WobbleStep {
		t.Fatalf("wobble issued %d moves, want %d", len(b.calls), 360/WobbleStep)
	}
	for i, cl := range b.calls {
		r := math.Hypot(cl.A-100, cl.B-45)
		if math.Abs(r-2) > 1e-9 {
			t.Errorf("step %d at %v/%v is %v from center, want 2", i, cl.A, cl.B, r)
		}
	}
	if first := b.calls[0]; math.Abs(first.A-102) > 1e-9 || math.Abs(first.B-45) > 1e-9 {
		t.Errorf("first step = %v", first)
	}
	if c.Status().Wobbling {
		t.Error("still wobbling after return")
	}
}

func TestWobbleAcrossNorth(t *testing.T) {
	b := &fakeBackend{pos: rotator.Position{A: 0, B: 45}}
	cfg := azelConfig()
	cfg.AzSpeed, cfg.ElSpeed = 0, 0
	cfg.WobbleRadius = 2
	c, _ := testController(t, cfg, map[rotator.Kind]rotator.Backend{rotator.GS232B: b})
	if err := c.Wobble(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(b.calls) != 360/WobbleStep {
		t.Fatalf("wobble around north issued %d moves, want %d", len(b.calls), 360/WobbleStep)
	}
	for i, cl := range b.calls {
		if !cfg.Limits.Contains(cl.A, cl.B) {
			t.Errorf("step %d at %v/%v is outside the limits", i, cl.A, cl.B)
		}
		daz := math.Mod(cl.A+180, 360) - 180
		if r := math.Hypot(daz, cl.B-45); math.Abs(r-2) > 1e-9 {
			t.Errorf("step %d at %v/%v is %v from center, want 2", i, cl.A, cl.B, r)
		}
	}
}

func TestWrapAz(t *testing.T) {
	for _, test := range []struct {
		limits  Limits
		in, out float64
	}{
		{Limits{AzMin: 0, AzMax: 360}, -2, 358},
		{Limits{AzMin: 0, AzMax: 360}, 361, 1},
		{Limits{AzMin: 0, AzMax: 360}, 90, 90},
		{Limits{AzMin: -180, AzMax: 180}, 270, -90},
		{Limits{AzMin: 0, AzMax: 90}, -10, -10},
	} {
		if got := test.limits.WrapAz(test.in); got != test.out {
			t.Errorf("%+v.WrapAz(%v) = %v, want %v", test.limits, test.in, got, test.out)
		}
	}
}

func TestWobbleCancel(t *testing.T) {
	b := &fakeBackend{pos: rotator.Position{A: 100, B: 45}}
	cfg := azelConfig()
	cfg.Spare = time.Hour
	c, _ := testController(t, cfg, map[rotator.Kind]rotator.Backend{rotator.GS232B: b})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.Wobble(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Wobble = %v, want context.Canceled", err)
	}
	if len(b.calls) != 1 {
		t.Errorf("cancelled wobble issued %d moves", len(b.calls))
	}
}

func TestSetActive(t *testing.T) {
	gs := &fakeBackend{}
	sp := &fakeBackend{}
	c, _ := testController(t, azelConfig(), map[rotator.Kind]rotator.Backend{
		rotator.GS232B: gs,
		rotator.SPID:   sp,
	})
	c.Open()
	if err := c.SetActive(rotator.SPID); err != nil {
		t.Fatal(err)
	}
	if gs.open {
		t.Error("previous backend left open")
	}
	if c.ActiveKind() != rotator.SPID || c.Active() != sp {
		t.Errorf("active = %v", c.ActiveKind())
	}
	if err := c.SetActive(rotator.Jrk); err == nil {
		t.Error("SetActive accepted an unregistered backend")
	}
}

type fakePower struct {
	states []bool
	err    error
}

func (p *fakePower) SetEnabled(on bool) error {
	if p.err != nil {
		return p.err
	}
	p.states = append(p.states, on)
	return nil
}

func TestEnablePower(t *testing.T) {
	c, _ := testController(t, azelConfig(), map[rotator.Kind]rotator.Backend{rotator.GS232B: &fakeBackend{}})
	p := &fakePower{}
	c.SetPower(p)
	c.Enable(false)
	c.Enable(true)
	if diff := cmp.Diff(p.states, []bool{false, true}); diff != "" {
		t.Errorf("unexpected power states: got(-)/want(+):\n%s", diff)
	}
	p.err = errors.New("relay stuck")
	if err := c.Enable(false); err == nil {
		t.Error("Enable ignored a power failure")
	}
	if !c.Enabled() {
		t.Error("failed power switch still disabled the controller")
	}
}

func TestSettings(t *testing.T) {
	store := settings.New()
	s := store.Section(SectionRotor)
	s.Set("backend", "spid")
	s.Set("az_max", 300)
	s.Set("rotation_policy", "spare")
	c, err := NewFromSettings(store)
	if err != nil {
		t.Fatal(err)
	}
	if c.ActiveKind() != rotator.SPID {
		t.Errorf("active = %v, want spid", c.ActiveKind())
	}
	cfg := c.Config()
	if cfg.Limits.AzMax != 300 || cfg.Policy != RotationSpareOnly {
		t.Errorf("unexpected config %+v", cfg)
	}
	if got := len(c.Backends()); got != len(rotator.Kinds()) {
		t.Errorf("%d backends registered, want %d", got, len(rotator.Kinds()))
	}

	out := settings.New()
	c.WriteSettings(out)
	if got := out.Section(SectionSPID).Int("baud", 0); got != 600 {
		t.Errorf("spid baud = %d, want 600", got)
	}
	if got := out.Section(SectionRotor).String("backend", ""); got != "spid" {
		t.Errorf("backend = %q, want spid", got)
	}

	store.Section(SectionRotor).Set("backend", "easycomm")
	if _, err := NewFromSettings(store); err == nil {
		t.Error("NewFromSettings accepted an unknown backend")
	}
}
