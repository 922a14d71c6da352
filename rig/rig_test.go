package rig

import (
	"testing"

	"github.com/w1xm/satrotor/gs232b"
	"github.com/w1xm/satrotor/rotator"
	"github.com/w1xm/satrotor/rotor"
	"github.com/w1xm/satrotor/settings"
)

func TestFrequencies(t *testing.T) {
	r := New(Config{DownconverterLO: 9750e6, UpconverterLO: 1968e6}, nil)
	for _, test := range []struct {
		name      string
		got, want float64
	}{
		{"high side", r.RxFrequency(10489.55e6), 739.55e6},
		{"low side", r.RxFrequency(9000e6), 750e6},
		{"uplink", r.TxFrequency(2400e6), 432e6},
	} {
		if test.got != test.want {
			t.Errorf("%s: got %v, want %v", test.name, test.got, test.want)
		}
	}
	plain := New(DefaultConfig(), nil)
	if got := plain.RxFrequency(145.8e6); got != 145.8e6 {
		t.Errorf("RxFrequency without converter = %v", got)
	}
}

func TestAOSHysteresis(t *testing.T) {
	c, err := rotor.New(rotor.DefaultConfig(), map[rotator.Kind]rotator.Backend{
		rotator.GS232B: gs232b.New(gs232b.DefaultConfig()),
	})
	if err != nil {
		t.Fatal(err)
	}
	r := New(DefaultConfig(), c)
	steps := []struct {
		el     float64
		inView bool
	}{
		{1, false},
		{5, true},
		{4, true},
		{3, true},
		{2.9, false},
		{4, false},
	}
	for _, s := range steps {
		// The controller is disabled, so Point never reaches hardware.
		if err := r.Point(10, s.el); err != nil {
			t.Fatalf("Point(%v): %v", s.el, err)
		}
		if r.InView() != s.inView {
			t.Errorf("after el %v InView = %v, want %v", s.el, r.InView(), s.inView)
		}
	}
}

func TestSettings(t *testing.T) {
	store := settings.New()
	want := Config{DownconverterLO: 1, UpconverterLO: 2, AOS: 10, LOS: 8}
	want.WriteSettings(store.Section(SectionRig))
	got := DefaultConfig()
	got.ReadSettings(store.Section(SectionRig))
	if got != want {
		t.Errorf("ReadSettings = %+v, want %+v", got, want)
	}
}
