package rotator

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestThrottle(t *testing.T) {
	now := time.Unix(100, 0)
	th := Throttle{Now: func() time.Time { return now }}
	if !th.Ready() {
		t.Fatal("new throttle not ready")
	}
	th.Hold(time.Second)
	if th.Ready() {
		t.Error("ready during hold")
	}
	now = now.Add(999 * time.Millisecond)
	if th.Ready() {
		t.Error("ready before hold expired")
	}
	now = now.Add(time.Millisecond)
	if !th.Ready() {
		t.Error("not ready once hold expired")
	}
	th.Hold(time.Hour)
	th.Reset()
	if !th.Ready() {
		t.Error("not ready after Reset")
	}
}

func TestWrap360(t *testing.T) {
	for _, test := range []struct{ in, want float64 }{
		{0, 0}, {360, 0}, {370, 10}, {-10, 350}, {-720, 0}, {359.5, 359.5},
	} {
		if got := Wrap360(test.in); got != test.want {
			t.Errorf("Wrap360(%v) = %v, want %v", test.in, got, test.want)
		}
	}
}

func TestParseKind(t *testing.T) {
	for _, k := range Kinds() {
		got, err := ParseKind(k.String())
		if err != nil || got != k {
			t.Errorf("ParseKind(%q) = %v, %v", k.String(), got, err)
		}
	}
	if _, err := ParseKind("easycomm"); err == nil {
		t.Error("ParseKind accepted an unknown backend")
	}
}

func TestGuidance(t *testing.T) {
	if got := Guidance("SPID", nil); got != "" {
		t.Errorf("Guidance(nil) = %q", got)
	}
	err := fmt.Errorf("writing %q: broken pipe: %w", "/dev/ttyUSB1", ErrIO)
	if got := Guidance("SPID", err); !strings.Contains(got, "check the cable") {
		t.Errorf("Guidance(ErrIO) = %q", got)
	}
	if got := Guidance("SPID", ErrTimeout); !strings.Contains(got, "powered") {
		t.Errorf("Guidance(ErrTimeout) = %q", got)
	}
	if got := Guidance("SPID", errors.New("odd")); got != "SPID: odd" {
		t.Errorf("Guidance(other) = %q", got)
	}
}
