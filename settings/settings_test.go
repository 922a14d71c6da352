package settings

import (
	"path/filepath"
	"testing"
)

func TestFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rotor.yaml")
	f, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	s := f.Section("gs232b")
	s.Set("port", "/dev/ttyUSB0")
	s.Set("baud", 9600)
	s.Set("az_speed", 0.16)
	s.Set("ccw", true)
	if err := f.Save(); err != nil {
		t.Fatal(err)
	}

	g, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	s = g.Section("gs232b")
	if got := s.String("port", ""); got != "/dev/ttyUSB0" {
		t.Errorf("port = %q", got)
	}
	if got := s.Int("baud", 0); got != 9600 {
		t.Errorf("baud = %d", got)
	}
	if got := s.Float("az_speed", 0); got != 0.16 {
		t.Errorf("az_speed = %v", got)
	}
	if got := s.Bool("ccw", false); !got {
		t.Errorf("ccw = %v", got)
	}
	if got := g.Section("spid").Float("az_speed", 7); got != 7 {
		t.Errorf("default not returned for missing section: %v", got)
	}
}

func TestNumericCoercion(t *testing.T) {
	s := New().Section("rotor")
	s.Set("az_max", 300)
	s.Set("el_max", "85.5")
	if got := s.Float("az_max", 0); got != 300 {
		t.Errorf("Float of int = %v", got)
	}
	if got := s.Float("el_max", 0); got != 85.5 {
		t.Errorf("Float of string = %v", got)
	}
	if got := s.Int("el_max", 4); got != 4 {
		t.Errorf("Int of non-integer string = %v, want default", got)
	}
}
