package main

import (
	"bytes"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/w1xm/satrotor/rig"
	"github.com/w1xm/satrotor/rotator"
	"github.com/w1xm/satrotor/rotor"
)

type fakeBackend struct {
	pos   rotator.Position
	moves []rotator.Position
	stops int
}

func (f *fakeBackend) Open() error                 { return nil }
func (f *fakeBackend) Close() error                { return nil }
func (f *fakeBackend) IsOpen() bool                { return true }
func (f *fakeBackend) ReadPosition() error         { return nil }
func (f *fakeBackend) Position() rotator.Position  { return f.pos }
func (f *fakeBackend) ErrorString() string         { return "" }
func (f *fakeBackend) Space() rotator.Space        { return rotator.AzEl }
func (f *fakeBackend) MoveToAxis1(v float64) error { return f.MoveTo(v, f.pos.B) }
func (f *fakeBackend) MoveToAxis2(v float64) error { return f.MoveTo(f.pos.A, v) }
func (f *fakeBackend) Stop() error                 { f.stops++; return nil }

func (f *fakeBackend) MoveTo(a, b float64) error {
	f.pos = rotator.Position{A: a, B: b}
	f.moves = append(f.moves, f.pos)
	return nil
}

func testServer(t *testing.T) (*Server, *fakeBackend) {
	t.Helper()
	fb := &fakeBackend{}
	c, err := rotor.New(rotor.DefaultConfig(), map[rotator.Kind]rotator.Backend{rotator.GS232B: fb})
	if err != nil {
		t.Fatal(err)
	}
	// Each move happens an hour after the last so none are rate limited.
	now := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	c.Now = func() time.Time {
		now = now.Add(time.Hour)
		return now
	}
	if err := c.Enable(true); err != nil {
		t.Fatal(err)
	}
	return NewServer(rig.New(rig.DefaultConfig(), c), nil), fb
}

func converse(s *Server, input string) string {
	var out bytes.Buffer
	s.handleRotctld(struct {
		io.Reader
		io.Writer
	}{strings.NewReader(input), &out})
	return out.String()
}

func TestRotctldSetPosition(t *testing.T) {
	s, fb := testServer(t)
	got := converse(s, "P 90 45\nP -90.5 10\nP90\n")
	if want := "RPRT 0\nRPRT 0\nRPRT -22\n"; got != want {
		t.Errorf("replies = %q, want %q", got, want)
	}
	want := []rotator.Position{{A: 90, B: 45}, {A: 269.5, B: 10}}
	if diff := cmp.Diff(fb.moves, want); diff != "" {
		t.Errorf("unexpected moves: got(-)/want(+):\n%s", diff)
	}
}

func TestRotctldGetPosition(t *testing.T) {
	s, fb := testServer(t)
	fb.pos = rotator.Position{A: 270, B: 30}
	s.statusCallback()
	for _, test := range []struct {
		in, want string
	}{
		{"p\n", "-90.000000\n30.000000\n"},
		{`+\get_pos` + "\n", "get_pos:\nAzimuth: -90.000000\nElevation: 30.000000\nRPRT 0\n"},
	} {
		if got := converse(s, test.in); got != test.want {
			t.Errorf("%q: got %q, want %q", test.in, got, test.want)
		}
	}
}

func TestRotctldStopAndUnknown(t *testing.T) {
	s, fb := testServer(t)
	got := converse(s, "S\nM 2 50\n\\stop\n")
	if want := "RPRT 0\nRPRT -4\nRPRT 0\n"; got != want {
		t.Errorf("replies = %q, want %q", got, want)
	}
	if fb.stops != 2 {
		t.Errorf("stops = %d, want 2", fb.stops)
	}
}

func TestRotctldQuit(t *testing.T) {
	s, fb := testServer(t)
	if got := converse(s, "q\nP 10 10\n"); got != "" {
		t.Errorf("replies after quit = %q", got)
	}
	if len(fb.moves) != 0 {
		t.Errorf("moves after quit: %v", fb.moves)
	}
}

func TestExecuteUnknown(t *testing.T) {
	s, _ := testServer(t)
	if err := s.Execute(Command{Command: "launch"}); err != errUnknownCommand {
		t.Errorf("Execute(launch) = %v, want %v", err, errUnknownCommand)
	}
	if err := s.Execute(Command{Command: "set_backend", Backend: "spid"}); err == nil {
		t.Error("switching to an unregistered backend succeeded")
	}
}
