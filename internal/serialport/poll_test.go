package serialport

import (
	"errors"
	"io"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/w1xm/satrotor/rotator"
)

// trickle returns one chunk per Read and io.EOF when it runs dry.
type trickle struct {
	chunks [][]byte
	reads  int
	err    error
}

func (t *trickle) Read(p []byte) (int, error) {
	t.reads++
	if t.err != nil {
		return 0, t.err
	}
	if len(t.chunks) == 0 {
		return 0, io.EOF
	}
	n := copy(p, t.chunks[0])
	t.chunks[0] = t.chunks[0][n:]
	if len(t.chunks[0]) == 0 {
		t.chunks = t.chunks[1:]
	}
	return n, nil
}

func (t *trickle) Write(p []byte) (int, error) { return len(p), nil }
func (t *trickle) Close() error                { return nil }

func TestPollReadFull(t *testing.T) {
	for _, test := range []struct {
		name      string
		chunks    [][]byte
		attempts  int
		want      string
		wantReads int
		timeout   bool
	}{
		{"single", [][]byte{[]byte("abcd")}, 3, "abcd", 1, false},
		{"chunked", [][]byte{[]byte("ab"), []byte("c"), []byte("d")}, 5, "abcd", 3, false},
		{"short", [][]byte{[]byte("ab")}, 4, "", 4, true},
		{"empty", nil, 2, "", 2, true},
	} {
		t.Run(test.name, func(t *testing.T) {
			r := &trickle{chunks: test.chunks}
			buf := make([]byte, 4)
			err := Poll{Attempts: test.attempts}.ReadFull(r, buf)
			if test.timeout {
				if !errors.Is(err, rotator.ErrTimeout) {
					t.Fatalf("ReadFull = %v, want ErrTimeout", err)
				}
			} else if err != nil {
				t.Fatalf("ReadFull: %v", err)
			} else if diff := cmp.Diff(string(buf), test.want); diff != "" {
				t.Errorf("unexpected data: got(-)/want(+):\n%s", diff)
			}
			if r.reads != test.wantReads {
				t.Errorf("reads = %d, want %d", r.reads, test.wantReads)
			}
		})
	}
}

func TestLinkLatchesIOFault(t *testing.T) {
	r := &trickle{err: errors.New("device unplugged")}
	l := &Link{Name: "fake", Dial: func() (io.ReadWriteCloser, error) { return r, nil }}
	if err := l.ReadFull(make([]byte, 1), Poll{Attempts: 1}); !errors.Is(err, rotator.ErrNotOpen) {
		t.Fatalf("ReadFull on closed link = %v, want ErrNotOpen", err)
	}
	if err := l.Open(); err != nil {
		t.Fatal(err)
	}
	err := l.ReadFull(make([]byte, 1), Poll{Attempts: 3})
	if !errors.Is(err, rotator.ErrIO) {
		t.Fatalf("ReadFull = %v, want ErrIO", err)
	}
	if r.reads != 1 {
		t.Errorf("I/O error retried: %d reads", r.reads)
	}
	r.err = nil
	r.chunks = [][]byte{[]byte("x")}
	if err := l.Write([]byte("C2")); !errors.Is(err, rotator.ErrIO) {
		t.Errorf("Write after fault = %v, want latched ErrIO", err)
	}
	l.Close()
	if err := l.Open(); err != nil {
		t.Fatal(err)
	}
	if err := l.ReadFull(make([]byte, 1), Poll{Attempts: 1}); err != nil {
		t.Errorf("ReadFull after reopen: %v", err)
	}
}
