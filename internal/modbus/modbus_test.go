package modbus

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestBytesToBits(t *testing.T) {
	got := BytesToBits([]byte{0x05, 0x80})
	want := []bool{
		true, false, true, false, false, false, false, false,
		false, false, false, false, false, false, false, true,
	}
	if diff := cmp.Diff(got, want); diff != "" {
		t.Errorf("unexpected bits: got(-)/want(+):\n%s", diff)
	}
}
