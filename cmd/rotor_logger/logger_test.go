package main

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestFlattenStatus(t *testing.T) {
	var status interface{}
	in := `{"azimuth": 12.5, "native": {"A": 1, "B": 2}, "power": {"az_active": true}, "list": [3, 4]}`
	if err := json.Unmarshal([]byte(in), &status); err != nil {
		t.Fatal(err)
	}
	got := make(map[string]interface{})
	flattenStatus(got, status, "")
	want := map[string]interface{}{
		"azimuth":         12.5,
		"native.A":        1.0,
		"native.B":        2.0,
		"power.az_active": true,
		"list.0":          3.0,
		"list.1":          4.0,
	}
	if diff := cmp.Diff(got, want); diff != "" {
		t.Errorf("unexpected fields: got(-)/want(+):\n%s", diff)
	}
}
