package trace

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func TestEvent(t *testing.T) {
	var buf bytes.Buffer
	Sink(&buf)
	Event("resolve", "path", "/usr/bin/true").Done()
	Event("patch").Done()

	// Complete the optional end of the JSON array for decoding.
	b := strings.TrimSuffix(buf.String(), ",") + "]"
	var got []PendingEvent
	if err := json.Unmarshal([]byte(b), &got); err != nil {
		t.Fatalf("decoding %q: %v", b, err)
	}
	want := []PendingEvent{
		{Name: "resolve", Categories: "zapp", Type: "X", Args: map[string]string{"path": "/usr/bin/true"}},
		{Name: "patch", Categories: "zapp", Type: "X"},
	}
	opts := []cmp.Option{
		cmpopts.IgnoreUnexported(PendingEvent{}),
		cmpopts.IgnoreFields(PendingEvent{}, "ClockTimestamp", "Duration", "Pid", "Tid"),
	}
	if diff := cmp.Diff(want, got, opts...); diff != "" {
		t.Errorf("unexpected events: diff (-want +got):\n%s", diff)
	}
}
