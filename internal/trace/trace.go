// Package trace writes Chrome trace event files (viewable in about:tracing or
// https://ui.perfetto.dev) covering the stages of a bundle run.
package trace

import (
	"encoding/json"
	"io"
	"io/ioutil"
	"log"
	"os"
	"sync"
	"time"

	"github.com/distr1/zapp"
)

// https://docs.google.com/document/d/1CvAClvFfyA5R-PhYUmn5OOQtYMH4h6I0nSsKchNAySU/edit

var start = time.Now()

var (
	sinkMu sync.Mutex
	sink   io.Writer = ioutil.Discard
)

// Sink writes all following Event()s as a Chrome trace event file into w.
func Sink(w io.Writer) {
	sinkMu.Lock()
	defer sinkMu.Unlock()
	sink = w
	// Start the JSON Array Format
	w.Write([]byte{'['})
	// The ] at the end is optional, so we skip it
}

// Enable creates fn and sinks all following events into it. The file is
// closed by zapp.RunAtExit.
func Enable(fn string) error {
	f, err := os.Create(fn)
	if err != nil {
		return err
	}
	Sink(f)
	zapp.RegisterAtExit(func() error {
		sinkMu.Lock()
		defer sinkMu.Unlock()
		sink = ioutil.Discard
		return f.Close()
	})
	return nil
}

type PendingEvent struct {
	Name           string            `json:"name"` // name of the event, as displayed in Trace Viewer
	Categories     string            `json:"cat"`  // event categories (comma-separated)
	Type           string            `json:"ph"`   // event type (single character)
	ClockTimestamp uint64            `json:"ts"`   // tracing clock timestamp (microsecond granularity)
	Duration       uint64            `json:"dur"`
	Pid            uint64            `json:"pid"` // process ID for the process that output this event
	Tid            uint64            `json:"tid"` // thread ID for the thread that output this event
	Args           map[string]string `json:"args,omitempty"`

	start time.Time
}

func (pe *PendingEvent) Done() {
	pe.Duration = uint64(time.Since(pe.start) / time.Microsecond)
	b, err := json.Marshal(pe)
	if err != nil {
		panic(err)
	}
	sinkMu.Lock()
	defer sinkMu.Unlock()
	if _, err := sink.Write(append(b, ',')); err != nil {
		log.Printf("[trace] %v", err)
	}
}

// Event starts a complete (“X”) event. args are key/value pairs shown in the
// trace viewer, e.g. Event("copy", "path", "/lib/libc.so.6").
func Event(name string, args ...string) *PendingEvent {
	var m map[string]string
	if len(args) > 0 {
		m = make(map[string]string, len(args)/2)
		for i := 0; i+1 < len(args); i += 2 {
			m[args[i]] = args[i+1]
		}
	}
	return &PendingEvent{
		Name:           name,
		Categories:     "zapp",
		Type:           "X",
		ClockTimestamp: uint64(time.Since(start) / time.Microsecond),
		Pid:            uint64(os.Getpid()),
		Args:           m,
		start:          time.Now(),
	}
}
