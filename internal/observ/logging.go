// Package observ carries the engine's ambient observability: JSON-line
// event logging and the in-process metrics registry served on /metrics.
// Every reconciliation pass, trade submission and mirror upload reports
// through here.
package observ

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

var (
	outMu sync.Mutex
	out   io.Writer = os.Stdout
)

// SetOutput redirects the event stream; tests use it to capture events.
func SetOutput(w io.Writer) {
	outMu.Lock()
	out = w
	outMu.Unlock()
}

// Log emits one event as a JSON line with ts and event keys always set.
func Log(event string, kv map[string]any) {
	if kv == nil {
		kv = map[string]any{}
	}
	kv["ts"] = time.Now().UTC().Format(time.RFC3339Nano)
	kv["event"] = event
	b, _ := json.Marshal(kv)
	outMu.Lock()
	fmt.Fprintln(out, string(b))
	outMu.Unlock()
}
