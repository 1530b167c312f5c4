package observ

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"os"
	"testing"
	"time"
)

func TestLogWritesJSONLine(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stdout)

	Log("trade_submitted", map[string]any{"acc": "normal", "code": "600000"})

	var got map[string]any
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("not a JSON line: %v", err)
	}
	if got["event"] != "trade_submitted" || got["acc"] != "normal" {
		t.Fatalf("event fields = %v", got)
	}
	if got["ts"] == nil {
		t.Fatal("ts missing")
	}
}

func TestRecordDurationShowsInDump(t *testing.T) {
	RecordDuration("reconcile_pass", 250*time.Millisecond, nil)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	var dump struct {
		Hist map[string]map[string][]float64 `json:"histograms"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &dump); err != nil {
		t.Fatal(err)
	}
	obs := dump.Hist["reconcile_pass_ms"][""]
	if len(obs) == 0 || obs[len(obs)-1] != 250 {
		t.Fatalf("reconcile_pass_ms observations = %v", obs)
	}
}
