package logging

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestJSONLoggerCarriesServiceAndLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := newJSONLogger(&buf, "file-converter-api", "warn")
	logger.Info("conversion_state", "state", "received")
	if buf.Len() != 0 {
		t.Fatalf("info must be filtered at warn level, got %q", buf.String())
	}

	logger.Warn("backend_capability_drift", "backend", "office")
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if entry["service"] != "file-converter-api" || entry["msg"] != "backend_capability_drift" {
		t.Fatalf("unexpected log entry %v", entry)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]string{"DEBUG": "DEBUG", "warning": "WARN", "error": "ERROR", "": "INFO", "bogus": "INFO"}
	for in, want := range cases {
		if got := parseLevel(in).String(); got != want {
			t.Fatalf("parseLevel(%q) = %s, want %s", in, got, want)
		}
	}
}
