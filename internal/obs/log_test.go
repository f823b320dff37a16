package obs

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestComponentLogIsJSON(t *testing.T) {
	var buf bytes.Buffer
	prev := SetOutput(&buf)
	defer SetOutput(prev)

	Component("evidence").WithField("permit_id", 7).Warn("orphaned file")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log not valid JSON: %v (%q)", err, buf.String())
	}
	if entry["component"] != "evidence" {
		t.Fatalf("unexpected component: %v", entry["component"])
	}
	if entry["level"] != "warning" {
		t.Fatalf("unexpected level: %v", entry["level"])
	}
	if entry["msg"] != "orphaned file" {
		t.Fatalf("unexpected msg: %v", entry["msg"])
	}
	if _, ok := entry["ts"]; !ok {
		t.Fatal("expected ts field")
	}
}

func TestSetLevelFallsBackToInfo(t *testing.T) {
	prevLevel := Logger().GetLevel()
	defer Logger().SetLevel(prevLevel)

	SetLevel("not-a-level")
	if got := Logger().GetLevel().String(); got != "info" {
		t.Fatalf("level=%s, want info", got)
	}
	SetLevel("debug")
	if got := Logger().GetLevel().String(); got != "debug" {
		t.Fatalf("level=%s, want debug", got)
	}
}
