package domain

import (
	"encoding/json"
	"testing"
)

func TestMetaStringKeepsTimestampDigits(t *testing.T) {
	var meta map[string]any
	if err := json.Unmarshal([]byte(`{"timestamp":1718000000123,"nonce":"n-1","flag":true}`), &meta); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	task := Task{Metadata: meta}
	if got := task.MetaString("timestamp"); got != "1718000000123" {
		t.Fatalf("timestamp rendered as %q", got)
	}
	if got := task.MetaString("nonce"); got != "n-1" {
		t.Fatalf("nonce rendered as %q", got)
	}
	if got := task.MetaString("flag"); got != "true" {
		t.Fatalf("flag rendered as %q", got)
	}
	if got := task.MetaString("missing"); got != "" {
		t.Fatalf("expected empty for missing key, got %q", got)
	}
}

func TestMergeMetadataDoesNotMutateBase(t *testing.T) {
	base := map[string]any{"a": 1, "b": 2}
	out := MergeMetadata(base, map[string]any{"b": 3, "c": 4})
	if base["b"] != 2 {
		t.Fatalf("base mutated: %v", base)
	}
	if out["a"] != 1 || out["b"] != 3 || out["c"] != 4 {
		t.Fatalf("unexpected merge result: %v", out)
	}
}
