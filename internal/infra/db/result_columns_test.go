package db

import (
	"encoding/json"
	"testing"
	"time"

	"video-analysis-pipeline/internal/domain/model"
)

func TestEncodeResult_NilSlicesBecomeEmptyArrays(t *testing.T) {
	res := &model.AnalysisResult{ID: "r1", JobID: "j1", Summary: "empty scene", CreatedAt: time.Now()}
	cols, err := EncodeResult(res)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	for name, b := range map[string][]byte{"tags": cols.Tags, "entities": cols.Entities, "events": cols.Events, "frames": cols.Frames} {
		if string(b) != "[]" {
			t.Errorf("%s: expected [] got %s", name, b)
		}
	}
	if string(cols.Raw) != "{}" {
		t.Errorf("raw: expected {} got %s", cols.Raw)
	}
}

func TestResultColumns_Decode(t *testing.T) {
	in := model.NewAnalysisResult("j1", time.Now())
	in.Tags = []string{"car"}
	in.Events = []model.Event{{Name: "collision", Severity: model.SeverityHigh, Type: model.EventTypeTraffic, TimestampSeconds: 12.5}}
	in.Raw["summarize"] = json.RawMessage(`{"provider":"gemini"}`)

	cols, err := EncodeResult(in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var out model.AnalysisResult
	if err := cols.Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Tags) != 1 || out.Tags[0] != "car" {
		t.Errorf("tags: %v", out.Tags)
	}
	if len(out.Events) != 1 || out.Events[0].Severity != model.SeverityHigh || out.Events[0].TimestampSeconds != 12.5 {
		t.Errorf("events: %+v", out.Events)
	}
	if string(out.Raw["summarize"]) != `{"provider":"gemini"}` {
		t.Errorf("raw: %s", out.Raw["summarize"])
	}

	bad := ResultColumns{Tags: []byte("{not json")}
	if err := bad.Decode(&out); err == nil {
		t.Error("expected decode error for malformed column")
	}
}
