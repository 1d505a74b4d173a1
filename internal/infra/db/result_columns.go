// Package db holds helpers shared by the SQL job stores.
package db

import (
	"encoding/json"
	"fmt"

	"video-analysis-pipeline/internal/domain/model"
)

// ResultColumns holds the JSON-encoded columns of an analysis_results row.
type ResultColumns struct {
	Tags, Entities, Events, Frames, Raw []byte
}

func EncodeResult(res *model.AnalysisResult) (ResultColumns, error) {
	var (
		c   ResultColumns
		err error
	)
	if c.Tags, err = json.Marshal(nonNil(res.Tags)); err != nil {
		return c, err
	}
	if c.Entities, err = json.Marshal(nonNil(res.Entities)); err != nil {
		return c, err
	}
	if c.Events, err = json.Marshal(nonNil(res.Events)); err != nil {
		return c, err
	}
	if c.Frames, err = json.Marshal(nonNil(res.FrameDetections)); err != nil {
		return c, err
	}
	raw := res.Raw
	if raw == nil {
		raw = map[string]json.RawMessage{}
	}
	if c.Raw, err = json.Marshal(raw); err != nil {
		return c, err
	}
	return c, nil
}

// Decode fills the JSON-backed fields of res. Empty columns are left untouched.
func (c ResultColumns) Decode(res *model.AnalysisResult) error {
	for _, f := range []struct {
		b   []byte
		dst interface{}
	}{
		{c.Tags, &res.Tags}, {c.Entities, &res.Entities}, {c.Events, &res.Events},
		{c.Frames, &res.FrameDetections}, {c.Raw, &res.Raw},
	} {
		if len(f.b) == 0 {
			continue
		}
		if err := json.Unmarshal(f.b, f.dst); err != nil {
			return fmt.Errorf("decode result column: %w", err)
		}
	}
	return nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
