// Package window maps a source timeline onto fixed 60-second analysis windows.
//
// All functions are pure. Windows are half-open [Start, End) and produced in
// ascending order without gaps or overlaps.
package window

import (
	"fmt"
	"math"
)

// Size is the length of a full window in seconds.
const Size int64 = 60

// Window is a half-open range of seconds. Depending on the caller the bounds are
// Unix epoch seconds (live) or seconds relative to an asset's start (recordings).
type Window struct {
	Start int64
	End   int64
}

func (w Window) Length() int64 { return w.End - w.Start }

// Contains reports whether offset, relative to the window start, falls inside the window.
func (w Window) Contains(offset float64) bool {
	return offset >= 0 && offset < float64(w.Length())
}

func (w Window) String() string { return fmt.Sprintf("[%d,%d)", w.Start, w.End) }

// Seed returns the watermark used for a source that has never been scheduled,
// so that its first tick yields exactly one window ending at now.
func Seed(now int64) int64 { return now - Size }

// Advance returns every full window between the watermark and now, plus the new
// watermark. A nil lastProcessed is seeded with Seed(now).
//
// Windows start at the watermark and step by Size while the window end does not
// pass now. A trailing partial window is left for a later tick, so the returned
// watermark can trail now by up to Size-1 seconds. When no full window fits, the
// result is empty and the watermark is returned unchanged.
func Advance(lastProcessed *int64, now int64) ([]Window, int64) {
	wm := Seed(now)
	if lastProcessed != nil {
		wm = *lastProcessed
	}
	if now-wm < Size {
		return nil, wm
	}

	n := (now - wm) / Size
	out := make([]Window, 0, n)
	for w := wm; w+Size <= now; w += Size {
		out = append(out, Window{Start: w, End: w + Size})
	}
	return out, out[len(out)-1].End
}

// Decompose splits a recording of the given duration (seconds) into full windows
// followed by one tail window covering the remainder, if any. The tail ends at
// ceil(duration) so fractional trailing footage is never dropped.
func Decompose(duration float64) []Window {
	if duration <= 0 || math.IsNaN(duration) || math.IsInf(duration, 0) {
		return nil
	}
	end := int64(math.Ceil(duration))
	full := int64(math.Floor(duration)) / Size

	out := make([]Window, 0, full+1)
	for i := int64(0); i < full; i++ {
		out = append(out, Window{Start: i * Size, End: (i + 1) * Size})
	}
	if tail := full * Size; tail < end {
		out = append(out, Window{Start: tail, End: end})
	}
	return out
}
