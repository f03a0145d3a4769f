package subtitle

import (
	"strings"

	"github.com/lyrascribe/lyrascribe/internal/media"
)

// Shift adds a constant offset (seconds) to every timestamped line. Lines
// without a recognisable timestamp are preserved verbatim, as is each line's
// text tail. Shift with offset 0 returns the input unchanged.
func Shift(lrc string, offset float64) string {
	if offset == 0 {
		return lrc
	}

	lines := strings.Split(strings.TrimSpace(lrc), "\n")
	out := make([]string, 0, len(lines))
	for _, raw := range lines {
		m := lineRe.FindStringSubmatch(raw)
		if m == nil {
			out = append(out, raw)
			continue
		}
		parsed := ParseLRC(raw)
		if len(parsed) == 0 {
			out = append(out, raw)
			continue
		}
		t := parsed[0].Time + offset
		out = append(out, FormatTime(t)+m[4])
	}
	return strings.Join(out, "\n")
}

// Remap rewrites LRC timestamps from the timeline of a speech-only
// concatenation back onto the original timeline. segments lists the original
// speech intervals in order; a line at concatenated time t falling inside
// segment i (by cumulative duration) moves to segments[i].Start plus its
// offset within the segment, keeping the text tail verbatim like [Shift].
// Untimed lines and lines past the end of all segments are dropped.
func Remap(lrc string, segments []media.Interval) string {
	if len(segments) == 0 {
		return ""
	}

	cumulative := make([]float64, len(segments))
	var total float64
	for i, seg := range segments {
		cumulative[i] = total
		total += seg.Duration()
	}

	var out []string
	for _, raw := range strings.Split(strings.TrimSpace(lrc), "\n") {
		m := lineRe.FindStringSubmatch(raw)
		if m == nil {
			continue
		}
		parsed := ParseLRC(raw)
		if len(parsed) == 0 {
			continue
		}
		t := parsed[0].Time

		idx := -1
		for i := range segments {
			if t < cumulative[i]+segments[i].Duration() {
				idx = i
				break
			}
		}
		if idx < 0 {
			continue
		}
		remapped := segments[idx].Start + (t - cumulative[idx])
		out = append(out, FormatTime(remapped)+m[4])
	}
	return strings.Join(out, "\n")
}
