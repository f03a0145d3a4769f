// Package subtitle parses LRC transcripts and renders them into SRT, VTT and
// plain-text form. It also rewrites LRC timestamps: a constant shift after a
// split, or a segment-wise remap from a speech-only timeline back onto the
// original timeline.
package subtitle

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Line is a single parsed LRC line.
type Line struct {
	// Time is the line start in seconds.
	Time float64

	// Text is the line content with any "Speaker X:" prefix removed.
	Text string
}

// Document holds all rendered subtitle formats for one transcript. All four
// fields are always present, possibly empty.
type Document struct {
	LRC string `json:"lrc"`
	SRT string `json:"srt"`
	VTT string `json:"vtt"`
	TXT string `json:"txt"`
}

// lineRe matches "[MM:SS.ff]text" with 2- or 3-digit fractional seconds.
var lineRe = regexp.MustCompile(`^\[(\d{2}):(\d{2})\.(\d{2,3})\](.*)$`)

// speakerRe matches diarisation prefixes such as "Speaker A:" or "Speaker 2:".
var speakerRe = regexp.MustCompile(`^Speaker\s+\S+:\s*`)

// lastLineHold is the display duration given to the final line, which has no
// successor to borrow an end time from.
const lastLineHold = 5.0

// ParseLRC parses LRC text into ordered lines. Lines that do not match the
// timestamp pattern are skipped silently; speaker-label prefixes are dropped.
func ParseLRC(text string) []Line {
	var lines []Line
	for _, raw := range strings.Split(strings.TrimSpace(text), "\n") {
		m := lineRe.FindStringSubmatch(raw)
		if m == nil {
			continue
		}
		minutes, _ := strconv.Atoi(m[1])
		seconds, _ := strconv.Atoi(m[2])
		frac, _ := strconv.ParseFloat("0."+m[3], 64)

		lines = append(lines, Line{
			Time: float64(minutes)*60 + float64(seconds) + frac,
			Text: speakerRe.ReplaceAllString(strings.TrimSpace(m[4]), ""),
		})
	}
	return lines
}

// ConvertAll renders an LRC transcript into every supported format. The end
// time of each cue is the start of the next; the last cue holds for
// [lastLineHold] seconds.
func ConvertAll(lrc string) Document {
	lines := ParseLRC(lrc)
	if len(lines) == 0 {
		return Document{LRC: lrc}
	}

	var srt, vtt, txt strings.Builder
	vtt.WriteString("WEBVTT\n\n")

	for i, line := range lines {
		end := line.Time + lastLineHold
		if i+1 < len(lines) {
			end = lines[i+1].Time
		}

		fmt.Fprintf(&srt, "%d\n%s --> %s\n%s\n\n",
			i+1, clockTime(line.Time, ','), clockTime(end, ','), line.Text)
		fmt.Fprintf(&vtt, "%s --> %s\n%s\n\n",
			clockTime(line.Time, '.'), clockTime(end, '.'), line.Text)
		txt.WriteString(line.Text)
		if i+1 < len(lines) {
			txt.WriteByte('\n')
		}
	}

	return Document{
		LRC: lrc,
		SRT: strings.TrimSuffix(srt.String(), "\n"),
		VTT: strings.TrimSuffix(vtt.String(), "\n"),
		TXT: txt.String(),
	}
}

// FormatTime renders seconds as an LRC timestamp "[MM:SS.cc]" with 2-digit
// hundredths.
func FormatTime(t float64) string {
	if t < 0 {
		t = 0
	}
	minutes := int(t) / 60
	seconds := int(t) % 60
	hundredths := int((t - float64(int(t))) * 100)
	return fmt.Sprintf("[%02d:%02d.%02d]", minutes, seconds, hundredths)
}

// clockTime renders seconds as "HH:MM:SS<sep>mmm" for SRT (',') or VTT ('.').
func clockTime(t float64, sep byte) string {
	if t < 0 {
		t = 0
	}
	millis := int(t*1000 + 0.5)
	hours := millis / 3_600_000
	minutes := millis / 60_000 % 60
	seconds := millis / 1000 % 60
	ms := millis % 1000
	return fmt.Sprintf("%02d:%02d:%02d%c%03d", hours, minutes, seconds, sep, ms)
}
