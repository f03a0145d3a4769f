package worker

import (
	"fmt"

	"github.com/lyrascribe/lyrascribe/internal/queue"
)

// defaultPrompt asks for a diarised LRC transcript. Speaker labels are
// passed through to the model only; no speaker identification happens here.
const defaultPrompt = `Transcribe this audio into LRC format. Start every line with a
[mm:ss.xx] timestamp marking when the line is spoken. If multiple people
speak, prefix each line with a speaker label such as "Speaker A:".
Transcribe exactly what is said, without summarising or omitting anything.
Output only the LRC lines.`

// alignmentPromptFormat is used when the submission carries verbatim
// reference text, e.g. known lyrics: the model should align the reference
// against the audio instead of transcribing freely.
const alignmentPromptFormat = `The following is the exact text spoken or sung in this audio:

%s

Align this text against the audio and output it in LRC format: every line
starts with a [mm:ss.xx] timestamp marking when that line begins. Keep the
text verbatim. Output only the LRC lines.`

// translatePromptFormat instructs the model to translate an LRC document
// without disturbing the timestamps.
const translatePromptFormat = `Translate the following LRC transcript into %s. Keep every
[mm:ss.xx] timestamp marker exactly as it is and keep the line structure
unchanged; translate only the text after each timestamp. Output only the
LRC lines.`

// buildPrompt picks the transcription prompt for a job: alignment when
// reference text exists, then the custom prompt, then the default.
func buildPrompt(desc *queue.Descriptor) string {
	if desc.ReferenceText != "" {
		return fmt.Sprintf(alignmentPromptFormat, desc.ReferenceText)
	}
	if desc.Prompt != "" {
		return desc.Prompt
	}
	return defaultPrompt
}
