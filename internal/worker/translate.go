package worker

import (
	"context"
	"fmt"
	"strings"

	"github.com/abadojack/whatlanggo"
	"golang.org/x/text/language"

	"github.com/lyrascribe/lyrascribe/internal/pricing"
	"github.com/lyrascribe/lyrascribe/internal/subtitle"
)

// translate runs the non-fatal translation stage. It returns the translated
// LRC, its cost item and token count — or zero values when translation was
// skipped or failed, in which case the caller keeps the original LRC.
func (w *Worker) translate(ctx context.Context, j *job, lrc string) (string, *pricing.Item, int64) {
	target := j.desc.TargetLang
	if !needsTranslation(lrc, target) {
		j.log.Info("transcript already in target language, skipping translation",
			"target", target)
		return "", nil, 0
	}

	prompt := fmt.Sprintf(translatePromptFormat, target)
	res, err := j.adapter.Translate(ctx, lrc, prompt)
	if err != nil {
		j.log.Warn("translation failed, keeping original transcript", "error", err)
		w.metrics.RecordProviderError(ctx, j.desc.Provider, "translate")
		return "", nil, 0
	}
	if !res.Success {
		j.log.Warn("translation declined by provider, keeping original transcript",
			"reason", res.Text)
		return "", nil, 0
	}

	return strings.TrimSpace(res.Text), &pricing.Item{
		TaskName:     "total_translation",
		Model:        j.desc.Model,
		InputTokens:  res.InputTokens,
		OutputTokens: res.OutputTokens,
		ContentType:  pricing.ContentText,
	}, res.TotalTokens
}

// needsTranslation compares the detected language of the transcript's text
// portion with the target at the primary-subtag level; en and en-GB match,
// en and zh-TW do not. Detection failures err on the side of translating.
func needsTranslation(lrc, target string) bool {
	targetTag, err := language.Parse(target)
	if err != nil {
		return true
	}
	targetBase, _ := targetTag.Base()

	var texts []string
	for _, line := range subtitle.ParseLRC(lrc) {
		texts = append(texts, line.Text)
	}
	sample := strings.Join(texts, "\n")
	if strings.TrimSpace(sample) == "" {
		return false
	}

	info := whatlanggo.Detect(sample)
	code := info.Lang.Iso6391()
	if code == "" {
		return true
	}
	srcTag, err := language.Parse(code)
	if err != nil {
		return true
	}
	srcBase, _ := srcTag.Base()
	return srcBase != targetBase
}
