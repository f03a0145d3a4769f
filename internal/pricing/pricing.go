// Package pricing computes job cost from model token usage. Prices are
// expressed per million tokens and keyed by model id; the price book ships
// with a compiled-in default and can be replaced from configuration.
package pricing

// ContentType distinguishes how input tokens are priced.
type ContentType string

const (
	ContentText  ContentType = "text"
	ContentAudio ContentType = "audio"
)

// Price lists a model's rates in currency per million tokens.
type Price struct {
	InputText  float64 `yaml:"input_text" json:"input_text"`
	InputAudio float64 `yaml:"input_audio" json:"input_audio"`
	OutputText float64 `yaml:"output_text" json:"output_text"`
}

// Item is one billable unit of work, e.g. all transcription calls of a job
// or its translation call.
type Item struct {
	TaskName     string      `json:"task_name"`
	Model        string      `json:"model"`
	InputTokens  int64       `json:"input_tokens"`
	OutputTokens int64       `json:"output_tokens"`
	ContentType  ContentType `json:"content_type"`
}

// Book maps model ids to prices.
type Book map[string]Price

// DefaultBook covers the model ids accepted out of the box. Deployments
// override it from configuration; admission rejects models absent from the
// active book.
func DefaultBook() Book {
	return Book{
		"gemini-2.5-pro": {
			InputAudio: 1.25,
			InputText:  1.25,
			OutputText: 10.00,
		},
		"gemini-2.5-flash": {
			InputAudio: 1.00,
			InputText:  0.30,
			OutputText: 2.50,
		},
		"gemini-2.0-flash": {
			InputAudio: 0.70,
			InputText:  0.10,
			OutputText: 0.40,
		},
		"gpt-4o-transcribe": {
			InputAudio: 6.00,
			InputText:  2.50,
			OutputText: 10.00,
		},
	}
}

// Known reports whether the model id has a price entry.
func (b Book) Known(model string) bool {
	_, ok := b[model]
	return ok
}

// Cost prices a single item: input tokens at the content-type rate plus
// output tokens at the text rate, both per million.
func (b Book) Cost(item Item) float64 {
	price, ok := b[item.Model]
	if !ok {
		return 0
	}
	inputRate := price.InputText
	if item.ContentType == ContentAudio {
		inputRate = price.InputAudio
	}
	return float64(item.InputTokens)/1e6*inputRate +
		float64(item.OutputTokens)/1e6*price.OutputText
}

// Total sums the cost of all items.
func (b Book) Total(items []Item) float64 {
	var sum float64
	for _, item := range items {
		sum += b.Cost(item)
	}
	return sum
}

// BreakdownEntry is one item of the per-job cost report.
type BreakdownEntry struct {
	TaskName     string      `json:"task_name"`
	InputTokens  int64       `json:"input_tokens"`
	OutputTokens int64       `json:"output_tokens"`
	ContentType  ContentType `json:"content_type"`
	Cost         float64     `json:"cost"`
}

// Breakdown prices each item individually for the final result payload.
func (b Book) Breakdown(items []Item) []BreakdownEntry {
	entries := make([]BreakdownEntry, 0, len(items))
	for _, item := range items {
		entries = append(entries, BreakdownEntry{
			TaskName:     item.TaskName,
			InputTokens:  item.InputTokens,
			OutputTokens: item.OutputTokens,
			ContentType:  item.ContentType,
			Cost:         b.Cost(item),
		})
	}
	return entries
}
