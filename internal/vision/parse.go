package vision

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

var receiptDateFormats = []string{
	"2006-01-02",
	"2006/01/02",
	"01/02/2006",
	"02-01-2006",
	"Jan 2, 2006",
}

// ParseAnalysis parses model output into a ReceiptAnalysis. The model is
// asked for bare JSON but routinely wraps it in markdown fences, so the
// text is trimmed to the outermost JSON object before unmarshaling.
// Garbled or absent JSON is an ErrExtraction, never an empty analysis.
func ParseAnalysis(text string) (*ReceiptAnalysis, error) {
	text = stripFences(strings.TrimSpace(text))

	startIdx := strings.Index(text, "{")
	if startIdx == -1 {
		return nil, fmt.Errorf("%w: no JSON object in response", ErrExtraction)
	}
	endIdx := strings.LastIndex(text, "}")
	if endIdx == -1 || endIdx < startIdx {
		return nil, fmt.Errorf("%w: truncated JSON object in response", ErrExtraction)
	}
	text = text[startIdx : endIdx+1]

	var analysis ReceiptAnalysis
	if err := json.Unmarshal([]byte(text), &analysis); err != nil {
		return nil, fmt.Errorf("%w: unmarshaling response: %v", ErrExtraction, err)
	}

	analysis.VendorName = strings.TrimSpace(analysis.VendorName)
	analysis.ReceiptDate = normalizeDate(analysis.ReceiptDate)
	analysis.ConfidenceScore = normalizeConfidence(analysis.ConfidenceScore)
	analysis.Currency = strings.ToUpper(strings.TrimSpace(analysis.Currency))

	return &analysis, nil
}

// stripFences removes a surrounding markdown code fence together with any
// language tag on the opening line ("```json", "``` json", bare "```").
func stripFences(text string) string {
	if strings.HasPrefix(text, "```") {
		rest := strings.TrimPrefix(text, "```")
		if nl := strings.IndexByte(rest, '\n'); nl >= 0 && !strings.Contains(rest[:nl], "{") {
			rest = rest[nl+1:]
		}
		text = rest
	}
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	return strings.TrimSpace(text)
}

// normalizeDate coerces the model's date into ISO format, falling back to
// today when it cannot be parsed at all.
func normalizeDate(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Now().Format("2006-01-02")
	}
	for _, format := range receiptDateFormats {
		if d, err := time.Parse(format, raw); err == nil {
			return d.Format("2006-01-02")
		}
	}
	return time.Now().Format("2006-01-02")
}

// normalizeConfidence unifies confidence onto the 0..1 scale. Models
// sometimes report percentages; anything above 1 is treated as 0..100.
func normalizeConfidence(score float64) float64 {
	if score > 1 {
		score = score / 100
	}
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}
