package vision

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

const receiptPrompt = `You are analyzing a photo or scan of a purchase receipt.
Read all text in the image and return ONLY a JSON object with this shape:
{
  "vendor_name": string,
  "vendor_address": string or omitted,
  "receipt_date": "YYYY-MM-DD",
  "total_amount": number,
  "tax_amount": number or omitted,
  "currency": ISO 4217 code or omitted,
  "line_items": [
    {"description": string, "quantity": number or omitted,
     "unit_price": number or omitted, "total_amount": number,
     "category": string or omitted}
  ],
  "confidence_score": number between 0 and 1
}
Do not wrap the JSON in markdown. Omit fields you cannot read instead of guessing.`

// Gemini implements Client using Google Gemini.
type Gemini struct {
	client *genai.Client
	model  *genai.GenerativeModel
}

// NewGemini creates a Gemini-backed vision client.
func NewGemini(ctx context.Context, apiKey, modelName string) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("vision: gemini api key is required")
	}
	if modelName == "" {
		modelName = "gemini-2.5-pro"
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("vision: creating gemini client: %w", err)
	}

	return &Gemini{
		client: client,
		model:  client.GenerativeModel(modelName),
	}, nil
}

// Analyze sends the image and prompt to the model and parses the response.
func (g *Gemini) Analyze(ctx context.Context, img Image) (*ReceiptAnalysis, error) {
	parts := []genai.Part{
		genai.ImageData(imageFormat(img.MIMEType), img.Data),
		genai.Text(receiptPrompt),
	}

	resp, err := g.model.GenerateContent(ctx, parts...)
	if err != nil {
		return nil, fmt.Errorf("%w: generating content: %v", ErrExtraction, err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("%w: empty model response", ErrExtraction)
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			text.WriteString(string(t))
		}
	}

	analysis, err := ParseAnalysis(text.String())
	if err != nil {
		return nil, err
	}
	return analysis, nil
}

// Close releases the underlying client.
func (g *Gemini) Close() error {
	return g.client.Close()
}

var _ Client = (*Gemini)(nil)

// imageFormat maps a MIME type to the format suffix genai expects.
func imageFormat(mimeType string) string {
	if idx := strings.IndexByte(mimeType, '/'); idx >= 0 {
		format := mimeType[idx+1:]
		if format != "" {
			return format
		}
	}
	return "png"
}
