package scanning

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const geminiProvider = "gemini"

// Gemini implements the Scanner interface using Google Gemini
type Gemini struct {
	client *genai.Client
	model  *genai.GenerativeModel
}

// NewGemini creates a new Gemini Scanner instance
func NewGemini(apiKey string, modelName string, opts ...option.ClientOption) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if modelName == "" {
		modelName = "gemini-2.0-flash"
	}

	ctx := context.Background()
	client, err := genai.NewClient(ctx, append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	model := client.GenerativeModel(modelName)

	return &Gemini{
		client: client,
		model:  model,
	}, nil
}

// Extract sends the prompt and image to Gemini and returns the response text
func (g *Gemini) Extract(ctx context.Context, img Image) (string, error) {
	// genai.ImageData expects just the format suffix (e.g., "jpeg"), not the full MIME type
	parts := []genai.Part{
		genai.Text(invoiceScanPrompt),
		genai.ImageData(img.Format(), img.Data),
	}

	resp, err := g.model.GenerateContent(ctx, parts...)
	if err != nil {
		return "", geminiError(err)
	}

	text := responseText(resp)
	if text == "" {
		return "", fmt.Errorf("%s: %w", geminiProvider, ErrEmptyResponse)
	}
	return text, nil
}

// responseText concatenates the text parts of the first candidate
func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 {
		return ""
	}
	candidate := resp.Candidates[0]
	if candidate == nil || candidate.Content == nil {
		return ""
	}

	var responseText strings.Builder
	for _, part := range candidate.Content.Parts {
		if text, ok := part.(genai.Text); ok {
			responseText.WriteString(string(text))
		}
	}
	return strings.TrimSpace(responseText.String())
}

// geminiError keeps the HTTP status and message of API failures so callers can report them
func geminiError(err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		body := apiErr.Message
		if body == "" {
			body = apiErr.Body
		}
		return &ProviderError{Provider: geminiProvider, StatusCode: apiErr.Code, Body: body, Err: err}
	}
	return &ProviderError{Provider: geminiProvider, Err: fmt.Errorf("generating content: %w", err)}
}

// Close closes the Gemini client
func (g *Gemini) Close() error {
	return g.client.Close()
}
