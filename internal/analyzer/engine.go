// Package analyzer runs the model-backed extraction behind the streaming
// analysis endpoints.
package analyzer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/b4its/next-kepin/internal/models"
)

var (
	ErrQuotaExceeded = errors.New("model quota exceeded")
	ErrModelRequest  = errors.New("model request failed")
)

// Profile tunes the model call for one mode.
type Profile struct {
	Model           string
	MaxTokens       int
	ReasoningEffort string
	ImageDetail     openai.ImageURLDetail
}

// DefaultProfiles maps each mode to its model with increasing budgets.
func DefaultProfiles(fast, normal, deep string) map[models.Mode]Profile {
	return map[models.Mode]Profile{
		models.ModeFast:   {Model: fast, MaxTokens: 2048, ReasoningEffort: "low", ImageDetail: openai.ImageURLDetailLow},
		models.ModeNormal: {Model: normal, MaxTokens: 4096, ReasoningEffort: "medium", ImageDetail: openai.ImageURLDetailAuto},
		models.ModeDeep:   {Model: deep, MaxTokens: 8192, ReasoningEffort: "high", ImageDetail: openai.ImageURLDetailHigh},
	}
}

// Engine streams analyses from an OpenAI-compatible chat completion API.
type Engine struct {
	client   *openai.Client
	profiles map[models.Mode]Profile
	maxChars int
}

// NewClient builds the API client. baseURL may be empty for the default.
func NewClient(apiKey, baseURL string) *openai.Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	return openai.NewClientWithConfig(cfg)
}

// NewEngine builds an engine. maxChars caps the PDF text per request; zero
// means DefaultMaxDocumentChars.
func NewEngine(client *openai.Client, profiles map[models.Mode]Profile, maxChars int) *Engine {
	if maxChars <= 0 {
		maxChars = DefaultMaxDocumentChars
	}
	return &Engine{client: client, profiles: profiles, maxChars: maxChars}
}

// Stream runs the analysis, passing every raw chunk to emit as it arrives,
// and returns the concatenated content.
func (e *Engine) Stream(ctx context.Context, mode models.Mode, doc Document, emit func([]byte) error) (string, error) {
	req, err := e.request(mode, doc)
	if err != nil {
		return "", err
	}
	stream, err := e.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return "", classify(err)
	}
	defer stream.Close()

	var text strings.Builder
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return text.String(), nil
		}
		if err != nil {
			return text.String(), classify(err)
		}
		if len(chunk.Choices) > 0 {
			text.WriteString(chunk.Choices[0].Delta.Content)
		}

		b, err := json.Marshal(chunk)
		if err != nil {
			return text.String(), fmt.Errorf("encode chunk: %w", err)
		}
		if err := emit(b); err != nil {
			return text.String(), fmt.Errorf("emit chunk: %w", err)
		}
	}
}

// request builds the completion call. Images travel inline as data URLs and
// PDFs as their extracted text.
func (e *Engine) request(mode models.Mode, doc Document) (openai.ChatCompletionRequest, error) {
	p, ok := e.profiles[mode]
	if !ok {
		p = e.profiles[models.ModeNormal]
	}

	parts := []openai.ChatMessagePart{{Type: openai.ChatMessagePartTypeText, Text: userPrompt(mode, doc)}}
	switch {
	case len(doc.Data) == 0:
		return openai.ChatCompletionRequest{}, fmt.Errorf("%w: empty file", ErrUnreadableDocument)
	case doc.IsImage():
		parts = append(parts, openai.ChatMessagePart{
			Type:     openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{URL: doc.DataURL(), Detail: p.ImageDetail},
		})
	default:
		text, cut, err := pdfText(doc.Data, e.maxChars)
		if err != nil {
			return openai.ChatCompletionRequest{}, err
		}
		parts = append(parts, openai.ChatMessagePart{Type: openai.ChatMessagePartTypeText, Text: documentText(text, cut)})
	}

	req := openai.ChatCompletionRequest{
		Model: p.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, MultiContent: parts},
		},
		Stream: true,
	}
	if isReasoningModel(p.Model) {
		req.MaxCompletionTokens = p.MaxTokens
		req.ReasoningEffort = p.ReasoningEffort
	} else {
		req.MaxTokens = p.MaxTokens
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	}
	return req, nil
}

// isReasoningModel reports models that reject max_tokens in favour of
// max_completion_tokens.
func isReasoningModel(model string) bool {
	for _, prefix := range []string{"o1", "o3", "o4", "gpt-5"} {
		if strings.HasPrefix(model, prefix) {
			return true
		}
	}
	return false
}

func classify(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode == http.StatusTooManyRequests {
			return fmt.Errorf("%w: %s", ErrQuotaExceeded, apiErr.Message)
		}
		return fmt.Errorf("%w: %s", ErrModelRequest, apiErr.Message)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%w: %v", ErrQuotaExceeded, reqErr.Err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrModelRequest, err)
}
