package analyzer

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/b4its/next-kepin/internal/models"
)

func fakeCompletions(t *testing.T, got *openai.ChatCompletionRequest, deltas ...string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(got))

		w.Header().Set("Content-Type", "text/event-stream")
		for _, d := range deltas {
			b, _ := json.Marshal(openai.ChatCompletionStreamResponse{
				ID:      "chatcmpl-1",
				Choices: []openai.ChatCompletionStreamChoice{{Delta: openai.ChatCompletionStreamChoiceDelta{Content: d}}},
			})
			fmt.Fprintf(w, "data: %s\n\n", b)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
}

var scan = Document{FileName: "scan.png", ContentType: "image/png", Data: pngHeader}

func testEngine(url string) *Engine {
	return NewEngine(NewClient("sk-test", url+"/v1/"), DefaultProfiles("gpt-4o-mini", "gpt-4o", "o4-mini"), 0)
}

func TestEngineStreamsDeltas(t *testing.T) {
	var got openai.ChatCompletionRequest
	srv := fakeCompletions(t, &got, `{"nama_entitas":`, ` "PT Maju"}`)
	defer srv.Close()

	var emitted []openai.ChatCompletionStreamResponse
	text, err := testEngine(srv.URL).Stream(context.Background(), models.ModeNormal,
		Document{FileName: "lk.pdf", ContentType: "application/pdf", Data: onePagePDF("PT Maju", "Laba bersih 1500")},
		func(b []byte) error {
			var chunk openai.ChatCompletionStreamResponse
			require.NoError(t, json.Unmarshal(b, &chunk))
			emitted = append(emitted, chunk)
			return nil
		})
	require.NoError(t, err)
	assert.Equal(t, `{"nama_entitas": "PT Maju"}`, text)
	require.Len(t, emitted, 2)
	assert.Equal(t, ` "PT Maju"}`, emitted[1].Choices[0].Delta.Content)

	assert.Equal(t, "gpt-4o", got.Model)
	assert.True(t, got.Stream)
	assert.Equal(t, 4096, got.MaxTokens)
	require.Len(t, got.Messages, 2)
	parts := got.Messages[1].MultiContent
	require.Len(t, parts, 2)
	assert.Contains(t, parts[0].Text, "lk.pdf")
	assert.Equal(t, openai.ChatMessagePartTypeText, parts[1].Type)
	assert.Contains(t, parts[1].Text, "PT Maju")
	assert.Contains(t, parts[1].Text, "Laba bersih 1500")
	assert.NotContains(t, parts[1].Text, "http")
}

func TestEngineCutsLongPDFText(t *testing.T) {
	var got openai.ChatCompletionRequest
	srv := fakeCompletions(t, &got, "{}")
	defer srv.Close()

	engine := NewEngine(NewClient("sk-test", srv.URL+"/v1/"), DefaultProfiles("a", "b", "c"), 10)
	_, err := engine.Stream(context.Background(), models.ModeFast,
		Document{FileName: "lk.pdf", ContentType: "application/pdf", Data: onePagePDF("Laporan posisi keuangan konsolidasian")},
		func([]byte) error { return nil })
	require.NoError(t, err)

	text := got.Messages[1].MultiContent[1].Text
	assert.Contains(t, text, "Laporan po")
	assert.NotContains(t, text, "konsolidasian")
	assert.Contains(t, text, "dipotong")
}

func TestEngineRejectsUnreadableDocument(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { calls++ }))
	defer srv.Close()

	for name, doc := range map[string]Document{
		"empty":      {FileName: "lk.pdf", ContentType: "application/pdf"},
		"scanned":    {FileName: "lk.pdf", ContentType: "application/pdf", Data: onePagePDF()},
		"not a pdf":  {FileName: "lk.pdf", ContentType: "application/pdf", Data: []byte("<html>")},
		"empty scan": {FileName: "scan.png", ContentType: "image/png"},
	} {
		_, err := testEngine(srv.URL).Stream(context.Background(), models.ModeNormal, doc, func([]byte) error { return nil })
		assert.ErrorIs(t, err, ErrUnreadableDocument, name)
	}
	assert.Zero(t, calls, "no request is made for unreadable documents")
}

func TestEngineAttachesImagesAndUsesReasoningBudget(t *testing.T) {
	var got openai.ChatCompletionRequest
	srv := fakeCompletions(t, &got, "{}")
	defer srv.Close()

	_, err := testEngine(srv.URL).Stream(context.Background(), models.ModeDeep,
		Document{FileName: "scan.png", ContentType: "image/png", Data: pngHeader},
		func([]byte) error { return nil })
	require.NoError(t, err)

	assert.Equal(t, "o4-mini", got.Model)
	assert.Zero(t, got.MaxTokens)
	assert.Equal(t, 8192, got.MaxCompletionTokens)
	assert.Equal(t, "high", got.ReasoningEffort)
	parts := got.Messages[1].MultiContent
	require.Len(t, parts, 2)
	assert.Equal(t, openai.ChatMessagePartTypeImageURL, parts[1].Type)
	assert.Equal(t, "data:image/png;base64,"+base64.StdEncoding.EncodeToString(pngHeader), parts[1].ImageURL.URL)
	assert.Equal(t, openai.ImageURLDetailHigh, parts[1].ImageURL.Detail)
}

func TestEngineQuotaExceeded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"message":"quota exhausted","type":"insufficient_quota"}}`)
	}))
	defer srv.Close()

	_, err := testEngine(srv.URL).Stream(context.Background(), models.ModeFast, scan, func([]byte) error { return nil })
	require.ErrorIs(t, err, ErrQuotaExceeded)
	assert.Contains(t, err.Error(), "quota exhausted")
}

func TestEngineStopsWhenEmitFails(t *testing.T) {
	var got openai.ChatCompletionRequest
	srv := fakeCompletions(t, &got, "a", "b", "c")
	defer srv.Close()

	calls := 0
	_, err := testEngine(srv.URL).Stream(context.Background(), models.ModeFast, scan, func([]byte) error {
		calls++
		return context.Canceled
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestIsReasoningModel(t *testing.T) {
	assert.True(t, isReasoningModel("o4-mini"))
	assert.True(t, isReasoningModel("gpt-5"))
	assert.False(t, isReasoningModel("gpt-4o"))
}
