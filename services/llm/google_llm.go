package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/datasulting/nl2sql/pkg/secrets"
	"github.com/datasulting/nl2sql/services/translator/datatypes"
)

const defaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta/models"

type geminiRequest struct {
	Contents          []geminiContent  `json:"contents"`
	SystemInstruction *geminiContent   `json:"systemInstruction,omitempty"`
	GenerationConfig  *geminiGenConfig `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiGenConfig struct {
	Temperature     *float32 `json:"temperature,omitempty"`
	TopP            *float32 `json:"topP,omitempty"`
	TopK            *int     `json:"topK,omitempty"`
	MaxOutputTokens *int     `json:"maxOutputTokens,omitempty"`
	StopSequences   []string `json:"stopSequences,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
	Error *geminiError `json:"error,omitempty"`
}

type geminiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

// --- Client Implementation ---

type GoogleClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     *secrets.APIKey
	model      string
}

func NewGoogleClient() (*GoogleClient, error) {
	key, err := secrets.Load("google", "GEMINI_API_KEY")
	if err != nil {
		slog.Warn("Gemini API Key is missing.")
		return nil, err
	}

	model := os.Getenv("GEMINI_MODEL")
	if model == "" {
		model = "gemini-2.0-flash"
		slog.Info("GEMINI_MODEL not set, defaulting to", "model", model)
	}

	return &GoogleClient{
		httpClient: &http.Client{Timeout: 60 * time.Second},
		baseURL:    defaultGeminiBaseURL,
		apiKey:     key,
		model:      model,
	}, nil
}

func (g *GoogleClient) Name() string {
	return "google"
}

// Generate implements the LLMClient interface
func (g *GoogleClient) Generate(ctx context.Context, prompt string, params GenerationParams) (string, error) {
	messages := []datatypes.Message{
		{Role: "user", Content: prompt},
	}
	return g.Chat(ctx, messages, params)
}

// Chat implements the LLMClient interface
func (g *GoogleClient) Chat(ctx context.Context, messages []datatypes.Message, params GenerationParams) (string, error) {
	var contents []geminiContent
	var systemInstruction *geminiContent

	// Gemini keeps the system prompt in its own field and names the
	// assistant role "model".
	for _, msg := range messages {
		role := strings.ToLower(msg.Role)
		switch role {
		case "system":
			systemInstruction = &geminiContent{Parts: []geminiPart{{Text: msg.Content}}}
			continue
		case "assistant":
			role = "model"
		}
		contents = append(contents, geminiContent{
			Role:  role,
			Parts: []geminiPart{{Text: msg.Content}},
		})
	}

	reqPayload := geminiRequest{
		Contents:          contents,
		SystemInstruction: systemInstruction,
		GenerationConfig: &geminiGenConfig{
			Temperature:     params.Temperature,
			TopP:            params.TopP,
			TopK:            params.TopK,
			MaxOutputTokens: params.MaxTokens,
			StopSequences:   params.Stop,
		},
	}

	reqBodyBytes, err := json.Marshal(reqPayload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/%s:generateContent", g.baseURL, g.model)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(reqBodyBytes))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	apiKey, err := g.apiKey.Reveal()
	if err != nil {
		return "", NewProviderError(g.Name(), http.StatusUnauthorized, err)
	}
	req.Header.Set("x-goog-api-key", apiKey)
	req.Header.Set("content-type", "application/json")

	slog.Debug("Sending REST request to Gemini", "model", g.model)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", NewTransportError(g.Name(), err)
	}
	defer resp.Body.Close()

	bodyBytes, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		slog.Warn("Gemini returned an error",
			"status", resp.StatusCode, "body_snippet", snippet(bodyBytes))
		return "", NewProviderError(g.Name(), resp.StatusCode,
			fmt.Errorf("gemini API returned status %d: %s", resp.StatusCode, snippet(bodyBytes)))
	}

	var apiResp geminiResponse
	if err := json.Unmarshal(bodyBytes, &apiResp); err != nil {
		return "", fmt.Errorf("failed to parse response JSON: %w", err)
	}

	if apiResp.Error != nil {
		return "", NewProviderError(g.Name(), apiResp.Error.Code,
			fmt.Errorf("gemini API error: %s - %s", apiResp.Error.Status, apiResp.Error.Message))
	}

	if len(apiResp.Candidates) == 0 {
		return "", fmt.Errorf("received no candidates from Gemini")
	}

	finalText := ""
	for _, part := range apiResp.Candidates[0].Content.Parts {
		finalText += part.Text
	}

	if finalText == "" {
		return "", fmt.Errorf("received a candidate but no text parts")
	}

	return finalText, nil
}
