package summarizer

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/chronologue/chronologue/internal/model"
)

const summaryPrompt = `You maintain a running markdown summary of one day of a conversation.
Fold the new transcript below into the prior summary. Keep decisions, facts,
names, and open questions. Drop filler. Output only the updated markdown
summary, no preamble.

Prior summary:
%s

New transcript:
%s
`

// Ollama summarizes through the local Ollama generate API.
type Ollama struct {
	client *resty.Client
	model  string
}

func NewOllama(baseURL, mdl string) *Ollama {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	c := resty.New().
		SetBaseURL(baseURL).
		SetHeader("Content-Type", "application/json").
		SetTimeout(5 * time.Minute)
	return &Ollama{client: c, model: mdl}
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Response string `json:"response"`
	Error    string `json:"error"`
}

func (o *Ollama) Summarize(ctx context.Context, priorSummary string, msgs []*model.Message) (string, error) {
	transcript := RenderTranscript(msgs)
	if transcript == "" {
		return priorSummary, nil
	}
	if priorSummary == "" {
		priorSummary = "(none)"
	}
	reqBody := generateRequest{
		Model:  o.model,
		Prompt: fmt.Sprintf(summaryPrompt, priorSummary, transcript),
	}
	resp, err := o.client.R().
		SetContext(ctx).
		SetBody(&reqBody).
		Post("/api/generate")
	if err != nil {
		return "", fmt.Errorf("ollama request: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return "", fmt.Errorf("ollama status %d: %s", resp.StatusCode(), resp.String())
	}
	var gr generateResponse
	if err := json.Unmarshal(resp.Body(), &gr); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if gr.Error != "" {
		return "", fmt.Errorf("ollama generate error: %s", gr.Error)
	}
	out := strings.TrimSpace(gr.Response)
	if out == "" {
		return "", fmt.Errorf("empty summary from model")
	}
	return out, nil
}
