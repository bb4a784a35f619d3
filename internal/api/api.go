// Package api models the wire protocol of OpenAI-compatible inference
// endpoints: request construction for the completions and chat shapes,
// and extraction of completion text and token usage from responses.
package api

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/graymantle/crucible/internal/suite"
)

// Style is the wire-protocol shape an endpoint expects.
type Style string

const (
	StyleCompletions Style = "completions"
	StyleChat        Style = "chat"
)

// DetectStyle infers the API style from the endpoint path. The second
// return value is false when no known pattern matched and completions
// was assumed; callers should surface a warning but proceed.
func DetectStyle(endpoint string) (Style, bool) {
	switch {
	case strings.Contains(endpoint, "/chat/"):
		return StyleChat, true
	case strings.Contains(endpoint, "/completions"):
		return StyleCompletions, true
	default:
		return StyleCompletions, false
	}
}

// Config describes one inference endpoint. Built once before a run
// starts and treated as read-only while the run is active.
type Config struct {
	Endpoint      string
	Model         string
	Headers       map[string]string
	Timeout       time.Duration
	RetryAttempts int
	RetryDelay    time.Duration
	Style         Style
}

// Request is the JSON body POSTed to the endpoint. Fields not used by
// the selected style stay zero and are omitted from the encoding.
type Request struct {
	Model       string          `json:"model"`
	Prompt      string          `json:"prompt,omitempty"`
	Messages    []suite.Message `json:"messages,omitempty"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature float64         `json:"temperature,omitempty"`
	TopP        float64         `json:"top_p,omitempty"`
	Stop        []string        `json:"stop,omitempty"`
	Stream      bool            `json:"stream"`
}

// BuildRequest constructs the wire body for a test case. Deterministic
// and side-effect free: identical inputs yield identical requests.
func BuildRequest(tc *suite.TestCase, cfg *Config) *Request {
	req := &Request{
		Model:       cfg.Model,
		MaxTokens:   tc.Params.MaxTokens,
		Temperature: tc.Params.Temperature,
		Stream:      tc.Params.Stream,
	}
	switch cfg.Style {
	case StyleChat:
		if len(tc.Messages) > 0 {
			req.Messages = tc.Messages
		} else {
			// Prompt-only cases run against a chat endpoint as a
			// single user turn.
			req.Messages = []suite.Message{{Role: "user", Content: tc.Prompt}}
		}
	default:
		req.Prompt = tc.Prompt
		req.TopP = tc.Params.TopP
		req.Stop = tc.Params.Stop
	}
	return req
}

// Usage is the token accounting block of a response.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type choice struct {
	Text    string `json:"text"`
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
}

type wireResponse struct {
	Choices []choice `json:"choices"`
	Usage   Usage    `json:"usage"`
}

// Response is the decoded portion of an endpoint reply the engine
// cares about. Raw retains the full body for the result record.
type Response struct {
	Text  string
	Usage Usage
	Raw   json.RawMessage
}

// ParseResponse extracts completion text and usage from a response
// body. The text location depends on the API style: choices[0].text
// for completions, choices[0].message.content for chat.
func ParseResponse(data []byte, style Style) (*Response, error) {
	var wire wireResponse
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	resp := &Response{
		Usage: wire.Usage,
		Raw:   json.RawMessage(append([]byte(nil), data...)),
	}
	if len(wire.Choices) > 0 {
		if style == StyleChat {
			resp.Text = wire.Choices[0].Message.Content
		} else {
			resp.Text = wire.Choices[0].Text
		}
	}
	return resp, nil
}
