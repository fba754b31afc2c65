package compiler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/responses"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gpt-5-nano"

// OpenAIConfig configures the Responses API compiler.
type OpenAIConfig struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
}

// OpenAI compiles requests with the OpenAI Responses API and strict
// structured output.
type OpenAI struct {
	model   string
	service responses.ResponseService
}

// NewOpenAI creates an OpenAI compiler. A nil httpClient gets one with the
// configured timeout.
func NewOpenAI(cfg OpenAIConfig, httpClient *http.Client) *OpenAI {
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	opts := []option.RequestOption{option.WithHTTPClient(httpClient)}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		opts = append(opts, option.WithBaseURL(base))
	}
	if key := strings.TrimSpace(cfg.APIKey); key != "" {
		opts = append(opts, option.WithAPIKey(key))
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = DefaultModel
	}
	return &OpenAI{model: model, service: responses.NewResponseService(opts...)}
}

// Compile sends req to the model and decodes the structured result.
func (c *OpenAI) Compile(ctx context.Context, req Request) (*Document, error) {
	params := responses.ResponseNewParams{
		Model:        c.model,
		Instructions: param.NewOpt(Instructions(req)),
		Text: responses.ResponseTextConfigParam{
			Format: responses.ResponseFormatTextConfigUnionParam{
				OfJSONSchema: &responses.ResponseFormatTextJSONSchemaConfigParam{
					Name:   SchemaName,
					Schema: Schema(),
					Strict: param.NewOpt(true),
				},
			},
		},
	}
	params.Input.OfString = param.NewOpt(req.Text)

	var rawBody []byte
	if _, err := c.service.New(ctx, params, option.WithResponseBodyInto(&rawBody)); err != nil {
		var apiErr *responses.Error
		if errors.As(err, &apiErr) {
			return nil, fmt.Errorf("compiler: responses api status %d: %w", apiErr.StatusCode, err)
		}
		return nil, fmt.Errorf("compiler: responses request: %w", err)
	}

	text, err := outputText(rawBody)
	if err != nil {
		return nil, &Error{Reason: "unreadable model response", Err: err}
	}
	if strings.TrimSpace(text) == "" {
		return nil, &Error{Reason: "empty model response"}
	}
	return Decode([]byte(text))
}

type responseBody struct {
	OutputText string `json:"output_text"`
	Output     []struct {
		Type    string `json:"type"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"output"`
}

// outputText joins the text parts of every message output item.
func outputText(raw []byte) (string, error) {
	var body responseBody
	if err := json.Unmarshal(raw, &body); err != nil {
		return "", err
	}
	if strings.TrimSpace(body.OutputText) != "" {
		return body.OutputText, nil
	}
	var parts []string
	for _, item := range body.Output {
		for _, c := range item.Content {
			if c.Text != "" {
				parts = append(parts, c.Text)
			}
		}
	}
	return strings.Join(parts, "\n"), nil
}
