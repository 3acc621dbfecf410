package analyzer

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/liushuangls/go-anthropic/v2"
	"github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/curatelab/curator/ollama"
)

// Candidate is one scoring backend in the cascade
type Candidate interface {
	// Name identifies the candidate; it is recorded as the analysis method
	Name() string
	// Timeout bounds a single call
	Timeout() time.Duration
	// Complete returns the raw model response for prompt
	Complete(ctx context.Context, prompt string) (string, error)
}

// Providers understood by BuildCandidates
const (
	ProviderOllama    = "ollama"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderBedrock   = "bedrock"
)

const (
	defaultCandidateTimeout = 10 * time.Second
	completionMaxTokens     = 400
)

// CandidateSpec describes a configured candidate
type CandidateSpec struct {
	Provider string        `yaml:"provider"`
	Model    string        `yaml:"model"`
	BaseURL  string        `yaml:"baseUrl"`
	APIKey   string        `yaml:"apiKey"`
	Region   string        `yaml:"region"`
	Timeout  time.Duration `yaml:"timeout"`
}

// BuildCandidates turns specs into candidates, preserving order
func BuildCandidates(ctx context.Context, specs []CandidateSpec) ([]Candidate, error) {
	candidates := make([]Candidate, 0, len(specs))
	for i, spec := range specs {
		timeout := spec.Timeout
		if timeout <= 0 {
			timeout = defaultCandidateTimeout
		}

		switch strings.ToLower(spec.Provider) {
		case ProviderOllama, "":
			candidates = append(candidates, NewOllamaCandidate(spec.BaseURL, spec.Model, timeout))
		case ProviderOpenAI, "openrouter":
			if spec.APIKey == "" {
				return nil, fmt.Errorf("candidate %d (%s): api key is required", i, spec.Model)
			}
			candidates = append(candidates, NewOpenAICandidate(spec.APIKey, spec.BaseURL, spec.Model, timeout))
		case ProviderAnthropic:
			if spec.APIKey == "" {
				return nil, fmt.Errorf("candidate %d (%s): api key is required", i, spec.Model)
			}
			candidates = append(candidates, NewAnthropicCandidate(spec.APIKey, spec.Model, timeout))
		case ProviderBedrock:
			c, err := NewBedrockCandidate(ctx, spec.Region, spec.Model, timeout)
			if err != nil {
				return nil, fmt.Errorf("candidate %d (%s): %w", i, spec.Model, err)
			}
			candidates = append(candidates, c)
		default:
			return nil, fmt.Errorf("candidate %d: unsupported provider %q", i, spec.Provider)
		}
	}
	return candidates, nil
}

// OllamaCandidate scores with a local Ollama model
type OllamaCandidate struct {
	client  *ollama.Client
	timeout time.Duration
}

// NewOllamaCandidate creates an Ollama candidate
func NewOllamaCandidate(baseURL, model string, timeout time.Duration) *OllamaCandidate {
	return &OllamaCandidate{client: ollama.NewClient(baseURL, model), timeout: timeout}
}

func (c *OllamaCandidate) Name() string           { return c.client.Model() }
func (c *OllamaCandidate) Timeout() time.Duration { return c.timeout }

func (c *OllamaCandidate) Complete(ctx context.Context, prompt string) (string, error) {
	return c.client.Generate(ctx, prompt)
}

// OpenAICandidate scores with an OpenAI-compatible chat completion API
type OpenAICandidate struct {
	client  *openai.Client
	model   string
	timeout time.Duration
}

// NewOpenAICandidate creates an OpenAI-compatible candidate. baseURL may point
// at OpenRouter or any compatible gateway.
func NewOpenAICandidate(apiKey, baseURL, model string, timeout time.Duration) *OpenAICandidate {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	cfg.HTTPClient = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}

	return &OpenAICandidate{
		client:  openai.NewClientWithConfig(cfg),
		model:   model,
		timeout: timeout,
	}
}

func (c *OpenAICandidate) Name() string           { return c.model }
func (c *OpenAICandidate) Timeout() time.Duration { return c.timeout }

func (c *OpenAICandidate) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     c.model,
		MaxTokens: completionMaxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", fmt.Errorf("openai completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("empty response from %s", c.model)
	}
	return resp.Choices[0].Message.Content, nil
}

// AnthropicCandidate scores with the Anthropic Messages API
type AnthropicCandidate struct {
	client  *anthropic.Client
	model   string
	timeout time.Duration
}

// NewAnthropicCandidate creates an Anthropic candidate
func NewAnthropicCandidate(apiKey, model string, timeout time.Duration) *AnthropicCandidate {
	return &AnthropicCandidate{
		client:  anthropic.NewClient(apiKey),
		model:   model,
		timeout: timeout,
	}
}

func (c *AnthropicCandidate) Name() string           { return c.model }
func (c *AnthropicCandidate) Timeout() time.Duration { return c.timeout }

func (c *AnthropicCandidate) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := c.client.CreateMessages(ctx, anthropic.MessagesRequest{
		Model:     anthropic.Model(c.model),
		MaxTokens: completionMaxTokens,
		Messages: []anthropic.Message{
			{
				Role:    anthropic.RoleUser,
				Content: []anthropic.MessageContent{{Type: "text", Text: &prompt}},
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic messages failed: %w", err)
	}
	if len(resp.Content) == 0 {
		return "", fmt.Errorf("empty response from %s", c.model)
	}
	return resp.Content[0].GetText(), nil
}

// BedrockCandidate scores with an Anthropic model hosted on AWS Bedrock
type BedrockCandidate struct {
	client  *bedrockruntime.Client
	modelID string
	timeout time.Duration
}

type bedrockBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type bedrockMessage struct {
	Role    string         `json:"role"`
	Content []bedrockBlock `json:"content"`
}

type bedrockRequest struct {
	AnthropicVersion string           `json:"anthropic_version"`
	MaxTokens        int              `json:"max_tokens"`
	Messages         []bedrockMessage `json:"messages"`
}

type bedrockResponse struct {
	Content []bedrockBlock `json:"content"`
}

// NewBedrockCandidate loads AWS config from the environment and creates a Bedrock candidate
func NewBedrockCandidate(ctx context.Context, region, modelID string, timeout time.Duration) (*BedrockCandidate, error) {
	if modelID == "" {
		return nil, fmt.Errorf("bedrock model id is required")
	}
	if region == "" {
		region = "us-east-1"
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &BedrockCandidate{
		client:  bedrockruntime.NewFromConfig(cfg),
		modelID: modelID,
		timeout: timeout,
	}, nil
}

func (c *BedrockCandidate) Name() string           { return c.modelID }
func (c *BedrockCandidate) Timeout() time.Duration { return c.timeout }

func (c *BedrockCandidate) Complete(ctx context.Context, prompt string) (string, error) {
	msg := bedrockMessage{Role: "user", Content: []bedrockBlock{{Type: "text", Text: prompt}}}

	body, err := json.Marshal(bedrockRequest{
		AnthropicVersion: "bedrock-2023-05-31",
		MaxTokens:        completionMaxTokens,
		Messages:         []bedrockMessage{msg},
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	out, err := c.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(c.modelID),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return "", fmt.Errorf("bedrock invoke failed: %w", err)
	}

	var resp bedrockResponse
	if err := json.Unmarshal(out.Body, &resp); err != nil {
		return "", fmt.Errorf("failed to parse bedrock response: %w", err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return "", fmt.Errorf("empty response from %s", c.modelID)
	}
	return text.String(), nil
}
