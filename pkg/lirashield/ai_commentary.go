package lirashield

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"
	"github.com/openai/openai-go"
	openaioption "github.com/openai/openai-go/option"
	"google.golang.org/genai"
)

// AI providers accepted in AISettings.Provider.
const (
	AIProviderGemini    = "gemini"
	AIProviderOpenAI    = "openai"
	AIProviderAnthropic = "anthropic"
)

const (
	defaultGeminiBaseURL    = "https://generativelanguage.googleapis.com/v1beta"
	defaultGeminiModel      = "gemini-2.0-flash"
	defaultOpenAIModel      = "gpt-4o-mini"
	defaultAnthropicModel   = "claude-3-5-haiku-latest"
	aiRequestTimeout        = 2 * time.Minute
	aiMaxOutputTokens       = 2048
	commentaryMaxReportSize = 64 << 10
)

const commentarySystemPrompt = `You review a Turkish investor's portfolio report.
All returns are after tax. "vs USD" is the real return against the USD/TRY rate and
"vs CPI" the real return against official Turkish CPI over the holding period.
Write a short plain-English commentary: which positions beat both benchmarks, which
lost purchasing power, and what data is missing. Do not give buy or sell advice and
do not invent numbers that are not in the report.`

// AISettings configures the optional commentary model.
type AISettings struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
	APIKey   string `json:"-"`
	BaseURL  string `json:"base_url,omitempty"`
}

// Configured reports whether settings are complete enough to call a model.
func (s AISettings) Configured() bool {
	return strings.TrimSpace(s.Provider) != "" && strings.TrimSpace(s.APIKey) != ""
}

type commentaryRequest struct {
	Settings     AISettings
	SystemPrompt string
	UserPrompt   string
}

// commentaryCompletion sends one prompt to the configured provider.
// Tests replace it to avoid network calls.
var commentaryCompletion = requestCommentary

// GenerateCommentary asks the configured model to comment on a portfolio report. Settings
// with an empty provider or key fall back to the ones Core was opened with.
func (c *Core) GenerateCommentary(ctx context.Context, report *PortfolioReport, settings AISettings) (string, error) {
	if report == nil {
		return "", NewError(ErrCodeInvalidInput, "report is required")
	}
	if !settings.Configured() {
		settings = mergeAISettings(settings, c.ai)
	}
	settings, err := normalizeAISettings(settings)
	if err != nil {
		return "", err
	}
	if report.Placeholder != "" {
		return report.Placeholder, nil
	}

	body := RenderMarkdown(report)
	if len(body) > commentaryMaxReportSize {
		body = body[:commentaryMaxReportSize]
	}
	ctx, cancel := context.WithTimeout(ctx, aiRequestTimeout)
	defer cancel()

	c.logger.Info("requesting portfolio commentary", "provider", settings.Provider, "model", settings.Model)
	text, err := commentaryCompletion(ctx, commentaryRequest{
		Settings:     settings,
		SystemPrompt: commentarySystemPrompt,
		UserPrompt:   "Portfolio report:\n\n" + body,
	})
	if err != nil {
		return "", WrapError(ErrCodeFetchFailed, "commentary request failed", err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", NewError(ErrCodeFetchFailed, "ai response content is empty")
	}
	return text, nil
}

func mergeAISettings(override, base AISettings) AISettings {
	merged := base
	if strings.TrimSpace(override.Provider) != "" {
		merged.Provider = override.Provider
	}
	if strings.TrimSpace(override.Model) != "" {
		merged.Model = override.Model
	}
	if strings.TrimSpace(override.APIKey) != "" {
		merged.APIKey = override.APIKey
	}
	if strings.TrimSpace(override.BaseURL) != "" {
		merged.BaseURL = override.BaseURL
	}
	return merged
}

func normalizeAISettings(settings AISettings) (AISettings, error) {
	settings.Provider = strings.ToLower(strings.TrimSpace(settings.Provider))
	settings.Model = strings.TrimSpace(settings.Model)
	settings.APIKey = strings.TrimSpace(settings.APIKey)
	settings.BaseURL = strings.TrimRight(strings.TrimSpace(settings.BaseURL), "/")
	if !settings.Configured() {
		return AISettings{}, NewError(ErrCodeUnsupported, "ai commentary is not configured")
	}
	switch settings.Provider {
	case AIProviderGemini:
		if settings.Model == "" {
			settings.Model = defaultGeminiModel
		}
	case AIProviderOpenAI:
		if settings.Model == "" {
			settings.Model = defaultOpenAIModel
		}
	case AIProviderAnthropic:
		if settings.Model == "" {
			settings.Model = defaultAnthropicModel
		}
	default:
		return AISettings{}, NewError(ErrCodeUnsupported, fmt.Sprintf("unknown ai provider %q", settings.Provider))
	}
	return settings, nil
}

func requestCommentary(ctx context.Context, req commentaryRequest) (string, error) {
	switch req.Settings.Provider {
	case AIProviderGemini:
		return requestGeminiCommentary(ctx, req)
	case AIProviderOpenAI:
		return requestOpenAICommentary(ctx, req)
	case AIProviderAnthropic:
		return requestAnthropicCommentary(ctx, req)
	default:
		return "", fmt.Errorf("unknown ai provider %q", req.Settings.Provider)
	}
}

func requestGeminiCommentary(ctx context.Context, req commentaryRequest) (string, error) {
	baseURL, apiVersion, err := parseGeminiBaseURLAndVersion(req.Settings.BaseURL)
	if err != nil {
		return "", err
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  req.Settings.APIKey,
		Backend: genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{
			BaseURL:    baseURL,
			APIVersion: apiVersion,
		},
	})
	if err != nil {
		return "", fmt.Errorf("create gemini client failed: %w", err)
	}
	response, err := client.Models.GenerateContent(ctx, req.Settings.Model, genai.Text(req.UserPrompt), &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{{Text: req.SystemPrompt}},
		},
		Temperature:     genai.Ptr(float32(0.2)),
		MaxOutputTokens: aiMaxOutputTokens,
	})
	if err != nil {
		return "", fmt.Errorf("gemini generate content failed: %w", err)
	}
	return response.Text(), nil
}

func requestOpenAICommentary(ctx context.Context, req commentaryRequest) (string, error) {
	opts := []openaioption.RequestOption{openaioption.WithAPIKey(req.Settings.APIKey)}
	if req.Settings.BaseURL != "" {
		opts = append(opts, openaioption.WithBaseURL(req.Settings.BaseURL))
	}
	client := openai.NewClient(opts...)
	resp, err := client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(req.Settings.Model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(req.SystemPrompt),
			openai.UserMessage(req.UserPrompt),
		},
		Temperature: openai.Float(0.2),
	})
	if err != nil {
		return "", fmt.Errorf("openai chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai response has no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

func requestAnthropicCommentary(ctx context.Context, req commentaryRequest) (string, error) {
	opts := []anthropicoption.RequestOption{anthropicoption.WithAPIKey(req.Settings.APIKey)}
	if req.Settings.BaseURL != "" {
		opts = append(opts, anthropicoption.WithBaseURL(req.Settings.BaseURL))
	}
	client := anthropic.NewClient(opts...)
	msg, err := client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Settings.Model),
		MaxTokens: aiMaxOutputTokens,
		System:    []anthropic.TextBlockParam{{Text: req.SystemPrompt}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.UserPrompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic message failed: %w", err)
	}
	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return sb.String(), nil
}

// parseGeminiBaseURLAndVersion splits an endpoint such as https://host/prefix/v1beta into
// the client base URL and API version.
func parseGeminiBaseURLAndVersion(endpoint string) (string, string, error) {
	trimmed := strings.TrimSpace(endpoint)
	if trimmed == "" {
		trimmed = defaultGeminiBaseURL
	}
	if !strings.Contains(trimmed, "://") {
		trimmed = "https://" + trimmed
	}

	parsed, err := url.Parse(trimmed)
	if err != nil {
		return "", "", fmt.Errorf("invalid gemini endpoint: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", "", fmt.Errorf("invalid gemini endpoint scheme: %s", parsed.Scheme)
	}
	if parsed.Host == "" {
		return "", "", fmt.Errorf("invalid gemini endpoint host")
	}

	var segments []string
	if path := strings.Trim(parsed.Path, "/"); path != "" {
		segments = strings.Split(path, "/")
	}
	apiVersion := "v1beta"
	prefix := segments
	for idx, segment := range segments {
		if strings.HasPrefix(strings.ToLower(segment), "v1") {
			apiVersion = segment
			prefix = segments[:idx]
			break
		}
	}

	baseURL := fmt.Sprintf("%s://%s/", parsed.Scheme, parsed.Host)
	if basePath := strings.Join(prefix, "/"); basePath != "" {
		baseURL += basePath + "/"
	}
	return baseURL, apiVersion, nil
}
