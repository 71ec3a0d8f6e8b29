package tools

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/toolgate/toolgate/internal/config"
	"github.com/toolgate/toolgate/internal/dispatch"
	"github.com/toolgate/toolgate/internal/gate"
	"github.com/toolgate/toolgate/internal/log"
)

// maxPromptBytes bounds the text sent to the model per call.
const maxPromptBytes = 1 << 20

// AIToolset implements text generation through the Gemini API. With no
// API key the tools stay registered and report the missing key.
type AIToolset struct {
	client *genai.Client
	model  string
	logger log.Logger
}

// NewAIToolset creates the AI toolset. Without GEMINI_API_KEY in the
// environment no client is built and the handlers report that.
func NewAIToolset(ctx context.Context, cfg config.AIConfig, logger log.Logger) (*AIToolset, error) {
	t := &AIToolset{model: cfg.Model, logger: logger}
	if !cfg.Enabled() {
		logger.Debug("ai tools disabled, GEMINI_API_KEY not set")
		return t, nil
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey(),
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}
	t.client = client
	return t, nil
}

type aiGenerateInput struct {
	Prompt string `json:"prompt"`
}

type aiAnalyzeInput struct {
	Content     string `json:"content"`
	Instruction string `json:"instruction,omitempty"`
}

type aiTranslateInput struct {
	Text           string `json:"text"`
	TargetLanguage string `json:"target_language"`
}

// Register adds the AI tools.
func (t *AIToolset) Register(reg *dispatch.Registry) error {
	if err := add(reg, "ai_generate",
		"Generate text from a prompt.",
		gate.Policy{}, t.aiGenerate); err != nil {
		return err
	}
	if err := add(reg, "ai_analyze",
		"Summarize or analyze a piece of content.",
		gate.Policy{}, t.aiAnalyze); err != nil {
		return err
	}
	return add(reg, "ai_translate",
		"Translate text into a target language.",
		gate.Policy{}, t.aiTranslate)
}

func (t *AIToolset) aiGenerate(ctx context.Context, in aiGenerateInput) (any, error) {
	if strings.TrimSpace(in.Prompt) == "" {
		return nil, dispatch.Errorf(dispatch.KindDomainError, "prompt is empty")
	}
	return t.generate(ctx, in.Prompt)
}

func (t *AIToolset) aiAnalyze(ctx context.Context, in aiAnalyzeInput) (any, error) {
	if strings.TrimSpace(in.Content) == "" {
		return nil, dispatch.Errorf(dispatch.KindDomainError, "content is empty")
	}
	instruction := in.Instruction
	if instruction == "" {
		instruction = "Summarize the following content and list its key points."
	}
	return t.generate(ctx, instruction+"\n\n---\n\n"+in.Content)
}

func (t *AIToolset) aiTranslate(ctx context.Context, in aiTranslateInput) (any, error) {
	if strings.TrimSpace(in.Text) == "" {
		return nil, dispatch.Errorf(dispatch.KindDomainError, "text is empty")
	}
	if strings.TrimSpace(in.TargetLanguage) == "" {
		return nil, dispatch.Errorf(dispatch.KindDomainError, "target_language is required")
	}
	prompt := fmt.Sprintf(
		"Translate the following text into %s. Reply with the translation only.\n\n%s",
		in.TargetLanguage, in.Text)
	return t.generate(ctx, prompt)
}

func (t *AIToolset) generate(ctx context.Context, prompt string) (any, error) {
	if t.client == nil {
		return nil, dispatch.Errorf(dispatch.KindDomainError,
			"ai tools are not configured, set GEMINI_API_KEY")
	}
	if len(prompt) > maxPromptBytes {
		return nil, dispatch.Errorf(gate.KindSizeExceeded,
			"prompt is %d bytes, limit is %d", len(prompt), maxPromptBytes)
	}

	resp, err := t.client.Models.GenerateContent(ctx, t.model, genai.Text(prompt), nil)
	if err != nil {
		return nil, dispatch.WrapErr(dispatch.KindNetworkError, "model call failed", err).AsRetryable()
	}

	text := resp.Text()
	if text == "" {
		return nil, dispatch.Errorf(dispatch.KindDomainError, "model returned no text")
	}

	return map[string]any{
		"model": t.model,
		"text":  text,
	}, nil
}
