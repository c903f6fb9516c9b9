package engine

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/joescharf/codecli/internal/workflow"
)

// Responder produces the answer for one invocation.
type Responder interface {
	Respond(ctx context.Context, inv *workflow.Invocation) (string, error)
}

// EchoResponder answers deterministically with the prompt it received.
type EchoResponder struct{}

func (EchoResponder) Respond(_ context.Context, inv *workflow.Invocation) (string, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s @ %s] %s", inv.CLI, inv.Path, inv.Prompt)
	if len(inv.Attachments) > 0 {
		names := make([]string, 0, len(inv.Attachments))
		for _, a := range inv.Attachments {
			names = append(names, a.FileName)
		}
		fmt.Fprintf(&sb, " (attachments: %s)", strings.Join(names, ", "))
	}
	return sb.String(), nil
}

// maxInlineAttachment bounds how much of a text attachment is quoted into the prompt.
const maxInlineAttachment = 32 << 10

// AnthropicResponder answers with a Claude model, playing the role of the
// selected coding CLI working in the invocation's directory.
type AnthropicResponder struct {
	api   *anthropic.Client
	model anthropic.Model
}

// NewAnthropicResponder creates a responder with the given API key and model.
func NewAnthropicResponder(apiKey, model string, extra ...option.RequestOption) *AnthropicResponder {
	opts := []option.RequestOption{}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	opts = append(opts, extra...)
	client := anthropic.NewClient(opts...)
	return &AnthropicResponder{
		api:   &client,
		model: anthropic.Model(model),
	}
}

// buildPrompt constructs the system and user prompts for one invocation.
func buildPrompt(inv *workflow.Invocation) (system string, user string) {
	system = fmt.Sprintf(`You are %q, a command-line coding assistant. You are working in the directory %s on the user's machine.

Rules:
- Answer the request as the assistant would in a terminal session
- Be concise; prefer short explanations and code blocks
- You cannot run commands; describe what you would run and why`, inv.CLI, inv.Path)

	var sb strings.Builder
	sb.WriteString(inv.Prompt)
	for _, a := range inv.Attachments {
		sb.WriteString("\n\nAttached file ")
		sb.WriteString(a.FileName)
		if !isText(a) {
			fmt.Fprintf(&sb, " (%s, %d bytes, not shown)", a.MimeType, len(a.Data))
			continue
		}
		data := a.Data
		if len(data) > maxInlineAttachment {
			data = data[:maxInlineAttachment]
		}
		sb.WriteString(":\n```\n")
		sb.Write(data)
		sb.WriteString("\n```")
	}
	user = sb.String()
	return
}

func isText(a workflow.Attachment) bool {
	if strings.HasPrefix(a.MimeType, "text/") || strings.HasSuffix(a.MimeType, "json") {
		return true
	}
	return a.MimeType == "" && utf8.Valid(a.Data)
}

// Respond sends the invocation to the model and returns its text answer.
func (r *AnthropicResponder) Respond(ctx context.Context, inv *workflow.Invocation) (string, error) {
	systemPrompt, userPrompt := buildPrompt(inv)

	msg, err := r.api.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     r.model,
		MaxTokens: 2048,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic API call: %w", err)
	}

	var parts []string
	for _, block := range msg.Content {
		if block.Type == "text" {
			parts = append(parts, block.Text)
		}
	}
	text := strings.TrimSpace(strings.Join(parts, "\n"))
	if text == "" {
		return "", fmt.Errorf("no text content in API response")
	}
	return text, nil
}
