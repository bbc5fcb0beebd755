// Package creator implements the content_creator capability on top of the LLM proxy.
package creator

import (
	"context"
	"fmt"
	"strings"

	"github.com/msingatullin/ccontentcloud-sub000/internal/domain/workflow"
)

const systemPrompt = "You are a social media content writer. Write the post text only, no commentary."

// Completer is the slice of the LLM proxy client the handler needs.
type Completer interface {
	Complete(ctx context.Context, model, system, prompt string) (string, error)
}

// Handler generates platform-specific text content from a brief.
type Handler struct {
	llm   Completer
	model string
}

// NewHandler creates a content creator backed by the given LLM client.
func NewHandler(llm Completer, model string) *Handler {
	return &Handler{llm: llm, model: model}
}

// Execute builds a prompt from the task context and returns the generated
// content under the "content" result key.
func (h *Handler) Execute(ctx context.Context, task *workflow.Task) (workflow.Result, error) {
	brief, _ := task.Context[workflow.CtxBrief].(string)
	if brief == "" {
		return nil, fmt.Errorf("content creator: brief is required")
	}
	platform, _ := task.Context[workflow.CtxPlatform].(string)
	contentType, _ := task.Context[workflow.CtxContentType].(string)

	var b strings.Builder
	fmt.Fprintf(&b, "Write a %s", orDefault(contentType, "post"))
	if platform != "" {
		fmt.Fprintf(&b, " for %s", platform)
	}
	fmt.Fprintf(&b, " based on this brief:\n\n%s", brief)

	content, err := h.llm.Complete(ctx, h.model, systemPrompt, b.String())
	if err != nil {
		return nil, fmt.Errorf("content creator: %w", err)
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, fmt.Errorf("content creator: model returned empty content")
	}

	return workflow.Result{
		workflow.CtxContent:     content,
		workflow.CtxPlatform:    platform,
		workflow.CtxContentType: contentType,
	}, nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
