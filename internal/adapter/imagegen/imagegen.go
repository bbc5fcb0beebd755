// Package imagegen implements the image_generator capability on top of the LLM proxy.
package imagegen

import (
	"context"
	"fmt"

	"github.com/msingatullin/ccontentcloud-sub000/internal/domain/workflow"
)

// Generator is the slice of the LLM proxy client the handler needs.
type Generator interface {
	GenerateImage(ctx context.Context, model, prompt string) (string, error)
}

// Handler generates an illustration for a brief.
type Handler struct {
	llm   Generator
	model string
}

// NewHandler creates an image generator backed by the given LLM client.
func NewHandler(llm Generator, model string) *Handler {
	return &Handler{llm: llm, model: model}
}

// Execute generates an image for the task's brief and returns its URL under
// the "image_url" result key.
func (h *Handler) Execute(ctx context.Context, task *workflow.Task) (workflow.Result, error) {
	brief, _ := task.Context[workflow.CtxBrief].(string)
	if brief == "" {
		return nil, fmt.Errorf("image generator: brief is required")
	}

	url, err := h.llm.GenerateImage(ctx, h.model, "Illustration for a social media post: "+brief)
	if err != nil {
		return nil, fmt.Errorf("image generator: %w", err)
	}

	return workflow.Result{"image_url": url}, nil
}
