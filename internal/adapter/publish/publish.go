// Package publish implements the publisher capability: the workflow-side
// bridge from a publish task to the registered platform clients.
package publish

import (
	"context"
	"fmt"

	"github.com/msingatullin/ccontentcloud-sub000/internal/domain/workflow"
	"github.com/msingatullin/ccontentcloud-sub000/internal/port/agent"
	"github.com/msingatullin/ccontentcloud-sub000/internal/port/publisher"
)

// Handler publishes the content a publish task received from its create
// dependencies. The platform client is resolved per execution so the handler
// itself carries no platform state.
type Handler struct {
	config map[string]string
}

// NewHandler creates a publish handler. config is handed to platform factories.
func NewHandler(config map[string]string) *Handler {
	return &Handler{config: config}
}

// Execute resolves the platform publisher and publishes the task's content.
func (h *Handler) Execute(ctx context.Context, task *workflow.Task) (workflow.Result, error) {
	platform, _ := task.Context[workflow.CtxPlatform].(string)
	if platform == "" {
		return nil, fmt.Errorf("publish: platform is required")
	}
	content, _ := task.Context[workflow.CtxContent].(string)
	if content == "" {
		return nil, fmt.Errorf("publish: no content to publish for %s", platform)
	}

	pub, err := publisher.New(platform, h.config)
	if err != nil {
		return nil, fmt.Errorf("publish: %w", err)
	}

	userID, _ := task.Context[workflow.CtxUserID].(string)
	accountID, _ := task.Context[workflow.CtxAccountID].(string)
	testMode, _ := task.Context[workflow.CtxTestMode].(bool)

	result, err := pub.Publish(ctx, publisher.Request{
		Platform:  platform,
		Content:   content,
		AccountID: accountID,
		UserID:    userID,
		TestMode:  testMode,
	})
	if err != nil {
		return nil, fmt.Errorf("publish to %s: %w", platform, err)
	}
	if !result.Success {
		return nil, fmt.Errorf("publish to %s rejected: %s", platform, result.Error)
	}

	out := workflow.Result{
		"platform_post_id":   result.PlatformPostID,
		workflow.CtxPlatform: platform,
	}
	if result.Preview != "" {
		out["preview"] = result.Preview
	}
	return out, nil
}

func init() {
	agent.Register(workflow.CapabilityPublisher, func(config map[string]string) (agent.Handler, error) {
		return NewHandler(config), nil
	})
}
