package imagegen

import (
	"github.com/msingatullin/ccontentcloud-sub000/internal/adapter/llmproxy"
	"github.com/msingatullin/ccontentcloud-sub000/internal/domain/workflow"
	"github.com/msingatullin/ccontentcloud-sub000/internal/port/agent"
)

func init() {
	agent.Register(workflow.CapabilityImageGenerator, func(config map[string]string) (agent.Handler, error) {
		client := llmproxy.NewClient(config["llm_url"], config["llm_master_key"])
		model := config["image_model"]
		if model == "" {
			model = "openai/dall-e-3"
		}
		return NewHandler(client, model), nil
	})
}
