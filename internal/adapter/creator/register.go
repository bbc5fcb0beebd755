package creator

import (
	"github.com/msingatullin/ccontentcloud-sub000/internal/adapter/llmproxy"
	"github.com/msingatullin/ccontentcloud-sub000/internal/domain/workflow"
	"github.com/msingatullin/ccontentcloud-sub000/internal/port/agent"
)

func init() {
	agent.Register(workflow.CapabilityContentCreator, func(config map[string]string) (agent.Handler, error) {
		client := llmproxy.NewClient(config["llm_url"], config["llm_master_key"])
		return NewHandler(client, config["text_model"]), nil
	})
}
