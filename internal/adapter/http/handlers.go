package http

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/msingatullin/ccontentcloud-sub000/internal/adapter/ws"
	"github.com/msingatullin/ccontentcloud-sub000/internal/domain/post"
	"github.com/msingatullin/ccontentcloud-sub000/internal/domain/rule"
	"github.com/msingatullin/ccontentcloud-sub000/internal/port/agent"
	"github.com/msingatullin/ccontentcloud-sub000/internal/port/database"
	"github.com/msingatullin/ccontentcloud-sub000/internal/port/publisher"
	"github.com/msingatullin/ccontentcloud-sub000/internal/service"
)

// Handlers bundles the dependencies for all HTTP handlers.
type Handlers struct {
	store         database.Store
	orchestrators *service.OrchestratorRegistry
	hub           *ws.Hub
}

// NewHandlers creates the handler set.
func NewHandlers(store database.Store, orchestrators *service.OrchestratorRegistry, hub *ws.Hub) *Handlers {
	return &Handlers{
		store:         store,
		orchestrators: orchestrators,
		hub:           hub,
	}
}

// Health reports service liveness.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"orchestrators": h.orchestrators.Size(),
		"capabilities":  agent.Available(),
		"platforms":     publisher.Available(),
	})
}

// --- Workflows ---

// CreateWorkflow builds a workflow for the request's user and starts it in
// the background. The response carries the workflow ID for status polling.
func (h *Handlers) CreateWorkflow(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[service.CreateWorkflowRequest](w, r)
	if !ok {
		return
	}
	if !requireField(w, req.UserID, "user_id") {
		return
	}

	orch, err := h.orchestrators.GetOrCreate(r.Context(), req.UserID)
	if err != nil {
		writeError(w, http.StatusForbidden, err.Error())
		return
	}

	wf, err := orch.CreateContentWorkflow(r.Context(), &req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	// Execution outlives the HTTP request; clients poll or watch the ws feed.
	go func() {
		if _, err := orch.ExecuteWorkflow(context.Background(), wf); err != nil {
			slog.Error("workflow execution failed", "workflow_id", wf.ID, "error", err)
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{
		"workflow_id": wf.ID,
		"status":      string(wf.Status),
	})
}

// GetWorkflowStatus reports a workflow's progress.
func (h *Handlers) GetWorkflowStatus(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")

	wf, err := h.store.GetWorkflow(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "workflow not found")
		return
	}

	orch, err := h.orchestrators.GetOrCreate(r.Context(), wf.UserID)
	if err != nil {
		// No live orchestrator view; the stored report is still authoritative.
		writeJSON(w, http.StatusOK, wf.Report())
		return
	}

	report, err := orch.WorkflowStatus(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "workflow not found")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// CancelWorkflow cancels a running workflow.
func (h *Handlers) CancelWorkflow(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")

	wf, err := h.store.GetWorkflow(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "workflow not found")
		return
	}

	orch, err := h.orchestrators.GetOrCreate(r.Context(), wf.UserID)
	if err != nil {
		writeError(w, http.StatusForbidden, err.Error())
		return
	}

	if err := orch.CancelWorkflow(r.Context(), id); err != nil {
		writeDomainError(w, err, "workflow not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"workflow_id": id, "status": "cancelled"})
}

// --- Scheduled posts ---

func (h *Handlers) CreatePost(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[post.CreateRequest](w, r)
	if !ok {
		return
	}
	if !requireField(w, req.UserID, "user_id") || !requireField(w, req.Platform, "platform") ||
		!requireField(w, req.Content, "content") {
		return
	}
	if req.ScheduledTime.IsZero() {
		writeError(w, http.StatusBadRequest, "scheduled_time is required")
		return
	}

	p, err := h.store.CreatePost(r.Context(), req)
	if err != nil {
		writeDomainError(w, err, "post not found")
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (h *Handlers) GetPost(w http.ResponseWriter, r *http.Request) {
	p, err := h.store.GetPost(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "post not found")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handlers) ListPosts(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if !requireField(w, userID, "user_id") {
		return
	}

	posts, err := h.store.ListPostsByUser(r.Context(), userID)
	if err != nil {
		writeDomainError(w, err, "posts not found")
		return
	}
	if posts == nil {
		posts = []post.ScheduledPost{}
	}
	writeJSON(w, http.StatusOK, posts)
}

// CancelPost cancels a post that the scheduler has not claimed yet.
func (h *Handlers) CancelPost(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	if err := h.store.CancelPost(r.Context(), id); err != nil {
		writeDomainError(w, err, "post not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"post_id": id, "status": string(post.StatusCancelled)})
}

// --- Auto-posting rules ---

func (h *Handlers) CreateRule(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[rule.CreateRequest](w, r)
	if !ok {
		return
	}
	if !requireField(w, req.UserID, "user_id") || !requireField(w, string(req.ScheduleType), "schedule_type") {
		return
	}
	if len(req.Platforms) == 0 {
		writeError(w, http.StatusBadRequest, "at least one platform is required")
		return
	}
	if req.ContentConfig.Brief == "" {
		writeError(w, http.StatusBadRequest, "content_config.brief is required")
		return
	}

	created, err := h.store.CreateRule(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handlers) GetRule(w http.ResponseWriter, r *http.Request) {
	rl, err := h.store.GetRule(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "rule not found")
		return
	}
	writeJSON(w, http.StatusOK, rl)
}

func (h *Handlers) ListRules(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if !requireField(w, userID, "user_id") {
		return
	}

	rules, err := h.store.ListRulesByUser(r.Context(), userID)
	if err != nil {
		writeDomainError(w, err, "rules not found")
		return
	}
	if rules == nil {
		rules = []rule.AutoPostingRule{}
	}
	writeJSON(w, http.StatusOK, rules)
}

// SetRuleActive enables or disables a rule. Re-enabling clears the recorded
// failure reason.
func (h *Handlers) SetRuleActive(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	req, ok := readJSON[struct {
		Active bool `json:"active"`
	}](w, r)
	if !ok {
		return
	}

	if err := h.store.SetRuleActive(r.Context(), id, req.Active, ""); err != nil {
		writeDomainError(w, err, "rule not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rule_id": id, "is_active": req.Active})
}

// --- Agents ---

// RefreshAgents rebuilds a user's agent registry after a subscription change.
// Billing calls this hook when entitlements change.
func (h *Handlers) RefreshAgents(w http.ResponseWriter, r *http.Request) {
	userID := urlParam(r, "id")
	if err := h.orchestrators.RefreshAgents(r.Context(), userID); err != nil {
		writeError(w, http.StatusForbidden, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"user_id": userID, "status": "refreshed"})
}

// ListAgents returns the capabilities the user's orchestrator can resolve.
func (h *Handlers) ListAgents(w http.ResponseWriter, r *http.Request) {
	userID := urlParam(r, "id")
	orch, err := h.orchestrators.GetOrCreate(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusForbidden, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":      userID,
		"capabilities": orch.Registry().Capabilities(),
	})
}
