package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/google/uuid"

	"github.com/lyzr/agentflow/common/bootstrap"
	"github.com/lyzr/agentflow/common/models"
	"github.com/lyzr/agentflow/common/ratelimit"
	"github.com/lyzr/agentflow/common/repository"
	"github.com/lyzr/agentflow/common/validation"
	"github.com/lyzr/agentflow/common/workflow"
)

// ErrStorageUnavailable is returned by workflow CRUD when the service
// runs without Postgres.
var ErrStorageUnavailable = errors.New("workflow storage not configured")

// ErrInvalidAPIKey is returned by Trigger on an API key mismatch
var ErrInvalidAPIKey = errors.New("invalid API key")

// WorkflowStore is the persistence surface for stored workflow
// definitions. *repository.WorkflowRepository satisfies it.
type WorkflowStore interface {
	Create(ctx context.Context, wf *models.Workflow) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Workflow, error)
	Update(ctx context.Context, wf *models.Workflow) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, limit int) ([]*models.Workflow, error)
}

// triggerLimiter applies the per-workflow trigger budget.
// *ratelimit.RateLimiter satisfies it.
type triggerLimiter interface {
	CheckWorkflowLimit(ctx context.Context, clientKey, workflowID string, limit int64, windowSec int) (*ratelimit.RateLimitResult, error)
}

// WorkflowService manages stored workflow definitions and triggers
// executions from them.
type WorkflowService struct {
	components *bootstrap.Components
	repo       WorkflowStore
	executions *ExecutionService
	limiter    triggerLimiter
	graphs     *validation.GraphValidator
	patches    *validation.PatchValidator
}

// NewWorkflowService creates the workflow service. repo and limiter may
// be nil; CRUD then reports ErrStorageUnavailable and triggers run
// unthrottled.
func NewWorkflowService(components *bootstrap.Components, repo WorkflowStore, executions *ExecutionService, limiter *ratelimit.RateLimiter) *WorkflowService {
	s := &WorkflowService{
		components: components,
		repo:       repo,
		executions: executions,
		graphs:     validation.NewGraphValidator(),
		patches:    validation.NewPatchValidator(),
	}
	if limiter != nil {
		s.limiter = limiter
	}
	return s
}

// CreateWorkflowRequest carries a new workflow definition
type CreateWorkflowRequest struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Nodes       json.RawMessage `json:"nodes"`
	Edges       json.RawMessage `json:"edges"`
}

// Create validates and stores a new workflow. The generated API key is
// returned on the model; it gates the trigger endpoint afterwards.
func (s *WorkflowService) Create(ctx context.Context, req *CreateWorkflowRequest) (*models.Workflow, error) {
	if s.repo == nil {
		return nil, ErrStorageUnavailable
	}
	if req.Name == "" {
		return nil, &ValidationError{Message: "name is required"}
	}

	wf := &models.Workflow{
		ID:        uuid.New(),
		Name:      req.Name,
		Nodes:     normalizeRawList(req.Nodes),
		Edges:     normalizeRawList(req.Edges),
		APIKey:    uuid.NewString(),
		IsActive:  true,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	if req.Description != "" {
		desc := req.Description
		wf.Description = &desc
	}

	if err := s.validateDefinition(wf); err != nil {
		return nil, err
	}

	if err := s.repo.Create(ctx, wf); err != nil {
		return nil, err
	}

	s.components.Logger.Info("workflow created", "workflow_id", wf.ID, "name", wf.Name)
	return wf, nil
}

// Get loads a stored workflow by id
func (s *WorkflowService) Get(ctx context.Context, id uuid.UUID) (*models.Workflow, error) {
	if s.repo == nil {
		return nil, ErrStorageUnavailable
	}
	return s.repo.GetByID(ctx, id)
}

// List returns workflows ordered by most recent update
func (s *WorkflowService) List(ctx context.Context, limit int) ([]*models.Workflow, error) {
	if s.repo == nil {
		return nil, ErrStorageUnavailable
	}
	if limit <= 0 {
		limit = 100
	}
	return s.repo.List(ctx, limit)
}

// Delete removes a stored workflow
func (s *WorkflowService) Delete(ctx context.Context, id uuid.UUID) error {
	if s.repo == nil {
		return ErrStorageUnavailable
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.components.Logger.Info("workflow deleted", "workflow_id", id)
	return nil
}

// Patch applies an RFC 6902 JSON Patch to the editable view of a
// workflow ({name, description, nodes, edges}). The stored definition
// changes only if the patch applies cleanly and the result is a valid
// graph.
func (s *WorkflowService) Patch(ctx context.Context, id uuid.UUID, operations json.RawMessage) (*models.Workflow, error) {
	if s.repo == nil {
		return nil, ErrStorageUnavailable
	}

	var ops []map[string]interface{}
	if err := json.Unmarshal(operations, &ops); err != nil {
		return nil, &ValidationError{Message: fmt.Sprintf("invalid patch document: %v", err)}
	}
	if err := s.patches.ValidateOperations(ops); err != nil {
		return nil, &ValidationError{Message: err.Error()}
	}

	wf, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	doc, err := json.Marshal(map[string]interface{}{
		"name":        wf.Name,
		"description": wf.Description,
		"nodes":       json.RawMessage(normalizeRawList(wf.Nodes)),
		"edges":       json.RawMessage(normalizeRawList(wf.Edges)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode workflow for patching: %w", err)
	}

	patch, err := jsonpatch.DecodePatch(operations)
	if err != nil {
		return nil, &ValidationError{Message: fmt.Sprintf("invalid patch document: %v", err)}
	}
	patched, err := patch.Apply(doc)
	if err != nil {
		return nil, &ValidationError{Message: fmt.Sprintf("patch failed to apply: %v", err)}
	}

	var updated struct {
		Name        string          `json:"name"`
		Description *string         `json:"description"`
		Nodes       json.RawMessage `json:"nodes"`
		Edges       json.RawMessage `json:"edges"`
	}
	if err := json.Unmarshal(patched, &updated); err != nil {
		return nil, &ValidationError{Message: fmt.Sprintf("patched workflow is malformed: %v", err)}
	}
	if updated.Name == "" {
		return nil, &ValidationError{Message: "patched workflow has no name"}
	}

	wf.Name = updated.Name
	wf.Description = updated.Description
	wf.Nodes = normalizeRawList(updated.Nodes)
	wf.Edges = normalizeRawList(updated.Edges)

	if err := s.validateDefinition(wf); err != nil {
		return nil, err
	}

	if err := s.repo.Update(ctx, wf); err != nil {
		return nil, err
	}

	s.components.Logger.Info("workflow patched", "workflow_id", wf.ID, "operations", len(ops))
	return wf, nil
}

// Trigger starts an async execution of a stored workflow. Inactive and
// unknown workflows are indistinguishable to callers; only the API key
// on the stored row unlocks it.
func (s *WorkflowService) Trigger(ctx context.Context, id uuid.UUID, apiKey string, input interface{}, params map[string]interface{}, clientKey string) (string, error) {
	if s.repo == nil {
		return "", ErrStorageUnavailable
	}

	wf, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return "", err
	}
	if !wf.IsActive {
		return "", fmt.Errorf("workflow %s: %w", id, repository.ErrNotFound)
	}
	if apiKey != wf.APIKey {
		return "", ErrInvalidAPIKey
	}

	if err := s.checkTriggerBudget(ctx, clientKey, id); err != nil {
		return "", err
	}

	g, err := wf.Graph()
	if err != nil {
		return "", fmt.Errorf("stored workflow %s is malformed: %w", id, err)
	}

	wctx := workflow.NewContext()
	wctx.Input = input
	if params != nil {
		wctx.Params = params
	}

	task := &models.ExecutionTask{
		WorkflowID: wf.ID.String(),
		Nodes:      g.Nodes,
		Edges:      g.Edges,
		Context:    wctx,
	}
	return s.executions.Dispatch(ctx, clientKey, task)
}

// checkTriggerBudget caps how often one client may trigger the same
// stored workflow, on top of the tier budget charged at dispatch.
// Limiter failures open the gate, matching the dispatch-side check.
func (s *WorkflowService) checkTriggerBudget(ctx context.Context, clientKey string, id uuid.UUID) error {
	if s.limiter == nil || clientKey == "" {
		return nil
	}

	cfg := ratelimit.WorkflowTriggerConfig
	result, err := s.limiter.CheckWorkflowLimit(ctx, clientKey, id.String(), cfg.Limit, cfg.WindowSeconds)
	if err != nil {
		s.components.Logger.Warn("trigger rate limit check failed, allowing request", "error", err)
		return nil
	}
	if !result.Allowed {
		s.components.Logger.Warn("trigger rate limit exceeded",
			"client", clientKey,
			"workflow_id", id,
			"limit", result.Limit,
			"current", result.CurrentCount,
		)
		return &RateLimitError{
			Tier:              "workflow",
			Limit:             result.Limit,
			CurrentCount:      result.CurrentCount,
			RetryAfterSeconds: result.RetryAfterSeconds,
		}
	}
	return nil
}

// validateDefinition decodes the stored node and edge lists and runs
// graph validation on them.
func (s *WorkflowService) validateDefinition(wf *models.Workflow) error {
	g, err := wf.Graph()
	if err != nil {
		return &ValidationError{Message: fmt.Sprintf("invalid workflow definition: %v", err)}
	}
	if err := s.graphs.Validate(g); err != nil {
		return &ValidationError{Message: err.Error()}
	}
	return nil
}

// normalizeRawList keeps node and edge columns as JSON arrays even when
// the request omitted them.
func normalizeRawList(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage("[]")
	}
	return raw
}
