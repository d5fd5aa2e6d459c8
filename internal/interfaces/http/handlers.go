package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/taskflowhq/taskflow/internal/application/port"
	"github.com/taskflowhq/taskflow/internal/application/service"
	"github.com/taskflowhq/taskflow/internal/domain/identity"
	"github.com/taskflowhq/taskflow/internal/domain/lifecycle"
	"github.com/taskflowhq/taskflow/internal/domain/task"
	"github.com/taskflowhq/taskflow/internal/token"
)

// Handlers contains all HTTP request handlers
type Handlers struct {
	taskService         service.TaskService
	approvalService     service.ApprovalService
	tokenService        service.TokenService
	notificationService service.NotificationService
	historyRepo         port.HistoryRepository
	actorAdmin          ActorAdmin
	sweeper             Sweeper
	logger              Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(
	taskService service.TaskService,
	approvalService service.ApprovalService,
	tokenService service.TokenService,
	notificationService service.NotificationService,
	historyRepo port.HistoryRepository,
	actorAdmin ActorAdmin,
	sweeper Sweeper,
	logger Logger,
) *Handlers {
	return &Handlers{
		taskService:         taskService,
		approvalService:     approvalService,
		tokenService:        tokenService,
		notificationService: notificationService,
		historyRepo:         historyRepo,
		actorAdmin:          actorAdmin,
		sweeper:             sweeper,
		logger:              logger,
	}
}

// Response represents a standard JSON response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
}

// TaskResponse represents a task in API responses. The token audit list is
// deliberately omitted: digests are an internal record, and the raw tokens
// were never stored.
type TaskResponse struct {
	ID             string               `json:"id"`
	Title          string               `json:"title"`
	Description    string               `json:"description,omitempty"`
	CreatorID      string               `json:"creator_id"`
	Status         string               `json:"status"`
	Stage          string               `json:"stage"`
	IsGroupTask    bool                 `json:"is_group_task"`
	ApprovalStatus string               `json:"approval_status,omitempty"`
	Assignments    []AssignmentResponse `json:"assignments,omitempty"`
	CompletedAt    *string              `json:"completed_at,omitempty"`
	ApprovedAt     *string              `json:"approved_at,omitempty"`
	ApprovedBy     string               `json:"approved_by,omitempty"`
	ElapsedSeconds int64                `json:"elapsed_seconds,omitempty"`
	Version        int64                `json:"version"`
	CreatedAt      string               `json:"created_at"`
	UpdatedAt      string               `json:"updated_at"`
}

// AssignmentResponse represents one assignee's record in API responses
type AssignmentResponse struct {
	AssigneeID      string  `json:"assignee_id"`
	Stage           string  `json:"stage"`
	Status          string  `json:"status"`
	Approval        string  `json:"approval"`
	CompletedAt     *string `json:"completed_at,omitempty"`
	ApprovalAt      *string `json:"approval_at,omitempty"`
	ApprovedBy      string  `json:"approved_by,omitempty"`
	RejectionReason string  `json:"rejection_reason,omitempty"`
}

// ListTasksRequest represents query parameters for listing tasks
type ListTasksRequest struct {
	Limit  int `form:"limit"`
	Offset int `form:"offset"`
}

// AssignRequest represents the assign request body
type AssignRequest struct {
	AssigneeIDs []string `json:"assignee_ids" binding:"required"`
	ActorID     string   `json:"actor_id" binding:"required"`
}

// ReportStageRequest represents the stage report request body
type ReportStageRequest struct {
	Stage   string `json:"stage" binding:"required"`
	ActorID string `json:"actor_id" binding:"required"`
}

// DecideRequest represents the decision request body
type DecideRequest struct {
	Decision      string `json:"decision" binding:"required"`
	ActorID       string `json:"actor_id" binding:"required"`
	AssigneeScope string `json:"assignee_scope,omitempty"`
	Reason        string `json:"reason,omitempty"`
}

// RemarkRequest represents the remark request body
type RemarkRequest struct {
	ActorID string `json:"actor_id" binding:"required"`
	Text    string `json:"text" binding:"required"`
}

// ApprovalLinksRequest represents the approval link issuance request body
type ApprovalLinksRequest struct {
	ApproverID    string `json:"approver_id" binding:"required"`
	AssigneeScope string `json:"assignee_scope,omitempty"`
}

// UpsertActorRequest represents the actor upsert request body
type UpsertActorRequest struct {
	Name  string `json:"name" binding:"required"`
	Email string `json:"email" binding:"required"`
	Role  string `json:"role" binding:"required"`
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, Response{
		Success: true,
		Data: HealthResponse{
			Status:    "healthy",
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Version:   "1.0.0",
		},
	})
}

// CreateTask handles POST /api/v1/tasks
func (h *Handlers) CreateTask(c *gin.Context) {
	var req service.CreateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "invalid request body"})
		return
	}
	if req.Title == "" || req.CreatorID == "" {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "title and creator_id are required"})
		return
	}

	t, err := h.taskService.Create(c.Request.Context(), req)
	if err != nil {
		h.writeError(c, err, "failed to create task")
		return
	}

	c.JSON(http.StatusCreated, Response{Success: true, Data: toTaskResponse(t)})
}

// ListTasks handles GET /api/v1/tasks
func (h *Handlers) ListTasks(c *gin.Context) {
	var req ListTasksRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "invalid query parameters"})
		return
	}
	if req.Limit <= 0 || req.Limit > 100 {
		req.Limit = 20
	}
	if req.Offset < 0 {
		req.Offset = 0
	}

	tasks, err := h.taskService.List(c.Request.Context(), req.Limit, req.Offset)
	if err != nil {
		h.writeError(c, err, "failed to list tasks")
		return
	}

	responses := make([]TaskResponse, 0, len(tasks))
	for _, t := range tasks {
		responses = append(responses, toTaskResponse(t))
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: responses})
}

// GetTask handles GET /api/v1/tasks/:id
func (h *Handlers) GetTask(c *gin.Context) {
	t, err := h.taskService.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err, "failed to get task")
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: toTaskResponse(t)})
}

// GetTaskHistory handles GET /api/v1/tasks/:id/history
func (h *Handlers) GetTaskHistory(c *gin.Context) {
	events, err := h.historyRepo.ListByTask(c.Request.Context(), c.Param("id"), 100)
	if err != nil {
		h.writeError(c, err, "failed to get task history")
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: events})
}

// AssignTask handles POST /api/v1/tasks/:id/assign
func (h *Handlers) AssignTask(c *gin.Context) {
	var req AssignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "invalid request body"})
		return
	}

	t, err := h.taskService.Assign(c.Request.Context(), c.Param("id"), req.AssigneeIDs, req.ActorID)
	if err != nil {
		h.writeError(c, err, "failed to assign task")
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: toTaskResponse(t)})
}

// ReportStage handles POST /api/v1/tasks/:id/stage
func (h *Handlers) ReportStage(c *gin.Context) {
	var req ReportStageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "invalid request body"})
		return
	}

	stage := task.Stage(req.Stage)
	if !stage.IsValid() {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "invalid stage"})
		return
	}

	t, err := h.taskService.ReportStage(c.Request.Context(), c.Param("id"), stage, req.ActorID)
	if err != nil {
		h.writeError(c, err, "failed to report stage")
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: toTaskResponse(t)})
}

// Decide handles POST /api/v1/tasks/:id/decision
func (h *Handlers) Decide(c *gin.Context) {
	var req DecideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "invalid request body"})
		return
	}

	decision := token.Action(req.Decision)
	if decision != token.ActionApprove && decision != token.ActionReject {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "decision must be APPROVE or REJECT"})
		return
	}

	t, err := h.approvalService.Decide(c.Request.Context(), service.DecideRequest{
		TaskID:        c.Param("id"),
		Decision:      decision,
		ActorID:       req.ActorID,
		AssigneeScope: req.AssigneeScope,
		Reason:        req.Reason,
	})
	if err != nil {
		h.writeError(c, err, "failed to apply decision")
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: toTaskResponse(t)})
}

// AddRemark handles POST /api/v1/tasks/:id/remarks
func (h *Handlers) AddRemark(c *gin.Context) {
	var req RemarkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "invalid request body"})
		return
	}

	t, err := h.taskService.AddRemark(c.Request.Context(), c.Param("id"), req.ActorID, req.Text)
	if err != nil {
		h.writeError(c, err, "failed to add remark")
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: toTaskResponse(t)})
}

// IssueApprovalLinks handles POST /api/v1/tasks/:id/approval-links
func (h *Handlers) IssueApprovalLinks(c *gin.Context) {
	var req ApprovalLinksRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "invalid request body"})
		return
	}

	links, err := h.tokenService.IssueApprovalLinks(c.Request.Context(), c.Param("id"), req.ApproverID, req.AssigneeScope)
	if err != nil {
		h.writeError(c, err, "failed to issue approval links")
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: links})
}

// ListNotifications handles GET /api/v1/notifications
func (h *Handlers) ListNotifications(c *gin.Context) {
	recipientID := c.Query("recipient_id")
	if recipientID == "" {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "recipient_id is required"})
		return
	}

	var req ListTasksRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "invalid query parameters"})
		return
	}
	if req.Limit <= 0 || req.Limit > 100 {
		req.Limit = 20
	}
	if req.Offset < 0 {
		req.Offset = 0
	}

	notifications, err := h.notificationService.ListByRecipient(c.Request.Context(), recipientID, req.Limit, req.Offset)
	if err != nil {
		h.writeError(c, err, "failed to list notifications")
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: notifications})
}

// UpsertActor handles PUT /api/v1/actors/:id
func (h *Handlers) UpsertActor(c *gin.Context) {
	var req UpsertActorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "invalid request body"})
		return
	}

	actor := &identity.Actor{
		ID:    c.Param("id"),
		Name:  req.Name,
		Email: req.Email,
		Role:  identity.Role(req.Role),
	}
	if !actor.Role.IsValid() {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "invalid role"})
		return
	}

	if err := h.actorAdmin.Upsert(c.Request.Context(), actor); err != nil {
		h.writeError(c, err, "failed to upsert actor")
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: actor})
}

// TriggerSweep handles POST /api/v1/admin/sweep
func (h *Handlers) TriggerSweep(c *gin.Context) {
	emitted, err := h.sweeper.SweepOnce(c.Request.Context())
	if err != nil {
		h.writeError(c, err, "sweep failed")
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: gin.H{"reminders": emitted}})
}

// writeError maps application errors onto HTTP statuses
func (h *Handlers) writeError(c *gin.Context, err error, fallback string) {
	status := http.StatusInternalServerError
	msg := fallback

	switch {
	case errors.Is(err, port.ErrNotFound):
		status, msg = http.StatusNotFound, "not found"
	case errors.Is(err, service.ErrNotAuthorized):
		status, msg = http.StatusForbidden, "not authorized"
	case errors.Is(err, service.ErrAlreadyFinalized):
		status, msg = http.StatusConflict, "task is already finalized"
	case errors.Is(err, service.ErrAssignmentNotFound):
		status, msg = http.StatusNotFound, "assignment not found"
	case errors.Is(err, service.ErrNoAssignees),
		errors.Is(err, service.ErrDuplicateAssignee),
		errors.Is(err, service.ErrInvalidDecision):
		status, msg = http.StatusBadRequest, err.Error()
	case errors.Is(err, token.ErrTokenScopeMismatch):
		status, msg = http.StatusBadRequest, err.Error()
	case errors.Is(err, lifecycle.ErrIllegalTransition),
		errors.Is(err, lifecycle.ErrInvalidStage),
		errors.Is(err, lifecycle.ErrInvalidStatus),
		errors.Is(err, lifecycle.ErrAssignmentNotDone):
		status, msg = http.StatusConflict, err.Error()
	case errors.Is(err, port.ErrVersionConflict):
		status, msg = http.StatusConflict, "concurrent modification, please retry"
	}

	if status == http.StatusInternalServerError {
		h.logger.Error(fallback, "error", err, "path", c.Request.URL.Path)
	}
	c.JSON(status, Response{Success: false, Error: msg})
}

// toTaskResponse converts a domain task to its API representation
func toTaskResponse(t *task.Task) TaskResponse {
	resp := TaskResponse{
		ID:             t.ID,
		Title:          t.Title,
		Description:    t.Description,
		CreatorID:      t.CreatorID,
		Status:         t.Status.String(),
		Stage:          t.Stage.String(),
		IsGroupTask:    t.IsGroupTask,
		ApprovalStatus: t.ApprovalStatus.String(),
		ApprovedBy:     t.ApprovedBy,
		ElapsedSeconds: int64(t.Elapsed.Seconds()),
		Version:        t.Version,
		CreatedAt:      t.CreatedAt.Format(time.RFC3339),
		UpdatedAt:      t.UpdatedAt.Format(time.RFC3339),
		CompletedAt:    formatTimePtr(t.CompletedAt),
		ApprovedAt:     formatTimePtr(t.ApprovedAt),
	}

	for i := range t.Assignments {
		a := &t.Assignments[i]
		resp.Assignments = append(resp.Assignments, AssignmentResponse{
			AssigneeID:      a.AssigneeID,
			Stage:           a.Stage.String(),
			Status:          a.Status.String(),
			Approval:        a.Approval.String(),
			CompletedAt:     formatTimePtr(a.CompletedAt),
			ApprovalAt:      formatTimePtr(a.ApprovalAt),
			ApprovedBy:      a.ApprovedBy,
			RejectionReason: a.RejectionReason,
		})
	}
	return resp
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.RFC3339)
	return &s
}
