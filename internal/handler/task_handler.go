package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"todoflow/internal/clock"
	"todoflow/internal/events"
	"todoflow/internal/middleware"
	"todoflow/internal/model"
	"todoflow/internal/repository"
)

// TaskRepo is the slice of the task repository the handler needs.
type TaskRepo interface {
	Create(ctx context.Context, task *model.Task) error
	GetByID(ctx context.Context, id, ownerID uuid.UUID) (*model.Task, error)
	ListByOwner(ctx context.Context, ownerID uuid.UUID, filter repository.TaskFilter) ([]model.Task, error)
	Update(ctx context.Context, id, ownerID uuid.UUID, upd repository.TaskUpdate) (*model.Task, error)
	MarkCompleted(ctx context.Context, id, ownerID uuid.UUID) (*model.Task, error)
	Delete(ctx context.Context, id, ownerID uuid.UUID) error
}

// Publisher emits completion signals. Satisfied by *events.Bus.
type Publisher interface {
	Publish(ctx context.Context, topic string, msg any) error
}

type TaskHandler struct {
	repo           TaskRepo
	pub            Publisher
	clk            clock.Clock
	descriptionMax int
}

func NewTaskHandler(repo TaskRepo, pub Publisher, clk clock.Clock, descriptionMax int) *TaskHandler {
	return &TaskHandler{
		repo:           repo,
		pub:            pub,
		clk:            clk,
		descriptionMax: descriptionMax,
	}
}

// TaskRequest is the create payload.
type TaskRequest struct {
	Title                  string     `json:"title" binding:"required,min=1,max=200"`
	Description            string     `json:"description"`
	DueAt                  *time.Time `json:"due_at"`
	Priority               *string    `json:"priority" binding:"omitempty,oneof=high medium low"`
	Tags                   []string   `json:"tags"`
	Recurrence             *string    `json:"recurrence" binding:"omitempty,oneof=daily weekly monthly custom"`
	RecurrenceIntervalDays *int       `json:"recurrence_interval_days" binding:"omitempty,min=1"`
}

// TaskUpdateRequest is the partial-edit payload. Absent fields stay
// untouched; explicit nulls for due_at and recurrence are expressed with
// the clear flags.
type TaskUpdateRequest struct {
	Title                  *string    `json:"title" binding:"omitempty,min=1,max=200"`
	Description            *string    `json:"description"`
	Completed              *bool      `json:"completed"`
	DueAt                  *time.Time `json:"due_at"`
	ClearDueAt             bool       `json:"clear_due_at"`
	Priority               *string    `json:"priority" binding:"omitempty,oneof=high medium low"`
	Tags                   *[]string  `json:"tags"`
	Recurrence             *string    `json:"recurrence" binding:"omitempty,oneof=daily weekly monthly custom"`
	ClearRecurrence        bool       `json:"clear_recurrence"`
	RecurrenceIntervalDays *int       `json:"recurrence_interval_days" binding:"omitempty,min=1"`
}

// TaskResponse mirrors a task row.
type TaskResponse struct {
	ID                     string     `json:"id"`
	Title                  string     `json:"title"`
	Description            string     `json:"description,omitempty"`
	Completed              bool       `json:"completed"`
	DueAt                  *time.Time `json:"due_at,omitempty"`
	Priority               *string    `json:"priority,omitempty"`
	Tags                   []string   `json:"tags,omitempty"`
	Recurrence             *string    `json:"recurrence,omitempty"`
	RecurrenceIntervalDays *int       `json:"recurrence_interval_days,omitempty"`
	ParentTaskID           *string    `json:"parent_task_id,omitempty"`
	ReminderSentAt         *time.Time `json:"reminder_sent_at,omitempty"`
	CreatedAt              time.Time  `json:"created_at"`
	UpdatedAt              time.Time  `json:"updated_at"`
}

func toTaskResponse(task *model.Task) TaskResponse {
	resp := TaskResponse{
		ID:                     task.ID.String(),
		Title:                  task.Title,
		Description:            task.Description,
		Completed:              task.Completed,
		DueAt:                  task.DueAt,
		Tags:                   task.Tags,
		RecurrenceIntervalDays: task.RecurrenceIntervalDays,
		ReminderSentAt:         task.ReminderSentAt,
		CreatedAt:              task.CreatedAt,
		UpdatedAt:              task.UpdatedAt,
	}
	if task.Priority != nil {
		p := string(*task.Priority)
		resp.Priority = &p
	}
	if task.Recurrence != nil {
		r := string(*task.Recurrence)
		resp.Recurrence = &r
	}
	if task.ParentTaskID != nil {
		id := task.ParentTaskID.String()
		resp.ParentTaskID = &id
	}
	return resp
}

func currentUserID(c *gin.Context) (uuid.UUID, bool) {
	raw, exists := c.Get(middleware.UserIDKey)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Not authenticated"})
		return uuid.Nil, false
	}
	userID, ok := raw.(uuid.UUID)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Invalid user ID format"})
		return uuid.Nil, false
	}
	return userID, true
}

func parseTaskID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid task ID format"})
		return uuid.Nil, false
	}
	return id, true
}

// Create creates a new task owned by the authenticated user.
func (h *TaskHandler) Create(c *gin.Context) {
	ownerID, ok := currentUserID(c)
	if !ok {
		return
	}

	var req TaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	if len(req.Description) > h.descriptionMax {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Description too long"})
		return
	}
	if req.Recurrence != nil && req.DueAt == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Recurrence requires a due date"})
		return
	}
	if req.Recurrence != nil && *req.Recurrence == string(model.RecurrenceCustom) && req.RecurrenceIntervalDays == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Custom recurrence requires an interval in days"})
		return
	}

	task := &model.Task{
		ID:                     uuid.New(),
		OwnerID:                ownerID,
		Title:                  req.Title,
		Description:            req.Description,
		DueAt:                  req.DueAt,
		Tags:                   req.Tags,
		RecurrenceIntervalDays: req.RecurrenceIntervalDays,
	}
	if req.Priority != nil {
		p := model.Priority(*req.Priority)
		task.Priority = &p
	}
	if req.Recurrence != nil {
		r := model.Recurrence(*req.Recurrence)
		task.Recurrence = &r
	}

	if err := h.repo.Create(c.Request.Context(), task); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create task"})
		return
	}

	c.JSON(http.StatusCreated, toTaskResponse(task))
}

// List returns the authenticated user's tasks with optional filters.
func (h *TaskHandler) List(c *gin.Context) {
	ownerID, ok := currentUserID(c)
	if !ok {
		return
	}

	filter := repository.TaskFilter{
		Status:    c.DefaultQuery("status", "all"),
		Tags:      c.QueryArray("tags"),
		Search:    c.Query("search"),
		SortBy:    c.DefaultQuery("sort_by", "created"),
		SortOrder: c.DefaultQuery("sort_order", "desc"),
	}
	if p := c.Query("priority"); p != "" {
		priority := model.Priority(p)
		if !priority.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid priority"})
			return
		}
		filter.Priority = &priority
	}

	tasks, err := h.repo.ListByOwner(c.Request.Context(), ownerID, filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve tasks"})
		return
	}

	responses := make([]TaskResponse, 0, len(tasks))
	for i := range tasks {
		responses = append(responses, toTaskResponse(&tasks[i]))
	}
	c.JSON(http.StatusOK, responses)
}

// GetByID returns one task scoped to the authenticated user.
func (h *TaskHandler) GetByID(c *gin.Context) {
	ownerID, ok := currentUserID(c)
	if !ok {
		return
	}
	taskID, ok := parseTaskID(c)
	if !ok {
		return
	}

	task, err := h.repo.GetByID(c.Request.Context(), taskID, ownerID)
	if err != nil {
		if errors.Is(err, repository.ErrTaskNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Task not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve task"})
		return
	}
	c.JSON(http.StatusOK, toTaskResponse(task))
}

// Update applies a partial edit. Changing the due date clears the
// reminder mark so the scanner can fire again for the new time.
func (h *TaskHandler) Update(c *gin.Context) {
	ownerID, ok := currentUserID(c)
	if !ok {
		return
	}
	taskID, ok := parseTaskID(c)
	if !ok {
		return
	}

	var req TaskUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	if req.Description != nil && len(*req.Description) > h.descriptionMax {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Description too long"})
		return
	}

	upd := repository.TaskUpdate{
		Title:                  req.Title,
		Description:            req.Description,
		Completed:              req.Completed,
		DueAt:                  req.DueAt,
		ClearDueAt:             req.ClearDueAt,
		Tags:                   req.Tags,
		ClearRecurrence:        req.ClearRecurrence,
		RecurrenceIntervalDays: req.RecurrenceIntervalDays,
	}
	if req.Priority != nil {
		p := model.Priority(*req.Priority)
		upd.Priority = &p
	}
	if req.Recurrence != nil {
		r := model.Recurrence(*req.Recurrence)
		upd.Recurrence = &r
	}

	task, err := h.repo.Update(c.Request.Context(), taskID, ownerID, upd)
	if err != nil {
		if errors.Is(err, repository.ErrTaskNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Task not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update task"})
		return
	}
	c.JSON(http.StatusOK, toTaskResponse(task))
}

// Complete marks a task done and publishes the completion signal the
// recurrence consumer reacts to. Publish failure does not undo the
// completion; it is logged by the bus and the client still gets the row.
func (h *TaskHandler) Complete(c *gin.Context) {
	ownerID, ok := currentUserID(c)
	if !ok {
		return
	}
	taskID, ok := parseTaskID(c)
	if !ok {
		return
	}

	task, err := h.repo.MarkCompleted(c.Request.Context(), taskID, ownerID)
	if err != nil {
		if errors.Is(err, repository.ErrTaskNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Task not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to complete task"})
		return
	}

	evt := events.NewTaskCompleted(task, h.clk.Now())
	if err := h.pub.Publish(c.Request.Context(), events.TopicTaskEvents, evt); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Task completed but event publish failed"})
		return
	}

	c.JSON(http.StatusOK, toTaskResponse(task))
}

// Delete removes a task. Hard delete.
func (h *TaskHandler) Delete(c *gin.Context) {
	ownerID, ok := currentUserID(c)
	if !ok {
		return
	}
	taskID, ok := parseTaskID(c)
	if !ok {
		return
	}

	if err := h.repo.Delete(c.Request.Context(), taskID, ownerID); err != nil {
		if errors.Is(err, repository.ErrTaskNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Task not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete task"})
		return
	}
	c.Status(http.StatusNoContent)
}
