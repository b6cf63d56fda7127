package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"todoflow/internal/clock"
	"todoflow/internal/events"
	"todoflow/internal/handler"
	"todoflow/internal/middleware"
	"todoflow/internal/model"
	"todoflow/internal/repository"
)

type fakeTaskRepo struct {
	tasks      map[uuid.UUID]*model.Task
	createErr  error
	completeErr error
}

func newFakeTaskRepo(tasks ...*model.Task) *fakeTaskRepo {
	r := &fakeTaskRepo{tasks: make(map[uuid.UUID]*model.Task)}
	for _, task := range tasks {
		r.tasks[task.ID] = task
	}
	return r
}

func (r *fakeTaskRepo) Create(_ context.Context, task *model.Task) error {
	if r.createErr != nil {
		return r.createErr
	}
	r.tasks[task.ID] = task
	return nil
}

func (r *fakeTaskRepo) GetByID(_ context.Context, id, ownerID uuid.UUID) (*model.Task, error) {
	task, ok := r.tasks[id]
	if !ok || task.OwnerID != ownerID {
		return nil, repository.ErrTaskNotFound
	}
	return task, nil
}

func (r *fakeTaskRepo) ListByOwner(_ context.Context, ownerID uuid.UUID, _ repository.TaskFilter) ([]model.Task, error) {
	var out []model.Task
	for _, task := range r.tasks {
		if task.OwnerID == ownerID {
			out = append(out, *task)
		}
	}
	return out, nil
}

func (r *fakeTaskRepo) Update(_ context.Context, id, ownerID uuid.UUID, upd repository.TaskUpdate) (*model.Task, error) {
	task, ok := r.tasks[id]
	if !ok || task.OwnerID != ownerID {
		return nil, repository.ErrTaskNotFound
	}
	if upd.DueAt != nil {
		task.DueAt = upd.DueAt
		task.ReminderSentAt = nil
	}
	if upd.Title != nil {
		task.Title = *upd.Title
	}
	return task, nil
}

func (r *fakeTaskRepo) MarkCompleted(_ context.Context, id, ownerID uuid.UUID) (*model.Task, error) {
	if r.completeErr != nil {
		return nil, r.completeErr
	}
	task, ok := r.tasks[id]
	if !ok || task.OwnerID != ownerID {
		return nil, repository.ErrTaskNotFound
	}
	task.Completed = true
	return task, nil
}

func (r *fakeTaskRepo) Delete(_ context.Context, id, ownerID uuid.UUID) error {
	task, ok := r.tasks[id]
	if !ok || task.OwnerID != ownerID {
		return repository.ErrTaskNotFound
	}
	delete(r.tasks, id)
	return nil
}

type fakePublisher struct {
	err      error
	messages []any
}

func (p *fakePublisher) Publish(_ context.Context, _ string, msg any) error {
	if p.err != nil {
		return p.err
	}
	p.messages = append(p.messages, msg)
	return nil
}

var handlerNow = time.Date(2026, 2, 1, 8, 30, 0, 0, time.UTC)

func setupTaskRouter(repo *fakeTaskRepo, pub *fakePublisher, ownerID uuid.UUID) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(middleware.UserIDKey, ownerID)
		c.Next()
	})

	h := handler.NewTaskHandler(repo, pub, clock.NewFakeClock(handlerNow), 1000)
	r.POST("/tasks", h.Create)
	r.GET("/tasks", h.List)
	r.GET("/tasks/:id", h.GetByID)
	r.PUT("/tasks/:id", h.Update)
	r.DELETE("/tasks/:id", h.Delete)
	r.POST("/tasks/:id/complete", h.Complete)
	return r
}

func doJSON(router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req, _ := http.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	return resp
}

func TestTaskHandler_Create(t *testing.T) {
	// Arrange
	ownerID := uuid.New()
	repo := newFakeTaskRepo()
	router := setupTaskRouter(repo, &fakePublisher{}, ownerID)

	// Act
	resp := doJSON(router, "POST", "/tasks", gin.H{
		"title":    "Water plants",
		"due_at":   "2026-02-01T08:00:00Z",
		"priority": "high",
		"tags":     []string{"home"},
	})

	// Assert
	assert.Equal(t, http.StatusCreated, resp.Code)

	var created handler.TaskResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &created))
	assert.Equal(t, "Water plants", created.Title)
	assert.False(t, created.Completed)
	require.Len(t, repo.tasks, 1)
	for _, task := range repo.tasks {
		assert.Equal(t, ownerID, task.OwnerID)
	}
}

func TestTaskHandler_Create_MissingTitle(t *testing.T) {
	router := setupTaskRouter(newFakeTaskRepo(), &fakePublisher{}, uuid.New())

	resp := doJSON(router, "POST", "/tasks", gin.H{"description": "no title"})

	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestTaskHandler_Create_RecurrenceRequiresDueDate(t *testing.T) {
	router := setupTaskRouter(newFakeTaskRepo(), &fakePublisher{}, uuid.New())

	resp := doJSON(router, "POST", "/tasks", gin.H{
		"title":      "Water plants",
		"recurrence": "daily",
	})

	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestTaskHandler_Create_CustomRecurrenceRequiresInterval(t *testing.T) {
	router := setupTaskRouter(newFakeTaskRepo(), &fakePublisher{}, uuid.New())

	resp := doJSON(router, "POST", "/tasks", gin.H{
		"title":      "Water plants",
		"due_at":     "2026-02-01T08:00:00Z",
		"recurrence": "custom",
	})

	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestTaskHandler_GetByID_OtherOwnersTaskIsNotFound(t *testing.T) {
	// Arrange: the task exists but belongs to somebody else.
	otherOwner := uuid.New()
	task := &model.Task{ID: uuid.New(), OwnerID: otherOwner, Title: "Secret"}
	router := setupTaskRouter(newFakeTaskRepo(task), &fakePublisher{}, uuid.New())

	// Act
	resp := doJSON(router, "GET", "/tasks/"+task.ID.String(), nil)

	// Assert
	assert.Equal(t, http.StatusNotFound, resp.Code)
	assert.NotContains(t, resp.Body.String(), "Secret")
}

func TestTaskHandler_Complete_PublishesCompletionSignal(t *testing.T) {
	// Arrange
	ownerID := uuid.New()
	due := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)
	recur := model.RecurrenceDaily
	task := &model.Task{
		ID:         uuid.New(),
		OwnerID:    ownerID,
		Title:      "Water plants",
		DueAt:      &due,
		Recurrence: &recur,
	}
	repo := newFakeTaskRepo(task)
	pub := &fakePublisher{}
	router := setupTaskRouter(repo, pub, ownerID)

	// Act
	resp := doJSON(router, "POST", "/tasks/"+task.ID.String()+"/complete", nil)

	// Assert
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.True(t, task.Completed)

	require.Len(t, pub.messages, 1)
	evt, ok := pub.messages[0].(events.TaskCompleted)
	require.True(t, ok)
	assert.Equal(t, task.ID, evt.TaskID)
	assert.Equal(t, ownerID, evt.OwnerID)
	assert.Equal(t, handlerNow, evt.CompletedAt)
	require.NotNil(t, evt.Recurrence)
	assert.Equal(t, model.RecurrenceDaily, *evt.Recurrence)
	require.NotNil(t, evt.DueAt)
	assert.True(t, evt.DueAt.Equal(due))
}

func TestTaskHandler_Complete_PublishFailure(t *testing.T) {
	ownerID := uuid.New()
	task := &model.Task{ID: uuid.New(), OwnerID: ownerID, Title: "Water plants"}
	router := setupTaskRouter(newFakeTaskRepo(task), &fakePublisher{err: errors.New("bus down")}, ownerID)

	resp := doJSON(router, "POST", "/tasks/"+task.ID.String()+"/complete", nil)

	assert.Equal(t, http.StatusInternalServerError, resp.Code)
}

func TestTaskHandler_Update_RescheduleClearsReminderMark(t *testing.T) {
	// Arrange: reminder already sent for the current due time.
	ownerID := uuid.New()
	due := time.Date(2026, 2, 1, 8, 10, 0, 0, time.UTC)
	reminded := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)
	task := &model.Task{
		ID:             uuid.New(),
		OwnerID:        ownerID,
		Title:          "Water plants",
		DueAt:          &due,
		ReminderSentAt: &reminded,
	}
	router := setupTaskRouter(newFakeTaskRepo(task), &fakePublisher{}, ownerID)

	// Act
	resp := doJSON(router, "PUT", "/tasks/"+task.ID.String(), gin.H{
		"due_at": "2026-02-01T10:10:00Z",
	})

	// Assert
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Nil(t, task.ReminderSentAt)
}

func TestTaskHandler_Delete(t *testing.T) {
	ownerID := uuid.New()
	task := &model.Task{ID: uuid.New(), OwnerID: ownerID, Title: "Water plants"}
	repo := newFakeTaskRepo(task)
	router := setupTaskRouter(repo, &fakePublisher{}, ownerID)

	resp := doJSON(router, "DELETE", "/tasks/"+task.ID.String(), nil)

	assert.Equal(t, http.StatusNoContent, resp.Code)
	assert.Empty(t, repo.tasks)
}
