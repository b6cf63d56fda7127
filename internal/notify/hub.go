package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"todoflow/internal/events"
	"todoflow/internal/logger"
)

const writeTimeout = 5 * time.Second

// ReminderMessage is the JSON frame pushed to a user's sockets.
type ReminderMessage struct {
	Type            string    `json:"type"`
	TaskID          uuid.UUID `json:"task_id"`
	Title           string    `json:"title"`
	DueAt           time.Time `json:"due_at"`
	MinutesUntilDue int       `json:"minutes_until_due"`
	Message         string    `json:"message"`
}

// Hub fans reminder signals out to WebSocket connections, keyed strictly
// by owner so one user's reminder never reaches another user's sockets.
type Hub struct {
	mu    sync.Mutex
	conns map[uuid.UUID][]*websocket.Conn
}

func NewHub() *Hub {
	return &Hub{conns: make(map[uuid.UUID][]*websocket.Conn)}
}

// Register subscribes the hub on the reminders topic.
func (h *Hub) Register(bus *events.Bus) {
	bus.Subscribe(events.TopicReminders, "notify", h.Handle)
}

// Handle consumes one reminder signal. Socket delivery is best-effort: a
// user with no open connections simply misses the push, and a dead socket
// is pruned rather than retried, so the signal is always acknowledged.
func (h *Hub) Handle(ctx context.Context, msg any) error {
	reminder, ok := msg.(events.Reminder)
	if !ok {
		logger.Warn("notify: unexpected message type on reminders",
			zap.String("type", fmt.Sprintf("%T", msg)))
		return nil
	}

	h.send(reminder.OwnerID, ReminderMessage{
		Type:            "reminder",
		TaskID:          reminder.TaskID,
		Title:           reminder.Title,
		DueAt:           reminder.DueAt,
		MinutesUntilDue: reminder.MinutesUntilDue,
		Message:         fmt.Sprintf("Reminder: %q is due soon", reminder.Title),
	})
	return nil
}

// Add registers a connection for a user.
func (h *Hub) Add(ownerID uuid.UUID, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[ownerID] = append(h.conns[ownerID], conn)
	logger.Info("notify: websocket connected",
		zap.String("owner_id", ownerID.String()),
		zap.Int("connections", len(h.conns[ownerID])))
}

// Remove drops a connection for a user.
func (h *Hub) Remove(ownerID uuid.UUID, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(ownerID, conn)
}

func (h *Hub) removeLocked(ownerID uuid.UUID, conn *websocket.Conn) {
	conns := h.conns[ownerID]
	for i, c := range conns {
		if c == conn {
			h.conns[ownerID] = append(conns[:i], conns[i+1:]...)
			break
		}
	}
	if len(h.conns[ownerID]) == 0 {
		delete(h.conns, ownerID)
	}
}

// ConnectionCount reports the number of users with open sockets.
func (h *Hub) ConnectionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

func (h *Hub) send(ownerID uuid.UUID, msg ReminderMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var dead []*websocket.Conn
	for _, conn := range h.conns[ownerID] {
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteJSON(msg); err != nil {
			logger.Warn("notify: write failed, dropping connection",
				zap.String("owner_id", ownerID.String()),
				zap.Error(err))
			dead = append(dead, conn)
		}
	}
	for _, conn := range dead {
		conn.Close()
		h.removeLocked(ownerID, conn)
	}
}
