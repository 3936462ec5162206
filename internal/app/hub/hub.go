package hub

import (
	"sync"

	"github.com/nats-io/nuid"
	"go.uber.org/zap"

	"github.com/journeytrack/service/internal/platform/metrics"
)

// PushMessage is one named payload delivered to connected clients. Name maps
// to the SSE event field, Payload is JSON-encoded by the transport.
type PushMessage struct {
	Name    string
	Payload any
}

const connBuffer = 16

var droppedTotal = metrics.NewCounterVec(metrics.Opts{
	Name: "journey_push_dropped_total",
	Help: "Push messages dropped because a client buffer was full.",
}, []string{"reason"})

func init() {
	metrics.Default.MustRegister(droppedTotal)
}

type conn struct {
	userID string
	admin  bool
	ch     chan PushMessage
}

// Hub is the in-process presence registry. A user is online while at least
// one connection holds a lease; releasing the last lease flips them offline.
// Sends never block: a client that cannot drain its buffer loses messages
// rather than stalling the publisher.
type Hub struct {
	mu     sync.RWMutex
	conns  map[string]*conn
	online map[string]int
	logger *zap.Logger
}

func New(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		conns:  map[string]*conn{},
		online: map[string]int{},
		logger: logger,
	}
}

// Connect registers a client and returns its lease id and receive channel.
// The caller must Release the lease when the connection closes.
func (h *Hub) Connect(userID string, admin bool) (string, <-chan PushMessage) {
	lease := nuid.Next()
	c := &conn{userID: userID, admin: admin, ch: make(chan PushMessage, connBuffer)}

	h.mu.Lock()
	h.conns[lease] = c
	h.online[userID]++
	h.mu.Unlock()

	h.logger.Debug("client connected",
		zap.String("user_id", userID), zap.Bool("admin", admin))
	return lease, c.ch
}

func (h *Hub) Release(lease string) {
	h.mu.Lock()
	c, ok := h.conns[lease]
	if ok {
		delete(h.conns, lease)
		if h.online[c.userID] <= 1 {
			delete(h.online, c.userID)
		} else {
			h.online[c.userID]--
		}
	}
	h.mu.Unlock()

	// The channel is left open for the GC: a concurrent push may still
	// hold a reference, and readers exit on their own context instead.

	if ok {
		h.logger.Debug("client disconnected", zap.String("user_id", c.userID))
	}
}

func (h *Hub) IsOnline(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.online[userID] > 0
}

// Partition splits userIDs by current presence. The split is a snapshot;
// a user can disconnect between the check and the push, in which case the
// message is simply lost to that connection.
func (h *Hub) Partition(userIDs []string) (online, offline []string) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, id := range userIDs {
		if h.online[id] > 0 {
			online = append(online, id)
		} else {
			offline = append(offline, id)
		}
	}
	return online, offline
}

func (h *Hub) Broadcast(msg PushMessage) {
	h.each(msg, func(*conn) bool { return true })
}

func (h *Hub) PushToUsers(userIDs []string, msg PushMessage) {
	members := make(map[string]struct{}, len(userIDs))
	for _, id := range userIDs {
		members[id] = struct{}{}
	}
	h.each(msg, func(c *conn) bool {
		_, ok := members[c.userID]
		return ok
	})
}

func (h *Hub) PushToAdmins(msg PushMessage) {
	h.each(msg, func(c *conn) bool { return c.admin })
}

func (h *Hub) each(msg PushMessage, match func(*conn) bool) {
	h.mu.RLock()
	targets := make([]*conn, 0, len(h.conns))
	for _, c := range h.conns {
		if match(c) {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		select {
		case c.ch <- msg:
		default:
			droppedTotal.WithLabelValues("buffer_full").Inc()
			h.logger.Warn("push dropped, client buffer full",
				zap.String("user_id", c.userID), zap.String("event", msg.Name))
		}
	}
}

func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}
