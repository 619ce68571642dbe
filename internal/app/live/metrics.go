package live

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pranavraj012/squatformanalysis/internal/domain"
)

// FrameMetrics is published for every frame the live producer emits.
type FrameMetrics struct {
	Handle       string      `json:"handle"`
	Seq          uint64      `json:"seq"`
	Mode         domain.Mode `json:"mode"`
	ExerciseType string      `json:"exerciseType"`
	Generation   uint64      `json:"generation"`
	Metrics      any         `json:"metrics,omitempty"`
	At           time.Time   `json:"at"`
}

// MetricsHub fans frame metrics out to listeners. Slow listeners miss updates.
type MetricsHub struct {
	buffer int

	mu        sync.RWMutex
	listeners map[string]chan FrameMetrics
}

func NewMetricsHub(buffer int) *MetricsHub {
	if buffer < 1 {
		buffer = 1
	}
	return &MetricsHub{buffer: buffer, listeners: make(map[string]chan FrameMetrics)}
}

// Listen registers a listener. The returned func unregisters it and closes the channel.
func (h *MetricsHub) Listen() (<-chan FrameMetrics, func()) {
	id := uuid.NewString()
	ch := make(chan FrameMetrics, h.buffer)
	h.mu.Lock()
	h.listeners[id] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.listeners, id)
			h.mu.Unlock()
			close(ch)
		})
	}
}

func (h *MetricsHub) Publish(m FrameMetrics) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.listeners {
		select {
		case ch <- m:
		default:
		}
	}
}

func (h *MetricsHub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.listeners)
}
