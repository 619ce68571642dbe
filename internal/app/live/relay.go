package live

import (
	"context"
	"fmt"
	"maps"
	"sync"

	"github.com/rs/zerolog"

	"github.com/pranavraj012/squatformanalysis/internal/app/device"
	"github.com/pranavraj012/squatformanalysis/internal/core"
)

var errSlowSubscriber = fmt.Errorf("%w: too slow", core.ErrSubscriberDisconnected)

// relay fans the chunks of one device handle out to its subscribers.
type relay struct {
	handle *device.Handle
	policy Policy

	mu   sync.RWMutex
	subs map[string]*Subscriber

	ctx    context.Context
	cancel context.CancelFunc
	logger zerolog.Logger
}

func newRelay(parent context.Context, h *device.Handle, policy Policy, logger zerolog.Logger) *relay {
	ctx, cancel := context.WithCancel(parent)
	return &relay{
		handle: h,
		policy: policy,
		subs:   make(map[string]*Subscriber),
		ctx:    ctx,
		cancel: cancel,
		logger: logger.With().Str("handle", h.ID()).Logger(),
	}
}

func (r *relay) add(sub *Subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub.relay = r
	r.subs[sub.ID] = sub
}

func (r *relay) count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

// forward offers chunk to every subscriber without blocking.
func (r *relay) forward(chunk []byte) {
	r.mu.RLock()
	snapshot := make(map[string]*Subscriber, len(r.subs))
	maps.Copy(snapshot, r.subs)

	kicked := make([]string, 0)
	dirty := make([]string, 0)
	for id, sub := range snapshot {
		if sub.GetState() == SubscriberDelete {
			dirty = append(dirty, id)
			continue
		}
		if sub.trySend(chunk) {
			continue
		}
		dropped := int(sub.drops.Add(1))
		switch r.policy.OnBackPressure(sub, dropped) {
		case KickSubscriber:
			r.logger.Warn().Str("subscriber", id).Int("dropped", dropped).Msg("subscriber too slow, kicking")
			sub.MarkDelete()
			kicked = append(kicked, id)
		case DropFrame:
			r.logger.Debug().Str("subscriber", id).Int("dropped", dropped).Msg("subscriber buffer full, dropping frame")
		}
	}
	r.mu.RUnlock()

	// Cleanup is done outside the RLock.
	if len(kicked) > 0 {
		r.remove(kicked, errSlowSubscriber)
	}
	if len(dirty) > 0 {
		r.remove(dirty, core.ErrSubscriberDisconnected)
	}
}

func (r *relay) remove(ids []string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		if sub, ok := r.subs[id]; ok {
			delete(r.subs, id)
			sub.close(err)
		}
	}
}

func (r *relay) removeOne(sub *Subscriber) {
	sub.MarkDelete()
	r.remove([]string{sub.ID}, core.ErrSubscriberDisconnected)
}

// closeAll ends every subscriber with err.
func (r *relay) closeAll(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, sub := range r.subs {
		delete(r.subs, id)
		sub.close(err)
	}
}
