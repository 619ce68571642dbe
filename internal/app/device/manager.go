package device

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/rs/zerolog/log"

	"github.com/pranavraj012/squatformanalysis/internal/core"
)

// Opener opens the physical capture device.
type Opener interface {
	Open(ctx context.Context) (core.Source, error)
}

type OpenerFunc func(ctx context.Context) (core.Source, error)

func (f OpenerFunc) Open(ctx context.Context) (core.Source, error) { return f(ctx) }

type Options struct {
	// LockPath, when set, is flocked while the device is open so a second
	// process cannot grab the same camera.
	LockPath    string
	ReadTimeout time.Duration
}

// Manager is the sole owner of the capture device. Acquire and Release are
// idempotent and serialised.
type Manager struct {
	opener Opener
	opts   Options

	mu     sync.Mutex
	handle *Handle
	lock   *flock.Flock
	opens  int
}

func NewManager(opener Opener, opts Options) *Manager {
	m := &Manager{opener: opener, opts: opts}
	if opts.LockPath != "" {
		m.lock = flock.New(opts.LockPath)
	}
	return m
}

// Acquire returns the open handle, opening the device if needed. A handle
// whose reads failed is closed and replaced. On error the device is closed.
func (m *Manager) Acquire(ctx context.Context) (*Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if h := m.handle; h != nil {
		if !h.Failed() {
			return h, nil
		}
		log.Warn().Str("module", "device").Str("handle", h.ID()).Msg("replacing failed capture handle")
		m.closeLocked()
	}

	if m.lock != nil {
		ok, err := m.lock.TryLock()
		if err != nil {
			return nil, fmt.Errorf("%w: lock %s: %v", core.ErrDeviceUnavailable, m.opts.LockPath, err)
		}
		if !ok {
			return nil, fmt.Errorf("%w: in use by another process (%s)", core.ErrDeviceUnavailable, m.opts.LockPath)
		}
	}

	src, err := m.opener.Open(ctx)
	if err != nil {
		m.unlockFile()
		if !errors.Is(err, core.ErrDeviceUnavailable) {
			err = fmt.Errorf("%w: %v", core.ErrDeviceUnavailable, err)
		}
		log.Error().Err(err).Str("module", "device").Msg("open capture device")
		return nil, err
	}

	m.handle = newHandle(src, m.opts.ReadTimeout, m.drop)
	m.opens++
	log.Info().Str("module", "device").Str("handle", m.handle.ID()).Msg("capture device opened")
	return m.handle, nil
}

// Release closes the device if open. Releasing a closed device is a no-op.
func (m *Manager) Release() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.handle == nil {
		return nil
	}
	return m.closeLocked()
}

// drop releases h after its reads timed out, unless it was already replaced.
func (m *Manager) drop(h *Handle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.handle != h {
		_ = h.Close()
		return
	}
	log.Warn().Str("module", "device").Str("handle", h.ID()).Msg("capture read timed out, releasing device")
	_ = m.closeLocked()
}

func (m *Manager) closeLocked() error {
	h := m.handle
	m.handle = nil
	err := h.Close()
	m.unlockFile()
	log.Info().Str("module", "device").Str("handle", h.ID()).Uint64("frames", h.Frames()).Msg("capture device released")
	return err
}

func (m *Manager) unlockFile() {
	if m.lock == nil {
		return
	}
	if err := m.lock.Unlock(); err != nil {
		log.Warn().Err(err).Str("module", "device").Msg("release device lock")
	}
}

// Current returns the open handle, if any.
func (m *Manager) Current() (*Handle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.handle == nil || m.handle.closed() {
		return nil, false
	}
	return m.handle, true
}

func (m *Manager) IsOpen() bool {
	_, ok := m.Current()
	return ok
}

// Opens counts successful device opens.
func (m *Manager) Opens() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opens
}
