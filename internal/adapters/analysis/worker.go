package analysis

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/pranavraj012/squatformanalysis/internal/core"
	"github.com/pranavraj012/squatformanalysis/internal/domain"
)

const (
	defaultWorkerTimeout = 2 * time.Second
	maxMessageSize       = 64 << 20
)

var errWorkerBroken = errors.New("analysis worker unavailable")

// Request is one frame sent to the worker process.
type Request struct {
	Session    string            `msgpack:"session"`
	Seq        uint64            `msgpack:"seq"`
	Width      int               `msgpack:"width"`
	Height     int               `msgpack:"height"`
	Order      string            `msgpack:"order"`
	Frame      []byte            `msgpack:"frame"`
	Mode       string            `msgpack:"mode"`
	Exercise   string            `msgpack:"exercise"`
	Mirrored   bool              `msgpack:"mirrored"`
	Thresholds domain.Thresholds `msgpack:"thresholds"`
}

// Response carries the annotated frame back. A non-empty Error fails the frame.
type Response struct {
	Seq     uint64         `msgpack:"seq"`
	Frame   []byte         `msgpack:"frame"`
	Metrics map[string]any `msgpack:"metrics"`
	Error   string         `msgpack:"error"`
}

// WriteMessage frames v as a 4-byte big-endian length followed by msgpack.
func WriteMessage(w io.Writer, v any) error {
	payload, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(payload)))
	if _, err := w.Write(prefix[:]); err != nil {
		return fmt.Errorf("write length prefix: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("write payload: %w", err)
	}
	return nil
}

// ReadMessage reads one length-prefixed msgpack message into v.
func ReadMessage(r io.Reader, v any) error {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return err
	}
	n := binary.BigEndian.Uint32(prefix[:])
	if n > maxMessageSize {
		return fmt.Errorf("message of %d bytes exceeds limit", n)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return fmt.Errorf("read payload: %w", err)
	}
	return msgpack.Unmarshal(payload, v)
}

// Worker talks to one analysis process. Calls are serialised; a timeout or
// protocol error leaves the stream out of step, so that process is closed.
// A worker started from a command line launches a fresh process on the next
// call; a wrapped stream stays broken.
type Worker struct {
	spawn   func() (*workerConn, error)
	timeout time.Duration

	mu       sync.Mutex
	conn     *workerConn
	restarts int
	closed   atomic.Bool
	seq      atomic.Uint64
}

// workerConn is one connected worker stream.
type workerConn struct {
	r     io.Reader
	w     io.Writer
	close func() error

	closeOnce sync.Once
	closeErr  error
}

func (c *workerConn) shutdown() error {
	c.closeOnce.Do(func() {
		if c.close != nil {
			c.closeErr = c.close()
		}
	})
	return c.closeErr
}

// NewWorker wraps an already connected worker stream.
func NewWorker(r io.Reader, w io.Writer, closer func() error, timeout time.Duration) *Worker {
	if timeout <= 0 {
		timeout = defaultWorkerTimeout
	}
	conn := &workerConn{r: bufio.NewReader(r), w: w, close: closer}
	return &Worker{conn: conn, timeout: timeout}
}

func newSpawningWorker(spawn func() (*workerConn, error), timeout time.Duration) (*Worker, error) {
	if timeout <= 0 {
		timeout = defaultWorkerTimeout
	}
	conn, err := spawn()
	if err != nil {
		return nil, err
	}
	return &Worker{spawn: spawn, conn: conn, timeout: timeout}, nil
}

// StartWorker launches argv and speaks the frame protocol over its stdio.
// The worker's stderr is forwarded to the log.
func StartWorker(argv []string, timeout time.Duration) (*Worker, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("analysis worker: empty command")
	}
	argv = append([]string(nil), argv...)
	return newSpawningWorker(func() (*workerConn, error) { return startProcess(argv) }, timeout)
}

func startProcess(argv []string) (*workerConn, error) {
	ctx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("analysis worker stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("analysis worker stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("analysis worker stderr: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("analysis worker start: %w", err)
	}

	pid := cmd.Process.Pid
	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			log.Warn().Str("module", "analysis").Int("pid", pid).Msg(scanner.Text())
		}
	}()

	closer := func() error {
		_ = stdin.Close()
		cancel()
		err := cmd.Wait()
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	log.Info().Str("module", "analysis").Strs("argv", argv).Int("pid", pid).Msg("worker started")
	return &workerConn{r: bufio.NewReader(stdout), w: stdin, close: closer}, nil
}

// Close stops the current process. Later calls fail.
func (w *Worker) Close() error {
	w.closed.Store(true)
	w.mu.Lock()
	conn := w.conn
	w.conn = nil
	w.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.shutdown()
}

// Restarts counts processes launched to replace a broken one.
func (w *Worker) Restarts() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.restarts
}

// connLocked returns a live stream, launching a new process if the last one
// broke. w.mu must be held.
func (w *Worker) connLocked() (*workerConn, error) {
	if w.closed.Load() {
		return nil, errWorkerBroken
	}
	if w.conn != nil {
		return w.conn, nil
	}
	if w.spawn == nil {
		return nil, errWorkerBroken
	}
	conn, err := w.spawn()
	if err != nil {
		log.Error().Err(err).Str("module", "analysis").Msg("worker restart failed")
		return nil, fmt.Errorf("%w: %v", errWorkerBroken, err)
	}
	w.conn = conn
	w.restarts++
	log.Info().Str("module", "analysis").Int("restarts", w.restarts).Msg("worker restarted")
	return conn, nil
}

func (w *Worker) call(ctx context.Context, req Request) (Response, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	conn, err := w.connLocked()
	if err != nil {
		return Response{}, err
	}

	type reply struct {
		resp Response
		err  error
	}
	done := make(chan reply, 1)
	go func() {
		if err := WriteMessage(conn.w, req); err != nil {
			done <- reply{err: err}
			return
		}
		var resp Response
		err := ReadMessage(conn.r, &resp)
		done <- reply{resp: resp, err: err}
	}()

	timer := time.NewTimer(w.timeout)
	defer timer.Stop()
	select {
	case r := <-done:
		if r.err != nil {
			w.failLocked(conn, r.err)
			return Response{}, r.err
		}
		if r.resp.Seq != req.Seq {
			err := fmt.Errorf("reply for frame %d, want %d", r.resp.Seq, req.Seq)
			w.failLocked(conn, err)
			return Response{}, err
		}
		return r.resp, nil
	case <-timer.C:
		err := fmt.Errorf("no reply within %s", w.timeout)
		w.failLocked(conn, err)
		return Response{}, err
	case <-ctx.Done():
		// Drain the in-flight reply so the stream stays in step.
		select {
		case r := <-done:
			if r.err != nil {
				w.failLocked(conn, r.err)
			}
		case <-timer.C:
			w.failLocked(conn, fmt.Errorf("no reply within %s", w.timeout))
		}
		return Response{}, ctx.Err()
	}
}

// failLocked drops conn and closes its process so the pending exchange
// unblocks. w.mu must be held.
func (w *Worker) failLocked(conn *workerConn, cause error) {
	if w.conn != conn {
		return
	}
	w.conn = nil
	log.Error().Err(cause).Str("module", "analysis").Msg("worker out of step, closing")
	go func() { _ = conn.shutdown() }()
}

// NewStage opens a worker session. Running counters live in the worker,
// keyed by the session id.
func (w *Worker) NewStage(cfg domain.SessionConfig) (core.Stage, error) {
	w.mu.Lock()
	_, err := w.connLocked()
	w.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrAnalysisFailure, err)
	}
	return &workerStage{worker: w, cfg: cfg, session: uuid.NewString()}, nil
}

type workerStage struct {
	worker  *Worker
	cfg     domain.SessionConfig
	session string
}

func (s *workerStage) InputOrder() domain.ColorOrder { return domain.OrderRGB }

func (s *workerStage) Process(ctx context.Context, f *domain.Frame) (core.Result, error) {
	if f.Order() != domain.OrderRGB {
		return core.Result{}, fmt.Errorf("%w: worker wants rgb, got %s", core.ErrAnalysisFailure, f.Order())
	}
	req := Request{
		Session:    s.session,
		Seq:        s.worker.seq.Add(1),
		Width:      f.Width(),
		Height:     f.Height(),
		Order:      f.Order().String(),
		Frame:      f.Pix(),
		Mode:       string(s.cfg.Mode),
		Exercise:   s.cfg.ExerciseType,
		Mirrored:   s.cfg.Mirrored,
		Thresholds: s.cfg.Thresholds,
	}
	resp, err := s.worker.call(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return core.Result{}, err
		}
		return core.Result{}, fmt.Errorf("%w: %v", core.ErrAnalysisFailure, err)
	}
	if resp.Error != "" {
		return core.Result{}, fmt.Errorf("%w: %s", core.ErrAnalysisFailure, resp.Error)
	}
	out, err := domain.NewFrame(f.Width(), f.Height(), domain.OrderRGB, resp.Frame)
	if err != nil {
		return core.Result{}, fmt.Errorf("%w: %v", core.ErrAnalysisFailure, err)
	}
	return core.Result{Frame: out, Metrics: resp.Metrics}, nil
}
