package ffmpeg

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
)

const stderrTail = 4 << 10

// tailBuffer keeps the last few KiB written to it.
type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - stderrTail; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.TrimSpace(string(t.buf))
}

// process is one running ffmpeg invocation. stop kills it; wait reaps it
// exactly once and must only be called after all pipe reads have returned.
type process struct {
	cmd    *exec.Cmd
	cancel context.CancelFunc
	stderr *tailBuffer

	waitOnce sync.Once
	waitErr  error
}

type pipes struct {
	stdin  io.WriteCloser
	stdout io.ReadCloser
}

func startProcess(ctx context.Context, binary string, args []string, wantStdin, wantStdout bool) (*process, pipes, error) {
	ctx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(ctx, binary, args...)
	p := &process{cmd: cmd, cancel: cancel, stderr: &tailBuffer{}}
	cmd.Stderr = p.stderr

	var pp pipes
	var err error
	if wantStdin {
		if pp.stdin, err = cmd.StdinPipe(); err != nil {
			cancel()
			return nil, pipes{}, fmt.Errorf("stdin pipe: %w", err)
		}
	}
	if wantStdout {
		if pp.stdout, err = cmd.StdoutPipe(); err != nil {
			cancel()
			return nil, pipes{}, fmt.Errorf("stdout pipe: %w", err)
		}
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, pipes{}, fmt.Errorf("start %s: %w", binary, err)
	}
	return p, pp, nil
}

func (p *process) stop() {
	p.cancel()
}

func (p *process) wait() error {
	p.waitOnce.Do(func() {
		err := p.cmd.Wait()
		if err != nil {
			if msg := p.stderr.String(); msg != "" {
				err = fmt.Errorf("%w: %s", err, msg)
			}
		}
		p.waitErr = err
		p.cancel()
	})
	return p.waitErr
}
