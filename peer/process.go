package peer

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go-bridge/relay"
	"go-bridge/server"

	"go.uber.org/zap"
)

// Process runs a worker command and talks to it over the command's stdin and
// stdout. A worker found dead is started again on the next request.
type Process struct {
	command string
	args    []string
	dir     string
	env     []string

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	client *Client

	mu             sync.Mutex
	dead           bool
	deadMu         sync.RWMutex
	maxRequests    int
	requestTimeout time.Duration
	requestCount   uint64
	waited         bool

	codec        server.Codec
	maxFrameSize int

	// pid is kept outside mu so it can be read during a request.
	pid atomic.Int64

	log *zap.SugaredLogger
}

type Option func(p *Process)

func WithDir(dir string) Option {
	return func(p *Process) {
		p.dir = dir
	}
}

// WithEnv appends entries to the inherited environment.
func WithEnv(env ...string) Option {
	return func(p *Process) {
		p.env = append(p.env, env...)
	}
}

// WithMaxRequests restarts the worker after n requests. Zero disables it.
func WithMaxRequests(n int) Option {
	return func(p *Process) {
		p.maxRequests = n
	}
}

// WithRequestTimeout kills the worker when a request takes longer than d.
// Zero waits forever.
func WithRequestTimeout(d time.Duration) Option {
	return func(p *Process) {
		p.requestTimeout = d
	}
}

// WithCodec sets the codec used for request contexts. JSON by default.
func WithCodec(c server.Codec) Option {
	return func(p *Process) {
		p.codec = c
	}
}

func WithMaxFrameSize(n int) Option {
	return func(p *Process) {
		p.maxFrameSize = n
	}
}

func WithLogger(l *zap.SugaredLogger) Option {
	return func(p *Process) {
		p.log = l
	}
}

// Start launches command and returns once it is running.
func Start(command string, args []string, opts ...Option) (*Process, error) {
	p := &Process{
		command: command,
		args:    args,
		codec:   server.JSONCodec{},
		log:     zap.NewNop().Sugar(),
	}
	for _, o := range opts {
		o(p)
	}

	if err := p.spawn(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Process) spawn() error {
	cmd := exec.Command(p.command, p.args...)
	cmd.Dir = p.dir
	if len(p.env) > 0 {
		cmd.Env = append(os.Environ(), p.env...)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return err
	}

	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdout.Close()
		return err
	}

	p.cmd = cmd
	p.pid.Store(int64(cmd.Process.Pid))
	p.waited = false
	p.stdin = stdin
	p.stdout = stdout
	var relayOpts []relay.Option
	if p.maxFrameSize > 0 {
		relayOpts = append(relayOpts, relay.WithMaxFrameSize(p.maxFrameSize))
	}
	p.client = NewClient(relay.NewStreamRelay(stdout, stdin, relayOpts...), WithClientCodec(p.codec))

	p.log.Debugw("started worker", "pid", cmd.Process.Pid, "command", p.command)
	return nil
}

func (p *Process) isDead() bool {
	p.deadMu.RLock()
	defer p.deadMu.RUnlock()
	return p.dead
}

func (p *Process) markDead() {
	p.deadMu.Lock()
	p.dead = true
	p.deadMu.Unlock()
}

// Pid returns the operating system pid of the current worker.
func (p *Process) Pid() int {
	return int(p.pid.Load())
}

func (p *Process) kill() {
	if p.stdin != nil {
		_ = p.stdin.Close()
	}
	if p.stdout != nil {
		_ = p.stdout.Close()
	}
	if p.cmd != nil && p.cmd.Process != nil && !p.waited {
		_ = p.cmd.Process.Kill()
		_ = p.cmd.Wait()
		p.waited = true
	}
}

// Recycle marks the worker dead so the next request starts a fresh one.
func (p *Process) Recycle() {
	p.markDead()
}

func (p *Process) restart() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.kill()
	if err := p.spawn(); err != nil {
		return err
	}

	p.deadMu.Lock()
	p.dead = false
	p.deadMu.Unlock()

	atomic.StoreUint64(&p.requestCount, 0)

	p.log.Infow("restarted worker", "pid", p.cmd.Process.Pid)
	return nil
}

// Handle sends req to the worker, restarting it once if the pipe turns out
// to be broken.
func (p *Process) Handle(req *Request) (*Response, error) {
	for attempt := 0; attempt < 2; attempt++ {
		if p.isDead() {
			if err := p.restart(); err != nil {
				return nil, err
			}
		}

		resp, err := p.handleRequest(req)
		if err != nil {
			if isBrokenPipe(err) {
				p.markDead()
				continue
			}
			return nil, err
		}

		n := atomic.AddUint64(&p.requestCount, 1)
		if p.maxRequests > 0 && int(n) >= p.maxRequests {
			p.markDead()
		}

		return resp, nil
	}

	return nil, io.ErrUnexpectedEOF
}

func isBrokenPipe(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, os.ErrClosed) ||
		strings.Contains(errStr, "broken pipe") ||
		strings.Contains(errStr, "file already closed")
}

func (p *Process) handleRequest(req *Request) (*Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	type result struct {
		resp *Response
		err  error
	}

	resCh := make(chan result, 1)
	client := p.client

	go func() {
		resp, err := client.Do(req)
		resCh <- result{resp, err}
	}()

	if p.requestTimeout > 0 {
		select {
		case res := <-resCh:
			return res.resp, res.err
		case <-time.After(p.requestTimeout):
			p.markDead()
			p.kill()
			return nil, fmt.Errorf("worker request timeout after %s", p.requestTimeout)
		}
	}

	res := <-resCh
	return res.resp, res.err
}

// Stop asks the worker to exit and waits for it.
func (p *Process) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cmd == nil || p.waited {
		return nil
	}
	if !p.isDead() {
		if err := p.client.Stop(); err != nil {
			p.log.Debugw("sending stop command failed", "error", err)
		}
	}
	_ = p.stdin.Close()

	err := p.cmd.Wait()
	p.waited = true
	p.markDead()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return fmt.Errorf("worker exited: %w", err)
	}
	return err
}
