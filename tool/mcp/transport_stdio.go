package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"slices"
	"strings"
	"sync"
	"time"
)

const (
	stdioReceiveQueueSize = 64
	stdioWaitDelay        = 2 * time.Second
)

var (
	// ErrProcessStart is wrapped by errors returned when the server process
	// cannot be launched.
	ErrProcessStart = errors.New("mcp: stdio process failed to start")
	// ErrTransportClosed is wrapped by receive errors once the server closed
	// its stdout or exited.
	ErrTransportClosed = errors.New("mcp: stdio transport closed")
)

// StdioTransportConfig configures a stdio MCP transport.
type StdioTransportConfig struct {
	Command string
	Args    []string
	Dir     string
	// Env holds KEY=VALUE pairs appended to the parent environment.
	Env []string
	// Stderr receives the server's stderr stream. Nil discards it.
	Stderr io.Writer
}

// StdioTransport implements MCP transport over a subprocess stdin/stdout pipe.
type StdioTransport struct {
	mu     sync.Mutex
	cfg    StdioTransportConfig
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	recvCh chan Message
	waitCh chan struct{}
	closed bool

	failOnce sync.Once
	failed   chan struct{}
	failErr  error
}

// NewStdioTransport starts a stdio MCP subprocess transport. The process is
// killed when ctx is done or Close is called.
func NewStdioTransport(ctx context.Context, cfg StdioTransportConfig) (*StdioTransport, error) {
	if strings.TrimSpace(cfg.Command) == "" {
		return nil, fmt.Errorf("%w: command is required", ErrProcessStart)
	}

	t := &StdioTransport{
		cfg:    cfg,
		recvCh: make(chan Message, stdioReceiveQueueSize),
		waitCh: make(chan struct{}),
		failed: make(chan struct{}),
	}
	if err := t.start(ctx); err != nil {
		return nil, err
	}
	return t, nil
}

// PID returns the server process id, or 0 before start.
func (t *StdioTransport) PID() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cmd == nil || t.cmd.Process == nil {
		return 0
	}
	return t.cmd.Process.Pid
}

func (t *StdioTransport) start(ctx context.Context) error {
	args := slices.Clone(t.cfg.Args)
	// #nosec G204 -- command/args come from the operator's provider configuration.
	cmd := exec.CommandContext(ctx, t.cfg.Command, args...)
	cmd.Dir = t.cfg.Dir
	cmd.WaitDelay = stdioWaitDelay
	if len(t.cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), t.cfg.Env...)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("%w: open stdin: %w", ErrProcessStart, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("%w: open stdout: %w", ErrProcessStart, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("%w: open stderr: %w", ErrProcessStart, err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: %w", ErrProcessStart, err)
	}

	t.mu.Lock()
	t.cmd = cmd
	t.stdin = stdin
	t.mu.Unlock()

	go t.readLoop(stdout)
	go t.waitLoop(stderr)

	return nil
}

func (t *StdioTransport) readLoop(stdout io.Reader) {
	decoder := json.NewDecoder(bufio.NewReader(stdout))
	for {
		var message Message
		if err := decoder.Decode(&message); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed) {
				t.fail(ErrTransportClosed)
				return
			}
			t.fail(fmt.Errorf("mcp: stdio decode response: %w", err))
			return
		}
		select {
		case t.recvCh <- message:
		default:
			t.fail(errors.New("mcp: stdio receive queue is full"))
			return
		}
	}
}

func (t *StdioTransport) waitLoop(stderr io.Reader) {
	defer close(t.waitCh)

	sink := t.cfg.Stderr
	if sink == nil {
		sink = io.Discard
	}
	_, _ = io.Copy(sink, stderr)

	t.mu.Lock()
	cmd := t.cmd
	t.mu.Unlock()

	if cmd == nil {
		return
	}
	err := cmd.Wait()

	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()

	if closed {
		return
	}
	if err != nil {
		t.fail(fmt.Errorf("%w: process exited: %w", ErrTransportClosed, err))
		return
	}
	t.fail(fmt.Errorf("%w: process exited", ErrTransportClosed))
}

// Send writes a JSON-RPC message to the subprocess stdin.
func (t *StdioTransport) Send(ctx context.Context, message Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return fmt.Errorf("%w: send after close", ErrTransportClosed)
	}
	if t.stdin == nil {
		return errors.New("mcp: stdio stdin is not available")
	}

	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("mcp: encode request: %w", err)
	}
	data = append(data, '\n')

	if _, err := t.stdin.Write(data); err != nil {
		return fmt.Errorf("%w: write request: %w", ErrTransportClosed, err)
	}
	return nil
}

// Receive reads the next JSON-RPC message from subprocess stdout. Messages
// already read are delivered before a transport failure is reported.
func (t *StdioTransport) Receive(ctx context.Context) (Message, error) {
	select {
	case message := <-t.recvCh:
		return message, nil
	default:
	}

	select {
	case <-ctx.Done():
		return Message{}, ctx.Err()
	case message := <-t.recvCh:
		return message, nil
	case <-t.failed:
		select {
		case message := <-t.recvCh:
			return message, nil
		default:
		}
		return Message{}, t.failErr
	}
}

// Close terminates the subprocess and closes resources.
func (t *StdioTransport) Close(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	stdin := t.stdin
	cmd := t.cmd
	waitCh := t.waitCh
	t.mu.Unlock()

	if stdin != nil {
		_ = stdin.Close()
	}
	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
	if waitCh != nil {
		select {
		case <-waitCh:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (t *StdioTransport) fail(err error) {
	t.failOnce.Do(func() {
		t.failErr = err
		close(t.failed)
	})
}
