package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"

	"github.com/google/shlex"

	"github.com/soratobu/jeeves/internal/config"
	jerrors "github.com/soratobu/jeeves/internal/errors"
)

// stdioTransport runs the tool server as a child process and exchanges
// newline-delimited JSON-RPC messages over its stdin/stdout. Requests are
// serialized; the server is expected to answer in order, but notifications
// and stray ids are tolerated and skipped.
type stdioTransport struct {
	name string
	cmd  *exec.Cmd

	mu     sync.Mutex
	stdin  io.WriteCloser
	stdout *bufio.Scanner
	nextID atomic.Int64
	closed atomic.Bool
}

func newStdioTransport(cfg config.MCPServerConfig) (*stdioTransport, error) {
	if cfg.Command == "" {
		return nil, jerrors.Config("mcp server %s: stdio transport requires command", cfg.Name)
	}

	argv := append([]string{cfg.Command}, cfg.Args...)
	if len(cfg.Args) == 0 {
		parsed, err := shlex.Split(cfg.Command)
		if err != nil {
			return nil, jerrors.Config("mcp server %s: parse command: %v", cfg.Name, err)
		}
		argv = parsed
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Env = os.Environ()
	for key, value := range cfg.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", key, value))
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, jerrors.Transport(err, "mcp server %s: open stdin", cfg.Name)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, jerrors.Transport(err, "mcp server %s: open stdout", cfg.Name)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, jerrors.Transport(err, "mcp server %s: open stderr", cfg.Name)
	}

	if err := cmd.Start(); err != nil {
		return nil, jerrors.Transport(err, "mcp server %s: spawn %s", cfg.Name, argv[0])
	}

	go drainStderr(cfg.Name, stderr)

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	return &stdioTransport{
		name:   cfg.Name,
		cmd:    cmd,
		stdin:  stdin,
		stdout: scanner,
	}, nil
}

func drainStderr(name string, r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		slog.Debug("mcp server stderr", "server", name, "line", scanner.Text())
	}
}

func (t *stdioTransport) send(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	id := t.nextID.Add(1)
	payload, err := json.Marshal(newRequest(id, method, params))
	if err != nil {
		return nil, jerrors.Internal("encode request: %v", err)
	}

	type outcome struct {
		result json.RawMessage
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		t.mu.Lock()
		defer t.mu.Unlock()

		if t.closed.Load() {
			done <- outcome{err: jerrors.Transport(nil, "process not available")}
			return
		}

		if _, err := t.stdin.Write(append(payload, '\n')); err != nil {
			done <- outcome{err: jerrors.Transport(err, "write to process")}
			return
		}

		resp, err := t.readResponse(id)
		if err != nil {
			done <- outcome{err: err}
			return
		}

		result, err := resultOf(resp)
		done <- outcome{result: result, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, jerrors.Transport(ctx.Err(), "request %s timed out", method)
	case o := <-done:
		return o.result, o.err
	}
}

// readResponse scans stdout lines until it finds the response matching id.
// Notifications and responses to abandoned requests are skipped.
func (t *stdioTransport) readResponse(id int64) (*rpcResponse, error) {
	for t.stdout.Scan() {
		line := t.stdout.Bytes()
		if len(line) == 0 {
			continue
		}

		resp, err := decodeResponse(line)
		if err != nil {
			return nil, err
		}
		if resp.isNotification() {
			slog.Debug("mcp notification skipped", "server", t.name, "method", resp.Method)
			continue
		}
		if resp.ID == nil || *resp.ID != id {
			continue
		}
		return resp, nil
	}

	if err := t.stdout.Err(); err != nil {
		return nil, jerrors.Transport(err, "read from process")
	}
	return nil, jerrors.Transport(io.EOF, "process closed stdout")
}

func (t *stdioTransport) close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}

	// Kill before taking the mutex: after a timed-out call the reader
	// goroutine still holds it, blocked on a server that never answers.
	// Killing the process closes its stdout, which unblocks the scanner
	// and lets the reader release the lock.
	if t.cmd.Process != nil {
		if err := t.cmd.Process.Kill(); err != nil {
			slog.Warn("Failed to kill mcp server process", "server", t.name, "error", err)
		}
	}

	t.mu.Lock()
	_ = t.stdin.Close()
	t.mu.Unlock()

	_ = t.cmd.Wait()
	return nil
}
