package mcpclient

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"
)

// StdioTransport spawns an MCP server as a subprocess and speaks
// line-delimited JSON-RPC over its stdin/stdout. Calls are serialized:
// stdio servers answer one request at a time, in order.
type StdioTransport struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader

	mu     sync.Mutex
	closed bool
}

// stdio responses can be large (a tools/list with embedded schemas);
// cap the line size rather than the default 64 KiB.
const stdioMaxLine = 8 << 20

// NewStdioTransport spawns command with args and waits for it to come
// up lazily: the first RoundTrip performs the real readiness check.
func NewStdioTransport(command string, args ...string) (*StdioTransport, error) {
	cmd := exec.Command(command, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("mcpclient: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("mcpclient: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("mcpclient: spawn %q: %w", command, err)
	}

	r := bufio.NewReaderSize(stdout, 64<<10)
	return &StdioTransport{cmd: cmd, stdin: stdin, stdout: r}, nil
}

// RoundTrip writes one request line and reads one response line. The
// context deadline is honored by abandoning the read; the subprocess is
// then unusable and gets killed on Close.
func (t *StdioTransport) RoundTrip(ctx context.Context, payload []byte) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrClosed
	}

	if _, err := t.stdin.Write(append(payload, '\n')); err != nil {
		return nil, fmt.Errorf("write: %w", err)
	}

	type lineResult struct {
		line []byte
		err  error
	}
	ch := make(chan lineResult, 1)
	go func() {
		line, err := readLine(t.stdout)
		ch <- lineResult{line, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.err != nil {
			return nil, fmt.Errorf("read: %w", res.err)
		}
		return res.line, nil
	}
}

// Close terminates the subprocess. Safe to call more than once.
func (t *StdioTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	_ = t.stdin.Close()
	if t.cmd.Process != nil {
		_ = t.cmd.Process.Kill()
	}
	_ = t.cmd.Wait()
	return nil
}

// readLine reads one newline-terminated payload, tolerating lines
// longer than the reader's buffer up to stdioMaxLine.
func readLine(r *bufio.Reader) ([]byte, error) {
	var out []byte
	for {
		chunk, isPrefix, err := r.ReadLine()
		if err != nil {
			return nil, err
		}
		out = append(out, chunk...)
		if len(out) > stdioMaxLine {
			return nil, fmt.Errorf("response exceeds %d bytes", stdioMaxLine)
		}
		if !isPrefix {
			return out, nil
		}
	}
}
