package channel

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
)

// CLIChannel is the primary reference adapter: reads lines from an input
// stream, writes replies to an output stream. sessionID is fixed per
// process invocation (one CLI session per run).
type CLIChannel struct {
	SessionID string
	In        io.Reader
	Out       io.Writer

	mu     sync.Mutex
	closed bool
}

func NewCLIChannel(sessionID string, in io.Reader, out io.Writer) *CLIChannel {
	return &CLIChannel{SessionID: sessionID, In: in, Out: out}
}

func (c *CLIChannel) Name() string { return "cli" }

// Poll reads one line at a time and delivers it as an Inbound, until EOF
// or ctx cancellation.
func (c *CLIChannel) Poll(ctx context.Context, out chan<- Inbound) error {
	scanner := bufio.NewScanner(c.In)
	lines := make(chan string)
	errCh := make(chan error, 1)

	go func() {
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		errCh <- scanner.Err()
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return <-errCh
			}
			text := strings.TrimSpace(line)
			if text == "" {
				continue
			}
			select {
			case out <- Inbound{Channel: c.Name(), Sender: c.SessionID, ChatID: c.SessionID, Text: text}:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

func (c *CLIChannel) Send(ctx context.Context, chatID, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	_, err := fmt.Fprintln(c.Out, text)
	return err
}

func (c *CLIChannel) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}
