// -- cmd/terminal.go --
package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/undefined996/page-agent/internal/agent"
	"github.com/undefined996/page-agent/internal/llmutil"
)

// terminalUI answers the agent's questions through the process's terminal.
type terminalUI struct {
	mu  sync.Mutex
	in  *bufio.Reader
	out io.Writer

	// lines is fed by a single reader goroutine so that an abandoned question
	// never leaves a second reader racing on in.
	startReader sync.Once
	lines       chan inputLine
}

type inputLine struct {
	text string
	err  error
}

var _ agent.UserInterface = (*terminalUI)(nil)

func newTerminalUI(in io.Reader, out io.Writer) *terminalUI {
	return &terminalUI{in: bufio.NewReader(in), out: out, lines: make(chan inputLine, 1)}
}

// readLines delivers input one line at a time and closes lines after the
// first read error.
func (t *terminalUI) readLines() {
	defer close(t.lines)
	for {
		text, err := t.in.ReadString('\n')
		t.lines <- inputLine{text: text, err: err}
		if err != nil {
			return
		}
	}
}

// AskUser prints question and reads a single line. Cancelling ctx abandons
// the question; a line typed afterwards answers the next one.
func (t *terminalUI) AskUser(ctx context.Context, question string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.startReader.Do(func() { go t.readLines() })

	fmt.Fprintf(t.out, "\n? %s\n> ", question)

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case l, ok := <-t.lines:
		if !ok {
			return "", fmt.Errorf("failed to read answer: %w", io.EOF)
		}
		answer := strings.TrimSpace(l.text)
		if l.err != nil && (l.err != io.EOF || answer == "") {
			return "", fmt.Errorf("failed to read answer: %w", l.err)
		}
		return answer, nil
	}
}

func (t *terminalUI) Done(_ context.Context, success bool) {
	if success {
		fmt.Fprintln(t.out, "\n✓ Task completed")
		return
	}
	fmt.Fprintln(t.out, "\n✗ Task failed")
}

// formatEvent renders a bus event as one line of progress output. Events
// without a useful rendering return "".
func formatEvent(evt agent.Event) string {
	switch evt.Type {
	case agent.EventTaskStart:
		return fmt.Sprintf("▶ Task %s started", evt.TaskID)
	case agent.EventThinking:
		return fmt.Sprintf("[step %d] %s", evt.Step, llmutil.Truncate(strings.ReplaceAll(evt.Text, "\n", " | "), 300))
	case agent.EventToolExecuting:
		args, _ := json.Marshal(evt.Args)
		return fmt.Sprintf("[step %d] → %s(%s)", evt.Step, evt.Tool, args)
	case agent.EventToolCompleted:
		return fmt.Sprintf("[step %d] ← %s (%s): %s", evt.Step, evt.Tool, evt.Duration.Round(time.Millisecond), llmutil.Truncate(evt.Result, 300))
	case agent.EventError:
		return fmt.Sprintf("✗ %s: %s", evt.ErrorCode, evt.Text)
	case agent.EventPaused:
		return "⏸ Paused"
	case agent.EventResumed:
		return "▶ Resumed"
	default:
		return ""
	}
}

// printEvents writes events until the channel closes.
func printEvents(w io.Writer, events <-chan agent.Event) {
	for evt := range events {
		if line := formatEvent(evt); line != "" {
			fmt.Fprintln(w, line)
		}
	}
}
