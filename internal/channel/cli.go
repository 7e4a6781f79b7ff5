package channel

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"deskpilot/internal/domain"
)

const cliChatID = "direct"

// CLI implements domain.Channel for an interactive terminal session. The
// same input stream carries commands and answers to confirmation prompts.
type CLI struct {
	queue   domain.CommandQueue
	logger  *slog.Logger
	in      io.Reader
	out     io.Writer
	prompt  string
	spinner bool

	outMu sync.Mutex

	pendingMu sync.Mutex
	pending   chan string // non-nil while Confirm waits for an answer

	thinkMu   sync.Mutex
	thinking  bool
	thinkStop chan struct{}
}

type CLIConfig struct {
	Prompt  string
	Spinner bool // animate while a command is processed
	Logger  *slog.Logger
	In      io.Reader
	Out     io.Writer
}

func NewCLI(cfg CLIConfig) *CLI {
	if cfg.In == nil {
		cfg.In = os.Stdin
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	if cfg.Prompt == "" {
		cfg.Prompt = "> "
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &CLI{
		logger:  cfg.Logger,
		in:      cfg.In,
		out:     cfg.Out,
		prompt:  cfg.Prompt,
		spinner: cfg.Spinner,
	}
}

func (c *CLI) Name() string { return "cli" }

// Start runs the REPL and blocks until ctx is cancelled, input ends or the
// user quits.
func (c *CLI) Start(ctx context.Context, queue domain.CommandQueue) error {
	c.queue = queue
	queue.OnReply(c.Name(), c.render)

	c.printf("DeskPilot. Type a command and press Enter, /help for examples, /quit to exit.\n%s", c.prompt)

	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			c.stopThinking()
			return err
		case line := <-lines:
			if c.answer(line) {
				continue
			}
			if quit := c.handleLine(strings.TrimSpace(line)); quit {
				c.logger.Info("user requested quit")
				return nil
			}
		}
	}
}

func (c *CLI) handleLine(line string) (quit bool) {
	switch {
	case line == "":
		c.printf("%s", c.prompt)
	case line == "/quit" || line == "/exit" || line == "/q":
		return true
	case strings.HasPrefix(line, "/cancel"):
		id := strings.TrimSpace(strings.TrimPrefix(line, "/cancel"))
		c.printf("%s\n%s", cancelMessage(c.queue, id), c.prompt)
	default:
		id := c.queue.Enqueue(domain.CommandRequest{
			Source:   c.Name(),
			ChatID:   cliChatID,
			SenderID: "user",
			Text:     line,
		})
		if id == "" {
			c.printf("DeskPilot is shutting down; command not accepted.\n")
			return true
		}
		if depth := c.queue.Len(); depth > 1 {
			c.printf("queued %s (%d ahead)\n", id, depth-1)
		}
		c.startThinking()
	}
	return false
}

// cancelMessage drops a pending command and describes the outcome.
func cancelMessage(queue domain.CommandQueue, id string) string {
	if id == "" {
		return "Usage: /cancel <id>"
	}
	if queue.Drop(id) {
		return fmt.Sprintf("Cancelled %s.", id)
	}
	return fmt.Sprintf("%s is not pending; it may already be running.", id)
}

func (c *CLI) render(reply domain.Reply) {
	c.stopThinking()
	c.printf("\r\033[K%s\n\n%s", reply.Content, c.prompt)
}

// Confirm asks a yes/no question on the terminal. The next input line is
// taken as the answer.
func (c *CLI) Confirm(ctx context.Context, question string) (bool, error) {
	ch := make(chan string, 1)
	c.pendingMu.Lock()
	if c.pending != nil {
		c.pendingMu.Unlock()
		return false, fmt.Errorf("another confirmation is pending")
	}
	c.pending = ch
	c.pendingMu.Unlock()

	defer func() {
		c.pendingMu.Lock()
		c.pending = nil
		c.pendingMu.Unlock()
	}()

	c.stopThinking()
	c.printf("\r\033[K%s [y/N] ", question)

	select {
	case ans := <-ch:
		yes := isYes(ans)
		if yes {
			c.startThinking()
		}
		return yes, nil
	case <-ctx.Done():
		c.printf("\nNo answer; treating as no.\n%s", c.prompt)
		return false, ctx.Err()
	}
}

// answer hands line to a waiting Confirm call.
func (c *CLI) answer(line string) bool {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	if c.pending == nil {
		return false
	}
	c.pending <- line
	c.pending = nil
	return true
}

func isYes(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "y", "yes":
		return true
	}
	return false
}

func (c *CLI) printf(format string, args ...any) {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	_, _ = fmt.Fprintf(c.out, format, args...)
}

func (c *CLI) startThinking() {
	if !c.spinner {
		return
	}
	c.thinkMu.Lock()
	defer c.thinkMu.Unlock()
	if c.thinking {
		return
	}
	c.thinking = true
	c.thinkStop = make(chan struct{})
	stop := c.thinkStop
	go func() {
		frames := []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}
		i := 0
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				c.printf("\r%s Working...", frames[i%len(frames)])
				i++
			}
		}
	}()
}

func (c *CLI) stopThinking() {
	c.thinkMu.Lock()
	defer c.thinkMu.Unlock()
	if !c.thinking {
		return
	}
	c.thinking = false
	close(c.thinkStop)
}

// Stop is a no-op; the REPL ends when Start returns.
func (c *CLI) Stop() error { return nil }

func (c *CLI) Send(_ context.Context, _ string, content string) error {
	c.printf("%s\n", content)
	return nil
}
