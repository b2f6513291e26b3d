package transport

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/fatih/color"

	"github.com/stewardops/steward/internal/types"
)

// Console is the local development transport: stdin in, stdout out. Used by
// `steward console` to drive the full pipeline without a bot token.
type Console struct {
	rl *readline.Instance
}

// NewConsole creates the console transport.
func NewConsole() (*Console, error) {
	cyan := color.New(color.FgCyan).SprintFunc()
	rl, err := readline.NewEx(&readline.Config{
		Prompt:            cyan("steward> "),
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	return &Console{rl: rl}, nil
}

// Receive reads lines from stdin until EOF or cancellation.
func (c *Console) Receive(ctx context.Context) (<-chan types.InboundMessage, error) {
	ch := make(chan types.InboundMessage, 16)

	go func() {
		defer close(ch)
		defer c.rl.Close()

		for {
			line, err := c.rl.Readline()
			if err == readline.ErrInterrupt {
				continue
			}
			if err == io.EOF || err != nil {
				return
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}

			msg := types.InboundMessage{
				Sender:    "console",
				Text:      line,
				Timestamp: time.Now(),
			}
			select {
			case ch <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()

	return ch, nil
}

// Send prints the message. No truncation; the terminal can take it.
func (c *Console) Send(_ context.Context, text string) error {
	green := color.New(color.FgGreen).SprintFunc()
	fmt.Printf("%s %s\n", green("steward:"), text)
	return nil
}
