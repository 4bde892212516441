package gateway

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/majordomo-ai/majordomo/internal/orchestrator"
)

// Console is a line-oriented chat adapter over stdio. When the previous
// reply asked a question it reads a bare yes/no as an approval decision;
// anything else passes through as a normal message.
type Console struct {
	handler        Handler
	in             io.Reader
	out            io.Writer
	logger         *slog.Logger
	sessionID      string
	userID         string
	awaitingAnswer bool
}

func NewConsole(handler Handler, in io.Reader, out io.Writer, sessionID, userID string, logger *slog.Logger) *Console {
	if logger == nil {
		logger = slog.Default()
	}
	return &Console{
		handler:   handler,
		in:        in,
		out:       out,
		logger:    logger,
		sessionID: sessionID,
		userID:    userID,
	}
}

func (c *Console) Start(ctx context.Context) error {
	scanner := bufio.NewScanner(c.in)
	fmt.Fprintln(c.out, "majordomo ready. Type a request, or /quit to exit.")
	c.prompt()

	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			c.prompt()
			continue
		}

		switch line {
		case "/quit", "/exit":
			return nil
		case "/cancel":
			resp, err := c.handler.Cancel(ctx, c.sessionID)
			c.deliver(resp, err)
			c.prompt()
			continue
		}

		req := orchestrator.Request{
			SessionID: c.sessionID,
			UserID:    c.userID,
			Input:     line,
		}
		if c.awaitingAnswer {
			if approval, ok := readApproval(line); ok {
				req.Approval = &approval
			}
		}

		resp, err := c.handler.Handle(ctx, req)
		c.deliver(resp, err)
		c.prompt()
	}
	return scanner.Err()
}

func (c *Console) deliver(resp orchestrator.Response, err error) {
	if err != nil {
		c.logger.Error("handling message failed", slog.String("error", err.Error()))
		fmt.Fprintln(c.out, "Something went wrong on my end. Try again in a moment.")
		c.awaitingAnswer = false
		return
	}
	fmt.Fprintln(c.out, resp.Message)
	c.awaitingAnswer = resp.NeedsInput
}

func (c *Console) prompt() {
	fmt.Fprint(c.out, "> ")
}

// readApproval maps a short reply to an approval decision. It reports false
// when the reply is not a plain yes/no, in which case the message goes
// through continuation classification like any other input.
func readApproval(line string) (bool, bool) {
	switch strings.ToLower(strings.TrimRight(line, ".!")) {
	case "y", "yes", "yeah", "yep", "sure", "do it", "go ahead", "send it", "confirm":
		return true, true
	case "n", "no", "nope", "don't", "stop", "cancel that":
		return false, true
	default:
		return false, false
	}
}
