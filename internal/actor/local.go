package actor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/mattn/go-isatty"

	"github.com/basket/actionbridge/internal/protocol"
)

// LogExecutor records confirmed plans instead of touching device APIs. It
// stands in for the platform executor on hosts without telephony or
// messaging access.
type LogExecutor struct {
	Logger *slog.Logger
}

func (e *LogExecutor) Execute(_ context.Context, plan protocol.Proposal) error {
	logger := e.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("plan executed",
		"intent", plan.Intent,
		"request_id", plan.RequestID,
		"summary", plan.Summary,
	)
	return nil
}

// TermConfirmer prompts on the terminal for each proposed plan. Passive
// plans can be auto-approved; active intents always prompt. Without a TTY
// every active plan is refused.
type TermConfirmer struct {
	In                 io.Reader
	Out                io.Writer
	AutoConfirmPassive bool
	Interactive        bool
}

// NewTermConfirmer wires the confirmer to the process terminal.
func NewTermConfirmer(autoConfirmPassive bool) *TermConfirmer {
	return &TermConfirmer{
		In:                 os.Stdin,
		Out:                os.Stdout,
		AutoConfirmPassive: autoConfirmPassive,
		Interactive:        isatty.IsTerminal(os.Stdin.Fd()) || isatty.IsCygwinTerminal(os.Stdin.Fd()),
	}
}

func (c *TermConfirmer) Confirm(_ context.Context, plan protocol.Proposal, doubleConfirm bool) (bool, error) {
	if plan.Passive && c.AutoConfirmPassive && !doubleConfirm {
		return true, nil
	}
	if !c.Interactive {
		return false, nil
	}

	fmt.Fprintf(c.Out, "\nProposed action: %s\n", plan.Summary)
	fmt.Fprintf(c.Out, "  intent: %s  risk: %s  confidence: %.2f\n", plan.Intent, plan.RiskTier, plan.Confidence)
	for _, step := range plan.Steps {
		fmt.Fprintf(c.Out, "  - %s\n", step)
	}
	prompt := "Proceed? [y/N]: "
	if doubleConfirm {
		prompt = "This is a high-risk action. Confirm AGAIN to proceed? [y/N]: "
	}
	fmt.Fprint(c.Out, prompt)

	reader := bufio.NewReader(c.In)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false, err
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes", nil
}
