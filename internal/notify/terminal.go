package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"epl-engine/internal/config"
)

// TerminalNotifier prints notifications to the terminal. It is a passive
// channel used for the slower priority tiers and local development.
type TerminalNotifier struct {
	out          io.Writer
	enabled      bool
	colorEnabled bool
	mu           sync.Mutex
}

// NewTerminalNotifier creates a TerminalNotifier writing to stdout.
func NewTerminalNotifier(cfg config.TerminalConfig) *TerminalNotifier {
	return &TerminalNotifier{
		out:          os.Stdout,
		enabled:      cfg.Enabled,
		colorEnabled: true,
	}
}

// Name returns the name of the channel.
func (t *TerminalNotifier) Name() string {
	return "terminal"
}

// IsEnabled returns whether the channel is enabled.
func (t *TerminalNotifier) IsEnabled() bool {
	return t.enabled
}

// Primary reports whether the channel carries high-priority traffic.
// Terminal output is always passive.
func (t *TerminalNotifier) Primary() bool {
	return false
}

// SetColorEnabled enables or disables colored output.
func (t *TerminalNotifier) SetColorEnabled(enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.colorEnabled = enabled
}

// Send prints the notification.
func (t *TerminalNotifier) Send(ctx context.Context, n Notification) error {
	if !t.enabled {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	var color, reset string
	if t.colorEnabled {
		reset = "\033[0m"
		switch {
		case strings.Contains(n.Title, "IGNORE"):
			color = "\033[33m" // Yellow
		case strings.Contains(n.Title, "REPLACE"):
			color = "\033[35m" // Magenta
		default:
			color = "\033[32m" // Green
		}
	}

	_, err := fmt.Fprintf(t.out, "%s[%s] %s%s\n%s\n\n",
		color, n.Timestamp.Format("15:04:05"), n.Title, reset, n.Message)
	return err
}
