package infra

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/pklkb/internal/domain"
)

const notifyTimeout = 5 * time.Second

// DesktopNotifier sends desktop notifications by shelling out to the
// platform notifier (osascript on macOS, notify-send elsewhere). Errors
// stay visible until dismissed; successes expire on their own. Failures
// here are logged and swallowed: a broken notifier must never break a
// compile cycle.
type DesktopNotifier struct {
	appName string
	logger  *zap.Logger
}

// NewDesktopNotifier creates a notifier for the given application name.
func NewDesktopNotifier(appName string, logger *zap.Logger) *DesktopNotifier {
	return &DesktopNotifier{appName: appName, logger: logger}
}

// Success sends a transient notification.
func (n *DesktopNotifier) Success(title, body string) {
	n.send(title, body, false)
}

// Error sends a notification with indefinite visibility.
func (n *DesktopNotifier) Error(title, body string) {
	n.send(title, body, true)
}

func (n *DesktopNotifier) send(title, body string, sticky bool) {
	name, args := notifyCommand(n.appName, title, body, sticky)

	ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
	defer cancel()

	if err := exec.CommandContext(ctx, name, args...).Run(); err != nil {
		n.logger.Warn("failed to send notification",
			zap.String("title", title),
			zap.Error(err))
	}
}

// notifyCommand builds the platform notification invocation.
func notifyCommand(appName, title, body string, sticky bool) (string, []string) {
	if runtime.GOOS == "darwin" {
		script := fmt.Sprintf("display notification %q with title %q subtitle %q",
			body, appName, title)
		return "osascript", []string{"-e", script}
	}

	expire := "3000"
	if sticky {
		// notify-send keeps a zero-expiry notification until dismissed.
		expire = "0"
	}
	return "notify-send", []string{"--app-name", appName, "--expire-time", expire, title, body}
}

// Ensure DesktopNotifier implements domain.Notifier.
var _ domain.Notifier = (*DesktopNotifier)(nil)

// NopNotifier discards all notifications. Used by one-shot CLI commands
// and tests.
type NopNotifier struct{}

func (NopNotifier) Success(title, body string) {}
func (NopNotifier) Error(title, body string)   {}

var _ domain.Notifier = NopNotifier{}
