// Package indicator posts desktop notifications for server lifecycle changes.
package indicator

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rbright/indiserver-ui/internal/discovery"
)

const (
	// DefaultAppName is the application name shown by the notification daemon.
	DefaultAppName = "indiserver-ui"

	stoppedTimeoutMS = 3000
	errorTimeoutMS   = 5000
)

// Desktop sends freedesktop notifications through busctl.
// The running notification is persistent and replaced in place by later updates.
type Desktop struct {
	appName string
	logger  *slog.Logger

	mu             sync.Mutex
	notificationID uint32
}

// NewDesktop creates a notifier. An empty appName selects DefaultAppName.
func NewDesktop(appName string, logger *slog.Logger) *Desktop {
	appName = strings.TrimSpace(appName)
	if appName == "" {
		appName = DefaultAppName
	}
	return &Desktop{appName: appName, logger: logger}
}

// ShowRunning posts a persistent notification naming the loaded drivers.
func (d *Desktop) ShowRunning(ctx context.Context, drivers []string) {
	d.run(ctx, func(ctx context.Context) error {
		return d.notify(ctx, notification{
			summary: fmt.Sprintf("INDI server running (%d drivers)", len(drivers)),
			body:    runningBody(drivers),
			urgency: urgencyNormal,
		})
	})
}

// ShowStopped closes the running notification and posts a short-lived one.
func (d *Desktop) ShowStopped(ctx context.Context) {
	d.run(ctx, d.dismiss)
	d.run(ctx, func(ctx context.Context) error {
		return d.notify(ctx, notification{
			summary:   "INDI server stopped",
			urgency:   urgencyLow,
			timeoutMS: stoppedTimeoutMS,
		})
	})
	d.forget()
}

// ShowError replaces the current notification with an error message.
func (d *Desktop) ShowError(ctx context.Context, text string) {
	if strings.TrimSpace(text) == "" {
		text = "INDI server error"
	}
	d.run(ctx, func(ctx context.Context) error {
		return d.notify(ctx, notification{
			summary:   text,
			urgency:   urgencyCritical,
			timeoutMS: errorTimeoutMS,
		})
	})
	d.forget()
}

// notify sends n in place of the tracked notification and stores the new ID.
func (d *Desktop) notify(ctx context.Context, n notification) error {
	d.mu.Lock()
	n.appName = d.appName
	n.replaceID = d.notificationID
	d.mu.Unlock()

	id, err := desktopNotify(ctx, n)
	if err != nil {
		return err
	}

	d.mu.Lock()
	d.notificationID = id
	d.mu.Unlock()
	return nil
}

// dismiss closes the tracked notification when present.
func (d *Desktop) dismiss(ctx context.Context) error {
	d.mu.Lock()
	id := d.notificationID
	d.notificationID = 0
	d.mu.Unlock()

	if id == 0 {
		return nil
	}
	return desktopDismiss(ctx, id)
}

// forget drops the tracked ID so the next notification does not replace an expiring one.
func (d *Desktop) forget() {
	d.mu.Lock()
	d.notificationID = 0
	d.mu.Unlock()
}

// run executes a notification call with a bounded timeout.
func (d *Desktop) run(ctx context.Context, fn func(context.Context) error) {
	runCtx, cancel := context.WithTimeout(ctx, 400*time.Millisecond)
	defer cancel()
	if err := fn(runCtx); err != nil {
		d.log("indicator dispatch failed", err)
	}
}

// log emits debug-only indicator failures to the runtime logger.
func (d *Desktop) log(message string, err error) {
	if d.logger == nil || err == nil {
		return
	}
	d.logger.Debug(message, "error", err.Error())
}

func runningBody(drivers []string) string {
	names := make([]string, 0, len(drivers))
	for _, path := range drivers {
		names = append(names, discovery.DisplayName(filepath.Base(path)))
	}
	return strings.Join(names, ", ")
}
