package app

import (
	"context"
	"fmt"
	"io"

	"github.com/rbright/indiserver-ui/internal/session"
)

// consoleIndicator reports lifecycle changes on stdout and forwards them to next.
type consoleIndicator struct {
	out  io.Writer
	next session.Indicator
}

func (c *consoleIndicator) ShowRunning(ctx context.Context, drivers []string) {
	fmt.Fprintf(c.out, "indiserver running with %d driver(s)\n", len(drivers))
	for _, driver := range drivers {
		fmt.Fprintf(c.out, "  %s\n", driver)
	}
	if c.next != nil {
		c.next.ShowRunning(ctx, drivers)
	}
}

func (c *consoleIndicator) ShowStopped(ctx context.Context) {
	fmt.Fprintln(c.out, "indiserver stopped")
	if c.next != nil {
		c.next.ShowStopped(ctx)
	}
}

// ShowError only forwards; the error itself reaches stderr through the exit path.
func (c *consoleIndicator) ShowError(ctx context.Context, text string) {
	if c.next != nil {
		c.next.ShowError(ctx, text)
	}
}
