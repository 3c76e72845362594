package ratelimit

import (
	"fmt"

	"github.com/robfig/cron/v3"
)

// StartSweeper runs l.Sweep on a cron schedule (e.g. "@every 10m").
// Stop the returned scheduler on shutdown.
func StartSweeper(schedule string, l *Limiter) (*cron.Cron, error) {
	c := cron.New()
	if _, err := c.AddFunc(schedule, func() { l.Sweep() }); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	c.Start()
	return c, nil
}
