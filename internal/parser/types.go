package parser

import "ssh-sentry/internal/types"

// Parser turns a raw log line into an event, or nil when the line is not relevant
type Parser interface {
	Parse(line string) *types.SSHEvent
}
