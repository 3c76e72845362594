// Package explain renders SSH events into human-readable alert messages.
package explain

import (
	"fmt"
	"strings"

	"ssh-sentry/internal/types"
)

// Formatter turns an event and its resolved location into a message body
type Formatter interface {
	Format(event *types.SSHEvent, location string) string
}

const (
	annotationRoot     = "⚠️ ROOT ACCESS - high priority"
	annotationThreat   = "🚨 Potential threat - repeated failures may indicate brute force"
	annotationStandard = "ℹ️ Standard user activity"
)

var titles = map[types.EventKind]string{
	types.LoginSuccess: "🔓 SSH login",
	types.LoginFailed:  "❌ Failed SSH login",
	types.Logout:       "🔒 SSH logout",
}

// TemplateFormatter uses fixed text templates (offline, no dependencies)
type TemplateFormatter struct{}

func NewTemplateFormatter() *TemplateFormatter {
	return &TemplateFormatter{}
}

// Format implements Formatter
func (f *TemplateFormatter) Format(event *types.SSHEvent, location string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "%s\n\n", titles[event.Kind])
	fmt.Fprintf(&b, "👤 User: %s\n", orUnknown(event.User))
	fmt.Fprintf(&b, "🖥 Host: %s\n", orUnknown(event.Hostname))
	fmt.Fprintf(&b, "🌐 IP: %s\n", orUnknown(event.SourceIP))
	fmt.Fprintf(&b, "📍 Location: %s\n", location)
	if event.Kind == types.LoginSuccess {
		fmt.Fprintf(&b, "🔑 Method: %s\n", methodLabel(event.AuthMethod))
	}
	fmt.Fprintf(&b, "🕐 Time: %s\n\n", event.Timestamp)
	b.WriteString(Annotation(event))

	return b.String()
}

// Annotation classifies the event for the reader: root first, then failures
func Annotation(event *types.SSHEvent) string {
	switch {
	case event.IsRoot():
		return annotationRoot
	case event.Kind == types.LoginFailed:
		return annotationThreat
	default:
		return annotationStandard
	}
}

func methodLabel(m types.AuthMethod) string {
	if m == types.AuthKey {
		return "SSH key"
	}
	return "password"
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
