package explain

import (
	"strings"
	"testing"

	"ssh-sentry/internal/types"
)

func TestFormat_LoginSuccess(t *testing.T) {
	f := NewTemplateFormatter()
	msg := f.Format(&types.SSHEvent{
		Kind:       types.LoginSuccess,
		User:       "alice",
		SourceIP:   "203.0.113.5",
		AuthMethod: types.AuthKey,
		Hostname:   "web01",
		Timestamp:  "2024-05-01T10:00:00+00:00",
	}, "United States, California, Los Angeles, Example ISP")

	for _, want := range []string{
		"SSH login",
		"User: alice",
		"Host: web01",
		"IP: 203.0.113.5",
		"Location: United States, California, Los Angeles, Example ISP",
		"Method: SSH key",
		"Time: 2024-05-01T10:00:00+00:00",
		annotationStandard,
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("Message missing %q:\n%s", want, msg)
		}
	}
}

func TestFormat_MethodOnlyForLogin(t *testing.T) {
	f := NewTemplateFormatter()
	for _, kind := range []types.EventKind{types.LoginFailed, types.Logout} {
		msg := f.Format(&types.SSHEvent{Kind: kind, User: "bob", SourceIP: "198.51.100.9"}, "x")
		if strings.Contains(msg, "Method:") {
			t.Errorf("%s message should not carry an auth method:\n%s", kind, msg)
		}
	}

	msg := f.Format(&types.SSHEvent{Kind: types.LoginSuccess, User: "bob", AuthMethod: types.AuthPassword}, "x")
	if !strings.Contains(msg, "Method: password") {
		t.Errorf("Expected password method:\n%s", msg)
	}
}

func TestFormat_EmptyFieldsShownAsUnknown(t *testing.T) {
	msg := NewTemplateFormatter().Format(&types.SSHEvent{Kind: types.LoginFailed}, "unknown (location unavailable)")
	if !strings.Contains(msg, "User: unknown") || !strings.Contains(msg, "IP: unknown") {
		t.Errorf("Expected unknown placeholders:\n%s", msg)
	}
}

func TestAnnotation(t *testing.T) {
	tests := []struct {
		name  string
		event types.SSHEvent
		want  string
	}{
		{"root login", types.SSHEvent{Kind: types.LoginSuccess, User: "root"}, annotationRoot},
		{"root failure", types.SSHEvent{Kind: types.LoginFailed, User: "root"}, annotationRoot},
		{"failure", types.SSHEvent{Kind: types.LoginFailed, User: "admin"}, annotationThreat},
		{"logout", types.SSHEvent{Kind: types.Logout, User: "alice"}, annotationStandard},
		{"Root is not root", types.SSHEvent{Kind: types.LoginSuccess, User: "Root"}, annotationStandard},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Annotation(&tt.event); got != tt.want {
				t.Errorf("Annotation = %q, want %q", got, tt.want)
			}
		})
	}
}
