package parser

import (
	"regexp"
	"strings"

	"ssh-sentry/internal/types"
)

const unknown = "unknown"

// ipPattern accepts dotted-decimal and colon-delimited (IPv6) addresses
const ipPattern = `(?P<ip>(?:\d{1,3}\.){3}\d{1,3}|[0-9a-fA-F]*:[0-9a-fA-F:.]+)`

// rule is one event category: a line matching any marker is classified as kind,
// then fields are pulled by the ordered extractors (first capture wins).
type rule struct {
	kind    types.EventKind
	markers []string
	users   []*regexp.Regexp
	ips     []*regexp.Regexp
	// fallback for missing user/ip
	missing string
}

// SSHParser extracts events from sshd logs
type SSHParser struct {
	rules []rule
}

// NewSSHParser creates a new SSH log parser
func NewSSHParser() *SSHParser {
	ipFrom := regexp.MustCompile(`from ` + ipPattern)
	ipFromUser := regexp.MustCompile(`from user \S+ ` + ipPattern)

	return &SSHParser{
		// Order matters: first matching rule wins.
		rules: []rule{
			{
				// Accepted publickey for alice from 203.0.113.5 port 22 ssh2
				kind:    types.LoginSuccess,
				markers: []string{"Accepted password", "Accepted publickey"},
				users:   []*regexp.Regexp{regexp.MustCompile(`for (?P<user>\S+)`)},
				ips:     []*regexp.Regexp{ipFrom},
			},
			{
				// Failed password for invalid user root from 198.51.100.9 port 22 ssh2
				// Invalid user admin from 198.51.100.9 port 41234
				kind:    types.LoginFailed,
				markers: []string{"Failed password", "Failed publickey", "Invalid user"},
				users: []*regexp.Regexp{
					regexp.MustCompile(`(?i)invalid user (?P<user>\S+)`),
					regexp.MustCompile(`for (?P<user>\S+)`),
					regexp.MustCompile(`user (?P<user>\S+)`),
				},
				ips: []*regexp.Regexp{ipFrom},
			},
			{
				// pam_unix(sshd:session): session closed for user alice
				// Disconnected from user alice 203.0.113.5 port 51234
				kind:    types.Logout,
				markers: []string{"session closed", "Disconnected from user"},
				users:   []*regexp.Regexp{regexp.MustCompile(`user (?P<user>\S+)`)},
				ips:     []*regexp.Regexp{ipFromUser, ipFrom},
				missing: unknown,
			},
		},
	}
}

// Parse implements the Parser interface. Lines matching no rule yield nil.
func (p *SSHParser) Parse(line string) *types.SSHEvent {
	r, ok := p.match(line)
	if !ok {
		return nil
	}

	hdr := ParseHeader(line)
	evt := &types.SSHEvent{
		Kind:      r.kind,
		User:      firstCapture(r.users, line, "user", r.missing),
		SourceIP:  firstCapture(r.ips, line, "ip", r.missing),
		Hostname:  hdr.Hostname,
		Timestamp: hdr.Timestamp,
		Raw:       line,
	}

	if r.kind == types.LoginSuccess {
		evt.AuthMethod = types.AuthPassword
		if strings.Contains(line, "publickey") {
			evt.AuthMethod = types.AuthKey
		}
	}

	return evt
}

func (p *SSHParser) match(line string) (rule, bool) {
	for _, r := range p.rules {
		for _, m := range r.markers {
			if strings.Contains(line, m) {
				return r, true
			}
		}
	}
	return rule{}, false
}

func firstCapture(res []*regexp.Regexp, line, group, missing string) string {
	for _, re := range res {
		m := re.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		if v := m[re.SubexpIndex(group)]; v != "" {
			return v
		}
	}
	return missing
}
