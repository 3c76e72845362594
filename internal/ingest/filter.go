package ingest

import "strings"

var eventMarkers = []string{
	"Accepted password",
	"Accepted publickey",
	"Failed password",
	"Failed publickey",
	"Invalid user",
	"session closed",
	"Disconnected from user",
}

// Relevant is a cheap prefilter: the line must mention sshd and one of the
// recognised event substrings. The classifier still validates every line.
func Relevant(line string) bool {
	if !strings.Contains(line, "sshd") {
		return false
	}
	for _, m := range eventMarkers {
		if strings.Contains(line, m) {
			return true
		}
	}
	return false
}
