package parser

import (
	"regexp"
	"strings"
)

// isoTimestamp matches journal-style leading timestamps:
// 2026-01-02T15:04:05+0000, 2026-01-02T15:04:05.123456Z, 2026-01-02T15:04:05-07:00
var isoTimestamp = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}(\.\d+)?(Z|[+-]\d{2}:?\d{2})$`)

// Header is the timestamp/hostname prefix of a log line
type Header struct {
	Timestamp string
	Hostname  string
	Journal   bool
}

// ParseHeader splits the leading fields of a line. Journal-style lines carry
// "<iso-ts> <host> ...", traditional syslog carries "<Mon> <day> <hh:mm:ss> <host>: ...".
// Short lines yield whatever fields exist.
func ParseHeader(line string) Header {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Header{}
	}

	if isoTimestamp.MatchString(fields[0]) {
		h := Header{Timestamp: fields[0], Journal: true}
		if len(fields) > 1 {
			h.Hostname = fields[1]
		}
		return h
	}

	var h Header
	n := min(len(fields), 3)
	h.Timestamp = strings.Join(fields[:n], " ")
	if len(fields) > 3 {
		h.Hostname = strings.TrimSuffix(fields[3], ":")
	}
	return h
}
