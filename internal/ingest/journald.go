package ingest

import (
	"bufio"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"ssh-sentry/internal/logging"
)

// DefaultUnits are the SSH daemon unit names across distributions
var DefaultUnits = []string{"ssh.service", "sshd.service"}

// JournalEntry represents the JSON structure from journalctl
type JournalEntry struct {
	Timestamp        string `json:"__REALTIME_TIMESTAMP"` // microseconds since epoch
	Hostname         string `json:"_HOSTNAME"`
	Message          string `json:"MESSAGE"`
	SyslogIdentifier string `json:"SYSLOG_IDENTIFIER"`
	PID              string `json:"_PID"`
	UID              string `json:"_UID"`
}

// JournalReader follows the systemd journal for the SSH units via the CLI
type JournalReader struct {
	bin   string
	units []string
	cmd   *exec.Cmd
}

func NewJournalReader(units []string) *JournalReader {
	if len(units) == 0 {
		units = DefaultUnits
	}
	return &JournalReader{bin: "journalctl", units: units}
}

func (j *JournalReader) Name() string {
	return "journald"
}

// Available checks that journalctl exists and can read the journal
func (j *JournalReader) Available() error {
	path, err := exec.LookPath(j.bin)
	if err != nil {
		return fmt.Errorf("journalctl not found (not a systemd system?): %w", err)
	}
	if out, err := exec.Command(path, "-q", "-n", "0").CombinedOutput(); err != nil {
		return fmt.Errorf("journal not readable: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

func (j *JournalReader) args() []string {
	// -n 0: only entries written after start, no backlog
	args := []string{"-f", "-n", "0", "-o", "json"}
	for _, u := range j.units {
		args = append(args, "-u", u)
	}
	return args
}

func (j *JournalReader) Start() (<-chan LogLine, error) {
	cmd := exec.Command(j.bin, j.args()...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to pipe journalctl: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start journalctl: %w", err)
	}
	j.cmd = cmd

	logging.Info().Strs("units", j.units).Msg("[INGEST] Following systemd journal")

	out := make(chan LogLine)
	go func() {
		defer close(out)
		decodeJournal(stdout, out)
		if err := cmd.Wait(); err != nil {
			logging.Warn().Err(err).Msg("[INGEST] journalctl exited")
		}
	}()

	return out, nil
}

func (j *JournalReader) Stop() error {
	if j.cmd != nil && j.cmd.Process != nil {
		return j.cmd.Process.Kill()
	}
	return nil
}

// decodeJournal converts journalctl JSON output into ISO-timestamped lines
func decodeJournal(r io.Reader, out chan<- LogLine) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for scanner.Scan() {
		var entry JournalEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			// Partial line or binary MESSAGE field
			continue
		}

		// Anyone can run `logger -t sshd`; the real daemon runs as root.
		if strings.HasPrefix(entry.SyslogIdentifier, "sshd") && entry.UID != "0" {
			logging.Warn().Str("uid", entry.UID).Str("pid", entry.PID).Msg("[SECURITY] Dropped spoofed sshd log entry")
			continue
		}

		ts := entryTime(entry.Timestamp)
		out <- LogLine{
			Source:    "journald",
			Timestamp: ts.Unix(),
			Content:   FormatJournalEntry(entry, ts),
		}
	}
}

// FormatJournalEntry renders "<RFC3339 ts> <host> <ident>[<pid>]: <msg>"
func FormatJournalEntry(e JournalEntry, ts time.Time) string {
	host := e.Hostname
	if host == "" {
		host = "localhost"
	}
	return fmt.Sprintf("%s %s %s[%s]: %s", ts.Format(time.RFC3339), host, e.SyslogIdentifier, e.PID, e.Message)
}

func entryTime(usec string) time.Time {
	n, err := strconv.ParseInt(usec, 10, 64)
	if err != nil || n <= 0 {
		return time.Now()
	}
	return time.UnixMicro(n)
}
