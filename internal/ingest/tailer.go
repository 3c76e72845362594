package ingest

import (
	"fmt"
	"io"
	"os"

	"github.com/nxadm/tail"

	"ssh-sentry/internal/logging"
)

// LogLine represents a raw line from a log source
type LogLine struct {
	Source    string
	Timestamp int64 // wall clock arrival
	Content   string
}

// Source is one live log stream. Sources are tried in order by Select.
type Source interface {
	Name() string
	// Available reports why the source cannot be used, or nil
	Available() error
	Start() (<-chan LogLine, error)
	Stop() error
}

// FileTailer follows a flat authentication log from its current end
type FileTailer struct {
	path string
	poll bool
	t    *tail.Tail
}

// NewFileTailer creates a new tailer for a path
func NewFileTailer(path string) *FileTailer {
	return &FileTailer{
		path: path,
		poll: true,
	}
}

func (f *FileTailer) Name() string {
	return "file"
}

// Available requires the log file to exist and be readable
func (f *FileTailer) Available() error {
	fh, err := os.Open(f.path)
	if err != nil {
		return fmt.Errorf("auth log unavailable: %w", err)
	}
	return fh.Close()
}

// Start begins tailing the file and returns a channel of lines.
// Existing content is skipped; rotation is followed by reopening.
func (f *FileTailer) Start() (<-chan LogLine, error) {
	config := tail.Config{
		Location:  &tail.SeekInfo{Offset: 0, Whence: io.SeekEnd},
		Follow:    true,
		ReOpen:    true,
		MustExist: true,
		Poll:      f.poll, // inotify is unreliable on some mounts
		Logger:    tail.DiscardingLogger,
	}

	logging.Info().Str("path", f.path).Msg("[INGEST] Tailing auth log")

	t, err := tail.TailFile(f.path, config)
	if err != nil {
		return nil, fmt.Errorf("failed to tail file %s: %w", f.path, err)
	}
	f.t = t

	out := make(chan LogLine)

	go func() {
		defer close(out)
		for line := range t.Lines {
			if line.Err != nil {
				logging.Debug().Err(line.Err).Str("path", f.path).Msg("[INGEST] Tail read error")
				continue
			}
			out <- LogLine{
				Source:    f.Name(),
				Timestamp: line.Time.Unix(),
				Content:   line.Text,
			}
		}
	}()

	return out, nil
}

// Stop stops the tailing
func (f *FileTailer) Stop() error {
	if f.t != nil {
		return f.t.Stop()
	}
	return nil
}
