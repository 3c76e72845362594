// Package pidfile manages the runtime marker file that records the daemon PID.
package pidfile

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v4/process"
	"github.com/spf13/afero"
)

// PIDFile is a marker file holding a single process id
type PIDFile struct {
	fs   afero.Fs
	path string
}

func New(fs afero.Fs, path string) *PIDFile {
	return &PIDFile{fs: fs, path: path}
}

func (p *PIDFile) Path() string {
	return p.path
}

// Write records pid, creating the parent directory if needed
func (p *PIDFile) Write(pid int) error {
	if err := p.fs.MkdirAll(filepath.Dir(p.path), 0o755); err != nil {
		return fmt.Errorf("failed to create pid dir: %w", err)
	}
	if err := afero.WriteFile(p.fs, p.path, []byte(strconv.Itoa(pid)+"\n"), 0o644); err != nil {
		return fmt.Errorf("failed to write pid file: %w", err)
	}
	return nil
}

// Read returns the recorded pid
func (p *PIDFile) Read() (int, error) {
	data, err := afero.ReadFile(p.fs, p.path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid pid file %s: %q", p.path, strings.TrimSpace(string(data)))
	}
	return pid, nil
}

// Remove deletes the marker; a missing file is not an error
func (p *PIDFile) Remove() error {
	if err := p.fs.Remove(p.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove pid file: %w", err)
	}
	return nil
}

// Running reads the marker and reports whether that process is alive.
// A stale marker yields the pid with running=false.
func (p *PIDFile) Running() (pid int, running bool, err error) {
	pid, err = p.Read()
	if err != nil {
		return 0, false, err
	}
	running, err = process.PidExists(int32(pid))
	if err != nil {
		return pid, false, fmt.Errorf("failed to check pid %d: %w", pid, err)
	}
	return pid, running, nil
}
