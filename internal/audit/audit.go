package audit

import (
	"bufio"
	"fmt"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// DefaultMaxSizeMB is the rollover threshold of the activity log
const DefaultMaxSizeMB = 10

// NewLogger opens the append-only activity log. Once the file grows past
// maxSizeMB it is rolled over; only one previous generation is kept.
func NewLogger(filePath string, maxSizeMB int) *lumberjack.Logger {
	if maxSizeMB <= 0 {
		maxSizeMB = DefaultMaxSizeMB
	}
	return &lumberjack.Logger{
		Filename:   filePath,
		MaxSize:    maxSizeMB,
		MaxBackups: 1,
		LocalTime:  true,
	}
}

// Tail returns the last n lines of the activity log
func Tail(filePath string, n int) ([]string, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open activity log: %w", err)
	}
	defer f.Close()

	if n <= 0 {
		return nil, nil
	}

	ring := make([]string, 0, n)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		if len(ring) == n {
			ring = ring[1:]
		}
		ring = append(ring, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read activity log: %w", err)
	}

	return ring, nil
}
