package supervisor

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/shiomiya/notihub/internal/observ"
)

// LogEntry is one parsed daemon log line.
type LogEntry struct {
	Timestamp string `json:"timestamp"`
	Level     string `json:"level"`
	Message   string `json:"message"`
}

// tailReadBytes bounds how much of the log file is read per request.
const tailReadBytes = 256 << 10

var logLineRe = regexp.MustCompile(`^\[([^\]]+)\] \[([A-Za-z]+)\] (.*)$`)

// TailLogs returns the last limit log lines, newest first. Lines that
// do not match the `[ts] [LEVEL] msg` contract are passed through with
// a default level instead of being dropped.
func TailLogs(path string, limit int) ([]LogEntry, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return []LogEntry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat log file: %w", err)
	}

	// Read only the file tail; the first partial line after a mid-file
	// seek is discarded.
	partial := false
	if info.Size() > tailReadBytes {
		if _, err := f.Seek(-tailReadBytes, io.SeekEnd); err != nil {
			return nil, fmt.Errorf("seek log file: %w", err)
		}
		partial = true
	}

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64<<10), 64<<10)
	for scanner.Scan() {
		line := scanner.Text()
		if partial {
			partial = false
			continue
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan log file: %w", err)
	}

	if len(lines) > limit {
		lines = lines[len(lines)-limit:]
	}

	// Newest first.
	entries := make([]LogEntry, 0, len(lines))
	for i := len(lines) - 1; i >= 0; i-- {
		entries = append(entries, parseLogLine(lines[i]))
	}
	return entries, nil
}

func parseLogLine(line string) LogEntry {
	m := logLineRe.FindStringSubmatch(line)
	if m == nil {
		return LogEntry{
			Timestamp: time.Now().Format(observ.DaemonLogTimeLayout),
			Level:     "info",
			Message:   line,
		}
	}
	return LogEntry{
		Timestamp: m[1],
		Level:     strings.ToLower(m[2]),
		Message:   m[3],
	}
}
