package worker

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// StatusLogPath is the per-day JSON lines file under dir.
func StatusLogPath(dir string, day time.Time) string {
	return filepath.Join(dir, day.Format("2006-01-02")+".jsonl")
}

// OpenStatusLog appends job statuses as JSON lines to the file for day
// under dir. The returned closer releases the file.
func OpenStatusLog(dir string, day time.Time) (*slog.Logger, io.Closer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("creating log dir: %w", err)
	}
	f, err := os.OpenFile(StatusLogPath(dir, day), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("opening status log: %w", err)
	}
	return slog.New(slog.NewJSONHandler(f, nil)), f, nil
}
