package logging

import (
	"bytes"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// DeployLogger records the log of one deployment run. Lines are kept in
// memory, forwarded to onLine, and mirrored to slog.
type DeployLogger struct {
	runID  string
	lines  []string
	mu     sync.Mutex
	onLine func(runID, line string)
	slog   *slog.Logger
	now    func() time.Time
}

func NewDeployLogger(runID string, onLine func(runID, line string)) *DeployLogger {
	return &DeployLogger{
		runID:  runID,
		onLine: onLine,
		slog:   slog.Default().With("run", runID),
		now:    time.Now,
	}
}

func (l *DeployLogger) Log(format string, args ...any) {
	line := fmt.Sprintf(format, args...)
	full := fmt.Sprintf("[%s] %s", l.now().Format("15:04:05"), line)

	l.mu.Lock()
	l.lines = append(l.lines, full)
	l.mu.Unlock()

	l.slog.Info(line)

	if l.onLine != nil {
		l.onLine(l.runID, full)
	}
}

func (l *DeployLogger) Lines() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	cp := make([]string, len(l.lines))
	copy(cp, l.lines)
	return cp
}

// Slog returns a structured logger tagged with the run ID.
func (l *DeployLogger) Slog() *slog.Logger {
	return l.slog
}

// Writer returns an io.Writer that logs each complete line written to it,
// prefixed with label. Call Close to flush a trailing partial line.
func (l *DeployLogger) Writer(label string) *LineWriter {
	return &LineWriter{log: l, label: label}
}

// LineWriter splits process output into log lines.
type LineWriter struct {
	log   *DeployLogger
	label string
	mu    sync.Mutex
	buf   bytes.Buffer
}

func (w *LineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf.Write(p)
	for {
		line, err := w.buf.ReadString('\n')
		if err != nil {
			// incomplete line, keep it for the next write
			w.buf.Reset()
			w.buf.WriteString(line)
			break
		}
		w.emit(line)
	}
	return len(p), nil
}

func (w *LineWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.buf.Len() > 0 {
		w.emit(w.buf.String())
		w.buf.Reset()
	}
	return nil
}

func (w *LineWriter) emit(line string) {
	line = strings.TrimRight(line, "\r\n")
	if strings.TrimSpace(line) == "" {
		return
	}
	if w.label != "" {
		w.log.Log("%s | %s", w.label, line)
		return
	}
	w.log.Log("%s", line)
}
