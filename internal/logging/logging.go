// Package logging wraps zerolog the way the rest of the stack expects to
// consume it: a single package-level logger, a level setter, and an
// optional file sink.
package logging

import (
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// L is the process-wide logger. Every package logs through it.
var L *zerolog.Logger

var (
	fileMu  sync.Mutex
	fileOut *os.File
)

func init() {
	console := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	logger := zerolog.New(console).With().Timestamp().Logger()
	L = &logger
}

// SetLogLevel adjusts the global zerolog level.
func SetLogLevel(level zerolog.Level) {
	zerolog.SetGlobalLevel(level)
}

// SetLogOutput tees the logger to a file under dir/name, opened in
// append mode and not rotated, in addition to the console writer
// already installed at init time.
func SetLogOutput(dir, name string) error {
	fileMu.Lock()
	defer fileMu.Unlock()

	if err := os.MkdirAll(dir, 0750); err != nil {
		return err
	}
	f, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
	if err != nil {
		return err
	}
	fileOut = f

	console := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	multi := zerolog.MultiLevelWriter(console, f)
	logger := zerolog.New(multi).With().Timestamp().Logger()
	L = &logger
	return nil
}

// Close flushes and closes the file sink, if one was opened.
func Close() {
	fileMu.Lock()
	defer fileMu.Unlock()
	if fileOut != nil {
		_ = fileOut.Close()
		fileOut = nil
	}
}

// NopWriter discards everything; used by tests that construct a logger
// without touching the global.
type NopWriter struct{}

func (NopWriter) Write(p []byte) (int, error) { return len(p), nil }

var _ io.Writer = NopWriter{}
