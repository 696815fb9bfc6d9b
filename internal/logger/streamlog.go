// Package logger records per-session protocol traffic as JSON Lines files
// for debugging and audit.
package logger

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// Direction marks which way a logged line travelled.
type Direction string

const (
	// DirIn is a line written to the subprocess's stdin.
	DirIn Direction = "in"
	// DirOut is a line read from the subprocess's stdout.
	DirOut Direction = "out"
	// DirErr is a line read from the subprocess's stderr.
	DirErr Direction = "err"
)

// record is one logged line.
type record struct {
	Timestamp string    `json:"ts"`
	Direction Direction `json:"dir"`
	Line      string    `json:"line"`
}

// StreamLog appends raw protocol lines to a .jsonl file, one record per
// line with a timestamp and direction.
type StreamLog struct {
	mu      sync.Mutex
	file    *os.File
	encoder *json.Encoder
}

// NewStreamLog creates a StreamLog writing to the given file path.
func NewStreamLog(filePath string) (*StreamLog, error) {
	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create stream log: %w", err)
	}
	return &StreamLog{
		file:    file,
		encoder: json.NewEncoder(file),
	}, nil
}

// Write appends one raw protocol line.
func (l *StreamLog) Write(dir Direction, line []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	return l.encoder.Encode(record{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Direction: dir,
		Line:      string(line),
	})
}

// Close closes the underlying file. Further writes are dropped.
func (l *StreamLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}
