package logger

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestStreamLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.jsonl")
	log, err := NewStreamLog(path)
	if err != nil {
		t.Fatalf("NewStreamLog failed: %v", err)
	}

	if err := log.Write(DirOut, []byte(`{"type":"ping"}`)); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := log.Write(DirIn, []byte(`{"type":"user"}`)); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := log.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// Writes after Close are dropped without error.
	if err := log.Write(DirOut, []byte("late")); err != nil {
		t.Errorf("write after close should be a no-op, got %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open log failed: %v", err)
	}
	defer f.Close()

	var records []record
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var r record
		if err := json.Unmarshal(scanner.Bytes(), &r); err != nil {
			t.Fatalf("invalid log line %q: %v", scanner.Text(), err)
		}
		records = append(records, r)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].Direction != DirOut || records[0].Line != `{"type":"ping"}` {
		t.Errorf("unexpected first record %+v", records[0])
	}
	if records[1].Direction != DirIn {
		t.Errorf("unexpected second record %+v", records[1])
	}
}
