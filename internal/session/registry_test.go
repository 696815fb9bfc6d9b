//go:build !windows

package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/claude-bridge/backend/internal/db"
	"github.com/claude-bridge/backend/internal/model"
	"github.com/claude-bridge/backend/internal/repository"
)

// registryAgent is the fake agent used by registry tests, invoked through
// sh -c so the agent CLI flags land in unused positional parameters.
const registryAgent = `/bin/sh -c 'echo "{\"type\":\"system\",\"subtype\":\"init\",\"session_id\":\"conv-reg\"}"; while read line; do echo "{\"type\":\"result\",\"result\":\"ok\"}"; done'`

func newTestRegistry(t *testing.T, cfg Config) *Registry {
	t.Helper()
	testDB, err := db.NewTestDB()
	if err != nil {
		t.Fatalf("failed to create test db: %v", err)
	}
	t.Cleanup(func() { testDB.Close() })

	if cfg.Command == "" {
		cfg.Command = registryAgent
	}
	reg := NewRegistry(repository.NewResumeRepository(testDB), cfg, testLogger())
	t.Cleanup(reg.Close)
	return reg
}

func TestRegistryCreateAndGet(t *testing.T) {
	reg := newTestRegistry(t, Config{MaxSessions: 2})
	ctx := context.Background()

	sess, err := reg.Create(ctx, &model.CreateSessionRequest{WorkingDirectory: t.TempDir()})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	waitForStatus(t, sess, model.SessionStatusReady)

	got, err := reg.Get(sess.ID())
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != sess {
		t.Error("Get returned a different session")
	}

	if _, err := reg.Get("nope"); !errors.Is(err, model.ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}

	if n := reg.ActiveCount(); n != 1 {
		t.Errorf("expected 1 active session, got %d", n)
	}
}

func TestSplitCommand(t *testing.T) {
	tests := []struct {
		name     string
		command  string
		wantName string
		wantArgs []string
	}{
		{"bare", "claude", "claude", nil},
		{"with args", "node /opt/agent/cli.js", "node", []string{"/opt/agent/cli.js"}},
		{"single quoted script", `/bin/sh -c 'echo hi; read x'`, "/bin/sh", []string{"-c", "echo hi; read x"}},
		{"double quoted", `runner --name "my agent"`, "runner", []string{"--name", "my agent"}},
		{"quotes inside script", `/bin/sh -c 'echo "{\"type\":\"ping\"}"'`, "/bin/sh", []string{"-c", `echo "{\"type\":\"ping\"}"`}},
		{"empty", "", "", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			name, args := splitCommand(tt.command)
			if name != tt.wantName {
				t.Errorf("name = %q, want %q", name, tt.wantName)
			}
			if len(args) != len(tt.wantArgs) {
				t.Fatalf("args = %q, want %q", args, tt.wantArgs)
			}
			for i := range args {
				if args[i] != tt.wantArgs[i] {
					t.Errorf("args[%d] = %q, want %q", i, args[i], tt.wantArgs[i])
				}
			}
		})
	}
}

func TestRegistryCapacity(t *testing.T) {
	reg := newTestRegistry(t, Config{MaxSessions: 1})
	ctx := context.Background()
	dir := t.TempDir()

	if _, err := reg.Create(ctx, &model.CreateSessionRequest{WorkingDirectory: dir}); err != nil {
		t.Fatalf("first Create failed: %v", err)
	}
	_, err := reg.Create(ctx, &model.CreateSessionRequest{WorkingDirectory: dir})
	if !errors.Is(err, model.ErrMaxSessions) {
		t.Errorf("expected ErrMaxSessions, got %v", err)
	}
}

func TestRegistryConcurrentCreateCapacity(t *testing.T) {
	reg := newTestRegistry(t, Config{MaxSessions: 1})
	dir := t.TempDir()

	const attempts = 8
	var wg sync.WaitGroup
	var created int32
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := reg.Create(context.Background(), &model.CreateSessionRequest{WorkingDirectory: dir})
			if err == nil {
				atomic.AddInt32(&created, 1)
			} else if !errors.Is(err, model.ErrMaxSessions) {
				t.Errorf("unexpected create error: %v", err)
			}
		}()
	}
	wg.Wait()

	if created != 1 {
		t.Errorf("expected exactly 1 successful create, got %d", created)
	}
	if n := reg.ActiveCount(); n != 1 {
		t.Errorf("expected 1 active session, got %d", n)
	}
}

func TestRegistryValidation(t *testing.T) {
	reg := newTestRegistry(t, Config{MaxSessions: 1})

	_, err := reg.Create(context.Background(), &model.CreateSessionRequest{
		WorkingDirectory: "/definitely/not/a/real/path",
	})
	if !errors.Is(err, model.ErrWorkingDirectory) {
		t.Errorf("expected ErrWorkingDirectory, got %v", err)
	}
}

func TestRegistryDestroy(t *testing.T) {
	reg := newTestRegistry(t, Config{MaxSessions: 2})
	ctx := context.Background()

	sess, err := reg.Create(ctx, &model.CreateSessionRequest{WorkingDirectory: t.TempDir()})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	waitForStatus(t, sess, model.SessionStatusReady)

	if err := reg.Destroy(ctx, sess.ID()); err != nil {
		t.Fatalf("Destroy failed: %v", err)
	}
	if sess.Status() != model.SessionStatusDestroyed {
		t.Errorf("expected destroyed, got %s", sess.Status())
	}
	if _, err := reg.Get(sess.ID()); !errors.Is(err, model.ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound after destroy, got %v", err)
	}

	// Destroying again finds no session and no resume state.
	if err := reg.Destroy(ctx, sess.ID()); !errors.Is(err, model.ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestRegistryResume(t *testing.T) {
	reg := newTestRegistry(t, Config{MaxSessions: 2})
	ctx := context.Background()

	sess, err := reg.Create(ctx, &model.CreateSessionRequest{WorkingDirectory: t.TempDir()})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	waitForStatus(t, sess, model.SessionStatusReady)
	id := sess.ID()

	// Wait for the conversation id to be persisted.
	deadline := time.Now().Add(5 * time.Second)
	for sess.Snapshot().ConversationID == "" && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if sess.Snapshot().ConversationID == "" {
		t.Fatal("conversation id never recorded")
	}

	sess.Destroy()

	resumed, err := reg.GetOrResume(ctx, id)
	if err != nil {
		t.Fatalf("GetOrResume failed: %v", err)
	}
	if resumed.ID() != id {
		t.Errorf("resumed session has id %s, want %s", resumed.ID(), id)
	}
	if resumed == sess {
		t.Error("expected a fresh session incarnation")
	}
	waitForStatus(t, resumed, model.SessionStatusReady)
}

func TestRegistryResumeWithoutConversationID(t *testing.T) {
	// An agent that never reports an init event.
	reg := newTestRegistry(t, Config{
		MaxSessions: 2,
		Command:     `/bin/sh -c 'while read line; do :; done'`,
	})
	ctx := context.Background()

	sess, err := reg.Create(ctx, &model.CreateSessionRequest{WorkingDirectory: t.TempDir()})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	sess.Destroy()

	if _, err := reg.GetOrResume(ctx, sess.ID()); !errors.Is(err, model.ErrNotResumable) {
		t.Errorf("expected ErrNotResumable, got %v", err)
	}
}

func TestRegistryGetOrResumeLive(t *testing.T) {
	reg := newTestRegistry(t, Config{MaxSessions: 2})
	ctx := context.Background()

	sess, err := reg.Create(ctx, &model.CreateSessionRequest{WorkingDirectory: t.TempDir()})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	waitForStatus(t, sess, model.SessionStatusReady)

	got, err := reg.GetOrResume(ctx, sess.ID())
	if err != nil {
		t.Fatalf("GetOrResume failed: %v", err)
	}
	if got != sess {
		t.Error("live session should be returned as-is")
	}
}

func TestRegistryIdleSweep(t *testing.T) {
	reg := newTestRegistry(t, Config{
		MaxSessions:    2,
		SessionTimeout: 50 * time.Millisecond,
		SweepInterval:  20 * time.Millisecond,
	})
	ctx := context.Background()

	sess, err := reg.Create(ctx, &model.CreateSessionRequest{WorkingDirectory: t.TempDir()})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	waitForStatus(t, sess, model.SessionStatusReady)

	waitForSweep(t, reg, sess)
}

func TestRegistryIdleSweepBusySession(t *testing.T) {
	// An agent that accepts a message and never answers, leaving the
	// session stuck busy past the timeout.
	reg := newTestRegistry(t, Config{
		MaxSessions:    2,
		SessionTimeout: 50 * time.Millisecond,
		SweepInterval:  20 * time.Millisecond,
		Command:        `/bin/sh -c 'echo "{\"type\":\"system\",\"subtype\":\"init\",\"session_id\":\"conv-hang\"}"; read line; sleep 60'`,
	})
	ctx := context.Background()

	sess, err := reg.Create(ctx, &model.CreateSessionRequest{WorkingDirectory: t.TempDir()})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	waitForStatus(t, sess, model.SessionStatusReady)

	if err := sess.SendUserMessage("hang"); err != nil {
		t.Fatalf("SendUserMessage failed: %v", err)
	}
	if sess.Status() != model.SessionStatusBusy {
		t.Fatalf("expected busy, got %s", sess.Status())
	}

	waitForSweep(t, reg, sess)
}

func waitForSweep(t *testing.T, reg *Registry, sess *Session) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := reg.Get(sess.ID()); errors.Is(err, model.ErrSessionNotFound) {
			if sess.Status() != model.SessionStatusDestroyed {
				t.Errorf("swept session should be destroyed, got %s", sess.Status())
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("idle session was never swept")
}
