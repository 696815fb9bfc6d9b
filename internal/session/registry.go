package session

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/claude-bridge/backend/internal/logger"
	"github.com/claude-bridge/backend/internal/model"
	"github.com/claude-bridge/backend/internal/process"
	"github.com/claude-bridge/backend/internal/repository"
)

// Config holds configuration for the session registry.
type Config struct {
	// Command is the agent CLI invocation, e.g. "claude" or
	// "node /opt/agent/cli.js".
	Command string
	// MaxSessions caps concurrently live sessions.
	MaxSessions int
	// BufferSize is the per-session event buffer capacity.
	BufferSize int
	// SessionTimeout destroys sessions idle longer than this. Zero
	// disables the sweep.
	SessionTimeout time.Duration
	// SweepInterval is how often idle sessions are checked.
	SweepInterval time.Duration
	// LogDir receives per-session protocol logs. Empty disables them.
	LogDir string
}

// Registry owns all live sessions and their resume state.
type Registry struct {
	cfg  Config
	repo *repository.ResumeRepository
	log  *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session

	// admit serializes capacity checks against registration so
	// concurrent creates cannot all pass admission.
	admit sync.Mutex

	done     chan struct{}
	stopOnce sync.Once
}

// NewRegistry creates a session registry and starts its idle sweep.
func NewRegistry(repo *repository.ResumeRepository, cfg Config, log *slog.Logger) *Registry {
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = 10
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1000
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}

	r := &Registry{
		cfg:      cfg,
		repo:     repo,
		log:      log,
		sessions: make(map[string]*Session),
		done:     make(chan struct{}),
	}
	if cfg.SessionTimeout > 0 {
		go r.sweepLoop()
	}
	return r
}

// Create starts a new agent session.
func (r *Registry) Create(ctx context.Context, req *model.CreateSessionRequest) (*Session, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	r.admit.Lock()
	defer r.admit.Unlock()

	if r.liveCount() >= r.cfg.MaxSessions {
		return nil, model.ErrMaxSessions
	}

	id := uuid.New().String()
	meta := model.Session{
		ID:               id,
		WorkingDirectory: req.WorkingDirectory,
		ConversationID:   req.ResumeConversationID,
		Model:            req.Model,
		PermissionMode:   req.PermissionMode,
		CreatedAt:        time.Now(),
		LastActiveAt:     time.Now(),
	}

	if err := r.repo.Save(ctx, &repository.ResumeState{
		ID:               id,
		WorkingDirectory: meta.WorkingDirectory,
		ConversationID:   meta.ConversationID,
		Model:            meta.Model,
		PermissionMode:   meta.PermissionMode,
	}); err != nil {
		return nil, fmt.Errorf("failed to persist session: %w", err)
	}

	sess, err := r.spawn(meta, req.SystemPrompt, req.AdditionalFlags, req.SkipPermissions)
	if err != nil {
		r.repo.Delete(ctx, id)
		return nil, err
	}
	return sess, nil
}

// Get returns a live session by id.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sess, ok := r.sessions[id]
	if !ok {
		return nil, model.ErrSessionNotFound
	}
	return sess, nil
}

// GetOrResume returns a live session, restarting it from resume state
// when its process is gone. A session can only be resumed once its
// conversation id is known.
func (r *Registry) GetOrResume(ctx context.Context, id string) (*Session, error) {
	sess, err := r.Get(id)
	if err == nil && sess.Alive() {
		return sess, nil
	}

	state, repoErr := r.repo.Get(ctx, id)
	if repoErr != nil {
		return nil, repoErr
	}
	if state.ConversationID == "" {
		return nil, model.ErrNotResumable
	}

	r.admit.Lock()
	defer r.admit.Unlock()

	if r.liveCount() >= r.cfg.MaxSessions {
		return nil, model.ErrMaxSessions
	}

	r.log.Info("resuming session", "session_id", id, "conversation_id", state.ConversationID)

	// Drop the dead incarnation before spawning the replacement.
	if sess != nil {
		r.Remove(id)
		sess.Destroy()
	}

	meta := model.Session{
		ID:               id,
		WorkingDirectory: state.WorkingDirectory,
		ConversationID:   state.ConversationID,
		Model:            state.Model,
		PermissionMode:   state.PermissionMode,
		CreatedAt:        state.CreatedAt,
		LastActiveAt:     time.Now(),
	}
	return r.spawn(meta, "", nil, false)
}

// List returns metadata snapshots of all registered sessions.
func (r *Registry) List() []model.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]model.Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		out = append(out, sess.Snapshot())
	}
	return out
}

// Destroy tears a session down and deletes its resume state.
func (r *Registry) Destroy(ctx context.Context, id string) error {
	r.mu.Lock()
	sess, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	if !ok {
		// Resume state may still exist for an unloaded session.
		if err := r.repo.Delete(ctx, id); err != nil {
			return err
		}
		return nil
	}

	sess.Destroy()
	if err := r.repo.Delete(ctx, id); err != nil {
		r.log.Warn("failed to delete resume state", "session_id", id, "error", err)
	}
	return nil
}

// ActiveCount returns the number of live sessions.
func (r *Registry) ActiveCount() int {
	return r.liveCount()
}

// Close destroys all sessions and stops the sweep. Resume state is kept
// so sessions survive a server restart.
func (r *Registry) Close() {
	r.stopOnce.Do(func() { close(r.done) })

	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		sessions = append(sessions, sess)
	}
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, sess := range sessions {
		sess.Destroy()
	}
}

// spawn starts the subprocess and registers the session.
func (r *Registry) spawn(meta model.Session, systemPrompt string, extraFlags []string, skipPermissions bool) (*Session, error) {
	name, baseArgs := splitCommand(r.cfg.Command)
	args := append(baseArgs, buildArgs(meta, systemPrompt, extraFlags, skipPermissions)...)

	proc, err := process.Start(process.StartOptions{
		Command: name,
		Args:    args,
		Dir:     meta.WorkingDirectory,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start agent process: %w", err)
	}

	var streamLog *logger.StreamLog
	if r.cfg.LogDir != "" {
		path := filepath.Join(r.cfg.LogDir, meta.ID+".jsonl")
		streamLog, err = logger.NewStreamLog(path)
		if err != nil {
			r.log.Warn("failed to open stream log", "session_id", meta.ID, "error", err)
		}
	}

	sess := newSession(meta, proc, r.cfg.BufferSize, streamLog, r.log)
	sess.onConversationID = func(sessionID, conversationID string) {
		if err := r.repo.UpdateConversationID(context.Background(), sessionID, conversationID); err != nil {
			r.log.Warn("failed to record conversation id", "session_id", sessionID, "error", err)
		}
	}

	r.mu.Lock()
	r.sessions[meta.ID] = sess
	r.mu.Unlock()

	sess.start()
	r.log.Info("session started", "session_id", meta.ID, "pid", proc.PID(), "workdir", meta.WorkingDirectory)
	return sess, nil
}

// Remove drops a session's registry record without touching its process
// or resume state.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
}

func (r *Registry) liveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for _, sess := range r.sessions {
		if sess.Alive() {
			count++
		}
	}
	return count
}

// sweepLoop destroys the process of sessions idle past the timeout. The
// resume state stays so they can be brought back later.
func (r *Registry) sweepLoop() {
	ticker := time.NewTicker(r.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.done:
			return
		case <-ticker.C:
			r.sweepIdle()
		}
	}
}

func (r *Registry) sweepIdle() {
	cutoff := time.Now().Add(-r.cfg.SessionTimeout)

	r.mu.Lock()
	var idle []*Session
	for id, sess := range r.sessions {
		// Status does not matter; a hung Busy subprocess past the
		// timeout is reaped like any other.
		if sess.Snapshot().LastActiveAt.Before(cutoff) {
			idle = append(idle, sess)
			delete(r.sessions, id)
		}
	}
	r.mu.Unlock()

	for _, sess := range idle {
		r.log.Info("sweeping idle session", "session_id", sess.ID())
		sess.Destroy()
	}
}

// buildArgs assembles the agent CLI flags for one session.
func buildArgs(meta model.Session, systemPrompt string, extraFlags []string, skipPermissions bool) []string {
	args := []string{
		"--output-format", "stream-json",
		"--input-format", "stream-json",
		"--verbose",
		"--permission-prompt-tool", "stdio",
	}
	if meta.Model != "" {
		args = append(args, "--model", meta.Model)
	}
	if meta.PermissionMode != "" {
		args = append(args, "--permission-mode", meta.PermissionMode)
	}
	if systemPrompt != "" {
		args = append(args, "--append-system-prompt", systemPrompt)
	}
	if skipPermissions {
		args = append(args, "--dangerously-skip-permissions")
	}
	if meta.ConversationID != "" {
		args = append(args, "--resume", meta.ConversationID)
	}
	return append(args, extraFlags...)
}

// splitCommand splits a configured command string into the executable and
// its leading arguments. Single- and double-quoted segments stay one
// token, so invocations like `/bin/sh -c 'exec agent'` keep the script
// intact.
func splitCommand(command string) (string, []string) {
	var tokens []string
	var cur strings.Builder
	var quote byte
	inToken := false

	for i := 0; i < len(command); i++ {
		c := command[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			} else {
				cur.WriteByte(c)
			}
		case c == '\'' || c == '"':
			quote = c
			inToken = true
		case c == ' ' || c == '\t':
			if inToken {
				tokens = append(tokens, cur.String())
				cur.Reset()
				inToken = false
			}
		default:
			cur.WriteByte(c)
			inToken = true
		}
	}
	if inToken {
		tokens = append(tokens, cur.String())
	}

	if len(tokens) == 0 {
		return command, nil
	}
	return tokens[0], tokens[1:]
}
