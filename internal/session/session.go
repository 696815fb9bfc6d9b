// Package session manages agent sessions: each one owns a subprocess, an
// event buffer for replay, and a set of live stream subscribers.
package session

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/claude-bridge/backend/internal/buffer"
	"github.com/claude-bridge/backend/internal/logger"
	"github.com/claude-bridge/backend/internal/model"
	"github.com/claude-bridge/backend/internal/process"
	"github.com/claude-bridge/backend/internal/protocol"
)

// maxLineSize bounds one protocol line from the subprocess. Assistant
// messages with large tool results can run long.
const maxLineSize = 1024 * 1024

// subscriberBuffer is the channel depth per stream subscriber. A
// subscriber that falls this far behind is disconnected; it can replay
// what it missed on reconnect.
const subscriberBuffer = 256

// Subscriber receives live events for one session. The channel is closed
// when the subscriber is dropped or the session ends.
type Subscriber struct {
	ch   chan buffer.BufferedEvent
	once sync.Once
}

// Events returns the subscriber's event channel.
func (s *Subscriber) Events() <-chan buffer.BufferedEvent {
	return s.ch
}

func (s *Subscriber) close() {
	s.once.Do(func() { close(s.ch) })
}

// Session is one live agent conversation bound to a subprocess.
type Session struct {
	mu          sync.RWMutex
	meta        model.Session
	proc        *process.Process
	buf         *buffer.EventBuffer
	subscribers map[*Subscriber]struct{}
	streamLog   *logger.StreamLog
	log         *slog.Logger

	// onConversationID fires when the subprocess reports its
	// conversation id in the init event.
	onConversationID func(sessionID, conversationID string)
	// onExit fires after the subprocess has exited and the exit event
	// was published.
	onExit func(sessionID string)
}

// newSession wraps an already-started subprocess. The registry calls this
// and then start.
func newSession(meta model.Session, proc *process.Process, bufferSize int, streamLog *logger.StreamLog, log *slog.Logger) *Session {
	pid := proc.PID()
	meta.PID = &pid
	meta.Status = model.SessionStatusStarting
	return &Session{
		meta:        meta,
		proc:        proc,
		buf:         buffer.NewEventBuffer(bufferSize),
		subscribers: make(map[*Subscriber]struct{}),
		streamLog:   streamLog,
		log:         log.With("session_id", meta.ID),
	}
}

// start launches the read and wait loops.
func (s *Session) start() {
	go s.readLoop()
	go s.stderrLoop()
	go s.waitLoop()
}

// Snapshot returns a copy of the session's metadata.
func (s *Session) Snapshot() model.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.meta
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.meta.ID
}

// Status returns the current session status.
func (s *Session) Status() model.SessionStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.meta.Status
}

// Alive reports whether the subprocess is still usable.
func (s *Session) Alive() bool {
	switch s.Status() {
	case model.SessionStatusStarting, model.SessionStatusReady, model.SessionStatusBusy:
		return true
	}
	return false
}

// History returns the most recent n buffered events.
func (s *Session) History(n int) []buffer.BufferedEvent {
	return s.buf.History(n)
}

// LastEventID returns the id of the newest buffered event.
func (s *Session) LastEventID() int64 {
	return s.buf.LastID()
}

// Subscribe registers a live subscriber and returns the replay of missed
// events atomically, so no event falls between replay and live delivery.
// afterID 0 means no replay.
func (s *Session) Subscribe(afterID int64) ([]buffer.BufferedEvent, *Subscriber) {
	sub := &Subscriber{ch: make(chan buffer.BufferedEvent, subscriberBuffer)}

	s.mu.Lock()
	defer s.mu.Unlock()

	var replay []buffer.BufferedEvent
	if afterID > 0 {
		replay = s.buf.ReplayAfter(afterID)
	}
	if s.meta.Status == model.SessionStatusDead || s.meta.Status == model.SessionStatusDestroyed {
		// No live events will come; the caller still gets the replay.
		sub.close()
		return replay, sub
	}
	s.subscribers[sub] = struct{}{}
	return replay, sub
}

// Unsubscribe removes a subscriber and closes its channel.
func (s *Session) Unsubscribe(sub *Subscriber) {
	s.mu.Lock()
	delete(s.subscribers, sub)
	s.mu.Unlock()
	sub.close()
}

// SendUserMessage writes a user text message to the subprocess and marks
// the session busy.
func (s *Session) SendUserMessage(content string) error {
	if content == "" {
		return model.ErrContentRequired
	}
	line, err := protocol.EncodeUserMessage(content)
	if err != nil {
		return err
	}
	return s.send(line, true)
}

// SendCommand forwards a client command frame, re-tagged with its wire
// type, to the subprocess. Permission answers and tool results pass
// through untouched.
func (s *Session) SendCommand(wireType string, payload json.RawMessage) error {
	line, err := protocol.EncodeCommand(wireType, payload)
	if err != nil {
		return err
	}
	return s.send(line, false)
}

func (s *Session) send(line []byte, markBusy bool) error {
	s.mu.Lock()
	switch s.meta.Status {
	case model.SessionStatusDead:
		s.mu.Unlock()
		return model.ErrSessionDead
	case model.SessionStatusDestroyed:
		s.mu.Unlock()
		return model.ErrSessionDestroyed
	}
	s.meta.LastActiveAt = time.Now()
	if markBusy && s.meta.Status == model.SessionStatusReady {
		s.setStatusLocked(model.SessionStatusBusy)
	}
	proc := s.proc
	s.mu.Unlock()

	if err := proc.WriteLine(line); err != nil {
		// The pipe only fails once the process is gone; the wait loop
		// will mark the session dead shortly.
		return fmt.Errorf("%w: %v", model.ErrSessionDead, err)
	}
	if s.streamLog != nil {
		s.streamLog.Write(logger.DirIn, line)
	}
	return nil
}

// Interrupt cancels the agent's current turn.
func (s *Session) Interrupt() error {
	s.mu.RLock()
	status := s.meta.Status
	proc := s.proc
	s.mu.RUnlock()

	switch status {
	case model.SessionStatusDead:
		return model.ErrSessionDead
	case model.SessionStatusDestroyed:
		return model.ErrSessionDestroyed
	}
	return proc.Interrupt()
}

// Destroy kills the subprocess and drops all session state. It is
// idempotent.
func (s *Session) Destroy() {
	s.mu.Lock()
	if s.meta.Status == model.SessionStatusDestroyed {
		s.mu.Unlock()
		return
	}
	alreadyDead := s.meta.Status == model.SessionStatusDead
	s.meta.Status = model.SessionStatusDestroyed
	s.meta.PID = nil
	subs := s.takeSubscribersLocked()
	proc := s.proc
	s.mu.Unlock()

	if !alreadyDead {
		if err := proc.Kill(); err != nil {
			s.log.Warn("failed to kill process", "error", err)
		}
	}
	for _, sub := range subs {
		sub.close()
	}
	s.buf.Clear()
	if s.streamLog != nil {
		s.streamLog.Close()
	}
}

// readLoop consumes the subprocess's stdout line by line, decodes each
// line, and publishes the resulting events.
func (s *Session) readLoop() {
	scanner := bufio.NewScanner(s.proc.Stdout())
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if s.streamLog != nil {
			s.streamLog.Write(logger.DirOut, line)
		}

		ev, ok, err := protocol.DecodeLine(line)
		if err != nil {
			s.log.Warn("dropping malformed stream line", "error", err)
			continue
		}
		if !ok {
			continue
		}
		s.handleEvent(ev)
	}
	if err := scanner.Err(); err != nil {
		s.log.Warn("stdout read ended", "error", err)
	}
}

// handleEvent applies an event's side effects on the session state
// machine and publishes it.
func (s *Session) handleEvent(ev protocol.Event) {
	switch ev.Type {
	case protocol.EventSystemInit:
		init := ev.Data.(protocol.SystemInit)
		var hook func(string, string)
		s.mu.Lock()
		if init.SessionID != "" && s.meta.ConversationID != init.SessionID {
			s.meta.ConversationID = init.SessionID
			hook = s.onConversationID
		}
		if init.Model != "" {
			s.meta.Model = init.Model
		}
		s.publishLocked(ev.Type, ev.Data)
		if s.meta.Status == model.SessionStatusStarting {
			s.setStatusLocked(model.SessionStatusReady)
		}
		s.mu.Unlock()
		if hook != nil {
			hook(s.meta.ID, init.SessionID)
		}

	case protocol.EventResult:
		s.mu.Lock()
		s.meta.LastActiveAt = time.Now()
		s.publishLocked(ev.Type, ev.Data)
		if s.meta.Status == model.SessionStatusBusy {
			s.setStatusLocked(model.SessionStatusReady)
		}
		s.mu.Unlock()

	case protocol.EventPing:
		// Keepalive only; never buffered.
		s.mu.Lock()
		s.fanOutLocked(buffer.BufferedEvent{Type: protocol.EventPing, Data: ev.Data, Timestamp: time.Now()})
		s.mu.Unlock()

	default:
		s.mu.Lock()
		s.publishLocked(ev.Type, ev.Data)
		s.mu.Unlock()
	}
}

// setStatusLocked transitions the status and publishes a status event.
// Callers hold mu.
func (s *Session) setStatusLocked(status model.SessionStatus) {
	if s.meta.Status == status {
		return
	}
	s.meta.Status = status
	s.publishLocked(protocol.EventStatus, protocol.Status{Status: string(status)})
}

// publishLocked buffers an event and fans it out. Callers hold mu.
func (s *Session) publishLocked(typ protocol.EventType, data any) {
	ev := s.buf.Append(typ, data)
	s.fanOutLocked(ev)
}

// fanOutLocked delivers an event to all subscribers. A subscriber whose
// channel is full is dropped; it can catch up by reconnecting with its
// last seen event id. Callers hold mu.
func (s *Session) fanOutLocked(ev buffer.BufferedEvent) {
	for sub := range s.subscribers {
		select {
		case sub.ch <- ev:
		default:
			delete(s.subscribers, sub)
			sub.close()
			s.log.Warn("dropping slow subscriber")
		}
	}
}

// stderrLoop logs subprocess stderr output.
func (s *Session) stderrLoop() {
	scanner := bufio.NewScanner(s.proc.Stderr())
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if s.streamLog != nil {
			s.streamLog.Write(logger.DirErr, line)
		}
		s.log.Debug("agent stderr", "line", string(line))
	}
}

// waitLoop reaps the subprocess and marks the session dead.
func (s *Session) waitLoop() {
	code, err := s.proc.Wait()

	s.mu.Lock()
	if s.meta.Status == model.SessionStatusDestroyed {
		s.mu.Unlock()
		return
	}
	if err != nil {
		s.log.Error("process wait failed", "error", err)
		s.publishLocked(protocol.EventError, protocol.ErrorEvent{Message: err.Error()})
	}
	s.meta.ExitCode = &code
	s.meta.PID = nil
	s.publishLocked(protocol.EventExit, protocol.Exit{Code: code})
	s.setStatusLocked(model.SessionStatusDead)
	subs := s.takeSubscribersLocked()
	onExit := s.onExit
	s.mu.Unlock()

	s.log.Info("agent process exited", "exit_code", code)
	for _, sub := range subs {
		sub.close()
	}
	if onExit != nil {
		onExit(s.meta.ID)
	}
}

func (s *Session) takeSubscribersLocked() []*Subscriber {
	subs := make([]*Subscriber, 0, len(s.subscribers))
	for sub := range s.subscribers {
		subs = append(subs, sub)
	}
	s.subscribers = make(map[*Subscriber]struct{})
	return subs
}
