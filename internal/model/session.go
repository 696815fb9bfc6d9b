package model

import (
	"os"
	"time"
)

// SessionStatus represents the lifecycle state of an agent session.
type SessionStatus string

const (
	// SessionStatusStarting means the subprocess has been spawned but has
	// not yet emitted its init event.
	SessionStatusStarting SessionStatus = "starting"

	// SessionStatusReady means the agent is idle and accepting input.
	SessionStatusReady SessionStatus = "ready"

	// SessionStatusBusy means the agent is working on a user turn.
	SessionStatusBusy SessionStatus = "busy"

	// SessionStatusDead means the subprocess has exited. The session
	// record remains and may be resumed.
	SessionStatusDead SessionStatus = "dead"

	// SessionStatusDestroyed means the session was explicitly destroyed.
	// Terminal; the record is removed from the registry.
	SessionStatusDestroyed SessionStatus = "destroyed"
)

// Session represents an agent CLI session in the system. The id is stable
// for the session's lifetime, including across resume; the conversation id
// identifies the underlying agent conversation and permits restarting the
// subprocess without losing history.
type Session struct {
	ID               string        `json:"id"`
	Status           SessionStatus `json:"status"`
	WorkingDirectory string        `json:"working_directory"`
	ConversationID   string        `json:"conversation_id,omitempty"`
	Model            string        `json:"model,omitempty"`
	PermissionMode   string        `json:"permission_mode,omitempty"`
	PID              *int          `json:"pid,omitempty"`
	ExitCode         *int          `json:"exit_code,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
	LastActiveAt     time.Time     `json:"last_active_at"`
}

// CreateSessionRequest represents a request to create a new session.
type CreateSessionRequest struct {
	WorkingDirectory     string   `json:"working_directory"`
	Model                string   `json:"model"`
	PermissionMode       string   `json:"permission_mode"`
	SystemPrompt         string   `json:"system_prompt"`
	ResumeConversationID string   `json:"resume_conversation_id"`
	AdditionalFlags      []string `json:"additional_flags"`
	SkipPermissions      bool     `json:"dangerously_skip_permissions"`
}

// Validate checks the create request and fills in defaults. An empty
// working directory defaults to the server's current directory; a
// non-empty one must exist.
func (r *CreateSessionRequest) Validate() error {
	if r.WorkingDirectory == "" {
		wd, err := os.Getwd()
		if err != nil {
			return err
		}
		r.WorkingDirectory = wd
		return nil
	}

	info, err := os.Stat(r.WorkingDirectory)
	if err != nil {
		return ErrWorkingDirectory
	}
	if !info.IsDir() {
		return ErrWorkingDirectory
	}
	return nil
}
