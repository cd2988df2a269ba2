package supervisor

import (
	"fmt"
	"time"

	"github.com/agusx1211/spindle/internal/hexid"
	"github.com/agusx1211/spindle/internal/spool"
)

// Respin continues an earlier session with a follow-up prompt. The harness
// is determined by the most recent spool carrying the session id; the
// continuation is a fresh spool linked to that ancestor via retry_of. When
// the child later fails with the harness's expired-session signature, the
// monitor re-spawns it with the saved transcript injected into the prompt.
func (s *Supervisor) Respin(sessionID, prompt string) (string, error) {
	if sessionID == "" {
		return "", fmt.Errorf("session_id required")
	}
	original, err := s.store.FindBySession(sessionID)
	if err != nil {
		return "", fmt.Errorf("no spool with session %q", sessionID)
	}
	h, err := s.registry.Get(original.Harness)
	if err != nil {
		return "", err
	}

	if err := s.gate.admit(); err != nil {
		return "", err
	}

	id := hexid.NewPrefixed(h.IDPrefix())
	sp := &spool.Spool{
		ID:         id,
		Harness:    original.Harness,
		Status:     spool.StatusPending,
		Prompt:     prompt,
		WorkingDir: original.WorkingDir,
		Permission: original.Permission,
		Model:      original.Model,
		SessionID:  sessionID,
		RetryOf:    original.ID,
		CreatedAt:  time.Now(),
		StdoutPath: s.store.StdoutPath(id),
		StderrPath: s.store.StderrPath(id),
	}

	if err := s.store.Put(sp); err != nil {
		s.gate.abort()
		return "", err
	}

	return s.spawn(sp, h.ResumeCommand(sessionID, prompt))
}
