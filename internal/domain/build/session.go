package build

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/cellar/internal/domain/formula"
)

// Session directory names.
const (
	sessionSourceDir = "src"
	sessionStageDir  = "stage"
	sessionLogDir    = "logs"
)

// Session is the private working directory of one install attempt:
//
//	<tmp>/<name>-<uuid>/
//	  src/    unpacked archive, cwd of every build step
//	  stage/  {{prefix}} during the build
//	  logs/   one captured output file per step
//
// A session is owned by a single worker.
type Session struct {
	id         string
	descriptor formula.Descriptor
	path       string
	failed     bool
	reason     string
}

// NewSession creates a fresh session directory below tmpRoot.
func NewSession(tmpRoot string, d formula.Descriptor) (*Session, error) {
	id := uuid.New().String()
	s := &Session{
		id:         id,
		descriptor: d,
		path:       filepath.Join(tmpRoot, d.Name()+"-"+id),
	}
	for _, dir := range []string{s.SourceDir(), s.StageDir(), s.LogDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			_ = os.RemoveAll(s.path)
			return nil, fmt.Errorf("create session directory: %w", err)
		}
	}
	return s, nil
}

// ID returns the session's unique identifier.
func (s *Session) ID() string { return s.id }

// Descriptor returns the formula being built.
func (s *Session) Descriptor() formula.Descriptor { return s.descriptor }

// Path returns the session root directory.
func (s *Session) Path() string { return s.path }

// SourceDir returns the directory holding the unpacked sources.
func (s *Session) SourceDir() string { return filepath.Join(s.path, sessionSourceDir) }

// StageDir returns the build's install destination.
func (s *Session) StageDir() string { return filepath.Join(s.path, sessionStageDir) }

// LogDir returns the directory of per-step logs.
func (s *Session) LogDir() string { return filepath.Join(s.path, sessionLogDir) }

// MarkFailed records that the session ended in failure.
func (s *Session) MarkFailed(reason string) {
	s.failed = true
	s.reason = reason
}

// Failed reports whether MarkFailed was called.
func (s *Session) Failed() bool { return s.failed }

// FailureReason returns the reason given to MarkFailed.
func (s *Session) FailureReason() string { return s.reason }

// Remove deletes the session directory.
func (s *Session) Remove() error {
	return os.RemoveAll(s.path)
}
