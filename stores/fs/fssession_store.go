package fs

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	ab "github.com/authbridge/authbridge"
)

// SessionStore stores live session records as JSON files.
type SessionStore struct {
	StoragePath string
}

func NewSessionStore(storagePath string) *SessionStore {
	return &SessionStore{StoragePath: storagePath}
}

func (s *SessionStore) sessionPath(id string) string {
	return filepath.Join(s.StoragePath, "sessions", encodeKey(id)+".json")
}

func (s *SessionStore) Put(ctx context.Context, session *ab.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(session, "", "  ")
	if err != nil {
		return err
	}
	return writeAtomicFile(s.sessionPath(session.ID), data)
}

func (s *SessionStore) Get(ctx context.Context, id string) (*ab.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.sessionPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ab.ErrSessionNotFound
		}
		return nil, err
	}
	var session ab.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

func (s *SessionStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := os.Remove(s.sessionPath(id))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
