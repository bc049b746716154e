package storage

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "alarmd/pkg/logx"
)

// fileStore appends audit entries to a JSON Lines file.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex
	f  *os.File
}

type fileRecord struct {
	At      string `json:"at"`
	Kind    string `json:"kind"`
	AlarmID int    `json:"alarm_id,omitempty"`
	Group   int    `json:"group,omitempty"`
	OK      bool   `json:"ok"`
	Note    string `json:"note,omitempty"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	return &fileStore{log: log, f: f}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

func (s *fileStore) Append(ctx context.Context, e Entry) error {
	_ = ctx
	if e.At.IsZero() {
		e.At = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return errors.New("audit file closed")
	}
	return json.NewEncoder(s.f).Encode(fileRecord{
		At:      e.At.Format(time.RFC3339),
		Kind:    e.Kind,
		AlarmID: e.AlarmID,
		Group:   e.Group,
		OK:      e.OK,
		Note:    e.Note,
	})
}
