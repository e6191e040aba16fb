package quizsession

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"quiz_engine_backend/internal/model"
)

var ErrNoDraft = errors.New("quizsession: no draft")

// Draft 本地草稿：计时起点一经写入不再改变
type Draft struct {
	QuizID    string          `json:"quizId"`
	StartedAt time.Time       `json:"startedAt"`
	Answers   model.AnswerSet `json:"answers"`
}

func (d Draft) clone() Draft {
	out := d
	out.Answers = make(model.AnswerSet, len(d.Answers))
	for k, v := range d.Answers {
		out.Answers[k] = v
	}
	return out
}

// DraftStore is a durable key-value store scoped per quiz.
// Load returns ErrNoDraft when nothing is stored.
type DraftStore interface {
	Load(quizID string) (Draft, error)
	Save(quizID string, d Draft) error
	Clear(quizID string) error
}

// FileDraftStore keeps one JSON file per quiz under Dir.
type FileDraftStore struct {
	Dir string
}

func NewFileDraftStore(dir string) (*FileDraftStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	return &FileDraftStore{Dir: dir}, nil
}

func (s *FileDraftStore) path(quizID string) string {
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, quizID)
	return filepath.Join(s.Dir, "quiz-"+safe+".json")
}

func (s *FileDraftStore) Load(quizID string) (Draft, error) {
	raw, err := os.ReadFile(s.path(quizID))
	if errors.Is(err, os.ErrNotExist) {
		return Draft{}, ErrNoDraft
	}
	if err != nil {
		return Draft{}, err
	}
	var d Draft
	if err := json.Unmarshal(raw, &d); err != nil {
		return Draft{}, fmt.Errorf("corrupt draft for quiz %s: %w", quizID, err)
	}
	if d.Answers == nil {
		d.Answers = model.AnswerSet{}
	}
	return d, nil
}

// Save 先写临时文件再 rename，中途崩溃不会留下半个文件
func (s *FileDraftStore) Save(quizID string, d Draft) error {
	raw, err := json.Marshal(d)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(s.Dir, ".draft-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), s.path(quizID))
}

func (s *FileDraftStore) Clear(quizID string) error {
	err := os.Remove(s.path(quizID))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

type MemoryDraftStore struct {
	mu     sync.Mutex
	drafts map[string]Draft
}

func NewMemoryDraftStore() *MemoryDraftStore {
	return &MemoryDraftStore{drafts: map[string]Draft{}}
}

func (s *MemoryDraftStore) Load(quizID string) (Draft, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.drafts[quizID]
	if !ok {
		return Draft{}, ErrNoDraft
	}
	return d.clone(), nil
}

func (s *MemoryDraftStore) Save(quizID string, d Draft) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.drafts == nil {
		s.drafts = map[string]Draft{}
	}
	s.drafts[quizID] = d.clone()
	return nil
}

func (s *MemoryDraftStore) Clear(quizID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.drafts, quizID)
	return nil
}
