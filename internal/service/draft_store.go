package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"quiz_engine_backend/internal/model"
	"quiz_engine_backend/internal/util"

	"github.com/go-redis/redis/v8"
)

// DraftMirror 服务端草稿存储，键为 (quiz, learner)
type DraftMirror interface {
	Load(ctx context.Context, quizID string, userID uint) (*model.QuizDraft, error)
	Save(ctx context.Context, draft *model.QuizDraft, ttl time.Duration) error
	Clear(ctx context.Context, quizID string, userID uint) error
}

const draftKeyPrefix = "quiz_draft:"

func draftKey(quizID string, userID uint) string {
	return fmt.Sprintf("%s%s:%d", draftKeyPrefix, quizID, userID)
}

type RedisDraftStore struct {
	Redis *redis.Client
}

func NewRedisDraftStore(rdb *redis.Client) *RedisDraftStore {
	return &RedisDraftStore{Redis: rdb}
}

func (s *RedisDraftStore) Load(ctx context.Context, quizID string, userID uint) (*model.QuizDraft, error) {
	val, err := s.Redis.Get(ctx, draftKey(quizID, userID)).Result()
	if err == redis.Nil {
		return nil, util.ErrDraftNotFound
	}
	if err != nil {
		return nil, util.Transient(err)
	}
	var draft model.QuizDraft
	if err := json.Unmarshal([]byte(val), &draft); err != nil {
		return nil, err
	}
	return &draft, nil
}

func (s *RedisDraftStore) Save(ctx context.Context, draft *model.QuizDraft, ttl time.Duration) error {
	raw, err := json.Marshal(draft)
	if err != nil {
		return err
	}
	if err := s.Redis.Set(ctx, draftKey(draft.QuizID, draft.UserID), raw, ttl).Err(); err != nil {
		return util.Transient(err)
	}
	return nil
}

func (s *RedisDraftStore) Clear(ctx context.Context, quizID string, userID uint) error {
	if err := s.Redis.Del(ctx, draftKey(quizID, userID)).Err(); err != nil {
		return util.Transient(err)
	}
	return nil
}

type memoryDraft struct {
	draft     model.QuizDraft
	expiresAt time.Time
}

// MemoryDraftStore 未启用 Redis 时的单实例实现
type MemoryDraftStore struct {
	mu    sync.Mutex
	items map[string]memoryDraft
	Now   func() time.Time
}

func NewMemoryDraftStore() *MemoryDraftStore {
	return &MemoryDraftStore{items: map[string]memoryDraft{}, Now: time.Now}
}

func (s *MemoryDraftStore) Load(ctx context.Context, quizID string, userID uint) (*model.QuizDraft, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := draftKey(quizID, userID)
	item, ok := s.items[key]
	if !ok {
		return nil, util.ErrDraftNotFound
	}
	if !item.expiresAt.IsZero() && !s.Now().Before(item.expiresAt) {
		delete(s.items, key)
		return nil, util.ErrDraftNotFound
	}
	d := item.draft
	d.Answers = cloneAnswers(item.draft.Answers)
	return &d, nil
}

func (s *MemoryDraftStore) Save(ctx context.Context, draft *model.QuizDraft, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item := memoryDraft{draft: *draft}
	item.draft.Answers = cloneAnswers(draft.Answers)
	if ttl > 0 {
		item.expiresAt = s.Now().Add(ttl)
	}
	s.items[draftKey(draft.QuizID, draft.UserID)] = item
	return nil
}

func (s *MemoryDraftStore) Clear(ctx context.Context, quizID string, userID uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, draftKey(quizID, userID))
	return nil
}

func cloneAnswers(in model.AnswerSet) model.AnswerSet {
	out := make(model.AnswerSet, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
