package podcast

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zhouzirui/z-podcast/backend/internal/model/podcast"
)

var (
	ErrPodcastNotFound = errors.New("podcast not found")
	ErrTitleRequired   = errors.New("podcast title is required")
	ErrDuplicateID     = errors.New("podcast id already exists")
)

// Service is the in-memory podcast catalog.
type Service struct {
	mu       sync.RWMutex
	podcasts map[string]podcast.Podcast
	now      func() time.Time
}

// NewService creates an empty catalog.
func NewService() *Service {
	return &Service{
		podcasts: make(map[string]podcast.Podcast),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Create 新增节目，未给出 ID 时自动生成。
func (s *Service) Create(_ context.Context, p podcast.Podcast) (podcast.Podcast, error) {
	if strings.TrimSpace(p.Title) == "" {
		return podcast.Podcast{}, ErrTitleRequired
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.podcasts[p.ID]; exists {
		return podcast.Podcast{}, ErrDuplicateID
	}
	s.podcasts[p.ID] = p
	return p, nil
}

// List 按创建顺序返回所有节目。
func (s *Service) List(_ context.Context) []podcast.Podcast {
	s.mu.RLock()
	out := make([]podcast.Podcast, 0, len(s.podcasts))
	for _, p := range s.podcasts {
		out = append(out, p)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (s *Service) Get(_ context.Context, id string) (podcast.Podcast, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.podcasts[id]
	if !ok {
		return podcast.Podcast{}, ErrPodcastNotFound
	}
	return p, nil
}

// Update 只覆盖给出的字段。
func (s *Service) Update(_ context.Context, id string, u podcast.Update) (podcast.Podcast, error) {
	if u.Title != nil && strings.TrimSpace(*u.Title) == "" {
		return podcast.Podcast{}, ErrTitleRequired
	}
	return s.mutate(id, u.Apply)
}

func (s *Service) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.podcasts[id]; !ok {
		return ErrPodcastNotFound
	}
	delete(s.podcasts, id)
	return nil
}

// Like increments the like counter.
func (s *Service) Like(_ context.Context, id string) (podcast.Podcast, error) {
	return s.mutate(id, func(p *podcast.Podcast) { p.Likes++ })
}

// AddComment increments the comment counter.
func (s *Service) AddComment(_ context.Context, id string) (podcast.Podcast, error) {
	return s.mutate(id, func(p *podcast.Podcast) { p.Comments++ })
}

// Seed 目录为空时写入默认节目，返回写入数量。
func (s *Service) Seed(_ context.Context) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.podcasts) > 0 {
		return 0
	}

	base := s.now()
	defaults := podcast.Defaults()
	for i, p := range defaults {
		// 保持默认顺序
		p.CreatedAt = base.Add(time.Duration(i) * time.Millisecond)
		s.podcasts[p.ID] = p
	}
	return len(defaults)
}

func (s *Service) mutate(id string, fn func(*podcast.Podcast)) (podcast.Podcast, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.podcasts[id]
	if !ok {
		return podcast.Podcast{}, ErrPodcastNotFound
	}
	fn(&p)
	s.podcasts[p.ID] = p
	return p, nil
}
