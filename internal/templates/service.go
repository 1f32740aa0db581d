package templates

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Templates change rarely, so the active version can be cached longer than a
// user profile.
const cacheTTL = 10 * time.Minute

var ErrInvalidType = errors.New("template type must be EMAIL or PUSH")

type store interface {
	Create(ctx context.Context, t *Template, subject, body, language string) error
	GetActiveByName(ctx context.Context, name string) (*Active, error)
	GetByID(ctx context.Context, id string) (*Template, error)
	AddVersion(ctx context.Context, templateID, subject, body, language string) (*Version, error)
	NameOf(ctx context.Context, templateID string) (string, error)
}

type Service struct {
	repo   store
	rdb    *redis.Client
	logger *zap.Logger
}

func NewService(repo store, rdb *redis.Client, logger *zap.Logger) *Service {
	return &Service{repo: repo, rdb: rdb, logger: logger}
}

func (s *Service) Create(ctx context.Context, name, typ, subject, body, language string) (*Template, error) {
	if typ != TypeEmail && typ != TypePush {
		return nil, ErrInvalidType
	}
	if language == "" {
		language = "en"
	}

	t := &Template{Name: name, Type: typ}
	if err := s.repo.Create(ctx, t, subject, body, language); err != nil {
		return nil, err
	}
	return t, nil
}

// GetActiveByName serves the lookup the gateway makes for every notification.
func (s *Service) GetActiveByName(ctx context.Context, name string) (*Active, error) {
	key := cacheKey(name)

	if raw, err := s.rdb.Get(ctx, key).Bytes(); err == nil {
		var a Active
		if err := json.Unmarshal(raw, &a); err == nil {
			return &a, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		s.logger.Warn("Template cache read failed", zap.Error(err))
	}

	a, err := s.repo.GetActiveByName(ctx, name)
	if err != nil {
		return nil, err
	}

	if raw, err := json.Marshal(a); err == nil {
		if err := s.rdb.Set(ctx, key, raw, cacheTTL).Err(); err != nil {
			s.logger.Warn("Template cache write failed", zap.Error(err))
		}
	}
	return a, nil
}

func (s *Service) GetByID(ctx context.Context, id string) (*Template, error) {
	return s.repo.GetByID(ctx, id)
}

// AddVersion publishes new content for a template and drops the stale cached
// active version.
func (s *Service) AddVersion(ctx context.Context, templateID, subject, body, language string) (*Version, error) {
	if language == "" {
		language = "en"
	}

	name, err := s.repo.NameOf(ctx, templateID)
	if err != nil {
		return nil, err
	}

	v, err := s.repo.AddVersion(ctx, templateID, subject, body, language)
	if err != nil {
		return nil, err
	}

	if err := s.rdb.Del(ctx, cacheKey(name)).Err(); err != nil {
		s.logger.Warn("Template cache invalidation failed",
			zap.String("template_name", name),
			zap.Error(err))
	}
	return v, nil
}

func cacheKey(name string) string {
	return "template:name:" + name
}
