package users

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"notifier/pkg/util"
)

const cacheTTL = 5 * time.Minute

var ErrInvalidCredentials = errors.New("invalid email or password")

type store interface {
	Create(ctx context.Context, u *User) error
	FindByEmail(ctx context.Context, email string) (*User, error)
	GetByID(ctx context.Context, id string) (*User, error)
	UpsertPreferences(ctx context.Context, p *NotificationPreference) error
	AddPushToken(ctx context.Context, t *PushToken) error
	DeletePushToken(ctx context.Context, userID, tokenID string) error
}

// Service owns user accounts, their notification preferences and device
// tokens. Profile reads are cache-aside in Redis; every write that changes
// what the gateway would see invalidates the cached profile.
type Service struct {
	repo      store
	rdb       *redis.Client
	jwtSecret string
	logger    *zap.Logger
}

func NewService(repo store, rdb *redis.Client, jwtSecret string, logger *zap.Logger) *Service {
	return &Service{
		repo:      repo,
		rdb:       rdb,
		jwtSecret: jwtSecret,
		logger:    logger,
	}
}

func (s *Service) Register(ctx context.Context, email, password, firstName, lastName string) (*User, error) {
	if _, err := s.repo.FindByEmail(ctx, email); err == nil {
		return nil, ErrEmailTaken
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	hash, err := util.HashPassword(password)
	if err != nil {
		return nil, err
	}

	u := &User{
		Email:        email,
		PasswordHash: hash,
		FirstName:    firstName,
		LastName:     lastName,
	}
	if err := s.repo.Create(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

func (s *Service) Login(ctx context.Context, email, password string) (string, error) {
	u, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		return "", ErrInvalidCredentials
	}
	if !util.CheckPassword(password, u.PasswordHash) {
		return "", ErrInvalidCredentials
	}
	return util.GenerateJWT(u.ID, s.jwtSecret)
}

// GetUser serves the profile the gateway resolves notifications against.
func (s *Service) GetUser(ctx context.Context, id string) (*User, error) {
	key := cacheKey(id)

	if raw, err := s.rdb.Get(ctx, key).Bytes(); err == nil {
		var u User
		if err := json.Unmarshal(raw, &u); err == nil {
			return &u, nil
		}
		// Unreadable cache entry, fall through to the database.
	} else if !errors.Is(err, redis.Nil) {
		s.logger.Warn("User cache read failed", zap.Error(err))
	}

	u, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if raw, err := json.Marshal(u); err == nil {
		if err := s.rdb.Set(ctx, key, raw, cacheTTL).Err(); err != nil {
			s.logger.Warn("User cache write failed", zap.Error(err))
		}
	}
	return u, nil
}

func (s *Service) UpdatePreferences(ctx context.Context, userID string, emailEnabled, pushEnabled *bool) (*NotificationPreference, error) {
	u, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	p := &NotificationPreference{UserID: userID, EmailEnabled: true, PushEnabled: true}
	if u.NotificationPreference != nil {
		*p = *u.NotificationPreference
	}
	if emailEnabled != nil {
		p.EmailEnabled = *emailEnabled
	}
	if pushEnabled != nil {
		p.PushEnabled = *pushEnabled
	}

	if err := s.repo.UpsertPreferences(ctx, p); err != nil {
		return nil, err
	}
	s.invalidate(ctx, userID)
	return p, nil
}

func (s *Service) AddPushToken(ctx context.Context, userID, token, deviceType, deviceName string) (*PushToken, error) {
	if _, err := s.repo.GetByID(ctx, userID); err != nil {
		return nil, err
	}

	t := &PushToken{
		UserID:     userID,
		Token:      token,
		DeviceType: deviceType,
		DeviceName: deviceName,
	}
	if err := s.repo.AddPushToken(ctx, t); err != nil {
		return nil, err
	}
	s.invalidate(ctx, userID)
	return t, nil
}

func (s *Service) DeletePushToken(ctx context.Context, userID, tokenID string) error {
	if err := s.repo.DeletePushToken(ctx, userID, tokenID); err != nil {
		return err
	}
	s.invalidate(ctx, userID)
	return nil
}

func (s *Service) invalidate(ctx context.Context, userID string) {
	if err := s.rdb.Del(ctx, cacheKey(userID)).Err(); err != nil {
		s.logger.Warn("User cache invalidation failed",
			zap.String("user_id", userID),
			zap.Error(err))
	}
}

func cacheKey(userID string) string {
	return "user:" + userID
}
