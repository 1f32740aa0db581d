package client

import (
	"context"
	"fmt"
	"net/http"

	"notifier/pkg/circuitbreaker"
)

// NotificationPreference mirrors the user service's preference record.
// Pointers distinguish "not set" from an explicit false; an unset channel
// counts as enabled.
type NotificationPreference struct {
	EmailEnabled *bool `json:"email_enabled"`
	PushEnabled  *bool `json:"push_enabled"`
}

type PushToken struct {
	Token string `json:"token"`
}

type UserProfile struct {
	ID                     string                  `json:"id"`
	Email                  string                  `json:"email"`
	FirstName              string                  `json:"first_name"`
	NotificationPreference *NotificationPreference `json:"notification_preference"`
	PushTokens             []PushToken             `json:"push_tokens"`
}

// EmailAllowed reports whether the user accepts email notifications.
func (u *UserProfile) EmailAllowed() bool {
	return u.NotificationPreference == nil ||
		u.NotificationPreference.EmailEnabled == nil ||
		*u.NotificationPreference.EmailEnabled
}

// PushAllowed reports whether the user accepts push notifications.
func (u *UserProfile) PushAllowed() bool {
	return u.NotificationPreference == nil ||
		u.NotificationPreference.PushEnabled == nil ||
		*u.NotificationPreference.PushEnabled
}

// UserClient fetches user profiles from the user service through its own
// circuit breaker.
type UserClient struct {
	baseURL    string
	breaker    *circuitbreaker.Breaker
	httpClient *http.Client
}

func NewUserClient(baseURL string, breaker *circuitbreaker.Breaker) *UserClient {
	return &UserClient{
		baseURL:    baseURL,
		breaker:    breaker,
		httpClient: newHTTPClient(),
	}
}

func (c *UserClient) GetUser(ctx context.Context, userID string) (*UserProfile, error) {
	var user UserProfile
	url := fmt.Sprintf("%s/api/v1/users/%s", c.baseURL, userID)
	if err := fetch(ctx, c.httpClient, c.breaker, url, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

func (c *UserClient) Breaker() *circuitbreaker.Breaker { return c.breaker }
