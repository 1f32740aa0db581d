package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	contracts "notifier/contracts/mq"
	"notifier/internal/gateway/client"
	"notifier/internal/mq"
)

type fakeUsers struct {
	user *client.UserProfile
	err  error
}

func (f *fakeUsers) GetUser(ctx context.Context, userID string) (*client.UserProfile, error) {
	return f.user, f.err
}

type fakeTemplates struct {
	tmpl *client.Template
	err  error
}

func (f *fakeTemplates) GetByName(ctx context.Context, name string) (*client.Template, error) {
	return f.tmpl, f.err
}

type published struct {
	routingKey    string
	payload       any
	messageID     string
	correlationID string
}

type fakePublisher struct {
	messages []published
	failFor  map[string]error
}

func (f *fakePublisher) Publish(ctx context.Context, routingKey string, payload any, messageID, correlationID string) error {
	if err, ok := f.failFor[messageID]; ok {
		return err
	}
	f.messages = append(f.messages, published{routingKey, payload, messageID, correlationID})
	return nil
}

func boolPtr(b bool) *bool { return &b }

func newTestDispatcher(users *fakeUsers, templates *fakeTemplates, pub *fakePublisher) *Dispatcher {
	d := NewDispatcher(users, templates, pub, 8, zap.NewNop())
	d.newID = func() string { return "corr-1" }
	return d
}

func emailTemplate() *client.Template {
	return &client.Template{
		Name:    "welcome_email",
		Type:    client.TemplateTypeEmail,
		Subject: "Welcome {{first_name}}",
		Body:    "<p>Hello</p>",
	}
}

func pushTemplate() *client.Template {
	return &client.Template{
		Name:    "alert_push",
		Type:    client.TemplateTypePush,
		Subject: "Alert",
		Body:    "Something happened",
	}
}

func TestDispatchEmailQueued(t *testing.T) {
	users := &fakeUsers{user: &client.UserProfile{Email: "ada@example.com", FirstName: "Ada"}}
	pub := &fakePublisher{}
	d := newTestDispatcher(users, &fakeTemplates{tmpl: emailTemplate()}, pub)

	res, err := d.Dispatch(context.Background(), Request{
		UserID:       "u-1",
		TemplateName: "welcome_email",
		Variables:    map[string]string{"first_name": "Ada"},
	})
	require.NoError(t, err)

	assert.Equal(t, "corr-1", res.CorrelationID)
	require.Len(t, pub.messages, 1)
	m := pub.messages[0]
	assert.Equal(t, mq.EmailQueue, m.routingKey)
	assert.Equal(t, "corr-1", m.messageID)
	assert.Equal(t, "corr-1", m.correlationID)

	email, ok := m.payload.(contracts.EmailMessage)
	require.True(t, ok)
	assert.Equal(t, "ada@example.com", email.User.Email)
	assert.Equal(t, "Welcome {{first_name}}", email.Template.Subject)
	assert.Equal(t, map[string]string{"first_name": "Ada"}, email.Variables)
}

func TestDispatchPushFansOutPerToken(t *testing.T) {
	users := &fakeUsers{user: &client.UserProfile{
		Email: "ada@example.com",
		PushTokens: []client.PushToken{
			{Token: "token-aaaaaaaa"},
			{Token: "token-bbbbbbbb"},
			{Token: "short"},
		},
	}}
	pub := &fakePublisher{}
	d := newTestDispatcher(users, &fakeTemplates{tmpl: pushTemplate()}, pub)

	res, err := d.Dispatch(context.Background(), Request{UserID: "u-1", TemplateName: "alert_push"})
	require.NoError(t, err)
	assert.Contains(t, res.Message, "3 device(s)")

	require.Len(t, pub.messages, 3)
	ids := map[string]bool{}
	for _, m := range pub.messages {
		assert.Equal(t, mq.PushQueue, m.routingKey)
		assert.Equal(t, "corr-1", m.correlationID)
		ids[m.messageID] = true
	}
	assert.Len(t, ids, 3, "each device gets a distinct message id")
	assert.True(t, ids["corr-1-token-aa"])
	assert.True(t, ids["corr-1-short"])
}

func TestDispatchPushNoTokensSkips(t *testing.T) {
	users := &fakeUsers{user: &client.UserProfile{Email: "ada@example.com"}}
	pub := &fakePublisher{}
	d := newTestDispatcher(users, &fakeTemplates{tmpl: pushTemplate()}, pub)

	res, err := d.Dispatch(context.Background(), Request{UserID: "u-1", TemplateName: "alert_push"})
	require.NoError(t, err)

	assert.Contains(t, res.Message, "no push tokens")
	assert.Empty(t, pub.messages)
}

func TestDispatchPreferenceRouting(t *testing.T) {
	tests := []struct {
		name    string
		pref    *client.NotificationPreference
		tmpl    *client.Template
		queued  bool
	}{
		{"email disabled blocks email", &client.NotificationPreference{EmailEnabled: boolPtr(false)}, emailTemplate(), false},
		{"push disabled blocks push", &client.NotificationPreference{PushEnabled: boolPtr(false)}, pushTemplate(), false},
		{"unset preference allows email", nil, emailTemplate(), true},
		{"explicit enable allows email", &client.NotificationPreference{EmailEnabled: boolPtr(true)}, emailTemplate(), true},
		{"push pref does not affect email", &client.NotificationPreference{PushEnabled: boolPtr(false)}, emailTemplate(), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			users := &fakeUsers{user: &client.UserProfile{
				Email:                  "ada@example.com",
				NotificationPreference: tt.pref,
				PushTokens:             []client.PushToken{{Token: "token-aaaaaaaa"}},
			}}
			pub := &fakePublisher{}
			d := newTestDispatcher(users, &fakeTemplates{tmpl: tt.tmpl}, pub)

			_, err := d.Dispatch(context.Background(), Request{UserID: "u-1", TemplateName: tt.tmpl.Name})
			if tt.queued {
				require.NoError(t, err)
				assert.Len(t, pub.messages, 1)
			} else {
				assert.ErrorIs(t, err, ErrNotEnabled)
				assert.Empty(t, pub.messages)
			}
		})
	}
}

func TestDispatchUnknownTemplateTypeNotEnabled(t *testing.T) {
	users := &fakeUsers{user: &client.UserProfile{Email: "ada@example.com"}}
	pub := &fakePublisher{}
	tmpl := &client.Template{Name: "weird", Type: "SMS"}
	d := newTestDispatcher(users, &fakeTemplates{tmpl: tmpl}, pub)

	_, err := d.Dispatch(context.Background(), Request{UserID: "u-1", TemplateName: "weird"})
	assert.ErrorIs(t, err, ErrNotEnabled)
}

func TestDispatchUserLookupFailure(t *testing.T) {
	users := &fakeUsers{err: client.ErrUnavailable}
	pub := &fakePublisher{}
	d := newTestDispatcher(users, &fakeTemplates{tmpl: emailTemplate()}, pub)

	_, err := d.Dispatch(context.Background(), Request{UserID: "u-1", TemplateName: "welcome_email"})
	assert.ErrorIs(t, err, client.ErrUnavailable)
	assert.Empty(t, pub.messages)
}

func TestDispatchPushPartialPublishFailure(t *testing.T) {
	users := &fakeUsers{user: &client.UserProfile{
		PushTokens: []client.PushToken{
			{Token: "token-aaaaaaaa"},
			{Token: "token-bbbbbbbb"},
		},
	}}
	pub := &fakePublisher{failFor: map[string]error{
		"corr-1-token-aa": errors.New("channel closed"),
	}}
	d := newTestDispatcher(users, &fakeTemplates{tmpl: pushTemplate()}, pub)

	res, err := d.Dispatch(context.Background(), Request{UserID: "u-1", TemplateName: "alert_push"})
	require.NoError(t, err)

	// The surviving token still goes out.
	assert.Contains(t, res.Message, "1 device(s)")
	require.Len(t, pub.messages, 1)
	assert.Equal(t, "corr-1-token-bb", pub.messages[0].messageID)
}

func TestDispatchPushAllPublishesFail(t *testing.T) {
	users := &fakeUsers{user: &client.UserProfile{
		PushTokens: []client.PushToken{{Token: "token-aaaaaaaa"}},
	}}
	pub := &fakePublisher{failFor: map[string]error{
		"corr-1-token-aa": errors.New("channel closed"),
	}}
	d := newTestDispatcher(users, &fakeTemplates{tmpl: pushTemplate()}, pub)

	_, err := d.Dispatch(context.Background(), Request{UserID: "u-1", TemplateName: "alert_push"})
	assert.Error(t, err)
}
