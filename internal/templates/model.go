package templates

import "time"

const (
	TypeEmail = "EMAIL"
	TypePush  = "PUSH"
)

type Template struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Type      string    `json:"type"`
	CreatedAt time.Time `json:"created_at"`

	Versions []Version `json:"versions,omitempty"`
}

type Version struct {
	ID         string    `json:"id"`
	TemplateID string    `json:"template_id"`
	Subject    string    `json:"subject"`
	Body       string    `json:"body"`
	Language   string    `json:"language"`
	Version    int       `json:"version"`
	IsActive   bool      `json:"is_active"`
	CreatedAt  time.Time `json:"created_at"`
}

// Active is the flattened shape the gateway consumes: the active version's
// content plus the parent template's name and type.
type Active struct {
	ID         string `json:"id"`
	TemplateID string `json:"template_id"`
	Name       string `json:"name"`
	Type       string `json:"type"`
	Subject    string `json:"subject"`
	Body       string `json:"body"`
	Language   string `json:"language"`
	Version    int    `json:"version"`
}
