package client

import (
	"context"
	"fmt"
	"net/http"

	"notifier/pkg/circuitbreaker"
)

const (
	TemplateTypeEmail = "EMAIL"
	TemplateTypePush  = "PUSH"
)

type Template struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Subject  string `json:"subject"`
	Body     string `json:"body"`
	Language string `json:"language"`
}

// TemplateClient fetches the active version of a named template from the
// template service through its own circuit breaker.
type TemplateClient struct {
	baseURL    string
	breaker    *circuitbreaker.Breaker
	httpClient *http.Client
}

func NewTemplateClient(baseURL string, breaker *circuitbreaker.Breaker) *TemplateClient {
	return &TemplateClient{
		baseURL:    baseURL,
		breaker:    breaker,
		httpClient: newHTTPClient(),
	}
}

func (c *TemplateClient) GetByName(ctx context.Context, name string) (*Template, error) {
	var tmpl Template
	url := fmt.Sprintf("%s/api/v1/templates/name/%s", c.baseURL, name)
	if err := fetch(ctx, c.httpClient, c.breaker, url, &tmpl); err != nil {
		return nil, err
	}
	return &tmpl, nil
}

func (c *TemplateClient) Breaker() *circuitbreaker.Breaker { return c.breaker }
