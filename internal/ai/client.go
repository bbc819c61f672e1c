// Package ai talks to an OpenAI-compatible API for chat completion and text
// embedding. One client is constructed at startup with its config bound and
// is injected into every component that needs a model call; there is no
// process-wide shared instance.
package ai

import (
	"net/http"
	"time"
)

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Config struct {
	BaseURL        string
	APIKey         string
	ChatModel      string
	EmbeddingModel string
}

type Client struct {
	cfg        Config
	httpClient *http.Client
}

func NewClient(cfg Config) *Client {
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 90 * time.Second},
	}
}

// EmbeddingModelName identifies the embedding model so indexes can record
// the version they were built under.
func (c *Client) EmbeddingModelName() string {
	return c.cfg.EmbeddingModel
}
