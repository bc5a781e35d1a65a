package openai

import (
	"context"
	"fmt"
	"log"
	"net/http"

	openai "github.com/sashabaranov/go-openai"
)

type Config struct {
	Debug  bool
	Token  string
	Model  string
	Client *http.Client
}

type Client struct {
	client *openai.Client
	model  string
	debug  bool
}

func New(cfg *Config) *Client {
	model := cfg.Model
	if model == "" {
		model = openai.GPT4oMini
	}
	clientCfg := openai.DefaultConfig(cfg.Token)
	if cfg.Client != nil {
		clientCfg.HTTPClient = cfg.Client
	}
	return &Client{
		client: openai.NewClientWithConfig(clientCfg),
		model:  model,
		debug:  cfg.Debug,
	}
}

// ChatCompletion sends a single user message and returns the assistant
// reply.
func (c *Client) ChatCompletion(ctx context.Context, msg string) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleUser,
				Content: msg,
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("openai: couldn't create chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai: empty chat completion response")
	}
	content := resp.Choices[0].Message.Content
	if c.debug {
		log.Println("openai:", content)
	}
	return content, nil
}
