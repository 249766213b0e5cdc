// Package openai adapts the upstream image model API to the dispatcher's
// needs: one client per pooled credential, base64 payloads decoded to raw
// PNG bytes.
package openai

import (
	"bytes"
	"context"
	"encoding/base64"

	"github.com/sashabaranov/go-openai"

	"rizo-card-bot/internal/domain/card"
	"rizo-card-bot/internal/domain/credential"
	"rizo-card-bot/internal/platform/errors"
)

// Config carries the upstream connection settings.
type Config struct {
	BaseURL string
	Model   string
}

// Client implements the dispatcher's upstream contract. Clients are
// built once per credential at startup, so credential rotation is a map
// lookup instead of a reconnect.
type Client struct {
	clients map[credential.Credential]*openai.Client
	model   string
}

// New builds a client set covering every pooled credential.
func New(cfg Config, creds []credential.Credential) (*Client, error) {
	if len(creds) == 0 {
		return nil, errors.New(errors.KindBootstrap, "openai.New",
			"at least one credential is required")
	}
	model := cfg.Model
	if model == "" {
		model = "gpt-image-1"
	}

	clients := make(map[credential.Credential]*openai.Client, len(creds))
	for _, cred := range creds {
		clientCfg := openai.DefaultConfig(string(cred))
		if cfg.BaseURL != "" {
			clientCfg.BaseURL = cfg.BaseURL
		}
		clients[cred] = openai.NewClientWithConfig(clientCfg)
	}
	return &Client{clients: clients, model: model}, nil
}

func (c *Client) clientFor(cred credential.Credential) (*openai.Client, error) {
	client, ok := c.clients[cred]
	if !ok {
		return nil, errors.New(errors.KindUpstream, "openai.clientFor",
			"credential is not in the configured pool")
	}
	return client, nil
}

// EditImage sends the meme as the base image for an edit-style render.
func (c *Client) EditImage(ctx context.Context, cred credential.Credential, meme []byte, prompt string, size card.Size) ([]byte, error) {
	client, err := c.clientFor(cred)
	if err != nil {
		return nil, err
	}

	req := openai.ImageEditRequest{
		Image:  openai.WrapReader(bytes.NewReader(meme), "meme.png", "image/png"),
		Prompt: prompt,
		Model:  c.model,
		Size:   size.String(),
		N:      1,
	}
	resp, err := client.CreateEditImage(ctx, req)
	if err != nil {
		return nil, errors.Wrap(errors.KindUpstream, "openai.EditImage",
			"image edit call failed", err)
	}
	return decodeFirst(resp, "openai.EditImage")
}

// GenerateImage renders a card from the prompt alone.
func (c *Client) GenerateImage(ctx context.Context, cred credential.Credential, prompt string, size card.Size) ([]byte, error) {
	client, err := c.clientFor(cred)
	if err != nil {
		return nil, err
	}

	req := openai.ImageRequest{
		Prompt: prompt,
		Model:  c.model,
		Size:   size.String(),
		N:      1,
	}
	resp, err := client.CreateImage(ctx, req)
	if err != nil {
		return nil, errors.Wrap(errors.KindUpstream, "openai.GenerateImage",
			"image generate call failed", err)
	}
	return decodeFirst(resp, "openai.GenerateImage")
}

func decodeFirst(resp openai.ImageResponse, op string) ([]byte, error) {
	if len(resp.Data) == 0 {
		return nil, errors.New(errors.KindUpstream, op, "empty image response")
	}
	if resp.Data[0].B64JSON == "" {
		return nil, errors.New(errors.KindUpstream, op, "response carries no image payload")
	}
	raw, err := base64.StdEncoding.DecodeString(resp.Data[0].B64JSON)
	if err != nil {
		return nil, errors.Wrap(errors.KindUpstream, op, "decode image payload", err)
	}
	return raw, nil
}
