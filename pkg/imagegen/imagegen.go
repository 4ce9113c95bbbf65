// Package imagegen renders best-effort scene illustrations for turns that
// are visually novel. It consumes turn events off the bus and publishes its
// own status events; it can lag or fail without ever touching the chat turn
// that triggered it.
package imagegen

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	openai "github.com/sashabaranov/go-openai"

	"github.com/grimoire-games/oubliette/pkg/session"
)

// Trigger decides whether a turn warrants an illustration: a new location or
// a fresh discovery. Everything else is skipped — image generation is the
// most expensive call in the system.
func Trigger(ev session.TurnCompleted) bool {
	return ev.LocationChanged || len(ev.NewDiscoveries) > 0
}

// Prompt builds the illustration prompt for a turn.
func Prompt(ev session.TurnCompleted) string {
	var sb strings.Builder
	sb.WriteString("Dark fantasy dungeon illustration, ink and watercolor. Scene: ")
	sb.WriteString(ev.Location)
	if len(ev.NewDiscoveries) > 0 {
		sb.WriteString(". Newly found: ")
		sb.WriteString(strings.Join(ev.NewDiscoveries, ", "))
	}
	sb.WriteString(". No text, no UI.")
	return sb.String()
}

// Generator produces one image for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (imageB64 string, err error)
}

// OpenAIGenerator renders scenes with the images API.
type OpenAIGenerator struct {
	api   *openai.Client
	model string
}

var _ Generator = &OpenAIGenerator{}

func NewOpenAIGenerator(apiKey, model string) (*OpenAIGenerator, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("imagegen: empty api key")
	}
	if strings.TrimSpace(model) == "" {
		model = openai.CreateImageModelDallE3
	}
	return &OpenAIGenerator{api: openai.NewClient(apiKey), model: model}, nil
}

func (g *OpenAIGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := g.api.CreateImage(ctx, openai.ImageRequest{
		Prompt:         prompt,
		Model:          g.model,
		N:              1,
		Size:           openai.CreateImageSize1024x1024,
		ResponseFormat: openai.CreateImageResponseFormatB64JSON,
	})
	if err != nil {
		return "", errors.Wrap(err, "imagegen: create image")
	}
	if len(resp.Data) == 0 {
		return "", errors.New("imagegen: empty image response")
	}
	if resp.Data[0].B64JSON == "" {
		return "", fmt.Errorf("imagegen: no inline payload, got url %q", resp.Data[0].URL)
	}
	return resp.Data[0].B64JSON, nil
}
