package narrator

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	openai "github.com/sashabaranov/go-openai"
)

// OpenAIClient adapts the OpenAI assistants API (threads, messages, runs) to
// the Client interface.
type OpenAIClient struct {
	api *openai.Client
}

var _ Client = &OpenAIClient{}

func NewOpenAIClient(apiKey string) (*OpenAIClient, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("narrator: empty api key")
	}
	return &OpenAIClient{api: openai.NewClient(apiKey)}, nil
}

func (c *OpenAIClient) CreateThread(ctx context.Context) (string, error) {
	thread, err := c.api.CreateThread(ctx, openai.ThreadRequest{})
	if err != nil {
		return "", errors.Wrap(err, "narrator: create thread")
	}
	return thread.ID, nil
}

func (c *OpenAIClient) ActiveRun(ctx context.Context, threadID string) (Run, bool, error) {
	limit := 1
	order := "desc"
	list, err := c.api.ListRuns(ctx, threadID, openai.Pagination{Limit: &limit, Order: &order})
	if err != nil {
		return Run{}, false, errors.Wrap(err, "narrator: list runs")
	}
	if len(list.Runs) == 0 {
		return Run{}, false, nil
	}
	latest := list.Runs[0]
	return Run{ID: latest.ID, Status: RunStatus(latest.Status)}, true, nil
}

func (c *OpenAIClient) AppendMessage(ctx context.Context, threadID, text string) error {
	_, err := c.api.CreateMessage(ctx, threadID, openai.MessageRequest{
		Role:    openai.ChatMessageRoleUser,
		Content: text,
	})
	return errors.Wrap(err, "narrator: append message")
}

func (c *OpenAIClient) StartRun(ctx context.Context, threadID, narratorID string) (Run, error) {
	run, err := c.api.CreateRun(ctx, threadID, openai.RunRequest{AssistantID: narratorID})
	if err != nil {
		return Run{}, errors.Wrap(err, "narrator: create run")
	}
	return Run{ID: run.ID, Status: RunStatus(run.Status)}, nil
}

func (c *OpenAIClient) RunStatus(ctx context.Context, threadID, runID string) (RunStatus, error) {
	run, err := c.api.RetrieveRun(ctx, threadID, runID)
	if err != nil {
		return "", errors.Wrap(err, "narrator: retrieve run")
	}
	return RunStatus(run.Status), nil
}

func (c *OpenAIClient) LatestReply(ctx context.Context, threadID string) (string, error) {
	limit := 1
	order := "desc"
	list, err := c.api.ListMessage(ctx, threadID, &limit, &order, nil, nil, nil)
	if err != nil {
		return "", errors.Wrap(err, "narrator: list messages")
	}
	for _, msg := range list.Messages {
		if msg.Role != openai.ChatMessageRoleAssistant {
			continue
		}
		var sb strings.Builder
		for _, content := range msg.Content {
			if content.Text != nil {
				sb.WriteString(content.Text.Value)
			}
		}
		return sb.String(), nil
	}
	return "", errors.New("narrator: no assistant reply on thread")
}

func (c *OpenAIClient) DeleteThread(ctx context.Context, threadID string) error {
	_, err := c.api.DeleteThread(ctx, threadID)
	return errors.Wrap(err, "narrator: delete thread")
}
