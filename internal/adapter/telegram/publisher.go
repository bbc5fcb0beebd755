// Package telegram implements a publisher.Publisher for the Telegram Bot API.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/msingatullin/ccontentcloud-sub000/internal/port/publisher"
)

const platformName = "telegram"

// Publisher sends messages through the Telegram Bot API.
type Publisher struct {
	botToken   string
	chatID     string
	apiBase    string
	httpClient *http.Client
}

// NewPublisher creates a Telegram publisher. chatID is the default channel;
// a per-account token in the request overrides botToken.
func NewPublisher(botToken, chatID string) *Publisher {
	return &Publisher{
		botToken:   botToken,
		chatID:     chatID,
		apiBase:    "https://api.telegram.org",
		httpClient: http.DefaultClient,
	}
}

type sendMessageRequest struct {
	ChatID string `json:"chat_id"`
	Text   string `json:"text"`
}

type sendMessageResponse struct {
	OK     bool `json:"ok"`
	Result struct {
		MessageID int64 `json:"message_id"`
	} `json:"result"`
	Description string `json:"description"`
}

// Publish sends the content as a Telegram message. In test mode it returns a
// preview without touching the API.
func (p *Publisher) Publish(ctx context.Context, req publisher.Request) (*publisher.Result, error) {
	if req.TestMode {
		return &publisher.Result{
			Success: true,
			Preview: fmt.Sprintf("[telegram] %s", req.Content),
		}, nil
	}

	token := p.botToken
	if req.AccessToken != "" {
		token = req.AccessToken
	}
	if token == "" {
		return &publisher.Result{Success: false, Error: "telegram bot token not configured"}, nil
	}

	body, err := json.Marshal(sendMessageRequest{ChatID: p.chatID, Text: req.Content})
	if err != nil {
		return nil, fmt.Errorf("telegram marshal: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", p.apiBase, token)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("telegram request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("telegram send: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("telegram read response: %w", err)
	}

	var apiResp sendMessageResponse
	if err := json.Unmarshal(data, &apiResp); err != nil {
		return nil, fmt.Errorf("telegram unmarshal: %w", err)
	}
	if !apiResp.OK {
		return &publisher.Result{Success: false, Error: apiResp.Description}, nil
	}

	return &publisher.Result{
		Success:        true,
		PlatformPostID: strconv.FormatInt(apiResp.Result.MessageID, 10),
	}, nil
}
