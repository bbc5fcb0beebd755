// Package twitter implements a publisher.Publisher for the X (Twitter) v2 API.
package twitter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/msingatullin/ccontentcloud-sub000/internal/port/publisher"
)

const platformName = "twitter"

// Tweets are capped by the API; longer content is truncated with an ellipsis.
const maxTweetLen = 280

// Publisher posts tweets through the v2 API.
type Publisher struct {
	bearerToken string
	apiBase     string
	httpClient  *http.Client
}

// NewPublisher creates a Twitter publisher with the given service bearer token.
func NewPublisher(bearerToken string) *Publisher {
	return &Publisher{
		bearerToken: bearerToken,
		apiBase:     "https://api.twitter.com",
		httpClient:  http.DefaultClient,
	}
}

type tweetRequest struct {
	Text string `json:"text"`
}

type tweetResponse struct {
	Data struct {
		ID string `json:"id"`
	} `json:"data"`
	Detail string `json:"detail"`
}

// Publish posts the content as a tweet. In test mode it returns a preview
// without touching the API.
func (p *Publisher) Publish(ctx context.Context, req publisher.Request) (*publisher.Result, error) {
	text := req.Content
	if len(text) > maxTweetLen {
		text = text[:maxTweetLen-1] + "…"
	}

	if req.TestMode {
		return &publisher.Result{
			Success: true,
			Preview: fmt.Sprintf("[twitter] %s", text),
		}, nil
	}

	token := p.bearerToken
	if req.AccessToken != "" {
		token = req.AccessToken
	}
	if token == "" {
		return &publisher.Result{Success: false, Error: "twitter bearer token not configured"}, nil
	}

	body, err := json.Marshal(tweetRequest{Text: text})
	if err != nil {
		return nil, fmt.Errorf("twitter marshal: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiBase+"/2/tweets", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("twitter request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+token)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("twitter send: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("twitter read response: %w", err)
	}

	var apiResp tweetResponse
	if err := json.Unmarshal(data, &apiResp); err != nil {
		return nil, fmt.Errorf("twitter unmarshal: %w", err)
	}
	if resp.StatusCode >= 400 || apiResp.Data.ID == "" {
		errMsg := apiResp.Detail
		if errMsg == "" {
			errMsg = fmt.Sprintf("twitter API %d", resp.StatusCode)
		}
		return &publisher.Result{Success: false, Error: errMsg}, nil
	}

	return &publisher.Result{
		Success:        true,
		PlatformPostID: apiResp.Data.ID,
	}, nil
}
