// Package instagram implements a publisher.Publisher for the Instagram Graph API.
package instagram

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/msingatullin/ccontentcloud-sub000/internal/port/publisher"
)

const platformName = "instagram"

// Publisher posts through the Instagram Graph API using the two-step
// container flow: create a media container, then publish it.
type Publisher struct {
	igUserID    string
	accessToken string
	apiBase     string
	httpClient  *http.Client
}

// NewPublisher creates an Instagram publisher for the given business account.
func NewPublisher(igUserID, accessToken string) *Publisher {
	return &Publisher{
		igUserID:    igUserID,
		accessToken: accessToken,
		apiBase:     "https://graph.facebook.com/v21.0",
		httpClient:  http.DefaultClient,
	}
}

type graphResponse struct {
	ID    string `json:"id"`
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Publish creates and publishes a caption-only media container. In test mode
// it returns a preview without touching the API.
func (p *Publisher) Publish(ctx context.Context, req publisher.Request) (*publisher.Result, error) {
	if req.TestMode {
		return &publisher.Result{
			Success: true,
			Preview: fmt.Sprintf("[instagram] %s", req.Content),
		}, nil
	}

	token := p.accessToken
	if req.AccessToken != "" {
		token = req.AccessToken
	}
	if token == "" || p.igUserID == "" {
		return &publisher.Result{Success: false, Error: "instagram account not configured"}, nil
	}

	containerID, apiErr, err := p.graphPost(ctx, fmt.Sprintf("/%s/media", p.igUserID), url.Values{
		"caption":      {req.Content},
		"access_token": {token},
	})
	if err != nil {
		return nil, fmt.Errorf("instagram create container: %w", err)
	}
	if apiErr != "" {
		return &publisher.Result{Success: false, Error: apiErr}, nil
	}

	mediaID, apiErr, err := p.graphPost(ctx, fmt.Sprintf("/%s/media_publish", p.igUserID), url.Values{
		"creation_id":  {containerID},
		"access_token": {token},
	})
	if err != nil {
		return nil, fmt.Errorf("instagram publish container: %w", err)
	}
	if apiErr != "" {
		return &publisher.Result{Success: false, Error: apiErr}, nil
	}

	return &publisher.Result{
		Success:        true,
		PlatformPostID: mediaID,
	}, nil
}

func (p *Publisher) graphPost(ctx context.Context, path string, form url.Values) (id, apiErr string, err error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiBase+path, nil)
	if err != nil {
		return "", "", fmt.Errorf("build request: %w", err)
	}
	httpReq.URL.RawQuery = form.Encode()

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return "", "", fmt.Errorf("send: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", "", fmt.Errorf("read response: %w", err)
	}

	var gr graphResponse
	if err := json.Unmarshal(data, &gr); err != nil {
		return "", "", fmt.Errorf("unmarshal: %w", err)
	}
	if gr.Error.Message != "" {
		return "", gr.Error.Message, nil
	}
	return gr.ID, "", nil
}
