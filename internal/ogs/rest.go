package ogs

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	pkgerrors "github.com/poonpunokok/gtp2ogs/internal/errors"
	"github.com/poonpunokok/gtp2ogs/internal/utils"
)

// RejectionDetails is attached to a declined challenge so the
// counterpart client can display a localized reason.
type RejectionDetails struct {
	RejectionCode string         `json:"rejection_code"`
	Details       map[string]any `json:"details,omitempty"`
}

// RestClient covers the few REST endpoints the bot needs next to the
// realtime socket.
type RestClient struct {
	baseURL string
	apikey  string
	hc      *http.Client
	log     *zap.SugaredLogger
}

func NewRestClient(baseURL, apikey string, log *zap.SugaredLogger) *RestClient {
	return &RestClient{
		baseURL: baseURL,
		apikey:  apikey,
		hc:      &http.Client{Timeout: 30 * time.Second},
		log:     log,
	}
}

func (c *RestClient) AcceptChallenge(ctx context.Context, challengeID int64) error {
	return c.post(ctx, fmt.Sprintf("me/challenges/%d/accept", challengeID), map[string]any{})
}

func (c *RestClient) DeclineChallenge(ctx context.Context, challengeID int64, message string, details *RejectionDetails) error {
	body := map[string]any{
		"delete":  true,
		"message": message,
	}
	if details != nil {
		body["rejection_details"] = details
	}
	return c.post(ctx, fmt.Sprintf("me/challenges/%d", challengeID), body)
}

func (c *RestClient) AcceptFriendRequest(ctx context.Context, fromUserID int64) error {
	return c.post(ctx, "me/friends/invitations", map[string]any{"from_user": fromUserID})
}

func (c *RestClient) post(ctx context.Context, path string, body any) error {
	url := c.baseURL + "/" + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(utils.MustMarshal(body)))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apikey)

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("%w: POST %s: %v", pkgerrors.ErrRestCallFailed, path, err)
	}

	var discard any
	if err := utils.DecodeJSONResponse(resp, &discard); err != nil {
		c.log.Debugf("POST %s: undecodable response body: %v", path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: POST %s: status %d", pkgerrors.ErrRestCallFailed, path, resp.StatusCode)
	}
	c.log.Debugf("POST %s: %d", path, resp.StatusCode)
	return nil
}
