package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/example/ride-dispatch/internal/realtime"
)

// FCMClient sends data messages through the FCM legacy HTTP API.
type FCMClient struct {
	Endpoint  string
	ServerKey string
	Tokens    TokenSource
	Client    *http.Client
}

func NewFCMClient(endpoint, serverKey string, tokens TokenSource) *FCMClient {
	return &FCMClient{
		Endpoint:  endpoint,
		ServerKey: serverKey,
		Tokens:    tokens,
		Client:    &http.Client{Timeout: 3 * time.Second},
	}
}

func (c *FCMClient) Send(ctx context.Context, partyID string, ev realtime.Event) error {
	token, ok := c.Tokens.Token(partyID)
	if !ok {
		return fmt.Errorf("no push token for party %s", partyID)
	}
	body, err := json.Marshal(map[string]any{
		"to": token,
		"data": map[string]any{
			"type":    ev.Type,
			"payload": ev.Payload,
		},
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint+"/fcm/send", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "key="+c.ServerKey)
	resp, err := c.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fcm returned %d", resp.StatusCode)
	}
	return nil
}
