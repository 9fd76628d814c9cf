package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// DefaultExpoEndpoint is the public Expo push API.
const DefaultExpoEndpoint = "https://exp.host/--/api/v2/push/send"

const expoTokenPrefix = "ExponentPushToken"

// Expo posts messages to the Expo push service.
type Expo struct {
	endpoint string
	client   *http.Client
}

// NewExpo returns an Expo dispatcher. Empty endpoint selects the public API.
func NewExpo(endpoint string, client *http.Client) *Expo {
	if endpoint == "" {
		endpoint = DefaultExpoEndpoint
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &Expo{endpoint: endpoint, client: client}
}

type expoPayload struct {
	To    string `json:"to"`
	Sound string `json:"sound"`
	Title string `json:"title"`
	Body  string `json:"body"`
}

// Send validates the token and posts the message.
func (e *Expo) Send(ctx context.Context, target string, msg Message) error {
	if !strings.HasPrefix(target, expoTokenPrefix) {
		return fmt.Errorf("%w: %q is not an Expo push token", ErrInvalidTarget, target)
	}
	body, err := json.Marshal(expoPayload{To: target, Sound: "default", Title: msg.Title, Body: msg.Body})
	if err != nil {
		return fmt.Errorf("encode push payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build push request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("send push: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("push service responded %d", resp.StatusCode)
	}
	return nil
}
