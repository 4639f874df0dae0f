// Copyright 2026 The QMS Portal Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrBackendUnavailable covers transport failures and non-2xx replies
// from the hosted model backend.
var ErrBackendUnavailable = errors.New("assistant backend unavailable")

// Message is one turn of a conversation.
type Message struct {
	Role    string `json:"role"` // user or assistant
	Content string `json:"content"`
}

// FunctionCall is a structured operation the model proposes. It is never
// executed directly: the caller must route it through the action gate as
// an unconfirmed mutating call.
type FunctionCall struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// Reply is the backend's answer for one turn.
type Reply struct {
	Message      string        `json:"message"`
	FunctionCall *FunctionCall `json:"function_call,omitempty"`
}

// Client talks to the hosted chat-completion backend.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates an assistant backend client.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type generateRequest struct {
	Messages  []Message `json:"messages"`
	Functions []string  `json:"functions,omitempty"`
}

// GenerateReply sends the conversation history to the backend. functions
// lists the operation names the model may propose.
func (c *Client) GenerateReply(ctx context.Context, history []Message, functions []string) (*Reply, error) {
	body, err := json.Marshal(generateRequest{Messages: history, Functions: functions})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: status %d", ErrBackendUnavailable, resp.StatusCode)
	}

	reply := &Reply{}
	if err := json.NewDecoder(resp.Body).Decode(reply); err != nil {
		return nil, fmt.Errorf("%w: decode reply: %v", ErrBackendUnavailable, err)
	}
	return reply, nil
}
