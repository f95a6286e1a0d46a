// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package mail

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/samber/oops"
)

// DefaultPostmarkURL is the Postmark single-email endpoint.
const DefaultPostmarkURL = "https://api.postmarkapp.com/email"

// PostmarkSender sends through the Postmark HTTP API.
type PostmarkSender struct {
	serverToken string
	from        string
	apiURL      string
	httpClient  *http.Client
}

// PostmarkOption configures a PostmarkSender.
type PostmarkOption func(*PostmarkSender)

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(c *http.Client) PostmarkOption {
	return func(s *PostmarkSender) {
		s.httpClient = c
	}
}

// WithAPIURL overrides the Postmark endpoint.
func WithAPIURL(url string) PostmarkOption {
	return func(s *PostmarkSender) {
		s.apiURL = url
	}
}

// NewPostmarkSender creates a sender. serverToken and from are required.
func NewPostmarkSender(serverToken, from string, opts ...PostmarkOption) (*PostmarkSender, error) {
	if serverToken == "" {
		return nil, oops.Code("MAIL_INVALID_CONFIG").Errorf("postmark server token is required")
	}
	if from == "" {
		return nil, oops.Code("MAIL_INVALID_CONFIG").Errorf("from address is required")
	}
	s := &PostmarkSender{
		serverToken: serverToken,
		from:        from,
		apiURL:      DefaultPostmarkURL,
		httpClient:  http.DefaultClient,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

type postmarkEmail struct {
	From     string `json:"From"`
	To       string `json:"To"`
	Subject  string `json:"Subject"`
	HTMLBody string `json:"HtmlBody"`
}

type postmarkResponse struct {
	ErrorCode int    `json:"ErrorCode"`
	Message   string `json:"Message"`
}

// Send implements Sender. Network errors, 429 and 5xx responses are transient.
func (s *PostmarkSender) Send(ctx context.Context, msg Message) error {
	body, err := json.Marshal(postmarkEmail{
		From:     s.from,
		To:       msg.To,
		Subject:  msg.Subject,
		HTMLBody: msg.HTML,
	})
	if err != nil {
		return oops.Code("MAIL_ENCODE_FAILED").Wrap(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.apiURL, bytes.NewReader(body))
	if err != nil {
		return oops.Code("MAIL_REQUEST_FAILED").Wrap(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Postmark-Server-Token", s.serverToken)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return Transient(oops.Code("MAIL_TRANSPORT_FAILED").Wrap(err))
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	var pr postmarkResponse
	_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&pr)
	err = oops.Code("MAIL_PROVIDER_REJECTED").
		With("status", resp.StatusCode).
		With("provider_code", pr.ErrorCode).
		Errorf("postmark: %s", pr.Message)
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return Transient(err)
	}
	return err
}
