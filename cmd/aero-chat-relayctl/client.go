package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// errStatus reports a non-2xx response. Body holds the server's message when
// one was sent.
type errStatus struct {
	Path   string
	Status int
	Body   string
}

func (e *errStatus) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("GET %s: %d %s", e.Path, e.Status, http.StatusText(e.Status))
	}
	return fmt.Sprintf("GET %s: %d %s: %s", e.Path, e.Status, http.StatusText(e.Status), e.Body)
}

type relayClient struct {
	base string
	http *http.Client
}

func newRelayClient(base string, timeout time.Duration) *relayClient {
	return &relayClient{
		base: strings.TrimRight(strings.TrimSpace(base), "/"),
		http: &http.Client{Timeout: timeout},
	}
}

// get fetches path and returns the body. Non-2xx responses become
// *errStatus, with the body still returned for callers that want it.
func (c *relayClient) get(ctx context.Context, path string, header http.Header) ([]byte, error) {
	if c.base == "" {
		return nil, errors.New("relay URL is empty")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return nil, err
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if resp.StatusCode/100 != 2 {
		return body, &errStatus{Path: path, Status: resp.StatusCode, Body: serverMessage(body)}
	}
	return body, nil
}

func (c *relayClient) getJSON(ctx context.Context, path string, header http.Header, v any) error {
	body, err := c.get(ctx, path, header)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// serverMessage extracts the message from the relay's JSON error shapes
// ({"error": ...} or {"msg": ...}), falling back to the trimmed body.
func serverMessage(body []byte) string {
	var shape struct {
		Error string `json:"error"`
		Msg   string `json:"msg"`
	}
	if json.Unmarshal(body, &shape) == nil {
		if shape.Error != "" {
			return shape.Error
		}
		if shape.Msg != "" {
			return shape.Msg
		}
	}
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
