// Package api is the authenticated client for the dashboard's REST snapshot endpoints.
package api

import (
	"Cerberus/internal/config"
	"Cerberus/internal/model"
	"Cerberus/internal/session"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Endpoint paths relative to the configured base URL.
const (
	PathLogin       = "/login/"
	PathAlerts      = "/alerts/"
	PathStats       = "/stats/"
	PathModelStatus = "/model/status/"
	PathModelTrain  = "/model/train/"
)

// maxErrorBody bounds how much of an error response is read for its message.
const maxErrorBody = 64 << 10

// Client issues snapshot requests with the bearer token from the session store.
type Client struct {
	baseURL  string
	http     *http.Client
	sessions *session.Store
}

// NewClient creates a REST client for the given API configuration.
func NewClient(cfg config.APIConfig, sessions *session.Store) *Client {
	return &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		http:     &http.Client{Timeout: config.Duration(cfg.Timeout, 15*time.Second)},
		sessions: sessions,
	}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	model.Tokens
	User model.User `json:"user"`
}

// Login exchanges credentials for a session and stores it. A rejected login
// is reported as an *model.APIError and leaves any existing session alone.
func (c *Client) Login(ctx context.Context, username, password string) (model.Session, error) {
	var resp loginResponse
	req := request{
		method: http.MethodPost,
		path:   PathLogin,
		body:   loginRequest{Username: username, Password: password},
	}
	noContent, err := c.do(ctx, req, &resp)
	if err != nil {
		return model.Session{}, err
	}
	if noContent || resp.Access == "" {
		return model.Session{}, &model.ParseError{What: "login response", Err: fmt.Errorf("no access token returned")}
	}

	c.sessions.SetSession(resp.Tokens, resp.User)
	sess, _ := c.sessions.Current()
	return sess, nil
}

// FetchAlerts returns the historical alert list, newest first.
func (c *Client) FetchAlerts(ctx context.Context) ([]model.AlertEvent, error) {
	var alerts []model.AlertEvent
	if _, err := c.do(ctx, authed(http.MethodGet, PathAlerts), &alerts); err != nil {
		return nil, err
	}
	if alerts == nil {
		alerts = []model.AlertEvent{}
	}
	return alerts, nil
}

// FetchStats returns the protocol breakdown and top talkers.
func (c *Client) FetchStats(ctx context.Context) (model.AggregateStats, error) {
	var stats model.AggregateStats
	if _, err := c.do(ctx, authed(http.MethodGet, PathStats), &stats); err != nil {
		return model.AggregateStats{}, err
	}
	if stats.ProtocolBreakdown == nil {
		stats.ProtocolBreakdown = []model.ProtocolCount{}
	}
	if stats.TopSources == nil {
		stats.TopSources = []model.SourceCount{}
	}
	return stats, nil
}

// FetchModelStatus returns the detector's training state.
func (c *Client) FetchModelStatus(ctx context.Context) (model.ModelStatus, error) {
	var status model.ModelStatus
	if _, err := c.do(ctx, authed(http.MethodGet, PathModelStatus), &status); err != nil {
		return model.ModelStatus{}, err
	}
	return status, nil
}

// StartTraining asks the backend to begin a training session.
func (c *Client) StartTraining(ctx context.Context) (model.TrainAck, error) {
	var ack model.TrainAck
	if _, err := c.do(ctx, authed(http.MethodPost, PathModelTrain), &ack); err != nil {
		return model.TrainAck{}, err
	}
	return ack, nil
}

type request struct {
	method        string
	path          string
	body          interface{}
	authenticated bool
}

func authed(method, path string) request {
	return request{method: method, path: path, authenticated: true}
}

// do performs a request and decodes a JSON response into out. It reports
// noContent for 204 responses, leaving out untouched.
func (c *Client) do(ctx context.Context, r request, out interface{}) (noContent bool, err error) {
	op := r.method + " " + r.path

	var body io.Reader
	if r.body != nil {
		payload, err := json.Marshal(r.body)
		if err != nil {
			return false, fmt.Errorf("failed to encode %s request: %w", op, err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, r.method, c.baseURL+r.path, body)
	if err != nil {
		return false, fmt.Errorf("failed to create %s request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if r.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if r.authenticated {
		if token, ok := c.sessions.AccessToken(); ok {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return false, &model.TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized && r.authenticated:
		c.sessions.ClearSession()
		return false, fmt.Errorf("%s: %w", op, model.ErrUnauthenticated)
	case resp.StatusCode == http.StatusNoContent:
		return true, nil
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return false, &model.APIError{Status: resp.StatusCode, Message: errorMessage(resp.Body)}
	}

	if out == nil {
		return false, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if err == io.EOF {
			return true, nil
		}
		return false, &model.ParseError{What: op + " response", Err: err}
	}
	return false, nil
}

// errorMessage extracts a human-readable message from an error body.
func errorMessage(body io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(body, maxErrorBody))
	if err != nil || len(raw) == 0 {
		return ""
	}
	var fields map[string]interface{}
	if err := json.Unmarshal(raw, &fields); err == nil {
		for _, key := range []string{"error", "message", "detail"} {
			if s, ok := fields[key].(string); ok && s != "" {
				return s
			}
		}
	}
	return strings.TrimSpace(string(raw))
}
