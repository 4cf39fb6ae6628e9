package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/devcollab/notifyd/internal/api/models"
	"github.com/devcollab/notifyd/internal/notification"
	"github.com/gorilla/websocket"
)

// ProducerTokenHeader carries the producer shared secret
const ProducerTokenHeader = "X-Producer-Token"

// Client is an HTTP client for interacting with the notifyd API
type Client struct {
	baseURL         string
	httpClient      *http.Client
	headers         http.Header
	token           string
	websocketDialer *websocket.Dialer
	timeout         time.Duration
}

// ClientOption is a function that configures a Client
type ClientOption func(*Client)

// WithTimeout sets the request timeout
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.timeout = timeout
		c.httpClient.Timeout = timeout
	}
}

// WithHeaders sets additional HTTP headers
func WithHeaders(headers map[string]string) ClientOption {
	return func(c *Client) {
		for k, v := range headers {
			c.headers.Set(k, v)
		}
	}
}

// WithToken authenticates as a user with a bearer token
func WithToken(token string) ClientOption {
	return func(c *Client) {
		c.token = token
		c.headers.Set("Authorization", "Bearer "+token)
	}
}

// WithProducerToken sets the shared secret required to send notifications
func WithProducerToken(token string) ClientOption {
	return func(c *Client) {
		c.headers.Set(ProducerTokenHeader, token)
	}
}

// New creates a new notifyd API client
func New(baseURL string, options ...ClientOption) *Client {
	headers := http.Header{}
	headers.Set("Content-Type", "application/json")

	client := &Client{
		baseURL:         strings.TrimRight(baseURL, "/"),
		httpClient:      &http.Client{Timeout: 10 * time.Second},
		headers:         headers,
		websocketDialer: websocket.DefaultDialer,
		timeout:         10 * time.Second,
	}

	for _, option := range options {
		option(client)
	}

	return client
}

// Error is an error reported by the API
type Error struct {
	StatusCode int
	Type       string `json:"type"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("API error (%d) %s: %s", e.StatusCode, e.Code, e.Message)
}

// IsNotFound reports whether err is a 404 from the API
func IsNotFound(err error) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// envelope is the response wrapper every endpoint uses
type envelope struct {
	Success   bool            `json:"success"`
	RequestID string          `json:"request_id"`
	Data      json.RawMessage `json:"data"`
	Error     *Error          `json:"error"`
}

// Send delivers a notification
func (c *Client) Send(ctx context.Context, req notification.Request) (*notification.Notification, error) {
	var n notification.Notification
	if err := c.call(ctx, http.MethodPost, "/notifications", nil, req, &n); err != nil {
		return nil, err
	}
	return &n, nil
}

// ListUnread returns a user's unread notifications, newest first
func (c *Client) ListUnread(ctx context.Context, userID string) ([]*notification.Notification, error) {
	var resp models.UnreadListResponse
	if err := c.call(ctx, http.MethodGet, "/notifications/unread", userQuery(userID), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Notifications, nil
}

// CountUnread returns a user's unread count
func (c *Client) CountUnread(ctx context.Context, userID string) (int, error) {
	var resp models.UnreadCountResponse
	if err := c.call(ctx, http.MethodGet, "/notifications/unread/count", userQuery(userID), nil, &resp); err != nil {
		return 0, err
	}
	return resp.Count, nil
}

// MarkRead acknowledges one notification
func (c *Client) MarkRead(ctx context.Context, id string) (*notification.Notification, error) {
	var n notification.Notification
	path := fmt.Sprintf("/notifications/%s/read", url.PathEscape(id))
	if err := c.call(ctx, http.MethodPatch, path, nil, nil, &n); err != nil {
		return nil, err
	}
	return &n, nil
}

// MarkAllRead acknowledges every unread notification of a user and returns
// how many changed
func (c *Client) MarkAllRead(ctx context.Context, userID string) (int, error) {
	var resp models.MarkAllReadResponse
	body := models.MarkAllReadRequest{UserID: userID}
	if err := c.call(ctx, http.MethodPatch, "/notifications/read-all", nil, body, &resp); err != nil {
		return 0, err
	}
	return resp.Updated, nil
}

// IsConnected reports whether a user has a live session
func (c *Client) IsConnected(ctx context.Context, userID string) (bool, error) {
	var resp models.ConnectionStatusResponse
	path := "/connections/" + url.PathEscape(userID)
	if err := c.call(ctx, http.MethodGet, path, nil, nil, &resp); err != nil {
		return false, err
	}
	return resp.Connected, nil
}

// Event is a realtime event received from the server
type Event struct {
	Event     string          `json:"event"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Notification decodes the event data as a single notification
func (e Event) Notification() (*notification.Notification, error) {
	var n notification.Notification
	if err := json.Unmarshal(e.Data, &n); err != nil {
		return nil, err
	}
	return &n, nil
}

// Notifications decodes the event data as a notification list
func (e Event) Notifications() ([]*notification.Notification, error) {
	var list []*notification.Notification
	if err := json.Unmarshal(e.Data, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// Subscribe opens a websocket session for userID. Opening a new session
// replaces any older session of the same user on the server.
func (c *Client) Subscribe(ctx context.Context, userID string) (*Subscription, error) {
	u, err := c.endpoint("/ws", userQuery(userID))
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}

	headers := http.Header{}
	if auth := c.headers.Get("Authorization"); auth != "" {
		headers.Set("Authorization", auth)
	}

	conn, resp, err := c.websocketDialer.DialContext(ctx, u.String(), headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to connect to WebSocket (%d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("failed to connect to WebSocket: %w", err)
	}

	sub := &Subscription{
		Conn:   conn,
		Events: make(chan Event, 100),
		Done:   make(chan struct{}),
	}
	go sub.receiveEvents()

	return sub, nil
}

// SubscribeSSE opens a server-sent events stream for userID
func (c *Client) SubscribeSSE(ctx context.Context, userID string) (*SSESubscription, error) {
	u, err := c.endpoint("/events", userQuery(userID))
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		cancel()
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	if auth := c.headers.Get("Authorization"); auth != "" {
		req.Header.Set("Authorization", auth)
	}

	// The stream outlives the client's request timeout
	streamClient := &http.Client{Transport: c.httpClient.Transport}
	resp, err := streamClient.Do(req)
	if err != nil {
		cancel()
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		cancel()
		return nil, decodeError(resp)
	}

	sub := &SSESubscription{
		Events: make(chan Event, 100),
		Done:   make(chan struct{}),
		cancel: cancel,
	}
	go sub.receiveEvents(resp.Body)

	return sub, nil
}

func userQuery(userID string) url.Values {
	if userID == "" {
		return nil
	}
	return url.Values{"userId": []string{userID}}
}

func (c *Client) endpoint(path string, query url.Values) (*url.URL, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, err
	}
	u.Path = strings.TrimRight(u.Path, "/") + path
	if c.token != "" {
		if query == nil {
			query = url.Values{}
		}
		query.Set("token", c.token)
	}
	u.RawQuery = query.Encode()
	return u, nil
}

// call makes a request and decodes the envelope data into out
func (c *Client) call(ctx context.Context, method, path string, query url.Values, body, out any) error {
	resp, err := c.do(ctx, method, path, query, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("failed to decode response data: %w", err)
	}
	return nil
}

// do makes an HTTP request
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any) (*http.Response, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, err
	}
	u.Path = strings.TrimRight(u.Path, "/") + path
	u.RawQuery = query.Encode()

	var bodyReader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), bodyReader)
	if err != nil {
		return nil, err
	}
	for k, v := range c.headers {
		req.Header[k] = v
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		return nil, decodeError(resp)
	}

	return resp, nil
}

func decodeError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	var env envelope
	if err := json.Unmarshal(body, &env); err == nil && env.Error != nil {
		env.Error.StatusCode = resp.StatusCode
		return env.Error
	}

	return &Error{
		StatusCode: resp.StatusCode,
		Code:       "http_error",
		Message:    strings.TrimSpace(string(body)),
	}
}

// Subscription represents a WebSocket session for realtime events
type Subscription struct {
	Conn   *websocket.Conn
	Events chan Event
	Done   chan struct{}
}

// receiveEvents processes WebSocket messages
func (s *Subscription) receiveEvents() {
	defer func() {
		close(s.Events)
		close(s.Done)
		s.Conn.Close()
	}()

	for {
		_, message, err := s.Conn.ReadMessage()
		if err != nil {
			return
		}

		var event Event
		if err := json.Unmarshal(message, &event); err != nil || event.Event == "" {
			continue
		}

		select {
		case s.Events <- event:
		default:
			// Channel is full, drop event
		}
	}
}

// Ack acknowledges a notification over the session
func (s *Subscription) Ack(id string) error {
	return s.Conn.WriteJSON(map[string]string{"action": "mark-read", "id": id})
}

// Close closes the subscription
func (s *Subscription) Close() error {
	err := s.Conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))

	select {
	case <-s.Done:
	case <-time.After(time.Second):
		s.Conn.Close()
	}

	return err
}

// SSESubscription represents a Server-Sent Events subscription
type SSESubscription struct {
	Events chan Event
	Done   chan struct{}
	cancel context.CancelFunc
}

// receiveEvents parses the text/event-stream body. Comment lines carry
// heartbeats and are skipped.
func (s *SSESubscription) receiveEvents(body io.ReadCloser) {
	defer func() {
		close(s.Events)
		close(s.Done)
		body.Close()
	}()

	scanner := bufio.NewScanner(body)
	var event Event
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if event.Event != "" {
				event.Timestamp = time.Now().UTC()
				select {
				case s.Events <- event:
				default:
				}
			}
			event = Event{}
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event:"):
			event.Event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			event.Data = json.RawMessage(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
}

// Close closes the SSE subscription
func (s *SSESubscription) Close() error {
	s.cancel()
	<-s.Done
	return nil
}
