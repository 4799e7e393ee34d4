package cli

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
)

// Client talks to a running petmood server.
type Client struct {
	baseURL  string
	client   *http.Client
	user     string
	password string
}

// NewClient creates a client from the global flags. Retrain and report
// calls block for a whole cycle, hence the long timeout.
func NewClient() *Client {
	u, p := GetAuth()
	return &Client{
		baseURL: GetServerURL(),
		client: &http.Client{
			Timeout: 30 * time.Minute,
		},
		user:     u,
		password: p,
	}
}

// Envelope is the server's response wrapper.
type Envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (c *Client) Get(path string) ([]byte, int, error) {
	return c.send(http.MethodGet, path, nil)
}

// Post sends body as JSON. A nil body sends no payload.
func (c *Client) Post(path string, body any) ([]byte, int, error) {
	return c.send(http.MethodPost, path, body)
}

func (c *Client) send(method, path string, body any) ([]byte, int, error) {
	var rd io.Reader
	if body != nil {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, 0, err
		}
		rd = &buf
	}

	req, err := http.NewRequest(method, c.baseURL+path, rd)
	if err != nil {
		return nil, 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.do(req)
}

func (c *Client) do(req *http.Request) ([]byte, int, error) {
	if c.user != "" && c.password != "" {
		req.SetBasicAuth(c.user, c.password)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to read response: %w", err)
	}

	return data, resp.StatusCode, nil
}

// Call performs a request and decodes the envelope. A transport failure or
// a body that is not an envelope is an error; an envelope with
// success=false is returned as is, together with the raw body.
func (c *Client) Call(method, path string, body any) (*Envelope, []byte, error) {
	data, status, err := c.send(method, path, body)
	if err != nil {
		return nil, nil, err
	}

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, data, fmt.Errorf("server returned status %d: %s", status, bytes.TrimSpace(data))
	}
	return &env, data, nil
}

// Health checks if the server is running.
func (c *Client) Health() error {
	_, status, err := c.Get("/health")
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("server returned status %d", status)
	}
	return nil
}
