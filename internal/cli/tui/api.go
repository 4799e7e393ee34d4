package tui

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/goccy/go-json"

	"github.com/haskel/petmood/internal/runlog"
	"github.com/haskel/petmood/internal/server"
)

type statusMsg struct {
	data *server.RetrainStatus
	err  error
}

type runsMsg struct {
	data []runlog.Run
	err  error
}

type tickMsg time.Time

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type apiClient struct {
	baseURL  string
	client   *http.Client
	user     string
	password string
}

func newAPIClient(cfg Config) *apiClient {
	return &apiClient{
		baseURL: cfg.ServerURL,
		client: &http.Client{
			Timeout: 5 * time.Second,
		},
		user:     cfg.User,
		password: cfg.Password,
	}
}

// getData fetches path and decodes the envelope's data into v.
func (c *apiClient) getData(path string, v any) error {
	req, err := http.NewRequest(http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	if c.user != "" && c.password != "" {
		req.SetBasicAuth(c.user, c.password)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("server returned status %d", resp.StatusCode)
	}
	if !env.Success {
		if env.Message == "" {
			return fmt.Errorf("server returned status %d", resp.StatusCode)
		}
		return errors.New(env.Message)
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}

func fetchStatus(cfg Config) tea.Cmd {
	return func() tea.Msg {
		var st server.RetrainStatus
		if err := newAPIClient(cfg).getData("/v1/retrain/status", &st); err != nil {
			return statusMsg{err: err}
		}
		return statusMsg{data: &st}
	}
}

func fetchRuns(cfg Config) tea.Cmd {
	return func() tea.Msg {
		var runs []runlog.Run
		if err := newAPIClient(cfg).getData(fmt.Sprintf("/v1/retrain/runs?limit=%d", runsFetched), &runs); err != nil {
			return runsMsg{err: err}
		}
		return runsMsg{data: runs}
	}
}

func tick(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}
