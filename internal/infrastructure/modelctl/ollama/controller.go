// Package ollama issues model residency hints through Ollama's native API.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ersonp/storyforge/internal/domain/entities"
	"github.com/ersonp/storyforge/internal/domain/errs"
	"github.com/ersonp/storyforge/internal/infrastructure/config"
	llm "github.com/ersonp/storyforge/internal/infrastructure/llm/openai"
)

// Timeouts per call kind. Loading a model from disk can take minutes.
const (
	preloadTimeout = 120 * time.Second
	unloadTimeout  = 30 * time.Second
	listTimeout    = 10 * time.Second
)

// DefaultKeepAlive is how long a preloaded model stays resident.
const DefaultKeepAlive = "24h"

// Controller implements ports.ModelController.
type Controller struct {
	httpClient *http.Client
	baseURL    string
	keepAlive  string
}

// NewController creates a controller for the engine at cfg.BaseURL.
func NewController(cfg config.EngineConfig) *Controller {
	keepAlive := cfg.KeepAlive
	if keepAlive == "" {
		keepAlive = DefaultKeepAlive
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	base = strings.TrimSuffix(base, "/v1")

	return &Controller{
		httpClient: &http.Client{},
		baseURL:    base,
		keepAlive:  keepAlive,
	}
}

// generateRequest is a zero-token generate call used only for its keep_alive side effect.
type generateRequest struct {
	Model     string `json:"model"`
	Prompt    string `json:"prompt"`
	KeepAlive any    `json:"keep_alive"`
}

// Preload asks the engine to load model and keep it resident.
func (c *Controller) Preload(ctx context.Context, model string) error {
	return c.generate(ctx, preloadTimeout, generateRequest{Model: model, KeepAlive: c.keepAlive})
}

// Unload asks the engine to evict model.
func (c *Controller) Unload(ctx context.Context, model string) error {
	return c.generate(ctx, unloadTimeout, generateRequest{Model: model, KeepAlive: 0})
}

func (c *Controller) generate(ctx context.Context, timeout time.Duration, body generateRequest) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return llm.Classify(llm.ServiceName, body.Model, timeout, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	return statusError(resp.StatusCode, body.Model)
}

// psResponse mirrors GET /api/ps.
type psResponse struct {
	Models []struct {
		Name      string    `json:"name"`
		Model     string    `json:"model"`
		Size      int64     `json:"size"`
		SizeVRAM  int64     `json:"size_vram"`
		ExpiresAt time.Time `json:"expires_at"`
	} `json:"models"`
}

// ListLoaded reports the models currently resident.
func (c *Controller) ListLoaded(ctx context.Context) ([]entities.LoadedModel, error) {
	ctx, cancel := context.WithTimeout(ctx, listTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/ps", nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, llm.Classify(llm.ServiceName, "", listTimeout, err)
	}
	defer resp.Body.Close()

	if err := statusError(resp.StatusCode, ""); err != nil {
		return nil, err
	}

	var ps psResponse
	if err := json.NewDecoder(resp.Body).Decode(&ps); err != nil {
		return nil, errs.Generation(llm.ServiceName, "decoding /api/ps", err)
	}

	models := make([]entities.LoadedModel, 0, len(ps.Models))
	for _, m := range ps.Models {
		name := m.Name
		if name == "" {
			name = m.Model
		}
		models = append(models, entities.LoadedModel{
			Name:      name,
			Size:      m.Size,
			SizeVRAM:  m.SizeVRAM,
			ExpiresAt: m.ExpiresAt,
		})
	}
	return models, nil
}

func statusError(code int, model string) error {
	switch {
	case code == http.StatusOK:
		return nil
	case code == http.StatusNotFound:
		return errs.ModelNotFound(llm.ServiceName, model, nil)
	case code >= http.StatusInternalServerError:
		return errs.Unavailable(llm.ServiceName, fmt.Errorf("status %d", code))
	default:
		return errs.Generation(llm.ServiceName, fmt.Sprintf("unexpected status %d", code), nil)
	}
}
