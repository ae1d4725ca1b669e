package ollama

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ersonp/storyforge/internal/domain/errs"
	"github.com/ersonp/storyforge/internal/infrastructure/config"
)

func TestController_PreloadAndUnload(t *testing.T) {
	var bodies []map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/generate", r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		bodies = append(bodies, body)
		fmt.Fprint(w, `{"model":"phi4:latest","done":true}`)
	}))
	defer srv.Close()

	c := NewController(config.EngineConfig{BaseURL: srv.URL + "/v1", KeepAlive: "1h"})
	ctx := context.Background()

	require.NoError(t, c.Preload(ctx, "phi4:latest"))
	require.NoError(t, c.Unload(ctx, "phi4:latest"))

	require.Len(t, bodies, 2)
	assert.Equal(t, "phi4:latest", bodies[0]["model"])
	assert.Equal(t, "", bodies[0]["prompt"])
	assert.Equal(t, "1h", bodies[0]["keep_alive"])
	assert.Equal(t, float64(0), bodies[1]["keep_alive"])
}

func TestController_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{name: "missing model", status: http.StatusNotFound, want: errs.ErrModelNotFound},
		{name: "engine failure", status: http.StatusInternalServerError, want: errs.ErrServiceUnavailable},
		{name: "bad request", status: http.StatusBadRequest, want: errs.ErrGeneration},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			err := NewController(config.EngineConfig{BaseURL: srv.URL}).Preload(context.Background(), "ghost")
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestController_ListLoaded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/ps", r.URL.Path)
		fmt.Fprint(w, `{"models":[{"name":"phi4:latest","model":"phi4:latest","size":9000,"size_vram":8000,"expires_at":"2026-01-02T03:04:05Z"},{"model":"gemma2:9b","size":5}]}`)
	}))
	defer srv.Close()

	models, err := NewController(config.EngineConfig{BaseURL: srv.URL}).ListLoaded(context.Background())
	require.NoError(t, err)
	require.Len(t, models, 2)
	assert.Equal(t, "phi4:latest", models[0].Name)
	assert.Equal(t, int64(8000), models[0].SizeVRAM)
	assert.Equal(t, 2026, models[0].ExpiresAt.Year())
	assert.Equal(t, "gemma2:9b", models[1].Name)
}

func TestController_Unavailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewController(config.EngineConfig{BaseURL: url}).ListLoaded(context.Background())
	assert.ErrorIs(t, err, errs.ErrServiceUnavailable)
}
