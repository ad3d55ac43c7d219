package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHTTPConnector(t *testing.T, server *httptest.Server, endpoints []HTTPEndpoint) *HTTPConnector {
	connector, err := NewHTTPConnector("conn-http", &HTTPConfig{
		BaseURL:     server.URL,
		BearerToken: "test-token",
		Endpoints:   endpoints,
	}, nil)
	require.NoError(t, err)
	return connector
}

func TestHTTPConnector_CallTool(t *testing.T) {
	ctx := context.Background()

	t.Run("GET 参数拼到查询串", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodGet, r.Method)
			assert.Equal(t, "/v1/users", r.URL.Path)
			assert.Equal(t, "kim", r.URL.Query().Get("name"))
			assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]any{"count": 1})
		}))
		defer server.Close()

		connector := newTestHTTPConnector(t, server, []HTTPEndpoint{
			{Name: "search_users", Method: "GET", Path: "/v1/users"},
		})
		result, err := connector.CallTool(ctx, "search_users", map[string]any{"name": "kim"})
		require.NoError(t, err)
		assert.True(t, result.Success)

		data := result.Data.(map[string]any)
		assert.Equal(t, 200, data["status_code"])
		body := data["body"].(map[string]any)
		assert.Equal(t, float64(1), body["count"])
	})

	t.Run("POST 参数放入 JSON 请求体", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			raw, _ := io.ReadAll(r.Body)
			var payload map[string]any
			require.NoError(t, json.Unmarshal(raw, &payload))
			assert.Equal(t, "hello", payload["text"])
			w.WriteHeader(http.StatusCreated)
			w.Write([]byte(`{"ok":true}`))
		}))
		defer server.Close()

		connector := newTestHTTPConnector(t, server, []HTTPEndpoint{
			{Name: "send_message", Method: "POST", Path: "/v1/messages"},
		})
		result, err := connector.CallTool(ctx, "send_message", map[string]any{"text": "hello"})
		require.NoError(t, err)
		assert.True(t, result.Success)
	})

	t.Run("路径占位符替换", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/v1/users/42", r.URL.Path)
			assert.Empty(t, r.URL.RawQuery)
			w.Write([]byte(`{}`))
		}))
		defer server.Close()

		connector := newTestHTTPConnector(t, server, []HTTPEndpoint{
			{Name: "get_user", Method: "GET", Path: "/v1/users/{id}"},
		})
		result, err := connector.CallTool(ctx, "get_user", map[string]any{"id": 42})
		require.NoError(t, err)
		assert.True(t, result.Success)
	})

	t.Run("4xx 响应视为业务失败", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusForbidden)
			w.Write([]byte(`{"error":"forbidden"}`))
		}))
		defer server.Close()

		connector := newTestHTTPConnector(t, server, []HTTPEndpoint{
			{Name: "get_user", Method: "GET", Path: "/v1/users/{id}"},
		})
		result, err := connector.CallTool(ctx, "get_user", map[string]any{"id": 1})
		require.NoError(t, err)
		assert.False(t, result.Success)
		assert.Contains(t, result.Error, "403")
	})

	t.Run("未定义端点返回错误", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		defer server.Close()

		connector := newTestHTTPConnector(t, server, []HTTPEndpoint{
			{Name: "known", Method: "GET", Path: "/"},
		})
		_, err := connector.CallTool(ctx, "unknown", nil)
		assert.ErrorIs(t, err, ErrToolNotFound)
	})
}

func TestNewHTTPConnector_Validation(t *testing.T) {
	_, err := NewHTTPConnector("conn-1", &HTTPConfig{}, nil)
	assert.Error(t, err)

	_, err = NewHTTPConnector("conn-1", &HTTPConfig{
		BaseURL:   "http://example.com",
		Endpoints: []HTTPEndpoint{{Method: "GET", Path: "/"}},
	}, nil)
	assert.Error(t, err)
}
