package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func newFixtureServer(t *testing.T, rows []map[string]any, pageSize int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var page = 1
		if v := r.URL.Query().Get("page"); v != "" {
			fmt.Sscanf(v, "%d", &page)
		}
		var start = (page - 1) * pageSize
		var end = start + pageSize
		if start > len(rows) {
			start = len(rows)
		}
		if end > len(rows) {
			end = len(rows)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(rows[start:end])
	}))
}

func TestReadPagesUntilShortPage(t *testing.T) {
	var rows []map[string]any
	for i := 0; i < 5; i++ {
		rows = append(rows, map[string]any{"id": float64(i), "name": "item"})
	}
	var server = newFixtureServer(t, rows, 2)
	defer server.Close()

	var s = New().(*Source)
	require.NoError(t, s.Configure(map[string]any{"base_url": server.URL, "path": "/items", "page_size": 2}))

	var it, err = s.Read(context.Background(), "/items", nil, nil)
	require.NoError(t, err)

	var total = 0
	for {
		var b, more, nerr = it.Next(context.Background())
		require.NoError(t, nerr)
		if !more {
			break
		}
		total += b.RowCount()
	}
	require.Equal(t, 5, total)
}

func TestConfigureSignsJWTFromSecret(t *testing.T) {
	var s = New().(*Source)
	require.NoError(t, s.Configure(map[string]any{"base_url": "http://x", "path": "/items", "jwt_secret": "shh"}))
	require.NotEmpty(t, s.token)
}

func TestConfigureRequiresBaseURLAndPath(t *testing.T) {
	var s = New()
	require.Error(t, s.Configure(map[string]any{"base_url": "http://x"}))
}

func TestGetSchemaInfersFieldTypes(t *testing.T) {
	var server = newFixtureServer(t, []map[string]any{{"id": float64(1), "active": true, "name": "a"}}, 10)
	defer server.Close()

	var s = New().(*Source)
	require.NoError(t, s.Configure(map[string]any{"base_url": server.URL, "path": "/items"}))

	var schema, err = s.GetSchema(context.Background(), "/items")
	require.NoError(t, err)
	require.Len(t, schema.Fields, 3)
}
