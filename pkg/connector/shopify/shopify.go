// Package shopify implements the SHOPIFY source connector named in
// §4.5's registry key list: Shopify's paginated Admin REST API,
// authenticated with a bearer access token, rate-limited to the
// vendor's documented 2 req/s burst 5 (§4.6) through pkg/resilience.
package shopify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sqlflow/sqlflow/pkg/batch"
	"github.com/sqlflow/sqlflow/pkg/connector"
	"github.com/sqlflow/sqlflow/pkg/resilience"
)

var acceptedParams = []string{
	"shop", "access_token", "api_version", "resource",
	"sync_mode", "cursor_field", "primary_key",
}

// Source reads one Admin API resource (e.g. "orders", "customers")
// as a flat row set, one page at a time via cursor-based pagination.
type Source struct {
	client     *http.Client
	wrapper    *resilience.Wrapper
	shop       string
	token      string
	apiVersion string
	resource   string
}

// New returns an unconfigured Shopify source.
func New() connector.Source { return &Source{client: http.DefaultClient, apiVersion: "2024-01"} }

// Configure implements connector.Source.
func (s *Source) Configure(params map[string]any) error {
	if err := connector.RejectUnknown("SHOPIFY", params, acceptedParams); err != nil {
		return err
	}
	if err := connector.ValidateSyncMode("SHOPIFY", params); err != nil {
		return err
	}
	if err := connector.ValidateRequired("SHOPIFY", params, []string{"shop", "access_token", "resource"}); err != nil {
		return err
	}
	s.shop = params["shop"].(string)
	s.token = params["access_token"].(string)
	s.resource = params["resource"].(string)
	if v, ok := params["api_version"].(string); ok && v != "" {
		s.apiVersion = v
	}

	s.wrapper = resilience.New(s.shop, resilience.Config{
		Retry:       resilience.DefaultRetryConfig(),
		Breaker:     resilience.DefaultBreakerConfig(),
		RateLimiter: resilience.RateLimiterConfig{RatePerSecond: 2, Burst: 5},
		CallTimeout: 60 * time.Second,
	})
	return nil
}

func (s *Source) baseURL() string {
	return fmt.Sprintf("https://%s.myshopify.com/admin/api/%s/%s.json", s.shop, s.apiVersion, s.resource)
}

// TestConnection implements connector.Source.
func (s *Source) TestConnection(ctx context.Context) (connector.ConnectionTest, error) {
	var start = time.Now()
	var err = s.wrapper.Do(ctx, func(ctx context.Context) error {
		var _, _, ferr = s.fetchPage(ctx, s.baseURL()+"?limit=1")
		return ferr
	})
	if err != nil {
		return connector.ConnectionTest{OK: false, Message: err.Error()}, nil
	}
	return connector.ConnectionTest{OK: true, Message: "ok", LatencyMS: time.Since(start).Milliseconds()}, nil
}

// Discover implements connector.Source: a Shopify source exposes the
// single configured resource.
func (s *Source) Discover(ctx context.Context) ([]string, error) { return []string{s.resource}, nil }

// GetSchema implements connector.Source by sampling the first page.
func (s *Source) GetSchema(ctx context.Context, object string) (batch.Schema, error) {
	var rows []map[string]any
	var err = s.wrapper.Do(ctx, func(ctx context.Context) error {
		var page, _, ferr = s.fetchPage(ctx, s.baseURL()+"?limit=1")
		rows = page
		return ferr
	})
	if err != nil {
		return batch.Schema{}, err
	}
	if len(rows) == 0 {
		return batch.Schema{}, fmt.Errorf("shopify: resource %q returned no rows to infer a schema from", s.resource)
	}
	var fields []batch.Field
	for k, v := range rows[0] {
		fields = append(fields, batch.Field{Name: k, Type: jsonLogicalType(v), Nullable: true})
	}
	return batch.Schema{Fields: fields}, nil
}

func jsonLogicalType(v any) batch.LogicalType {
	switch v.(type) {
	case float64:
		return batch.TypeFloat64
	case bool:
		return batch.TypeBool
	default:
		return batch.TypeString
	}
}

// fetchPage decodes the resource's envelope ({"orders": [...]}, etc.)
// and returns the Link header's next-page URL, if any.
func (s *Source) fetchPage(ctx context.Context, url string) ([]map[string]any, string, error) {
	var req, err = http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("X-Shopify-Access-Token", s.token)

	var resp, derr = s.client.Do(req)
	if derr != nil {
		return nil, "", resilience.Transient(derr)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, "", resilience.Transient(fmt.Errorf("shopify: %s returned %d", url, resp.StatusCode))
	}
	if resp.StatusCode >= 400 {
		return nil, "", fmt.Errorf("shopify: %s returned %d", url, resp.StatusCode)
	}

	var body, berr = io.ReadAll(resp.Body)
	if berr != nil {
		return nil, "", berr
	}

	var envelope map[string]json.RawMessage
	if uerr := json.Unmarshal(body, &envelope); uerr != nil {
		return nil, "", fmt.Errorf("shopify: decode %s: %w", url, uerr)
	}
	var rows []map[string]any
	if raw, ok := envelope[s.resource]; ok {
		if uerr := json.Unmarshal(raw, &rows); uerr != nil {
			return nil, "", fmt.Errorf("shopify: decode %q: %w", s.resource, uerr)
		}
	}
	return rows, parseNextLink(resp.Header.Get("Link")), nil
}

// parseNextLink extracts the rel="next" URL from Shopify's Link
// header, e.g. `<https://...>; rel="next"`.
func parseNextLink(header string) string {
	if header == "" {
		return ""
	}
	for _, part := range splitComma(header) {
		if contains(part, `rel="next"`) {
			var start = indexByte(part, '<')
			var end = indexByte(part, '>')
			if start >= 0 && end > start {
				return part[start+1 : end]
			}
		}
	}
	return ""
}

func splitComma(s string) []string {
	var out []string
	var start = 0
	for i := 0; i < len(s); i++ {
		if s[i] == ',' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	out = append(out, s[start:])
	return out
}

func contains(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}

func indexByte(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}

// Read implements connector.Source.
func (s *Source) Read(ctx context.Context, object string, columns []string, filters []connector.Filter) (connector.BatchIterator, error) {
	var schema, err = s.GetSchema(ctx, object)
	if err != nil {
		return nil, err
	}
	return &pageIterator{source: s, schema: schema, nextURL: s.baseURL() + "?limit=250"}, nil
}

// SupportsIncremental implements connector.Source.
func (s *Source) SupportsIncremental() bool { return true }

// ReadIncremental implements connector.Source: filters client-side,
// since the resource's updated_at_min query param is resource-specific
// and not uniformly documented across every Admin resource.
func (s *Source) ReadIncremental(ctx context.Context, object, cursorField string, cursorValue any, columns []string) (connector.BatchIterator, error) {
	var schema, err = s.GetSchema(ctx, object)
	if err != nil {
		return nil, err
	}
	return &pageIterator{
		source: s, schema: schema, nextURL: s.baseURL() + "?limit=250",
		cursorField: cursorField, cursorValue: cursorValue,
	}, nil
}

// GetCursorValue implements connector.Source.
func (s *Source) GetCursorValue(b *batch.Batch, field string) (any, error) {
	var col, ok = b.Column(field)
	if !ok || len(col) == 0 {
		return nil, nil
	}
	var max = fmt.Sprint(col[0])
	for _, v := range col[1:] {
		if str := fmt.Sprint(v); str > max {
			max = str
		}
	}
	return max, nil
}

// Health implements connector.Source.
func (s *Source) Health(ctx context.Context) (connector.Health, error) {
	var status, metrics = s.wrapper.Health()
	var state = connector.HealthHealthy
	switch status {
	case "degraded":
		state = connector.HealthDegraded
	case "unhealthy":
		state = connector.HealthUnhealthy
	}
	return connector.Health{State: state, Metrics: metrics}, nil
}

// pageIterator streams one API page per Next call, following Shopify's
// cursor-based Link header until it's absent.
type pageIterator struct {
	source      *Source
	schema      batch.Schema
	nextURL     string
	done        bool
	cursorField string
	cursorValue any
}

func (it *pageIterator) Next(ctx context.Context) (*batch.Batch, bool, error) {
	if it.done || it.nextURL == "" {
		return nil, false, nil
	}

	var rows []map[string]any
	var next string
	var err = it.source.wrapper.Do(ctx, func(ctx context.Context) error {
		var page, n, ferr = it.source.fetchPage(ctx, it.nextURL)
		rows, next = page, n
		return ferr
	})
	if err != nil {
		return nil, false, err
	}
	it.nextURL = next
	if next == "" {
		it.done = true
	}
	if len(rows) == 0 {
		return nil, false, nil
	}

	var columns = make([][]any, len(it.schema.Fields))
	var threshold = ""
	if it.cursorValue != nil {
		threshold = fmt.Sprint(it.cursorValue)
	}
	var kept = 0
	for _, row := range rows {
		if it.cursorField != "" && it.cursorValue != nil {
			if fmt.Sprint(row[it.cursorField]) <= threshold {
				continue
			}
		}
		for i, f := range it.schema.Fields {
			columns[i] = append(columns[i], row[f.Name])
		}
		kept++
	}
	if kept == 0 {
		return it.Next(ctx)
	}

	var b, berr = batch.New(it.schema, columns)
	if berr != nil {
		return nil, false, berr
	}
	return b, true, nil
}

func (it *pageIterator) Close() error { return nil }
