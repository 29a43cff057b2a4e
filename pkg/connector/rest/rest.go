// Package rest implements the REST source connector named in §4.5's
// registry key list: a paginated JSON HTTP API, authenticated with a
// bearer JWT, every call routed through pkg/resilience per §4.6.
package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/sqlflow/sqlflow/pkg/batch"
	"github.com/sqlflow/sqlflow/pkg/connector"
	"github.com/sqlflow/sqlflow/pkg/resilience"
)

var acceptedParams = []string{
	"base_url", "path", "bearer_token", "jwt_secret", "jwt_claims",
	"page_param", "page_size", "cursor_param", "sync_mode", "cursor_field", "primary_key",
}

// Source reads a paginated JSON array endpoint. Each element of the
// response array becomes one row; a flat field set is required (the
// same assumption §4.7's batch model makes for every connector).
type Source struct {
	client   *http.Client
	wrapper  *resilience.Wrapper
	baseURL  string
	path     string
	token    string
	pageParam string
	pageSize int
}

// New returns an unconfigured REST source.
func New() connector.Source { return &Source{client: http.DefaultClient, pageParam: "page", pageSize: 100} }

// Configure implements connector.Source. When jwt_secret is given
// instead of a pre-minted bearer_token, a short-lived HS256 token is
// signed locally with the supplied claims (matching an API that
// trusts a pre-shared signing secret rather than an OAuth exchange).
func (s *Source) Configure(params map[string]any) error {
	if err := connector.RejectUnknown("REST", params, acceptedParams); err != nil {
		return err
	}
	if err := connector.ValidateSyncMode("REST", params); err != nil {
		return err
	}
	if err := connector.ValidateRequired("REST", params, []string{"base_url", "path"}); err != nil {
		return err
	}
	s.baseURL = params["base_url"].(string)
	s.path = params["path"].(string)

	if v, ok := params["bearer_token"].(string); ok && v != "" {
		s.token = v
	} else if secret, ok := params["jwt_secret"].(string); ok && secret != "" {
		var claims = jwt.MapClaims{"exp": time.Now().Add(time.Hour).Unix()}
		if extra, ok := params["jwt_claims"].(map[string]any); ok {
			for k, v := range extra {
				claims[k] = v
			}
		}
		var token = jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
		var signed, err = token.SignedString([]byte(secret))
		if err != nil {
			return &connector.ConfigurationError{ConnectorType: "REST", Message: err.Error()}
		}
		s.token = signed
	}

	if v, ok := params["page_param"].(string); ok && v != "" {
		s.pageParam = v
	}
	if v, ok := params["page_size"]; ok {
		switch n := v.(type) {
		case int:
			s.pageSize = n
		case float64:
			s.pageSize = int(n)
		}
	}

	s.wrapper = resilience.New(s.baseURL, resilience.DefaultConfig())
	return nil
}

// TestConnection implements connector.Source.
func (s *Source) TestConnection(ctx context.Context) (connector.ConnectionTest, error) {
	var start = time.Now()
	var err = s.wrapper.Do(ctx, func(ctx context.Context) error {
		var _, _, fetchErr = s.fetchPage(ctx, s.path, 1)
		return fetchErr
	})
	if err != nil {
		return connector.ConnectionTest{OK: false, Message: err.Error()}, nil
	}
	return connector.ConnectionTest{OK: true, Message: "ok", LatencyMS: time.Since(start).Milliseconds()}, nil
}

// Discover implements connector.Source: a REST source exposes exactly
// the one configured resource path.
func (s *Source) Discover(ctx context.Context) ([]string, error) { return []string{s.path}, nil }

// GetSchema implements connector.Source by sampling the first page's
// first element and sniffing each field's JSON-native type.
func (s *Source) GetSchema(ctx context.Context, object string) (batch.Schema, error) {
	var rows []map[string]any
	var err = s.wrapper.Do(ctx, func(ctx context.Context) error {
		var page, _, ferr = s.fetchPage(ctx, object, 1)
		rows = page
		return ferr
	})
	if err != nil {
		return batch.Schema{}, err
	}
	if len(rows) == 0 {
		return batch.Schema{}, fmt.Errorf("rest: %q returned no rows to infer a schema from", object)
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

func (s *Source) fetchPage(ctx context.Context, object string, page int) ([]map[string]any, bool, error) {
	var u, err = url.Parse(s.baseURL + object)
	if err != nil {
		return nil, false, err
	}
	var q = u.Query()
	q.Set(s.pageParam, strconv.Itoa(page))
	q.Set("page_size", strconv.Itoa(s.pageSize))
	u.RawQuery = q.Encode()

	var req, rerr = http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if rerr != nil {
		return nil, false, rerr
	}
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	var resp, derr = s.client.Do(req)
	if derr != nil {
		return nil, false, resilience.Transient(derr)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, false, resilience.Transient(fmt.Errorf("rest: %s returned %d", u, resp.StatusCode))
	}
	if resp.StatusCode >= 400 {
		return nil, false, fmt.Errorf("rest: %s returned %d", u, resp.StatusCode)
	}

	var body, berr = io.ReadAll(resp.Body)
	if berr != nil {
		return nil, false, berr
	}

	var rows []map[string]any
	if uerr := json.Unmarshal(body, &rows); uerr != nil {
		return nil, false, fmt.Errorf("rest: decode %s: %w", u, uerr)
	}
	return rows, len(rows) == s.pageSize, nil
}

// Read implements connector.Source: pages through the resource until a
// short page signals the end.
func (s *Source) Read(ctx context.Context, object string, columns []string, filters []connector.Filter) (connector.BatchIterator, error) {
	var schema, err = s.GetSchema(ctx, object)
	if err != nil {
		return nil, err
	}
	return &pageIterator{source: s, object: object, schema: schema, nextPage: 1}, nil
}

// SupportsIncremental implements connector.Source.
func (s *Source) SupportsIncremental() bool { return true }

// ReadIncremental implements connector.Source: pages are fetched in
// full and rows are filtered locally, since the reference API has no
// documented server-side cursor filter.
func (s *Source) ReadIncremental(ctx context.Context, object, cursorField string, cursorValue any, columns []string) (connector.BatchIterator, error) {
	var schema, err = s.GetSchema(ctx, object)
	if err != nil {
		return nil, err
	}
	return &pageIterator{source: s, object: object, schema: schema, nextPage: 1, cursorField: cursorField, cursorValue: cursorValue}, nil
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

// Health implements connector.Source, exposing the resilience
// wrapper's circuit-breaker state and request count.
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

// pageIterator streams one HTTP page per Next call.
type pageIterator struct {
	source      *Source
	object      string
	schema      batch.Schema
	nextPage    int
	done        bool
	cursorField string
	cursorValue any
}

func (it *pageIterator) Next(ctx context.Context) (*batch.Batch, bool, error) {
	if it.done {
		return nil, false, nil
	}

	var rows []map[string]any
	var hasMore bool
	var err = it.source.wrapper.Do(ctx, func(ctx context.Context) error {
		var page, more, ferr = it.source.fetchPage(ctx, it.object, it.nextPage)
		rows, hasMore = page, more
		return ferr
	})
	if err != nil {
		return nil, false, err
	}
	it.nextPage++
	if !hasMore {
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
