// Package googlesheets implements the GOOGLE_SHEETS source connector
// named in §4.5's registry key list, reading a spreadsheet range
// through github.com/google/google-api-go-client's Sheets v4 service.
package googlesheets

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/sqlflow/sqlflow/pkg/batch"
	"github.com/sqlflow/sqlflow/pkg/connector"
)

var acceptedParams = []string{
	"spreadsheet_id", "sheet_name", "api_key", "credentials_json",
	"has_header", "sync_mode", "cursor_field", "primary_key",
}

// Source reads one sheet's used range as a flat, header-first table.
type Source struct {
	svc           *sheets.Service
	spreadsheetID string
	sheetName     string
	hasHeader     bool
}

// New returns an unconfigured Google Sheets source.
func New() connector.Source { return &Source{hasHeader: true} }

// Configure implements connector.Source.
func (s *Source) Configure(params map[string]any) error {
	if err := connector.RejectUnknown("GOOGLE_SHEETS", params, acceptedParams); err != nil {
		return err
	}
	if err := connector.ValidateSyncMode("GOOGLE_SHEETS", params); err != nil {
		return err
	}
	if err := connector.ValidateRequired("GOOGLE_SHEETS", params, []string{"spreadsheet_id", "sheet_name"}); err != nil {
		return err
	}
	s.spreadsheetID = params["spreadsheet_id"].(string)
	s.sheetName = params["sheet_name"].(string)
	if hh, ok := params["has_header"].(bool); ok {
		s.hasHeader = hh
	}

	var opts []option.ClientOption
	if key, ok := params["api_key"].(string); ok && key != "" {
		opts = append(opts, option.WithAPIKey(key))
	} else if creds, ok := params["credentials_json"].(string); ok && creds != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(creds)))
	} else {
		return &connector.ConfigurationError{ConnectorType: "GOOGLE_SHEETS", Message: "one of api_key or credentials_json is required"}
	}

	var svc, err = sheets.NewService(context.Background(), opts...)
	if err != nil {
		return &connector.ConfigurationError{ConnectorType: "GOOGLE_SHEETS", Message: err.Error()}
	}
	s.svc = svc
	return nil
}

// TestConnection implements connector.Source.
func (s *Source) TestConnection(ctx context.Context) (connector.ConnectionTest, error) {
	var start = time.Now()
	var _, err = s.svc.Spreadsheets.Get(s.spreadsheetID).Context(ctx).Do()
	if err != nil {
		return connector.ConnectionTest{OK: false, Message: err.Error()}, nil
	}
	return connector.ConnectionTest{OK: true, Message: "ok", LatencyMS: time.Since(start).Milliseconds()}, nil
}

// Discover implements connector.Source: lists sheet titles in the
// spreadsheet.
func (s *Source) Discover(ctx context.Context) ([]string, error) {
	var ss, err = s.svc.Spreadsheets.Get(s.spreadsheetID).Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	var out []string
	for _, sheet := range ss.Sheets {
		out = append(out, sheet.Properties.Title)
	}
	return out, nil
}

func (s *Source) fetchValues(ctx context.Context) ([][]any, error) {
	var resp, err = s.svc.Spreadsheets.Values.Get(s.spreadsheetID, s.sheetName).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("googlesheets: read %q: %w", s.sheetName, err)
	}
	return resp.Values, nil
}

// GetSchema implements connector.Source: the header row names the
// columns; every value is sniffed from the first data row.
func (s *Source) GetSchema(ctx context.Context, object string) (batch.Schema, error) {
	var values, err = s.fetchValues(ctx)
	if err != nil {
		return batch.Schema{}, err
	}
	if len(values) == 0 {
		return batch.Schema{}, fmt.Errorf("googlesheets: %q is empty", s.sheetName)
	}

	var header []string
	var dataStart = 0
	if s.hasHeader {
		for _, v := range values[0] {
			header = append(header, fmt.Sprint(v))
		}
		dataStart = 1
	} else {
		for i := range values[0] {
			header = append(header, fmt.Sprintf("col_%d", i))
		}
	}

	var fields = make([]batch.Field, len(header))
	for i, name := range header {
		var t = batch.TypeString
		if dataStart < len(values) && i < len(values[dataStart]) {
			t = sniffType(fmt.Sprint(values[dataStart][i]))
		}
		fields[i] = batch.Field{Name: name, Type: t, Nullable: true}
	}
	return batch.Schema{Fields: fields}, nil
}

func sniffType(v string) batch.LogicalType {
	if _, err := strconv.ParseInt(v, 10, 64); err == nil {
		return batch.TypeInt64
	}
	if _, err := strconv.ParseFloat(v, 64); err == nil {
		return batch.TypeFloat64
	}
	return batch.TypeString
}

func convert(v string, t batch.LogicalType) any {
	switch t {
	case batch.TypeInt64:
		var n, err = strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil
		}
		return n
	case batch.TypeFloat64:
		var n, err = strconv.ParseFloat(v, 64)
		if err != nil {
			return nil
		}
		return n
	default:
		return v
	}
}

// Read implements connector.Source.
func (s *Source) Read(ctx context.Context, object string, columns []string, filters []connector.Filter) (connector.BatchIterator, error) {
	var b, err = s.readBatch(ctx, "", nil)
	if err != nil {
		return nil, err
	}
	return &onceIterator{b: b}, nil
}

// SupportsIncremental implements connector.Source.
func (s *Source) SupportsIncremental() bool { return true }

// ReadIncremental implements connector.Source.
func (s *Source) ReadIncremental(ctx context.Context, object, cursorField string, cursorValue any, columns []string) (connector.BatchIterator, error) {
	var b, err = s.readBatch(ctx, cursorField, cursorValue)
	if err != nil {
		return nil, err
	}
	return &onceIterator{b: b}, nil
}

func (s *Source) readBatch(ctx context.Context, cursorField string, cursorValue any) (*batch.Batch, error) {
	var schema, serr = s.GetSchema(ctx, s.sheetName)
	if serr != nil {
		return nil, serr
	}
	var values, verr = s.fetchValues(ctx)
	if verr != nil {
		return nil, verr
	}

	var dataStart = 0
	if s.hasHeader {
		dataStart = 1
	}

	var cursorIdx = -1
	if cursorField != "" {
		cursorIdx = schema.IndexOf(cursorField)
	}
	var threshold string
	var hasThreshold = cursorValue != nil
	if hasThreshold {
		threshold = fmt.Sprint(cursorValue)
	}

	var columns = make([][]any, len(schema.Fields))
	for r := dataStart; r < len(values); r++ {
		var row = values[r]
		if cursorIdx >= 0 && hasThreshold && cursorIdx < len(row) {
			if fmt.Sprint(row[cursorIdx]) <= threshold {
				continue
			}
		}
		for i, f := range schema.Fields {
			if i < len(row) {
				columns[i] = append(columns[i], convert(fmt.Sprint(row[i]), f.Type))
			} else {
				columns[i] = append(columns[i], nil)
			}
		}
	}
	return batch.New(schema, columns)
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
	var test, _ = s.TestConnection(ctx)
	var state = connector.HealthHealthy
	if !test.OK {
		state = connector.HealthUnhealthy
	}
	return connector.Health{State: state, Metrics: map[string]any{"spreadsheet_id": s.spreadsheetID}}, nil
}

type onceIterator struct {
	b    *batch.Batch
	done bool
}

func (it *onceIterator) Next(ctx context.Context) (*batch.Batch, bool, error) {
	if it.done || it.b.RowCount() == 0 {
		return nil, false, nil
	}
	it.done = true
	return it.b, true, nil
}
func (it *onceIterator) Close() error { return nil }
