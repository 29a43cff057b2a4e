// Package s3 implements the S3 source/destination connector named in
// §4.5's registry key list, reading/writing newline-delimited objects
// under a bucket/prefix through github.com/aws/aws-sdk-go.
package s3

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/klauspost/compress/gzip"

	"github.com/sqlflow/sqlflow/pkg/batch"
	"github.com/sqlflow/sqlflow/pkg/connector"
)

var acceptedParams = []string{
	"bucket", "prefix", "region", "access_key_id", "secret_access_key",
	"file_format", "compression", "sync_mode", "cursor_field", "primary_key",
}

// Source reads CSV objects (optionally gzip-compressed) under a
// bucket/prefix, one object per key, via the S3 API.
type Source struct {
	client      *s3.S3
	bucket      string
	prefix      string
	compression string
}

// New returns an unconfigured S3 source.
func New() connector.Source { return &Source{} }

// Configure implements connector.Source.
func (s *Source) Configure(params map[string]any) error {
	if err := connector.RejectUnknown("S3", params, acceptedParams); err != nil {
		return err
	}
	if err := connector.ValidateSyncMode("S3", params); err != nil {
		return err
	}
	if err := connector.ValidateRequired("S3", params, []string{"bucket"}); err != nil {
		return err
	}

	s.bucket = params["bucket"].(string)
	if v, ok := params["prefix"].(string); ok {
		s.prefix = v
	}
	if v, ok := params["compression"].(string); ok {
		s.compression = v
	}

	var cfg = aws.NewConfig()
	if v, ok := params["region"].(string); ok && v != "" {
		cfg = cfg.WithRegion(v)
	}
	if keyID, ok := params["access_key_id"].(string); ok && keyID != "" {
		var secret, _ = params["secret_access_key"].(string)
		cfg = cfg.WithCredentials(credentials.NewStaticCredentials(keyID, secret, ""))
	}

	var sess, err = session.NewSession(cfg)
	if err != nil {
		return &connector.ConfigurationError{ConnectorType: "S3", Message: err.Error()}
	}
	s.client = s3.New(sess)
	return nil
}

// TestConnection implements connector.Source.
func (s *Source) TestConnection(ctx context.Context) (connector.ConnectionTest, error) {
	var start = time.Now()
	var _, err = s.client.HeadBucketWithContext(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	if err != nil {
		return connector.ConnectionTest{OK: false, Message: err.Error()}, nil
	}
	return connector.ConnectionTest{OK: true, Message: "ok", LatencyMS: time.Since(start).Milliseconds()}, nil
}

// Discover implements connector.Source: lists object keys under prefix.
func (s *Source) Discover(ctx context.Context) ([]string, error) {
	var out []string
	var err = s.client.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket), Prefix: aws.String(s.prefix),
	}, func(page *s3.ListObjectsV2Output, lastPage bool) bool {
		for _, obj := range page.Contents {
			out = append(out, aws.StringValue(obj.Key))
		}
		return true
	})
	return out, err
}

// GetSchema implements connector.Source: infers columns from the
// header row and the first data row of object.
func (s *Source) GetSchema(ctx context.Context, object string) (batch.Schema, error) {
	var r, err = s.openCSV(ctx, object)
	if err != nil {
		return batch.Schema{}, err
	}
	var header, herr = r.Read()
	if herr != nil {
		return batch.Schema{}, fmt.Errorf("s3: read header of %q: %w", object, herr)
	}
	var sample, _ = r.Read()

	var fields = make([]batch.Field, len(header))
	for i, name := range header {
		var t = batch.TypeString
		if i < len(sample) {
			t = sniffType(sample[i])
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

func (s *Source) openCSV(ctx context.Context, key string) (*csv.Reader, error) {
	var out, err = s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(key)})
	if err != nil {
		return nil, fmt.Errorf("s3: get object %q: %w", key, err)
	}

	if s.compression == "gzip" || strings.HasSuffix(key, ".gz") {
		var gz, gerr = gzip.NewReader(out.Body)
		if gerr != nil {
			return nil, gerr
		}
		return csv.NewReader(bufio.NewReader(gz)), nil
	}
	return csv.NewReader(bufio.NewReader(out.Body)), nil
}

// Read implements connector.Source.
func (s *Source) Read(ctx context.Context, object string, columns []string, filters []connector.Filter) (connector.BatchIterator, error) {
	var schema, err = s.GetSchema(ctx, object)
	if err != nil {
		return nil, err
	}
	var b, berr = s.readAll(ctx, object, schema, "", nil)
	if berr != nil {
		return nil, berr
	}
	return &onceIterator{b: b}, nil
}

// SupportsIncremental implements connector.Source: true; each object is
// read in full and its rows are filtered by cursorField (see
// ReadIncremental).
func (s *Source) SupportsIncremental() bool { return true }

// ReadIncremental implements connector.Source: rows are filtered by
// comparing cursorField against cursorValue after reading the object.
func (s *Source) ReadIncremental(ctx context.Context, object, cursorField string, cursorValue any, columns []string) (connector.BatchIterator, error) {
	var schema, err = s.GetSchema(ctx, object)
	if err != nil {
		return nil, err
	}
	var b, berr = s.readAll(ctx, object, schema, cursorField, cursorValue)
	if berr != nil {
		return nil, berr
	}
	return &onceIterator{b: b}, nil
}

func (s *Source) readAll(ctx context.Context, object string, schema batch.Schema, cursorField string, cursorValue any) (*batch.Batch, error) {
	var r, err = s.openCSV(ctx, object)
	if err != nil {
		return nil, err
	}
	if _, herr := r.Read(); herr != nil {
		return nil, fmt.Errorf("s3: read header of %q: %w", object, herr)
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
	for {
		var record, rerr = r.Read()
		if rerr != nil {
			break
		}
		if cursorIdx >= 0 && hasThreshold && cursorIdx < len(record) {
			if record[cursorIdx] <= threshold {
				continue
			}
		}
		for i, f := range schema.Fields {
			if i < len(record) {
				columns[i] = append(columns[i], convert(record[i], f.Type))
			}
		}
	}
	return batch.New(schema, columns)
}

func convert(raw string, t batch.LogicalType) any {
	switch t {
	case batch.TypeInt64:
		var v, err = strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil
		}
		return v
	case batch.TypeFloat64:
		var v, err = strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil
		}
		return v
	default:
		return raw
	}
}

// GetCursorValue implements connector.Source.
func (s *Source) GetCursorValue(b *batch.Batch, field string) (any, error) {
	var col, ok = b.Column(field)
	if !ok || len(col) == 0 {
		return nil, nil
	}
	var max = fmt.Sprint(col[0])
	for _, v := range col[1:] {
		if s := fmt.Sprint(v); s > max {
			max = s
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
	return connector.Health{State: state, Metrics: map[string]any{"bucket": s.bucket}}, nil
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

// Dest writes a batch as one CSV object per Write call, keyed under
// prefix + object. APPEND and MERGE are not meaningful against
// immutable object storage and are rejected.
type Dest struct {
	client *s3.S3
	bucket string
	prefix string
}

// NewDest returns an unconfigured S3 destination.
func NewDest() connector.Destination { return &Dest{} }

// Configure implements connector.Destination.
func (d *Dest) Configure(params map[string]any) error {
	if err := connector.RejectUnknown("S3", params, acceptedParams); err != nil {
		return err
	}
	if err := connector.ValidateRequired("S3", params, []string{"bucket"}); err != nil {
		return err
	}
	d.bucket = params["bucket"].(string)
	if v, ok := params["prefix"].(string); ok {
		d.prefix = v
	}

	var cfg = aws.NewConfig()
	if v, ok := params["region"].(string); ok && v != "" {
		cfg = cfg.WithRegion(v)
	}
	var sess, err = session.NewSession(cfg)
	if err != nil {
		return &connector.ConfigurationError{ConnectorType: "S3", Message: err.Error()}
	}
	d.client = s3.New(sess)
	return nil
}

// TestConnection implements connector.Destination.
func (d *Dest) TestConnection(ctx context.Context) (connector.ConnectionTest, error) {
	var _, err = d.client.HeadBucketWithContext(ctx, &s3.HeadBucketInput{Bucket: aws.String(d.bucket)})
	if err != nil {
		return connector.ConnectionTest{OK: false, Message: err.Error()}, nil
	}
	return connector.ConnectionTest{OK: true, Message: "ok"}, nil
}

// Write implements connector.Destination: only replace is meaningful
// for an object store (each write fully owns its key).
func (d *Dest) Write(ctx context.Context, object string, b *batch.Batch, mode string, mergeKeys []string) (connector.WriteResult, error) {
	if mode != "replace" && mode != "" {
		return connector.WriteResult{}, &connector.ConfigurationError{ConnectorType: "S3", Message: mode + " is not supported against object storage"}
	}

	var buf bytes.Buffer
	var w = csv.NewWriter(&buf)
	var schema = b.Schema()
	var header = make([]string, len(schema.Fields))
	for i, f := range schema.Fields {
		header[i] = f.Name
	}
	if err := w.Write(header); err != nil {
		return connector.WriteResult{}, err
	}
	for _, row := range b.Rows() {
		var record = make([]string, len(row))
		for i, v := range row {
			record[i] = fmt.Sprint(v)
		}
		if err := w.Write(record); err != nil {
			return connector.WriteResult{}, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return connector.WriteResult{}, err
	}

	var key = d.prefix + object + ".csv"
	var _, err = d.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket: aws.String(d.bucket), Key: aws.String(key), Body: bytes.NewReader(buf.Bytes()),
	})
	if err != nil {
		return connector.WriteResult{}, err
	}
	return connector.WriteResult{RowsWritten: b.RowCount()}, nil
}
