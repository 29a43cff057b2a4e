// Package connector defines the uniform source/destination contracts,
// the typed registry, and industry-standard parameter alias resolution
// described in §4.5. Concrete connectors (CSV, Postgres, S3, REST,
// in-memory, Parquet, Google Sheets, Shopify) live in subpackages and
// register themselves with a Registry at process startup.
package connector

import (
	"context"
	"fmt"

	"github.com/sqlflow/sqlflow/pkg/batch"
)

// HealthState is the coarse health classification returned by Health.
type HealthState int

const (
	HealthHealthy HealthState = iota
	HealthDegraded
	HealthUnhealthy
)

func (s HealthState) String() string {
	switch s {
	case HealthHealthy:
		return "healthy"
	case HealthDegraded:
		return "degraded"
	default:
		return "unhealthy"
	}
}

// Health is the result of a connector health check.
type Health struct {
	State   HealthState
	Metrics map[string]any
}

// ConnectionTest is the result of test_connection().
type ConnectionTest struct {
	OK        bool
	Message   string
	LatencyMS int64
}

// Filter is a simple column comparison pushed down to a source's read,
// where the connector supports it; unsupported filters are simply
// ignored by the connector (they are re-applied by the SQL engine).
type Filter struct {
	Column string
	Op     string
	Value  any
}

// BatchIterator streams batches one at a time with bounded memory; the
// executor never holds more than the batch currently being consumed.
type BatchIterator interface {
	// Next returns the next batch, or (nil, false, nil) at end of
	// stream. An error aborts iteration.
	Next(ctx context.Context) (*batch.Batch, bool, error)
	Close() error
}

// Source is the contract every source connector implements.
type Source interface {
	// Configure validates and applies params as written in the pipeline
	// (each connector resolves aliases itself), returning
	// UnknownParameterError / ConfigurationError on failure.
	Configure(params map[string]any) error
	TestConnection(ctx context.Context) (ConnectionTest, error)
	Discover(ctx context.Context) ([]string, error)
	GetSchema(ctx context.Context, object string) (batch.Schema, error)
	Read(ctx context.Context, object string, columns []string, filters []Filter) (BatchIterator, error)
	SupportsIncremental() bool
	// ReadIncremental is only called when SupportsIncremental is true.
	// cursorValue is nil on a first run (full history).
	ReadIncremental(ctx context.Context, object, cursorField string, cursorValue any, columns []string) (BatchIterator, error)
	// GetCursorValue returns the maximum value of field observed in b.
	GetCursorValue(b *batch.Batch, field string) (any, error)
	Health(ctx context.Context) (Health, error)
}

// Destination is the contract every destination connector implements.
type Destination interface {
	Configure(params map[string]any) error
	TestConnection(ctx context.Context) (ConnectionTest, error)
	Write(ctx context.Context, object string, b *batch.Batch, mode string, mergeKeys []string) (WriteResult, error)
}

// WriteResult reports the effect of a Destination.Write call.
type WriteResult struct {
	RowsWritten int
}

// ConnectorTypeNotFoundError is returned by registry lookups for an
// unregistered connector type string.
type ConnectorTypeNotFoundError struct {
	Type string
	Kind string // "source" or "destination"
}

func (e *ConnectorTypeNotFoundError) Error() string {
	return fmt.Sprintf("%s connector type %q is not registered", e.Kind, e.Type)
}

// UnknownParameterError lists the accepted parameter set when a
// connector is configured with a key it doesn't recognize.
type UnknownParameterError struct {
	ConnectorType string
	Parameter     string
	Accepted      []string
}

func (e *UnknownParameterError) Error() string {
	return fmt.Sprintf("connector %q: unknown parameter %q (accepted: %v)", e.ConnectorType, e.Parameter, e.Accepted)
}

// ConfigurationError wraps a connector-specific configuration failure
// (missing required parameter, invalid type, reserved sync mode).
type ConfigurationError struct {
	ConnectorType string
	Message       string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("connector %q configuration error: %s", e.ConnectorType, e.Message)
}

// UnsupportedSyncModeError is returned when a connector is configured
// with a sync_mode that is reserved but not implemented (cdc), per §9
// Open Questions.
type UnsupportedSyncModeError struct {
	ConnectorType string
	SyncMode      string
}

func (e *UnsupportedSyncModeError) Error() string {
	return fmt.Sprintf("connector %q: sync_mode %q is reserved and not yet supported", e.ConnectorType, e.SyncMode)
}
