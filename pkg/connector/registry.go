package connector

import (
	"context"
	"sort"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/sqlflow/sqlflow/pkg/batch"
)

// SourceFactory constructs a fresh, unconfigured Source instance.
// Sources are stateful once Configured, so the registry hands out a new
// instance per use rather than sharing one.
type SourceFactory func() Source

// DestinationFactory constructs a fresh, unconfigured Destination.
type DestinationFactory func() Destination

// Registry holds the fixed, process-wide set of registered connector
// types. Registration happens once at startup (idempotent); the
// registry itself is read-only afterward and safe for concurrent
// lookups from many executing steps.
type Registry struct {
	mu           sync.RWMutex
	sources      map[string]SourceFactory
	destinations map[string]DestinationFactory

	schemaCache *lru.Cache[string, batch.Schema]
}

// NewRegistry returns an empty Registry with a bounded schema-discovery
// cache (capacity is independent of the number of registered types:
// it's the shared sources that used discover()/get_schema()).
func NewRegistry() *Registry {
	var cache, _ = lru.New[string, batch.Schema](256)
	return &Registry{
		sources:      make(map[string]SourceFactory),
		destinations: make(map[string]DestinationFactory),
		schemaCache:  cache,
	}
}

// RegisterSource registers a source connector type (idempotent: a
// repeat registration of the same type string replaces the factory).
func (r *Registry) RegisterSource(connectorType string, f SourceFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[strings.ToUpper(connectorType)] = f
}

// RegisterDestination registers a destination connector type.
func (r *Registry) RegisterDestination(connectorType string, f DestinationFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.destinations[strings.ToUpper(connectorType)] = f
}

// Source looks up and instantiates a fresh source of the given type.
func (r *Registry) Source(connectorType string) (Source, error) {
	r.mu.RLock()
	var f, ok = r.sources[strings.ToUpper(connectorType)]
	r.mu.RUnlock()
	if !ok {
		return nil, &ConnectorTypeNotFoundError{Type: connectorType, Kind: "source"}
	}
	return f(), nil
}

// Destination looks up and instantiates a fresh destination.
func (r *Registry) Destination(connectorType string) (Destination, error) {
	r.mu.RLock()
	var f, ok = r.destinations[strings.ToUpper(connectorType)]
	r.mu.RUnlock()
	if !ok {
		return nil, &ConnectorTypeNotFoundError{Type: connectorType, Kind: "destination"}
	}
	return f(), nil
}

// RegisteredSourceTypes returns the sorted set of registered source
// connector type strings, for diagnostics.
func (r *Registry) RegisteredSourceTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out = make([]string, 0, len(r.sources))
	for k := range r.sources {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// CachedSchema returns a previously discovered schema for (connectorType,
// object), if any.
func (r *Registry) CachedSchema(connectorType, object string) (batch.Schema, bool) {
	return r.schemaCache.Get(connectorType + "/" + object)
}

// CacheSchema records a discovered schema for (connectorType, object).
func (r *Registry) CacheSchema(connectorType, object string, schema batch.Schema) {
	r.schemaCache.Add(connectorType+"/"+object, schema)
}

// DiscoverWithCache calls src.GetSchema unless a cached schema exists.
func (r *Registry) DiscoverWithCache(ctx context.Context, connectorType, object string, src Source) (batch.Schema, error) {
	if s, ok := r.CachedSchema(connectorType, object); ok {
		return s, nil
	}
	var s, err = src.GetSchema(ctx, object)
	if err != nil {
		return batch.Schema{}, err
	}
	r.CacheSchema(connectorType, object, s)
	return s, nil
}
