package warehouse

import (
	"context"
	"fmt"
	"sync"

	"github.com/poiesic/indexit/core"
)

// ClientRegistry is a QueryClient that routes each call to the client
// registered for its source id. Sources without a registration fall through
// to the default client when one is set.
type ClientRegistry struct {
	mu       sync.RWMutex
	clients  map[string]QueryClient
	fallback QueryClient
}

// NewClientRegistry creates a registry. fallback may be nil, in which case
// calls for unregistered sources fail.
func NewClientRegistry(fallback QueryClient) *ClientRegistry {
	return &ClientRegistry{
		clients:  make(map[string]QueryClient),
		fallback: fallback,
	}
}

// Register binds a source id to its warehouse client, replacing any previous
// binding.
func (r *ClientRegistry) Register(sourceID string, client QueryClient) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[sourceID] = client
}

func (r *ClientRegistry) clientFor(sourceID string) (QueryClient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if client, ok := r.clients[sourceID]; ok {
		return client, nil
	}
	if r.fallback != nil {
		return r.fallback, nil
	}
	return nil, fmt.Errorf("source %s: %w", sourceID, ErrClientRequired)
}

func (r *ClientRegistry) ExecuteQuery(ctx context.Context, sourceID, query string) (*QueryResult, error) {
	client, err := r.clientFor(sourceID)
	if err != nil {
		return nil, err
	}
	return client.ExecuteQuery(ctx, sourceID, query)
}

func (r *ClientRegistry) ListTables(ctx context.Context, sourceID, database, schema string) ([]string, error) {
	client, err := r.clientFor(sourceID)
	if err != nil {
		return nil, err
	}
	return client.ListTables(ctx, sourceID, database, schema)
}

func (r *ClientRegistry) DescribeTable(ctx context.Context, sourceID, database, schema, table string) ([]core.ColumnMetadata, error) {
	client, err := r.clientFor(sourceID)
	if err != nil {
		return nil, err
	}
	return client.DescribeTable(ctx, sourceID, database, schema, table)
}

func (r *ClientRegistry) EstimateRowCount(ctx context.Context, sourceID, database, schema, table string) (int64, error) {
	client, err := r.clientFor(sourceID)
	if err != nil {
		return 0, err
	}
	return client.EstimateRowCount(ctx, sourceID, database, schema, table)
}

// Close closes every registered client and the fallback. Clients registered
// under multiple source ids are closed once.
func (r *ClientRegistry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	seen := make(map[QueryClient]bool)
	for _, client := range r.clients {
		if seen[client] {
			continue
		}
		seen[client] = true
		if err := client.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if r.fallback != nil && !seen[r.fallback] {
		if err := r.fallback.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	r.clients = make(map[string]QueryClient)
	r.fallback = nil
	return firstErr
}
