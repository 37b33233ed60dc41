package core

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/charmbracelet/log"
)

// DefaultMaxPayload is the largest payload a store may return for one call.
const DefaultMaxPayload = 8 << 20

// Store is the backing store query protocol implemented by every index
// mirror (git snapshot, plain directory, remote sparse index).
type Store interface {
	// Kind returns the registered name of the store ("git", "dir", "sparse").
	Kind() string

	// Exists reports whether the configured index location is present.
	// It does not validate the content.
	Exists(ctx context.Context) bool

	// ReadAtRef returns the raw bytes of path at ref.
	// Missing paths yield an error wrapping ErrNotFound.
	ReadAtRef(ctx context.Context, ref BranchRef, path string) ([]byte, error)

	// ListAtRef returns every file path found recursively under the given
	// directories at ref.
	ListAtRef(ctx context.Context, ref BranchRef, paths []string) ([]string, error)

	// ListRefs returns the branch names known to the store.
	ListRefs(ctx context.Context) ([]string, error)
}

// StoreOptions configures a store instance.
type StoreOptions struct {
	// Location is the git directory, index root directory or base URL.
	Location   string
	MaxPayload int64
	// RateLimit caps remote requests per second; zero disables it.
	RateLimit float64
	// Token is sent as the Authorization header to a sparse index that
	// requires authentication.
	Token  string
	Logger *log.Logger
}

// Limit returns the effective payload cap.
func (o StoreOptions) Limit() int64 {
	if o.MaxPayload <= 0 {
		return DefaultMaxPayload
	}
	return o.MaxPayload
}

// Log returns the configured logger or the default one.
func (o StoreOptions) Log() *log.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return log.Default()
}

// Factory creates a store from options.
type Factory func(opts StoreOptions) (Store, error)

var (
	factories = make(map[string]Factory)
	mu        sync.RWMutex
)

// RegisterStore adds a store factory under the given kind.
func RegisterStore(kind string, factory Factory) {
	mu.Lock()
	defer mu.Unlock()
	factories[kind] = factory
}

// OpenStore creates a store of the given kind.
func OpenStore(kind string, opts StoreOptions) (Store, error) {
	mu.RLock()
	factory, ok := factories[kind]
	mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown store kind: %s", kind)
	}

	return factory(opts)
}

// SupportedStores returns all registered store kinds, sorted.
func SupportedStores() []string {
	mu.RLock()
	defer mu.RUnlock()

	kinds := make([]string, 0, len(factories))
	for k := range factories {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}
