package core

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
)

const defaultConcurrency = 15

// Loader resolves every version of a crate.
type Loader func(ctx context.Context, name string) (*ResolvedPackage, error)

// BulkResolve resolves several crates in parallel.
// Individual failures are silently ignored - those names are omitted from results.
// Returns a map of normalized name to ResolvedPackage.
func BulkResolve(ctx context.Context, names []string, load Loader) map[string]*ResolvedPackage {
	return BulkResolveWithConcurrency(ctx, names, load, defaultConcurrency)
}

// BulkResolveWithConcurrency resolves crates with a custom concurrency limit.
func BulkResolveWithConcurrency(ctx context.Context, names []string, load Loader, concurrency int) map[string]*ResolvedPackage {
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}

	results := make(map[string]*ResolvedPackage)
	var mu sync.Mutex
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	for _, name := range names {
		wg.Add(1)
		go func(n string) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				return
			}

			pkg, err := load(ctx, n)
			if err == nil && pkg != nil {
				mu.Lock()
				results[NormalizeName(n)] = pkg
				mu.Unlock()
			}
		}(name)
	}

	wg.Wait()
	return results
}

// ReadLimited reads r to EOF, failing with ErrTooLarge once more than limit
// bytes have been seen. Nothing is truncated silently.
func ReadLimited(r io.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		limit = DefaultMaxPayload
	}
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w (%d bytes)", ErrTooLarge, limit)
	}
	return data, nil
}

// LimitedBuffer is an io.Writer that refuses to grow past Limit bytes.
// It is used to capture subprocess output under the payload cap.
type LimitedBuffer struct {
	Limit    int64
	buf      bytes.Buffer
	overflow bool
}

func (b *LimitedBuffer) Write(p []byte) (int, error) {
	limit := b.Limit
	if limit <= 0 {
		limit = DefaultMaxPayload
	}
	if int64(b.buf.Len()+len(p)) > limit {
		b.overflow = true
		return 0, ErrTooLarge
	}
	return b.buf.Write(p)
}

// Overflowed reports whether a write was rejected.
func (b *LimitedBuffer) Overflowed() bool {
	return b.overflow
}

// Bytes returns the captured output.
func (b *LimitedBuffer) Bytes() []byte {
	return b.buf.Bytes()
}
