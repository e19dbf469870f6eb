package services

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

const (
	DefaultConcurrency = 5
	DefaultChunkSize   = 1000
)

type batchKey struct {
	OrgUnit string
	Period  string
}

// batch is one request's worth of records for a single (org unit, period).
type batch[T any] struct {
	batchKey
	Index int
	Items []T
}

// groupBatches groups items by (org unit, period) in first-seen order and
// splits each group into chunks of at most chunkSize items.
func groupBatches[T any](items []T, key func(T) batchKey, chunkSize int) []batch[T] {
	if chunkSize < 1 {
		chunkSize = DefaultChunkSize
	}
	var order []batchKey
	groups := map[batchKey][]T{}
	for _, it := range items {
		k := key(it)
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], it)
	}

	var out []batch[T]
	for _, k := range order {
		group := groups[k]
		for start := 0; start < len(group); start += chunkSize {
			end := min(start+chunkSize, len(group))
			out = append(out, batch[T]{batchKey: k, Index: len(out), Items: group[start:end]})
		}
	}
	return out
}

// runBatches calls fn for every batch with at most concurrency calls in
// flight. Results keep batch order. A failing or panicking batch yields its
// own stats and never stops the others.
func runBatches[T any](ctx context.Context, batches []batch[T], concurrency int, fn func(context.Context, batch[T]) ReplicationStats) []ReplicationStats {
	return runLimited(batches, concurrency, func(b batch[T]) ReplicationStats {
		return fn(ctx, b)
	}, func(b batch[T], recovered any) ReplicationStats {
		return ReplicationStats{
			OrgUnitID:     b.OrgUnit,
			Period:        b.Period,
			ErrorMessages: []string{fmt.Sprintf("batch %d panicked: %v", b.Index, recovered)},
		}
	})
}

// runLimited maps fn over inputs on an errgroup limited to concurrency
// goroutines. onPanic turns a recovered panic into that input's result.
func runLimited[T, R any](inputs []T, concurrency int, fn func(T) R, onPanic func(T, any) R) []R {
	if concurrency < 1 {
		concurrency = DefaultConcurrency
	}
	results := make([]R, len(inputs))

	var g errgroup.Group
	g.SetLimit(concurrency)
	for i, in := range inputs {
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					results[i] = onPanic(in, r)
				}
			}()
			results[i] = fn(in)
			return nil
		})
	}
	_ = g.Wait()
	return results
}
