// Package search evaluates vault queries against a project's secrets.
package search

import (
	"context"
	"sync"

	"github.com/rendis/keyvault/internal/query"
	"github.com/rendis/keyvault/internal/store"
	"github.com/rendis/keyvault/pkg/schema"
)

// parallelThreshold is the candidate count above which evaluation is sharded
// across the worker pool. Below it the goroutine handoff costs more than the
// matching itself.
const parallelThreshold = 256

// maxCachedQueries caps the compiled-matcher cache so unique queries from
// callers cannot grow it without bound. Past the cap queries still run,
// uncached.
const maxCachedQueries = 1024

// Searcher runs vault queries against all secrets in a project.
// Thread-safe: compiled matchers are cached and reused across goroutines.
type Searcher struct {
	store  store.Store
	pool   *WorkerPool
	shards int

	mu    sync.RWMutex
	cache map[string]query.Matcher
}

// NewSearcher creates a searcher backed by st, evaluating on at most
// workers goroutines.
func NewSearcher(st store.Store, workers int) *Searcher {
	if workers <= 0 {
		workers = 4
	}
	return &Searcher{
		store:  st,
		pool:   NewWorkerPool(workers),
		shards: workers,
		cache:  make(map[string]query.Matcher),
	}
}

// Close shuts down the evaluation pool.
func (s *Searcher) Close() {
	s.pool.Shutdown()
}

// Search parses and compiles q, then returns the project's matching secrets
// in stable key order. An empty or blank query matches every secret.
func (s *Searcher) Search(ctx context.Context, project, q string) ([]*schema.Secret, error) {
	match, err := s.matcherFor(q)
	if err != nil {
		return nil, err
	}

	candidates, err := s.store.ListSecrets(ctx, project, "")
	if err != nil {
		return nil, err
	}

	if len(candidates) <= parallelThreshold {
		var out []*schema.Secret
		for _, sec := range candidates {
			if match(query.NewDocument(sec.SecretKey, sec.SecretValue)) {
				out = append(out, sec)
			}
		}
		return out, nil
	}

	verdicts := make([]bool, len(candidates))
	if err := s.evalParallel(ctx, match, candidates, verdicts); err != nil {
		return nil, err
	}
	var out []*schema.Secret
	for i, ok := range verdicts {
		if ok {
			out = append(out, candidates[i])
		}
	}
	return out, nil
}

// evalParallel shards the candidates across the pool. Verdicts land by index
// so the caller keeps store order regardless of shard completion order.
func (s *Searcher) evalParallel(ctx context.Context, match query.Matcher, candidates []*schema.Secret, verdicts []bool) error {
	chunk := (len(candidates) + s.shards - 1) / s.shards
	var wg sync.WaitGroup
	for start := 0; start < len(candidates); start += chunk {
		end := min(start+chunk, len(candidates))
		wg.Add(1)
		err := s.pool.Submit(ctx, func(ctx context.Context) error {
			defer wg.Done()
			for i := start; i < end; i++ {
				verdicts[i] = match(query.NewDocument(candidates[i].SecretKey, candidates[i].SecretValue))
			}
			return nil
		})
		if err != nil {
			wg.Done()
			wg.Wait()
			return err
		}
	}
	wg.Wait()
	return ctx.Err()
}

// matcherFor returns a cached compiled matcher or parses and caches a new one.
func (s *Searcher) matcherFor(q string) (query.Matcher, error) {
	s.mu.RLock()
	if m, ok := s.cache[q]; ok {
		s.mu.RUnlock()
		return m, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	// Double-check after acquiring write lock.
	if m, ok := s.cache[q]; ok {
		return m, nil
	}

	m, err := query.CompileQuery(q)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeQuerySyntax, err.Error()).WithCause(err)
	}
	if len(s.cache) < maxCachedQueries {
		s.cache[q] = m
	}
	return m, nil
}
