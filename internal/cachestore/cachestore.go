// Package cachestore implements the persistent cache tiers of spec §5
// ("archive cache, package manifest cache... keyed by content-addressed
// or versioned keys and enforce both per-namespace and global quotas").
// Two pluggable backends — S3 and Redis — sit behind one Store
// interface, with LRU quota bookkeeping and a cron sweep job, per
// SPEC_FULL.md's DOMAIN STACK table.
package cachestore

import (
	"context"
	"errors"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// ErrNotFound is returned by Get when key is absent.
var ErrNotFound = errors.New("cachestore: key not found")

// Entry is one cached blob plus the bookkeeping the quota sweep needs.
type Entry struct {
	Key       string
	Namespace string
	Data      []byte
	Size      int64
	StoredAt  time.Time
}

// Store is the pluggable persistent-cache backend contract (spec §5).
// Implementations: S3Store (aws-sdk-go-v2), RedisStore (go-redis/v8).
type Store interface {
	Get(ctx context.Context, namespace, key string) ([]byte, error)
	Put(ctx context.Context, namespace, key string, data []byte) error
	Delete(ctx context.Context, namespace, key string) error
	List(ctx context.Context, namespace string) ([]string, error)
}

// Quota enforces "both per-namespace and global quotas (entry count and
// byte size); the quota sweep is LRU across the global scope" (spec §5).
type Quota struct {
	mu sync.Mutex

	globalMaxEntries int
	globalMaxBytes   int64
	nsMaxEntries     map[string]int

	order    *lru.Cache[string, *bookkeepingEntry] // global LRU across all namespaces
	byNS     map[string][]string
	totalSz  int64
	backend  Store
	log      logrus.FieldLogger
}

type bookkeepingEntry struct {
	namespace string
	key       string
	size      int64
}

// NewQuota constructs quota bookkeeping in front of backend. globalMaxEntries
// <= 0 disables the entry-count limit; globalMaxBytes <= 0 disables the
// byte-size limit.
func NewQuota(backend Store, globalMaxEntries int, globalMaxBytes int64, log logrus.FieldLogger) *Quota {
	capacity := globalMaxEntries
	if capacity <= 0 {
		capacity = 100000
	}
	order, _ := lru.New[string, *bookkeepingEntry](capacity)
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Quota{
		globalMaxEntries: globalMaxEntries,
		globalMaxBytes:   globalMaxBytes,
		nsMaxEntries:     map[string]int{},
		order:            order,
		byNS:             map[string][]string{},
		backend:          backend,
		log:              log,
	}
}

// SetNamespaceQuota caps the entry count for one namespace independent of
// the global quota.
func (q *Quota) SetNamespaceQuota(namespace string, maxEntries int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.nsMaxEntries[namespace] = maxEntries
}

func compositeKey(namespace, key string) string { return namespace + "\x00" + key }

// Get reads through to the backend and records an LRU touch on hit.
func (q *Quota) Get(ctx context.Context, namespace, key string) ([]byte, error) {
	data, err := q.backend.Get(ctx, namespace, key)
	if err != nil {
		return nil, err
	}
	q.mu.Lock()
	q.order.Get(compositeKey(namespace, key)) // bump recency
	q.mu.Unlock()
	return data, nil
}

// Put writes through and records bookkeeping, sweeping the global LRU
// tail if the byte-size quota is now exceeded.
func (q *Quota) Put(ctx context.Context, namespace, key string, data []byte) error {
	if err := q.backend.Put(ctx, namespace, key, data); err != nil {
		return err
	}

	q.mu.Lock()
	ck := compositeKey(namespace, key)
	if _, existed := q.order.Get(ck); !existed {
		q.byNS[namespace] = append(q.byNS[namespace], key)
	}
	q.order.Add(ck, &bookkeepingEntry{namespace: namespace, key: key, size: int64(len(data))})
	q.totalSz += int64(len(data))
	q.mu.Unlock()

	q.enforceQuotas(ctx)
	return nil
}

// enforceQuotas evicts the least-recently-used global entries until both
// the byte-size and per-namespace entry-count quotas are satisfied.
func (q *Quota) enforceQuotas(ctx context.Context) {
	for {
		q.mu.Lock()
		overBytes := q.globalMaxBytes > 0 && q.totalSz > q.globalMaxBytes
		overNS := false
		var nsToTrim string
		for ns, limit := range q.nsMaxEntries {
			if limit > 0 && len(q.byNS[ns]) > limit {
				overNS = true
				nsToTrim = ns
				break
			}
		}
		if !overBytes && !overNS {
			q.mu.Unlock()
			return
		}

		keys := q.order.Keys()
		if len(keys) == 0 {
			q.mu.Unlock()
			return
		}
		var victim string
		if overNS {
			for _, k := range keys {
				if entry, ok := q.order.Peek(k); ok && entry.namespace == nsToTrim {
					victim = k
					break
				}
			}
		}
		if victim == "" {
			victim = keys[0]
		}
		entry, ok := q.order.Peek(victim)
		q.mu.Unlock()
		if !ok {
			return
		}

		_ = q.backend.Delete(ctx, entry.namespace, entry.key)

		q.mu.Lock()
		q.order.Remove(victim)
		q.totalSz -= entry.size
		ks := q.byNS[entry.namespace]
		for i, k := range ks {
			if k == entry.key {
				q.byNS[entry.namespace] = append(ks[:i], ks[i+1:]...)
				break
			}
		}
		q.mu.Unlock()
		q.log.WithField("namespace", entry.namespace).WithField("key", entry.key).Debug("cache quota sweep evicted entry")
	}
}

// Delete removes an entry from both the backend and bookkeeping.
func (q *Quota) Delete(ctx context.Context, namespace, key string) error {
	if err := q.backend.Delete(ctx, namespace, key); err != nil {
		return err
	}
	q.mu.Lock()
	ck := compositeKey(namespace, key)
	if entry, ok := q.order.Peek(ck); ok {
		q.totalSz -= entry.size
	}
	q.order.Remove(ck)
	ks := q.byNS[namespace]
	for i, k := range ks {
		if k == key {
			q.byNS[namespace] = append(ks[:i], ks[i+1:]...)
			break
		}
	}
	q.mu.Unlock()
	return nil
}

// Sweeper schedules the quota sweep on an interval via robfig/cron/v3
// (spec §5 "the quota sweep is LRU across the global scope").
type Sweeper struct {
	cron *cron.Cron
}

// StartSweeper runs quota.enforceQuotas on the given cron schedule (e.g.
// "@every 5m") until Stop is called.
func StartSweeper(schedule string, quota *Quota) (*Sweeper, error) {
	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		quota.enforceQuotas(context.Background())
	})
	if err != nil {
		return nil, err
	}
	c.Start()
	return &Sweeper{cron: c}, nil
}

// Stop ends the sweep schedule.
func (s *Sweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}
