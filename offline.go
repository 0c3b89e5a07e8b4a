// Package offline provides the offline-first synchronization subsystem
// for the cooperative's inventory-counting workstation.
//
// The point-of-sale page must stay usable on a flaky in-store network:
// reference data (products, categories) is served from a durable local
// cache, counting sessions are drafted locally before they exist on the
// server, and field edits made while disconnected are queued and
// replayed in order once the server is reachable again.
//
// The subsystem is built from small packages that can be used on their
// own (store, refcache, draft, syncq, client, gateway); this package
// wires them into an Agent implementing the workflow end to end.
//
// # Quick Start
//
//	ctx := context.Background()
//	agent, err := offline.Open(ctx, "./data",
//	    offline.WithBaseURL("https://coop.example.org"),
//	)
//	if err != nil {
//	    panic(err)
//	}
//	defer agent.Close()
//
//	// Refresh the local reference cache (falls back to the cached copy
//	// when the server is unreachable).
//	ref, err := agent.RefreshReference(ctx)
//
//	// Record a field edit: the cache is patched immediately and the
//	// mutation queued for replay.
//	ean := "3560070976478"
//	err = agent.RecordEANUpdate(ctx, 42, &ean)
//
//	// Replay the queue once connectivity is back.
//	result, err := agent.Reconcile(ctx)
//
// The response-cache side of the original page (the interception layer
// that keeps the page shell and its assets available offline) runs as a
// separate process; see the gateway package and cmd/coopaz-gateway.
package offline

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/fabricedemange/coopaz-offline/client"
	"github.com/fabricedemange/coopaz-offline/codec"
	"github.com/fabricedemange/coopaz-offline/draft"
	"github.com/fabricedemange/coopaz-offline/gateway"
	"github.com/fabricedemange/coopaz-offline/model"
	"github.com/fabricedemange/coopaz-offline/refcache"
	"github.com/fabricedemange/coopaz-offline/store"
	"github.com/fabricedemange/coopaz-offline/syncq"
)

const (
	// DefaultSchemaVersion is the current local store schema.
	DefaultSchemaVersion uint32 = 3

	// DefaultGeneration names the current response-cache generation.
	DefaultGeneration = "coopaz-inventaire-v3"

	// reconcileInterval is the minimum spacing between reconciliations
	// triggered by connectivity events. A flapping link fires many such
	// events in a row; the limiter keeps them from stampeding the write
	// endpoint.
	reconcileInterval = 30 * time.Second
)

// DefaultMigrations returns the ordered upgrade steps bringing a local
// store from any earlier layout up to DefaultSchemaVersion.
func DefaultMigrations() []store.Migration {
	return []store.Migration{
		{
			Version: 2,
			Name:    "move reference stamp into meta partition",
			Run: func(tx *store.Txn) error {
				// The v1 layout kept the last-sync stamp as an extra record
				// inside the products partition.
				var info model.CacheInfo
				err := tx.Get(store.PartitionProducts, "meta", &info)
				if errors.Is(err, store.ErrKeyNotFound) {
					return nil
				}
				if err != nil {
					return err
				}
				if err := tx.Put(store.PartitionMeta, "cache", info); err != nil {
					return err
				}
				return tx.Delete(store.PartitionProducts, "meta")
			},
		},
		{
			Version: 3,
			Name:    "seed mutation queue sequence counter",
			Run: func(tx *store.Txn) error {
				var seq uint64
				err := tx.Get(store.PartitionMeta, "queue_seq", &seq)
				if err == nil {
					return nil
				}
				if !errors.Is(err, store.ErrKeyNotFound) {
					return err
				}
				return tx.Put(store.PartitionMeta, "queue_seq", uint64(0))
			},
		},
	}
}

// Agent is the workstation-side synchronization agent. Safe for
// concurrent use.
type Agent struct {
	store   *store.Store
	refs    *refcache.Manager
	drafts  *draft.Manager
	queue   *syncq.Queue
	client  *client.Client
	logger  *Logger
	metrics MetricsCollector

	generation string

	refreshGroup  singleflight.Group
	reconcileGate *rate.Limiter
}

// Open opens (creating if needed) the local store under dir, brings its
// schema up to date and wires the synchronization components on top of
// it.
func Open(ctx context.Context, dir string, optFns ...Option) (*Agent, error) {
	opts := applyOptions(optFns)

	c := opts.codec
	if c == nil {
		c = codec.Default
	}

	s, err := store.Open(ctx, store.Options{
		Dir:           dir,
		SchemaVersion: opts.schemaVersion,
		Migrations:    opts.migrations,
		Codec:         c,
		Logger:        opts.logger.Logger,
	})
	if err != nil {
		return nil, err
	}

	queue, err := syncq.NewQueue(ctx, s)
	if err != nil {
		_ = s.Close()
		return nil, err
	}

	return &Agent{
		store:  s,
		refs:   refcache.NewManager(s, c),
		drafts: draft.NewManager(s, c),
		queue:  queue,
		client: client.New(client.Options{
			BaseURL:    opts.baseURL,
			Timeout:    opts.httpTimeout,
			HTTPClient: opts.httpClient,
		}),
		logger:        opts.logger,
		metrics:       opts.metricsCollector,
		generation:    opts.generation,
		reconcileGate: rate.NewLimiter(rate.Every(reconcileInterval), 1),
	}, nil
}

// Close releases the local store. The agent must not be used afterwards.
func (a *Agent) Close() error {
	return a.store.Close()
}

// Store exposes the underlying durable store.
func (a *Agent) Store() *store.Store { return a.store }

// Reference exposes the reference-data cache manager.
func (a *Agent) Reference() *refcache.Manager { return a.refs }

// Drafts exposes the draft session manager.
func (a *Agent) Drafts() *draft.Manager { return a.drafts }

// Queue exposes the outbound mutation queue.
func (a *Agent) Queue() *syncq.Queue { return a.queue }

// GatewayCache returns a response cache for the configured generation,
// backed by the agent's store. Intended for embedding the interception
// layer in the same process instead of running cmd/coopaz-gateway.
func (a *Agent) GatewayCache() *gateway.Cache {
	return gateway.NewCache(a.store, a.generation)
}

// RefreshReference fetches the current reference data from the server
// and replaces the local cache wholesale. Concurrent callers share a
// single fetch.
//
// When the server is unreachable and a usable cached copy exists, that
// copy is returned instead of an error: staleness is acceptable,
// unavailability is not.
func (a *Agent) RefreshReference(ctx context.Context) (*model.ReferenceData, error) {
	v, err, _ := a.refreshGroup.Do("refresh", func() (any, error) {
		return a.refreshReference(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(*model.ReferenceData), nil
}

func (a *Agent) refreshReference(ctx context.Context) (*model.ReferenceData, error) {
	start := time.Now()
	ref, err := a.client.FetchReference(ctx)
	if err != nil {
		a.metrics.RecordRefresh(time.Since(start), err)
		cached, cacheErr := a.refs.GetCache(ctx)
		if cacheErr == nil && cached != nil {
			a.logger.WarnContext(ctx, "reference refresh failed, serving cached copy",
				"error", err,
			)
			return cached, nil
		}
		a.logger.LogRefresh(ctx, 0, 0, err)
		return nil, translateError(err)
	}

	if err := a.refs.SaveCache(ctx, ref.Products, ref.Categories); err != nil {
		a.metrics.RecordRefresh(time.Since(start), err)
		a.logger.LogRefresh(ctx, len(ref.Products), len(ref.Categories), err)
		return nil, translateError(err)
	}

	a.metrics.RecordRefresh(time.Since(start), nil)
	a.logger.LogRefresh(ctx, len(ref.Products), len(ref.Categories), nil)
	return ref, nil
}

// CachedReference returns the locally cached reference data without
// touching the network. nil when no usable cache exists.
func (a *Agent) CachedReference(ctx context.Context) (*model.ReferenceData, error) {
	ref, err := a.refs.GetCache(ctx)
	return ref, translateError(err)
}

// RecordEANUpdate applies a secondary-identifier edit locally and queues
// it for replay: the cached product is patched in place so the UI
// reflects the change immediately, and the mutation is appended to the
// outbound queue. value nil clears the identifier.
func (a *Agent) RecordEANUpdate(ctx context.Context, productID int64, value *string) error {
	if err := a.refs.UpdateEAN(ctx, productID, value); err != nil {
		return translateError(err)
	}
	err := a.queue.Enqueue(ctx, model.ActionUpdateEAN, productID, value)
	a.metrics.RecordEnqueue(err)
	a.logger.LogEnqueue(ctx, productID, err)
	return translateError(err)
}

// HasPendingChanges reports whether any queued mutation targets
// productID.
func (a *Agent) HasPendingChanges(productID int64) bool {
	return a.queue.HasPending(productID)
}

// Reconcile replays the outbound queue against the server, stopping at
// the first failure. A failed drain is normal life on a flaky link:
// everything not yet acknowledged stays queued for the next attempt.
func (a *Agent) Reconcile(ctx context.Context) (syncq.DrainResult, error) {
	start := time.Now()
	res, err := a.queue.Drain(ctx, func(ctx context.Context, mut model.Mutation) error {
		switch mut.Action {
		case model.ActionUpdateEAN:
			return a.client.UpdateEAN(ctx, mut.ProductID, mut.Value)
		default:
			return fmt.Errorf("unknown mutation action %q", mut.Action)
		}
	})
	a.metrics.RecordDrain(res.Applied, res.Remaining, time.Since(start), err)
	a.logger.LogDrain(ctx, res.Applied, res.Remaining, err)
	return res, translateError(err)
}

// OnConnectivityRestored is the entry point for background connectivity
// events. It reconciles at most once per rate-limit window; ran reports
// whether a drain was actually attempted.
func (a *Agent) OnConnectivityRestored(ctx context.Context) (res syncq.DrainResult, ran bool, err error) {
	if !a.reconcileGate.Allow() {
		return syncq.DrainResult{}, false, nil
	}
	res, err = a.Reconcile(ctx)
	if errors.Is(err, ErrDrainInProgress) {
		// Another drain is already doing the work.
		return syncq.DrainResult{}, false, nil
	}
	return res, true, err
}

// SaveDraftLines replaces the line set of the active draft session with
// a detached snapshot of lines.
func (a *Agent) SaveDraftLines(ctx context.Context, lines []model.DraftLine) error {
	err := a.drafts.SaveLines(ctx, lines)
	a.metrics.RecordDraftSave(err)
	a.logger.LogDraftSave(ctx, len(lines), err)
	return translateError(err)
}

// PromoteDraft turns a locally created draft session into a server-side
// one: it creates the session, replays the drafted lines in order and
// rewrites the draft's id in place. A draft already carrying a server id
// is returned unchanged; without an active draft it fails with
// ErrNoDraft.
func (a *Agent) PromoteDraft(ctx context.Context) (string, error) {
	d, err := a.drafts.Get(ctx)
	if err != nil {
		return "", translateError(err)
	}
	if d == nil {
		return "", ErrNoDraft
	}
	if !draft.IsLocalID(d.ID) {
		return d.ID, nil
	}

	sessionID, err := a.client.CreateSession(ctx, "")
	if err != nil {
		a.logger.LogPromotion(ctx, d.ID, 0, err)
		return "", translateError(err)
	}
	for _, line := range d.Lines {
		if err := a.client.SaveLine(ctx, sessionID, line); err != nil {
			a.logger.LogPromotion(ctx, d.ID, sessionID, err)
			return "", translateError(err)
		}
	}

	id := strconv.FormatInt(sessionID, 10)
	if err := a.drafts.SetID(ctx, id); err != nil {
		return "", translateError(err)
	}
	a.logger.LogPromotion(ctx, d.ID, sessionID, nil)
	return id, nil
}
