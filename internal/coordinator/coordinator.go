package coordinator

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"ShardSearch/internal/metrics"
	"ShardSearch/internal/plan"
)

var (
	ErrNoShards    = errors.New("coordinator: no shards configured")
	ErrNoReplicas  = errors.New("coordinator: shard has no replicas")
	ErrShardFailed = errors.New("coordinator: shard failed")
)

const tracerName = "ShardSearch/internal/coordinator"

// ShardClient is the interface that shard replicas must implement.
// The Coordinator uses this to fan out query plans and check health.
type ShardClient interface {
	// Execute sends a query plan to a shard replica and returns its response.
	Execute(ctx context.Context, p *plan.QueryPlan) (*plan.ShardResponse, error)

	// Health checks the health of a shard replica.
	Health(ctx context.Context) (*plan.ShardHealth, error)
}

// Shard is one partition of a collection and the replicas that serve it.
type Shard struct {
	ID       string
	Replicas []ShardClient
}

// Options carries the Coordinator's collaborators. All are optional.
type Options struct {
	Logger  *slog.Logger
	Metrics *metrics.Metrics

	// CPUTimeSupported reports whether shards can enforce cpuAllowed.
	CPUTimeSupported bool
}

// Coordinator fans a collection's queries out to one replica of every shard
// and merges the results. It performs no search work itself; budgets are
// enforced inside each shard.
type Coordinator struct {
	config     Config
	collection string
	shards     []Shard
	next       []atomic.Uint64 // round-robin cursor per shard

	cpuSupported bool
	logger       *slog.Logger
	metrics      *metrics.Metrics
	tracer       trace.Tracer

	healthMu sync.RWMutex
	health   map[string]*plan.ShardHealth // shardID → last known health
}

// New creates a Coordinator for collection over shards.
func New(config Config, collection string, shards []Shard, opts Options) *Coordinator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		config:       config,
		collection:   collection,
		shards:       shards,
		next:         make([]atomic.Uint64, len(shards)),
		cpuSupported: opts.CPUTimeSupported,
		logger:       logger.With("collection", collection),
		metrics:      opts.Metrics,
		tracer:       otel.Tracer(tracerName),
		health:       make(map[string]*plan.ShardHealth),
	}
}

// ResponseHeader is the client-visible response header.
type ResponseHeader struct {
	Status         int          `json:"status"`
	QTime          int64        `json:"QTime"`
	PartialResults plan.Partial `json:"partialResults,omitempty"`
}

// Response holds the merged documents.
type Response struct {
	NumFound uint64           `json:"numFound"`
	Start    int              `json:"start"`
	Docs     []map[string]any `json:"docs"`
}

// ClientResponse is the merged result returned to the client.
type ClientResponse struct {
	ResponseHeader ResponseHeader `json:"responseHeader"`
	Response       Response       `json:"response"`
}

// ParseParams parses client query parameters against this coordinator's
// configuration and CPU capability.
func (c *Coordinator) ParseParams(v url.Values) (*Request, error) {
	req, err := parseParams(v, c.cpuSupported, c.config)
	if err != nil {
		return nil, err
	}
	req.Collection = c.collection
	return req, nil
}

// Search executes req on every shard and merges the results.
//
// Every shard must answer: a failed shard fails the query with
// ErrShardFailed. Budget exhaustion on any shard is reported only through
// ResponseHeader.PartialResults.
func (c *Coordinator) Search(ctx context.Context, req *Request) (*ClientResponse, error) {
	start := time.Now()

	ctx, span := c.tracer.Start(ctx, "coordinator.Search", trace.WithAttributes(
		attribute.String("collection", c.collection),
		attribute.String("budget.kind", req.Budget.Kind.String()),
		attribute.Int64("budget.limit_ms", req.Budget.LimitMillis),
		attribute.Bool("multi_threaded", req.MultiThreaded),
	))
	defer span.End()

	if len(c.shards) == 0 {
		return nil, ErrNoShards
	}
	if err := req.Budget.Validate(c.cpuSupported); err != nil {
		return nil, badRequest(err)
	}

	if c.config.QueryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.QueryTimeout)
		defer cancel()
	}

	p := c.buildQueryPlan(req)
	responses, err := c.fanOut(ctx, p)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.metrics.ObserveQuery("error", time.Since(start))
		c.logger.Warn("query failed", "plan_id", p.PlanID, "error", err)
		return nil, err
	}

	markers := make([]plan.Partial, len(responses))
	var numFound uint64
	for i, resp := range responses {
		markers[i] = resp.Partial
		numFound += resp.NumFound
	}
	partial := plan.MergePartial(markers...).Suppress(req.Budget.AllowPartialSuppression)

	merged := mergeRows(responses, p.Sort, p.Limit)
	docs := make([]map[string]any, 0, min(req.Rows, len(merged)))
	if req.Start < len(merged) {
		end := req.Start + min(req.Rows, len(merged)-req.Start)
		for i := req.Start; i < end; i++ {
			docs = append(docs, toDoc(merged[i]))
		}
	}

	qtime := time.Since(start)
	span.SetAttributes(
		attribute.String("partial_results", partial.String()),
		attribute.Int64("num_found", int64(numFound)),
	)
	outcome := "ok"
	if partial.Truncated() {
		outcome = "partial"
	}
	c.metrics.ObserveQuery(outcome, qtime)

	return &ClientResponse{
		ResponseHeader: ResponseHeader{
			Status:         0,
			QTime:          qtime.Milliseconds(),
			PartialResults: partial,
		},
		Response: Response{
			NumFound: numFound,
			Start:    req.Start,
			Docs:     docs,
		},
	}, nil
}

// fanOut sends the plan to one replica of every shard in parallel and waits
// for all of them. The first failure cancels the others.
func (c *Coordinator) fanOut(ctx context.Context, p *plan.QueryPlan) ([]*plan.ShardResponse, error) {
	responses := make([]*plan.ShardResponse, len(c.shards))
	g, gctx := errgroup.WithContext(ctx)

	for i := range c.shards {
		g.Go(func() error {
			resp, err := c.executeShard(gctx, i, p)
			if err != nil {
				return err
			}
			responses[i] = resp
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return responses, nil
}

func (c *Coordinator) executeShard(ctx context.Context, i int, p *plan.QueryPlan) (*plan.ShardResponse, error) {
	sh := c.shards[i]
	ctx, span := c.tracer.Start(ctx, "coordinator.shard", trace.WithAttributes(
		attribute.String("shard", sh.ID),
	))
	defer span.End()

	client, err := c.pickReplica(i)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrShardFailed, sh.ID, err)
	}

	resp, err := client.Execute(ctx, p)
	if err == nil && resp == nil {
		err = errors.New("empty response")
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.metrics.ObserveShardFailure(sh.ID)
		c.logger.Warn("shard query failed", "shard", sh.ID, "plan_id", p.PlanID, "error", err)
		return nil, fmt.Errorf("%w: %s: %w", ErrShardFailed, sh.ID, err)
	}

	span.SetAttributes(
		attribute.String("replica", resp.Replica),
		attribute.String("partial_results", resp.Partial.String()),
	)
	return resp, nil
}

// pickReplica selects the shard's replicas in round-robin order.
func (c *Coordinator) pickReplica(i int) (ShardClient, error) {
	replicas := c.shards[i].Replicas
	if len(replicas) == 0 {
		return nil, ErrNoReplicas
	}
	n := c.next[i].Add(1) - 1
	return replicas[n%uint64(len(replicas))], nil
}

func (c *Coordinator) buildQueryPlan(req *Request) *plan.QueryPlan {
	return &plan.QueryPlan{
		PlanID:         uuid.NewString(),
		Collection:     c.collection,
		Query:          req.Query,
		Sort:           req.Sort,
		Limit:          shardLimit(req),
		Budget:         req.Budget,
		MultiThreaded:  req.MultiThreaded,
		SleepMs:        req.SleepMs,
		SegmentDelayMs: req.SegmentDelayMs,
	}
}

// shardLimit is the most rows any one shard has to return for req.
func shardLimit(req *Request) int {
	switch {
	case req.Rows <= 0:
		return 0
	case req.Start > math.MaxInt-req.Rows:
		return plan.NoLimit
	}
	return req.Start + req.Rows
}

// CheckHealth polls one replica of every shard for its health status.
func (c *Coordinator) CheckHealth(ctx context.Context) map[string]*plan.ShardHealth {
	var mu sync.Mutex
	var wg sync.WaitGroup
	results := make(map[string]*plan.ShardHealth, len(c.shards))

	for i, sh := range c.shards {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h := &plan.ShardHealth{Status: "unhealthy"}
			client, err := c.pickReplica(i)
			if err == nil {
				var got *plan.ShardHealth
				if got, err = client.Health(ctx); err == nil && got != nil {
					h = got
				}
			}
			if err != nil {
				c.logger.Warn("shard health check failed", "shard", sh.ID, "error", err)
			}
			mu.Lock()
			results[sh.ID] = h
			mu.Unlock()
		}()
	}

	wg.Wait()

	c.healthMu.Lock()
	for id, h := range results {
		c.health[id] = h
	}
	c.healthMu.Unlock()

	return results
}

// HealthyShardCount returns the number of shards last known to be healthy.
func (c *Coordinator) HealthyShardCount() int {
	c.healthMu.RLock()
	defer c.healthMu.RUnlock()

	count := 0
	for _, h := range c.health {
		if h.Status == "healthy" {
			count++
		}
	}
	return count
}

// ShardCount returns the number of shards.
func (c *Coordinator) ShardCount() int {
	return len(c.shards)
}

// RunHealthChecks polls shard health every HealthCheckInterval until ctx is
// done.
func (c *Coordinator) RunHealthChecks(ctx context.Context) {
	if c.config.HealthCheckInterval <= 0 {
		return
	}
	ticker := time.NewTicker(c.config.HealthCheckInterval)
	defer ticker.Stop()

	c.CheckHealth(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.CheckHealth(ctx)
		}
	}
}

func toDoc(row plan.Row) map[string]any {
	doc := make(map[string]any, len(row.Fields)+1)
	for k, v := range row.Fields {
		doc[k] = v
	}
	doc[plan.IDField] = row.ID
	return doc
}

// mergeRows k-way merges the shards' sorted rows into the first limit rows
// of the global order, or all of them for plan.NoLimit. The result does not
// depend on response order.
func mergeRows(responses []*plan.ShardResponse, s plan.Sort, limit int) []plan.Row {
	h := &cursorHeap{sort: s}
	for _, resp := range responses {
		if len(resp.Rows) == 0 {
			continue
		}
		rows := make([]plan.Row, len(resp.Rows))
		for i, r := range resp.Rows {
			r.Shard = resp.ShardID
			rows[i] = r
		}
		h.cursors = append(h.cursors, &cursor{rows: rows})
	}
	heap.Init(h)

	var out []plan.Row
	for h.Len() > 0 && (limit < 0 || len(out) < limit) {
		cur := h.cursors[0]
		out = append(out, cur.rows[cur.pos])
		cur.pos++
		if cur.pos == len(cur.rows) {
			heap.Pop(h)
		} else {
			heap.Fix(h, 0)
		}
	}
	return out
}

type cursor struct {
	rows []plan.Row
	pos  int
}

// cursorHeap is a min-heap of shard cursors ordered by their current row.
type cursorHeap struct {
	cursors []*cursor
	sort    plan.Sort
}

func (h cursorHeap) Len() int { return len(h.cursors) }
func (h cursorHeap) Less(i, j int) bool {
	a, b := h.cursors[i], h.cursors[j]
	return h.sort.Less(a.rows[a.pos], b.rows[b.pos])
}
func (h cursorHeap) Swap(i, j int) { h.cursors[i], h.cursors[j] = h.cursors[j], h.cursors[i] }
func (h *cursorHeap) Push(x any)   { h.cursors = append(h.cursors, x.(*cursor)) }
func (h *cursorHeap) Pop() any {
	old := h.cursors
	n := len(old)
	x := old[n-1]
	h.cursors = old[:n-1]
	return x
}
