package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"sync"

	"github.com/cespare/xxhash/v2"

	"ShardSearch/internal/budget"
	"ShardSearch/internal/coordinator"
	"ShardSearch/internal/indexing"
	"ShardSearch/internal/metrics"
	"ShardSearch/internal/shard"
	"ShardSearch/internal/workerpool"
)

var (
	ErrCollectionNotFound = errors.New("collection not found")
	ErrCollectionExists   = errors.New("collection already exists")
	ErrReplicaNotFound    = errors.New("shard replica not found")
	ErrReadOnly           = errors.New("collection is served remotely and cannot be written here")
)

// ManagerOptions configures every collection a CollectionManager creates.
type ManagerOptions struct {
	Coordinator coordinator.Config
	Scheduler   shard.SchedulerConfig

	// Pool is shared by all local replicas. When nil each replica owns one.
	Pool     *workerpool.Pool
	CPUClock budget.CPUClock

	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Collection is a sharded collection and the coordinator that queries it.
// Local collections own one shard.Node per shard replica; remote collections
// only hold clients.
type Collection struct {
	Name string

	shardIDs []string
	nodes    [][]*shard.Node // [shard][replica], nil when remote
	coord    *coordinator.Coordinator

	writeMu sync.Mutex
}

// CollectionInfo summarizes a collection for listing.
type CollectionInfo struct {
	Name          string `json:"name"`
	Shards        int    `json:"shards"`
	Replicas      int    `json:"replicas"`
	Remote        bool   `json:"remote"`
	HealthyShards int    `json:"healthy_shards"`
	DocCount      uint64 `json:"doc_count"`
}

// CollectionManager holds the collections served by this process.
type CollectionManager struct {
	opts   ManagerOptions
	logger *slog.Logger

	mu          sync.RWMutex
	collections map[string]*Collection
}

// NewCollectionManager creates an empty manager.
func NewCollectionManager(opts ManagerOptions) *CollectionManager {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.CPUClock == nil {
		opts.CPUClock = budget.SystemCPUClock()
	}
	return &CollectionManager{
		opts:        opts,
		logger:      logger,
		collections: make(map[string]*Collection),
	}
}

// CreateCollection starts shards x replicas in-process replicas named
// shard1..N and replica_n1..M.
func (m *CollectionManager) CreateCollection(name string, shards, replicas int) (*Collection, error) {
	if shards <= 0 || replicas <= 0 {
		return nil, fmt.Errorf("collection %q: shards and replicas must be positive", name)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.collections[name]; ok {
		return nil, fmt.Errorf("%w: %s", ErrCollectionExists, name)
	}

	col := &Collection{Name: name}
	coordShards := make([]coordinator.Shard, shards)
	for s := 0; s < shards; s++ {
		shardID := fmt.Sprintf("shard%d", s+1)
		col.shardIDs = append(col.shardIDs, shardID)

		row := make([]*shard.Node, replicas)
		clients := make([]coordinator.ShardClient, replicas)
		for r := 0; r < replicas; r++ {
			row[r] = shard.NewNode(shardID, fmt.Sprintf("replica_n%d", r+1), shard.NodeOptions{
				Scheduler: m.opts.Scheduler,
				Pool:      m.opts.Pool,
				CPUClock:  m.opts.CPUClock,
				Metrics:   m.opts.Metrics,
				Logger:    m.logger.With("collection", name),
			})
			clients[r] = coordinator.NewLocalClient(row[r])
		}
		col.nodes = append(col.nodes, row)
		coordShards[s] = coordinator.Shard{ID: shardID, Replicas: clients}
	}

	col.coord = coordinator.New(m.opts.Coordinator, name, coordShards, coordinator.Options{
		Logger:           m.logger,
		Metrics:          m.opts.Metrics,
		CPUTimeSupported: m.opts.CPUClock.Supported(),
	})
	m.collections[name] = col

	m.logger.Info("collection created", "collection", name, "shards", shards, "replicas", replicas)
	return col, nil
}

// AddRemoteCollection registers a query-only collection whose shards are
// served by other processes.
func (m *CollectionManager) AddRemoteCollection(name string, shards []coordinator.Shard) (*Collection, error) {
	if len(shards) == 0 {
		return nil, fmt.Errorf("collection %q: %w", name, coordinator.ErrNoShards)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.collections[name]; ok {
		return nil, fmt.Errorf("%w: %s", ErrCollectionExists, name)
	}

	col := &Collection{Name: name}
	for _, s := range shards {
		col.shardIDs = append(col.shardIDs, s.ID)
	}
	col.coord = coordinator.New(m.opts.Coordinator, name, shards, coordinator.Options{
		Logger:  m.logger,
		Metrics: m.opts.Metrics,
		// Remote nodes validate cpuAllowed against their own clocks.
		CPUTimeSupported: true,
	})
	m.collections[name] = col

	m.logger.Info("remote collection registered", "collection", name, "shards", len(shards))
	return col, nil
}

// Collection returns the named collection.
func (m *CollectionManager) Collection(name string) (*Collection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	col, ok := m.collections[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	return col, nil
}

// Names returns the collection names in sorted order.
func (m *CollectionManager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.collections))
	for name := range m.collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RunHealthChecks polls every collection's shards until ctx is done.
func (m *CollectionManager) RunHealthChecks(ctx context.Context) {
	m.mu.RLock()
	cols := make([]*Collection, 0, len(m.collections))
	for _, col := range m.collections {
		cols = append(cols, col)
	}
	m.mu.RUnlock()

	var wg sync.WaitGroup
	for _, col := range cols {
		wg.Add(1)
		go func() {
			defer wg.Done()
			col.coord.RunHealthChecks(ctx)
		}()
	}
	wg.Wait()
}

// Close closes every local replica.
func (m *CollectionManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for name, col := range m.collections {
		for _, row := range col.nodes {
			for _, n := range row {
				if err := n.Close(); err != nil {
					errs = append(errs, fmt.Errorf("collection %s: %w", name, err))
				}
			}
		}
	}
	m.collections = make(map[string]*Collection)
	return errors.Join(errs...)
}

// Remote reports whether the collection is served by other processes.
func (c *Collection) Remote() bool { return c.nodes == nil }

// Coordinator returns the collection's query coordinator.
func (c *Collection) Coordinator() *coordinator.Coordinator { return c.coord }

// Search parses client parameters and runs the query across all shards.
func (c *Collection) Search(ctx context.Context, params url.Values) (*coordinator.ClientResponse, error) {
	req, err := c.coord.ParseParams(params)
	if err != nil {
		return nil, err
	}
	return c.coord.Search(ctx, req)
}

// ShardFor returns the index of the shard that owns id.
func (c *Collection) ShardFor(id string) int {
	return int(xxhash.Sum64String(id) % uint64(len(c.shardIDs)))
}

// Add routes each document to its shard by id hash and buffers it on every
// replica of that shard. The batch is all-or-nothing: if any replica rejects
// its part, every replica is rolled back. Errors name the document's
// position in docs.
func (c *Collection) Add(docs []indexing.Document) error {
	if c.Remote() {
		return fmt.Errorf("%w: %s", ErrReadOnly, c.Name)
	}

	routed := make([][]indexing.Document, len(c.shardIDs))
	origin := make([][]int, len(c.shardIDs)) // shard batch position -> position in docs
	for i, doc := range docs {
		id := doc.ID()
		if id == "" {
			return fmt.Errorf("document %d: %w", i, indexing.ErrMissingID)
		}
		s := c.ShardFor(id)
		routed[s] = append(routed[s], doc)
		origin[s] = append(origin[s], i)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	type mark struct {
		node *shard.Node
		pos  int
	}
	var written []mark
	for s, batch := range routed {
		if len(batch) == 0 {
			continue
		}
		for _, n := range c.nodes[s] {
			pos := n.Mark()
			if err := n.Add(batch); err != nil {
				for _, m := range written {
					m.node.Rollback(m.pos)
				}
				var docErr *indexing.DocumentError
				if errors.As(err, &docErr) {
					return fmt.Errorf("shard %s: document %d: %w", c.shardIDs[s], origin[s][docErr.Index], docErr.Err)
				}
				return err
			}
			written = append(written, mark{node: n, pos: pos})
		}
	}
	return nil
}

// Commit commits every replica and returns the new generation per shard.
func (c *Collection) Commit() (map[string]uint64, error) {
	if c.Remote() {
		return nil, fmt.Errorf("%w: %s", ErrReadOnly, c.Name)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	gens := make(map[string]uint64, len(c.shardIDs))
	for s, row := range c.nodes {
		for _, n := range row {
			gen, err := n.Commit()
			if err != nil {
				return nil, err
			}
			gens[c.shardIDs[s]] = gen
		}
	}
	return gens, nil
}

// Node returns a local replica.
func (c *Collection) Node(shardID, replica string) (*shard.Node, error) {
	for s, id := range c.shardIDs {
		if id != shardID || c.nodes == nil {
			continue
		}
		for _, n := range c.nodes[s] {
			if n.Replica() == replica {
				return n, nil
			}
		}
	}
	return nil, fmt.Errorf("%w: %s/%s/%s", ErrReplicaNotFound, c.Name, shardID, replica)
}

// Info summarizes the collection. Document counts come from the first
// replica of each shard.
func (c *Collection) Info() CollectionInfo {
	info := CollectionInfo{
		Name:          c.Name,
		Shards:        len(c.shardIDs),
		Remote:        c.Remote(),
		HealthyShards: c.coord.HealthyShardCount(),
	}
	for _, row := range c.nodes {
		info.Replicas = len(row)
		if len(row) > 0 {
			info.DocCount += row[0].Health().DocCount
		}
	}
	return info
}
