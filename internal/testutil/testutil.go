// Package testutil builds in-process clusters and sample data for tests.
package testutil

import (
	"fmt"
	"testing"

	"ShardSearch/internal/budget"
	"ShardSearch/internal/coordinator"
	"ShardSearch/internal/indexing"
	"ShardSearch/internal/server"
	"ShardSearch/internal/shard"
	"ShardSearch/internal/workerpool"
)

// SampleDocs returns n documents with ids "id-000".."id-NNN" and an integer
// field val_i cycling through 0..4. Ids are zero padded so that string order
// matches insertion order.
func SampleDocs(n int) []indexing.Document {
	docs := make([]indexing.Document, n)
	for i := range docs {
		docs[i] = indexing.Document{Fields: map[string]any{
			"id":    DocID(i),
			"val_i": i % 5,
		}}
	}
	return docs
}

// DocID returns the id of the i-th sample document.
func DocID(i int) string {
	return fmt.Sprintf("id-%03d", i)
}

// ClusterOptions configures NewCluster. Zero values take the defaults used by
// the budget tests: 3 shards, 2 replicas, 5 segments per task.
type ClusterOptions struct {
	Collection string
	Shards     int
	Replicas   int

	// CPUClock defaults to the system clock. Tests that assert cpuAllowed
	// truncation pass a budget.SteppedCPUClock.
	CPUClock    budget.CPUClock
	Scheduler   shard.SchedulerConfig
	Coordinator coordinator.Config
	Workers     int
}

// NewCluster starts a manager with one collection and closes both when the
// test ends.
func NewCluster(t testing.TB, opts ClusterOptions) (*server.CollectionManager, *server.Collection) {
	t.Helper()

	if opts.Collection == "" {
		opts.Collection = "collection1"
	}
	if opts.Shards == 0 {
		opts.Shards = 3
	}
	if opts.Replicas == 0 {
		opts.Replicas = 2
	}
	if opts.Scheduler == (shard.SchedulerConfig{}) {
		opts.Scheduler = shard.DefaultSchedulerConfig()
	}
	if opts.Coordinator == (coordinator.Config{}) {
		opts.Coordinator = coordinator.DefaultConfig()
	}
	workers := opts.Workers
	if workers == 0 {
		workers = 4
	}

	pool := workerpool.New(workerpool.Config{Workers: workers}, nil)
	mgr := server.NewCollectionManager(server.ManagerOptions{
		Coordinator: opts.Coordinator,
		Scheduler:   opts.Scheduler,
		Pool:        pool,
		CPUClock:    opts.CPUClock,
	})
	t.Cleanup(func() {
		if err := mgr.Close(); err != nil {
			t.Errorf("closing cluster: %v", err)
		}
		pool.Close()
	})

	col, err := mgr.CreateCollection(opts.Collection, opts.Shards, opts.Replicas)
	if err != nil {
		t.Fatalf("create collection: %v", err)
	}
	return mgr, col
}

// IndexOneByOne adds and commits each document separately, so every
// document lands in its own segment on its shard.
func IndexOneByOne(t testing.TB, col *server.Collection, docs []indexing.Document) {
	t.Helper()
	for i, doc := range docs {
		if err := col.Add([]indexing.Document{doc}); err != nil {
			t.Fatalf("add document %d: %v", i, err)
		}
		if _, err := col.Commit(); err != nil {
			t.Fatalf("commit document %d: %v", i, err)
		}
	}
}
