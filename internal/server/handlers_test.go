package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ShardSearch/internal/budget"
	"ShardSearch/internal/coordinator"
	"ShardSearch/internal/indexing"
	"ShardSearch/internal/plan"
	"ShardSearch/internal/shard"
	"ShardSearch/internal/workerpool"
)

func newTestServer(t *testing.T) (*CollectionManager, *httptest.Server) {
	t.Helper()
	pool := workerpool.New(workerpool.Config{Workers: 2}, nil)
	mgr := NewCollectionManager(ManagerOptions{
		Coordinator: coordinator.DefaultConfig(),
		Scheduler:   shard.DefaultSchedulerConfig(),
		Pool:        pool,
		CPUClock:    budget.SteppedCPUClock{Step: 25 * time.Millisecond},
	})

	mux := http.NewServeMux()
	NewHandler(mgr, "test", nil).RegisterRoutes(mux)
	ts := httptest.NewServer(mux)

	t.Cleanup(func() {
		ts.Close()
		assert.NoError(t, mgr.Close())
		pool.Close()
	})
	return mgr, ts
}

func docs(n int) []map[string]any {
	out := make([]map[string]any, n)
	for i := range out {
		out[i] = map[string]any{"id": fmt.Sprintf("id-%03d", i), "val_i": i % 5}
	}
	return out
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

// ingest adds and commits n documents one at a time.
func ingest(t *testing.T, ts *httptest.Server, collection string, n int) {
	t.Helper()
	for _, d := range docs(n) {
		resp := postJSON(t, ts.URL+"/collections/"+collection+"/documents", map[string]any{"documents": []any{d}})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		resp = postJSON(t, ts.URL+"/collections/"+collection+"/commit", struct{}{})
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}
}

func TestHealthAndReady(t *testing.T) {
	mgr, ts := newTestServer(t)

	var health map[string]string
	assert.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/health", &health))
	assert.Equal(t, "healthy", health["status"])

	assert.Equal(t, http.StatusServiceUnavailable, getJSON(t, ts.URL+"/ready", nil))
	_, err := mgr.CreateCollection("books", 1, 1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/ready", nil))
}

func TestListCollections(t *testing.T) {
	mgr, ts := newTestServer(t)
	_, err := mgr.CreateCollection("b", 2, 1)
	require.NoError(t, err)
	_, err = mgr.CreateCollection("a", 3, 2)
	require.NoError(t, err)

	var body struct {
		Collections []CollectionInfo `json:"collections"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/collections", &body))
	require.Len(t, body.Collections, 2)
	assert.Equal(t, "a", body.Collections[0].Name)
	assert.Equal(t, 3, body.Collections[0].Shards)
	assert.Equal(t, 2, body.Collections[0].Replicas)
}

func TestUnknownCollection(t *testing.T) {
	_, ts := newTestServer(t)

	assert.Equal(t, http.StatusNotFound, getJSON(t, ts.URL+"/collections/nope", nil))
	assert.Equal(t, http.StatusNotFound, getJSON(t, ts.URL+"/collections/nope/select?q=*:*", nil))
	resp := postJSON(t, ts.URL+"/collections/nope/commit", struct{}{})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCreateCollection_Duplicate(t *testing.T) {
	mgr, _ := newTestServer(t)
	_, err := mgr.CreateCollection("books", 1, 1)
	require.NoError(t, err)
	_, err = mgr.CreateCollection("books", 1, 1)
	assert.ErrorIs(t, err, ErrCollectionExists)
}

func TestAddDocuments_Errors(t *testing.T) {
	mgr, ts := newTestServer(t)
	_, err := mgr.CreateCollection("books", 2, 1)
	require.NoError(t, err)
	url := ts.URL + "/collections/books/documents"

	resp := postJSON(t, url, map[string]any{"documents": []any{}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = postJSON(t, url, map[string]any{"documents": []any{map[string]any{"title": "no id"}}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	r, err := http.Post(url, "application/json", bytes.NewBufferString("{"))
	require.NoError(t, err)
	r.Body.Close()
	assert.Equal(t, http.StatusBadRequest, r.StatusCode)
}

func TestAddDocuments_BatchIsAtomicAcrossShards(t *testing.T) {
	mgr, ts := newTestServer(t)
	coll, err := mgr.CreateCollection("books", 3, 2)
	require.NoError(t, err)

	// lo lands on a shard that is written before hi's shard.
	var lo, hi string
	for i := 0; lo == "" || hi == ""; i++ {
		id := fmt.Sprintf("doc-%d", i)
		switch s := coll.ShardFor(id); {
		case s == 0 && lo == "":
			lo = id
		case s > 0 && hi == "":
			hi = id
		}
	}

	url := ts.URL + "/collections/books/documents"
	resp := postJSON(t, url, map[string]any{"documents": []any{map[string]any{"id": hi}}})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = postJSON(t, url, map[string]any{"documents": []any{
		map[string]any{"id": lo},
		map[string]any{"id": hi},
	}})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	var body struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Contains(t, body.Error.Message, "document 1:")

	resp = postJSON(t, ts.URL+"/collections/books/commit", struct{}{})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, uint64(1), coll.Info().DocCount)

	// lo was rolled back, so it can be added again.
	resp = postJSON(t, url, map[string]any{"documents": []any{map[string]any{"id": lo}}})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSelect_IndexAndSearch(t *testing.T) {
	mgr, ts := newTestServer(t)
	_, err := mgr.CreateCollection("books", 3, 2)
	require.NoError(t, err)
	ingest(t, ts, "books", 12)

	var resp coordinator.ClientResponse
	status := getJSON(t, ts.URL+"/collections/books/select?q=*:*&rows=5&sort=id+desc", &resp)
	require.Equal(t, http.StatusOK, status)

	assert.Equal(t, uint64(12), resp.Response.NumFound)
	require.Len(t, resp.Response.Docs, 5)
	assert.Equal(t, "id-011", resp.Response.Docs[0]["id"])
	assert.Equal(t, "id-007", resp.Response.Docs[4]["id"])
	assert.Equal(t, plan.PartialAbsent, resp.ResponseHeader.PartialResults)
}

func TestSelect_PartialResultsWire(t *testing.T) {
	mgr, ts := newTestServer(t)
	_, err := mgr.CreateCollection("books", 1, 1)
	require.NoError(t, err)
	ingest(t, ts, "books", 10)

	tests := []struct {
		name  string
		query string
		want  any
	}{
		{"no budget", "q=*:*", nil},
		{"cpu budget exhausted", "q=*:*&cpuAllowed=50", true},
		{"exhausted and suppressed", "q=*:*&cpuAllowed=50&partialResults=false", "omitted"},
		{"generous budget", "q=*:*&cpuAllowed=100000", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var raw map[string]map[string]any
			require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/collections/books/select?"+tt.query, &raw))

			v, ok := raw["responseHeader"]["partialResults"]
			if tt.want == nil {
				assert.False(t, ok, "partialResults must be absent, got %v", v)
				return
			}
			assert.Equal(t, tt.want, v)
		})
	}
}

func TestSelect_BadRequest(t *testing.T) {
	mgr, ts := newTestServer(t)
	_, err := mgr.CreateCollection("books", 1, 1)
	require.NoError(t, err)

	for _, q := range []string{
		"cpuAllowed=10&timeAllowed=10",
		"timeAllowed=abc",
		"timeAllowed=0",
		"sort=title+sideways",
		"multiThreaded=maybe",
	} {
		assert.Equal(t, http.StatusBadRequest, getJSON(t, ts.URL+"/collections/books/select?"+q, nil), q)
	}
}

func TestShardSelect(t *testing.T) {
	mgr, ts := newTestServer(t)
	col, err := mgr.CreateCollection("books", 1, 2)
	require.NoError(t, err)
	ingest(t, ts, "books", 3)

	p := plan.QueryPlan{PlanID: "p1", Query: "*:*", Sort: plan.DefaultSort(), Limit: 10}
	resp := postJSON(t, ts.URL+"/collections/books/shards/shard1/replicas/replica_n2/select", p)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var sr plan.ShardResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&sr))
	assert.Equal(t, "p1", sr.PlanID)
	assert.Equal(t, "replica_n2", sr.Replica)
	assert.Equal(t, uint64(3), sr.NumFound)
	assert.Equal(t, uint64(3), sr.Generation)

	resp = postJSON(t, ts.URL+"/collections/books/shards/shard9/replicas/replica_n1/select", p)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	bad := p
	bad.Budget = budget.Budget{Kind: budget.KindWallClock}
	resp = postJSON(t, ts.URL+"/collections/books/shards/shard1/replicas/replica_n1/select", bad)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var h plan.ShardHealth
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/collections/books/shards/shard1/replicas/replica_n1/health", &h))
	assert.Equal(t, "healthy", h.Status)
	assert.Equal(t, uint64(3), h.DocCount)

	_, err = col.Node("shard1", "replica_n3")
	assert.ErrorIs(t, err, ErrReplicaNotFound)
}

func TestRemoteCollection(t *testing.T) {
	mgr, ts := newTestServer(t)
	_, err := mgr.CreateCollection("books", 2, 1)
	require.NoError(t, err)
	ingest(t, ts, "books", 8)

	remote, err := mgr.AddRemoteCollection("remote_books", []coordinator.Shard{
		{ID: "shard1", Replicas: []coordinator.ShardClient{coordinator.NewHTTPClient(ts.URL, "books", "shard1", "replica_n1", 5*time.Second)}},
		{ID: "shard2", Replicas: []coordinator.ShardClient{coordinator.NewHTTPClient(ts.URL, "books", "shard2", "replica_n1", 5*time.Second)}},
	})
	require.NoError(t, err)
	assert.True(t, remote.Remote())

	var resp coordinator.ClientResponse
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/collections/remote_books/select?q=*:*&rows=3", &resp))
	assert.Equal(t, uint64(8), resp.Response.NumFound)
	require.Len(t, resp.Response.Docs, 3)
	assert.Equal(t, "id-000", resp.Response.Docs[0]["id"])

	r := postJSON(t, ts.URL+"/collections/remote_books/documents", map[string]any{"documents": docs(1)})
	assert.Equal(t, http.StatusConflict, r.StatusCode)
	r = postJSON(t, ts.URL+"/collections/remote_books/commit", struct{}{})
	assert.Equal(t, http.StatusConflict, r.StatusCode)
}

func TestSelect_ShardFailureIsBadGateway(t *testing.T) {
	mgr, ts := newTestServer(t)
	_, err := mgr.CreateCollection("books", 1, 1)
	require.NoError(t, err)

	_, err = mgr.AddRemoteCollection("broken", []coordinator.Shard{
		{ID: "shard1", Replicas: []coordinator.ShardClient{coordinator.NewHTTPClient(ts.URL, "books", "shard1", "replica_n1", 5*time.Second)}},
		{ID: "shard2", Replicas: []coordinator.ShardClient{coordinator.NewHTTPClient(ts.URL, "books", "missing", "replica_n1", 5*time.Second)}},
	})
	require.NoError(t, err)

	var raw map[string]any
	assert.Equal(t, http.StatusBadGateway, getJSON(t, ts.URL+"/collections/broken/select?"+url.Values{"q": {"*:*"}, "timeAllowed": {"1000"}}.Encode(), &raw))
	_, hasHeader := raw["responseHeader"]
	assert.False(t, hasHeader, "a failed query is not a partial result")
}

func TestCollection_RoutingIsStable(t *testing.T) {
	mgr, _ := newTestServer(t)
	col, err := mgr.CreateCollection("books", 3, 2)
	require.NoError(t, err)

	counts := make([]int, 3)
	for i := 0; i < 300; i++ {
		id := fmt.Sprintf("id-%03d", i)
		s := col.ShardFor(id)
		assert.Equal(t, s, col.ShardFor(id))
		counts[s]++
	}
	for s, n := range counts {
		assert.Positive(t, n, "shard %d received no documents", s)
	}

	require.NoError(t, col.Add([]indexing.Document{{Fields: map[string]any{"id": "x"}}}))
	gens, err := col.Commit()
	require.NoError(t, err)
	assert.Len(t, gens, 3)

	owner := fmt.Sprintf("shard%d", col.ShardFor("x")+1)
	for _, r := range []string{"replica_n1", "replica_n2"} {
		n, err := col.Node(owner, r)
		require.NoError(t, err)
		assert.Equal(t, uint64(1), n.Health().DocCount, "every replica of the owning shard holds the document")
	}
}
