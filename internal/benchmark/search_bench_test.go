package benchmark

import (
	"net/url"
	"testing"
	"time"

	"ShardSearch/internal/budget"
	"ShardSearch/internal/testutil"
)

func benchmarkClusterQuery(b *testing.B, opts testutil.ClusterOptions, params url.Values) {
	b.Helper()

	_, col := testutil.NewCluster(b, opts)
	testutil.IndexOneByOne(b, col, testutil.SampleDocs(100))

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := col.Search(b.Context(), params); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkClusterQuery_NoBudget(b *testing.B) {
	benchmarkClusterQuery(b, testutil.ClusterOptions{}, url.Values{"q": {"*:*"}})
}

func BenchmarkClusterQuery_NoBudget_MultiThreaded(b *testing.B) {
	benchmarkClusterQuery(b, testutil.ClusterOptions{}, url.Values{"q": {"*:*"}, "multiThreaded": {"true"}})
}

func BenchmarkClusterQuery_CPUAllowed(b *testing.B) {
	if !budget.SystemCPUClock().Supported() {
		b.Skip("thread CPU time is not available")
	}
	benchmarkClusterQuery(b, testutil.ClusterOptions{}, url.Values{"q": {"*:*"}, "cpuAllowed": {"100000"}})
}

func BenchmarkClusterQuery_CPUAllowed_Truncated(b *testing.B) {
	opts := testutil.ClusterOptions{CPUClock: budget.SteppedCPUClock{Step: 25 * time.Millisecond}}
	benchmarkClusterQuery(b, opts, url.Values{"q": {"*:*"}, "cpuAllowed": {"100"}})
}

func BenchmarkClusterQuery_TimeAllowed(b *testing.B) {
	benchmarkClusterQuery(b, testutil.ClusterOptions{}, url.Values{"q": {"*:*"}, "timeAllowed": {"100000"}})
}
