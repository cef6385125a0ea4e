package plan

import "ShardSearch/internal/budget"

// NoLimit as a QueryPlan.Limit keeps every matching row.
const NoLimit = -1

// QueryPlan is the shard-level request the coordinator fans out. Every shard
// of the collection receives the same plan.
type QueryPlan struct {
	PlanID     string `json:"plan_id"`
	Collection string `json:"collection"`

	// Query is a bleve query string; "*:*" or empty matches everything.
	Query string `json:"q"`
	Sort  Sort   `json:"sort"`

	// Limit is start+rows: the most rows any shard needs to return. Zero
	// counts matches without returning rows; NoLimit returns them all.
	Limit int `json:"limit"`

	Budget        budget.Budget `json:"budget"`
	MultiThreaded bool          `json:"multi_threaded"`

	// SleepMs is an induced wall-clock stall paid once per shard request
	// before the tasks run.
	SleepMs int64 `json:"sleep_ms,omitempty"`

	// SegmentDelayMs is an induced stall paid per segment, simulating
	// blocking index I/O inside a task.
	SegmentDelayMs int64 `json:"segment_delay_ms,omitempty"`
}

// ShardStats contains execution statistics from a shard.
type ShardStats struct {
	Segments        int   `json:"segments"`
	Tasks           int   `json:"tasks"`
	TasksTruncated  int   `json:"tasks_truncated"`
	ExecutionTimeMs int64 `json:"execution_time_ms"`
	CPUTimeMs       int64 `json:"cpu_time_ms"`
}

// ShardResponse is the outcome of one shard's search. It is not modified
// after the shard returns it.
type ShardResponse struct {
	PlanID     string     `json:"plan_id"`
	ShardID    string     `json:"shard_id"`
	Replica    string     `json:"replica"`
	Generation uint64     `json:"generation"`
	NumFound   uint64     `json:"num_found"`
	Rows       []Row      `json:"rows"`
	Partial    Partial    `json:"partialResults,omitempty"`
	Stats      ShardStats `json:"stats"`
}

// ShardHealth represents the health status of a shard replica.
type ShardHealth struct {
	Status     string `json:"status"` // "healthy", "unhealthy"
	Generation uint64 `json:"generation"`
	Segments   int    `json:"segments"`
	DocCount   uint64 `json:"doc_count"`
}
