package coordinator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"ShardSearch/internal/plan"
	"ShardSearch/internal/shard"
)

// LocalClient calls a shard replica living in the same process.
type LocalClient struct {
	Node *shard.Node
}

// NewLocalClient wraps node.
func NewLocalClient(node *shard.Node) *LocalClient {
	return &LocalClient{Node: node}
}

func (c *LocalClient) Execute(ctx context.Context, p *plan.QueryPlan) (*plan.ShardResponse, error) {
	return c.Node.Search(ctx, p)
}

func (c *LocalClient) Health(ctx context.Context) (*plan.ShardHealth, error) {
	h := c.Node.Health()
	return &h, nil
}

// HTTPClient calls a shard replica served by another process's shard
// endpoint. Transport errors and non-200 answers are both failures.
type HTTPClient struct {
	BaseURL    string
	Collection string
	ShardID    string
	Replica    string
	HTTP       *http.Client
}

// NewHTTPClient creates a client for one remote replica.
func NewHTTPClient(baseURL, collection, shardID, replica string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		BaseURL:    baseURL,
		Collection: collection,
		ShardID:    shardID,
		Replica:    replica,
		HTTP:       &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) replicaPath(suffix string) string {
	return fmt.Sprintf("%s/collections/%s/shards/%s/replicas/%s/%s",
		c.BaseURL,
		url.PathEscape(c.Collection),
		url.PathEscape(c.ShardID),
		url.PathEscape(c.Replica),
		suffix,
	)
}

func (c *HTTPClient) Execute(ctx context.Context, p *plan.QueryPlan) (*plan.ShardResponse, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode plan: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.replicaPath("select"), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	var resp plan.ShardResponse
	if err := c.do(req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *HTTPClient) Health(ctx context.Context) (*plan.ShardHealth, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.replicaPath("health"), nil)
	if err != nil {
		return nil, err
	}

	var h plan.ShardHealth
	if err := c.do(req, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

func (c *HTTPClient) do(req *http.Request, out any) error {
	client := c.HTTP
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s %s: status %d: %s", req.Method, req.URL.Path, resp.StatusCode, bytes.TrimSpace(msg))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
