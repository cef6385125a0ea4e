package main

import (
	"bytes"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ShardSearch/internal/config"
)

func TestNewManager_FromConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Shard.Workers = 2
	cfg.Collections = []config.CollectionConfig{
		{Name: "books", Shards: 2, Replicas: 2},
		{Name: "remote_books", Remote: []config.RemoteShard{{
			ID:       "shard1",
			Replicas: []config.RemoteReplica{{Name: "replica_n1", Address: "http://127.0.0.1:1"}},
		}}},
	}

	mgr, pool, err := newManager(cfg, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	defer pool.Close()
	defer mgr.Close()

	assert.Equal(t, []string{"books", "remote_books"}, mgr.Names())

	books, err := mgr.Collection("books")
	require.NoError(t, err)
	assert.False(t, books.Remote())
	assert.Equal(t, 2, books.Info().Shards)

	remote, err := mgr.Collection("remote_books")
	require.NoError(t, err)
	assert.True(t, remote.Remote())
}

func TestNewManager_DuplicateCollection(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Collections = append(cfg.Collections, cfg.Collections[0])

	_, _, err := newManager(cfg, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.Error(t, err)
}

func TestRemoteShards(t *testing.T) {
	col := config.CollectionConfig{Name: "books", Remote: []config.RemoteShard{
		{ID: "shard1", Replicas: []config.RemoteReplica{{Name: "a", Address: "http://h1"}, {Name: "b", Address: "http://h2"}}},
		{ID: "shard2", Replicas: []config.RemoteReplica{{Name: "a", Address: "http://h3"}}},
	}}

	shards := remoteShards(col, time.Second)
	require.Len(t, shards, 2)
	assert.Equal(t, "shard1", shards[0].ID)
	assert.Len(t, shards[0].Replicas, 2)
	assert.Len(t, shards[1].Replicas, 1)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(config.LogConfig{Level: "warn", Format: "json"}, &buf)

	logger.Info("hidden")
	logger.Warn("shown", "k", "v")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLogLevel("debug"))
	assert.Equal(t, slog.LevelError, parseLogLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLogLevel("bogus"))
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"version"})
	require.NoError(t, rootCmd.Execute())
	assert.Equal(t, Version+"\n", out.String())
}
