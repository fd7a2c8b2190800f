package config

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/hubd/internal/engine"
	"github.com/roach88/hubd/internal/hubsync"
	"github.com/roach88/hubd/internal/message"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	network, err := cfg.NetworkID()
	require.NoError(t, err)
	assert.Equal(t, message.NetworkDevnet, network)
	assert.Equal(t, slog.LevelInfo, cfg.Level())
	assert.Equal(t, hubsync.DefaultConfig(), cfg.SyncerConfig())
	assert.Equal(t, time.Hour, cfg.Jobs.PruneInterval.Duration)

	policies, err := cfg.PrunePolicies()
	require.NoError(t, err)
	assert.Equal(t, engine.DefaultPrunePolicies(), policies)
}

func TestParse_EmptyDocumentYieldsDefaults(t *testing.T) {
	for _, doc := range []string{"", "# nothing here\n", "{}\n"} {
		cfg, err := Parse([]byte(doc))
		require.NoError(t, err, "document %q", doc)
		assert.Equal(t, Default(), cfg)
	}
}

func TestLoad_FullFile(t *testing.T) {
	cfg, err := Load(filepath.Join("testdata", "full.yaml"))
	require.NoError(t, err)

	network, err := cfg.NetworkID()
	require.NoError(t, err)
	assert.Equal(t, message.NetworkTestnet, network)
	assert.Equal(t, "/var/lib/hubd/hub.db", cfg.DBPath)
	assert.Equal(t, slog.LevelDebug, cfg.Level())

	assert.Equal(t, hubsync.Config{
		Interval:              10 * time.Second,
		SessionTimeout:        time.Minute,
		MaxConcurrentSessions: 2,
		HashBatchThreshold:    16,
		FetchBatchSize:        128,
		Retry: hubsync.RetryConfig{
			MaxAttempts:    5,
			InitialBackoff: 50 * time.Millisecond,
			MaxBackoff:     2 * time.Second,
		},
	}, cfg.SyncerConfig())
	assert.Equal(t, []PeerConfig{
		{ID: "west", DBPath: "/var/lib/hubd/west.db"},
		{ID: "east", DBPath: "/var/lib/hubd/east.db"},
	}, cfg.Sync.Peers)
	assert.Equal(t, 15*time.Minute, cfg.Jobs.PruneInterval.Duration)

	policies, err := cfg.PrunePolicies()
	require.NoError(t, err)
	assert.Equal(t, engine.PrunePolicy{MaxCount: 500, MaxAgeSeconds: 86400}, policies[message.SetCast])
	assert.Equal(t, engine.PrunePolicy{MaxCount: 10}, policies[message.SetAmp])
	assert.Equal(t, engine.DefaultPrunePolicies()[message.SetReaction], policies[message.SetReaction])
	_, ok := policies[message.SetSigner]
	assert.False(t, ok)
}

func TestParse_PartialSectionKeepsOtherDefaults(t *testing.T) {
	cfg, err := Parse([]byte("sync:\n  interval: 5s\n"))
	require.NoError(t, err)

	want := hubsync.DefaultConfig()
	want.Interval = 5 * time.Second
	assert.Equal(t, want, cfg.SyncerConfig())
}

func TestParse_SchemaViolations(t *testing.T) {
	tests := []struct {
		name  string
		doc   string
		field string
	}{
		{"unknown top-level key", "colour: blue\n", "colour"},
		{"unknown nested key", "sync:\n  bogus: 1\n", "bogus"},
		{"unknown network", "network: moonnet\n", "network"},
		{"bad log level", "log_level: loud\n", "log_level"},
		{"signer policy", "prune:\n  signer:\n    max_count: 1\n", "signer"},
		{"negative count", "prune:\n  cast:\n    max_count: -1\n", "max_count"},
		{"malformed duration", "sync:\n  interval: soon\n", "interval"},
		{"zero sessions", "sync:\n  max_concurrent_sessions: 0\n", "max_concurrent_sessions"},
		{"peer without path", "sync:\n  peers:\n    - id: west\n", "db_path"},
		{"fractional batch", "sync:\n  fetch_batch_size: 1.5\n", "fetch_batch_size"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			require.Error(t, err)

			var fe *FieldError
			require.ErrorAs(t, err, &fe)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestParse_CrossFieldChecks(t *testing.T) {
	_, err := Parse([]byte("sync:\n  retry:\n    initial_backoff: 5s\n    max_backoff: 1s\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sync.retry.max_backoff")

	dup := "sync:\n  peers:\n    - {id: a, db_path: a.db}\n    - {id: a, db_path: b.db}\n"
	_, err = Parse([]byte(dup))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `duplicate peer id "a"`)
}

func TestParse_InvalidYAML(t *testing.T) {
	_, err := Parse([]byte("sync: [unclosed\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config")
}

func TestLoad(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("network: moonnet\n"), 0o644))
	_, err = Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), path)
}

func TestConfig_JSON(t *testing.T) {
	data, err := json.Marshal(Default())
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	sync := out["sync"].(map[string]any)
	assert.Equal(t, "30s", sync["interval"])
	assert.Equal(t, "1h0m0s", out["jobs"].(map[string]any)["prune_interval"])
}
