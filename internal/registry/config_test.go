package registry

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubValidator struct {
	kind string
	err  error
}

func (v *stubValidator) Validate(*InternalConfig) error { return v.err }
func (v *stubValidator) Type() string                  { return v.kind }

func init() {
	RegisterAdapterValidator(&stubValidator{kind: "stub"})
	RegisterAdapterValidator(&stubValidator{kind: "broken", err: errors.New("endpoint missing")})
}

func stubConfig() *InternalConfig {
	config := DefaultConfig()
	config.Database.Adapter = "stub"
	return config
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *InternalConfig)
		wantErr string
	}{
		{name: "valid", mutate: func(*InternalConfig) {}},
		{name: "nil name", mutate: func(c *InternalConfig) { c.Database.Name = "" }, wantErr: "database.name is required"},
		{name: "no adapter", mutate: func(c *InternalConfig) { c.Database.Adapter = "" }, wantErr: "database.adapter is required"},
		{name: "unknown adapter", mutate: func(c *InternalConfig) { c.Database.Adapter = "oracle" }, wantErr: "unsupported adapter type: oracle"},
		{name: "adapter validator", mutate: func(c *InternalConfig) { c.Database.Adapter = "broken" }, wantErr: "broken validation failed: endpoint missing"},
		{name: "unknown queue", mutate: func(c *InternalConfig) { c.Notify.QueueType = "sqs" }, wantErr: "notify.queue_type"},
		{
			name: "memory queue without drain rate",
			mutate: func(c *InternalConfig) {
				c.Notify.QueueType = "memory"
				c.Notify.DrainRate = 0
			},
			wantErr: "notify.drain_rate",
		},
		{
			name: "kafka without topic",
			mutate: func(c *InternalConfig) {
				c.Notify.QueueType = "kafka"
				c.Notify.KafkaConfig.Topic = ""
			},
			wantErr: "kafka_config.topic",
		},
		{name: "negative rate", mutate: func(c *InternalConfig) { c.Server.RequestRate = -1 }, wantErr: "server.request_rate"},
		{name: "rate without burst", mutate: func(c *InternalConfig) { c.Server.RequestBurst = 0 }, wantErr: "server.request_burst"},
		{name: "bad log level", mutate: func(c *InternalConfig) { c.Logging.Level = "loud" }, wantErr: "logging.level"},
		{
			name: "unnamed table",
			mutate: func(c *InternalConfig) {
				c.Tables = []InternalTableConfig{{Columns: map[string]InternalColumnConfig{"id": {Type: "text"}}}}
			},
			wantErr: "tables[0].name is required",
		},
		{
			name: "table without columns",
			mutate: func(c *InternalConfig) {
				c.Tables = []InternalTableConfig{{Name: "projects"}}
			},
			wantErr: `table "projects" has no columns`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := stubConfig()
			tt.mutate(config)
			err := ValidateConfig(config)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "strata.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
database:
  name: app
  adapter: stub
server:
  addr: ":9000"
tables:
  - name: tasks
    read_only: true
    columns:
      id: {type: text, primary_key: true}
      projectId: {type: text, indexed: true}
`), 0o600))
	t.Setenv("STRATA_SERVER_REQUEST_RATE", "5")

	cm := NewConfigManager()
	require.NoError(t, cm.LoadFromFile(path))
	config := cm.GetConfig()

	assert.Equal(t, "app", config.Database.Name)
	assert.Equal(t, ":9000", config.Server.Addr)
	assert.Equal(t, 5.0, config.Server.RequestRate)
	assert.Equal(t, 200, config.Server.RequestBurst, "defaults fill keys missing from the file")

	require.Len(t, config.Tables, 1)
	assert.True(t, config.Tables[0].ReadOnly)
	assert.Equal(t, InternalColumnConfig{Type: "text", Indexed: true}, config.Tables[0].Columns["projectId"])
	assert.Equal(t, InternalColumnConfig{Type: "text", PrimaryKey: true}, config.Tables[0].Columns["id"])
}

func TestLoadFromFileErrors(t *testing.T) {
	dir := t.TempDir()

	err := NewConfigManager().LoadFromFile(filepath.Join(dir, "strata.toml"))
	assert.ErrorContains(t, err, "unsupported config file format")

	err = NewConfigManager().LoadFromFile(filepath.Join(dir, "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read config file")

	path := filepath.Join(dir, "invalid.yaml")
	require.NoError(t, os.WriteFile(path, []byte("database:\n  adapter: oracle\n"), 0o600))
	err = NewConfigManager().LoadFromFile(path)
	assert.ErrorContains(t, err, "unsupported adapter type")
}

func TestLoadFromYAMLAndJSON(t *testing.T) {
	cm := NewConfigManager()
	require.NoError(t, cm.LoadFromYAML([]byte("database: {name: y, adapter: stub}\n")))
	assert.Equal(t, "y", cm.GetConfig().Database.Name)

	require.NoError(t, cm.LoadFromJSON([]byte(`{"database": {"name": "j", "adapter": "stub"}}`)))
	assert.Equal(t, "j", cm.GetConfig().Database.Name)

	assert.Error(t, cm.LoadFromJSON([]byte(`{"database": {"adapter": "oracle"}}`)))
	assert.Equal(t, "j", cm.GetConfig().Database.Name, "a rejected config is not applied")
}

func TestValidationStrategyRegistry(t *testing.T) {
	r := NewValidationStrategyRegistry()
	r.Register(&stubValidator{kind: "a"})

	v, ok := r.Get("a")
	require.True(t, ok)
	assert.Equal(t, "a", v.Type())
	_, ok = r.Get("b")
	assert.False(t, ok)

	assert.Panics(t, func() { r.Register(nil) })
	assert.Panics(t, func() { r.Register(&stubValidator{}) })
	assert.Panics(t, func() { r.Register(&stubValidator{kind: "a"}) })
}
