package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/tablesync/internal/config"
	"github.com/stacklok/tablesync/internal/events"
	"github.com/stacklok/tablesync/internal/schema"
)

// createValidTestConfig creates a minimal valid config for testing
func createValidTestConfig(dbPath string) *config.Config {
	return &config.Config{
		Database: config.DatabaseConfig{
			Driver: config.DriverSQLite,
			Path:   dbPath,
		},
		Tables: []schema.TableSpec{
			{
				Name: "device",
				Fields: []schema.FieldSpec{
					{Name: "id", Type: schema.TypeInt, ID: true},
					{Name: "ip", Type: schema.TypeString},
					{Name: "updateTime", Type: schema.TypeTime, UpdateTime: true},
				},
			},
		},
	}
}

func TestBaseConfig_Defaults(t *testing.T) {
	t.Parallel()

	built, err := baseConfig(WithConfig(createValidTestConfig("test.db")))
	require.NoError(t, err)
	assert.Equal(t, defaultHTTPAddress, built.address)
	assert.Equal(t, defaultRequestTimeout, built.requestTimeout)
	assert.Nil(t, built.gateway)
	assert.Nil(t, built.source)
}

func TestBaseConfig_RequiresConfig(t *testing.T) {
	t.Parallel()

	built, err := baseConfig(WithAddress(":9090"))
	require.Error(t, err)
	assert.Nil(t, built)
}

func TestWithAddress(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		addr    string
		wantErr bool
	}{
		{name: "port only", addr: ":9090"},
		{name: "localhost", addr: "localhost:8080"},
		{name: "ip and port", addr: "127.0.0.1:0"},
		{name: "empty", addr: "", wantErr: true},
		{name: "missing port", addr: ":", wantErr: true},
		{name: "no colon", addr: "8080", wantErr: true},
		{name: "port out of range", addr: ":99999", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := &syncAppConfig{}
			err := WithAddress(tt.addr)(cfg)
			if tt.wantErr {
				require.Error(t, err)
				assert.Empty(t, cfg.address)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.addr, cfg.address)
		})
	}
}

func TestOpenGateway_UnsupportedDriver(t *testing.T) {
	t.Parallel()

	_, err := openGateway(context.Background(), &config.DatabaseConfig{Driver: "oracle"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported database driver")
}

func TestBuildEmitter(t *testing.T) {
	t.Parallel()

	cfg := createValidTestConfig("test.db")
	cfg.Events.Log = true
	recorder := &events.Recorder{}

	emitter, closers, err := buildEmitter(&syncAppConfig{config: cfg, emitter: recorder})
	require.NoError(t, err)
	assert.Empty(t, closers)

	multi, ok := emitter.(events.Multi)
	require.True(t, ok)
	assert.Len(t, multi, 2)

	require.NoError(t, emitter.Emit(context.Background(), events.Added("device", []schema.Record{{"id": int64(1)}})))
	assert.Len(t, recorder.Events(), 1)
}

func TestBuildEmitter_InvalidKafka(t *testing.T) {
	t.Parallel()

	cfg := createValidTestConfig("test.db")
	cfg.Events.Kafka = &config.KafkaTopicConfig{Brokers: []string{"localhost:9092"}}

	_, _, err := buildEmitter(&syncAppConfig{config: cfg})
	require.Error(t, err)
}

func TestNewSyncApp_OpensConfiguredDatabase(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "sync.db")
	createDeviceTable(t, dbPath).Close()

	cfg := createValidTestConfig(dbPath)
	app, err := NewSyncApp(context.Background(), WithConfig(cfg), WithAddress("127.0.0.1:0"))
	require.NoError(t, err)
	t.Cleanup(app.close)

	assert.Equal(t, []string{"device"}, app.GetEngine().Tables())
	assert.Nil(t, app.components.Scheduler, "no source configured")
	assert.Nil(t, app.components.Consumer)
	assert.Same(t, cfg, app.GetConfig())

	rr := httptest.NewRecorder()
	app.GetHTTPServer().Handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readiness", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestNewSyncApp_SkipsTableWithoutMainTable(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "sync.db")
	createDeviceTable(t, dbPath).Close()

	cfg := createValidTestConfig(dbPath)
	cfg.Tables = append(cfg.Tables, schema.TableSpec{
		Name:   "rack",
		Fields: []schema.FieldSpec{{Name: "id", Type: schema.TypeInt, ID: true}},
	})

	app, err := NewSyncApp(context.Background(), WithConfig(cfg), WithAddress("127.0.0.1:0"))
	require.NoError(t, err)
	t.Cleanup(app.close)

	assert.Equal(t, []string{"device"}, app.GetEngine().Tables())
}

func TestNewSyncApp_NoStagingTable(t *testing.T) {
	t.Parallel()

	// The spec resolves but its main table does not exist
	cfg := createValidTestConfig(filepath.Join(t.TempDir(), "sync.db"))

	app, err := NewSyncApp(context.Background(), WithConfig(cfg))
	require.Error(t, err)
	assert.Nil(t, app)
	assert.Contains(t, err.Error(), "no staging table could be created")
}

func TestNewSyncApp_NoUsableTable(t *testing.T) {
	t.Parallel()

	cfg := createValidTestConfig(filepath.Join(t.TempDir(), "sync.db"))
	cfg.Tables = []schema.TableSpec{{Name: "broken", Fields: []schema.FieldSpec{{Name: "ip"}}}}

	app, err := NewSyncApp(context.Background(), WithConfig(cfg))
	require.Error(t, err)
	assert.Nil(t, app)
	assert.Contains(t, err.Error(), "failed to initialize tables")
}
