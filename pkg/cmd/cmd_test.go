package cmd

import (
	"context"
	"encoding/base64"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dukex/stepflow/pkg/broadcast"
	"github.com/dukex/stepflow/pkg/events"
	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/persistence/file"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestParsePersistenceProvider(t *testing.T) {
	assert.Equal(t, "postgres", parsePersistenceProvider("postgres://u:p@localhost/db"))
	assert.Equal(t, "file", parsePersistenceProvider("file:///tmp/data"))
	assert.Equal(t, "file", parsePersistenceProvider("./data"))
}

func TestNewPersistence_File(t *testing.T) {
	dir := t.TempDir()

	p, err := NewPersistence(context.Background(), testLogger(), "file://"+dir)
	require.NoError(t, err)
	assert.IsType(t, &file.Persistence{}, p)
	require.NoError(t, p.HealthCheck(context.Background()))

	require.NoError(t, p.WorkflowRepository().Save(context.Background(), &models.Workflow{ID: "wf-1", Name: "abc", Owner: "u"}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.NotEmpty(t, entries)
}

func TestNewEventBus(t *testing.T) {
	bus, err := NewEventBus(EventBusGoChannel, "", "test", testLogger())
	require.NoError(t, err)
	require.NoError(t, bus.Close())

	_, err = NewEventBus("carrier-pigeon", "", "test", testLogger())
	require.Error(t, err)

	_, err = NewEventBus(EventBusKafka, " , ", "test", testLogger())
	require.Error(t, err)
}

func TestNewVault(t *testing.T) {
	p := file.NewPersistence(filepath.Join(t.TempDir(), "data"))

	vault, err := NewVault(p, "")
	require.NoError(t, err)
	assert.Nil(t, vault)

	_, err = NewVault(p, "not base64!")
	require.Error(t, err)

	key := base64.StdEncoding.EncodeToString([]byte(strings.Repeat("k", 32)))
	vault, err = NewVault(p, key)
	require.NoError(t, err)
	require.NotNil(t, vault)

	reg := NewRegistry(testLogger(), vault)
	_, err = reg.Runner(models.StepTypeConnector)
	require.NoError(t, err)
}

func TestNewSinkAndSubscriber_Redis(t *testing.T) {
	ctx := context.Background()
	server := miniredis.RunT(t)

	client, err := NewRedisClient(ctx, "redis://"+server.Addr())
	require.NoError(t, err)

	defer client.Close()

	sink, err := NewSink(nil, client)
	require.NoError(t, err)

	subscriber, hub, err := NewSubscriber(nil, client, testLogger())
	require.NoError(t, err)
	assert.Nil(t, hub)

	messages, cancel, err := subscriber.Subscribe(ctx, "exec-1")
	require.NoError(t, err)

	defer cancel()

	require.NoError(t, sink.Emit(ctx, "exec-1", events.Started, broadcast.Payload("exec-1", nil)))

	select {
	case msg := <-messages:
		assert.Equal(t, events.Started, msg.Event)
	case <-time.After(2 * time.Second):
		t.Fatal("event not relayed through redis")
	}
}

func TestNewRedisClient_Empty(t *testing.T) {
	client, err := NewRedisClient(context.Background(), "")
	require.NoError(t, err)
	assert.Nil(t, client)

	_, err = NewRedisClient(context.Background(), "::not a url")
	require.Error(t, err)
}
