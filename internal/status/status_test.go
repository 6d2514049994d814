package status

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/loqalabs/loqa-reader/internal/audio"
	"github.com/loqalabs/loqa-reader/internal/bus"
	"github.com/loqalabs/loqa-reader/internal/config"
	"github.com/loqalabs/loqa-reader/internal/pipeline"
	"github.com/loqalabs/loqa-reader/internal/playback"
	"github.com/loqalabs/loqa-reader/internal/protocol"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakePipe struct{ state pipeline.State }

func (f fakePipe) Snapshot() pipeline.State { return f.state }

type fakeSink struct{ stats playback.Stats }

func (f fakeSink) Stats() playback.Stats { return f.stats }

func testState() pipeline.State {
	return pipeline.State{
		QueueDepth:  2,
		CurrentID:   "req-9",
		CurrentLine: 1,
		TotalLines:  4,
		Paused:      true,
		SinkPending: 3,
		Submitted:   10,
		Completed:   6,
		Aborted:     1,
		Archived:    5,
		LinesOK:     20,
		LinesFailed: 2,
	}
}

func TestReporter(t *testing.T) {
	sink := fakeSink{stats: playback.Stats{
		SegmentsPlayed: 12,
		SilenceWritten: 1500 * time.Millisecond,
		Reopens:        1,
		Pending:        3,
		Format:         audio.Format{SampleRate: 44100, Channels: 1},
	}}
	r := NewReporter("node-a", fakePipe{state: testState()}, sink)
	r.clock = func() time.Time { return time.Date(2025, 12, 3, 5, 0, 0, 0, time.UTC) }

	report := r.Report()
	assert.Equal(t, "node-a", report.NodeID)
	assert.NotEmpty(t, report.InstanceID)
	assert.Equal(t, 2, report.QueueDepth)
	assert.Equal(t, "req-9", report.CurrentID)
	assert.Equal(t, 4, report.TotalLines)
	assert.True(t, report.Paused)
	assert.Equal(t, uint64(6), report.Counters.Completed)
	assert.Equal(t, uint64(2), report.Counters.LinesFailed)
	assert.Equal(t, int64(12), report.Playback.SegmentsPlayed)
	assert.InDelta(t, 1.5, report.Playback.SilenceSeconds, 1e-9)
	assert.Equal(t, audio.Format{SampleRate: 44100, Channels: 1}.String(), report.Playback.Format)
	assert.Equal(t, 2025, report.Timestamp.Year())
}

func TestReporterWithoutSink(t *testing.T) {
	r := NewReporter("node-a", fakePipe{state: testState()}, nil)
	report := r.Report()
	assert.Equal(t, 3, report.Playback.Pending)
	assert.Empty(t, report.Playback.Format)
}

func startBus(t *testing.T) *bus.Client {
	t.Helper()
	opts := test.DefaultTestOptions
	opts.Port = -1
	srv := test.RunServer(&opts)
	t.Cleanup(srv.Shutdown)

	client, err := bus.Connect(context.Background(), config.BusConfig{
		Servers:        []string{srv.ClientURL()},
		ConnectTimeout: 1000,
	}, newLogger())
	require.NoError(t, err)
	t.Cleanup(client.Close)
	return client
}

func TestHeartbeatPublishesReports(t *testing.T) {
	client := startBus(t)
	msgs := make(chan *nats.Msg, 8)
	sub, err := client.Conn().ChanSubscribe(protocol.StatusSubject("node-a"), msgs)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sub.Unsubscribe() })
	require.NoError(t, client.Conn().Flush())

	reporter := NewReporter("node-a", fakePipe{state: testState()}, nil)
	hb := NewHeartbeat(context.Background(), config.NodeConfig{ID: "node-a", HeartbeatInterval: 20}, client, reporter, newLogger())
	t.Cleanup(hb.Close)

	for i := 0; i < 2; i++ {
		select {
		case msg := <-msgs:
			var report protocol.StatusReport
			require.NoError(t, json.Unmarshal(msg.Data, &report))
			assert.Equal(t, "node-a", report.NodeID)
			assert.Equal(t, 2, report.QueueDepth)
		case <-time.After(2 * time.Second):
			t.Fatalf("heartbeat %d not received", i+1)
		}
	}
	assert.True(t, hb.Healthy())
}

func TestHeartbeatGauges(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	prev := otel.GetMeterProvider()
	otel.SetMeterProvider(provider)
	t.Cleanup(func() {
		otel.SetMeterProvider(prev)
		_ = provider.Shutdown(context.Background())
	})

	client := startBus(t)
	reporter := NewReporter("node-a", fakePipe{state: testState()}, nil)
	hb := NewHeartbeat(context.Background(), config.NodeConfig{ID: "node-a", HeartbeatInterval: 1000}, client, reporter, newLogger())
	t.Cleanup(hb.Close)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	got := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if g, ok := m.Data.(metricdata.Gauge[int64]); ok && len(g.DataPoints) > 0 {
				got[m.Name] = g.DataPoints[0].Value
			}
		}
	}
	assert.Equal(t, int64(2), got["reader.queue.depth"])
	assert.Equal(t, int64(3), got["reader.playback.pending"])
	assert.Equal(t, int64(1), got["reader.playback.paused"])
}
