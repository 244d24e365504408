//go:build integration

package integration_test

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/seismic-locator/internal/adapter/kafka"
	"github.com/couchcryptid/seismic-locator/internal/config"
	"github.com/couchcryptid/seismic-locator/internal/domain"
	"github.com/couchcryptid/seismic-locator/internal/locator"
	"github.com/couchcryptid/seismic-locator/internal/mseed"
	"github.com/couchcryptid/seismic-locator/internal/observability"
	"github.com/couchcryptid/seismic-locator/internal/picker"
	"github.com/couchcryptid/seismic-locator/internal/pipeline"
	"github.com/couchcryptid/seismic-locator/internal/synth"
)

const (
	testSourceTopic = "test-locate-jobs"
	testSinkTopic   = "test-epicenters"
)

// resultMessage holds a deserialized message read from the sink topic.
type resultMessage struct {
	Result  domain.LocateResult
	Key     string
	Headers map[string]string
}

// readResult reads a single message from the sink consumer and deserializes it.
func readResult(ctx context.Context, t *testing.T, consumer *kafkago.Reader) resultMessage {
	t.Helper()
	readCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	msg, err := consumer.ReadMessage(readCtx)
	require.NoError(t, err, "read from sink topic")

	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	var res domain.LocateResult
	require.NoError(t, json.Unmarshal(msg.Value, &res), "unmarshal sink message")

	return resultMessage{Result: res, Key: string(msg.Key), Headers: headers}
}

func testConfig(broker, group string) *config.Config {
	return &config.Config{
		KafkaBrokers:       []string{broker},
		KafkaSourceTopic:   testSourceTopic,
		KafkaSinkTopic:     testSinkTopic,
		KafkaGroupID:       fmt.Sprintf("%s-%d", group, time.Now().UnixNano()),
		BatchFlushInterval: 5 * time.Second,
	}
}

func synthPayload(t *testing.T, id string, seed uint64) []byte {
	t.Helper()
	ev := synth.DefaultEvent()
	ev.Seed = seed
	traces, err := synth.Generate(ev, synth.DefaultSites())
	require.NoError(t, err)
	job, err := synth.Job(id, ev, traces, mseed.EncodingSteim2)
	require.NoError(t, err)
	payload, err := json.Marshal(job)
	require.NoError(t, err)
	return payload
}

func newTransformer() *pipeline.LocateTransformer {
	loc := locator.New(picker.DefaultParams(), synth.DefaultEvent().Speed, false, discardLogger())
	return pipeline.NewLocateTransformer(loc, domain.ChannelBHZ, observability.NewMetricsForTesting(), discardLogger())
}

func sinkConsumer(t *testing.T, broker string) *kafkago.Reader {
	consumer := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     []string{broker},
		Topic:       testSinkTopic,
		GroupID:     fmt.Sprintf("test-sink-%d", time.Now().UnixNano()),
		StartOffset: kafkago.FirstOffset,
	})
	t.Cleanup(func() { _ = consumer.Close() })
	return consumer
}

// TestKafkaReaderWriter verifies the adapter layer: kafka.Reader and
// kafka.Writer round-trip a locate job and its result through Kafka.
func TestKafkaReaderWriter(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	broker := startKafka(ctx, t)
	createTopic(t, broker, testSourceTopic)
	createTopic(t, broker, testSinkTopic)
	cfg := testConfig(broker, "test-reader")

	payload := synthPayload(t, "quake-rw", 1)
	producer := &kafkago.Writer{Addr: kafkago.TCP(broker), Topic: testSourceTopic}
	t.Cleanup(func() { _ = producer.Close() })
	require.NoError(t, producer.WriteMessages(ctx, kafkago.Message{Key: []byte("quake-rw"), Value: payload}))

	// Retry because the consumer group may need time to rebalance before
	// partitions are assigned and messages become available.
	reader := kafka.NewReader(cfg, discardLogger())
	t.Cleanup(func() { _ = reader.Close() })

	var batch []domain.RawEvent
	for {
		var err error
		batch, err = reader.ExtractBatch(ctx, 1)
		require.NoError(t, err)
		if len(batch) > 0 {
			break
		}
		if ctx.Err() != nil {
			t.Fatal("timed out waiting for message from source topic")
		}
	}
	require.Len(t, batch, 1)
	raw := batch[0]
	assert.Equal(t, []byte("quake-rw"), raw.Key)
	assert.Equal(t, payload, raw.Value)
	assert.Equal(t, testSourceTopic, raw.Topic)
	require.NotNil(t, raw.Commit, "commit callback should be set")
	require.NoError(t, raw.Commit(ctx))

	out, err := newTransformer().Transform(ctx, raw)
	require.NoError(t, err)

	writer := kafka.NewWriter(cfg, discardLogger())
	t.Cleanup(func() { _ = writer.Close() })
	require.NoError(t, writer.LoadBatch(ctx, []domain.OutputEvent{out}))

	rm := readResult(ctx, t, sinkConsumer(t, broker))
	assert.Equal(t, "quake-rw", rm.Key)
	assert.Equal(t, "located", rm.Headers["status"])
	_, err = time.Parse(time.RFC3339, rm.Headers["processed_at"])
	assert.NoError(t, err, "processed_at should be valid RFC3339")

	require.NotNil(t, rm.Result.Epicenter)
	assert.InDelta(t, synth.DefaultEvent().Lat, rm.Result.Epicenter.Lat, 0.05)
	assert.InDelta(t, synth.DefaultEvent().Lon, rm.Result.Epicenter.Lon, 0.05)
}

// TestPipelineEndToEnd wires Reader, LocateTransformer and Writer with real
// Kafka and verifies every job yields a result, located or failed.
func TestPipelineEndToEnd(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	broker := startKafka(ctx, t)
	createTopic(t, broker, testSourceTopic)
	createTopic(t, broker, testSinkTopic)
	cfg := testConfig(broker, "test-pipeline")

	producer := &kafkago.Writer{Addr: kafkago.TCP(broker), Topic: testSourceTopic}
	t.Cleanup(func() { _ = producer.Close() })

	const located = 4
	msgs := make([]kafkago.Message, 0, located+2)
	for i := range located {
		id := fmt.Sprintf("quake-%d", i)
		msgs = append(msgs, kafkago.Message{Key: []byte(id), Value: synthPayload(t, id, uint64(i+1))})
	}
	// Path sources are disabled without a waveform root, so this job fails at input.
	missing, err := json.Marshal(domain.LocateJob{
		EventID: "quake-missing",
		Stations: []domain.JobStation{
			{Station: domain.Station{Network: "IU", Code: "ANMO", Lat: 34.95, Lon: -106.46}, Path: "/nonexistent/anmo.mseed"},
			{Station: domain.Station{Network: "US", Code: "ISCO", Lat: 35.40, Lon: -105.90}, Path: "/nonexistent/isco.mseed"},
			{Station: domain.Station{Network: "N4", Code: "Z13A", Lat: 34.60, Lon: -105.80}, Path: "/nonexistent/z13a.mseed"},
		},
	})
	require.NoError(t, err)
	msgs = append(msgs,
		kafkago.Message{Key: []byte("quake-missing"), Value: missing},
		kafkago.Message{Key: []byte("poison"), Value: []byte("not-json{{{")},
	)
	require.NoError(t, producer.WriteMessages(ctx, msgs...))

	reader := kafka.NewReader(cfg, discardLogger())
	t.Cleanup(func() { _ = reader.Close() })
	writer := kafka.NewWriter(cfg, discardLogger())
	t.Cleanup(func() { _ = writer.Close() })

	p := pipeline.New(reader, newTransformer(), writer, discardLogger(), observability.NewMetricsForTesting(), 50, 2)

	pipelineCtx, pipelineCancel := context.WithCancel(ctx)
	errCh := make(chan error, 1)
	go func() { errCh <- p.Run(pipelineCtx) }()

	consumer := sinkConsumer(t, broker)
	received := make(map[string]resultMessage, located+1)
	for len(received) < located+1 {
		rm := readResult(ctx, t, consumer)
		received[rm.Key] = rm
	}

	// The poison pill produces nothing.
	readCtx, readCancel := context.WithTimeout(ctx, 5*time.Second)
	_, err = consumer.ReadMessage(readCtx)
	readCancel()
	assert.Error(t, err, "expected no result for the unparseable job")

	pipelineCancel()
	require.NoError(t, <-errCh)

	for i := range located {
		rm, ok := received[fmt.Sprintf("quake-%d", i)]
		require.True(t, ok)
		assert.Equal(t, "located", rm.Headers["status"])
		require.NotNil(t, rm.Result.MisfitKm)
		assert.Less(t, *rm.Result.MisfitKm, 5.0)
		assert.Len(t, rm.Result.Observations, 3)
	}

	failed := received["quake-missing"]
	assert.Equal(t, "failed", failed.Headers["status"])
	assert.Equal(t, "input", failed.Headers["stage"])
	assert.Equal(t, "IU.ANMO", failed.Result.Station)
	assert.Nil(t, failed.Result.Epicenter)
}
