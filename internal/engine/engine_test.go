package engine

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Shiva-Nandh-Reddy-Mokilla/Phase1-EventHubs-AKS/internal/config"
	"github.com/Shiva-Nandh-Reddy-Mokilla/Phase1-EventHubs-AKS/internal/logging"
	"github.com/Shiva-Nandh-Reddy-Mokilla/Phase1-EventHubs-AKS/internal/memhub"
	"github.com/Shiva-Nandh-Reddy-Mokilla/Phase1-EventHubs-AKS/internal/message"
	"github.com/Shiva-Nandh-Reddy-Mokilla/Phase1-EventHubs-AKS/internal/stream"
)

func memoryConfig(streamID string) config.Config {
	c := config.Default()
	c.StreamID = streamID
	c.InstanceID = "engine-test"
	c.StartPosition = "earliest"
	c.LeaseDuration = 500 * time.Millisecond
	c.LeaseRenewInterval = 25 * time.Millisecond
	c.ShutdownTimeout = time.Second
	c.Source.Driver = "memory"
	c.Source.Memory.Partitions = 2
	c.Store.Driver = "memory"
	c.Server = config.Server{}
	return c
}

func TestBootstrap_RejectsInvalidConfig(t *testing.T) {
	c := memoryConfig("")
	if _, err := Bootstrap(context.Background(), c); !errors.Is(err, stream.ErrConfiguration) {
		t.Fatalf("want configuration error, got %v", err)
	}
	c = memoryConfig("s")
	c.Source.Driver = "carrier-pigeon"
	if _, err := Bootstrap(context.Background(), c); !errors.Is(err, stream.ErrConfiguration) {
		t.Fatalf("want configuration error for unknown driver, got %v", err)
	}
}

func TestEngine_ConsumesFromMemoryHub(t *testing.T) {
	const id = "engine-consume"
	hub := memhub.Default(2)
	for _, p := range hub.Partitions(id) {
		if _, err := hub.Append(id, p, []byte(`{"MessageId":"`+p+`"}`)); err != nil {
			t.Fatal(err)
		}
	}

	var (
		mu  sync.Mutex
		got []string
	)
	h := func(_ context.Context, ev stream.Event) error {
		mu.Lock()
		got = append(got, ev.PartitionID)
		mu.Unlock()
		return nil
	}
	e, err := Bootstrap(context.Background(), memoryConfig(id), WithHandler(h))
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for {
		mu.Lock()
		n := len(got)
		mu.Unlock()
		if n == 2 && e.Processor().Ready() {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("consumed %d events, ready=%v", n, e.Processor().Ready())
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("engine did not stop")
	}
}

func TestLogHandler_DecodesAndSkipsEmpty(t *testing.T) {
	var buf bytes.Buffer
	logging.Configure(logging.Options{Level: "debug", Output: &buf})
	t.Cleanup(func() { logging.Configure(logging.Options{}) })

	for _, name := range []string{"json", "proto"} {
		buf.Reset()
		c, _ := message.CodecFor(name)
		body, err := c.Encode(message.Message{MessageID: "314", Timestamp: "2026-01-01T00:00:00Z", Payload: map[string]any{"data": "hi"}})
		if err != nil {
			t.Fatal(err)
		}
		h := LogHandler(c)
		if err := h(context.Background(), stream.Event{PartitionID: "0", Offset: 1, Body: body}); err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		out := buf.String()
		if !strings.Contains(out, "message_id=314") || !strings.Contains(out, `\"data\":\"hi\"`) {
			t.Fatalf("%s: log missing fields: %s", name, out)
		}

		buf.Reset()
		if err := h(context.Background(), stream.Event{PartitionID: "0", Offset: 2}); err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(buf.String(), "skipping empty event") {
			t.Fatalf("%s: empty body not skipped: %s", name, buf.String())
		}
	}
}
