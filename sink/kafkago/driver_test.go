package kafkago

import (
	"context"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"

	"github.com/Shiva-Nandh-Reddy-Mokilla/Phase1-EventHubs-AKS/internal/batch"
	"github.com/Shiva-Nandh-Reddy-Mokilla/Phase1-EventHubs-AKS/internal/config"
	"github.com/Shiva-Nandh-Reddy-Mokilla/Phase1-EventHubs-AKS/internal/stream"
)

type fakeWriter struct {
	got []kafka.Message
	err error
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.got = append(f.got, msgs...)
	return f.err
}

func (f *fakeWriter) Close() error { return nil }

func TestPublish_SameKeyForWholeBatch(t *testing.T) {
	w := &fakeWriter{}
	d := &driver{w: w}
	b := batch.NewBuilder(100).Create()
	_ = b.TryAdd("a", []byte("1"))
	_ = b.TryAdd("b", []byte("2"))

	if err := d.Publish(context.Background(), "orders", b); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if len(w.got) != 2 || string(w.got[0].Key) != string(w.got[1].Key) || len(w.got[0].Key) == 0 {
		t.Fatalf("batch should share one generated key: %+v", w.got)
	}
	if w.got[1].Topic != "orders" || string(w.got[1].Headers[0].Value) != "b" {
		t.Fatalf("unexpected message %+v", w.got[1])
	}

	w.got = nil
	_ = d.Publish(context.Background(), "orders", b.WithPartitionKey("dev-1"))
	if string(w.got[0].Key) != "dev-1" {
		t.Fatalf("explicit key ignored: %q", w.got[0].Key)
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		in   error
		want error
	}{
		{kafka.TopicAuthorizationFailed, stream.ErrUnauthorized},
		{kafka.MessageSizeTooLarge, stream.ErrRejected},
		{kafka.LeaderNotAvailable, stream.ErrTransient},
		{kafka.WriteErrors{nil, kafka.RequestTimedOut}, stream.ErrTransient},
		{context.DeadlineExceeded, stream.ErrTransient},
	}
	for _, tc := range cases {
		if got := Classify(tc.in); !errors.Is(got, tc.want) {
			t.Fatalf("Classify(%v) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestNewWriter(t *testing.T) {
	w := NewWriter(config.Kafka{RequiredAcks: -1, SASLUser: "u"}, []string{"a:9092"})
	if w.RequiredAcks != kafka.RequireAll {
		t.Fatalf("want RequireAll, got %v", w.RequiredAcks)
	}
	if tr, ok := w.Transport.(*kafka.Transport); !ok || tr.SASL == nil {
		t.Fatal("sasl mechanism not set")
	}
}
