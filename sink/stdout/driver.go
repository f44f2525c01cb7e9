package stdout

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/Shiva-Nandh-Reddy-Mokilla/Phase1-EventHubs-AKS/internal/batch"
	"github.com/Shiva-Nandh-Reddy-Mokilla/Phase1-EventHubs-AKS/internal/config"
	"github.com/Shiva-Nandh-Reddy-Mokilla/Phase1-EventHubs-AKS/sink"
)

/* ────────── driver ────────── */

// driver writes each batch as one line per message. Useful for dry runs
// of the producer without a broker.
type driver struct {
	mu  sync.Mutex // serialises writes so batches do not interleave
	out io.Writer
	seq uint64
}

func New(w io.Writer) sink.Adapter { return &driver{out: w} }

/* ────────── sink.Adapter ────────── */

func (d *driver) Configure(context.Context, config.Transport) error {
	if d.out == nil {
		d.out = os.Stdout
	}
	return nil
}

func (d *driver) Publish(ctx context.Context, streamID string, b *batch.Batch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	n := atomic.AddUint64(&d.seq, 1)
	d.mu.Lock()
	defer d.mu.Unlock()
	fmt.Fprintf(d.out, "[batch %06d] %s key=%q messages=%d bytes=%d\n",
		n, streamID, b.PartitionKey(), b.Len(), b.Size())
	for _, it := range b.Items() {
		if _, err := fmt.Fprintf(d.out, "  %s %s\n", it.ID, it.Body); err != nil {
			return err
		}
	}
	return nil
}

func (d *driver) Close() error { return nil }

/* ────────── auto-register ────────── */
func init() {
	sink.Register("stdout", func() sink.Adapter { return &driver{} })
}
