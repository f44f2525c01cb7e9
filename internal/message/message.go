// Package message is the application payload carried in event bodies:
// a message id, an ISO-8601 timestamp and an opaque structured payload.
package message

import (
	"io"
	"math/rand"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Message field names match the JSON produced by earlier producers
// (MessageId, Timestamp, Payload).
type Message struct {
	MessageID string `json:"MessageId"`
	Timestamp string `json:"Timestamp"`
	Payload   any    `json:"Payload"`
}

const Source = "producer-app"

var sampleData = []string{
	"Temperature reading from sensor A",
	"Order processed successfully",
	"User login event",
	"System health check",
	"Payment transaction completed",
	"Inventory update required",
	"Alert: high CPU usage",
	"File upload completed",
	"Email notification sent",
	"Database backup initiated",
}

// Generator builds test messages from an explicit random source so runs
// seeded the same way produce the same messages.
type Generator struct {
	rnd *rand.Rand
	now func() time.Time
}

func NewGenerator(rnd *rand.Rand) *Generator {
	return &Generator{rnd: rnd, now: time.Now}
}

// WithClock overrides the timestamp source.
func (g *Generator) WithClock(now func() time.Time) *Generator {
	g.now = now
	return g
}

// Random returns a message with an id in [1,999], one of the sample texts
// and a value in [1,99].
func (g *Generator) Random() Message {
	id := 1 + g.rnd.Intn(999)
	data := sampleData[g.rnd.Intn(len(sampleData))]
	value := 1 + g.rnd.Intn(99)
	return Message{
		MessageID: strconv.Itoa(id),
		Timestamp: g.timestamp(),
		Payload: map[string]any{
			"data":   data,
			"value":  value,
			"source": Source,
		},
	}
}

// Batch returns n random messages.
func (g *Generator) Batch(n int) []Message {
	out := make([]Message, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, g.Random())
	}
	return out
}

// Custom wraps user supplied text. The id is a UUID drawn from the
// generator's random source.
func (g *Generator) Custom(text string) Message {
	if text == "" {
		text = "custom data"
	}
	return Message{
		MessageID: g.uuid(),
		Timestamp: g.timestamp(),
		Payload: map[string]any{
			"data":   text,
			"custom": true,
		},
	}
}

func (g *Generator) uuid() string {
	id, err := uuid.NewRandomFromReader(io.Reader(g.rnd))
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

func (g *Generator) timestamp() string {
	return g.now().UTC().Format(time.RFC3339Nano)
}
