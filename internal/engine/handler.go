package engine

import (
	"context"

	jsoniter "github.com/json-iterator/go"

	"github.com/Shiva-Nandh-Reddy-Mokilla/Phase1-EventHubs-AKS/internal/logging"
	"github.com/Shiva-Nandh-Reddy-Mokilla/Phase1-EventHubs-AKS/internal/message"
	"github.com/Shiva-Nandh-Reddy-Mokilla/Phase1-EventHubs-AKS/internal/reader"
	"github.com/Shiva-Nandh-Reddy-Mokilla/Phase1-EventHubs-AKS/internal/stream"
)

// LogHandler logs every event with its message id and timestamp. Empty
// bodies are skipped.
func LogHandler(c message.Codec) reader.Handler {
	return func(_ context.Context, ev stream.Event) error {
		if len(ev.Body) == 0 {
			logging.L().Debug("skipping empty event", "partition", ev.PartitionID, "offset", ev.Offset)
			return nil
		}
		id, ts := message.Describe(c, ev.Body)
		logging.L().Info("event received",
			"partition", ev.PartitionID,
			"offset", ev.Offset,
			"message_id", id,
			"timestamp", ts,
			"body", bodyText(c, ev.Body))
		return nil
	}
}

// bodyText renders binary encodings as JSON so logs stay readable.
func bodyText(c message.Codec, body []byte) string {
	if c.Name() == "json" {
		return string(body)
	}
	m, err := c.Decode(body)
	if err != nil {
		return string(body)
	}
	out, err := jsoniter.ConfigCompatibleWithStandardLibrary.MarshalToString(m)
	if err != nil {
		return string(body)
	}
	return out
}
