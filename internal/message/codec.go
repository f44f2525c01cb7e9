package message

import (
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Codec turns messages into event bodies and back.
type Codec interface {
	Name() string
	Encode(Message) ([]byte, error)
	Decode([]byte) (Message, error)
}

func CodecFor(name string) (Codec, error) {
	switch name {
	case "", "json":
		return JSON{}, nil
	case "proto", "protobuf":
		return Proto{}, nil
	}
	return nil, fmt.Errorf("message: unsupported codec %q", name)
}

type JSON struct{}

func (JSON) Name() string { return "json" }

func (JSON) Encode(m Message) ([]byte, error) {
	return json.Marshal(m)
}

func (JSON) Decode(b []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(b, &m); err != nil {
		return Message{}, fmt.Errorf("decode json message: %w", err)
	}
	return m, nil
}

// Proto encodes a message as a google.protobuf.Struct with the same three
// top-level keys as the JSON form.
type Proto struct{}

func (Proto) Name() string { return "proto" }

func (Proto) Encode(m Message) ([]byte, error) {
	payload, err := toValue(m.Payload)
	if err != nil {
		return nil, fmt.Errorf("encode proto payload: %w", err)
	}
	s := &structpb.Struct{Fields: map[string]*structpb.Value{
		"MessageId": structpb.NewStringValue(m.MessageID),
		"Timestamp": structpb.NewStringValue(m.Timestamp),
		"Payload":   payload,
	}}
	return proto.Marshal(s)
}

func (Proto) Decode(b []byte) (Message, error) {
	var s structpb.Struct
	if err := proto.Unmarshal(b, &s); err != nil {
		return Message{}, fmt.Errorf("decode proto message: %w", err)
	}
	m := Message{
		MessageID: s.Fields["MessageId"].GetStringValue(),
		Timestamp: s.Fields["Timestamp"].GetStringValue(),
	}
	if v, ok := s.Fields["Payload"]; ok {
		m.Payload = v.AsInterface()
	}
	return m, nil
}

// toValue accepts anything JSON can represent. Values structpb does not
// know natively (structs, typed maps) go through a JSON round trip.
func toValue(v any) (*structpb.Value, error) {
	if pv, err := structpb.NewValue(v); err == nil {
		return pv, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	return structpb.NewValue(generic)
}

// Describe extracts the id and timestamp for logging. Bodies that do not
// decode still get printable fields.
func Describe(c Codec, body []byte) (id, ts string) {
	m, err := c.Decode(body)
	id, ts = m.MessageID, m.Timestamp
	if err != nil || id == "" {
		id = "unknown"
	}
	if err != nil || ts == "" {
		ts = time.Now().UTC().Format(time.RFC3339Nano)
	}
	return id, ts
}
