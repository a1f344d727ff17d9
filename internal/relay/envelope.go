// Package relay re-publishes stream frames to a message broker.
package relay

import (
	"Cerberus/internal/model"
	"errors"
	"fmt"
	"time"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// Wire field numbers of the relayed envelope.
const (
	fieldReceivedAt protowire.Number = 1 // google.protobuf.Timestamp
	fieldType       protowire.Number = 2 // string
	fieldData       protowire.Number = 3 // google.protobuf.Value
)

// Envelope is a frame as it travels over the broker.
type Envelope struct {
	ReceivedAt time.Time
	Frame      model.Frame
}

// Encode serializes a frame into the protobuf envelope.
func Encode(frame model.Frame, receivedAt time.Time) ([]byte, error) {
	value := structpb.NewNullValue()
	if len(frame.Data) > 0 {
		value = &structpb.Value{}
		if err := protojson.Unmarshal(frame.Data, value); err != nil {
			return nil, fmt.Errorf("failed to convert frame data: %w", err)
		}
	}

	ts, err := proto.Marshal(timestamppb.New(receivedAt))
	if err != nil {
		return nil, err
	}
	data, err := proto.Marshal(value)
	if err != nil {
		return nil, err
	}

	var b []byte
	b = protowire.AppendTag(b, fieldReceivedAt, protowire.BytesType)
	b = protowire.AppendBytes(b, ts)
	b = protowire.AppendTag(b, fieldType, protowire.BytesType)
	b = protowire.AppendString(b, frame.Type)
	b = protowire.AppendTag(b, fieldData, protowire.BytesType)
	b = protowire.AppendBytes(b, data)
	return b, nil
}

// Decode parses an envelope produced by Encode. Unknown fields are skipped.
func Decode(b []byte) (Envelope, error) {
	var (
		env   Envelope
		ts    timestamppb.Timestamp
		value structpb.Value
	)
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return Envelope{}, protowire.ParseError(n)
		}
		b = b[n:]
		if typ != protowire.BytesType {
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return Envelope{}, protowire.ParseError(n)
			}
			b = b[n:]
			continue
		}
		field, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return Envelope{}, protowire.ParseError(n)
		}
		b = b[n:]

		switch num {
		case fieldReceivedAt:
			if err := proto.Unmarshal(field, &ts); err != nil {
				return Envelope{}, fmt.Errorf("failed to decode received_at: %w", err)
			}
			env.ReceivedAt = ts.AsTime()
		case fieldType:
			env.Frame.Type = string(field)
		case fieldData:
			if err := proto.Unmarshal(field, &value); err != nil {
				return Envelope{}, fmt.Errorf("failed to decode data: %w", err)
			}
		}
	}
	if env.Frame.Type == "" {
		return Envelope{}, errors.New("envelope has no frame type")
	}

	if value.GetKind() == nil {
		value.Kind = &structpb.Value_NullValue{}
	}
	data, err := protojson.Marshal(&value)
	if err != nil {
		return Envelope{}, err
	}
	env.Frame.Data = data
	return env, nil
}
