// Package dispatch routes decoded stream frames into the dashboard state.
package dispatch

import (
	"Cerberus/internal/model"
	"Cerberus/internal/state"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// TrainingCompleteMarker in a system message means the model finished training
// and the snapshot should be fetched again.
const TrainingCompleteMarker = "Model training complete"

// ErrUnknownType is returned for frames whose type is not handled.
var ErrUnknownType = errors.New("unknown frame type")

// Message is one decoded stream frame.
type Message interface {
	frameType() string
}

// TrafficMessage carries a captured packet.
type TrafficMessage struct {
	Event model.TrafficEvent
}

// AlertMessage carries an intrusion alert.
type AlertMessage struct {
	Event model.AlertEvent
}

// SystemMessage carries backend narration.
type SystemMessage struct {
	Text string
}

func (TrafficMessage) frameType() string { return model.FrameTraffic }
func (AlertMessage) frameType() string   { return model.FrameAlert }
func (SystemMessage) frameType() string  { return model.FrameSystem }

// TrainingComplete reports whether the message announces a finished training run.
func (m SystemMessage) TrainingComplete() bool {
	return strings.Contains(m.Text, TrainingCompleteMarker)
}

// Decode turns a frame into its message variant.
func Decode(frame model.Frame) (Message, error) {
	switch frame.Type {
	case model.FrameTraffic:
		var ev model.TrafficEvent
		if err := unmarshalPayload(frame.Data, &ev); err != nil {
			return nil, &model.ParseError{What: "traffic payload", Err: err}
		}
		return TrafficMessage{Event: ev}, nil
	case model.FrameAlert:
		var ev model.AlertEvent
		if err := unmarshalPayload(frame.Data, &ev); err != nil {
			return nil, &model.ParseError{What: "alert payload", Err: err}
		}
		return AlertMessage{Event: ev}, nil
	case model.FrameSystem:
		return SystemMessage{Text: systemText(frame.Data)}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, frame.Type)
	}
}

// unmarshalPayload leaves v at its zero value when the frame carries no data.
func unmarshalPayload(data json.RawMessage, v interface{}) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

// systemText extracts the narration. The backend sends a bare JSON string;
// an object with a message field or any other value is rendered as-is.
func systemText(data json.RawMessage) string {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		return text
	}
	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &obj); err == nil && obj.Message != "" {
		return obj.Message
	}
	return string(data)
}

// Dispatcher applies messages to a State. It must run on the state's owner goroutine.
type Dispatcher struct {
	refetch func()
}

// New creates a dispatcher. refetch is called once per training-complete
// message and must not block.
func New(refetch func()) *Dispatcher {
	if refetch == nil {
		refetch = func() {}
	}
	return &Dispatcher{refetch: refetch}
}

// Dispatch decodes and applies one frame. Frames that cannot be decoded are
// logged to the system log and dropped; the error is returned for the caller's accounting.
func (d *Dispatcher) Dispatch(st *state.State, frame model.Frame) (Message, error) {
	msg, err := Decode(frame)
	if err != nil {
		if errors.Is(err, ErrUnknownType) {
			st.AppendLog(model.LogError, fmt.Sprintf("Unknown message type: %s", frame.Type))
		} else {
			st.AppendLog(model.LogError, fmt.Sprintf("Error parsing message: %v", err))
		}
		return nil, err
	}
	d.Apply(st, msg)
	return msg, nil
}

// Apply performs the state change for one message.
func (d *Dispatcher) Apply(st *state.State, msg Message) {
	switch m := msg.(type) {
	case TrafficMessage:
		st.Traffic.Push(m.Event)
		st.Counters.AddTraffic(m.Event.PacketSize)
	case AlertMessage:
		st.Alerts.Push(m.Event)
		st.Counters.AddAlert()
		st.AppendLog(model.LogAlert, "New Alert: "+m.Event.Message)
	case SystemMessage:
		st.AppendLog(model.LogSystem, m.Text)
		if m.TrainingComplete() {
			d.refetch()
		}
	}
}
