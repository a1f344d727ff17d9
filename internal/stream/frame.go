package stream

import (
	"Cerberus/internal/model"
	"encoding/json"
	"errors"
)

// DecodeFrame parses one textual frame into its {type, data} envelope.
func DecodeFrame(data []byte) (model.Frame, error) {
	var frame model.Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		return model.Frame{}, &model.ParseError{What: "stream frame", Err: err}
	}
	if frame.Type == "" {
		return model.Frame{}, &model.ParseError{What: "stream frame", Err: errors.New("missing type")}
	}
	return frame, nil
}
