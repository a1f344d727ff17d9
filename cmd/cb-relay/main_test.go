package main

import (
	"Cerberus/internal/model"
	"Cerberus/internal/relay"
	"strings"
	"testing"
	"time"
)

func TestFormatEnvelope(t *testing.T) {
	at := time.Now()
	cases := []struct {
		frame model.Frame
		raw   bool
		want  string
	}{
		{model.Frame{Type: "traffic", Data: []byte(`{"source_ip":"10.0.0.1","source_port":1234,"dest_ip":"10.0.0.2","dest_port":53,"protocol":"UDP","packet_size":80}`)}, false, "traffic 10.0.0.1:1234 -> 10.0.0.2:53(domain) (UDP) 80B"},
		{model.Frame{Type: "alert", Data: []byte(`{"id":4,"message":"Port scan"}`)}, false, "ALERT #4 Port scan"},
		{model.Frame{Type: "system", Data: []byte(`"hello"`)}, false, "system hello"},
		{model.Frame{Type: "mystery", Data: []byte(`{}`)}, false, "mystery (undecodable"},
		{model.Frame{Type: "alert", Data: []byte(`{"id":4}`)}, true, `alert {"id":4}`},
	}
	for _, tc := range cases {
		got := formatEnvelope(relay.Envelope{ReceivedAt: at, Frame: tc.frame}, tc.raw)
		if !strings.Contains(got, tc.want) {
			t.Errorf("formatEnvelope(%s, raw=%v) = %q, want it to contain %q", tc.frame.Type, tc.raw, got, tc.want)
		}
	}
}
