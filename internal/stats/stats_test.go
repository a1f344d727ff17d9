package stats

import "testing"

func TestFormatBytes(t *testing.T) {
	cases := []struct {
		in   uint64
		want string
	}{
		{0, "0 B"},
		{1, "1.00 B"},
		{1023, "1023.00 B"},
		{1024, "1.00 KB"},
		{1536, "1.50 KB"},
		{1024 * 1024, "1.00 MB"},
		{5 * 1024 * 1024 * 1024, "5.00 GB"},
		{3 * 1024 * 1024 * 1024 * 1024, "3072.00 GB"},
	}
	for _, c := range cases {
		if got := FormatBytes(c.in); got != c.want {
			t.Errorf("FormatBytes(%d) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestCounters_AddTraffic(t *testing.T) {
	sizes := []int64{500, 0, 1500, 64, -1}
	var c Counters
	var want uint64
	for _, s := range sizes {
		c.AddTraffic(s)
		if s > 0 {
			want += uint64(s)
		}
	}
	if c.Packets != uint64(len(sizes)) {
		t.Errorf("Expected %d packets, got %d", len(sizes), c.Packets)
	}
	if c.Bytes != want {
		t.Errorf("Expected %d bytes, got %d", want, c.Bytes)
	}

	c.AddAlert()
	c.AddAlert()
	if c.Alerts != 2 {
		t.Errorf("Expected 2 alerts, got %d", c.Alerts)
	}
}
