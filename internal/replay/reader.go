package replay

import (
	"Cerberus/internal/model"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/google/gopacket/pcapgo"
)

// Reader reads traffic events from a pcap file.
type Reader struct {
	file   *os.File
	source *pcapgo.Reader
	nextID int64
}

// NewReader opens a pcap file for reading.
func NewReader(filePath string) (*Reader, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	source, err := pcapgo.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to read pcap header: %w", err)
	}
	return &Reader{file: f, source: source}, nil
}

// Close closes the underlying file.
func (r *Reader) Close() error {
	return r.file.Close()
}

// ReadEvents parses every packet in the file and sends the resulting events to
// out, numbering them from 1. It closes out when the file is exhausted or ctx
// is done. Unparseable packets are logged and skipped.
func (r *Reader) ReadEvents(ctx context.Context, out chan<- model.TrafficEvent) error {
	defer close(out)
	for {
		data, ci, err := r.source.ReadPacketData()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read packet: %w", err)
		}
		ev, err := ParsePacket(data, r.source.LinkType(), ci.Timestamp)
		if err != nil {
			log.Printf("Error parsing packet: %v", err)
			continue
		}
		r.nextID++
		ev.ID = r.nextID
		select {
		case out <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
