package replay

import (
	"Cerberus/internal/model"
	"fmt"
	"strings"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// ParsePacket uses gopacket to decode a raw packet into a traffic event.
// Packets without an IPv4 or IPv6 layer are rejected.
func ParsePacket(data []byte, link gopacket.Decoder, ts time.Time) (model.TrafficEvent, error) {
	packet := gopacket.NewPacket(data, link, gopacket.Default)

	ev := model.TrafficEvent{
		Timestamp:  model.Timestamp{Time: ts},
		PacketSize: int64(len(data)),
	}

	var next layers.IPProtocol
	if l := packet.Layer(layers.LayerTypeIPv4); l != nil {
		ip := l.(*layers.IPv4)
		ev.SourceIP, ev.DestIP = ip.SrcIP.String(), ip.DstIP.String()
		next = ip.Protocol
	} else if l := packet.Layer(layers.LayerTypeIPv6); l != nil {
		ip := l.(*layers.IPv6)
		ev.SourceIP, ev.DestIP = ip.SrcIP.String(), ip.DstIP.String()
		next = ip.NextHeader
	} else {
		return model.TrafficEvent{}, fmt.Errorf("not an IP packet")
	}

	if l := packet.Layer(layers.LayerTypeTCP); l != nil {
		tcp := l.(*layers.TCP)
		ev.Protocol = "TCP"
		ev.SourcePort, ev.DestPort = int(tcp.SrcPort), int(tcp.DstPort)
		ev.TCPFlags = tcpFlags(tcp)
	} else if l := packet.Layer(layers.LayerTypeUDP); l != nil {
		udp := l.(*layers.UDP)
		ev.Protocol = "UDP"
		ev.SourcePort, ev.DestPort = int(udp.SrcPort), int(udp.DstPort)
	} else if next == layers.IPProtocolICMPv4 {
		ev.Protocol = "ICMP"
	} else {
		ev.Protocol = strings.ToUpper(next.String())
	}
	return ev, nil
}

func tcpFlags(tcp *layers.TCP) string {
	var flags []string
	for _, f := range []struct {
		set  bool
		name string
	}{
		{tcp.SYN, "SYN"}, {tcp.ACK, "ACK"}, {tcp.FIN, "FIN"},
		{tcp.RST, "RST"}, {tcp.PSH, "PSH"}, {tcp.URG, "URG"},
	} {
		if f.set {
			flags = append(flags, f.name)
		}
	}
	return strings.Join(flags, ",")
}
