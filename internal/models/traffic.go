package models

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"time"
)

// ErrInvalidPacket is returned for packets missing required fields
var ErrInvalidPacket = errors.New("invalid packet")

// TCPFlags is the TCP flag bitmask carried by a packet
type TCPFlags uint8

const (
	FlagFIN TCPFlags = 0x01
	FlagSYN TCPFlags = 0x02
	FlagRST TCPFlags = 0x04
	FlagPSH TCPFlags = 0x08
	FlagACK TCPFlags = 0x10
	FlagURG TCPFlags = 0x20
)

// Has reports whether all bits of f are set
func (t TCPFlags) Has(f TCPFlags) bool {
	return t&f == f
}

const (
	ProtocolTCP  = "TCP"
	ProtocolUDP  = "UDP"
	ProtocolICMP = "ICMP"
)

// PacketDescriptor is a single normalized packet handed to the collector
type PacketDescriptor struct {
	SrcIP     string    `json:"src_ip"`
	DstIP     string    `json:"dst_ip"`
	SrcPort   int       `json:"src_port"`
	DstPort   int       `json:"dst_port"`
	Protocol  string    `json:"protocol"` // TCP, UDP, ICMP, ...
	Size      int       `json:"size"`
	Flags     TCPFlags  `json:"flags"`
	Timestamp time.Time `json:"timestamp"`
}

// Validate normalizes the protocol tag and checks required fields
func (p *PacketDescriptor) Validate() error {
	if p.SrcIP == "" || p.DstIP == "" {
		return fmt.Errorf("%w: missing ip", ErrInvalidPacket)
	}
	if _, err := netip.ParseAddr(p.SrcIP); err != nil {
		return fmt.Errorf("%w: source ip %q", ErrInvalidPacket, p.SrcIP)
	}
	if _, err := netip.ParseAddr(p.DstIP); err != nil {
		return fmt.Errorf("%w: destination ip %q", ErrInvalidPacket, p.DstIP)
	}
	p.Protocol = strings.ToUpper(strings.TrimSpace(p.Protocol))
	if p.Protocol == "" {
		return fmt.Errorf("%w: missing protocol", ErrInvalidPacket)
	}
	if p.Size < 0 {
		return fmt.Errorf("%w: negative size", ErrInvalidPacket)
	}
	if p.SrcPort < 0 || p.SrcPort > 65535 || p.DstPort < 0 || p.DstPort > 65535 {
		return fmt.Errorf("%w: port out of range", ErrInvalidPacket)
	}
	return nil
}

// IsFlow reports whether the packet belongs to a tracked TCP/UDP flow
func (p *PacketDescriptor) IsFlow() bool {
	return p.Protocol == ProtocolTCP || p.Protocol == ProtocolUDP
}

// WindowStats holds aggregated counters for one rotation period
type WindowStats struct {
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time,omitempty"`

	TotalPackets int64 `json:"total_packets"`
	TotalBytes   int64 `json:"total_bytes"`

	ProtocolPackets map[string]int64 `json:"protocol_packets"`
	ProtocolBytes   map[string]int64 `json:"protocol_bytes"`

	SourceBytes        map[string]int64 `json:"source_bytes"`
	SourcePackets      map[string]int64 `json:"source_packets"`
	DestinationBytes   map[string]int64 `json:"destination_bytes"`
	DestinationPackets map[string]int64 `json:"destination_packets"`

	PortUsage map[int]int64 `json:"port_usage"`

	ActiveConnections int64 `json:"active_connections"`
	NewConnections    int64 `json:"new_connections"`
	ClosedConnections int64 `json:"closed_connections"`

	SYNCount int64 `json:"syn_count"`
	ACKCount int64 `json:"ack_count"`
	RSTCount int64 `json:"rst_count"`
	FINCount int64 `json:"fin_count"`
}

// NewWindowStats starts an empty window at the given time
func NewWindowStats(start time.Time) *WindowStats {
	return &WindowStats{
		StartTime:          start,
		ProtocolPackets:    make(map[string]int64),
		ProtocolBytes:      make(map[string]int64),
		SourceBytes:        make(map[string]int64),
		SourcePackets:      make(map[string]int64),
		DestinationBytes:   make(map[string]int64),
		DestinationPackets: make(map[string]int64),
		PortUsage:          make(map[int]int64),
	}
}

// Clone returns a deep copy
func (w *WindowStats) Clone() *WindowStats {
	c := *w
	c.ProtocolPackets = cloneMap(w.ProtocolPackets)
	c.ProtocolBytes = cloneMap(w.ProtocolBytes)
	c.SourceBytes = cloneMap(w.SourceBytes)
	c.SourcePackets = cloneMap(w.SourcePackets)
	c.DestinationBytes = cloneMap(w.DestinationBytes)
	c.DestinationPackets = cloneMap(w.DestinationPackets)
	c.PortUsage = cloneMap(w.PortUsage)
	return &c
}

// DurationSeconds is the window length, floored to one second.
// Closed windows use EndTime, the current window uses now.
func (w *WindowStats) DurationSeconds(now time.Time) float64 {
	end := w.EndTime
	if end.IsZero() {
		end = now
	}
	d := end.Sub(w.StartTime).Seconds()
	if d < 1 {
		return 1
	}
	return d
}

func cloneMap[K comparable](m map[K]int64) map[K]int64 {
	out := make(map[K]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// ConnectionState is the lifecycle state of a tracked flow
type ConnectionState string

const (
	ConnectionActive ConnectionState = "ACTIVE"
	ConnectionClosed ConnectionState = "CLOSED"
)

// ConnectionKey identifies a flow by its 5-tuple
type ConnectionKey struct {
	SrcIP    string `json:"src_ip"`
	SrcPort  int    `json:"src_port"`
	DstIP    string `json:"dst_ip"`
	DstPort  int    `json:"dst_port"`
	Protocol string `json:"protocol"`
}

// Connection is a tracked TCP/UDP flow
type Connection struct {
	Key       ConnectionKey   `json:"key"`
	StartTime time.Time       `json:"start_time"`
	LastSeen  time.Time       `json:"last_seen"`
	Packets   int64           `json:"packets"`
	Bytes     int64           `json:"bytes"`
	State     ConnectionState `json:"state"`
}

// MetricStats summarizes one metric over the sampled windows
type MetricStats struct {
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
	Max    float64 `json:"max"`
}

// Baseline is a statistical summary of historical windows
type Baseline struct {
	GeneratedAt          time.Time          `json:"generated_at"`
	Samples              int                `json:"samples"`
	PacketsPerSecond     MetricStats        `json:"packets_per_second"`
	BytesPerSecond       MetricStats        `json:"bytes_per_second"`
	ConnectionsPerMinute MetricStats        `json:"connections_per_minute"`
	ProtocolDistribution map[string]float64 `json:"protocol_distribution"`
	CommonPorts          []int              `json:"common_ports"`
}

// HasPort reports whether port is one of the baseline's common ports
func (b *Baseline) HasPort(port int) bool {
	for _, p := range b.CommonPorts {
		if p == port {
			return true
		}
	}
	return false
}

// Talker is a host ranked by traffic volume
type Talker struct {
	IP         string  `json:"ip"`
	Bytes      int64   `json:"bytes"`
	Packets    int64   `json:"packets"`
	Percentage float64 `json:"percentage"`
}

// BandwidthUsage is the traffic rate since the last rotation
type BandwidthUsage struct {
	BytesPerSecond       float64 `json:"bytes_per_second"`
	PacketsPerSecond     float64 `json:"packets_per_second"`
	ConnectionsPerMinute float64 `json:"connections_per_minute"`
	ElapsedSeconds       float64 `json:"elapsed_seconds"`
}
