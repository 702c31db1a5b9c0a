package collector

import (
	"sort"
	"sync"
	"time"

	"github.com/nshruti113/traffic-sentinel/internal/models"
	log "github.com/sirupsen/logrus"
)

const (
	DefaultWindow            = 60 * time.Second
	DefaultHistorySize       = 60
	DefaultConnectionTimeout = 5 * time.Minute
)

type Config struct {
	Window            time.Duration
	HistorySize       int
	ConnectionTimeout time.Duration
}

type Option func(*Collector)

// WithClock replaces time.Now, mostly for tests
func WithClock(now func() time.Time) Option {
	return func(c *Collector) {
		c.now = now
	}
}

// Collector aggregates packets into rolling windows and tracks connections
type Collector struct {
	mu  sync.RWMutex
	cfg Config
	now func() time.Time

	current      *models.WindowStats
	history      []*models.WindowStats
	connections  map[models.ConnectionKey]*models.Connection
	lastRotation time.Time

	metrics *Metrics
}

func New(cfg Config, opts ...Option) *Collector {
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = DefaultHistorySize
	}
	if cfg.ConnectionTimeout <= 0 {
		cfg.ConnectionTimeout = DefaultConnectionTimeout
	}

	c := &Collector{
		cfg:         cfg,
		now:         time.Now,
		connections: make(map[models.ConnectionKey]*models.Connection),
		metrics:     newMetrics(),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.lastRotation = c.now()
	c.current = models.NewWindowStats(c.lastRotation)
	return c
}

// Metrics exposes the collector's prometheus collectors
func (c *Collector) Metrics() *Metrics {
	return c.metrics
}

// Ingest adds one packet to the current window. Invalid packets are
// skipped and reported with false.
func (c *Collector) Ingest(p models.PacketDescriptor) bool {
	if err := p.Validate(); err != nil {
		c.metrics.rejected.Inc()
		log.WithError(err).WithField("src_ip", p.SrcIP).Debug("Skipping packet")
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if p.Timestamp.IsZero() {
		p.Timestamp = now
	}
	if now.Sub(c.lastRotation) >= c.cfg.Window {
		c.rotateLocked(now)
	}

	w := c.current
	size := int64(p.Size)

	w.TotalPackets++
	w.TotalBytes += size
	w.ProtocolPackets[p.Protocol]++
	w.ProtocolBytes[p.Protocol] += size
	w.SourceBytes[p.SrcIP] += size
	w.SourcePackets[p.SrcIP]++
	w.DestinationBytes[p.DstIP] += size
	w.DestinationPackets[p.DstIP]++
	if p.DstPort > 0 {
		w.PortUsage[p.DstPort]++
	}

	if p.Protocol == models.ProtocolTCP {
		if p.Flags.Has(models.FlagSYN) {
			w.SYNCount++
		}
		if p.Flags.Has(models.FlagACK) {
			w.ACKCount++
		}
		if p.Flags.Has(models.FlagRST) {
			w.RSTCount++
		}
		if p.Flags.Has(models.FlagFIN) {
			w.FINCount++
		}
	}

	if p.IsFlow() {
		c.trackConnection(&p, now)
	}

	c.metrics.packets.WithLabelValues(p.Protocol).Inc()
	c.metrics.bytes.Add(float64(size))
	return true
}

func (c *Collector) trackConnection(p *models.PacketDescriptor, now time.Time) {
	key := models.ConnectionKey{
		SrcIP:    p.SrcIP,
		SrcPort:  p.SrcPort,
		DstIP:    p.DstIP,
		DstPort:  p.DstPort,
		Protocol: p.Protocol,
	}

	conn, ok := c.connections[key]
	reopen := ok && conn.State == models.ConnectionClosed &&
		p.Flags.Has(models.FlagSYN) && !p.Flags.Has(models.FlagACK)

	if !ok || reopen {
		conn = &models.Connection{
			Key:       key,
			StartTime: now,
			State:     models.ConnectionActive,
		}
		c.connections[key] = conn
		c.current.NewConnections++
	}

	conn.LastSeen = now
	conn.Packets++
	conn.Bytes += int64(p.Size)

	if conn.State == models.ConnectionActive && (p.Flags.Has(models.FlagFIN) || p.Flags.Has(models.FlagRST)) {
		conn.State = models.ConnectionClosed
		c.current.ClosedConnections++
	}
}

// Rotate closes the current window immediately
func (c *Collector) Rotate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rotateLocked(c.now())
}

func (c *Collector) rotateLocked(now time.Time) {
	closed := c.current
	closed.EndTime = now
	closed.ActiveConnections = c.activeLocked()

	c.history = append(c.history, closed)
	if over := len(c.history) - c.cfg.HistorySize; over > 0 {
		c.history = append(c.history[:0:0], c.history[over:]...)
	}

	c.current = models.NewWindowStats(now)
	c.lastRotation = now

	pruned := 0
	for key, conn := range c.connections {
		if now.Sub(conn.LastSeen) > c.cfg.ConnectionTimeout {
			delete(c.connections, key)
			pruned++
		}
	}

	c.metrics.rotations.Inc()
	c.metrics.activeConnections.Set(float64(c.activeLocked()))

	log.WithFields(log.Fields{
		"packets":     closed.TotalPackets,
		"bytes":       closed.TotalBytes,
		"history":     len(c.history),
		"pruned_conn": pruned,
	}).Debug("Window rotated")
}

func (c *Collector) activeLocked() int64 {
	var n int64
	for _, conn := range c.connections {
		if conn.State == models.ConnectionActive {
			n++
		}
	}
	return n
}

// CurrentStats returns a copy of the open window
func (c *Collector) CurrentStats() *models.WindowStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := c.current.Clone()
	stats.ActiveConnections = c.activeLocked()
	return stats
}

// History returns the last n closed windows, oldest first. n <= 0 returns all.
func (c *Collector) History(n int) []*models.WindowStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	start := 0
	if n > 0 && n < len(c.history) {
		start = len(c.history) - n
	}

	out := make([]*models.WindowStats, 0, len(c.history)-start)
	for _, w := range c.history[start:] {
		out = append(out, w.Clone())
	}
	return out
}

// HistoryLen is the number of closed windows retained
func (c *Collector) HistoryLen() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.history)
}

// TopTalkers ranks sources of the current window by bytes sent
func (c *Collector) TopTalkers(n int) []models.Talker {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return rankHosts(c.current.SourceBytes, c.current.SourcePackets, c.current.TotalBytes, n)
}

// TopReceivers ranks destinations of the current window by bytes received
func (c *Collector) TopReceivers(n int) []models.Talker {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return rankHosts(c.current.DestinationBytes, c.current.DestinationPackets, c.current.TotalBytes, n)
}

func rankHosts(bytes, packets map[string]int64, total int64, n int) []models.Talker {
	talkers := make([]models.Talker, 0, len(bytes))
	for ip, b := range bytes {
		t := models.Talker{IP: ip, Bytes: b, Packets: packets[ip]}
		if total > 0 {
			t.Percentage = float64(b) / float64(total) * 100
		}
		talkers = append(talkers, t)
	}

	sort.Slice(talkers, func(i, j int) bool {
		if talkers[i].Bytes != talkers[j].Bytes {
			return talkers[i].Bytes > talkers[j].Bytes
		}
		return talkers[i].IP < talkers[j].IP
	})

	if n > 0 && len(talkers) > n {
		talkers = talkers[:n]
	}
	return talkers
}

// ProtocolDistribution is the percentage of packets per protocol in the current window
func (c *Collector) ProtocolDistribution() map[string]float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	dist := make(map[string]float64, len(c.current.ProtocolPackets))
	if c.current.TotalPackets == 0 {
		return dist
	}
	for proto, n := range c.current.ProtocolPackets {
		dist[proto] = float64(n) / float64(c.current.TotalPackets) * 100
	}
	return dist
}

// BandwidthUsage reports rates since the last rotation
func (c *Collector) BandwidthUsage() models.BandwidthUsage {
	c.mu.RLock()
	defer c.mu.RUnlock()

	elapsed := c.current.DurationSeconds(c.now())
	return models.BandwidthUsage{
		BytesPerSecond:       float64(c.current.TotalBytes) / elapsed,
		PacketsPerSecond:     float64(c.current.TotalPackets) / elapsed,
		ConnectionsPerMinute: float64(c.current.NewConnections) / elapsed * 60,
		ElapsedSeconds:       elapsed,
	}
}

// ConnectionCount is the number of active connections
func (c *Collector) ConnectionCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return int(c.activeLocked())
}

// Connections returns a snapshot of tracked connections, most recent first
func (c *Collector) Connections() []models.Connection {
	c.mu.RLock()
	defer c.mu.RUnlock()

	conns := make([]models.Connection, 0, len(c.connections))
	for _, conn := range c.connections {
		conns = append(conns, *conn)
	}
	sort.Slice(conns, func(i, j int) bool {
		return conns[i].LastSeen.After(conns[j].LastSeen)
	})
	return conns
}
