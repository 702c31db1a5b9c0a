package analyzer

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/nshruti113/traffic-sentinel/internal/models"
	log "github.com/sirupsen/logrus"
)

// ErrInsufficientHistory means there are too few closed windows for a baseline
var ErrInsufficientHistory = errors.New("insufficient window history for baseline")

const (
	commonPortCount = 10
	topHostCount    = 10

	spikeSigma            = 3.0
	protocolShiftPoints   = 30.0
	concentrationShare    = 50.0
	connectionSurgeFactor = 5.0
)

// WindowSource is the read side of the traffic collector
type WindowSource interface {
	CurrentStats() *models.WindowStats
	History(n int) []*models.WindowStats
	TopTalkers(n int) []models.Talker
	TopReceivers(n int) []models.Talker
	ProtocolDistribution() map[string]float64
	BandwidthUsage() models.BandwidthUsage
	ConnectionCount() int
}

// DeviationScore is the distance from the baseline mean in standard deviations
type DeviationScore struct {
	PacketsPerSecond float64 `json:"packets_per_second"`
	BytesPerSecond   float64 `json:"bytes_per_second"`
}

// TrafficReport is a point-in-time view of the current window
type TrafficReport struct {
	Timestamp            time.Time          `json:"timestamp"`
	PacketsPerSecond     float64            `json:"packets_per_second"`
	BytesPerSecond       float64            `json:"bytes_per_second"`
	ConnectionsPerMinute float64            `json:"connections_per_minute"`
	ActiveConnections    int                `json:"active_connections"`
	TotalPackets         int64              `json:"total_packets"`
	TotalBytes           int64              `json:"total_bytes"`
	TopSenders           []models.Talker    `json:"top_senders"`
	TopReceivers         []models.Talker    `json:"top_receivers"`
	ProtocolBreakdown    map[string]float64 `json:"protocol_breakdown"`
	UnusualPorts         []int              `json:"unusual_ports"`
	Deviation            *DeviationScore    `json:"deviation,omitempty"`
}

type Option func(*Analyzer)

func WithClock(now func() time.Time) Option {
	return func(a *Analyzer) {
		a.now = now
	}
}

type Analyzer struct {
	source WindowSource
	now    func() time.Time

	mu       sync.RWMutex
	baseline *models.Baseline
}

func New(source WindowSource, opts ...Option) *Analyzer {
	a := &Analyzer{
		source: source,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// GenerateBaseline computes a new baseline from the window history and
// replaces the stored one.
func (a *Analyzer) GenerateBaseline(minSamples int) (*models.Baseline, error) {
	if minSamples < 1 {
		minSamples = 1
	}

	history := a.source.History(0)
	if len(history) < minSamples {
		return nil, fmt.Errorf("%w: have %d, need %d", ErrInsufficientHistory, len(history), minSamples)
	}

	pps := make([]float64, 0, len(history))
	bps := make([]float64, 0, len(history))
	cpm := make([]float64, 0, len(history))
	protocols := make(map[string]int64)
	ports := make(map[int]int64)
	var totalPackets int64

	for _, w := range history {
		d := w.DurationSeconds(w.EndTime)
		pps = append(pps, float64(w.TotalPackets)/d)
		bps = append(bps, float64(w.TotalBytes)/d)
		cpm = append(cpm, float64(w.NewConnections)/d*60)

		for proto, n := range w.ProtocolPackets {
			protocols[proto] += n
		}
		for port, n := range w.PortUsage {
			ports[port] += n
		}
		totalPackets += w.TotalPackets
	}

	dist := make(map[string]float64, len(protocols))
	if totalPackets > 0 {
		for proto, n := range protocols {
			dist[proto] = float64(n) / float64(totalPackets) * 100
		}
	}

	baseline := &models.Baseline{
		GeneratedAt:          history[len(history)-1].EndTime,
		Samples:              len(history),
		PacketsPerSecond:     summarize(pps),
		BytesPerSecond:       summarize(bps),
		ConnectionsPerMinute: summarize(cpm),
		ProtocolDistribution: dist,
		CommonPorts:          topPorts(ports, commonPortCount),
	}

	a.mu.Lock()
	a.baseline = baseline
	a.mu.Unlock()

	log.WithFields(log.Fields{
		"samples":  baseline.Samples,
		"pps_mean": baseline.PacketsPerSecond.Mean,
		"bps_mean": baseline.BytesPerSecond.Mean,
	}).Debug("Baseline regenerated")

	return baseline, nil
}

// Baseline returns the current baseline or nil
func (a *Analyzer) Baseline() *models.Baseline {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.baseline
}

// SetBaseline installs a precomputed baseline
func (a *Analyzer) SetBaseline(b *models.Baseline) {
	a.mu.Lock()
	a.baseline = b
	a.mu.Unlock()
}

// AnalyzeCurrent builds a report for the open window
func (a *Analyzer) AnalyzeCurrent() *TrafficReport {
	usage := a.source.BandwidthUsage()
	stats := a.source.CurrentStats()
	baseline := a.Baseline()

	report := &TrafficReport{
		Timestamp:            a.now(),
		PacketsPerSecond:     usage.PacketsPerSecond,
		BytesPerSecond:       usage.BytesPerSecond,
		ConnectionsPerMinute: usage.ConnectionsPerMinute,
		ActiveConnections:    a.source.ConnectionCount(),
		TotalPackets:         stats.TotalPackets,
		TotalBytes:           stats.TotalBytes,
		TopSenders:           a.source.TopTalkers(topHostCount),
		TopReceivers:         a.source.TopReceivers(topHostCount),
		ProtocolBreakdown:    a.source.ProtocolDistribution(),
		UnusualPorts:         []int{},
	}

	if baseline == nil {
		return report
	}

	for port := range stats.PortUsage {
		if !baseline.HasPort(port) {
			report.UnusualPorts = append(report.UnusualPorts, port)
		}
	}
	sort.Ints(report.UnusualPorts)

	report.Deviation = &DeviationScore{
		PacketsPerSecond: Deviation(usage.PacketsPerSecond, baseline.PacketsPerSecond.Mean, baseline.PacketsPerSecond.StdDev),
		BytesPerSecond:   Deviation(usage.BytesPerSecond, baseline.BytesPerSecond.Mean, baseline.BytesPerSecond.StdDev),
	}
	return report
}

// Deviation returns (current - mean) / stddev, or 0 when stddev is 0
func Deviation(current, mean, stddev float64) float64 {
	if stddev == 0 {
		return 0
	}
	return (current - mean) / stddev
}

func summarize(values []float64) models.MetricStats {
	if len(values) == 0 {
		return models.MetricStats{}
	}

	var sum, peak float64
	for i, v := range values {
		sum += v
		if i == 0 || v > peak {
			peak = v
		}
	}
	mean := sum / float64(len(values))

	var sq float64
	for _, v := range values {
		sq += (v - mean) * (v - mean)
	}

	return models.MetricStats{
		Mean:   mean,
		StdDev: math.Sqrt(sq / float64(len(values))),
		Max:    peak,
	}
}

func topPorts(usage map[int]int64, n int) []int {
	ports := make([]int, 0, len(usage))
	for port := range usage {
		ports = append(ports, port)
	}
	sort.Slice(ports, func(i, j int) bool {
		if usage[ports[i]] != usage[ports[j]] {
			return usage[ports[i]] > usage[ports[j]]
		}
		return ports[i] < ports[j]
	})
	if len(ports) > n {
		ports = ports[:n]
	}
	return ports
}
