package detection

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nshruti113/traffic-sentinel/internal/analyzer"
	"github.com/nshruti113/traffic-sentinel/internal/models"
	log "github.com/sirupsen/logrus"
)

// TrafficSource is the part of the collector the detector reads
type TrafficSource interface {
	BandwidthUsage() models.BandwidthUsage
	CurrentStats() *models.WindowStats
}

// ReportAnalyzer is the part of the analyzer the detector reads
type ReportAnalyzer interface {
	AnalyzeCurrent() *analyzer.TrafficReport
	DetectTrafficAnomalies(report *analyzer.TrafficReport) []models.Anomaly
	Baseline() *models.Baseline
}

type Config struct {
	DDoSPacketsPerSecond       float64
	DDoSConnectionsPerMinute   float64
	PortScanThreshold          int
	PortScanWindow             time.Duration
	ExfiltrationBytesPerSecond float64
	ExfiltrationMinDuration    time.Duration
	SuspiciousPortThreshold    int
	OffHoursStart              int
	OffHoursEnd                int
	TrackingTTL                time.Duration
	LogCap                     int
}

func DefaultConfig() Config {
	return Config{
		DDoSPacketsPerSecond:       1000,
		DDoSConnectionsPerMinute:   600,
		PortScanThreshold:          10,
		PortScanWindow:             60 * time.Second,
		ExfiltrationBytesPerSecond: 10 * 1024 * 1024,
		ExfiltrationMinDuration:    10 * time.Second,
		SuspiciousPortThreshold:    5,
		OffHoursStart:              0,
		OffHoursEnd:                6,
		TrackingTTL:                10 * time.Minute,
		LogCap:                     10000,
	}
}

// SuspiciousPorts are well-known backdoor and RAT ports
var SuspiciousPorts = map[int]string{
	1337:  "leet backdoor",
	4444:  "metasploit",
	5554:  "sasser",
	6666:  "irc botnet",
	6667:  "irc botnet",
	9996:  "sasser ftp",
	12345: "netbus",
	20034: "netbus pro",
	27374: "subseven",
	31337: "back orifice",
}

const (
	ddosDominantShare   = 0.5
	topSourceCount      = 5
	verticalScanMaxHost = 5
	offHoursFactor      = 0.5
)

type Option func(*Detector)

func WithClock(now func() time.Time) Option {
	return func(d *Detector) {
		d.now = now
	}
}

// Detector runs rule-based detectors over the collector's stats and
// the per-source tracking it maintains itself.
type Detector struct {
	source   TrafficSource
	analyzer ReportAnalyzer
	cfg      Config
	now      func() time.Time

	mu         sync.Mutex
	tracks     map[string]*sourceTrack
	suspicious map[string]map[int]int // source -> port -> hits

	log     *anomalyLog
	metrics *Metrics
}

func NewDetector(source TrafficSource, an ReportAnalyzer, cfg Config, opts ...Option) *Detector {
	def := DefaultConfig()
	if cfg.DDoSPacketsPerSecond <= 0 {
		cfg.DDoSPacketsPerSecond = def.DDoSPacketsPerSecond
	}
	if cfg.DDoSConnectionsPerMinute <= 0 {
		cfg.DDoSConnectionsPerMinute = def.DDoSConnectionsPerMinute
	}
	if cfg.PortScanThreshold <= 0 {
		cfg.PortScanThreshold = def.PortScanThreshold
	}
	if cfg.PortScanWindow <= 0 {
		cfg.PortScanWindow = def.PortScanWindow
	}
	if cfg.ExfiltrationBytesPerSecond <= 0 {
		cfg.ExfiltrationBytesPerSecond = def.ExfiltrationBytesPerSecond
	}
	if cfg.ExfiltrationMinDuration <= 0 {
		cfg.ExfiltrationMinDuration = def.ExfiltrationMinDuration
	}
	if cfg.SuspiciousPortThreshold <= 0 {
		cfg.SuspiciousPortThreshold = def.SuspiciousPortThreshold
	}
	if cfg.TrackingTTL <= 0 {
		cfg.TrackingTTL = def.TrackingTTL
	}
	if cfg.LogCap <= 0 {
		cfg.LogCap = def.LogCap
	}

	d := &Detector{
		source:     source,
		analyzer:   an,
		cfg:        cfg,
		now:        time.Now,
		tracks:     make(map[string]*sourceTrack),
		suspicious: make(map[string]map[int]int),
		log:        newAnomalyLog(cfg.LogCap),
		metrics:    newMetrics(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Detector) Metrics() *Metrics {
	return d.metrics
}

// RunDetection runs every detector once and records the results
func (d *Detector) RunDetection(now time.Time) []models.Anomaly {
	d.sweep(now)

	anomalies := make([]models.Anomaly, 0)

	if a := d.DetectDDoS(d.source.BandwidthUsage()); a != nil {
		anomalies = append(anomalies, *a)
	}
	anomalies = append(anomalies, d.DetectPortScan(now)...)
	anomalies = append(anomalies, d.DetectExfiltration(now)...)
	anomalies = append(anomalies, d.DetectSuspiciousPorts()...)

	report := d.analyzer.AnalyzeCurrent()
	anomalies = append(anomalies, d.analyzer.DetectTrafficAnomalies(report)...)
	if a := d.DetectOffHours(report, now); a != nil {
		anomalies = append(anomalies, *a)
	}

	d.record(anomalies)
	return anomalies
}

func (d *Detector) record(anomalies []models.Anomaly) {
	for _, a := range anomalies {
		d.log.append(a)
		d.metrics.anomalies.WithLabelValues(string(a.Type), string(a.Severity)).Inc()

		log.WithFields(log.Fields{
			"id":         a.ID,
			"type":       a.Type,
			"severity":   a.Severity,
			"source":     a.Source,
			"confidence": fmt.Sprintf("%.2f", a.Confidence),
		}).Warn(a.Description)
	}
}

// DetectDDoS flags packet or connection rates above the flood thresholds
func (d *Detector) DetectDDoS(usage models.BandwidthUsage) *models.Anomaly {
	var vector string
	var confidence float64
	switch {
	case usage.PacketsPerSecond > d.cfg.DDoSPacketsPerSecond:
		vector = "HIGH_PACKET_RATE"
		confidence = 0.95
	case usage.ConnectionsPerMinute > d.cfg.DDoSConnectionsPerMinute:
		vector = "CONNECTION_FLOOD"
		confidence = 0.9
	default:
		return nil
	}

	stats := d.source.CurrentStats()
	top := topSources(stats.SourcePackets, topSourceCount)
	source := models.SourceMultiple
	if len(top) > 0 && stats.TotalPackets > 0 &&
		float64(stats.SourcePackets[top[0]])/float64(stats.TotalPackets) > ddosDominantShare {
		source = top[0]
	}

	return &models.Anomaly{
		ID:        uuid.New().String(),
		Timestamp: d.now(),
		Type:      models.AnomalyDDoS,
		Severity:  models.SeverityCritical,
		Source:    source,
		Description: fmt.Sprintf("DDoS detected: %.0f pps, %.0f new connections/min from %d sources",
			usage.PacketsPerSecond, usage.ConnectionsPerMinute, len(stats.SourcePackets)),
		Details: map[string]interface{}{
			"attack_vector":          vector,
			"packets_per_second":     usage.PacketsPerSecond,
			"connections_per_minute": usage.ConnectionsPerMinute,
			"top_sources":            top,
			"unique_sources":         len(stats.SourcePackets),
			"source_entropy":         calculateEntropy(stats.SourcePackets),
			"syn_count":              stats.SYNCount,
		},
		Confidence: confidence,
	}
}

// DetectOffHours flags elevated traffic inside the configured quiet hours
func (d *Detector) DetectOffHours(report *analyzer.TrafficReport, now time.Time) *models.Anomaly {
	baseline := d.analyzer.Baseline()
	if report == nil || baseline == nil || baseline.PacketsPerSecond.Mean <= 0 {
		return nil
	}
	if !inHours(now.Hour(), d.cfg.OffHoursStart, d.cfg.OffHoursEnd) {
		return nil
	}

	limit := baseline.PacketsPerSecond.Mean * offHoursFactor
	if report.PacketsPerSecond <= limit {
		return nil
	}

	source := models.SourceMultiple
	if len(report.TopSenders) > 0 && report.TopSenders[0].Percentage > ddosDominantShare*100 {
		source = report.TopSenders[0].IP
	}

	return &models.Anomaly{
		ID:          uuid.New().String(),
		Timestamp:   now,
		Type:        models.AnomalyOffHours,
		Severity:    models.SeverityMedium,
		Source:      source,
		Description: fmt.Sprintf("Off-hours activity: %.1f pps at %02d:00 (baseline %.1f)", report.PacketsPerSecond, now.Hour(), baseline.PacketsPerSecond.Mean),
		Details: map[string]interface{}{
			"hour":               now.Hour(),
			"packets_per_second": report.PacketsPerSecond,
			"baseline_mean":      baseline.PacketsPerSecond.Mean,
		},
		Confidence: math.Min(0.5+report.PacketsPerSecond/baseline.PacketsPerSecond.Mean*0.1, 0.8),
	}
}

// DetectProtocolAnomalies keeps the analyzer's protocol findings
func (d *Detector) DetectProtocolAnomalies(report *analyzer.TrafficReport) []models.Anomaly {
	var out []models.Anomaly
	for _, a := range d.analyzer.DetectTrafficAnomalies(report) {
		if a.Type == models.AnomalyUnusualProtocol || a.Type == models.AnomalyProtocolDeviation {
			out = append(out, a)
		}
	}
	return out
}

// inHours reports whether hour is in [start, end), wrapping past midnight
func inHours(hour, start, end int) bool {
	if start == end {
		return false
	}
	if start < end {
		return hour >= start && hour < end
	}
	return hour >= start || hour < end
}

// calculateEntropy calculates Shannon entropy for a distribution
func calculateEntropy(counts map[string]int64) float64 {
	var total int64
	for _, count := range counts {
		total += count
	}

	if total == 0 {
		return 0.0
	}

	entropy := 0.0
	for _, count := range counts {
		if count > 0 {
			p := float64(count) / float64(total)
			entropy -= p * math.Log2(p)
		}
	}

	return entropy
}

// topSources returns the top n IPs by count
func topSources(counts map[string]int64, n int) []string {
	ips := make([]string, 0, len(counts))
	for ip := range counts {
		ips = append(ips, ip)
	}
	sort.Slice(ips, func(i, j int) bool {
		if counts[ips[i]] != counts[ips[j]] {
			return counts[ips[i]] > counts[ips[j]]
		}
		return ips[i] < ips[j]
	})
	if len(ips) > n {
		ips = ips[:n]
	}
	return ips
}
