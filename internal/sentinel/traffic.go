// Package sentinel runs the monitoring loop that pulls packets through
// collection, detection and response.
package sentinel

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/nshruti113/traffic-sentinel/internal/analyzer"
	"github.com/nshruti113/traffic-sentinel/internal/models"
	"github.com/nshruti113/traffic-sentinel/internal/response"
	log "github.com/sirupsen/logrus"
)

const (
	DefaultInterval           = 10 * time.Second
	DefaultMinBaselineSamples = 10
)

// ThreatStore persists detected threats and blocked sources
type ThreatStore interface {
	SaveThreat(ctx context.Context, rec models.ThreatRecord) error
	BlockIP(ctx context.Context, ip, reason string) error
}

type PacketSink interface {
	Ingest(p models.PacketDescriptor) bool
}

type Baseliner interface {
	GenerateBaseline(minSamples int) (*models.Baseline, error)
}

type AnomalyDetector interface {
	TrackPacket(p models.PacketDescriptor)
	RunDetection(now time.Time) []models.Anomaly
}

// Admitter enforces simulated countermeasures at ingestion
type Admitter interface {
	Admit(ip string, size int) bool
}

type Broadcaster interface {
	Broadcast(msgType string, payload interface{})
}

type Config struct {
	Interval           time.Duration
	MinBaselineSamples int
}

type Option func(*TrafficSentinel)

func WithStore(s ThreatStore) Option {
	return func(t *TrafficSentinel) { t.store = s }
}

func WithAdmitter(a Admitter) Option {
	return func(t *TrafficSentinel) { t.admitter = a }
}

func WithBroadcaster(b Broadcaster) Option {
	return func(t *TrafficSentinel) { t.broadcaster = b }
}

func WithClock(now func() time.Time) Option {
	return func(t *TrafficSentinel) { t.now = now }
}

// TrafficSentinel owns the monitoring loop. It performs no I/O of its own;
// collaborator failures are logged and never stop the loop.
type TrafficSentinel struct {
	collector PacketSink
	baseliner Baseliner
	detector  AnomalyDetector
	responder *ResponseSentinel

	store       ThreatStore
	admitter    Admitter
	broadcaster Broadcaster
	cfg         Config
	now         func() time.Time

	ingested atomic.Int64
	rejected atomic.Int64
	dropped  atomic.Int64
	cycles   atomic.Int64
}

func NewTrafficSentinel(c PacketSink, b Baseliner, d AnomalyDetector, r *ResponseSentinel, cfg Config, opts ...Option) *TrafficSentinel {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.MinBaselineSamples <= 0 {
		cfg.MinBaselineSamples = DefaultMinBaselineSamples
	}

	t := &TrafficSentinel{
		collector: c,
		baseliner: b,
		detector:  d,
		responder: r,
		cfg:       cfg,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Ingest pushes one packet through admission, collection and per-source
// tracking. It reports whether the packet was accepted.
func (t *TrafficSentinel) Ingest(p models.PacketDescriptor) bool {
	if err := p.Validate(); err != nil {
		t.rejected.Add(1)
		return false
	}
	if t.admitter != nil && !t.admitter.Admit(p.SrcIP, p.Size) {
		t.dropped.Add(1)
		return false
	}
	if !t.collector.Ingest(p) {
		return false
	}
	t.detector.TrackPacket(p)
	t.ingested.Add(1)
	return true
}

// CycleResult summarises one monitoring iteration
type CycleResult struct {
	Anomalies []models.Anomaly   `json:"anomalies"`
	Responses []*models.Response `json:"responses"`
	Expired   []response.Result  `json:"expired"`
}

// RunOnce runs a single monitoring iteration
func (t *TrafficSentinel) RunOnce(ctx context.Context) CycleResult {
	now := t.now()
	t.cycles.Add(1)

	if _, err := t.baseliner.GenerateBaseline(t.cfg.MinBaselineSamples); err != nil &&
		!errors.Is(err, analyzer.ErrInsufficientHistory) {
		log.WithError(err).Warn("Baseline generation failed")
	}

	res := CycleResult{Anomalies: t.detector.RunDetection(now)}

	for _, a := range res.Anomalies {
		responses := t.responder.Handle(ctx, a)
		res.Responses = append(res.Responses, responses...)
		t.persist(ctx, a, responses)

		if t.broadcaster != nil {
			t.broadcaster.Broadcast("anomaly", a)
		}
	}

	res.Expired = t.responder.Expire(ctx)

	if len(res.Anomalies) > 0 || len(res.Expired) > 0 {
		log.WithFields(log.Fields{
			"anomalies": len(res.Anomalies),
			"responses": len(res.Responses),
			"expired":   len(res.Expired),
		}).Info("Monitoring cycle complete")
	}
	return res
}

func (t *TrafficSentinel) persist(ctx context.Context, a models.Anomaly, responses []*models.Response) {
	if t.store == nil {
		return
	}

	rec := models.ThreatRecord{Anomaly: a}
	if len(responses) > 0 {
		rec.ResponseID = responses[0].ID
		rec.Actions = responses[0].Actions
		rec.Status = string(responses[0].Status)
	}
	if err := t.store.SaveThreat(ctx, rec); err != nil {
		log.WithError(err).WithField("anomaly_id", a.ID).Warn("Failed to save threat")
	}
}

// Run loops until ctx is cancelled. Cancellation is checked between
// iterations only.
func (t *TrafficSentinel) Run(ctx context.Context) {
	ticker := time.NewTicker(t.cfg.Interval)
	defer ticker.Stop()

	log.WithField("interval", t.cfg.Interval).Info("Traffic sentinel started")

	for {
		select {
		case <-ctx.Done():
			log.Info("Traffic sentinel stopped")
			return
		case <-ticker.C:
			t.RunOnce(ctx)
		}
	}
}

type Stats struct {
	Ingested int64 `json:"ingested"`
	Rejected int64 `json:"rejected"`
	Dropped  int64 `json:"dropped"`
	Cycles   int64 `json:"cycles"`
}

func (t *TrafficSentinel) Stats() Stats {
	return Stats{
		Ingested: t.ingested.Load(),
		Rejected: t.rejected.Load(),
		Dropped:  t.dropped.Load(),
		Cycles:   t.cycles.Load(),
	}
}
