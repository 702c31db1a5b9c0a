package detection

import (
	"sort"
	"sync"

	"github.com/nshruti113/traffic-sentinel/internal/models"
)

// anomalyLog is a capped append-only record of detections
type anomalyLog struct {
	mu      sync.RWMutex
	cap     int
	entries []models.Anomaly
	dropped int
}

func newAnomalyLog(capacity int) *anomalyLog {
	return &anomalyLog{cap: capacity}
}

func (l *anomalyLog) append(a models.Anomaly) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = append(l.entries, a)
	if over := len(l.entries) - l.cap; over > 0 {
		l.entries = append(l.entries[:0:0], l.entries[over:]...)
		l.dropped += over
	}
}

// recent returns up to limit entries, newest first
func (l *anomalyLog) recent(limit int) []models.Anomaly {
	l.mu.RLock()
	defer l.mu.RUnlock()

	n := len(l.entries)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]models.Anomaly, 0, n)
	for i := len(l.entries) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, l.entries[i])
	}
	return out
}

// SourceCount is one offending source in a summary
type SourceCount struct {
	Source string `json:"source"`
	Count  int    `json:"count"`
}

type Summary struct {
	Total      int                        `json:"total"`
	Dropped    int                        `json:"dropped"`
	ByType     map[models.AnomalyType]int `json:"by_type"`
	BySeverity map[models.Severity]int    `json:"by_severity"`
	TopSources []SourceCount              `json:"top_sources"`
	Recent     []models.Anomaly           `json:"recent"`
}

func (l *anomalyLog) summary(recent int) Summary {
	l.mu.RLock()
	s := Summary{
		Total:      len(l.entries),
		Dropped:    l.dropped,
		ByType:     make(map[models.AnomalyType]int),
		BySeverity: make(map[models.Severity]int),
	}
	sources := make(map[string]int)
	for _, a := range l.entries {
		s.ByType[a.Type]++
		s.BySeverity[a.Severity]++
		if a.Source != models.SourceMultiple {
			sources[a.Source]++
		}
	}
	l.mu.RUnlock()

	for src, n := range sources {
		s.TopSources = append(s.TopSources, SourceCount{Source: src, Count: n})
	}
	sort.Slice(s.TopSources, func(i, j int) bool {
		if s.TopSources[i].Count != s.TopSources[j].Count {
			return s.TopSources[i].Count > s.TopSources[j].Count
		}
		return s.TopSources[i].Source < s.TopSources[j].Source
	})
	if len(s.TopSources) > topSourceCount*2 {
		s.TopSources = s.TopSources[:topSourceCount*2]
	}

	s.Recent = l.recent(recent)
	return s
}

// Anomalies returns up to limit logged anomalies, newest first. limit <= 0 returns all.
func (d *Detector) Anomalies(limit int) []models.Anomaly {
	return d.log.recent(limit)
}

// Summary aggregates the detection log
func (d *Detector) Summary(recent int) Summary {
	return d.log.summary(recent)
}
