package action

import (
	"sync"
	"time"

	"github.com/nshruti113/traffic-sentinel/internal/models"
	log "github.com/sirupsen/logrus"
)

const defaultHistoryCap = 10000

// recorder is the append-only audit trail shared by all executors
type recorder struct {
	mode Mode
	now  func() time.Time

	mu       sync.RWMutex
	cap      int
	history  []models.ActionRecord
	byAction map[models.ActionType]int
	total    int
	failed   int
}

func newRecorder(mode Mode, capacity int) *recorder {
	if capacity <= 0 {
		capacity = defaultHistoryCap
	}
	return &recorder{
		mode:     mode,
		now:      time.Now,
		cap:      capacity,
		byAction: make(map[models.ActionType]int),
	}
}

func (r *recorder) record(action models.ActionType, target string, err error, details map[string]interface{}) {
	rec := models.ActionRecord{
		Timestamp: r.now(),
		Action:    action,
		Target:    target,
		Mode:      string(r.mode),
		Success:   err == nil,
		Details:   details,
	}
	if err != nil {
		if rec.Details == nil {
			rec.Details = make(map[string]interface{})
		}
		rec.Details["error"] = err.Error()
	}

	r.mu.Lock()
	r.history = append(r.history, rec)
	if over := len(r.history) - r.cap; over > 0 {
		r.history = append(r.history[:0:0], r.history[over:]...)
	}
	r.total++
	r.byAction[action]++
	if err != nil {
		r.failed++
	}
	r.mu.Unlock()

	entry := log.WithFields(log.Fields{
		"action": action,
		"target": target,
		"mode":   r.mode,
	})
	if err != nil {
		entry.WithError(err).Warn("Action failed")
		return
	}
	entry.Info("Action applied")
}

// ActionHistory returns up to limit records, newest first. limit <= 0 returns all.
func (r *recorder) ActionHistory(limit int) []models.ActionRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := len(r.history)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]models.ActionRecord, 0, n)
	for i := len(r.history) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, r.history[i])
	}
	return out
}

func (r *recorder) stats() Statistics {
	r.mu.RLock()
	defer r.mu.RUnlock()

	by := make(map[models.ActionType]int, len(r.byAction))
	for k, v := range r.byAction {
		by[k] = v
	}
	return Statistics{
		Mode:     r.mode,
		Total:    r.total,
		Failed:   r.failed,
		ByAction: by,
	}
}

func (r *recorder) Mode() Mode {
	return r.mode
}
