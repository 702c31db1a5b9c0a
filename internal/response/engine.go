package response

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nshruti113/traffic-sentinel/internal/action"
	"github.com/nshruti113/traffic-sentinel/internal/models"
	log "github.com/sirupsen/logrus"
)

var (
	ErrNotFound        = errors.New("response not found")
	ErrNotPending      = errors.New("response is not pending")
	ErrWhitelisted     = errors.New("source is whitelisted")
	ErrExecutionFailed = errors.New("response execution failed")
)

const (
	DefaultStrikeThreshold = 3
	DefaultRateLimitPPS    = 100

	// below this confidence nothing but logging happens
	minActionConfidence = 0.7
)

// Alerter delivers operator alerts
type Alerter interface {
	SendAlert(ctx context.Context, title, message string, severity models.Severity) error
}

// BlockStore persists blocked sources
type BlockStore interface {
	BlockIP(ctx context.Context, ip, reason string) error
	UnblockIP(ctx context.Context, ip string) error
}

type Config struct {
	StrikeThreshold     int
	Whitelist           []string
	RateLimitPPS        int
	ThrottleBytesPerSec int64
}

type Option func(*Engine)

func WithAlerter(a Alerter) Option {
	return func(e *Engine) { e.alerter = a }
}

func WithStore(s BlockStore) Option {
	return func(e *Engine) { e.store = s }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// DecisionRequest is a threat signal to decide a response for
type DecisionRequest struct {
	SourceIP   string          `json:"source_ip"`
	ThreatType string          `json:"threat_type"`
	Severity   models.Severity `json:"severity"`
	Confidence float64         `json:"confidence"`
	ThreatID   string          `json:"threat_id,omitempty"`
	Ports      []int           `json:"ports,omitempty"`
	Service    string          `json:"service,omitempty"`
}

type counters struct {
	blockedIPs  int
	rateLimits  int
	escalations int
	rollbacks   int
	failed      int
	executed    map[models.Severity]int
}

// Engine decides, executes and rolls back responses. It is the only
// writer of Response state.
type Engine struct {
	executor action.Executor
	alerter  Alerter
	store    BlockStore
	cfg      Config
	now      func() time.Time

	mu          sync.RWMutex
	nextID      int64
	responses   map[int64]*models.Response
	order       []int64
	strikes     map[string]int
	whitelist   map[string]whitelistEntry
	rollingBack map[int64]bool
	counters    counters

	metrics *Metrics
}

func NewEngine(executor action.Executor, cfg Config, opts ...Option) (*Engine, error) {
	if cfg.StrikeThreshold <= 0 {
		cfg.StrikeThreshold = DefaultStrikeThreshold
	}
	if cfg.RateLimitPPS <= 0 {
		cfg.RateLimitPPS = DefaultRateLimitPPS
	}

	e := &Engine{
		executor:    executor,
		cfg:         cfg,
		now:         time.Now,
		responses:   make(map[int64]*models.Response),
		strikes:     make(map[string]int),
		whitelist:   make(map[string]whitelistEntry),
		rollingBack: make(map[int64]bool),
		counters:    counters{executed: make(map[models.Severity]int)},
		metrics:     newMetrics(),
	}
	for _, opt := range opts {
		opt(e)
	}

	for _, entry := range cfg.Whitelist {
		if err := e.AddToWhitelist(entry); err != nil {
			return nil, err
		}
	}
	return e, nil
}

func (e *Engine) Metrics() *Metrics {
	return e.metrics
}

// Decide turns a threat signal into a PENDING response
func (e *Engine) Decide(req DecisionRequest) *models.Response {
	now := e.now()
	sev := req.Severity
	if sev.Rank() == 0 {
		sev = models.SeverityLow
	}

	resp := &models.Response{
		ThreatID:   req.ThreatID,
		SourceIP:   req.SourceIP,
		ThreatType: req.ThreatType,
		Severity:   sev,
		Confidence: req.Confidence,
		Ports:      append([]int(nil), req.Ports...),
		Service:    req.Service,
		Status:     models.StatusPending,
		CreatedAt:  now,
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	switch {
	case e.whitelistedLocked(req.SourceIP):
		resp.Actions = []models.ActionType{models.ActionLogOnly}

	default:
		p := policyFor(sev)
		resp.Actions = append([]models.ActionType(nil), p.actions...)
		resp.ExpiresAt = p.expiry(now)

		if req.Confidence < minActionConfidence {
			resp.Actions = []models.ActionType{models.ActionLogOnly}
			break
		}

		if p.strikeBased {
			e.strikes[req.SourceIP]++
			if e.strikes[req.SourceIP] >= e.cfg.StrikeThreshold {
				resp.Actions = []models.ActionType{models.ActionBlockIP, models.ActionSendAlert}
				resp.Escalated = true
				e.strikes[req.SourceIP] = 0
			}
		}

		resp.Actions = augment(req.ThreatType, resp.Actions)
	}

	resp.RollbackPossible = resp.HasAction(models.ActionBlockIP) || resp.HasAction(models.ActionRateLimit)

	e.nextID++
	resp.ID = e.nextID
	e.responses[resp.ID] = resp
	e.order = append(e.order, resp.ID)
	e.metrics.decisions.WithLabelValues(string(sev)).Inc()

	log.WithFields(log.Fields{
		"response_id": resp.ID,
		"source":      resp.SourceIP,
		"threat":      resp.ThreatType,
		"severity":    resp.Severity,
		"actions":     resp.Actions,
		"escalated":   resp.Escalated,
	}).Info("Response decided")

	return resp.Clone()
}

// augment adds the threat-specific companion of BLOCK_IP
func augment(threatType string, actions []models.ActionType) []models.ActionType {
	var extra models.ActionType
	switch normalizeThreat(threatType) {
	case string(models.AnomalyDDoS):
		extra = models.ActionRateLimit
	case string(models.AnomalyPortScan):
		extra = models.ActionClosePort
	default:
		return actions
	}

	out := make([]models.ActionType, 0, len(actions)+1)
	for _, a := range actions {
		out = append(out, a)
		if a == models.ActionBlockIP && !contains(actions, extra) {
			out = append(out, extra)
		}
	}
	return out
}

func normalizeThreat(t string) string {
	t = strings.ToUpper(strings.TrimSpace(t))
	if t == "DDOS" {
		return string(models.AnomalyDDoS)
	}
	return t
}

func contains(actions []models.ActionType, a models.ActionType) bool {
	for _, x := range actions {
		if x == a {
			return true
		}
	}
	return false
}

// Execute applies the actions of a pending response in order. The first
// failing action marks the response FAILED.
func (e *Engine) Execute(ctx context.Context, id int64) error {
	e.mu.Lock()
	resp, ok := e.responses[id]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	if resp.Status != models.StatusPending {
		e.mu.Unlock()
		return fmt.Errorf("%w: %d is %s", ErrNotPending, id, resp.Status)
	}
	resp.Status = models.StatusExecuting
	snapshot := resp.Clone()
	e.mu.Unlock()

	for _, a := range snapshot.Actions {
		if err := e.apply(ctx, snapshot, a); err != nil {
			e.finish(id, err)
			e.metrics.actions.WithLabelValues(string(a), "failed").Inc()
			return fmt.Errorf("%w: response %d action %s: %w", ErrExecutionFailed, id, a, err)
		}
		e.metrics.actions.WithLabelValues(string(a), "ok").Inc()
	}

	e.finish(id, nil)

	if snapshot.HasAction(models.ActionBlockIP) && e.store != nil {
		reason := fmt.Sprintf("%s (%s)", snapshot.ThreatType, snapshot.Severity)
		if err := e.store.BlockIP(ctx, snapshot.SourceIP, reason); err != nil {
			log.WithError(err).WithField("ip", snapshot.SourceIP).Warn("Failed to persist blocked IP")
		}
	}
	return nil
}

func (e *Engine) apply(ctx context.Context, resp *models.Response, a models.ActionType) error {
	switch a {
	case models.ActionBlockIP:
		if e.IsWhitelisted(resp.SourceIP) {
			return fmt.Errorf("%w: %s", ErrWhitelisted, resp.SourceIP)
		}
		return e.executor.BlockIP(ctx, resp.SourceIP, fmt.Sprintf("%s %s", resp.Severity, resp.ThreatType))

	case models.ActionRateLimit:
		if e.IsWhitelisted(resp.SourceIP) {
			return fmt.Errorf("%w: %s", ErrWhitelisted, resp.SourceIP)
		}
		return e.executor.RateLimit(ctx, resp.SourceIP, e.cfg.RateLimitPPS)

	case models.ActionClosePort:
		for _, port := range resp.Ports {
			if err := e.executor.ClosePort(ctx, port); err != nil {
				return err
			}
		}
		return nil

	case models.ActionThrottleBandwidth:
		return e.executor.ThrottleBandwidth(ctx, resp.SourceIP, e.cfg.ThrottleBytesPerSec)

	case models.ActionQuarantine:
		return e.executor.Quarantine(ctx, resp.SourceIP)

	case models.ActionRestartService:
		return e.executor.RestartService(ctx, resp.Service)

	case models.ActionSendAlert:
		e.alert(ctx, fmt.Sprintf("%s threat from %s", resp.Severity, resp.SourceIP),
			fmt.Sprintf("Response %d: %s, actions %v", resp.ID, resp.ThreatType, resp.Actions), resp.Severity)
		return nil

	case models.ActionEscalate:
		e.alert(ctx, fmt.Sprintf("ESCALATION: %s from %s", resp.ThreatType, resp.SourceIP),
			fmt.Sprintf("Response %d needs operator attention (confidence %.2f)", resp.ID, resp.Confidence), models.SeverityCritical)
		return nil

	case models.ActionLogOnly:
		log.WithFields(log.Fields{
			"response_id": resp.ID,
			"source":      resp.SourceIP,
			"threat":      resp.ThreatType,
			"severity":    resp.Severity,
		}).Info("Threat logged")
		return nil
	}
	return fmt.Errorf("unsupported action %s", a)
}

// alert is best effort, failures are only logged
func (e *Engine) alert(ctx context.Context, title, message string, sev models.Severity) {
	if e.alerter == nil {
		return
	}
	if err := e.alerter.SendAlert(ctx, title, message, sev); err != nil {
		log.WithError(err).WithField("title", title).Warn("Failed to send alert")
	}
}

func (e *Engine) finish(id int64, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	resp := e.responses[id]
	now := e.now()
	resp.ExecutedAt = &now

	if err != nil {
		resp.Status = models.StatusFailed
		resp.Success = false
		resp.Error = err.Error()
		e.counters.failed++
		log.WithError(err).WithField("response_id", id).Error("Response execution failed")
		return
	}

	resp.Status = models.StatusSuccess
	resp.Success = true
	e.counters.executed[resp.Severity]++
	if resp.HasAction(models.ActionBlockIP) {
		e.counters.blockedIPs++
	}
	if resp.HasAction(models.ActionRateLimit) {
		e.counters.rateLimits++
	}
	if resp.HasAction(models.ActionEscalate) {
		e.counters.escalations++
	}
}

// Response returns a copy of the response with the given id
func (e *Engine) Response(id int64) (*models.Response, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	resp, ok := e.responses[id]
	if !ok {
		return nil, false
	}
	return resp.Clone(), true
}

// Responses returns up to limit responses, newest first. limit <= 0 returns all.
func (e *Engine) Responses(limit int) []*models.Response {
	e.mu.RLock()
	defer e.mu.RUnlock()

	n := len(e.order)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]*models.Response, 0, n)
	for i := len(e.order) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, e.responses[e.order[i]].Clone())
	}
	return out
}

// Strikes is the current strike count for ip
func (e *Engine) Strikes(ip string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.strikes[ip]
}

type Statistics struct {
	TotalResponses int                           `json:"total_responses"`
	ByStatus       map[models.ResponseStatus]int `json:"by_status"`
	Executed       map[models.Severity]int       `json:"executed_by_severity"`
	BlockedIPs     int                           `json:"blocked_ips"`
	RateLimits     int                           `json:"rate_limits"`
	Escalations    int                           `json:"escalations"`
	Rollbacks      int                           `json:"rollbacks"`
	Failed         int                           `json:"failed"`
	ActiveStrikes  int                           `json:"active_strikes"`
	Whitelisted    int                           `json:"whitelisted"`
	Executor       action.Statistics             `json:"executor"`
}

func (e *Engine) Statistics() Statistics {
	e.mu.RLock()
	s := Statistics{
		TotalResponses: len(e.order),
		ByStatus:       make(map[models.ResponseStatus]int),
		Executed:       make(map[models.Severity]int, len(e.counters.executed)),
		BlockedIPs:     e.counters.blockedIPs,
		RateLimits:     e.counters.rateLimits,
		Escalations:    e.counters.escalations,
		Rollbacks:      e.counters.rollbacks,
		Failed:         e.counters.failed,
		Whitelisted:    len(e.whitelist),
	}
	for _, resp := range e.responses {
		s.ByStatus[resp.Status]++
	}
	for sev, n := range e.counters.executed {
		s.Executed[sev] = n
	}
	for _, n := range e.strikes {
		if n > 0 {
			s.ActiveStrikes++
		}
	}
	e.mu.RUnlock()

	s.Executor = e.executor.Statistics()
	return s
}
