package action

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/nshruti113/traffic-sentinel/internal/models"
	"golang.org/x/time/rate"
)

type limit struct {
	packetsPerSecond int
	limiter          *rate.Limiter
}

// maxPacketSize is the throttle burst floor so a single full-size packet
// can always pass an idle bucket
const maxPacketSize = 65535

type throttle struct {
	bytesPerSecond int64
	limiter        *rate.Limiter
}

// SimulatedExecutor keeps countermeasures as in-memory state. Admit lets
// the ingestion path enforce them.
type SimulatedExecutor struct {
	*recorder

	mu          sync.RWMutex
	blocked     map[string]time.Time
	limits      map[string]*limit
	closedPorts map[int]time.Time
	throttles   map[string]*throttle
	quarantined map[string]time.Time
}

func NewSimulated(historyCap int) *SimulatedExecutor {
	return newSimulated(ModeSimulation, historyCap)
}

func newSimulated(mode Mode, historyCap int) *SimulatedExecutor {
	return &SimulatedExecutor{
		recorder:    newRecorder(mode, historyCap),
		blocked:     make(map[string]time.Time),
		limits:      make(map[string]*limit),
		closedPorts: make(map[int]time.Time),
		throttles:   make(map[string]*throttle),
		quarantined: make(map[string]time.Time),
	}
}

func (s *SimulatedExecutor) BlockIP(_ context.Context, ip, reason string) error {
	addr, err := parseIP(ip)
	if err != nil {
		s.record(models.ActionBlockIP, ip, err, nil)
		return err
	}
	s.applyBlock(addr.String(), reason, nil)
	return nil
}

func (s *SimulatedExecutor) applyBlock(ip, reason string, details map[string]interface{}) {
	s.mu.Lock()
	_, already := s.blocked[ip]
	if !already {
		s.blocked[ip] = s.now()
	}
	s.mu.Unlock()

	if details == nil {
		details = make(map[string]interface{})
	}
	details["reason"] = reason
	details["already_blocked"] = already
	s.record(models.ActionBlockIP, ip, nil, details)
}

func (s *SimulatedExecutor) UnblockIP(_ context.Context, ip string) error {
	addr, err := parseIP(ip)
	if err != nil {
		s.record(models.ActionUnblockIP, ip, err, nil)
		return err
	}
	s.applyUnblock(addr.String(), nil)
	return nil
}

func (s *SimulatedExecutor) applyUnblock(ip string, details map[string]interface{}) {
	s.mu.Lock()
	_, was := s.blocked[ip]
	delete(s.blocked, ip)
	s.mu.Unlock()

	if details == nil {
		details = make(map[string]interface{})
	}
	details["was_blocked"] = was
	s.record(models.ActionUnblockIP, ip, nil, details)
}

func (s *SimulatedExecutor) RateLimit(_ context.Context, ip string, pps int) error {
	addr, err := parseIP(ip)
	if err == nil && pps <= 0 {
		err = ErrInvalidTarget
	}
	if err != nil {
		s.record(models.ActionRateLimit, ip, err, map[string]interface{}{"packets_per_second": pps})
		return err
	}

	s.mu.Lock()
	s.limits[addr.String()] = &limit{
		packetsPerSecond: pps,
		limiter:          rate.NewLimiter(rate.Limit(pps), pps),
	}
	s.mu.Unlock()

	s.record(models.ActionRateLimit, addr.String(), nil, map[string]interface{}{"packets_per_second": pps})
	return nil
}

func (s *SimulatedExecutor) RemoveRateLimit(_ context.Context, ip string) error {
	addr, err := parseIP(ip)
	if err != nil {
		s.record(models.ActionRemoveRateLimit, ip, err, nil)
		return err
	}

	s.mu.Lock()
	_, was := s.limits[addr.String()]
	delete(s.limits, addr.String())
	s.mu.Unlock()

	s.record(models.ActionRemoveRateLimit, addr.String(), nil, map[string]interface{}{"was_limited": was})
	return nil
}

func (s *SimulatedExecutor) ClosePort(_ context.Context, port int) error {
	if err := checkPort(port); err != nil {
		s.record(models.ActionClosePort, portTarget(port), err, nil)
		return err
	}

	s.mu.Lock()
	s.closedPorts[port] = s.now()
	s.mu.Unlock()

	s.record(models.ActionClosePort, portTarget(port), nil, nil)
	return nil
}

func (s *SimulatedExecutor) ThrottleBandwidth(_ context.Context, ip string, bps int64) error {
	addr, err := parseIP(ip)
	if err == nil && bps <= 0 {
		err = ErrInvalidTarget
	}
	if err != nil {
		s.record(models.ActionThrottleBandwidth, ip, err, map[string]interface{}{"bytes_per_second": bps})
		return err
	}

	s.mu.Lock()
	s.throttles[addr.String()] = &throttle{
		bytesPerSecond: bps,
		limiter:        rate.NewLimiter(rate.Limit(bps), int(max(bps, maxPacketSize))),
	}
	s.mu.Unlock()

	s.record(models.ActionThrottleBandwidth, addr.String(), nil, map[string]interface{}{"bytes_per_second": bps})
	return nil
}

func (s *SimulatedExecutor) RestartService(_ context.Context, name string) error {
	err := checkName(name)
	s.record(models.ActionRestartService, name, err, map[string]interface{}{"simulated": true})
	return err
}

func (s *SimulatedExecutor) Quarantine(_ context.Context, target string) error {
	if err := checkName(target); err != nil {
		s.record(models.ActionQuarantine, target, err, nil)
		return err
	}
	s.applyQuarantine(target, nil)
	return nil
}

func (s *SimulatedExecutor) applyQuarantine(target string, details map[string]interface{}) {
	s.mu.Lock()
	s.quarantined[target] = s.now()
	s.mu.Unlock()
	s.record(models.ActionQuarantine, target, nil, details)
}

// Admit reports whether a packet of size bytes from ip may pass the
// simulated countermeasures
func (s *SimulatedExecutor) Admit(ip string, size int) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.blocked[ip]; ok {
		return false
	}
	if _, ok := s.quarantined[ip]; ok {
		return false
	}
	if l, ok := s.limits[ip]; ok && !l.limiter.Allow() {
		return false
	}
	if t, ok := s.throttles[ip]; ok && !t.limiter.AllowN(time.Now(), min(size, t.limiter.Burst())) {
		return false
	}
	return true
}

// IsPortClosed reports whether port was closed by ClosePort
func (s *SimulatedExecutor) IsPortClosed(port int) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.closedPorts[port]
	return ok
}

func (s *SimulatedExecutor) BlockedIPs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ips := make([]string, 0, len(s.blocked))
	for ip := range s.blocked {
		ips = append(ips, ip)
	}
	sort.Strings(ips)
	return ips
}

func (s *SimulatedExecutor) RateLimitedIPs() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]int, len(s.limits))
	for ip, l := range s.limits {
		out[ip] = l.packetsPerSecond
	}
	return out
}

func (s *SimulatedExecutor) Statistics() Statistics {
	st := s.stats()

	s.mu.RLock()
	st.Blocked = len(s.blocked)
	st.RateLimited = len(s.limits)
	st.ClosedPorts = len(s.closedPorts)
	st.Throttled = len(s.throttles)
	st.Quarantined = len(s.quarantined)
	s.mu.RUnlock()

	return st
}

func portTarget(port int) string {
	return "port/" + strconv.Itoa(port)
}
