// Package action applies countermeasures decided by the response engine.
// The execution mode is fixed when the executor is constructed.
package action

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"strings"

	"github.com/nshruti113/traffic-sentinel/internal/models"
)

var (
	ErrInvalidTarget = errors.New("invalid action target")
	ErrUnavailable   = errors.New("action backend unavailable")
)

type Mode string

const (
	ModeDryRun     Mode = "dry-run"
	ModeSimulation Mode = "simulation"
	ModeKernel     Mode = "kernel"
)

// Executor applies countermeasures and keeps an audit trail of every call
type Executor interface {
	BlockIP(ctx context.Context, ip, reason string) error
	UnblockIP(ctx context.Context, ip string) error
	RateLimit(ctx context.Context, ip string, packetsPerSecond int) error
	RemoveRateLimit(ctx context.Context, ip string) error
	ClosePort(ctx context.Context, port int) error
	ThrottleBandwidth(ctx context.Context, ip string, bytesPerSecond int64) error
	RestartService(ctx context.Context, name string) error
	Quarantine(ctx context.Context, target string) error

	BlockedIPs() []string
	RateLimitedIPs() map[string]int
	ActionHistory(limit int) []models.ActionRecord
	Statistics() Statistics
	Mode() Mode
}

// Statistics counts executor calls
type Statistics struct {
	Mode        Mode                      `json:"mode"`
	Total       int                       `json:"total"`
	Failed      int                       `json:"failed"`
	ByAction    map[models.ActionType]int `json:"by_action"`
	Blocked     int                       `json:"blocked"`
	RateLimited int                       `json:"rate_limited"`
	ClosedPorts int                       `json:"closed_ports"`
	Throttled   int                       `json:"throttled"`
	Quarantined int                       `json:"quarantined"`
}

type Options struct {
	DryRun     bool
	Simulation bool
	HistoryCap int

	// Kernel mode backends. Nil backends make the matching actions fail
	// with ErrUnavailable.
	Routes     RouteController
	Containers ContainerController
}

// New picks the executor implementation for the given options.
// Dry-run wins over simulation, simulation wins over kernel mode.
func New(opts Options) Executor {
	switch {
	case opts.DryRun:
		return NewDryRun(opts.HistoryCap)
	case opts.Simulation:
		return NewSimulated(opts.HistoryCap)
	default:
		return NewKernel(opts.Routes, opts.Containers, opts.HistoryCap)
	}
}

func parseIP(ip string) (netip.Addr, error) {
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		return netip.Addr{}, fmt.Errorf("%w: ip %q", ErrInvalidTarget, ip)
	}
	return addr, nil
}

func checkPort(port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("%w: port %d", ErrInvalidTarget, port)
	}
	return nil
}

func checkName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidTarget)
	}
	return nil
}
