package action

import (
	"context"

	"github.com/nshruti113/traffic-sentinel/internal/models"
)

// DryRunExecutor records every call and changes nothing
type DryRunExecutor struct {
	*recorder
}

func NewDryRun(historyCap int) *DryRunExecutor {
	return &DryRunExecutor{recorder: newRecorder(ModeDryRun, historyCap)}
}

func (d *DryRunExecutor) BlockIP(_ context.Context, ip, reason string) error {
	d.record(models.ActionBlockIP, ip, nil, map[string]interface{}{"reason": reason})
	return nil
}

func (d *DryRunExecutor) UnblockIP(_ context.Context, ip string) error {
	d.record(models.ActionUnblockIP, ip, nil, nil)
	return nil
}

func (d *DryRunExecutor) RateLimit(_ context.Context, ip string, pps int) error {
	d.record(models.ActionRateLimit, ip, nil, map[string]interface{}{"packets_per_second": pps})
	return nil
}

func (d *DryRunExecutor) RemoveRateLimit(_ context.Context, ip string) error {
	d.record(models.ActionRemoveRateLimit, ip, nil, nil)
	return nil
}

func (d *DryRunExecutor) ClosePort(_ context.Context, port int) error {
	d.record(models.ActionClosePort, portTarget(port), nil, nil)
	return nil
}

func (d *DryRunExecutor) ThrottleBandwidth(_ context.Context, ip string, bps int64) error {
	d.record(models.ActionThrottleBandwidth, ip, nil, map[string]interface{}{"bytes_per_second": bps})
	return nil
}

func (d *DryRunExecutor) RestartService(_ context.Context, name string) error {
	d.record(models.ActionRestartService, name, nil, nil)
	return nil
}

func (d *DryRunExecutor) Quarantine(_ context.Context, target string) error {
	d.record(models.ActionQuarantine, target, nil, nil)
	return nil
}

func (d *DryRunExecutor) BlockedIPs() []string {
	return []string{}
}

func (d *DryRunExecutor) RateLimitedIPs() map[string]int {
	return map[string]int{}
}

func (d *DryRunExecutor) Statistics() Statistics {
	return d.stats()
}
