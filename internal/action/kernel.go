package action

import (
	"context"
	"fmt"
	"net/netip"

	"github.com/nshruti113/traffic-sentinel/internal/models"
)

// RouteController installs and removes blackhole routes
type RouteController interface {
	AddBlackhole(ip netip.Addr) error
	DeleteBlackhole(ip netip.Addr) error
}

// ContainerController acts on containers by name or id
type ContainerController interface {
	Restart(ctx context.Context, name string) error
	Pause(ctx context.Context, name string) error
}

// KernelExecutor applies blocks as blackhole routes and service actions
// through the container runtime. Rate limits, port closures and throttles
// stay in userspace bookkeeping.
type KernelExecutor struct {
	*SimulatedExecutor
	routes     RouteController
	containers ContainerController
}

func NewKernel(routes RouteController, containers ContainerController, historyCap int) *KernelExecutor {
	return &KernelExecutor{
		SimulatedExecutor: newSimulated(ModeKernel, historyCap),
		routes:            routes,
		containers:        containers,
	}
}

func (k *KernelExecutor) BlockIP(_ context.Context, ip, reason string) error {
	addr, err := parseIP(ip)
	if err == nil {
		err = k.addRoute(addr)
	}
	if err != nil {
		k.record(models.ActionBlockIP, ip, err, map[string]interface{}{"reason": reason})
		return err
	}
	k.applyBlock(addr.String(), reason, map[string]interface{}{"route": "blackhole"})
	return nil
}

func (k *KernelExecutor) UnblockIP(_ context.Context, ip string) error {
	addr, err := parseIP(ip)
	if err == nil {
		if k.routes == nil {
			err = fmt.Errorf("%w: no route controller", ErrUnavailable)
		} else if rerr := k.routes.DeleteBlackhole(addr); rerr != nil {
			err = fmt.Errorf("delete blackhole route for %s: %w", addr, rerr)
		}
	}
	if err != nil {
		k.record(models.ActionUnblockIP, ip, err, nil)
		return err
	}
	k.applyUnblock(addr.String(), map[string]interface{}{"route": "blackhole"})
	return nil
}

func (k *KernelExecutor) RestartService(ctx context.Context, name string) error {
	err := checkName(name)
	if err == nil {
		if k.containers == nil {
			err = fmt.Errorf("%w: no container runtime", ErrUnavailable)
		} else if cerr := k.containers.Restart(ctx, name); cerr != nil {
			err = fmt.Errorf("restart %s: %w", name, cerr)
		}
	}
	k.record(models.ActionRestartService, name, err, map[string]interface{}{"runtime": "docker"})
	return err
}

// Quarantine blackholes an IP target, or pauses a container target
func (k *KernelExecutor) Quarantine(ctx context.Context, target string) error {
	if err := checkName(target); err != nil {
		k.record(models.ActionQuarantine, target, err, nil)
		return err
	}

	if addr, perr := netip.ParseAddr(target); perr == nil {
		if err := k.addRoute(addr); err != nil {
			k.record(models.ActionQuarantine, target, err, nil)
			return err
		}
		k.applyQuarantine(addr.String(), map[string]interface{}{"route": "blackhole"})
		return nil
	}

	var err error
	if k.containers == nil {
		err = fmt.Errorf("%w: no container runtime", ErrUnavailable)
	} else if cerr := k.containers.Pause(ctx, target); cerr != nil {
		err = fmt.Errorf("pause %s: %w", target, cerr)
	}
	if err != nil {
		k.record(models.ActionQuarantine, target, err, nil)
		return err
	}
	k.applyQuarantine(target, map[string]interface{}{"runtime": "docker", "paused": true})
	return nil
}

func (k *KernelExecutor) addRoute(addr netip.Addr) error {
	if k.routes == nil {
		return fmt.Errorf("%w: no route controller", ErrUnavailable)
	}
	if err := k.routes.AddBlackhole(addr); err != nil {
		return fmt.Errorf("add blackhole route for %s: %w", addr, err)
	}
	return nil
}
