//go:build !linux

package action

import (
	"fmt"
	"net/netip"
	"runtime"
)

type NetlinkRoutes struct{}

func NewNetlinkRoutes() (*NetlinkRoutes, error) {
	return nil, fmt.Errorf("%w: blackhole routes need linux, running on %s", ErrUnavailable, runtime.GOOS)
}

func (NetlinkRoutes) AddBlackhole(netip.Addr) error    { return ErrUnavailable }
func (NetlinkRoutes) DeleteBlackhole(netip.Addr) error { return ErrUnavailable }
