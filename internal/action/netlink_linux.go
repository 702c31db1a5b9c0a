//go:build linux

package action

import (
	"errors"
	"net"
	"net/netip"

	log "github.com/sirupsen/logrus"
	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"
)

// NetlinkRoutes manages blackhole routes in the main routing table
type NetlinkRoutes struct{}

func NewNetlinkRoutes() (*NetlinkRoutes, error) {
	return &NetlinkRoutes{}, nil
}

func (NetlinkRoutes) AddBlackhole(ip netip.Addr) error {
	route := blackholeRoute(ip)
	if err := netlink.RouteReplace(route); err != nil {
		return err
	}
	log.WithField("dst", route.Dst.String()).Debug("Blackhole route installed")
	return nil
}

func (NetlinkRoutes) DeleteBlackhole(ip netip.Addr) error {
	err := netlink.RouteDel(blackholeRoute(ip))
	if errors.Is(err, unix.ESRCH) {
		return nil
	}
	return err
}

func blackholeRoute(ip netip.Addr) *netlink.Route {
	ip = ip.Unmap()
	bits := 32
	if ip.Is6() {
		bits = 128
	}
	return &netlink.Route{
		Dst:  &net.IPNet{IP: net.IP(ip.AsSlice()), Mask: net.CIDRMask(bits, bits)},
		Type: unix.RTN_BLACKHOLE,
	}
}
