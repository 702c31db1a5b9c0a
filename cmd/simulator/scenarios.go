package main

import (
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/nshruti113/traffic-sentinel/internal/models"
)

const targetIP = "192.168.1.100"

// Generator builds packet batches for each traffic scenario
type Generator struct {
	rng *rand.Rand
	now func() time.Time
}

func NewGenerator(seed uint64) *Generator {
	return &Generator{
		rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		now: time.Now,
	}
}

var scenarios = []string{"syn_flood", "udp_flood", "port_scan", "exfiltration", "backdoor"}

// Scenario returns the packets of the named attack, or nil for unknown names
func (g *Generator) Scenario(name string) []models.PacketDescriptor {
	switch name {
	case "syn_flood":
		return g.SYNFlood()
	case "udp_flood":
		return g.UDPFlood()
	case "port_scan":
		return g.PortScan()
	case "exfiltration":
		return g.Exfiltration()
	case "backdoor":
		return g.Backdoor()
	}
	return nil
}

// Normal creates n packets of ordinary client traffic
func (g *Generator) Normal(n int) []models.PacketDescriptor {
	ports := []int{80, 443, 443, 443, 53, 22}
	out := make([]models.PacketDescriptor, 0, n)
	for i := 0; i < n; i++ {
		port := ports[g.rng.IntN(len(ports))]
		proto := models.ProtocolTCP
		flags := models.FlagACK | models.FlagPSH
		if port == 53 {
			proto = models.ProtocolUDP
			flags = 0
		}
		out = append(out, models.PacketDescriptor{
			SrcIP:     g.randomIP(),
			DstIP:     targetIP,
			SrcPort:   g.ephemeralPort(),
			DstPort:   port,
			Protocol:  proto,
			Size:      g.rng.IntN(1200) + 60,
			Flags:     flags,
			Timestamp: g.now(),
		})
	}
	return out
}

func (g *Generator) SYNFlood() []models.PacketDescriptor {
	attackers := g.botnet(3)
	count := g.rng.IntN(4000) + 1000
	out := make([]models.PacketDescriptor, 0, count)
	for i := 0; i < count; i++ {
		out = append(out, models.PacketDescriptor{
			SrcIP:     attackers[g.rng.IntN(len(attackers))],
			DstIP:     targetIP,
			SrcPort:   g.rng.IntN(65535) + 1,
			DstPort:   80,
			Protocol:  models.ProtocolTCP,
			Size:      64,
			Flags:     models.FlagSYN,
			Timestamp: g.now(),
		})
	}
	return out
}

func (g *Generator) UDPFlood() []models.PacketDescriptor {
	attackers := g.botnet(30)
	count := g.rng.IntN(5000) + 3000
	out := make([]models.PacketDescriptor, 0, count)
	for i := 0; i < count; i++ {
		out = append(out, models.PacketDescriptor{
			SrcIP:     attackers[g.rng.IntN(len(attackers))],
			DstIP:     targetIP,
			SrcPort:   g.rng.IntN(65535) + 1,
			DstPort:   g.rng.IntN(65535) + 1,
			Protocol:  models.ProtocolUDP,
			Size:      g.rng.IntN(1400) + 100,
			Timestamp: g.now(),
		})
	}
	return out
}

// PortScan walks the first hundred ports of one host from one source
func (g *Generator) PortScan() []models.PacketDescriptor {
	scanner := g.randomIP()
	out := make([]models.PacketDescriptor, 0, 100)
	for port := 1; port <= 100; port++ {
		out = append(out, models.PacketDescriptor{
			SrcIP:     scanner,
			DstIP:     targetIP,
			SrcPort:   g.ephemeralPort(),
			DstPort:   port,
			Protocol:  models.ProtocolTCP,
			Size:      60,
			Flags:     models.FlagSYN,
			Timestamp: g.now(),
		})
	}
	return out
}

// Exfiltration uploads large packets from an inside host over 15 seconds
func (g *Generator) Exfiltration() []models.PacketDescriptor {
	insider := fmt.Sprintf("192.168.1.%d", g.rng.IntN(200)+2)
	start := g.now().Add(-15 * time.Second)
	out := make([]models.PacketDescriptor, 0, 2000)
	for i := 0; i < 2000; i++ {
		out = append(out, models.PacketDescriptor{
			SrcIP:     insider,
			DstIP:     "198.51.100.200",
			SrcPort:   50000,
			DstPort:   443,
			Protocol:  models.ProtocolTCP,
			Size:      128 * 1024,
			Flags:     models.FlagACK | models.FlagPSH,
			Timestamp: start.Add(time.Duration(i) * 15 * time.Second / 2000),
		})
	}
	return out
}

// Backdoor talks to well-known RAT ports
func (g *Generator) Backdoor() []models.PacketDescriptor {
	src := g.randomIP()
	ports := []int{4444, 31337, 12345}
	out := make([]models.PacketDescriptor, 0, 20)
	for i := 0; i < 20; i++ {
		out = append(out, models.PacketDescriptor{
			SrcIP:     src,
			DstIP:     targetIP,
			SrcPort:   g.ephemeralPort(),
			DstPort:   ports[i%len(ports)],
			Protocol:  models.ProtocolTCP,
			Size:      g.rng.IntN(300) + 60,
			Flags:     models.FlagACK | models.FlagPSH,
			Timestamp: g.now(),
		})
	}
	return out
}

func (g *Generator) botnet(size int) []string {
	ips := make([]string, size)
	for i := range ips {
		ips[i] = g.randomIP()
	}
	return ips
}

func (g *Generator) randomIP() string {
	return fmt.Sprintf("%d.%d.%d.%d", g.rng.IntN(223)+1, g.rng.IntN(256), g.rng.IntN(256), g.rng.IntN(254)+1)
}

func (g *Generator) ephemeralPort() int {
	return g.rng.IntN(65535-1024) + 1024
}
