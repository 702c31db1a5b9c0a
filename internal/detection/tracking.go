package detection

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/nshruti113/traffic-sentinel/internal/models"
)

// sourceTrack is the per-source state behind scan and exfiltration checks.
// Contacts and lastSeen use the detector clock; the upload span uses packet
// time so replayed captures keep their pacing.
type sourceTrack struct {
	ports     map[int]time.Time
	hosts     map[string]time.Time
	bytesSent int64
	since     time.Time // start of the current upload observation
	until     time.Time // latest packet time in the observation
	firstSeen time.Time
	lastSeen  time.Time
}

// TrackPacket updates the per-source tracking for one packet
func (d *Detector) TrackPacket(p models.PacketDescriptor) {
	now := d.now()
	ts := p.Timestamp
	if ts.IsZero() || ts.After(now) {
		ts = now
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	st, ok := d.tracks[p.SrcIP]
	if !ok {
		st = &sourceTrack{
			ports:     make(map[int]time.Time),
			hosts:     make(map[string]time.Time),
			firstSeen: now,
		}
		d.tracks[p.SrcIP] = st
	}

	if p.DstPort > 0 {
		st.ports[p.DstPort] = now
	}
	st.hosts[p.DstIP] = now
	st.lastSeen = now

	if st.since.IsZero() || ts.Before(st.since) {
		st.since = ts
	}
	if ts.After(st.until) {
		st.until = ts
	}
	st.bytesSent += int64(p.Size)

	for _, port := range []int{p.SrcPort, p.DstPort} {
		if _, bad := SuspiciousPorts[port]; !bad {
			continue
		}
		hits, ok := d.suspicious[p.SrcIP]
		if !ok {
			hits = make(map[int]int)
			d.suspicious[p.SrcIP] = hits
		}
		hits[port]++
	}
}

// TrackedSources is the number of sources with live tracking state
func (d *Detector) TrackedSources() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.tracks)
}

// sweep drops idle sources and contacts older than the scan window
func (d *Detector) sweep(now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for ip, st := range d.tracks {
		if now.Sub(st.lastSeen) > d.cfg.TrackingTTL {
			delete(d.tracks, ip)
			continue
		}
		for port, seen := range st.ports {
			if now.Sub(seen) > d.cfg.PortScanWindow {
				delete(st.ports, port)
			}
		}
		for host, seen := range st.hosts {
			if now.Sub(seen) > d.cfg.PortScanWindow {
				delete(st.hosts, host)
			}
		}
	}
	d.metrics.trackedSources.Set(float64(len(d.tracks)))
}

// DetectPortScan reports sources that touched too many distinct ports
// within the scan window. Reported sources start over.
func (d *Detector) DetectPortScan(now time.Time) []models.Anomaly {
	d.mu.Lock()
	defer d.mu.Unlock()

	var out []models.Anomaly
	for _, ip := range d.sortedSources() {
		st := d.tracks[ip]

		ports := make([]int, 0, len(st.ports))
		for port, seen := range st.ports {
			if now.Sub(seen) <= d.cfg.PortScanWindow {
				ports = append(ports, port)
			}
		}
		if len(ports) < d.cfg.PortScanThreshold {
			continue
		}
		sort.Ints(ports)

		hosts := 0
		for _, seen := range st.hosts {
			if now.Sub(seen) <= d.cfg.PortScanWindow {
				hosts++
			}
		}

		scanType := "VERTICAL"
		if hosts > verticalScanMaxHost {
			scanType = "HORIZONTAL"
		}

		out = append(out, models.Anomaly{
			ID:          uuid.New().String(),
			Timestamp:   now,
			Type:        models.AnomalyPortScan,
			Severity:    models.SeverityHigh,
			Source:      ip,
			Description: fmt.Sprintf("%s port scan from %s: %d ports across %d hosts", scanType, ip, len(ports), hosts),
			Details: map[string]interface{}{
				"scan_type":     scanType,
				"ports_scanned": ports,
				"unique_hosts":  hosts,
				"window":        d.cfg.PortScanWindow.String(),
			},
			Confidence: math.Min(0.7+0.02*float64(len(ports)-d.cfg.PortScanThreshold), 0.95),
		})

		st.ports = make(map[int]time.Time)
		st.hosts = make(map[string]time.Time)
	}
	return out
}

// DetectExfiltration reports sources whose sustained upload rate is above
// the threshold. The byte counter restarts after a report.
func (d *Detector) DetectExfiltration(now time.Time) []models.Anomaly {
	d.mu.Lock()
	defer d.mu.Unlock()

	var out []models.Anomaly
	for _, ip := range d.sortedSources() {
		st := d.tracks[ip]
		if st.since.IsZero() || st.bytesSent == 0 {
			continue
		}

		observed := st.until.Sub(st.since)
		if observed < d.cfg.ExfiltrationMinDuration {
			continue
		}

		rate := float64(st.bytesSent) / observed.Seconds()
		if rate <= d.cfg.ExfiltrationBytesPerSecond {
			continue
		}

		out = append(out, models.Anomaly{
			ID:          uuid.New().String(),
			Timestamp:   now,
			Type:        models.AnomalyDataExfiltration,
			Severity:    models.SeverityCritical,
			Source:      ip,
			Description: fmt.Sprintf("Possible data exfiltration from %s: %.0f B/s over %s", ip, rate, observed.Round(time.Second)),
			Details: map[string]interface{}{
				"bytes_sent":       st.bytesSent,
				"bytes_per_second": rate,
				"duration_seconds": observed.Seconds(),
				"destinations":     len(st.hosts),
			},
			Confidence: math.Min(0.7+rate/d.cfg.ExfiltrationBytesPerSecond*0.1, 0.95),
		})

		st.bytesSent = 0
		st.since = time.Time{}
		st.until = time.Time{}
	}
	return out
}

// DetectSuspiciousPorts reports sources with enough hits on known backdoor
// ports since the previous call, then clears the hit counters.
func (d *Detector) DetectSuspiciousPorts() []models.Anomaly {
	d.mu.Lock()
	defer d.mu.Unlock()

	ips := make([]string, 0, len(d.suspicious))
	for ip := range d.suspicious {
		ips = append(ips, ip)
	}
	sort.Strings(ips)

	var out []models.Anomaly
	for _, ip := range ips {
		hits := d.suspicious[ip]
		total := 0
		ports := make([]int, 0, len(hits))
		for port, n := range hits {
			total += n
			ports = append(ports, port)
		}
		if total < d.cfg.SuspiciousPortThreshold {
			continue
		}
		sort.Ints(ports)

		names := make([]string, 0, len(ports))
		for _, port := range ports {
			names = append(names, SuspiciousPorts[port])
		}

		out = append(out, models.Anomaly{
			ID:          uuid.New().String(),
			Timestamp:   d.now(),
			Type:        models.AnomalySuspiciousPort,
			Severity:    models.SeverityMedium,
			Source:      ip,
			Description: fmt.Sprintf("Suspicious port usage by %s: %d hits on %v", ip, total, ports),
			Details: map[string]interface{}{
				"ports":      ports,
				"port_names": names,
				"hits":       total,
			},
			Confidence: math.Min(0.6+0.05*float64(total), 0.9),
		})
	}

	d.suspicious = make(map[string]map[int]int)
	return out
}

func (d *Detector) sortedSources() []string {
	ips := make([]string, 0, len(d.tracks))
	for ip := range d.tracks {
		ips = append(ips, ip)
	}
	sort.Strings(ips)
	return ips
}
