package analyzer

import (
	"fmt"
	"math"
	"sort"

	"github.com/google/uuid"
	"github.com/nshruti113/traffic-sentinel/internal/models"
)

// DetectTrafficAnomalies compares a report with the stored baseline.
// Only the concentration check runs without a baseline.
func (a *Analyzer) DetectTrafficAnomalies(report *TrafficReport) []models.Anomaly {
	if report == nil {
		return nil
	}

	anomalies := make([]models.Anomaly, 0)
	baseline := a.Baseline()

	if baseline != nil && report.Deviation != nil {
		if report.Deviation.PacketsPerSecond > spikeSigma || report.Deviation.BytesPerSecond > spikeSigma {
			anomalies = append(anomalies, newAnomaly(report, models.AnomalyTrafficSpike, models.SeverityHigh,
				models.SourceMultiple,
				fmt.Sprintf("Traffic spike: %.1f pps (%.1fσ), %.0f B/s (%.1fσ)",
					report.PacketsPerSecond, report.Deviation.PacketsPerSecond,
					report.BytesPerSecond, report.Deviation.BytesPerSecond),
				math.Min(0.6+math.Max(report.Deviation.PacketsPerSecond, report.Deviation.BytesPerSecond)*0.05, 0.95),
				map[string]interface{}{
					"pps_deviation":      report.Deviation.PacketsPerSecond,
					"bps_deviation":      report.Deviation.BytesPerSecond,
					"packets_per_second": report.PacketsPerSecond,
					"bytes_per_second":   report.BytesPerSecond,
					"baseline_pps_mean":  baseline.PacketsPerSecond.Mean,
					"baseline_bps_mean":  baseline.BytesPerSecond.Mean,
				}))
		}
	}

	if baseline != nil {
		anomalies = append(anomalies, a.protocolAnomalies(report, baseline)...)
	}

	if len(report.TopSenders) > 0 && report.TotalBytes > 0 {
		top := report.TopSenders[0]
		if top.Percentage > concentrationShare {
			anomalies = append(anomalies, newAnomaly(report, models.AnomalyTrafficConcentration, models.SeverityHigh,
				top.IP,
				fmt.Sprintf("Traffic concentration: %s sent %.1f%% of all bytes", top.IP, top.Percentage),
				math.Min(top.Percentage/100, 0.9),
				map[string]interface{}{
					"share_percent": top.Percentage,
					"bytes":         top.Bytes,
					"total_bytes":   report.TotalBytes,
				}))
		}
	}

	if baseline != nil && baseline.ConnectionsPerMinute.Mean > 0 {
		limit := baseline.ConnectionsPerMinute.Mean * connectionSurgeFactor
		if report.ConnectionsPerMinute > limit {
			anomalies = append(anomalies, newAnomaly(report, models.AnomalyConnectionSurge, models.SeverityHigh,
				models.SourceMultiple,
				fmt.Sprintf("Connection surge: %.0f new connections/min (baseline %.0f)",
					report.ConnectionsPerMinute, baseline.ConnectionsPerMinute.Mean),
				0.8,
				map[string]interface{}{
					"connections_per_minute": report.ConnectionsPerMinute,
					"baseline_mean":          baseline.ConnectionsPerMinute.Mean,
				}))
		}
	}

	return anomalies
}

func (a *Analyzer) protocolAnomalies(report *TrafficReport, baseline *models.Baseline) []models.Anomaly {
	protocols := make([]string, 0, len(report.ProtocolBreakdown))
	for proto := range report.ProtocolBreakdown {
		protocols = append(protocols, proto)
	}
	sort.Strings(protocols)

	var out []models.Anomaly
	for _, proto := range protocols {
		share := report.ProtocolBreakdown[proto]
		expected, known := baseline.ProtocolDistribution[proto]

		if !known {
			out = append(out, newAnomaly(report, models.AnomalyUnusualProtocol, models.SeverityMedium,
				models.SourceMultiple,
				fmt.Sprintf("Protocol %s not present in baseline (%.1f%% of packets)", proto, share),
				0.7,
				map[string]interface{}{
					"protocol":      proto,
					"share_percent": share,
				}))
			continue
		}

		if diff := math.Abs(share - expected); diff > protocolShiftPoints {
			out = append(out, newAnomaly(report, models.AnomalyProtocolDeviation, models.SeverityLow,
				models.SourceMultiple,
				fmt.Sprintf("Protocol %s share %.1f%% vs baseline %.1f%%", proto, share, expected),
				0.6,
				map[string]interface{}{
					"protocol":         proto,
					"share_percent":    share,
					"baseline_percent": expected,
					"difference":       diff,
				}))
		}
	}
	return out
}

func newAnomaly(report *TrafficReport, typ models.AnomalyType, sev models.Severity, source, desc string, confidence float64, details map[string]interface{}) models.Anomaly {
	return models.Anomaly{
		ID:          uuid.New().String(),
		Timestamp:   report.Timestamp,
		Type:        typ,
		Severity:    sev,
		Source:      source,
		Description: desc,
		Details:     details,
		Confidence:  confidence,
	}
}
