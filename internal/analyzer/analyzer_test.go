package analyzer

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/nshruti113/traffic-sentinel/internal/collector"
	"github.com/nshruti113/traffic-sentinel/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func setup(t *testing.T) (*collector.Collector, *Analyzer, *clock) {
	t.Helper()
	clk := &clock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	col := collector.New(collector.Config{Window: 10 * time.Second, HistorySize: 20}, collector.WithClock(clk.now))
	return col, New(col, WithClock(clk.now)), clk
}

// fillWindow ingests n TCP packets of size bytes each and closes the window
func fillWindow(col *collector.Collector, clk *clock, n, size int) {
	for i := 0; i < n; i++ {
		col.Ingest(models.PacketDescriptor{
			SrcIP:    fmt.Sprintf("10.0.0.%d", i%4+1),
			DstIP:    "10.0.1.1",
			SrcPort:  40000 + i,
			DstPort:  443,
			Protocol: "TCP",
			Size:     size,
			Flags:    models.FlagSYN,
		})
	}
	clk.t = clk.t.Add(10 * time.Second)
	col.Rotate()
}

func TestDeviation(t *testing.T) {
	assert.Equal(t, 0.0, Deviation(500, 100, 0))
	assert.Equal(t, 0.0, Deviation(0, 0, 0))
	assert.InDelta(t, 2.0, Deviation(120, 100, 10), 1e-9)
	assert.InDelta(t, -1.5, Deviation(85, 100, 10), 1e-9)
}

func TestGenerateBaseline_Insufficient(t *testing.T) {
	col, a, clk := setup(t)
	fillWindow(col, clk, 10, 100)
	fillWindow(col, clk, 10, 100)

	b, err := a.GenerateBaseline(3)
	assert.Nil(t, b)
	assert.True(t, errors.Is(err, ErrInsufficientHistory))
	assert.Nil(t, a.Baseline())
}

func TestGenerateBaseline_Statistics(t *testing.T) {
	col, a, clk := setup(t)
	// 100, 200 and 300 packets over 10s windows: 10, 20, 30 pps
	fillWindow(col, clk, 100, 50)
	fillWindow(col, clk, 200, 50)
	fillWindow(col, clk, 300, 50)

	b, err := a.GenerateBaseline(3)
	require.NoError(t, err)
	require.NotNil(t, b)

	assert.Equal(t, 3, b.Samples)
	assert.InDelta(t, 20.0, b.PacketsPerSecond.Mean, 1e-9)
	assert.InDelta(t, 8.16496580927726, b.PacketsPerSecond.StdDev, 1e-9)
	assert.InDelta(t, 30.0, b.PacketsPerSecond.Max, 1e-9)
	assert.InDelta(t, 1000.0, b.BytesPerSecond.Mean, 1e-9)
	// flows stay open across windows, so each window adds 100 new ones
	assert.InDelta(t, 600.0, b.ConnectionsPerMinute.Mean, 1e-9)
	assert.InDelta(t, 0.0, b.ConnectionsPerMinute.StdDev, 1e-9)
	assert.InDelta(t, 100.0, b.ProtocolDistribution["TCP"], 1e-9)
	assert.Equal(t, []int{443}, b.CommonPorts)
	assert.Same(t, b, a.Baseline())

	again, err := a.GenerateBaseline(3)
	require.NoError(t, err)
	assert.Equal(t, b, again)
	assert.NotSame(t, b, again)
}

func TestAnalyzeCurrent_WithoutBaseline(t *testing.T) {
	col, a, _ := setup(t)
	col.Ingest(models.PacketDescriptor{SrcIP: "10.0.0.1", DstIP: "10.0.0.2", DstPort: 8080, Protocol: "TCP", Size: 100})

	report := a.AnalyzeCurrent()
	assert.EqualValues(t, 1, report.TotalPackets)
	assert.Nil(t, report.Deviation)
	assert.Empty(t, report.UnusualPorts)
	require.Len(t, report.TopSenders, 1)
	assert.Equal(t, "10.0.0.1", report.TopSenders[0].IP)
}

func TestAnalyzeCurrent_UnusualPortsAndDeviation(t *testing.T) {
	col, a, clk := setup(t)
	fillWindow(col, clk, 100, 50)
	fillWindow(col, clk, 200, 50)
	fillWindow(col, clk, 300, 50)
	_, err := a.GenerateBaseline(3)
	require.NoError(t, err)

	col.Ingest(models.PacketDescriptor{SrcIP: "10.0.0.1", DstIP: "10.0.0.2", DstPort: 443, Protocol: "TCP", Size: 100})
	col.Ingest(models.PacketDescriptor{SrcIP: "10.0.0.1", DstIP: "10.0.0.2", DstPort: 6667, Protocol: "TCP", Size: 100})

	report := a.AnalyzeCurrent()
	assert.Equal(t, []int{6667}, report.UnusualPorts)
	require.NotNil(t, report.Deviation)
	// 2 pps against mean 20, stddev ~8.16
	assert.InDelta(t, (2.0-20.0)/8.16496580927726, report.Deviation.PacketsPerSecond, 1e-9)
}

func TestDetectTrafficAnomalies(t *testing.T) {
	baseline := &models.Baseline{
		Samples:              5,
		PacketsPerSecond:     models.MetricStats{Mean: 100, StdDev: 10, Max: 120},
		BytesPerSecond:       models.MetricStats{Mean: 10000, StdDev: 1000, Max: 12000},
		ConnectionsPerMinute: models.MetricStats{Mean: 60, StdDev: 5, Max: 70},
		ProtocolDistribution: map[string]float64{"TCP": 90, "UDP": 10},
		CommonPorts:          []int{80, 443},
	}

	tests := []struct {
		name     string
		baseline *models.Baseline
		report   TrafficReport
		want     []models.AnomalyType
	}{
		{
			name:     "quiet traffic",
			baseline: baseline,
			report: TrafficReport{
				PacketsPerSecond:     100,
				ConnectionsPerMinute: 50,
				Deviation:            &DeviationScore{},
				ProtocolBreakdown:    map[string]float64{"TCP": 88, "UDP": 12},
			},
		},
		{
			name:     "packet spike",
			baseline: baseline,
			report: TrafficReport{
				PacketsPerSecond:  200,
				Deviation:         &DeviationScore{PacketsPerSecond: 10},
				ProtocolBreakdown: map[string]float64{"TCP": 90, "UDP": 10},
			},
			want: []models.AnomalyType{models.AnomalyTrafficSpike},
		},
		{
			name:     "new protocol and shifted share",
			baseline: baseline,
			report: TrafficReport{
				Deviation:         &DeviationScore{},
				ProtocolBreakdown: map[string]float64{"ICMP": 5, "TCP": 45, "UDP": 50},
			},
			want: []models.AnomalyType{models.AnomalyUnusualProtocol, models.AnomalyProtocolDeviation, models.AnomalyProtocolDeviation},
		},
		{
			name:     "connection surge",
			baseline: baseline,
			report: TrafficReport{
				ConnectionsPerMinute: 301,
				Deviation:            &DeviationScore{},
				ProtocolBreakdown:    map[string]float64{"TCP": 90, "UDP": 10},
			},
			want: []models.AnomalyType{models.AnomalyConnectionSurge},
		},
		{
			name: "concentration without baseline",
			report: TrafficReport{
				TotalBytes:        1000,
				TopSenders:        []models.Talker{{IP: "10.0.0.66", Bytes: 800, Percentage: 80}},
				ProtocolBreakdown: map[string]float64{"SCTP": 100},
			},
			want: []models.AnomalyType{models.AnomalyTrafficConcentration},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, a, _ := setup(t)
			a.SetBaseline(tt.baseline)

			got := a.DetectTrafficAnomalies(&tt.report)
			types := make([]models.AnomalyType, 0, len(got))
			for _, an := range got {
				types = append(types, an.Type)
				assert.NotEmpty(t, an.ID)
				assert.GreaterOrEqual(t, an.Confidence, 0.0)
				assert.LessOrEqual(t, an.Confidence, 1.0)
			}
			assert.ElementsMatch(t, tt.want, types)
		})
	}
}

func TestDetectTrafficAnomalies_Severities(t *testing.T) {
	_, a, _ := setup(t)
	a.SetBaseline(&models.Baseline{
		PacketsPerSecond:     models.MetricStats{Mean: 10, StdDev: 1},
		ConnectionsPerMinute: models.MetricStats{Mean: 1},
		ProtocolDistribution: map[string]float64{"TCP": 100},
	})

	got := a.DetectTrafficAnomalies(&TrafficReport{
		Deviation:         &DeviationScore{BytesPerSecond: 4},
		ProtocolBreakdown: map[string]float64{"TCP": 60, "UDP": 40},
		TotalBytes:        100,
		TopSenders:        []models.Talker{{IP: "10.0.0.1", Percentage: 60}},
	})

	bySeverity := make(map[models.AnomalyType]models.Severity)
	for _, an := range got {
		bySeverity[an.Type] = an.Severity
	}
	assert.Equal(t, models.SeverityHigh, bySeverity[models.AnomalyTrafficSpike])
	assert.Equal(t, models.SeverityMedium, bySeverity[models.AnomalyUnusualProtocol])
	assert.Equal(t, models.SeverityLow, bySeverity[models.AnomalyProtocolDeviation])
	assert.Equal(t, models.SeverityHigh, bySeverity[models.AnomalyTrafficConcentration])
}
