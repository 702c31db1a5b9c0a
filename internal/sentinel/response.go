package sentinel

import (
	"context"
	"net/netip"

	"github.com/nshruti113/traffic-sentinel/internal/models"
	"github.com/nshruti113/traffic-sentinel/internal/response"
	log "github.com/sirupsen/logrus"
)

// ResponseEngine is the part of the response engine the sentinel drives
type ResponseEngine interface {
	Decide(req response.DecisionRequest) *models.Response
	Execute(ctx context.Context, id int64) error
	Response(id int64) (*models.Response, bool)
	ProcessExpired(ctx context.Context) []response.Result
}

// ResponseSentinel turns anomalies into executed responses
type ResponseSentinel struct {
	engine ResponseEngine
}

func NewResponseSentinel(engine ResponseEngine) *ResponseSentinel {
	return &ResponseSentinel{engine: engine}
}

// Handle decides and executes one response per offending source of the
// anomaly. Anomalies without an addressable source produce none.
func (r *ResponseSentinel) Handle(ctx context.Context, a models.Anomaly) []*models.Response {
	targets := anomalyTargets(a)
	if len(targets) == 0 {
		log.WithFields(log.Fields{
			"anomaly_id": a.ID,
			"type":       a.Type,
			"source":     a.Source,
		}).Debug("No addressable source, skipping response")
		return nil
	}

	ports := anomalyPorts(a)
	out := make([]*models.Response, 0, len(targets))
	for _, ip := range targets {
		resp := r.engine.Decide(response.DecisionRequest{
			SourceIP:   ip,
			ThreatType: string(a.Type),
			Severity:   a.Severity,
			Confidence: a.Confidence,
			ThreatID:   a.ID,
			Ports:      ports,
		})

		if err := r.engine.Execute(ctx, resp.ID); err != nil {
			log.WithError(err).WithFields(log.Fields{
				"response_id": resp.ID,
				"source":      ip,
			}).Warn("Response execution failed")
		}

		if final, ok := r.engine.Response(resp.ID); ok {
			resp = final
		}
		out = append(out, resp)
	}
	return out
}

// Expire rolls back responses whose duration has passed
func (r *ResponseSentinel) Expire(ctx context.Context) []response.Result {
	results := r.engine.ProcessExpired(ctx)
	for _, res := range results {
		if !res.OK() {
			log.WithFields(log.Fields{
				"response_id": res.ResponseID,
				"code":        res.Code,
			}).Warn(res.Message)
		}
	}
	return results
}

// anomalyTargets resolves the source IPs an anomaly points at. Distributed
// floods target their top senders.
func anomalyTargets(a models.Anomaly) []string {
	if a.Source != models.SourceMultiple {
		if isIP(a.Source) {
			return []string{a.Source}
		}
		return nil
	}

	top, _ := a.Details["top_sources"].([]string)
	out := make([]string, 0, len(top))
	for _, ip := range top {
		if isIP(ip) {
			out = append(out, ip)
		}
	}
	return out
}

func anomalyPorts(a models.Anomaly) []int {
	for _, key := range []string{"ports_scanned", "ports"} {
		if ports, ok := a.Details[key].([]int); ok {
			return ports
		}
	}
	return nil
}

func isIP(s string) bool {
	_, err := netip.ParseAddr(s)
	return err == nil
}
