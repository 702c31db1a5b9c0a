package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nshruti113/traffic-sentinel/internal/analyzer"
	"github.com/nshruti113/traffic-sentinel/internal/models"
	"github.com/nshruti113/traffic-sentinel/internal/response"
	log "github.com/sirupsen/logrus"
)

const (
	defaultListLimit   = 100
	maxBatchSize       = 10000
	maxIngestBodyBytes = 8 << 20
	statsRecent        = 10
	defaultThreatsSpan = time.Hour
)

func queryInt(c *gin.Context, key string, def int) int {
	v, err := strconv.Atoi(c.Query(key))
	if err != nil || v < 0 {
		return def
	}
	return v
}

// ingestPackets accepts a single packet object or an array of packets
func (s *Server) ingestPackets(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxIngestBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": fmt.Sprintf("body larger than %d bytes", tooLarge.Limit)})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var packets []models.PacketDescriptor
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		err = json.Unmarshal(trimmed, &packets)
	} else {
		var p models.PacketDescriptor
		err = json.Unmarshal(trimmed, &p)
		packets = append(packets, p)
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid packet payload: %v", err)})
		return
	}
	if len(packets) > maxBatchSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": fmt.Sprintf("batch larger than %d packets", maxBatchSize)})
		return
	}

	accepted := 0
	for _, p := range packets {
		if s.deps.Sentinel.Ingest(p) {
			accepted++
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"accepted": accepted,
		"rejected": len(packets) - accepted,
	})
}

func (s *Server) getTraffic(c *gin.Context) {
	n := queryInt(c, "top", 10)
	c.JSON(http.StatusOK, gin.H{
		"current":       s.deps.Collector.CurrentStats(),
		"bandwidth":     s.deps.Collector.BandwidthUsage(),
		"protocols":     s.deps.Collector.ProtocolDistribution(),
		"top_talkers":   s.deps.Collector.TopTalkers(n),
		"top_receivers": s.deps.Collector.TopReceivers(n),
		"connections":   s.deps.Collector.ConnectionCount(),
		"history":       s.deps.Collector.HistoryLen(),
	})
}

func (s *Server) getConnections(c *gin.Context) {
	conns := s.deps.Collector.Connections()
	if limit := queryInt(c, "limit", defaultListLimit); limit > 0 && limit < len(conns) {
		conns = conns[:limit]
	}
	c.JSON(http.StatusOK, gin.H{"connections": conns})
}

func (s *Server) getBaseline(c *gin.Context) {
	b := s.deps.Analyzer.Baseline()
	if b == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no baseline yet"})
		return
	}
	c.JSON(http.StatusOK, b)
}

func (s *Server) generateBaseline(c *gin.Context) {
	b, err := s.deps.Analyzer.GenerateBaseline(queryInt(c, "min_samples", 1))
	if errors.Is(err, analyzer.ErrInsufficientHistory) {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "history": s.deps.Collector.HistoryLen()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, b)
}

func (s *Server) getReport(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Analyzer.AnalyzeCurrent())
}

func (s *Server) getAnomalies(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"anomalies": s.deps.Detector.Anomalies(queryInt(c, "limit", defaultListLimit)),
	})
}

func (s *Server) getAnomalySummary(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Detector.Summary(queryInt(c, "recent", 10)))
}

func (s *Server) getResponses(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"responses": s.deps.Engine.Responses(queryInt(c, "limit", defaultListLimit)),
	})
}

func parseID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid response id"})
		return 0, false
	}
	return id, true
}

func (s *Server) getResponse(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	resp, found := s.deps.Engine.Response(id)
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "response not found"})
		return
	}
	c.JSON(http.StatusOK, resp)
}

type decideRequest struct {
	SourceIP   string  `json:"source_ip" binding:"required"`
	ThreatType string  `json:"threat_type" binding:"required"`
	Severity   string  `json:"severity"`
	Confidence float64 `json:"confidence"`
	ThreatID   string  `json:"threat_id"`
	Ports      []int   `json:"ports"`
	Service    string  `json:"service"`
	Execute    bool    `json:"execute"`
}

// decideResponse feeds an external threat signal to the response engine
func (s *Server) decideResponse(c *gin.Context) {
	var req decideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Confidence < 0 || req.Confidence > 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "confidence must be within [0, 1]"})
		return
	}

	resp := s.deps.Engine.Decide(response.DecisionRequest{
		SourceIP:   req.SourceIP,
		ThreatType: req.ThreatType,
		Severity:   models.ParseSeverity(req.Severity),
		Confidence: req.Confidence,
		ThreatID:   req.ThreatID,
		Ports:      req.Ports,
		Service:    req.Service,
	})

	if req.Execute {
		if err := s.deps.Engine.Execute(c.Request.Context(), resp.ID); err != nil {
			log.WithError(err).WithField("response_id", resp.ID).Warn("Manual response failed")
		}
		resp, _ = s.deps.Engine.Response(resp.ID)
	}
	c.JSON(http.StatusCreated, resp)
}

func (s *Server) rollbackResponse(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	res := s.deps.Engine.Rollback(c.Request.Context(), id)
	status := http.StatusOK
	switch res.Code {
	case response.ResultOK:
	case response.ResultNotFound:
		status = http.StatusNotFound
	case response.ResultExecutorError:
		status = http.StatusBadGateway
	default:
		status = http.StatusConflict
	}
	c.JSON(status, res)
}

func (s *Server) getActions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"actions":      s.deps.Executor.ActionHistory(queryInt(c, "limit", defaultListLimit)),
		"blocked_ips":  s.deps.Executor.BlockedIPs(),
		"rate_limited": s.deps.Executor.RateLimitedIPs(),
		"statistics":   s.deps.Executor.Statistics(),
	})
}

type actionRequest struct {
	Action string `json:"action" binding:"required"`
	Target string `json:"target" binding:"required"`
	Value  int64  `json:"value"`
}

// runAction applies an operator countermeasure directly. Blocking goes
// through the response engine so the whitelist holds.
func (s *Server) runAction(c *gin.Context) {
	var req actionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	ex := s.deps.Executor
	action := models.ActionType(strings.ToUpper(req.Action))

	if (action == models.ActionThrottleBandwidth || action == models.ActionQuarantine) && s.deps.Engine.IsWhitelisted(req.Target) {
		c.JSON(http.StatusForbidden, gin.H{"error": response.ErrWhitelisted.Error()})
		return
	}

	var err error
	switch action {
	case models.ActionUnblockIP:
		err = ex.UnblockIP(ctx, req.Target)
	case models.ActionRemoveRateLimit:
		err = ex.RemoveRateLimit(ctx, req.Target)
	case models.ActionThrottleBandwidth:
		err = ex.ThrottleBandwidth(ctx, req.Target, req.Value)
	case models.ActionQuarantine:
		err = ex.Quarantine(ctx, req.Target)
	case models.ActionRestartService:
		err = ex.RestartService(ctx, req.Target)
	case models.ActionClosePort:
		port, convErr := strconv.Atoi(req.Target)
		if convErr != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "port target must be a number"})
			return
		}
		err = ex.ClosePort(ctx, port)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unsupported action %q", req.Action)})
		return
	}

	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "action": action, "target": req.Target})
}

func (s *Server) getWhitelist(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"whitelist": s.deps.Engine.Whitelist()})
}

type whitelistRequest struct {
	Entry string `json:"entry" binding:"required"`
}

func (s *Server) addWhitelist(c *gin.Context) {
	var req whitelistRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.deps.Engine.AddToWhitelist(req.Entry); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"whitelist": s.deps.Engine.Whitelist()})
}

func (s *Server) removeWhitelist(c *gin.Context) {
	entry := c.Query("entry")
	if entry == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "entry query parameter required"})
		return
	}
	if !s.deps.Engine.RemoveFromWhitelist(entry) {
		c.JSON(http.StatusNotFound, gin.H{"error": "entry not whitelisted"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"whitelist": s.deps.Engine.Whitelist()})
}

func (s *Server) getStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"sentinel":  s.deps.Sentinel.Stats(),
		"responses": s.deps.Engine.Statistics(),
		"anomalies": s.deps.Detector.Summary(statsRecent),
	})
}

// getThreats lists persisted threats from the last ?window= (default 1h)
func (s *Server) getThreats(c *gin.Context) {
	if s.deps.Threats == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "threat history requires redis"})
		return
	}

	window := defaultThreatsSpan
	if raw := c.Query("window"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid window %q", raw)})
			return
		}
		window = d
	}

	threats, err := s.deps.Threats.RecentThreats(c.Request.Context(), window)
	if err != nil {
		log.WithError(err).Warn("Failed to load threat history")
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"threats": threats,
		"count":   len(threats),
		"window":  window.String(),
	})
}
