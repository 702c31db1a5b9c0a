package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nshruti113/traffic-sentinel/internal/action"
	"github.com/nshruti113/traffic-sentinel/internal/alerts"
	"github.com/nshruti113/traffic-sentinel/internal/analyzer"
	"github.com/nshruti113/traffic-sentinel/internal/collector"
	"github.com/nshruti113/traffic-sentinel/internal/detection"
	"github.com/nshruti113/traffic-sentinel/internal/models"
	"github.com/nshruti113/traffic-sentinel/internal/response"
	"github.com/nshruti113/traffic-sentinel/internal/sentinel"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ThreatHistory serves persisted threat records
type ThreatHistory interface {
	RecentThreats(ctx context.Context, window time.Duration) ([]models.ThreatRecord, error)
}

// Deps are the components the HTTP surface reads from and drives.
// Threats is optional.
type Deps struct {
	Collector *collector.Collector
	Analyzer  *analyzer.Analyzer
	Detector  *detection.Detector
	Engine    *response.Engine
	Executor  action.Executor
	Sentinel  *sentinel.TrafficSentinel
	Hub       *alerts.Hub
	Gatherer  prometheus.Gatherer
	Threats   ThreatHistory
}

type Server struct {
	deps   Deps
	router *gin.Engine
}

func NewServer(deps Deps) *Server {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	s := &Server{deps: deps, router: router}
	s.setupRoutes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.Use(corsMiddleware())

	api := s.router.Group("/api")
	{
		// Packet ingestion
		api.POST("/packets", s.ingestPackets)

		// Traffic
		api.GET("/traffic", s.getTraffic)
		api.GET("/traffic/connections", s.getConnections)
		api.GET("/baseline", s.getBaseline)
		api.POST("/baseline", s.generateBaseline)
		api.GET("/report", s.getReport)

		// Anomalies
		api.GET("/anomalies", s.getAnomalies)
		api.GET("/anomalies/summary", s.getAnomalySummary)
		api.GET("/threats", s.getThreats)

		// Responses
		api.GET("/responses", s.getResponses)
		api.POST("/responses", s.decideResponse)
		api.GET("/responses/:id", s.getResponse)
		api.POST("/responses/:id/rollback", s.rollbackResponse)

		// Actions
		api.GET("/actions", s.getActions)
		api.POST("/actions", s.runAction)

		// Whitelist
		api.GET("/whitelist", s.getWhitelist)
		api.POST("/whitelist", s.addWhitelist)
		api.DELETE("/whitelist", s.removeWhitelist)

		api.GET("/stats", s.getStats)
	}

	if s.deps.Hub != nil {
		s.router.GET("/ws", gin.WrapF(s.deps.Hub.ServeWS))
	}
	if s.deps.Gatherer != nil {
		s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{})))
	}
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "mode": s.deps.Executor.Mode()})
	})
}

// corsMiddleware handles CORS
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
