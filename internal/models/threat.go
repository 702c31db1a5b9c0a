package models

import (
	"strings"
	"time"
)

// AnomalyType tags the detector that raised an anomaly
type AnomalyType string

const (
	AnomalyDDoS                 AnomalyType = "DDOS_ATTACK"
	AnomalyPortScan             AnomalyType = "PORT_SCAN"
	AnomalyDataExfiltration     AnomalyType = "DATA_EXFILTRATION"
	AnomalySuspiciousPort       AnomalyType = "SUSPICIOUS_PORT"
	AnomalyUnusualProtocol      AnomalyType = "UNUSUAL_PROTOCOL"
	AnomalyProtocolDeviation    AnomalyType = "PROTOCOL_DEVIATION"
	AnomalyOffHours             AnomalyType = "OFF_HOURS_ACTIVITY"
	AnomalyTrafficSpike         AnomalyType = "TRAFFIC_SPIKE"
	AnomalyTrafficConcentration AnomalyType = "TRAFFIC_CONCENTRATION"
	AnomalyConnectionSurge      AnomalyType = "CONNECTION_SURGE"
)

// SourceMultiple marks anomalies without a single offending source
const SourceMultiple = "MULTIPLE"

// Severity is LOW, MEDIUM, HIGH or CRITICAL
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Rank orders severities; unknown values rank 0
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	}
	return 0
}

// ParseSeverity maps a case-insensitive name to a Severity, defaulting to LOW
func ParseSeverity(s string) Severity {
	sev := Severity(strings.ToUpper(strings.TrimSpace(s)))
	if sev.Rank() == 0 {
		return SeverityLow
	}
	return sev
}

// Anomaly is an immutable detection record
type Anomaly struct {
	ID          string                 `json:"id"`
	Timestamp   time.Time              `json:"timestamp"`
	Type        AnomalyType            `json:"type"`
	Severity    Severity               `json:"severity"`
	Source      string                 `json:"source"`
	Description string                 `json:"description"`
	Details     map[string]interface{} `json:"details"`
	Confidence  float64                `json:"confidence"` // 0.0 to 1.0
}

// ActionType is a countermeasure decided by the response engine
type ActionType string

const (
	ActionBlockIP           ActionType = "BLOCK_IP"
	ActionUnblockIP         ActionType = "UNBLOCK_IP"
	ActionRateLimit         ActionType = "RATE_LIMIT"
	ActionRemoveRateLimit   ActionType = "REMOVE_RATE_LIMIT"
	ActionSendAlert         ActionType = "SEND_ALERT"
	ActionEscalate          ActionType = "ESCALATE"
	ActionLogOnly           ActionType = "LOG_ONLY"
	ActionClosePort         ActionType = "CLOSE_PORT"
	ActionThrottleBandwidth ActionType = "THROTTLE_BANDWIDTH"
	ActionRestartService    ActionType = "RESTART_SERVICE"
	ActionQuarantine        ActionType = "QUARANTINE"
)

// ResponseStatus is the lifecycle state of a Response
type ResponseStatus string

const (
	StatusPending    ResponseStatus = "PENDING"
	StatusExecuting  ResponseStatus = "EXECUTING"
	StatusSuccess    ResponseStatus = "SUCCESS"
	StatusFailed     ResponseStatus = "FAILED"
	StatusRolledBack ResponseStatus = "ROLLED_BACK"
)

// Response is a decided set of countermeasures against one source
type Response struct {
	ID               int64          `json:"id"`
	ThreatID         string         `json:"threat_id,omitempty"`
	SourceIP         string         `json:"source_ip"`
	ThreatType       string         `json:"threat_type"`
	Severity         Severity       `json:"severity"`
	Confidence       float64        `json:"confidence"`
	Actions          []ActionType   `json:"actions"`
	Ports            []int          `json:"ports,omitempty"`
	Service          string         `json:"service,omitempty"`
	Status           ResponseStatus `json:"status"`
	CreatedAt        time.Time      `json:"created_at"`
	ExecutedAt       *time.Time     `json:"executed_at,omitempty"`
	ExpiresAt        *time.Time     `json:"expires_at"` // nil means permanent
	Success          bool           `json:"success"`
	Error            string         `json:"error,omitempty"`
	RollbackPossible bool           `json:"rollback_possible"`
	RolledBack       bool           `json:"rolled_back"`
	Escalated        bool           `json:"escalated"`
}

// HasAction reports whether the response contains action a
func (r *Response) HasAction(a ActionType) bool {
	for _, x := range r.Actions {
		if x == a {
			return true
		}
	}
	return false
}

// Clone returns a copy safe to hand out of the engine
func (r *Response) Clone() *Response {
	c := *r
	c.Actions = append([]ActionType(nil), r.Actions...)
	c.Ports = append([]int(nil), r.Ports...)
	if r.ExecutedAt != nil {
		t := *r.ExecutedAt
		c.ExecutedAt = &t
	}
	if r.ExpiresAt != nil {
		t := *r.ExpiresAt
		c.ExpiresAt = &t
	}
	return &c
}

// ActionRecord is one entry of the executor's audit trail
type ActionRecord struct {
	Timestamp time.Time              `json:"timestamp"`
	Action    ActionType             `json:"action"`
	Target    string                 `json:"target"`
	Mode      string                 `json:"mode"`
	Success   bool                   `json:"success"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// ThreatRecord is what gets persisted for each detected anomaly
type ThreatRecord struct {
	Anomaly    Anomaly      `json:"anomaly"`
	ResponseID int64        `json:"response_id,omitempty"`
	Actions    []ActionType `json:"actions,omitempty"`
	Status     string       `json:"status,omitempty"`
}

// Alert is a message pushed to alert channels
type Alert struct {
	ID        string    `json:"id"`
	Severity  Severity  `json:"severity"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}
