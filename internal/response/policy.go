package response

import (
	"time"

	"github.com/nshruti113/traffic-sentinel/internal/models"
)

type policy struct {
	actions     []models.ActionType
	duration    time.Duration // 0 means permanent
	strikeBased bool
}

var policies = map[models.Severity]policy{
	models.SeverityCritical: {
		actions: []models.ActionType{models.ActionBlockIP, models.ActionSendAlert, models.ActionEscalate},
	},
	models.SeverityHigh: {
		actions:  []models.ActionType{models.ActionBlockIP, models.ActionSendAlert},
		duration: 24 * time.Hour,
	},
	models.SeverityMedium: {
		actions:     []models.ActionType{models.ActionRateLimit, models.ActionLogOnly},
		duration:    6 * time.Hour,
		strikeBased: true,
	},
	models.SeverityLow: {
		actions:  []models.ActionType{models.ActionLogOnly},
		duration: time.Hour,
	},
}

func policyFor(sev models.Severity) policy {
	if p, ok := policies[sev]; ok {
		return p
	}
	return policies[models.SeverityLow]
}

func (p policy) expiry(now time.Time) *time.Time {
	if p.duration == 0 {
		return nil
	}
	t := now.Add(p.duration)
	return &t
}
