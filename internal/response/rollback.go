package response

import (
	"context"
	"fmt"

	"github.com/nshruti113/traffic-sentinel/internal/models"
	log "github.com/sirupsen/logrus"
)

type ResultCode string

const (
	ResultOK                  ResultCode = "OK"
	ResultNotFound            ResultCode = "NOT_FOUND"
	ResultNotRollbackEligible ResultCode = "NOT_ROLLBACK_ELIGIBLE"
	ResultAlreadyRolledBack   ResultCode = "ALREADY_ROLLED_BACK"
	ResultInvalidState        ResultCode = "INVALID_STATE"
	ResultExecutorError       ResultCode = "EXECUTOR_ERROR"
)

// Result is the outcome of a rollback attempt
type Result struct {
	Code       ResultCode `json:"code"`
	ResponseID int64      `json:"response_id"`
	Message    string     `json:"message,omitempty"`
}

func (r Result) OK() bool {
	return r.Code == ResultOK
}

// Rollback reverses the block and rate limit of an executed response.
// Effects still held by another active response on the same source stay in
// place. ROLLED_BACK is terminal; any refusal leaves the response unchanged.
func (e *Engine) Rollback(ctx context.Context, id int64) Result {
	e.mu.Lock()
	resp, ok := e.responses[id]
	switch {
	case !ok:
		e.mu.Unlock()
		return Result{Code: ResultNotFound, ResponseID: id, Message: "no such response"}
	case resp.RolledBack || e.rollingBack[id]:
		e.mu.Unlock()
		return Result{Code: ResultAlreadyRolledBack, ResponseID: id, Message: "response was already rolled back"}
	case !resp.RollbackPossible:
		e.mu.Unlock()
		return Result{Code: ResultNotRollbackEligible, ResponseID: id, Message: "response has nothing to reverse"}
	case resp.Status == models.StatusPending || resp.Status == models.StatusExecuting:
		status := resp.Status
		e.mu.Unlock()
		return Result{Code: ResultInvalidState, ResponseID: id, Message: fmt.Sprintf("response is %s", status)}
	}
	e.rollingBack[id] = true
	snapshot := resp.Clone()
	keep := e.heldLocked(resp)
	e.mu.Unlock()

	err := e.reverse(ctx, snapshot, keep)

	e.mu.Lock()
	delete(e.rollingBack, id)

	if err != nil {
		e.mu.Unlock()
		e.metrics.rollbacks.WithLabelValues("failed").Inc()
		log.WithError(err).WithField("response_id", id).Error("Rollback failed")
		return Result{Code: ResultExecutorError, ResponseID: id, Message: err.Error()}
	}

	resp.Status = models.StatusRolledBack
	resp.RolledBack = true
	e.counters.rollbacks++
	e.mu.Unlock()
	e.metrics.rollbacks.WithLabelValues("ok").Inc()

	log.WithFields(log.Fields{
		"response_id": id,
		"source":      snapshot.SourceIP,
		"kept_block":  keep.block,
		"kept_limit":  keep.rateLimit,
	}).Info("Response rolled back")

	unblocked := snapshot.HasAction(models.ActionBlockIP) && !keep.block
	if unblocked && e.store != nil {
		if err := e.store.UnblockIP(ctx, snapshot.SourceIP); err != nil {
			log.WithError(err).WithField("ip", snapshot.SourceIP).Warn("Failed to remove persisted block")
		}
	}

	res := Result{Code: ResultOK, ResponseID: id}
	if keep.block || keep.rateLimit {
		res.Message = "effects kept, another active response still holds them"
	}
	return res
}

// holds are the reversible effects another live response still relies on
type holds struct {
	block     bool
	rateLimit bool
}

// heldLocked looks for other executed or executing responses on the same
// source that are not being rolled back
func (e *Engine) heldLocked(resp *models.Response) holds {
	var h holds
	for id, other := range e.responses {
		if id == resp.ID || other.SourceIP != resp.SourceIP || other.RolledBack || e.rollingBack[id] {
			continue
		}
		if other.Status != models.StatusSuccess && other.Status != models.StatusExecuting {
			continue
		}
		h.block = h.block || other.HasAction(models.ActionBlockIP)
		h.rateLimit = h.rateLimit || other.HasAction(models.ActionRateLimit)
	}
	return h
}

func (e *Engine) reverse(ctx context.Context, resp *models.Response, keep holds) error {
	if resp.HasAction(models.ActionBlockIP) && !keep.block {
		if err := e.executor.UnblockIP(ctx, resp.SourceIP); err != nil {
			return fmt.Errorf("unblock %s: %w", resp.SourceIP, err)
		}
	}
	if resp.HasAction(models.ActionRateLimit) && !keep.rateLimit {
		if err := e.executor.RemoveRateLimit(ctx, resp.SourceIP); err != nil {
			return fmt.Errorf("remove rate limit for %s: %w", resp.SourceIP, err)
		}
	}
	return nil
}

// ProcessExpired rolls back executed responses whose expiry has passed
func (e *Engine) ProcessExpired(ctx context.Context) []Result {
	now := e.now()

	e.mu.RLock()
	var due []int64
	for _, id := range e.order {
		resp := e.responses[id]
		if resp.Status == models.StatusSuccess && resp.RollbackPossible && !resp.RolledBack &&
			resp.ExpiresAt != nil && !now.Before(*resp.ExpiresAt) {
			due = append(due, id)
		}
	}
	e.mu.RUnlock()

	results := make([]Result, 0, len(due))
	for _, id := range due {
		if ctx.Err() != nil {
			break
		}
		results = append(results, e.Rollback(ctx, id))
	}
	return results
}
