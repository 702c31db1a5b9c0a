package response

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nshruti113/traffic-sentinel/internal/action"
	"github.com/nshruti113/traffic-sentinel/internal/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockAlerter struct {
	mock.Mock
}

func (m *MockAlerter) SendAlert(ctx context.Context, title, message string, severity models.Severity) error {
	return m.Called(ctx, title, message, severity).Error(0)
}

type MockBlockStore struct {
	mock.Mock
}

func (m *MockBlockStore) BlockIP(ctx context.Context, ip, reason string) error {
	return m.Called(ctx, ip, reason).Error(0)
}

func (m *MockBlockStore) UnblockIP(ctx context.Context, ip string) error {
	return m.Called(ctx, ip).Error(0)
}

// flakyUnblock fails every unblock while err is set
type flakyUnblock struct {
	*action.SimulatedExecutor
	err error
}

func (f *flakyUnblock) UnblockIP(ctx context.Context, ip string) error {
	if f.err != nil {
		return f.err
	}
	return f.SimulatedExecutor.UnblockIP(ctx, ip)
}

type clock struct {
	t time.Time
}

func (c *clock) now() time.Time { return c.t }

func newTestEngine(t *testing.T, ex action.Executor, cfg Config, opts ...Option) (*Engine, *clock) {
	t.Helper()
	c := &clock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	e, err := NewEngine(ex, cfg, append([]Option{WithClock(c.now)}, opts...)...)
	require.NoError(t, err)
	return e, c
}

func request(ip string, sev models.Severity, conf float64) DecisionRequest {
	return DecisionRequest{SourceIP: ip, ThreatType: "SUSPICIOUS_PORT", Severity: sev, Confidence: conf}
}

func TestNewEngine_InvalidWhitelist(t *testing.T) {
	_, err := NewEngine(action.NewSimulated(0), Config{Whitelist: []string{"not-an-ip"}})
	assert.ErrorIs(t, err, ErrInvalidWhitelistEntry)
}

func TestDecide_Policies(t *testing.T) {
	tests := []struct {
		severity models.Severity
		actions  []models.ActionType
		expiry   time.Duration // 0 means permanent
		rollback bool
	}{
		{models.SeverityCritical, []models.ActionType{models.ActionBlockIP, models.ActionSendAlert, models.ActionEscalate}, 0, true},
		{models.SeverityHigh, []models.ActionType{models.ActionBlockIP, models.ActionSendAlert}, 24 * time.Hour, true},
		{models.SeverityMedium, []models.ActionType{models.ActionRateLimit, models.ActionLogOnly}, 6 * time.Hour, true},
		{models.SeverityLow, []models.ActionType{models.ActionLogOnly}, time.Hour, false},
		{"BOGUS", []models.ActionType{models.ActionLogOnly}, time.Hour, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.severity), func(t *testing.T) {
			e, c := newTestEngine(t, action.NewSimulated(0), Config{})
			resp := e.Decide(request("198.51.100.7", tt.severity, 0.9))

			assert.Equal(t, tt.actions, resp.Actions)
			assert.Equal(t, models.StatusPending, resp.Status)
			assert.Equal(t, tt.rollback, resp.RollbackPossible)
			if tt.expiry == 0 {
				assert.Nil(t, resp.ExpiresAt)
			} else {
				require.NotNil(t, resp.ExpiresAt)
				assert.Equal(t, c.t.Add(tt.expiry), *resp.ExpiresAt)
			}
		})
	}
}

func TestDecide_CriticalIsPermanent(t *testing.T) {
	e, _ := newTestEngine(t, action.NewSimulated(0), Config{})

	resp := e.Decide(DecisionRequest{
		SourceIP:   "203.0.113.50",
		ThreatType: "MALWARE",
		Severity:   models.SeverityCritical,
		Confidence: 0.95,
		ThreatID:   "threat-1",
	})

	assert.Equal(t, []models.ActionType{models.ActionBlockIP, models.ActionSendAlert, models.ActionEscalate}, resp.Actions)
	assert.Nil(t, resp.ExpiresAt)
	assert.Equal(t, "threat-1", resp.ThreatID)
	assert.Equal(t, int64(1), resp.ID)
}

func TestDecide_WhitelistedSourceOnlyLogs(t *testing.T) {
	e, _ := newTestEngine(t, action.NewSimulated(0), Config{Whitelist: []string{"10.0.0.1", "192.168.0.0/16"}})

	for _, ip := range []string{"10.0.0.1", "192.168.44.2"} {
		for _, sev := range []models.Severity{models.SeverityCritical, models.SeverityHigh, models.SeverityMedium, models.SeverityLow} {
			for _, threat := range []string{"DDOS_ATTACK", "PORT_SCAN", "MALWARE"} {
				resp := e.Decide(DecisionRequest{SourceIP: ip, ThreatType: threat, Severity: sev, Confidence: 1})
				assert.Equal(t, []models.ActionType{models.ActionLogOnly}, resp.Actions, "%s %s %s", ip, sev, threat)
				assert.False(t, resp.RollbackPossible)
				assert.Nil(t, resp.ExpiresAt)
			}
		}
	}
	assert.Zero(t, e.Strikes("10.0.0.1"))
}

func TestDecide_LowConfidenceOverridesPolicy(t *testing.T) {
	e, _ := newTestEngine(t, action.NewSimulated(0), Config{})

	resp := e.Decide(request("198.51.100.7", models.SeverityCritical, 0.69))
	assert.Equal(t, []models.ActionType{models.ActionLogOnly}, resp.Actions)

	for i := 0; i < 5; i++ {
		resp = e.Decide(request("198.51.100.8", models.SeverityMedium, 0.5))
		assert.Equal(t, []models.ActionType{models.ActionLogOnly}, resp.Actions)
	}
	assert.Zero(t, e.Strikes("198.51.100.8"))
}

func TestDecide_StrikeEscalation(t *testing.T) {
	e, _ := newTestEngine(t, action.NewSimulated(0), Config{})
	ip := "198.51.100.9"

	first := e.Decide(request(ip, models.SeverityMedium, 0.8))
	assert.Equal(t, []models.ActionType{models.ActionRateLimit, models.ActionLogOnly}, first.Actions)
	assert.Equal(t, 1, e.Strikes(ip))

	e.Decide(request(ip, models.SeverityMedium, 0.8))
	assert.Equal(t, 2, e.Strikes(ip))

	third := e.Decide(request(ip, models.SeverityMedium, 0.8))
	assert.Equal(t, []models.ActionType{models.ActionBlockIP, models.ActionSendAlert}, third.Actions)
	assert.True(t, third.Escalated)
	assert.Equal(t, 0, e.Strikes(ip))

	// strikes are per source
	e.Decide(request("198.51.100.10", models.SeverityMedium, 0.8))
	assert.Equal(t, 1, e.Strikes("198.51.100.10"))
	assert.Equal(t, 0, e.Strikes(ip))
}

func TestDecide_ThreatAugmentation(t *testing.T) {
	e, _ := newTestEngine(t, action.NewSimulated(0), Config{})

	ddos := e.Decide(DecisionRequest{SourceIP: "203.0.113.1", ThreatType: "DDOS_ATTACK", Severity: models.SeverityHigh, Confidence: 0.9})
	assert.Equal(t, []models.ActionType{models.ActionBlockIP, models.ActionRateLimit, models.ActionSendAlert}, ddos.Actions)

	short := e.Decide(DecisionRequest{SourceIP: "203.0.113.1", ThreatType: "ddos", Severity: models.SeverityHigh, Confidence: 0.9})
	assert.Equal(t, ddos.Actions, short.Actions)

	scan := e.Decide(DecisionRequest{SourceIP: "203.0.113.2", ThreatType: "PORT_SCAN", Severity: models.SeverityCritical, Confidence: 0.9, Ports: []int{22, 80}})
	assert.Equal(t, []models.ActionType{models.ActionBlockIP, models.ActionClosePort, models.ActionSendAlert, models.ActionEscalate}, scan.Actions)
	assert.Equal(t, []int{22, 80}, scan.Ports)

	// nothing to attach to without BLOCK_IP
	medium := e.Decide(DecisionRequest{SourceIP: "203.0.113.3", ThreatType: "DDOS_ATTACK", Severity: models.SeverityMedium, Confidence: 0.9})
	assert.Equal(t, []models.ActionType{models.ActionRateLimit, models.ActionLogOnly}, medium.Actions)
}

func TestExecute_DryRunLeavesNoEffect(t *testing.T) {
	ex := action.NewDryRun(0)
	e, _ := newTestEngine(t, ex, Config{})
	before := ex.BlockedIPs()

	resp := e.Decide(request("203.0.113.9", models.SeverityHigh, 0.9))
	require.NoError(t, e.Execute(context.Background(), resp.ID))

	got, ok := e.Response(resp.ID)
	require.True(t, ok)
	assert.Equal(t, models.StatusSuccess, got.Status)
	assert.True(t, got.Success)
	assert.NotNil(t, got.ExecutedAt)
	assert.Equal(t, before, ex.BlockedIPs())

	history := ex.ActionHistory(0)
	require.Len(t, history, 1)
	assert.Equal(t, models.ActionBlockIP, history[0].Action)
	assert.Equal(t, "203.0.113.9", history[0].Target)
}

func TestExecute_SimulatedAppliesActions(t *testing.T) {
	ex := action.NewSimulated(0)
	alerter := new(MockAlerter)
	store := new(MockBlockStore)
	alerter.On("SendAlert", mock.Anything, mock.Anything, mock.Anything, models.SeverityHigh).Return(nil).Once()
	store.On("BlockIP", mock.Anything, "203.0.113.1", "DDOS_ATTACK (HIGH)").Return(nil).Once()

	e, _ := newTestEngine(t, ex, Config{RateLimitPPS: 25}, WithAlerter(alerter), WithStore(store))

	resp := e.Decide(DecisionRequest{SourceIP: "203.0.113.1", ThreatType: "DDOS_ATTACK", Severity: models.SeverityHigh, Confidence: 0.9})
	require.NoError(t, e.Execute(context.Background(), resp.ID))

	assert.Equal(t, []string{"203.0.113.1"}, ex.BlockedIPs())
	assert.Equal(t, map[string]int{"203.0.113.1": 25}, ex.RateLimitedIPs())
	alerter.AssertExpectations(t)
	store.AssertExpectations(t)

	stats := e.Statistics()
	assert.Equal(t, 1, stats.BlockedIPs)
	assert.Equal(t, 1, stats.RateLimits)
	assert.Equal(t, 1, stats.Executed[models.SeverityHigh])
	assert.Equal(t, 1, stats.ByStatus[models.StatusSuccess])
	assert.Equal(t, action.ModeSimulation, stats.Executor.Mode)
}

func TestExecute_EscalationAlertsCritical(t *testing.T) {
	alerter := new(MockAlerter)
	alerter.On("SendAlert", mock.Anything, mock.Anything, mock.Anything, models.SeverityCritical).Return(nil).Twice()

	e, _ := newTestEngine(t, action.NewSimulated(0), Config{}, WithAlerter(alerter))
	resp := e.Decide(request("203.0.113.1", models.SeverityCritical, 0.95))
	require.NoError(t, e.Execute(context.Background(), resp.ID))

	alerter.AssertNumberOfCalls(t, "SendAlert", 2)
	assert.Equal(t, 1, e.Statistics().Escalations)
}

func TestExecute_CollaboratorFailuresAreIgnored(t *testing.T) {
	alerter := new(MockAlerter)
	store := new(MockBlockStore)
	alerter.On("SendAlert", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(errors.New("smtp down"))
	store.On("BlockIP", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("redis down"))

	e, _ := newTestEngine(t, action.NewSimulated(0), Config{}, WithAlerter(alerter), WithStore(store))
	resp := e.Decide(request("203.0.113.1", models.SeverityHigh, 0.9))
	require.NoError(t, e.Execute(context.Background(), resp.ID))

	got, _ := e.Response(resp.ID)
	assert.Equal(t, models.StatusSuccess, got.Status)
}

func TestExecute_FailureMarksFailed(t *testing.T) {
	e, _ := newTestEngine(t, action.NewSimulated(0), Config{})

	resp := e.Decide(DecisionRequest{SourceIP: "203.0.113.2", ThreatType: "PORT_SCAN", Severity: models.SeverityHigh, Confidence: 0.9, Ports: []int{0}})
	err := e.Execute(context.Background(), resp.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExecutionFailed)
	assert.ErrorIs(t, err, action.ErrInvalidTarget)

	got, _ := e.Response(resp.ID)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.False(t, got.Success)
	assert.NotEmpty(t, got.Error)
	assert.Equal(t, 1, e.Statistics().Failed)

	// no automatic retry
	assert.ErrorIs(t, e.Execute(context.Background(), resp.ID), ErrNotPending)
}

func TestExecute_WhitelistedAtExecutionTime(t *testing.T) {
	ex := action.NewSimulated(0)
	e, _ := newTestEngine(t, ex, Config{})

	resp := e.Decide(request("10.1.2.3", models.SeverityHigh, 0.9))
	require.NoError(t, e.AddToWhitelist("10.1.0.0/16"))

	err := e.Execute(context.Background(), resp.ID)
	assert.ErrorIs(t, err, ErrWhitelisted)
	assert.Empty(t, ex.BlockedIPs())
}

func TestExecute_UnknownAndRepeated(t *testing.T) {
	e, _ := newTestEngine(t, action.NewSimulated(0), Config{})
	assert.ErrorIs(t, e.Execute(context.Background(), 42), ErrNotFound)

	resp := e.Decide(request("203.0.113.1", models.SeverityLow, 0.9))
	require.NoError(t, e.Execute(context.Background(), resp.ID))
	assert.ErrorIs(t, e.Execute(context.Background(), resp.ID), ErrNotPending)
}

func TestRollback_Codes(t *testing.T) {
	ctx := context.Background()
	ex := action.NewSimulated(0)
	e, _ := newTestEngine(t, ex, Config{})

	assert.Equal(t, ResultNotFound, e.Rollback(ctx, 99).Code)

	low := e.Decide(request("203.0.113.1", models.SeverityLow, 0.9))
	require.NoError(t, e.Execute(ctx, low.ID))
	assert.Equal(t, ResultNotRollbackEligible, e.Rollback(ctx, low.ID).Code)

	pending := e.Decide(request("203.0.113.2", models.SeverityHigh, 0.9))
	assert.Equal(t, ResultInvalidState, e.Rollback(ctx, pending.ID).Code)

	require.NoError(t, e.Execute(ctx, pending.ID))
	require.Equal(t, []string{"203.0.113.2"}, ex.BlockedIPs())

	res := e.Rollback(ctx, pending.ID)
	assert.True(t, res.OK())
	assert.Empty(t, ex.BlockedIPs())

	got, _ := e.Response(pending.ID)
	assert.Equal(t, models.StatusRolledBack, got.Status)
	assert.True(t, got.RolledBack)

	again := e.Rollback(ctx, pending.ID)
	assert.False(t, again.OK())
	assert.Equal(t, ResultAlreadyRolledBack, again.Code)

	after, _ := e.Response(pending.ID)
	assert.Equal(t, got, after)
	assert.Equal(t, 1, e.Statistics().Rollbacks)
}

func TestRollback_RemovesRateLimit(t *testing.T) {
	ctx := context.Background()
	ex := action.NewSimulated(0)
	e, _ := newTestEngine(t, ex, Config{})

	resp := e.Decide(request("203.0.113.3", models.SeverityMedium, 0.8))
	require.NoError(t, e.Execute(ctx, resp.ID))
	require.Contains(t, ex.RateLimitedIPs(), "203.0.113.3")

	require.True(t, e.Rollback(ctx, resp.ID).OK())
	assert.NotContains(t, ex.RateLimitedIPs(), "203.0.113.3")
}

func TestRollback_ExecutorErrorLeavesState(t *testing.T) {
	ctx := context.Background()
	ex := &flakyUnblock{SimulatedExecutor: action.NewSimulated(0), err: errors.New("netlink busy")}
	e, _ := newTestEngine(t, ex, Config{})

	resp := e.Decide(request("203.0.113.4", models.SeverityHigh, 0.9))
	require.NoError(t, e.Execute(ctx, resp.ID))

	res := e.Rollback(ctx, resp.ID)
	assert.Equal(t, ResultExecutorError, res.Code)
	assert.Contains(t, res.Message, "netlink busy")

	got, _ := e.Response(resp.ID)
	assert.Equal(t, models.StatusSuccess, got.Status)
	assert.False(t, got.RolledBack)

	ex.err = nil
	assert.True(t, e.Rollback(ctx, resp.ID).OK())
}

func TestRollback_FailedResponseIsEligible(t *testing.T) {
	ctx := context.Background()
	ex := action.NewSimulated(0)
	e, _ := newTestEngine(t, ex, Config{})

	resp := e.Decide(DecisionRequest{SourceIP: "203.0.113.5", ThreatType: "PORT_SCAN", Severity: models.SeverityHigh, Confidence: 0.9, Ports: []int{70000}})
	require.Error(t, e.Execute(ctx, resp.ID))
	require.Equal(t, []string{"203.0.113.5"}, ex.BlockedIPs())

	assert.True(t, e.Rollback(ctx, resp.ID).OK())
	assert.Empty(t, ex.BlockedIPs())
}

func TestProcessExpired(t *testing.T) {
	ctx := context.Background()
	ex := action.NewSimulated(0)
	e, c := newTestEngine(t, ex, Config{})

	high := e.Decide(request("203.0.113.6", models.SeverityHigh, 0.9))
	critical := e.Decide(request("203.0.113.7", models.SeverityCritical, 0.9))
	require.NoError(t, e.Execute(ctx, high.ID))
	require.NoError(t, e.Execute(ctx, critical.ID))

	c.t = c.t.Add(23 * time.Hour)
	assert.Empty(t, e.ProcessExpired(ctx))

	c.t = c.t.Add(time.Hour)
	results := e.ProcessExpired(ctx)
	require.Len(t, results, 1)
	assert.Equal(t, high.ID, results[0].ResponseID)
	assert.True(t, results[0].OK())
	assert.Equal(t, []string{"203.0.113.7"}, ex.BlockedIPs())

	assert.Empty(t, e.ProcessExpired(ctx))
}

func TestProcessExpired_KeepsBlockHeldByPermanentResponse(t *testing.T) {
	ctx := context.Background()
	ex := action.NewSimulated(0)
	e, c := newTestEngine(t, ex, Config{})

	high := e.Decide(request("203.0.113.9", models.SeverityHigh, 0.9))
	require.NoError(t, e.Execute(ctx, high.ID))

	c.t = c.t.Add(time.Hour)
	critical := e.Decide(request("203.0.113.9", models.SeverityCritical, 0.9))
	require.NoError(t, e.Execute(ctx, critical.ID))

	c.t = c.t.Add(23 * time.Hour)
	results := e.ProcessExpired(ctx)
	require.Len(t, results, 1)
	assert.Equal(t, high.ID, results[0].ResponseID)
	assert.True(t, results[0].OK())
	assert.NotEmpty(t, results[0].Message)

	got, _ := e.Response(critical.ID)
	assert.Equal(t, models.StatusSuccess, got.Status)
	assert.Nil(t, got.ExpiresAt)
	assert.Equal(t, []string{"203.0.113.9"}, ex.BlockedIPs())

	expired, _ := e.Response(high.ID)
	assert.Equal(t, models.StatusRolledBack, expired.Status)

	// the last holder lifts the block
	require.True(t, e.Rollback(ctx, critical.ID).OK())
	assert.Empty(t, ex.BlockedIPs())
}

func TestRollback_KeepsRateLimitHeldByOtherResponse(t *testing.T) {
	ctx := context.Background()
	ex := action.NewSimulated(0)
	e, _ := newTestEngine(t, ex, Config{StrikeThreshold: 5})

	first := e.Decide(request("203.0.113.10", models.SeverityMedium, 0.8))
	second := e.Decide(request("203.0.113.10", models.SeverityMedium, 0.8))
	require.NoError(t, e.Execute(ctx, first.ID))
	require.NoError(t, e.Execute(ctx, second.ID))

	require.True(t, e.Rollback(ctx, first.ID).OK())
	assert.Contains(t, ex.RateLimitedIPs(), "203.0.113.10")

	require.True(t, e.Rollback(ctx, second.ID).OK())
	assert.NotContains(t, ex.RateLimitedIPs(), "203.0.113.10")
}

func TestRollback_RemovesPersistedBlock(t *testing.T) {
	ctx := context.Background()
	store := new(MockBlockStore)
	store.On("BlockIP", mock.Anything, "203.0.113.11", mock.Anything).Return(nil)
	store.On("UnblockIP", mock.Anything, "203.0.113.11").Return(errors.New("redis down")).Once()

	ex := action.NewSimulated(0)
	e, _ := newTestEngine(t, ex, Config{}, WithStore(store))

	high := e.Decide(request("203.0.113.11", models.SeverityHigh, 0.9))
	critical := e.Decide(request("203.0.113.11", models.SeverityCritical, 0.9))
	require.NoError(t, e.Execute(ctx, high.ID))
	require.NoError(t, e.Execute(ctx, critical.ID))

	// block still held, nothing to remove from the store
	require.True(t, e.Rollback(ctx, high.ID).OK())
	store.AssertNotCalled(t, "UnblockIP", mock.Anything, mock.Anything)

	// store failures do not fail the rollback
	require.True(t, e.Rollback(ctx, critical.ID).OK())
	assert.Empty(t, ex.BlockedIPs())
	store.AssertExpectations(t)
}

func TestWhitelistManagement(t *testing.T) {
	e, _ := newTestEngine(t, action.NewSimulated(0), Config{})

	require.NoError(t, e.AddToWhitelist("10.9.8.7"))
	require.NoError(t, e.AddToWhitelist("172.16.5.9/12"))
	require.NoError(t, e.AddToWhitelist("2001:db8::1"))
	assert.ErrorIs(t, e.AddToWhitelist("10.0.0.0/99"), ErrInvalidWhitelistEntry)

	assert.Equal(t, []string{"10.9.8.7", "172.16.0.0/12", "2001:db8::1"}, e.Whitelist())
	assert.True(t, e.IsWhitelisted("172.31.255.1"))
	assert.True(t, e.IsWhitelisted("::ffff:10.9.8.7"))
	assert.False(t, e.IsWhitelisted("172.32.0.1"))
	assert.False(t, e.IsWhitelisted("garbage"))

	assert.True(t, e.RemoveFromWhitelist("10.9.8.7"))
	assert.False(t, e.RemoveFromWhitelist("10.9.8.7"))
	assert.False(t, e.IsWhitelisted("10.9.8.7"))
}

func TestResponses_NewestFirst(t *testing.T) {
	e, _ := newTestEngine(t, action.NewSimulated(0), Config{})
	for i := 0; i < 4; i++ {
		e.Decide(request("203.0.113.1", models.SeverityLow, 0.9))
	}

	got := e.Responses(2)
	require.Len(t, got, 2)
	assert.Equal(t, int64(4), got[0].ID)
	assert.Equal(t, int64(3), got[1].ID)
	assert.Len(t, e.Responses(0), 4)

	_, ok := e.Response(10)
	assert.False(t, ok)
}

func TestMetrics_Register(t *testing.T) {
	e, _ := newTestEngine(t, action.NewSimulated(0), Config{})
	reg := prometheus.NewRegistry()
	e.Metrics().Register(reg)

	e.Decide(request("203.0.113.1", models.SeverityLow, 0.9))

	families, err := reg.Gather()
	require.NoError(t, err)
	var names []string
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "sentinel_responses_total")
}
