package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/transfa/loan-accrual-service/internal/accrual"
	"github.com/transfa/loan-accrual-service/internal/domain"
	"github.com/transfa/loan-accrual-service/internal/store"
)

const week = 7 * 24 * time.Hour

func TestEngineStart_NewLoanIsPersistedImmediately(t *testing.T) {
	ctx := context.Background()
	h := newHarness(store.NewMemoryRepository())
	engine := h.engine(loanTerms("loan-1", "1000", "5", "4 weeks"))

	require.NoError(t, engine.Start(ctx))

	stored, err := h.repo.Load(ctx, "loan-1")
	require.NoError(t, err)
	assert.Equal(t, testStart, stored.StartTime)
	assert.True(t, stored.CurrentAmount.Equal(decimal.NewFromInt(1000)))
	assert.False(t, stored.Completed)
	assert.Equal(t, "4w 0d 0h", engine.Snapshot().Countdown)
	assert.Equal(t, domain.StatusRunning, engine.Snapshot().Status)
}

func TestEngineTick_WeeklyLoanResumedAfterThreeWeeks(t *testing.T) {
	ctx := context.Background()
	h := newHarness(store.NewMemoryRepository())
	terms := loanTerms("loan-1", "1000", "5", "1 week")

	require.NoError(t, h.engine(terms).Start(ctx))

	h.restart()
	engine := h.engine(terms)
	require.NoError(t, engine.Start(ctx))
	done := engine.Tick(ctx, testStart.Add(3*week))

	assert.True(t, done)
	state := engine.State()
	assert.Equal(t, "1150.00", accrual.FormatAmount(state.CurrentAmount))
	assert.True(t, state.Completed)
	require.NotNil(t, state.CompletedAt)
	assert.Equal(t, testStart.Add(3*week), *state.CompletedAt)

	events := h.sink.Events()
	require.Len(t, events, 2)
	assert.Equal(t, domain.EventAmountIncrease, events[0].Kind)
	assert.Equal(t, "1000.00", events[0].OldAmount.StringFixed(2))
	assert.Equal(t, "1150.00", events[0].NewAmount.StringFixed(2))
	assert.Equal(t, "1 week", events[0].Period)
	assert.Equal(t, domain.EventRepaymentCompleted, events[1].Kind)
	assert.Equal(t, "1150.00", events[1].FinalAmount.StringFixed(2))
}

func TestEngine_ResumptionMatchesContinuousRun(t *testing.T) {
	ctx := context.Background()
	terms := loanTerms("loan-1", "500", "2", "10 days")
	total := 7*24*time.Hour + 12*time.Hour
	step := time.Hour

	continuous := newHarness(store.NewMemoryRepository())
	engine := continuous.engine(terms)
	require.NoError(t, engine.Start(ctx))
	for elapsed := step; elapsed <= total; elapsed += step {
		engine.Tick(ctx, testStart.Add(elapsed))
	}
	continuousAmount := engine.State().CurrentAmount

	resumed := newHarness(store.NewMemoryRepository())
	first := resumed.engine(terms)
	require.NoError(t, first.Start(ctx))
	for elapsed := step; elapsed <= total/2; elapsed += step {
		first.Tick(ctx, testStart.Add(elapsed))
	}

	resumed.restart()
	resumed.clock.Set(testStart.Add(total / 2))
	second := resumed.engine(terms)
	require.NoError(t, second.Start(ctx))
	for elapsed := total/2 + step; elapsed <= total; elapsed += step {
		second.Tick(ctx, testStart.Add(elapsed))
	}
	resumedAmount := second.State().CurrentAmount

	want := accrual.Accrue(terms.Principal, terms.RatePerPeriod, int64(total/(24*time.Hour)))
	assert.True(t, continuousAmount.Equal(want), "continuous %s, want %s", continuousAmount, want)
	assert.True(t, resumedAmount.Equal(want), "resumed %s, want %s", resumedAmount, want)
	assert.Equal(t, testStart, second.State().StartTime)

	assert.Equal(t, 7, continuous.sink.count(domain.EventAmountIncrease))
	assert.Equal(t, 7, resumed.sink.count(domain.EventAmountIncrease))
}

func TestEngine_CompletionIsOneWay(t *testing.T) {
	ctx := context.Background()
	h := newHarness(store.NewMemoryRepository())
	terms := loanTerms("loan-1", "100", "10", "2 days")
	engine := h.engine(terms)
	require.NoError(t, engine.Start(ctx))

	require.True(t, engine.Tick(ctx, testStart.Add(48*time.Hour)))
	completed := engine.State()

	for i := 1; i <= 3; i++ {
		assert.True(t, engine.Tick(ctx, testStart.Add(time.Duration(48+24*i)*time.Hour)))
	}
	after := engine.State()
	assert.True(t, completed.CurrentAmount.Equal(after.CurrentAmount))
	assert.Equal(t, *completed.CompletedAt, *after.CompletedAt)
	assert.Equal(t, 1, h.sink.count(domain.EventRepaymentCompleted))

	h.restart()
	reloaded := h.engine(terms)
	require.NoError(t, reloaded.Start(ctx))
	assert.True(t, reloaded.Done())
	assert.Equal(t, domain.CountdownCompleted, reloaded.Snapshot().Countdown)
	assert.Equal(t, domain.StatusCompleted, reloaded.Snapshot().Status)
	assert.Equal(t, 1, h.sink.count(domain.EventRepaymentCompleted))

	stored, err := h.repo.Load(ctx, "loan-1")
	require.NoError(t, err)
	assert.Equal(t, "120.00", accrual.FormatAmount(stored.CurrentAmount))
}

func TestEngine_NotifiesOncePerDistinctAmount(t *testing.T) {
	ctx := context.Background()
	h := newHarness(store.NewMemoryRepository())
	engine := h.engine(loanTerms("loan-1", "100", "10", "5 days"))
	require.NoError(t, engine.Start(ctx))

	for _, offset := range []time.Duration{0, 12 * time.Hour, 24 * time.Hour, 36 * time.Hour, 48 * time.Hour} {
		engine.Tick(ctx, testStart.Add(offset))
	}

	events := h.sink.Events()
	require.Len(t, events, 2)
	assert.Equal(t, "110.00", events[0].NewAmount.StringFixed(2))
	assert.Equal(t, "110.00", events[1].OldAmount.StringFixed(2))
	assert.Equal(t, "120.00", events[1].NewAmount.StringFixed(2))
	assert.True(t, engine.State().LastNotifiedAmount.Equal(decimal.NewFromInt(120)))
}

func TestEngine_ZeroRateNeverNotifiesIncrease(t *testing.T) {
	ctx := context.Background()
	h := newHarness(store.NewMemoryRepository())
	engine := h.engine(loanTerms("loan-1", "250", "0", "3 days"))
	require.NoError(t, engine.Start(ctx))

	engine.Tick(ctx, testStart.Add(24*time.Hour))
	engine.Tick(ctx, testStart.Add(72*time.Hour))

	assert.Equal(t, 0, h.sink.count(domain.EventAmountIncrease))
	assert.Equal(t, 1, h.sink.count(domain.EventRepaymentCompleted))
	assert.Equal(t, "250.00", accrual.FormatAmount(engine.State().CurrentAmount))
}

func TestEngine_SaveFailureIsRetriedOnNextTick(t *testing.T) {
	ctx := context.Background()
	repo := &flakyRepo{StateRepository: store.NewMemoryRepository(), failSaves: 2}
	h := newHarness(repo)
	engine := h.engine(loanTerms("loan-1", "1000", "1", "3 days"))

	require.NoError(t, engine.Start(ctx))
	_, err := repo.Load(ctx, "loan-1")
	require.True(t, errors.Is(err, store.ErrStateNotFound), "initial write should have failed")

	engine.Tick(ctx, testStart.Add(25*time.Hour))
	_, err = repo.Load(ctx, "loan-1")
	require.True(t, errors.Is(err, store.ErrStateNotFound), "second write should have failed")
	assert.Equal(t, "1010.00", accrual.FormatAmount(engine.State().CurrentAmount))

	engine.Tick(ctx, testStart.Add(26*time.Hour))
	stored, err := repo.Load(ctx, "loan-1")
	require.NoError(t, err)
	assert.Equal(t, "1010.00", accrual.FormatAmount(stored.CurrentAmount))
	assert.Equal(t, testStart, stored.StartTime)
}

func TestEngine_CompletionWaitsForFinalWrite(t *testing.T) {
	ctx := context.Background()
	repo := &flakyRepo{StateRepository: store.NewMemoryRepository()}
	h := newHarness(repo)
	engine := h.engine(loanTerms("loan-1", "1000", "1", "1 day"))
	require.NoError(t, engine.Start(ctx))

	repo.failSaves = 1
	assert.False(t, engine.Tick(ctx, testStart.Add(24*time.Hour)), "loop must keep running until the final state is stored")
	assert.True(t, engine.State().Completed)
	assert.Equal(t, 1, h.sink.count(domain.EventRepaymentCompleted))

	assert.True(t, engine.Tick(ctx, testStart.Add(25*time.Hour)))
	stored, err := repo.Load(ctx, "loan-1")
	require.NoError(t, err)
	assert.True(t, stored.Completed)
	assert.Equal(t, "1010.00", accrual.FormatAmount(stored.CurrentAmount))
	assert.Equal(t, 1, h.sink.count(domain.EventRepaymentCompleted))
}

func TestEngine_MalformedPeriodCompletesImmediately(t *testing.T) {
	ctx := context.Background()
	h := newHarness(store.NewMemoryRepository())
	engine := h.engine(loanTerms("loan-1", "300", "5", "soon"))
	require.NoError(t, engine.Start(ctx))

	assert.True(t, engine.Tick(ctx, testStart))
	snapshot := engine.Snapshot()
	assert.Equal(t, domain.CountdownCompleted, snapshot.Countdown)
	assert.Equal(t, "300.00", snapshot.CurrentAmount)
	assert.Equal(t, 0, h.sink.count(domain.EventAmountIncrease))
	assert.Equal(t, 1, h.sink.count(domain.EventRepaymentCompleted))
}

func TestEngineStart_LoadErrorReinitializes(t *testing.T) {
	ctx := context.Background()
	memory := store.NewMemoryRepository()
	older := domain.NewAccrualState(loanTerms("loan-1", "1000", "5", "4 weeks"), testStart.Add(-week))
	require.NoError(t, memory.Save(ctx, older))

	repo := &flakyRepo{StateRepository: memory, loadErr: errors.New("i/o timeout")}
	h := newHarness(repo)
	engine := h.engine(loanTerms("loan-1", "1000", "5", "4 weeks"))

	require.NoError(t, engine.Start(ctx))
	assert.Equal(t, testStart, engine.State().StartTime)
}

func TestEngineStart_RejectsInvalidTerms(t *testing.T) {
	h := newHarness(store.NewMemoryRepository())
	engine := h.engine(loanTerms("loan-1", "-5", "5", "1 week"))

	err := engine.Start(context.Background())
	assert.True(t, errors.Is(err, ErrCannotInitialize))
	assert.True(t, errors.Is(err, domain.ErrNegativePrincipal))
}

func TestEngineRun_StopsWhenContextIsCancelled(t *testing.T) {
	h := newHarness(store.NewMemoryRepository())
	engine := NewEngine(loanTerms("loan-1", "1000", "5", "1 year"), h.repo, h.dispatcher, h.clock, discardLogger(), nil,
		EngineConfig{TickInterval: 5 * time.Millisecond})
	require.NoError(t, engine.Start(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	finished := make(chan struct{})
	go func() {
		engine.Run(ctx)
		close(finished)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("engine did not stop after cancellation")
	}
	assert.False(t, engine.State().Completed)
}

func TestEngineRun_ReturnsOnceCompleted(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	h := newHarness(store.NewMemoryRepository())
	h.dispatcher = NewDispatcher(h.sink, discardLogger(), metrics)
	engine := NewEngine(loanTerms("loan-1", "10", "50", "2 seconds"), h.repo, h.dispatcher, h.clock, discardLogger(), metrics,
		EngineConfig{TickInterval: time.Millisecond})
	require.NoError(t, engine.Start(context.Background()))

	h.clock.Set(testStart.Add(5 * time.Second))
	finished := make(chan struct{})
	go func() {
		engine.Run(context.Background())
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("engine kept ticking after completion")
	}
	assert.Equal(t, "35.00", engine.Snapshot().CurrentAmount)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.completions))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.notifications.WithLabelValues("repayment_completed", "sent")))
}

func TestEngineTick_PublishesAndSavesBeforeNotifying(t *testing.T) {
	ctx := context.Background()
	repo := store.NewMemoryRepository()

	var engine *Engine
	var storedAtSend, shownAtSend string
	sink := callbackSink{onSend: func(event domain.NotificationEvent) {
		if event.Kind != domain.EventAmountIncrease {
			return
		}
		stored, err := repo.Load(ctx, "loan-1")
		if err == nil {
			storedAtSend = accrual.FormatAmount(stored.CurrentAmount)
		}
		shownAtSend = engine.Snapshot().CurrentAmount
	}}

	engine = NewEngine(loanTerms("loan-1", "1000", "5", "4 weeks"), repo,
		NewDispatcher(sink, discardLogger(), nil), newFakeClock(testStart), discardLogger(), nil, EngineConfig{})
	require.NoError(t, engine.Start(ctx))

	engine.Tick(ctx, testStart.Add(week+time.Hour))

	assert.Equal(t, "1050.00", storedAtSend)
	assert.Equal(t, "1050.00", shownAtSend)
}

func TestEngineTick_SlowSinkDoesNotHoldBackTick(t *testing.T) {
	ctx := context.Background()
	repo := store.NewMemoryRepository()
	sink := newBlockingSink()
	dispatcher := NewDispatcher(sink, discardLogger(), nil, WithAsyncDelivery(8))
	engine := NewEngine(loanTerms("loan-1", "1000", "5", "4 weeks"), repo, dispatcher,
		newFakeClock(testStart), discardLogger(), nil, EngineConfig{})
	require.NoError(t, engine.Start(ctx))

	done := make(chan struct{})
	go func() {
		engine.Tick(ctx, testStart.Add(week+time.Hour))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("tick blocked on the notification sink")
	}

	snapshot := engine.Snapshot()
	assert.Equal(t, "1050.00", snapshot.CurrentAmount)
	assert.Equal(t, "2w 6d 23h", snapshot.Countdown)

	stored, err := repo.Load(ctx, "loan-1")
	require.NoError(t, err)
	assert.True(t, stored.CurrentAmount.Equal(decimal.NewFromInt(1050)))
	assert.Empty(t, sink.Events())

	close(sink.release)
	dispatcher.Close()
	assert.Equal(t, 1, sink.count(domain.EventAmountIncrease))
}
