// Package engine runs the match lifecycle: it creates and joins
// matches, wires their symbols into the price feed, fans ticks out to
// the scoring layer, samples team scores on a fixed cadence, and
// settles the pot when the match window elapses.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"token-battles/internal/domain"
	"token-battles/internal/feed"
	"token-battles/internal/match"
	"token-battles/internal/observability"
	"token-battles/internal/scoring"
	"token-battles/internal/settlement"
	"token-battles/internal/storage"
	"token-battles/internal/symbols"
)

// Engine lifecycle errors.
var (
	ErrMatchNotJoinable  = errors.New("match is not accepting a second team")
	ErrMatchNotStartable = errors.New("match cannot start")
	ErrMatchNotActive    = errors.New("match is not in progress")
	ErrSelfPlay          = errors.New("a player cannot join their own match")
	ErrNoTokens          = errors.New("team must contain at least one token")
)

// Default cadences. All overridable via Options.
const (
	DefaultSampleInterval    = 1 * time.Second
	DefaultReadinessTimeout  = 10 * time.Second
	DefaultTickFlushSize     = 200
	DefaultTickFlushInterval = 2 * time.Second
	defaultEventBuffer       = 256
	defaultScoreBuffer       = 1024
)

// EventType identifies a match lifecycle notification.
type EventType string

// Event type constants
const (
	EventStarted   EventType = "started"
	EventCompleted EventType = "completed"
	EventCancelled EventType = "cancelled"
)

// MatchEvent is a lifecycle notification published by the engine.
// Result is set for completed events only.
type MatchEvent struct {
	MatchID string
	Type    EventType
	Result  *storage.MatchResultRecord
}

// ScoreUpdate is one sampled snapshot of both teams' scores.
type ScoreUpdate struct {
	MatchID      string
	TeamOneScore float64
	TeamTwoScore float64
	TimestampMs  int64
}

// Options configures an Engine. MatchStore, SampleStore, and Feed are
// required; everything else has a default.
type Options struct {
	MatchStore  storage.MatchStore
	SampleStore storage.ScoreSampleStore
	TickStore   storage.TickHistoryStore // optional audit trail
	Feed        feed.Source

	Policy  settlement.Policy
	Metrics *observability.Metrics
	Logger  *log.Logger

	// SampleInterval is the team-score sampling cadence.
	SampleInterval time.Duration
	// CheckInterval is how often an active match checks its clock.
	CheckInterval time.Duration
	// ReadinessTimeout bounds the wait for every symbol's first tick
	// before a match starts anyway with partial coverage.
	ReadinessTimeout time.Duration

	TickFlushSize     int
	TickFlushInterval time.Duration

	// Now returns ms epoch time; injectable for tests.
	Now func() int64
}

// Engine drives all active matches against one shared feed.
type Engine struct {
	matchStore  storage.MatchStore
	sampleStore storage.ScoreSampleStore
	feed        feed.Source
	policy      settlement.Policy
	metrics     *observability.Metrics
	logger      *log.Logger

	sampleInterval   time.Duration
	checkInterval    time.Duration
	readinessTimeout time.Duration
	now              func() int64

	tracker    *scoring.Tracker
	aggregator *scoring.Aggregator
	recorder   *tickRecorder // nil when no tick store is configured

	mu       sync.Mutex
	active   map[string]*activeMatch
	bySymbol map[string]map[string]*activeMatch

	events chan MatchEvent
	scores chan ScoreUpdate

	runCtx    context.Context
	runCancel context.CancelFunc
	wg        sync.WaitGroup
	started   bool
	closeOnce sync.Once
}

// activeMatch is the in-memory state of one IN_PROGRESS match. The id
// is fixed at claim time; match, symbols, clock, and cancel are filled
// in as StartMatch progresses.
type activeMatch struct {
	id      string
	match   *domain.Match
	symbols []string
	clock   *match.Clock
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates an engine from options. Call Start before using it.
func New(opts Options) (*Engine, error) {
	if opts.MatchStore == nil || opts.SampleStore == nil || opts.Feed == nil {
		return nil, errors.New("engine requires a match store, sample store, and feed")
	}

	policy := opts.Policy
	if len(policy.Breakpoints) == 0 && policy.DefaultK == 0 {
		policy = settlement.DefaultPolicy()
	}
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("settlement policy: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.New(os.Stdout, "[engine] ", log.LstdFlags)
	}

	e := &Engine{
		matchStore:       opts.MatchStore,
		sampleStore:      opts.SampleStore,
		feed:             opts.Feed,
		policy:           policy,
		metrics:          opts.Metrics,
		logger:           logger,
		sampleInterval:   opts.SampleInterval,
		checkInterval:    opts.CheckInterval,
		readinessTimeout: opts.ReadinessTimeout,
		now:              opts.Now,
		tracker:          scoring.NewTracker(),
		aggregator:       scoring.NewAggregator(),
		active:           make(map[string]*activeMatch),
		bySymbol:         make(map[string]map[string]*activeMatch),
		events:           make(chan MatchEvent, defaultEventBuffer),
		scores:           make(chan ScoreUpdate, defaultScoreBuffer),
	}
	if e.sampleInterval <= 0 {
		e.sampleInterval = DefaultSampleInterval
	}
	if e.checkInterval <= 0 {
		e.checkInterval = match.DefaultCheckInterval
	}
	if e.readinessTimeout <= 0 {
		e.readinessTimeout = DefaultReadinessTimeout
	}
	if e.now == nil {
		e.now = func() int64 { return time.Now().UnixMilli() }
	}

	if opts.TickStore != nil {
		e.recorder = newTickRecorder(opts.TickStore, opts.TickFlushSize, opts.TickFlushInterval, logger, opts.Metrics)
	}

	return e, nil
}

// Start launches the feed fan-out loop and the tick recorder. The
// engine stops when ctx is cancelled or Close is called.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return
	}
	e.started = true
	e.runCtx, e.runCancel = context.WithCancel(ctx)
	e.mu.Unlock()

	if e.recorder != nil {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.recorder.run(e.runCtx)
		}()
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.fanOut()
	}()
}

// Events returns the lifecycle notification stream.
func (e *Engine) Events() <-chan MatchEvent { return e.events }

// ScoreUpdates returns the sampled score stream.
func (e *Engine) ScoreUpdates() <-chan ScoreUpdate { return e.scores }

// CreateMatch opens a new PENDING match with the creator's team.
func (e *Engine) CreateMatch(ctx context.Context, playerID string, tokens []string, durationSeconds int64, potAmount float64) (*domain.Match, error) {
	if len(tokens) == 0 {
		return nil, ErrNoTokens
	}
	if durationSeconds <= 0 {
		return nil, fmt.Errorf("%w: duration must be positive", storage.ErrInvalidInput)
	}
	if potAmount < 0 {
		return nil, fmt.Errorf("%w: pot must be non-negative", storage.ErrInvalidInput)
	}

	m := &domain.Match{
		ID:     uuid.NewString(),
		Status: domain.MatchPending,
		TeamOne: &domain.Team{
			ID:       uuid.NewString(),
			PlayerID: playerID,
			Tokens:   tokens,
			Symbols:  symbols.TeamSymbols(tokens),
		},
		DurationSeconds: durationSeconds,
		PotAmount:       potAmount,
		CreatedAtMs:     e.now(),
	}

	if err := e.matchStore.Insert(ctx, m); err != nil {
		return nil, fmt.Errorf("insert match: %w", err)
	}

	if e.metrics != nil {
		e.metrics.MatchesCreated.Inc()
	}
	e.logger.Printf("match %s created by player %s (%d tokens, %ds window)",
		m.ID, playerID, len(tokens), durationSeconds)
	return m, nil
}

// JoinMatch binds the second player's team to a pending match.
func (e *Engine) JoinMatch(ctx context.Context, matchID, playerID string, tokens []string) (*domain.Match, error) {
	if len(tokens) == 0 {
		return nil, ErrNoTokens
	}

	m, err := e.matchStore.GetByID(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if m.Status != domain.MatchPending || m.TeamTwo != nil {
		return nil, ErrMatchNotJoinable
	}
	if m.TeamOne != nil && m.TeamOne.PlayerID == playerID {
		return nil, ErrSelfPlay
	}

	team := &domain.Team{
		ID:       uuid.NewString(),
		PlayerID: playerID,
		Tokens:   tokens,
		Symbols:  symbols.TeamSymbols(tokens),
	}
	if err := e.matchStore.BindTeamTwo(ctx, matchID, team); err != nil {
		return nil, fmt.Errorf("bind team two: %w", err)
	}

	m.TeamTwo = team
	e.logger.Printf("match %s joined by player %s", matchID, playerID)
	return m, nil
}

// StartMatch moves a fully-joined match into IN_PROGRESS: subscribes
// its symbols, waits (bounded) for each symbol's first tick, fixes the
// window timestamps, and launches the per-match worker. The wait is
// best-effort; symbols still silent at the deadline simply contribute
// no data until their first tick arrives.
func (e *Engine) StartMatch(ctx context.Context, matchID string) (*domain.Match, error) {
	am := &activeMatch{id: matchID, done: make(chan struct{})}

	// Claim the id in the same critical section as the duplicate check:
	// a concurrent StartMatch for the same match must fail here, never
	// race past and clobber this call's state.
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return nil, errors.New("engine is not running")
	}
	if _, dup := e.active[matchID]; dup {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: match %s already active", ErrMatchNotStartable, matchID)
	}
	e.active[matchID] = am
	e.mu.Unlock()

	m, err := e.matchStore.GetByID(ctx, matchID)
	if err != nil {
		e.releaseClaim(am)
		return nil, err
	}
	if m.Status != domain.MatchPending || m.TeamOne == nil || m.TeamTwo == nil {
		e.releaseClaim(am)
		return nil, fmt.Errorf("%w: match %s status=%s", ErrMatchNotStartable, matchID, m.Status)
	}

	syms := m.Symbols()
	if len(syms) == 0 {
		e.releaseClaim(am)
		return nil, fmt.Errorf("%w: match %s has no symbols", ErrMatchNotStartable, matchID)
	}

	// Register scoring state and the symbol routing before the first
	// subscription so no early tick is lost.
	e.tracker.Begin(matchID, syms)
	e.aggregator.Begin(matchID, []*domain.Team{m.TeamOne, m.TeamTwo})

	am.match = m
	am.symbols = syms
	e.mu.Lock()
	for _, s := range syms {
		if e.bySymbol[s] == nil {
			e.bySymbol[s] = make(map[string]*activeMatch)
		}
		e.bySymbol[s][matchID] = am
	}
	e.mu.Unlock()

	subscribed := make([]string, 0, len(syms))
	for _, s := range syms {
		if err := e.feed.Subscribe(e.runCtx, s); err != nil {
			e.unsubscribeAll(subscribed)
			e.teardown(am)
			return nil, fmt.Errorf("subscribe %s: %w", s, err)
		}
		subscribed = append(subscribed, s)
	}

	e.awaitInitialPrices(ctx, matchID, len(syms))

	startMs := e.now()
	endMs := startMs + m.DurationSeconds*1000
	if err := e.matchStore.UpdateStatus(ctx, matchID, domain.MatchInProgress, startMs, endMs); err != nil {
		e.unsubscribeAll(subscribed)
		e.teardown(am)
		return nil, fmt.Errorf("mark in progress: %w", err)
	}
	m.Status = domain.MatchInProgress
	m.StartTimestampMs = startMs
	m.EndTimestampMs = endMs

	am.clock = match.NewClock(matchID, endMs, e.checkInterval, e.now)
	workerCtx, cancel := context.WithCancel(e.runCtx)
	am.cancel = cancel

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.runMatch(workerCtx, am)
	}()

	if e.metrics != nil {
		e.metrics.MatchesStarted.Inc()
		e.metrics.ActiveMatches.Inc()
	}
	e.emit(MatchEvent{MatchID: matchID, Type: EventStarted})
	e.logger.Printf("match %s started: window [%d, %d], %d symbols, captured %d initial prices",
		matchID, startMs, endMs, len(syms), e.tracker.CapturedCount(matchID))
	return m, nil
}

// CancelMatch aborts a pending or in-progress match. In-progress state
// is torn down and the match's score samples are discarded.
func (e *Engine) CancelMatch(ctx context.Context, matchID string) error {
	m, err := e.matchStore.GetByID(ctx, matchID)
	if err != nil {
		return err
	}

	switch m.Status {
	case domain.MatchPending:
		if err := e.matchStore.UpdateStatus(ctx, matchID, domain.MatchCancelled, 0, 0); err != nil {
			return err
		}
	case domain.MatchInProgress:
		e.mu.Lock()
		am := e.active[matchID]
		e.mu.Unlock()
		if am != nil {
			if am.clock == nil {
				// StartMatch is still setting this match up.
				return fmt.Errorf("%w: match %s is starting", ErrMatchNotActive, matchID)
			}
			// Claim the completion slot so a racing clock expiry
			// observes the cancellation and stands down.
			if !am.clock.Fire() {
				return fmt.Errorf("%w: match %s is completing", ErrMatchNotActive, matchID)
			}
			am.cancel()
			<-am.done
			e.stopTracking(am)
		}
		if err := e.matchStore.UpdateStatus(ctx, matchID, domain.MatchCancelled, 0, 0); err != nil {
			return err
		}
		if err := e.sampleStore.DeleteByMatch(ctx, matchID); err != nil {
			e.logger.Printf("match %s: discarding samples after cancel: %v", matchID, err)
		}
	default:
		return &domain.ErrInvalidTransition{From: m.Status, To: domain.MatchCancelled}
	}

	if e.metrics != nil {
		e.metrics.MatchesCancelled.Inc()
	}
	e.emit(MatchEvent{MatchID: matchID, Type: EventCancelled})
	e.logger.Printf("match %s cancelled (was %s)", matchID, m.Status)
	return nil
}

// Scores returns both teams' current scores for an active match.
func (e *Engine) Scores(matchID string) (teamOne, teamTwo float64, ok bool) {
	e.mu.Lock()
	am := e.active[matchID]
	e.mu.Unlock()
	if am == nil || am.match == nil {
		return 0, 0, false
	}
	teamOne, _ = e.aggregator.TeamScore(matchID, am.match.TeamOne.ID)
	teamTwo, _ = e.aggregator.TeamScore(matchID, am.match.TeamTwo.ID)
	return teamOne, teamTwo, true
}

// Recover cancels matches left IN_PROGRESS by a previous process. Their
// initial price records are gone, so resuming would fabricate scores;
// cancellation refunds the pot instead.
func (e *Engine) Recover(ctx context.Context) error {
	dangling, err := e.matchStore.GetByStatus(ctx, domain.MatchInProgress)
	if err != nil {
		return fmt.Errorf("list in-progress matches: %w", err)
	}
	for _, m := range dangling {
		if err := e.matchStore.UpdateStatus(ctx, m.ID, domain.MatchCancelled, 0, 0); err != nil {
			return fmt.Errorf("cancel dangling match %s: %w", m.ID, err)
		}
		if err := e.sampleStore.DeleteByMatch(ctx, m.ID); err != nil {
			e.logger.Printf("match %s: discarding samples during recovery: %v", m.ID, err)
		}
		e.logger.Printf("match %s: cancelled during recovery (stale in-progress)", m.ID)
	}
	return nil
}

// Close stops all workers and closes the outbound streams.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		e.mu.Lock()
		if e.runCancel != nil {
			e.runCancel()
		}
		e.mu.Unlock()
		e.wg.Wait()
		close(e.events)
		close(e.scores)
	})
	return nil
}

// fanOut routes feed events to the scoring layer for every active
// match that tracks the tick's symbol.
func (e *Engine) fanOut() {
	for {
		select {
		case <-e.runCtx.Done():
			return
		case ev, open := <-e.feed.Events():
			if !open {
				return
			}
			switch event := ev.(type) {
			case feed.TickEvent:
				e.handleTick(event.Tick)
			case feed.ConnectedEvent:
				if e.metrics != nil {
					e.metrics.FeedConnects.Inc()
				}
			case feed.DisconnectedEvent:
				if e.metrics != nil {
					e.metrics.FeedDisconnects.Inc()
				}
				e.logger.Printf("feed: %s disconnected: %v", event.Symbol, event.Cause)
			}
		}
	}
}

func (e *Engine) handleTick(tick domain.Tick) {
	started := time.Now()

	e.mu.Lock()
	holders := make([]*activeMatch, 0, len(e.bySymbol[tick.Symbol]))
	for _, am := range e.bySymbol[tick.Symbol] {
		holders = append(holders, am)
	}
	e.mu.Unlock()

	if len(holders) == 0 {
		if e.metrics != nil {
			e.metrics.TicksDropped.Inc()
		}
		return
	}

	recordedAt := e.now()
	for _, am := range holders {
		id := am.match.ID
		if pct, ok := e.tracker.Observe(id, tick); ok {
			e.aggregator.Update(id, tick.Symbol, pct)
		}
		if e.recorder != nil {
			e.recorder.record(&domain.MatchTickRecord{
				MatchID:      id,
				Symbol:       tick.Symbol,
				Price:        tick.Price,
				TimestampMs:  tick.TimestampMs,
				RecordedAtMs: recordedAt,
			})
		}
	}

	if e.metrics != nil {
		e.metrics.TicksProcessed.Inc()
		e.metrics.TickFanoutLatency.Observe(time.Since(started).Seconds())
	}
}

// runMatch is the per-match worker: periodic sampling plus the clock
// watch, ending in settlement when the window elapses.
func (e *Engine) runMatch(ctx context.Context, am *activeMatch) {
	defer close(am.done)
	defer am.cancel()

	sampler := time.NewTicker(e.sampleInterval)
	defer sampler.Stop()

	clockDone := make(chan struct{})
	go func() {
		defer close(clockDone)
		am.clock.Run(ctx, func() { e.complete(am) })
	}()

	for {
		select {
		case <-ctx.Done():
			<-clockDone
			return
		case <-clockDone:
			return
		case <-sampler.C:
			e.sample(ctx, am)
		}
	}
}

// sample snapshots both teams' scores, persists them, and publishes a
// score update.
func (e *Engine) sample(ctx context.Context, am *activeMatch) {
	id := am.match.ID
	samples := e.aggregator.Sample(id, e.now())
	if len(samples) == 0 {
		return
	}

	if err := e.sampleStore.InsertBulk(ctx, samples); err != nil {
		e.logger.Printf("match %s: persisting score samples: %v", id, err)
	} else if e.metrics != nil {
		e.metrics.SamplesAppended.Add(float64(len(samples)))
	}

	update := ScoreUpdate{MatchID: id, TimestampMs: samples[0].TimestampMs}
	for _, s := range samples {
		switch s.TeamID {
		case am.match.TeamOne.ID:
			update.TeamOneScore = s.PercentChange
		case am.match.TeamTwo.ID:
			update.TeamTwoScore = s.PercentChange
		}
	}
	select {
	case e.scores <- update:
	default:
		// Slow consumer; the persisted series stays complete.
	}
}

// complete settles and persists the final outcome. Reached exactly once
// per match, via the clock's Fire claim.
func (e *Engine) complete(am *activeMatch) {
	id := am.match.ID
	// Worker context may already be cancelling; use a fresh deadline so
	// the terminal write always gets a chance to land.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	teamOneScore, _ := e.aggregator.TeamScore(id, am.match.TeamOne.ID)
	teamTwoScore, _ := e.aggregator.TeamScore(id, am.match.TeamTwo.ID)

	var result domain.MatchResult
	split, err := e.policy.Settle(teamOneScore, teamTwoScore, am.match.PotAmount, am.match.DurationSeconds)
	switch {
	case errors.Is(err, settlement.ErrDraw):
		result = domain.ResultDraw
		split = settlement.SplitDraw(am.match.PotAmount)
	case err != nil:
		e.logger.Printf("match %s: settlement failed: %v", id, err)
		e.stopTracking(am)
		if e.metrics != nil {
			e.metrics.ActiveMatches.Dec()
		}
		return
	case teamOneScore > teamTwoScore:
		result = domain.ResultTeamOne
	default:
		result = domain.ResultTeamTwo
	}

	record := &storage.MatchResultRecord{
		MatchID:       id,
		TeamOneScore:  teamOneScore,
		TeamTwoScore:  teamTwoScore,
		Result:        result,
		WinnerShare:   split.WinnerShare,
		LoserShare:    split.LoserShare,
		CompletedAtMs: e.now(),
	}

	if err := e.matchStore.UpdateStatus(ctx, id, domain.MatchCompleted, 0, 0); err != nil {
		// The write lost to a competing terminal transition (or the store
		// is down); either way the subscriptions and scoring state must
		// not outlive the match.
		e.logger.Printf("match %s: marking completed: %v", id, err)
		e.stopTracking(am)
		if e.metrics != nil {
			e.metrics.ActiveMatches.Dec()
		}
		return
	}
	if err := e.matchStore.SetResult(ctx, id, record); err != nil {
		e.logger.Printf("match %s: persisting result: %v", id, err)
	}

	e.stopTracking(am)

	if e.metrics != nil {
		e.metrics.ActiveMatches.Dec()
		e.metrics.MatchesCompleted.WithLabelValues(string(result)).Inc()
		e.metrics.PotSettled.Add(am.match.PotAmount)
	}
	e.emit(MatchEvent{MatchID: id, Type: EventCompleted, Result: record})
	e.logger.Printf("match %s completed: result=%s scores=(%.4f, %.4f) split=(%.2f, %.2f)",
		id, result, teamOneScore, teamTwoScore, split.WinnerShare, split.LoserShare)
}

// stopTracking removes the match from the routing tables, releases its
// feed subscriptions, and discards scoring state.
func (e *Engine) stopTracking(am *activeMatch) {
	e.teardown(am)
	e.unsubscribeAll(am.symbols)
}

// releaseClaim drops an id claim that never progressed to routing or
// scoring state.
func (e *Engine) releaseClaim(am *activeMatch) {
	e.mu.Lock()
	if e.active[am.id] == am {
		delete(e.active, am.id)
	}
	e.mu.Unlock()
}

// teardown removes am's routing entries and scoring state. Identity
// checks keep it from touching state owned by another activeMatch for
// the same id.
func (e *Engine) teardown(am *activeMatch) {
	e.mu.Lock()
	if e.active[am.id] == am {
		delete(e.active, am.id)
	}
	for _, s := range am.symbols {
		if holders := e.bySymbol[s]; holders[am.id] == am {
			delete(holders, am.id)
			if len(holders) == 0 {
				delete(e.bySymbol, s)
			}
		}
	}
	e.mu.Unlock()

	e.tracker.Discard(am.id)
	e.aggregator.Discard(am.id)
}

func (e *Engine) unsubscribeAll(syms []string) {
	for _, s := range syms {
		e.feed.Unsubscribe(s)
	}
}

// awaitInitialPrices blocks until every symbol has an initial price
// record or the readiness timeout elapses, whichever comes first.
func (e *Engine) awaitInitialPrices(ctx context.Context, matchID string, want int) {
	deadline := time.NewTimer(e.readinessTimeout)
	defer deadline.Stop()
	poll := time.NewTicker(50 * time.Millisecond)
	defer poll.Stop()

	for {
		if e.tracker.CapturedCount(matchID) >= want {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			e.logger.Printf("match %s: starting with %d/%d initial prices captured",
				matchID, e.tracker.CapturedCount(matchID), want)
			return
		case <-poll.C:
		}
	}
}

func (e *Engine) emit(ev MatchEvent) {
	select {
	case e.events <- ev:
	default:
		e.logger.Printf("match %s: dropping %s event, consumer too slow", ev.MatchID, ev.Type)
	}
}
