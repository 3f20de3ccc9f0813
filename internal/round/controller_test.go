package round

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/indocomsoft/acquity/internal/config"
	"github.com/indocomsoft/acquity/internal/match"
	"github.com/indocomsoft/acquity/internal/models"
)

// memStore is an in-memory stand-in for the persistence layer, implementing
// OrderStore, RoundStore, BanStore and MatchStore on one struct.
type memStore struct {
	mu      sync.Mutex
	now     func() time.Time
	orders  map[uuid.UUID]*models.Order
	rounds  map[uuid.UUID]*models.Round
	banned  []models.BannedPair
	matches []models.Match

	// strays are returned by GetOrdersForRound on top of the correctly
	// stamped orders, to exercise the mismatch guard.
	strays []models.Order

	// sealElsewhere makes ConcludeRound lose the atomic update, as if another
	// process sealed the round between the read and the write.
	sealElsewhere bool
}

func newMemStore(now func() time.Time) *memStore {
	return &memStore{
		now:    now,
		orders: make(map[uuid.UUID]*models.Order),
		rounds: make(map[uuid.UUID]*models.Round),
	}
}

func (s *memStore) addOrder(userID uuid.UUID, side string, shares, price float64) *models.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	o := &models.Order{
		ID:             uuid.New(),
		UserID:         userID,
		Side:           side,
		NumberOfShares: shares,
		Price:          price,
	}
	s.orders[o.ID] = o
	return o
}

func (s *memStore) GetPendingOrders(_ context.Context, side string) ([]models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Order
	for _, o := range s.orders {
		if o.RoundID == nil && o.Side == side {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (s *memStore) GetOrdersForRound(_ context.Context, roundID uuid.UUID) ([]models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Order
	for _, o := range s.orders {
		if o.RoundID != nil && *o.RoundID == roundID {
			out = append(out, *o)
		}
	}
	return append(out, s.strays...), nil
}

func (s *memStore) AssignRound(_ context.Context, orderID, roundID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return fmt.Errorf("unknown order %s", orderID)
	}
	if o.RoundID != nil {
		return fmt.Errorf("order %s already has a round", orderID)
	}
	id := roundID
	o.RoundID = &id
	return nil
}

func (s *memStore) CreateRound(_ context.Context, endTime time.Time) (*models.Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := &models.Round{ID: uuid.New(), EndTime: endTime}
	s.rounds[r.ID] = r
	return r, nil
}

func (s *memStore) GetRound(_ context.Context, id uuid.UUID) (*models.Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := *s.rounds[id]
	return &r, nil
}

func (s *memStore) GetActiveRound(_ context.Context) (*models.Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.rounds {
		if !r.IsConcluded && !r.EndTime.Before(s.now()) {
			c := *r
			return &c, nil
		}
	}
	return nil, nil
}

func (s *memStore) GetUnconcludedRounds(_ context.Context) ([]models.Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Round
	for _, r := range s.rounds {
		if !r.IsConcluded {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (s *memStore) ConcludeRound(_ context.Context, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sealElsewhere {
		return false, nil
	}
	r := s.rounds[id]
	if r.IsConcluded {
		return false, nil
	}
	r.IsConcluded = true
	return true, nil
}

func (s *memStore) GetBannedPairs(_ context.Context) ([]models.BannedPair, error) {
	return s.banned, nil
}

func (s *memStore) CreateMatches(_ context.Context, matches []models.Match) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.matches = append(s.matches, matches...)
	return nil
}

type scheduledCall struct {
	at time.Time
	fn func()
}

type recordingScheduler struct {
	mu    sync.Mutex
	calls []scheduledCall
}

func (r *recordingScheduler) ScheduleOnce(at time.Time, fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, scheduledCall{at: at, fn: fn})
}

type recordingNotifier struct {
	opened    int
	matched   []uuid.UUID
	unmatched []uuid.UUID
}

func (n *recordingNotifier) RoundOpened(context.Context) { n.opened++ }

func (n *recordingNotifier) MatchOutcome(_ context.Context, matched, unmatched []uuid.UUID) {
	n.matched = matched
	n.unmatched = unmatched
}

type fixture struct {
	store     *memStore
	scheduler *recordingScheduler
	notifier  *recordingNotifier
	ctrl      *Controller
	now       time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		now:       time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		scheduler: &recordingScheduler{},
		notifier:  &recordingNotifier{},
	}
	f.store = newMemStore(func() time.Time { return f.now })

	cfg := &config.Config{
		SellerCountCutoff: 2,
		TotalSharesCutoff: 1000,
		RoundLength:       time.Hour,
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine := match.NewEngine(match.NewHungarianSolver(), log)
	f.ctrl = NewController(cfg, f.store, f.store, f.store, f.store, f.scheduler, f.notifier, engine, log)
	f.ctrl.now = func() time.Time { return f.now }
	return f
}

func TestAdmitSellOrderBelowThreshold(t *testing.T) {
	f := newFixture(t)
	seller := uuid.New()
	o := f.store.addOrder(seller, models.SideSell, 100, 5)

	require.NoError(t, f.ctrl.AdmitSellOrder(context.Background(), o))

	assert.Nil(t, o.RoundID)
	assert.Empty(t, f.store.rounds)
	assert.Zero(t, f.notifier.opened)
}

func TestAdmitSellOrderOpensRoundOnSellerCount(t *testing.T) {
	f := newFixture(t)
	first := f.store.addOrder(uuid.New(), models.SideSell, 100, 5)
	pendingBuy := f.store.addOrder(uuid.New(), models.SideBuy, 50, 6)
	second := f.store.addOrder(uuid.New(), models.SideSell, 100, 5)

	require.NoError(t, f.ctrl.AdmitSellOrder(context.Background(), second))

	require.Len(t, f.store.rounds, 1)
	require.NotNil(t, second.RoundID)
	roundID := *second.RoundID
	// Every pending order on both sides joins the opened round.
	assert.Equal(t, roundID, *f.store.orders[first.ID].RoundID)
	assert.Equal(t, roundID, *f.store.orders[pendingBuy.ID].RoundID)
	assert.Equal(t, 1, f.notifier.opened)

	require.Len(t, f.scheduler.calls, 1)
	assert.Equal(t, f.now.Add(time.Hour), f.scheduler.calls[0].at)
}

func TestAdmitSellOrderOpensRoundOnShareVolume(t *testing.T) {
	f := newFixture(t)
	seller := uuid.New()
	f.store.addOrder(seller, models.SideSell, 600, 5)
	o := f.store.addOrder(seller, models.SideSell, 400, 5)

	require.NoError(t, f.ctrl.AdmitSellOrder(context.Background(), o))

	assert.Len(t, f.store.rounds, 1)
	assert.NotNil(t, o.RoundID)
}

func TestAdmitBuyOrderNeverOpensRound(t *testing.T) {
	f := newFixture(t)
	f.store.addOrder(uuid.New(), models.SideBuy, 5000, 5)
	o := f.store.addOrder(uuid.New(), models.SideBuy, 5000, 5)

	require.NoError(t, f.ctrl.AdmitBuyOrder(context.Background(), o))

	assert.Nil(t, o.RoundID)
	assert.Empty(t, f.store.rounds)
}

func TestAdmitDuringActiveRound(t *testing.T) {
	f := newFixture(t)
	active, err := f.store.CreateRound(context.Background(), f.now.Add(time.Hour))
	require.NoError(t, err)

	sell := f.store.addOrder(uuid.New(), models.SideSell, 100, 5)
	buy := f.store.addOrder(uuid.New(), models.SideBuy, 100, 5)

	require.NoError(t, f.ctrl.AdmitSellOrder(context.Background(), sell))
	require.NoError(t, f.ctrl.AdmitBuyOrder(context.Background(), buy))

	require.NotNil(t, sell.RoundID)
	require.NotNil(t, buy.RoundID)
	assert.Equal(t, active.ID, *sell.RoundID)
	assert.Equal(t, active.ID, *buy.RoundID)
	// Stamping into an active round must not open another one.
	assert.Len(t, f.store.rounds, 1)
}

func TestOpenRoundPanicsWhileActive(t *testing.T) {
	f := newFixture(t)
	_, err := f.store.CreateRound(context.Background(), f.now.Add(time.Hour))
	require.NoError(t, err)

	require.Panics(t, func() {
		f.ctrl.OpenRound(context.Background())
	})
}

func TestCloseRoundIdempotent(t *testing.T) {
	f := newFixture(t)
	buyer, sellerA, sellerB := uuid.New(), uuid.New(), uuid.New()
	f.store.addOrder(sellerA, models.SideSell, 100, 5)
	f.store.addOrder(buyer, models.SideBuy, 100, 6)
	trigger := f.store.addOrder(sellerB, models.SideSell, 100, 5)

	require.NoError(t, f.ctrl.AdmitSellOrder(context.Background(), trigger))
	require.NotNil(t, trigger.RoundID)
	roundID := *trigger.RoundID

	pairs, outcome, err := f.ctrl.CloseRound(context.Background(), roundID)
	require.NoError(t, err)
	assert.Equal(t, Closed, outcome)
	require.Len(t, pairs, 1)
	assert.Len(t, f.store.matches, 1)
	assert.Equal(t, roundID, f.store.matches[0].RoundID)

	// One matched buyer and one matched seller; the other seller got nothing.
	assert.ElementsMatch(t, []uuid.UUID{buyer, f.store.orders[pairs[0].SellOrderID].UserID}, f.notifier.matched)
	assert.Len(t, f.notifier.unmatched, 1)

	pairs, outcome, err = f.ctrl.CloseRound(context.Background(), roundID)
	require.NoError(t, err)
	assert.Equal(t, AlreadyConcluded, outcome)
	assert.Nil(t, pairs)
	assert.Len(t, f.store.matches, 1, "duplicate close must not duplicate matches")
}

func TestCloseRoundLosingSealWritesNoMatches(t *testing.T) {
	f := newFixture(t)
	f.store.addOrder(uuid.New(), models.SideSell, 100, 5)
	f.store.addOrder(uuid.New(), models.SideBuy, 100, 6)
	trigger := f.store.addOrder(uuid.New(), models.SideSell, 100, 5)
	require.NoError(t, f.ctrl.AdmitSellOrder(context.Background(), trigger))
	require.NotNil(t, trigger.RoundID)

	f.store.sealElsewhere = true

	pairs, outcome, err := f.ctrl.CloseRound(context.Background(), *trigger.RoundID)
	require.NoError(t, err)
	assert.Equal(t, AlreadyConcluded, outcome)
	assert.Nil(t, pairs)
	assert.Empty(t, f.store.matches, "a losing closer must not write match rows")
}

func TestScheduledCallbackClosesRound(t *testing.T) {
	f := newFixture(t)
	f.store.addOrder(uuid.New(), models.SideSell, 100, 5)
	trigger := f.store.addOrder(uuid.New(), models.SideSell, 100, 5)
	require.NoError(t, f.ctrl.AdmitSellOrder(context.Background(), trigger))

	require.Len(t, f.scheduler.calls, 1)
	f.now = f.scheduler.calls[0].at
	f.scheduler.calls[0].fn()

	assert.True(t, f.store.rounds[*trigger.RoundID].IsConcluded)
}

func TestCloseRoundSkipsMismatchedOrders(t *testing.T) {
	f := newFixture(t)
	buyer := uuid.New()
	f.store.addOrder(uuid.New(), models.SideSell, 100, 5)
	trigger := f.store.addOrder(uuid.New(), models.SideSell, 100, 5)
	require.NoError(t, f.ctrl.AdmitSellOrder(context.Background(), trigger))
	require.NotNil(t, trigger.RoundID)
	roundID := *trigger.RoundID

	otherRound := uuid.New()
	f.store.strays = []models.Order{{
		ID:             uuid.New(),
		UserID:         buyer,
		Side:           models.SideBuy,
		NumberOfShares: 100,
		Price:          9,
		RoundID:        &otherRound,
	}}

	pairs, outcome, err := f.ctrl.CloseRound(context.Background(), roundID)
	require.NoError(t, err)
	assert.Equal(t, Closed, outcome)
	// The stray buy order carried another round's stamp, so nothing matched.
	assert.Empty(t, pairs)
}

func TestRearm(t *testing.T) {
	f := newFixture(t)
	expired, err := f.store.CreateRound(context.Background(), f.now.Add(-2*time.Hour))
	require.NoError(t, err)
	upcoming, err := f.store.CreateRound(context.Background(), f.now.Add(time.Hour))
	require.NoError(t, err)
	concluded, err := f.store.CreateRound(context.Background(), f.now.Add(time.Hour))
	require.NoError(t, err)
	_, err = f.store.ConcludeRound(context.Background(), concluded.ID)
	require.NoError(t, err)

	require.NoError(t, f.ctrl.Rearm(context.Background()))

	require.Len(t, f.scheduler.calls, 2)
	ats := []time.Time{f.scheduler.calls[0].at, f.scheduler.calls[1].at}
	// The expired round is rescheduled for now, the upcoming one at its end.
	assert.ElementsMatch(t, []time.Time{f.now, upcoming.EndTime}, ats)

	for _, c := range f.scheduler.calls {
		c.fn()
	}
	assert.True(t, f.store.rounds[expired.ID].IsConcluded)
	assert.True(t, f.store.rounds[upcoming.ID].IsConcluded)
}
