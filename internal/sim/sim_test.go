package sim

import (
	"context"
	"math"
	"sync"
	"testing"

	"dasim/internal/common"
	"dasim/internal/config"
	"dasim/internal/engine"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Setup & Helpers --------------------------------------------------------

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Simulation.Rounds = 300
	cfg.Simulation.Seed = 99
	cfg.Simulation.RoundInterval = 0
	cfg.SFGK.ZeroIntel = 10
	cfg.SFGK.Chartists = 5
	cfg.SFGK.Lifetime = 20
	cfg.Interest.Enabled = false
	return cfg
}

func createTestSimulation(t *testing.T, cfg config.Config) *Simulation {
	t.Helper()
	s, err := New(cfg)
	require.NoError(t, err)
	return s
}

func runToEnd(t *testing.T, s *Simulation) {
	t.Helper()
	require.NoError(t, s.Run(context.Background()))
	require.True(t, s.Done())
}

type recorder struct {
	mu      sync.Mutex
	reports []RoundReport
}

func (r *recorder) OnRound(report RoundReport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, report)
}

// --- Tests ------------------------------------------------------------------

func TestSimulation_RunsAllRounds(t *testing.T) {
	cfg := testConfig()
	s := createTestSimulation(t, cfg)
	rec := &recorder{}
	s.AddObserver(rec)

	runToEnd(t, s)

	assert.Equal(t, cfg.Simulation.Rounds, s.Round())
	assert.Equal(t, cfg.Simulation.Rounds, s.History().Len())
	assert.Len(t, rec.reports, cfg.Simulation.Rounds)
	var trades, volume uint64
	for i, r := range rec.reports {
		assert.Equal(t, i, r.Round)
		assert.Equal(t, s.RunID(), r.RunID)
		for _, trade := range r.Trades {
			trades++
			volume += trade.Size
		}
	}

	_, err := s.Step()
	assert.ErrorIs(t, err, ErrDone)

	stats := s.Stats()
	assert.Equal(t, cfg.Simulation.Rounds, stats.Rounds)
	assert.GreaterOrEqual(t, stats.AverageSpread, 0.0)
	assert.Equal(t, trades, stats.Trades)
	assert.Equal(t, volume, stats.Volume)
}

func TestSimulation_SameSeedSameRun(t *testing.T) {
	a := createTestSimulation(t, testConfig())
	b := createTestSimulation(t, testConfig())
	runToEnd(t, a)
	runToEnd(t, b)

	assert.NotEqual(t, a.RunID(), b.RunID())
	assert.Equal(t, a.History().Points(0), b.History().Points(0))
	assert.Equal(t, a.Results(), b.Results())
	assert.Equal(t, a.Stats(), b.Stats())
}

func TestSimulation_Conservation(t *testing.T) {
	for _, model := range []string{config.ModelSFGK, config.ModelCI} {
		t.Run(model, func(t *testing.T) {
			cfg := testConfig()
			cfg.Simulation.Model = model
			cfg.CI.Agents = 20
			cfg.CI.Lambda = 0.9
			s := createTestSimulation(t, cfg)
			runToEnd(t, s)

			results := s.Results()
			var money float64
			var shares int64
			for _, r := range results {
				assert.GreaterOrEqual(t, r.Balance, 0.0, r.ID)
				assert.GreaterOrEqual(t, r.Position, int64(0), r.ID)
				money += r.Balance
				shares += r.Position
			}
			n := float64(len(results))
			assert.InDelta(t, n*cfg.Simulation.StartingMoney, money, 1e-6)
			assert.Equal(t, int64(len(results))*cfg.Simulation.StartingShares, shares)
		})
	}
}

func TestSimulation_SFGKRecordsMidpointBeforeSubmission(t *testing.T) {
	s := createTestSimulation(t, testConfig())
	report, err := s.Step()
	require.NoError(t, err)

	// Nothing rested before the first round.
	assert.False(t, report.Point.Defined)
	assert.True(t, math.IsNaN(s.History().Last(1)[0]))
}

func TestSimulation_CIRecordsFundamentalFirst(t *testing.T) {
	cfg := testConfig()
	cfg.Simulation.Model = config.ModelCI
	cfg.Simulation.Rounds = 10
	cfg.CI.Agents = 5
	cfg.CI.Lambda = 0
	s := createTestSimulation(t, cfg)
	assert.True(t, s.Engine().ExpirationsEnabled())

	runToEnd(t, s)

	// No trader ever enters, so the fundamental value carries forward.
	for _, p := range s.History().Points(0) {
		assert.True(t, p.Defined)
		assert.Equal(t, cfg.CI.Fundamental, p.Price)
	}
}

func TestSimulation_Interest(t *testing.T) {
	cfg := testConfig()
	cfg.Simulation.Model = config.ModelCI
	cfg.Simulation.Rounds = 3
	cfg.CI.Lambda = 0
	cfg.Interest.Enabled = true
	cfg.Interest.Period = 2
	s := createTestSimulation(t, cfg)
	runToEnd(t, s)

	user, ok := s.User("user")
	require.True(t, ok)
	assert.InDelta(t, 1000*1.03+20*1.035, user.Balance(), 1e-9)
}

func TestSimulation_UserOrders(t *testing.T) {
	s := createTestSimulation(t, testConfig())

	err := s.EnqueueUserOrder("mallory", common.Order{OrderType: common.MarketOrder, Size: 1})
	assert.ErrorIs(t, err, ErrUnknownUser)
	_, err = s.SubmitUserOrder("mallory", common.Order{OrderType: common.MarketOrder, Size: 1})
	assert.ErrorIs(t, err, ErrUnknownUser)

	// Nothing rests yet, so a market order finds no liquidity.
	report, err := s.SubmitUserOrder("user", common.Order{OrderType: common.MarketOrder, Side: common.Buy, Size: 1})
	require.NoError(t, err)
	assert.Equal(t, "user", report.Trader)
	assert.Equal(t, "user", report.Kind)
	assert.Equal(t, engine.Unfilled, report.Result.Outcome)
	assert.Equal(t, engine.InsufficientLiquidity, report.Result.Reason)

	require.NoError(t, s.EnqueueUserOrder("user", common.Order{
		OrderType: common.LimitOrder,
		Side:      common.Buy,
		Size:      2,
		Price:     1,
		Lifetime:  1000,
	}))
	report, err = s.Step()
	require.NoError(t, err)
	assert.Equal(t, "user", report.Trader)
	assert.Equal(t, "rested", report.Outcome)
	require.NotNil(t, report.Order)
	assert.Equal(t, "user", report.Order.Owner)
	assert.Equal(t, 2, s.Round())

	user, _ := s.User("user")
	assert.Equal(t, 1, user.TradesCompleted())

	// The queue is drained, so the population takes the next round.
	report, err = s.Step()
	require.NoError(t, err)
	assert.NotEqual(t, "user", report.Trader)
}

func TestSimulation_RunCancelled(t *testing.T) {
	cfg := testConfig()
	cfg.Simulation.Rounds = 1_000_000
	s := createTestSimulation(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.Run(ctx), context.Canceled)
	assert.False(t, s.Done())
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Simulation.Rounds = 0
	_, err := New(cfg)
	assert.ErrorIs(t, err, config.ErrInvalidConfig)

	cfg = testConfig()
	cfg.Simulation.Users = []string{"bob", "bob"}
	_, err = New(cfg)
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestHistory(t *testing.T) {
	h := &History{}
	assert.Nil(t, h.Last(3))
	_, ok := h.Latest()
	assert.False(t, ok)

	h.append(0, 5, false)
	h.append(1, 10, true)
	h.append(2, 11, true)

	last := h.Last(5)
	require.Len(t, last, 3)
	assert.True(t, math.IsNaN(last[0]))
	assert.Equal(t, []float64{10, 11}, last[1:])

	p, ok := h.Latest()
	require.True(t, ok)
	assert.Equal(t, PricePoint{Round: 2, Price: 11, Defined: true}, p)

	assert.Equal(t, PricePoint{Round: 0}, h.Points(0)[0])
	assert.Len(t, h.Points(2), 1)
	assert.Empty(t, h.Points(9))
}
