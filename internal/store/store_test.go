package store

import (
	"testing"
	"time"

	"dasim/internal/agent"
	"dasim/internal/common"
	"dasim/internal/config"
	"dasim/internal/sim"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_Runs(t *testing.T) {
	s := createTestStore(t)
	id := uuid.New()

	_, err := s.LoadRun(id)
	assert.ErrorIs(t, err, ErrNotFound)

	started := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.SaveRun(Run{ID: id, Model: config.ModelSFGK, Seed: 3, Rounds: 10, StartedAt: started}))

	run, err := s.LoadRun(id)
	require.NoError(t, err)
	assert.Equal(t, config.ModelSFGK, run.Model)
	assert.Equal(t, started, run.StartedAt)
	assert.Nil(t, run.FinishedAt)

	require.NoError(t, s.SaveRun(Run{ID: uuid.New(), Model: config.ModelCI}))
	runs, err := s.Runs()
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}

func TestStore_HistoryInRoundOrder(t *testing.T) {
	s := createTestStore(t)
	run, other := uuid.New(), uuid.New()

	for _, round := range []int{10, 2, 1, 100} {
		require.NoError(t, s.SavePoint(run, sim.PricePoint{Round: round, Price: float64(round), Defined: true}))
	}
	require.NoError(t, s.SavePoint(other, sim.PricePoint{Round: 5}))

	points, err := s.LoadHistory(run)
	require.NoError(t, err)
	rounds := []int{}
	for _, p := range points {
		rounds = append(rounds, p.Round)
	}
	assert.Equal(t, []int{1, 2, 10, 100}, rounds)

	empty, err := s.LoadHistory(uuid.New())
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestStore_SaveRound(t *testing.T) {
	s := createTestStore(t)
	run := uuid.New()

	trades := []common.Trade{
		{Seq: 2, Buyer: "zi-1", Seller: "zi-2", TakerSide: common.Sell, Size: 1, Price: 49.5},
		{Seq: 1, Buyer: "zi-3", Seller: "zi-2", TakerSide: common.Buy, Size: 2, Price: 50},
	}
	require.NoError(t, s.SaveRound(run, sim.PricePoint{Round: 4, Price: 50, Defined: true}, trades))
	require.NoError(t, s.SaveTrade(run, common.Trade{Seq: 11, Buyer: "user", Seller: "ch-1", Size: 1, Price: 51}))

	loaded, err := s.LoadTrades(run)
	require.NoError(t, err)
	require.Len(t, loaded, 3)
	assert.Equal(t, uint64(1), loaded[0].Seq)
	assert.Equal(t, trades[0], loaded[1])
	assert.Equal(t, uint64(11), loaded[2].Seq)

	points, err := s.LoadHistory(run)
	require.NoError(t, err)
	assert.Equal(t, []sim.PricePoint{{Round: 4, Price: 50, Defined: true}}, points)
}

func TestStore_Results(t *testing.T) {
	s := createTestStore(t)
	run := uuid.New()

	results := []agent.Result{
		{ID: "zi-2", Kind: "zero-intelligence", Balance: 900, Position: 22, Wealth: 2000},
		{ID: "ch-1", Kind: "chartist", Balance: 1100, Position: 18},
	}
	require.NoError(t, s.SaveResults(run, results))

	loaded, err := s.LoadResults(run)
	require.NoError(t, err)
	assert.Equal(t, []agent.Result{results[1], results[0]}, loaded)
}

func TestRecorder(t *testing.T) {
	s := createTestStore(t)

	cfg := config.Default()
	cfg.Simulation.Rounds = 150
	cfg.Simulation.Seed = 5
	cfg.Simulation.RoundInterval = 0
	cfg.SFGK.ZeroIntel, cfg.SFGK.Chartists = 8, 2
	simulation, err := sim.New(cfg)
	require.NoError(t, err)

	rec := NewRecorder(s)
	require.NoError(t, rec.Start(simulation))
	for !simulation.Done() {
		_, err := simulation.Step()
		require.NoError(t, err)
	}
	require.NoError(t, rec.Finish(simulation))

	run, err := s.LoadRun(simulation.RunID())
	require.NoError(t, err)
	assert.Equal(t, int64(5), run.Seed)
	require.NotNil(t, run.FinishedAt)
	assert.Equal(t, simulation.Stats(), run.Stats)

	points, err := s.LoadHistory(simulation.RunID())
	require.NoError(t, err)
	assert.Equal(t, simulation.History().Points(0), points)

	results, err := s.LoadResults(simulation.RunID())
	require.NoError(t, err)
	assert.Equal(t, simulation.Results(), results)

	trades, err := s.LoadTrades(simulation.RunID())
	require.NoError(t, err)
	for i := 1; i < len(trades); i++ {
		assert.Less(t, trades[i-1].Seq, trades[i].Seq)
	}
}
