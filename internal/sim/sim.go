package sim

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"dasim/internal/agent"
	"dasim/internal/common"
	"dasim/internal/config"
	"dasim/internal/engine"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrDone        = errors.New("simulation finished")
	ErrUnknownUser = errors.New("unknown user")
)

// Observer is told about every round after it completes. Observers run on
// the driver's goroutine and must not call back into the simulation's
// mutating methods.
type Observer interface {
	OnRound(report RoundReport)
}

// RoundReport describes one round: who acted, what they sent, how the book
// answered and the price recorded for the round.
type RoundReport struct {
	RunID   uuid.UUID      `json:"run_id"`
	Round   int            `json:"round"`
	Trader  string         `json:"trader,omitempty"`
	Kind    string         `json:"kind,omitempty"`
	Order   *common.Order  `json:"order,omitempty"`
	Outcome string         `json:"outcome,omitempty"`
	Reason  string         `json:"reason,omitempty"`
	Filled  uint64         `json:"filled"`
	Trades  []common.Trade `json:"trades,omitempty"`
	Point   PricePoint     `json:"point"`
	Quote   engine.Quote   `json:"quote"`
	Expired int            `json:"expired"`

	Result engine.Result `json:"-"`
}

// Stats are per-round averages over the rounds played so far. Rounds with
// an undefined spread or an empty side contribute zero.
type Stats struct {
	Rounds        int     `json:"rounds"`
	AverageSpread float64 `json:"average_spread"`
	AverageBids   float64 `json:"average_bids"`
	AverageAsks   float64 `json:"average_asks"`
	Trades        uint64  `json:"trades"`
	Volume        uint64  `json:"volume"`
}

// tape tallies every trade the engine reports.
type tape struct {
	trades atomic.Uint64
	volume atomic.Uint64
	logger zerolog.Logger
}

func (t *tape) ReportTrade(trade common.Trade) error {
	t.trades.Add(1)
	t.volume.Add(trade.Size)
	t.logger.Trace().
		Uint64("seq", trade.Seq).
		Str("buyer", trade.Buyer).
		Str("seller", trade.Seller).
		Uint64("size", trade.Size).
		Float64("price", trade.Price).
		Msg("trade")
	return nil
}

// Simulation drives one run: each round a trader is drawn from the
// population (or a user with a queued order goes first), the book clears
// expired orders and the trader's instruction is placed.
type Simulation struct {
	runID  uuid.UUID
	cfg    config.Config
	seed   int64
	engine *engine.Engine
	tape   *tape

	population *agent.Population
	users      map[string]*agent.Trader
	userOrder  []string
	history    *History
	rng        *rand.Rand
	logger     zerolog.Logger

	mu        sync.Mutex
	round     int
	spreadSum float64
	bidsSum   float64
	asksSum   float64
	observers []Observer
}

// New builds a run from cfg. A zero seed is replaced by one taken from the
// clock; the seed in use is reported by Seed.
func New(cfg config.Config) (*Simulation, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	seed := cfg.Simulation.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	master := rand.New(rand.NewSource(seed))
	derive := func() *rand.Rand { return rand.New(rand.NewSource(master.Int63())) }

	runID := uuid.New()
	logger := log.With().Str("run", runID.String()).Logger()

	opts := []engine.Option{engine.WithLogger(logger.With().Str("component", "book").Logger())}
	// Chiarella-Iori traders always quote with a lifetime.
	if cfg.Book.Expirations || cfg.Simulation.Model == config.ModelCI {
		opts = append(opts, engine.WithExpiration(nil))
	}
	if cfg.Book.SelfTradePrevention {
		opts = append(opts, engine.WithSelfTradePrevention())
	}
	if cfg.Book.SkipPolicy == "discard" {
		opts = append(opts, engine.WithSkipPolicy(engine.DiscardSkipped))
	}

	s := &Simulation{
		runID:      runID,
		cfg:        cfg,
		seed:       seed,
		engine:     engine.New(opts...),
		tape:       &tape{logger: logger},
		population: agent.NewPopulation(derive()),
		users:      make(map[string]*agent.Trader),
		history:    &History{},
		rng:        derive(),
		logger:     logger,
	}

	s.engine.SetReporter(s.tape)

	money, shares := cfg.Simulation.StartingMoney, cfg.Simulation.StartingShares
	switch cfg.Simulation.Model {
	case config.ModelSFGK:
		p := cfg.SFGK
		zi := agent.RandomTrader{
			LimitProb:        p.LimitProb,
			SellProb:         p.SellProb,
			Interval:         p.Interval,
			Lifetime:         p.Lifetime,
			FundamentalPrice: p.FundamentalPrice,
		}
		for i := 1; i <= p.ZeroIntel; i++ {
			s.population.Add(agent.NewTrader(fmt.Sprintf("zi-%d", i), money, shares, zi, derive()))
		}
		chartist := agent.TrendTrader{RandomTrader: zi, Lookback: p.History, Contrarian: p.Contrarian}
		for i := 1; i <= p.Chartists; i++ {
			s.population.Add(agent.NewTrader(fmt.Sprintf("ch-%d", i), money, shares, chartist, derive()))
		}
	case config.ModelCI:
		p := cfg.CI
		for i := 1; i <= p.Agents; i++ {
			// Trader weights are drawn from the master source so the
			// population is fixed by the seed alone.
			v := agent.ValueTrader{
				Value:       p.Fundamental,
				Lifetime:    p.Tau,
				FundWeight:  math.Abs(master.NormFloat64() * p.FundStd),
				ChartWeight: master.NormFloat64() * p.ChartStd,
				NoiseWeight: master.NormFloat64() * p.NoiseStd,
				Lookback:    master.Intn(p.MaxLookback) + 1,
				Fraction:    master.Float64() * p.MaxFraction,
				Tick:        p.Tick,
			}
			s.population.Add(agent.NewTrader(fmt.Sprintf("ci-%d", i), money, shares, v, derive()))
		}
	}

	for _, name := range cfg.Simulation.Users {
		if _, dup := s.users[name]; dup {
			return nil, fmt.Errorf("%w: duplicate user %q", config.ErrInvalidConfig, name)
		}
		s.users[name] = agent.NewTrader(name, money, shares, &agent.Remote{}, derive())
		s.userOrder = append(s.userOrder, name)
	}
	sort.Strings(s.userOrder)

	s.logger.Info().
		Str("model", cfg.Simulation.Model).
		Int64("seed", seed).
		Int("traders", s.population.Len()).
		Int("users", len(s.users)).
		Bool("expirations", s.engine.ExpirationsEnabled()).
		Msg("simulation created")
	return s, nil
}

func (s *Simulation) RunID() uuid.UUID { return s.runID }
func (s *Simulation) Seed() int64 { return s.seed }
func (s *Simulation) Model() string { return s.cfg.Simulation.Model }
func (s *Simulation) Rounds() int { return s.cfg.Simulation.Rounds }
func (s *Simulation) Engine() *engine.Engine { return s.engine }
func (s *Simulation) History() *History { return s.history }

// AddObserver registers o for every subsequent round.
func (s *Simulation) AddObserver(o Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, o)
}

// Round is the number of rounds played.
func (s *Simulation) Round() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.round
}

func (s *Simulation) Done() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done()
}

func (s *Simulation) done() bool {
	return s.round >= s.cfg.Simulation.Rounds
}

// User returns the account of a remote user.
func (s *Simulation) User(name string) (*agent.Trader, bool) {
	t, ok := s.users[name]
	return t, ok
}

// EnqueueUserOrder queues order for a remote user. Queued orders take
// precedence over the population on the next rounds, one per round.
func (s *Simulation) EnqueueUserOrder(user string, order common.Order) error {
	t, ok := s.users[user]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownUser, user)
	}
	order.Owner = user
	t.Strategy().(*agent.Remote).Enqueue(order)
	return nil
}

// Step plays one round. A user with a queued order takes the round;
// otherwise a trader is drawn from the population.
func (s *Simulation) Step() (RoundReport, error) {
	s.mu.Lock()
	if s.done() {
		s.mu.Unlock()
		return RoundReport{}, ErrDone
	}

	var trader *agent.Trader
	for _, name := range s.userOrder {
		if u := s.users[name]; u.Strategy().(*agent.Remote).Pending() > 0 {
			trader = u
			break
		}
	}
	if trader == nil {
		var err error
		if trader, err = s.population.Random(); err != nil {
			s.mu.Unlock()
			return RoundReport{}, err
		}
	}

	report := s.play(trader, nil)
	observers := s.observers
	s.mu.Unlock()

	s.notify(observers, report)
	return report, nil
}

// SubmitUserOrder places order for user right away. It acts as its own
// round, ahead of anything queued.
func (s *Simulation) SubmitUserOrder(user string, order common.Order) (RoundReport, error) {
	t, ok := s.users[user]
	if !ok {
		return RoundReport{}, fmt.Errorf("%w: %s", ErrUnknownUser, user)
	}
	order.Owner = user

	s.mu.Lock()
	if s.done() {
		s.mu.Unlock()
		return RoundReport{}, ErrDone
	}
	report := s.play(t, &order)
	observers := s.observers
	s.mu.Unlock()

	s.notify(observers, report)
	return report, nil
}

// play runs one round for trader. A non-nil order overrides the trader's
// own decision. Must hold s.mu.
func (s *Simulation) play(trader *agent.Trader, order *common.Order) RoundReport {
	round := s.round
	report := RoundReport{
		RunID:  s.runID,
		Round:  round,
		Trader: trader.ID(),
		Kind:   trader.Kind().String(),
	}

	if in := s.cfg.Interest; in.Enabled && round > 1 && round%in.Period == 0 {
		s.applyInterest(in.Rate, in.Dividend)
	}

	switch s.cfg.Simulation.Model {
	case config.ModelCI:
		// Chiarella-Iori: traders enter with probability lambda and the
		// round's price is taken after the submission.
		if order != nil || s.rng.Float64() < s.cfg.CI.Lambda {
			s.submit(trader, order, &report)
		}
		report.Point = s.recordTradePrice(round, report.Trades)
		s.accumulate()
		report.Expired = s.engine.ClearExpired(round)
	default:
		// SFGK: the midpoint is recorded before anyone acts.
		mid, ok := s.engine.Midpoint()
		report.Point = s.history.append(round, mid, ok)
		s.accumulate()
		report.Expired = s.engine.ClearExpired(round)
		s.submit(trader, order, &report)
	}

	report.Quote = s.engine.Quote()
	s.round++

	s.logger.Trace().
		Int("round", round).
		Str("trader", report.Trader).
		Str("outcome", report.Outcome).
		Uint64("filled", report.Filled).
		Int("expired", report.Expired).
		Msg("round")
	return report
}

func (s *Simulation) submit(trader *agent.Trader, order *common.Order, report *RoundReport) {
	var instr common.Order
	if order != nil {
		instr = *order
	} else {
		var ok bool
		if instr, ok = trader.Decide(s.round, s.engine, s.history); !ok {
			return
		}
	}

	result := s.engine.PlaceOrder(instr, s.round+instr.Lifetime, trader)
	trader.Record(result.OK())

	report.Order = &instr
	report.Outcome = result.Outcome.String()
	report.Reason = result.Reason.String()
	report.Filled = result.Filled
	report.Trades = result.Trades
	report.Result = result
}

// recordTradePrice appends the round's price for the Chiarella-Iori model:
// the last trade of the round, else the midpoint, else the previous price.
// The very first round records the fundamental value.
func (s *Simulation) recordTradePrice(round int, trades []common.Trade) PricePoint {
	if s.history.Len() == 0 {
		return s.history.append(round, s.cfg.CI.Fundamental, true)
	}
	if len(trades) > 0 {
		return s.history.append(round, trades[len(trades)-1].Price, true)
	}
	if mid, ok := s.engine.Midpoint(); ok && mid > 0 {
		return s.history.append(round, mid, true)
	}
	prev, _ := s.history.Latest()
	return s.history.append(round, prev.Price, prev.Defined)
}

func (s *Simulation) accumulate() {
	q := s.engine.Quote()
	if q.Spread != nil && *q.Spread > 0 {
		s.spreadSum += *q.Spread
	}
	s.bidsSum += float64(q.BidDepth)
	s.asksSum += float64(q.AskDepth)
}

func (s *Simulation) applyInterest(rate, dividend float64) {
	s.population.ApplyInterest(rate, dividend)
	for _, u := range s.users {
		u.ApplyInterest(rate, dividend)
	}
	s.logger.Debug().Int("round", s.round).Msg("paid interest and dividends")
}

func (s *Simulation) notify(observers []Observer, report RoundReport) {
	for _, o := range observers {
		o.OnRound(report)
	}
}

// Run plays rounds until the run is finished or ctx is cancelled, pausing
// RoundInterval between rounds.
func (s *Simulation) Run(ctx context.Context) error {
	var tick <-chan time.Time
	if d := s.cfg.Simulation.RoundInterval; d > 0 {
		ticker := time.NewTicker(d)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := s.Step(); err != nil {
			if errors.Is(err, ErrDone) {
				stats := s.Stats()
				s.logger.Info().
					Int("rounds", stats.Rounds).
					Float64("avg_spread", stats.AverageSpread).
					Float64("avg_bids", stats.AverageBids).
					Float64("avg_asks", stats.AverageAsks).
					Msg("simulation finished")
				return nil
			}
			return err
		}
		if tick != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-tick:
			}
		}
	}
}

func (s *Simulation) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Stats{
		Rounds: s.round,
		Trades: s.tape.trades.Load(),
		Volume: s.tape.volume.Load(),
	}
	if s.round > 0 {
		n := float64(s.round)
		st.AverageSpread = s.spreadSum / n
		st.AverageBids = s.bidsSum / n
		st.AverageAsks = s.asksSum / n
	}
	return st
}

// FinalPrice values holdings: the midpoint, else the last trade price.
func (s *Simulation) FinalPrice() float64 {
	if mid, ok := s.engine.Midpoint(); ok {
		return mid
	}
	return s.engine.Quote().LastPrice
}

// Results returns every trader's standing, users included, sorted by id.
func (s *Simulation) Results() []agent.Result {
	price := s.FinalPrice()
	traders := s.population.Traders()
	for _, u := range s.users {
		traders = append(traders, u)
	}
	out := make([]agent.Result, 0, len(traders))
	for _, t := range traders {
		out = append(out, t.Result(price))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
