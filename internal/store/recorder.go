package store

import (
	"time"

	"dasim/internal/sim"

	"github.com/rs/zerolog/log"
)

// Recorder persists every round of a simulation as it is played.
type Recorder struct {
	store *Store
}

func NewRecorder(store *Store) *Recorder {
	return &Recorder{store: store}
}

// Start stores the run's metadata and subscribes to its rounds.
func (r *Recorder) Start(s *sim.Simulation) error {
	err := r.store.SaveRun(Run{
		ID:        s.RunID(),
		Model:     s.Model(),
		Seed:      s.Seed(),
		Rounds:    s.Rounds(),
		StartedAt: time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	s.AddObserver(r)
	return nil
}

func (r *Recorder) OnRound(report sim.RoundReport) {
	if err := r.store.SaveRound(report.RunID, report.Point, report.Trades); err != nil {
		log.Error().Err(err).Int("round", report.Round).Msg("unable to record round")
	}
}

// Finish stores the final standings and stats of s.
func (r *Recorder) Finish(s *sim.Simulation) error {
	run, err := r.store.LoadRun(s.RunID())
	if err != nil {
		return err
	}
	if err := r.store.SaveResults(s.RunID(), s.Results()); err != nil {
		return err
	}

	now := time.Now().UTC()
	run.FinishedAt = &now
	run.Stats = s.Stats()
	return r.store.SaveRun(*run)
}
