package db

import (
	"context"
	"encoding/json"

	"github.com/metalagman/duet/internal/engine"
	"github.com/rs/zerolog/log"
)

// Recorder persists engine progress to a Store. Write failures are logged
// and never interrupt the run.
type Recorder struct {
	store *Store
}

var _ engine.Observer = (*Recorder)(nil)

// NewRecorder returns a Recorder writing to store.
func NewRecorder(store *Store) *Recorder {
	return &Recorder{store: store}
}

func (r *Recorder) OnStart(ctx context.Context, runID, request string) {
	if err := r.store.CreateRun(ctx, runID, request); err != nil {
		log.Warn().Err(err).Str("run_id", runID).Msg("record run start")
	}
}

func (r *Recorder) OnTransition(ctx context.Context, runID string, from, to engine.State) {
	data, _ := json.Marshal(map[string]string{"from": string(from), "to": string(to)})
	if err := r.store.AddEvent(ctx, runID, "transition", string(from)+" -> "+string(to), string(data)); err != nil {
		log.Warn().Err(err).Str("run_id", runID).Msg("record transition")
	}
}

func (r *Recorder) OnIteration(ctx context.Context, runID string, rec engine.IterationRecord) {
	if err := r.store.RecordIteration(ctx, runID, rec); err != nil {
		log.Warn().Err(err).Str("run_id", runID).Int("iteration", rec.Iteration).Msg("record iteration")
	}
}

func (r *Recorder) OnResult(ctx context.Context, res *engine.Result) {
	if err := r.store.FinishRun(ctx, res); err != nil {
		log.Warn().Err(err).Str("run_id", res.RunID).Msg("record result")
	}
}

func (r *Recorder) OnError(ctx context.Context, runID string, err error) {
	if werr := r.store.FailRun(ctx, runID, err); werr != nil {
		log.Warn().Err(werr).Str("run_id", runID).Msg("record failure")
	}
}
