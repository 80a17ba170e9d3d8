package engine

import "context"

// Observer receives progress events of a run. Calls are made synchronously
// from the run's goroutine with a context that is never cancelled, so an
// implementation can finish persisting after a request deadline.
type Observer interface {
	OnStart(ctx context.Context, runID, request string)
	OnTransition(ctx context.Context, runID string, from, to State)
	OnIteration(ctx context.Context, runID string, rec IterationRecord)
	OnResult(ctx context.Context, res *Result)
	OnError(ctx context.Context, runID string, err error)
}

// NopObserver ignores every event. Embed it to implement a subset.
type NopObserver struct{}

func (NopObserver) OnStart(context.Context, string, string) {}
func (NopObserver) OnTransition(context.Context, string, State, State) {}
func (NopObserver) OnIteration(context.Context, string, IterationRecord) {}
func (NopObserver) OnResult(context.Context, *Result) {}
func (NopObserver) OnError(context.Context, string, error) {}

// Observers fans events out in order.
type Observers []Observer

func (o Observers) OnStart(ctx context.Context, runID, request string) {
	for _, obs := range o {
		obs.OnStart(ctx, runID, request)
	}
}

func (o Observers) OnTransition(ctx context.Context, runID string, from, to State) {
	for _, obs := range o {
		obs.OnTransition(ctx, runID, from, to)
	}
}

func (o Observers) OnIteration(ctx context.Context, runID string, rec IterationRecord) {
	for _, obs := range o {
		obs.OnIteration(ctx, runID, rec)
	}
}

func (o Observers) OnResult(ctx context.Context, res *Result) {
	for _, obs := range o {
		obs.OnResult(ctx, res)
	}
}

func (o Observers) OnError(ctx context.Context, runID string, err error) {
	for _, obs := range o {
		obs.OnError(ctx, runID, err)
	}
}
