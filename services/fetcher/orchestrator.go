package fetcher

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"resultfetch/lib/scrapers/oneview"

	"golang.org/x/sync/errgroup"
)

// Run fetches every roll number with at most Concurrency pipelines in
// flight. The ocr pool is initialized once up front and torn down once at
// the end, pipelines never manage its lifecycle. One record's failure
// never aborts its siblings.
func (f *Fetcher) Run(ctx context.Context, rollNos []string) ([]RecordOutcome, error) {
	err := f.pool.Initialize(ctx)
	if err != nil {
		// nothing can run without ocr capacity
		return nil, err
	}
	defer func() {
		err := f.pool.Shutdown()
		if err != nil {
			slog.WarnContext(ctx, "failed to shut down ocr pool", "err", err)
		}
	}()

	completed := map[string]struct{}{}
	if f.store != nil && !f.opts.Force {
		completed, err = f.store.ListCompleted(ctx)
		if err != nil {
			return nil, err
		}
	}

	var outcomes []RecordOutcome
	emitMu := sync.Mutex{}
	emit := func(outcome RecordOutcome) {
		emitMu.Lock()
		defer emitMu.Unlock()

		if outcome.Success && !outcome.FromCache && f.store != nil {
			err := f.store.Write(ctx, outcome.RollNo, outcome.Payload)
			if err != nil {
				slog.WarnContext(ctx, "failed to persist result", "roll_no", outcome.RollNo, "err", err)
			}
		}
		outcomes = append(outcomes, outcome)
		if f.OnResult != nil {
			f.OnResult(outcome)
		}
	}

	var pending []string
	for _, rollNo := range rollNos {
		if _, done := completed[rollNo]; !done {
			pending = append(pending, rollNo)
			continue
		}

		outcome := RecordOutcome{
			RollNo:    rollNo,
			Success:   true,
			FromCache: true,
			Note:      "loaded from cache",
		}
		payload, err := f.store.Read(ctx, rollNo)
		if err != nil {
			slog.WarnContext(ctx, "completed record is unreadable, refetching", "roll_no", rollNo, "err", err)
			pending = append(pending, rollNo)
			continue
		}
		outcome.Payload = payload
		emit(outcome)
	}

	var unavailable atomic.Bool

	// records whose pipeline blew up are re-queued, but only from this
	// coordinating loop, never from inside a worker
	requeued := map[string]int{}
	for len(pending) > 0 {
		var panicked []string
		panickedMu := sync.Mutex{}

		eg, gctx := errgroup.WithContext(ctx)
		eg.SetLimit(f.opts.Concurrency)

		for _, rollNo := range pending {
			rollNo := rollNo
			eg.Go(func() error {
				defer func() {
					r := recover()
					if r == nil {
						return
					}
					slog.ErrorContext(gctx, "pipeline panicked", "roll_no", rollNo, "panic", r)
					panickedMu.Lock()
					panicked = append(panicked, rollNo)
					panickedMu.Unlock()
				}()

				// checked at start of slot so records admitted after
				// the outage was observed never touch the portal
				if unavailable.Load() {
					emit(RecordOutcome{
						RollNo:             rollNo,
						ServiceUnavailable: true,
						Failures: []AttemptFailure{{
							RollNo:         rollNo,
							Semester:       f.opts.Semester,
							Classification: string(oneview.ClassServiceUnavailable),
							Detail:         "skipped: portal reported unavailable",
						}},
					})
					return nil
				}

				outcome := f.FetchRecord(gctx, rollNo)
				if outcome.ServiceUnavailable {
					unavailable.Store(true)
				}
				emit(outcome)
				return nil
			})
		}
		eg.Wait()

		pending = pending[:0]
		for _, rollNo := range panicked {
			requeued[rollNo]++
			if requeued[rollNo] >= f.opts.MaxAttempts {
				emit(RecordOutcome{
					RollNo:   rollNo,
					Attempts: requeued[rollNo],
					Failures: []AttemptFailure{{
						RollNo:         rollNo,
						Semester:       f.opts.Semester,
						Classification: FailPanic,
						Detail:         "pipeline panicked on every attempt",
					}},
				})
				continue
			}
			pending = append(pending, rollNo)
		}
	}

	return outcomes, nil
}
