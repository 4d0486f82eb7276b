package fetcher

import (
	"context"

	"resultfetch/lib/ocrpool"
	"resultfetch/lib/scrapers/oneview"

	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("services/fetcher")

// Portal is the slice of the oneview client the pipeline drives. Carved
// out so tests can script the remote's behavior.
type Portal interface {
	EstablishChallenge(ctx context.Context) (oneview.ChallengeContext, error)
	SolveCaptcha(ctx context.Context, cc oneview.ChallengeContext, opts oneview.SolveOptions) (oneview.Consensus, error)
	SubmitResult(ctx context.Context, rollNo, semester string, cc oneview.ChallengeContext, captcha string) (oneview.Submission, error)
}

type ResultStore interface {
	ListCompleted(ctx context.Context) (map[string]struct{}, error)
	Read(ctx context.Context, rollNo string) (*oneview.ResultPayload, error)
	Write(ctx context.Context, rollNo string, payload *oneview.ResultPayload) error
}

type Options struct {
	Semester string
	// attempts per record, defaults to 3
	MaxAttempts int
	// concurrently running pipelines, defaults to 4
	Concurrency int
	// reprocess records that already have a persisted result
	Force bool
	Solve oneview.SolveOptions
}

func (o Options) withDefaults() Options {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 4
	}
	return o
}

// AttemptFailure records why one attempt of one record did not produce a
// result.
type AttemptFailure struct {
	RollNo         string `json:"roll_no"`
	Semester       string `json:"semester"`
	Attempt        int    `json:"attempt"`
	Classification string `json:"classification"`
	Detail         string `json:"detail,omitempty"`
}

// attempt-level failure classes on top of the submission classifications
const (
	FailTransport = "transport"
	FailWorkflow  = "workflow"
	FailCaptcha   = "captcha"
	FailPanic     = "panic"
)

// RecordOutcome is the terminal state of one roll number for one batch
// run.
type RecordOutcome struct {
	RollNo             string                 `json:"roll_no"`
	Success            bool                   `json:"success"`
	Payload            *oneview.ResultPayload `json:"payload,omitempty"`
	Failures           []AttemptFailure       `json:"failures,omitempty"`
	Attempts           int                    `json:"attempts"`
	ServiceUnavailable bool                   `json:"service_unavailable"`
	FromCache          bool                   `json:"from_cache"`
	Note               string                 `json:"note,omitempty"`
}

type Fetcher struct {
	portal Portal
	pool   *ocrpool.Pool
	store  ResultStore
	opts   Options

	// OnResult, when set, observes every outcome as it completes. Called
	// from the orchestrator's single writer, never concurrently.
	OnResult func(RecordOutcome)
}

// New builds a fetcher. `store` may be nil, completed-record skipping and
// persistence are then disabled.
func New(portal Portal, pool *ocrpool.Pool, store ResultStore, opts Options) *Fetcher {
	return &Fetcher{
		portal: portal,
		pool:   pool,
		store:  store,
		opts:   opts.withDefaults(),
	}
}
