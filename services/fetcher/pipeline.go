package fetcher

import (
	"context"
	"errors"
	"log/slog"

	"resultfetch/lib/scrapers/oneview"

	"go.opentelemetry.io/otel/attribute"
)

// FetchRecord runs up to MaxAttempts fully independent attempts for one
// roll number. Every attempt re-derives its own session and captcha, a
// solved captcha can never be replayed against a stale challenge. Expected
// failure modes never escape as errors, the outcome carries them.
func (f *Fetcher) FetchRecord(ctx context.Context, rollNo string) RecordOutcome {
	ctx, span := tracer.Start(ctx, "fetcher:FetchRecord")
	defer span.End()
	span.SetAttributes(attribute.String("roll_no", rollNo))

	outcome := RecordOutcome{RollNo: rollNo}
	for attempt := 1; attempt <= f.opts.MaxAttempts; attempt++ {
		outcome.Attempts = attempt

		payload, failure, unavailable := f.attempt(ctx, rollNo, attempt)
		if payload != nil {
			outcome.Success = true
			outcome.Payload = payload
			return outcome
		}

		outcome.Failures = append(outcome.Failures, *failure)
		slog.WarnContext(
			ctx, "attempt failed",
			"roll_no", rollNo,
			"attempt", attempt,
			"classification", failure.Classification,
		)
		if unavailable {
			// the portal itself is down, retrying this identifier is
			// pointless
			outcome.ServiceUnavailable = true
			return outcome
		}
	}
	return outcome
}

func (f *Fetcher) attempt(ctx context.Context, rollNo string, attempt int) (*oneview.ResultPayload, *AttemptFailure, bool) {
	fail := func(classification, detail string) *AttemptFailure {
		return &AttemptFailure{
			RollNo:         rollNo,
			Semester:       f.opts.Semester,
			Attempt:        attempt,
			Classification: classification,
			Detail:         detail,
		}
	}

	cc, err := f.portal.EstablishChallenge(ctx)
	if errors.Is(err, oneview.ErrUnexpectedRedirect) {
		return nil, fail(FailWorkflow, err.Error()), false
	}
	if err != nil {
		return nil, fail(FailTransport, err.Error()), false
	}

	consensus, err := f.portal.SolveCaptcha(ctx, cc, f.opts.Solve)
	if err != nil {
		return nil, fail(FailTransport, err.Error()), false
	}
	if consensus.Text == "" {
		return nil, fail(FailCaptcha, "no usable ocr consensus"), false
	}

	submission, err := f.portal.SubmitResult(ctx, rollNo, f.opts.Semester, cc, consensus.Text)
	if err != nil {
		return nil, fail(FailTransport, err.Error()), false
	}

	switch submission.Class {
	case oneview.ClassSuccess:
		return submission.Payload, nil, false
	case oneview.ClassServiceUnavailable:
		return nil, fail(string(submission.Class), ""), true
	default:
		return nil, fail(string(submission.Class), ""), false
	}
}
