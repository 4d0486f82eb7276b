package oneview

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/semaphore"
)

// recognitions are cpu bound, batch-level concurrency must not stack them
// no matter how many pipelines are in flight
var recognizeGate = semaphore.NewWeighted(2)

const (
	minCaptchaImageSize = 128
	minCaptchaLength    = 4
	maxCaptchaLength    = 6
)

type SolveOptions struct {
	// defaults to 7
	MaxSamples int
	// defaults to 3
	EarlyStopVotes int
	// wait between samples after the first, defaults to 500ms
	SampleDelay time.Duration
}

func (o SolveOptions) withDefaults() SolveOptions {
	if o.MaxSamples <= 0 {
		o.MaxSamples = 7
	}
	if o.EarlyStopVotes <= 0 {
		o.EarlyStopVotes = 3
	}
	if o.SampleDelay <= 0 {
		o.SampleDelay = time.Millisecond * 500
	}
	return o
}

// Consensus is the winning reading of a captcha. Text is empty when not a
// single sample survived validation and the length filter.
type Consensus struct {
	Text    string
	Votes   int
	Samples int
}

// SolveCaptcha repeatedly re-fetches the challenge image (the portal
// renders a new picture of the same answer per request) and reduces the
// noisy OCR readings by majority vote. The running leader is only
// displaced by a strictly greater vote count, so the first string to reach
// any count keeps the lead on ties.
func (c *Client) SolveCaptcha(ctx context.Context, cc ChallengeContext, opts SolveOptions) (Consensus, error) {
	ctx, span := tracer.Start(ctx, "client:SolveCaptcha")
	defer span.End()

	opts = opts.withDefaults()

	votes := map[string]int{}
	leader := ""
	leaderVotes := 0
	samples := 0

	for i := 0; i < opts.MaxSamples; i++ {
		if i > 0 {
			select {
			case <-time.After(opts.SampleDelay):
			case <-ctx.Done():
				return Consensus{}, ctx.Err()
			}
		}

		image, err := c.fetchCaptchaImage(ctx, cc)
		if err != nil {
			slog.WarnContext(ctx, "failed to fetch captcha image", "err", err)
			continue
		}
		if !looksLikeImage(image) {
			slog.WarnContext(ctx, "captcha response is not an image", "size", len(image))
			continue
		}

		raw, err := c.recognizeSample(ctx, image)
		if err != nil {
			slog.WarnContext(ctx, "captcha recognition failed", "err", err)
			continue
		}

		normalized := normalizeCaptcha(raw)
		if len(normalized) < minCaptchaLength || len(normalized) > maxCaptchaLength {
			slog.DebugContext(ctx, "discarding out-of-band captcha sample", "raw", raw, "normalized", normalized)
			continue
		}

		samples++
		votes[normalized]++
		if votes[normalized] > leaderVotes {
			leader = normalized
			leaderVotes = votes[normalized]
		}
		if leaderVotes >= opts.EarlyStopVotes {
			break
		}
	}

	span.SetAttributes(
		attribute.String("consensus", leader),
		attribute.Int("votes", leaderVotes),
		attribute.Int("samples", samples),
	)
	if leader == "" {
		span.SetStatus(codes.Error, "no usable captcha sample")
	}

	return Consensus{Text: leader, Votes: leaderVotes, Samples: samples}, nil
}

func (c *Client) fetchCaptchaImage(ctx context.Context, cc ChallengeContext) ([]byte, error) {
	res, err := c.Http.R().
		SetContext(ctx).
		SetCookie(sessionCookie(cc.Session)).
		Get(cc.CaptchaURL)
	if err != nil {
		return nil, err
	}
	return res.Body(), nil
}

// one in-process retry before the sample counts as failed
func (c *Client) recognizeSample(ctx context.Context, image []byte) (string, error) {
	err := recognizeGate.Acquire(ctx, 1)
	if err != nil {
		return "", err
	}
	defer recognizeGate.Release(1)

	text, err := c.ocr.Recognize(ctx, image)
	if err == nil {
		return text, nil
	}
	slog.DebugContext(ctx, "retrying failed recognition", "err", err)
	return c.ocr.Recognize(ctx, image)
}

var imageMagics = [][]byte{
	{0x89, 'P', 'N', 'G'},
	{0xff, 0xd8, 0xff},
	[]byte("GIF8"),
}

func looksLikeImage(data []byte) bool {
	if len(data) < minCaptchaImageSize {
		return false
	}
	for _, magic := range imageMagics {
		if bytes.HasPrefix(data, magic) {
			return true
		}
	}
	return false
}

func normalizeCaptcha(raw string) string {
	out := strings.Builder{}
	for _, r := range strings.ToUpper(raw) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			out.WriteRune(r)
		}
	}
	return out.String()
}
