// Package dispatch drives card generation end to end: it admits the job
// through the concurrency gate, rotates credentials across attempts, and
// falls back from the image-edit endpoint to plain generation before
// giving up.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"rizo-card-bot/internal/domain/card"
	"rizo-card-bot/internal/domain/credential"
	"rizo-card-bot/internal/domain/gate"
	"rizo-card-bot/internal/platform/errors"
	"rizo-card-bot/internal/platform/logging"
)

const (
	EndpointEdit     = "edit"
	EndpointGenerate = "generate"
)

// Upstream is the image model client. One call carries the credential it
// should authenticate with, so the dispatcher can rotate keys between
// attempts without rebuilding clients.
type Upstream interface {
	EditImage(ctx context.Context, cred credential.Credential, meme []byte, prompt string, size card.Size) ([]byte, error)
	GenerateImage(ctx context.Context, cred credential.Credential, prompt string, size card.Size) ([]byte, error)
}

// Options configures a Dispatcher.
type Options struct {
	Pool     *credential.Pool
	Gate     *gate.Gate
	Upstream Upstream
	Logger   *logging.Logger
	Size     card.Size

	// MaxAttempts caps the retry loop; 0 means one attempt per pooled
	// credential.
	MaxAttempts int

	// CallTimeout bounds each upstream call; 0 disables the per-call
	// deadline.
	CallTimeout time.Duration

	// Sleep is injectable for tests; defaults to a context-aware wait.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Dispatcher owns the retry loop for card generation.
type Dispatcher struct {
	pool        *credential.Pool
	gate        *gate.Gate
	upstream    Upstream
	logger      *logging.Logger
	size        card.Size
	maxAttempts int
	callTimeout time.Duration
	sleep       func(ctx context.Context, d time.Duration) error
}

// New builds a dispatcher from options. Pool, Gate, and Upstream are
// required.
func New(opts Options) (*Dispatcher, error) {
	if opts.Pool == nil || opts.Gate == nil || opts.Upstream == nil {
		return nil, errors.New(errors.KindBootstrap, "dispatch.New",
			"pool, gate, and upstream are required")
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = opts.Pool.Size()
	}
	sleep := opts.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.DefaultLogger
	}
	return &Dispatcher{
		pool:        opts.Pool,
		gate:        opts.Gate,
		upstream:    opts.Upstream,
		logger:      logger,
		size:        opts.Size,
		maxAttempts: maxAttempts,
		callTimeout: opts.CallTimeout,
		sleep:       sleep,
	}, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// backoff grows linearly with the attempt index so transient upstream
// pressure has time to clear before the next credential is tried.
func backoff(attempt int) time.Duration {
	return time.Second + time.Duration(attempt)*2*time.Second
}

// Generate runs one card job. It blocks on the gate until a slot frees
// or ctx is cancelled, then walks the credential pool: each attempt
// tries the edit endpoint first and falls back to generate with the
// same credential. The returned result carries the full attempt trail
// even on success.
func (d *Dispatcher) Generate(ctx context.Context, req card.Request) (*card.Result, error) {
	if err := d.gate.Acquire(ctx); err != nil {
		return nil, errors.Wrap(errors.KindAdmission, "dispatch.Generate",
			"waiting for a generation slot", err)
	}
	defer d.gate.Release()

	tried := make(map[credential.Credential]struct{}, d.maxAttempts)
	var attempts []card.Attempt
	var lastErr error

	for attempt := 0; attempt < d.maxAttempts; attempt++ {
		cred := d.pool.Next(tried)
		tried[cred] = struct{}{}

		png, trail, err := d.attempt(ctx, cred, attempt+1, req)
		attempts = append(attempts, trail...)
		if err == nil {
			return &card.Result{PNG: png, Attempts: attempts}, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			break
		}
		if attempt < d.maxAttempts-1 {
			wait := backoff(attempt)
			d.logger.WarnTag("dispatch", "attempt %d failed, retrying in %s: %v",
				attempt+1, wait, err)
			if serr := d.sleep(ctx, wait); serr != nil {
				break
			}
		}
	}

	return nil, errors.Wrap(errors.KindUpstream, "dispatch.Generate",
		fmt.Sprintf("all %d attempts failed for request %s", len(attempts), req.RequestID),
		lastErr)
}

// attempt runs edit then generate with a single credential, returning
// the trail entries it produced.
func (d *Dispatcher) attempt(ctx context.Context, cred credential.Credential, number int, req card.Request) ([]byte, []card.Attempt, error) {
	callCtx := ctx
	cancel := func() {}
	if d.callTimeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, d.callTimeout)
	}
	defer cancel()

	d.logger.InfoTag("dispatch", "attempt %d: calling image edit for request %s",
		number, req.RequestID)
	png, editErr := d.upstream.EditImage(callCtx, cred, req.Meme, card.EditPrompt(), d.size)
	if editErr == nil {
		return png, []card.Attempt{{
			Number:     number,
			Credential: cred.Redacted(),
			Endpoint:   EndpointEdit,
		}}, nil
	}

	trail := []card.Attempt{{
		Number:     number,
		Credential: cred.Redacted(),
		Endpoint:   EndpointEdit,
		Err:        editErr.Error(),
	}}

	d.logger.WarnTag("dispatch", "image edit failed for request %s, falling back to generate: %v",
		req.RequestID, editErr)
	png, genErr := d.upstream.GenerateImage(callCtx, cred, card.GeneratePrompt(), d.size)
	if genErr == nil {
		trail = append(trail, card.Attempt{
			Number:     number,
			Credential: cred.Redacted(),
			Endpoint:   EndpointGenerate,
		})
		return png, trail, nil
	}

	trail = append(trail, card.Attempt{
		Number:     number,
		Credential: cred.Redacted(),
		Endpoint:   EndpointGenerate,
		Err:        genErr.Error(),
	})
	return nil, trail, genErr
}
