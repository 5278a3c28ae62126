// Package coordinator drives one transaction through the dual-signature
// pipeline: build, user-sign, counter-sign, submit, confirm. It owns the
// bounded refresh-and-rebuild loop for stale freshness tokens and never
// resubmits blindly after an ambiguous network failure.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/tabsplit/settlement-engine/internal/cosigner"
	"github.com/tabsplit/settlement-engine/internal/dedup"
	"github.com/tabsplit/settlement-engine/internal/domain"
	"github.com/tabsplit/settlement-engine/internal/ledger"
	"github.com/tabsplit/settlement-engine/internal/models"
	"github.com/tabsplit/settlement-engine/internal/observability"
	"github.com/tabsplit/settlement-engine/internal/txbuilder"
)

// DedupStore is the slice of the dedup ledger the coordinator needs.
// *dedup.Ledger satisfies it.
type DedupStore interface {
	Reserve(ctx context.Context, key string) (dedup.Reservation, error)
	MarkSubmitted(ctx context.Context, key, signature string) error
	Complete(ctx context.Context, key, status string, signature, failureReason *string) error
}

// Options tunes the submission pipeline. Zero values pick sane defaults.
type Options struct {
	// Network is the deployment network declared to the co-signer.
	Network string
	// PollInterval is the delay between confirmation polls.
	PollInterval time.Duration
	// PollTimeout bounds the total confirmation wait before the outcome is
	// handed to the reconciliation worker.
	PollTimeout time.Duration
	// NetworkRetries is how many times a transient network fault is retried
	// in place before it is surfaced.
	NetworkRetries int
	// RetryBackoff is the initial backoff between network retries; it doubles
	// per retry.
	RetryBackoff time.Duration
}

func (o Options) withDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = 2 * time.Second
	}
	if o.PollTimeout <= 0 {
		o.PollTimeout = 30 * time.Second
	}
	if o.NetworkRetries <= 0 {
		o.NetworkRetries = 3
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = 500 * time.Millisecond
	}
	return o
}

// Coordinator is the dual-signature submission pipeline.
type Coordinator struct {
	builder  *txbuilder.Builder
	tokens   *ledger.Manager
	chain    ledger.Client
	cosigner cosigner.Client
	dedup    DedupStore
	opts     Options

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New wires a coordinator over its collaborators.
func New(builder *txbuilder.Builder, tokens *ledger.Manager, chain ledger.Client, cs cosigner.Client, store DedupStore, opts Options) *Coordinator {
	return &Coordinator{
		builder:  builder,
		tokens:   tokens,
		chain:    chain,
		cosigner: cs,
		dedup:    store,
		opts:     opts.withDefaults(),
		now:      time.Now,
		sleep:    sleepCtx,
	}
}

// WithClock overrides time handling. Test hook.
func (c *Coordinator) WithClock(now func() time.Time, sleep func(context.Context, time.Duration) error) *Coordinator {
	c.now = now
	c.sleep = sleep
	return c
}

// Submission is the observable result of a Submit call.
type Submission struct {
	Key       string
	Signature string
	Status    string
	// Duplicate means the request collapsed onto a previously reserved key
	// and no new transaction was built.
	Duplicate     bool
	FailureReason *string
}

// Submit runs req through the full pipeline under signer's user key.
//
// The error, when non-nil, is a domain.Fault classifying what went wrong.
// For KindSubmissionUnknown the returned Submission is still populated: the
// outcome stays PENDING with its signature recorded, and the reconciliation
// worker resolves it. Callers must never retry an unknown outcome blindly.
func (c *Coordinator) Submit(ctx context.Context, req models.TransactionRequest, signer txbuilder.Signer) (*Submission, error) {
	const op = "coordinator.Submit"

	if err := req.Context.Validate(); err != nil {
		return nil, domain.WrapFault(domain.KindInvalidRequest, op, err)
	}

	key := dedup.Key(req, c.now())
	res, err := c.dedup.Reserve(ctx, key)
	if err != nil {
		return nil, domain.WrapFault(domain.KindInternal, op, err)
	}
	if res.AlreadyExists {
		zap.L().Info("duplicate submission collapsed onto prior outcome",
			zap.String("key", key),
			zap.String("status", res.Prior.Status),
		)
		return fromOutcome(res.Prior, true), nil
	}

	sub, err := c.run(ctx, op, key, req, signer)
	if err != nil {
		zap.L().Warn("submission did not confirm",
			zap.String("key", key),
			zap.String("context", string(req.Context)),
			zap.Error(err),
		)
	}
	return sub, err
}

// run executes the bounded build/sign/submit loop for a freshly reserved key.
func (c *Coordinator) run(ctx context.Context, op, key string, req models.TransactionRequest, signer txbuilder.Signer) (*Submission, error) {
	for attemptNo := 1; attemptNo <= ledger.MaxBuildAttempts; attemptNo++ {
		a := newAttempt(key)

		tok, err := c.acquireToken(ctx, attemptNo)
		if err != nil {
			return nil, c.failTerminal(ctx, key, req, faultOf(op, err))
		}

		needsCreation, err := c.recipientNeedsAccount(ctx, req.Recipient)
		if err != nil {
			return nil, c.failTerminal(ctx, key, req, faultOf(op, err))
		}

		signedRaw, sigID, err := c.buildAndSign(ctx, a, req, tok, needsCreation, signer)
		if err != nil {
			if domain.KindOf(err) == domain.KindFreshnessExpired {
				continue
			}
			return nil, c.failTerminal(ctx, key, req, faultOf(op, err))
		}

		// Cancellation is legal until this point. Past it, the transaction
		// may reach the ledger and only reconciliation tells the truth.
		if cerr := ctx.Err(); cerr != nil {
			return nil, c.failTerminal(ctx, key, req,
				domain.NewFault(domain.KindInvalidRequest, op, "request cancelled before submission"))
		}

		if err := c.dedup.MarkSubmitted(ctx, key, sigID); err != nil {
			return nil, c.failTerminal(ctx, key, req, domain.WrapFault(domain.KindInternal, op, err))
		}

		submitErr := c.withNetworkRetry(ctx, "ledger.SubmitTransaction", func() error {
			returned, err := c.chain.SubmitTransaction(ctx, signedRaw)
			if err == nil && returned != "" && returned != sigID {
				zap.L().Warn("ledger returned unexpected signature id",
					zap.String("local", sigID), zap.String("returned", returned))
			}
			return err
		})
		switch {
		case submitErr == nil:
			// submitted
		case domain.KindOf(submitErr) == domain.KindFreshnessExpired:
			// The token died between build and submit. Rebuild under a fresh
			// one; the reserved key survives the retry.
			if terr := a.advance(StateBuilt); terr != nil {
				return nil, c.failTerminal(ctx, key, req, domain.WrapFault(domain.KindInternal, op, terr))
			}
			continue
		case domain.KindOf(submitErr) == domain.KindNetworkError:
			// The transaction may or may not have landed. Leave the outcome
			// pending with its signature and refuse to resubmit.
			return c.unknown(key, sigID, req, submitErr)
		default:
			return nil, c.failTerminal(ctx, key, req, faultOf(op, submitErr))
		}
		if err := a.advance(StateSubmitted); err != nil {
			return nil, c.failTerminal(ctx, key, req, domain.WrapFault(domain.KindInternal, op, err))
		}

		return c.awaitConfirmation(ctx, a, key, sigID, req)
	}

	return nil, c.failTerminal(ctx, key, req, ledger.ExhaustedFault(op))
}

func (c *Coordinator) acquireToken(ctx context.Context, attemptNo int) (ledger.FreshnessToken, error) {
	if attemptNo == 1 {
		return c.tokens.Acquire(ctx)
	}
	observability.IncrementFreshnessRebuild()
	return c.tokens.Refresh(ctx)
}

func (c *Coordinator) recipientNeedsAccount(ctx context.Context, recipient string) (bool, error) {
	var exists bool
	err := c.withNetworkRetry(ctx, "ledger.GetAccountInfo", func() error {
		var err error
		exists, err = c.chain.GetAccountInfo(ctx, recipient)
		return err
	})
	if err != nil {
		return false, err
	}
	return !exists, nil
}

// buildAndSign takes the attempt from BUILT through COSIGNED and returns the
// fully signed bytes plus the deterministic signature id (the user signature,
// which doubles as the ledger lookup handle).
func (c *Coordinator) buildAndSign(ctx context.Context, a *attempt, req models.TransactionRequest, tok ledger.FreshnessToken, needsCreation bool, signer txbuilder.Signer) ([]byte, string, error) {
	const op = "coordinator.buildAndSign"

	tx, err := c.builder.Build(req, txbuilder.BuildInput{
		Recent:                 tok.Value,
		CreateRecipientAccount: needsCreation,
	})
	if err != nil {
		return nil, "", err
	}

	if err := tx.Sign(signer); err != nil {
		var f *domain.Fault
		if errors.As(err, &f) {
			return nil, "", err
		}
		// An unclassified signer failure means the user key would not sign.
		return nil, "", domain.WrapFault(domain.KindUserRejectedSigning, op, err)
	}
	if err := a.advance(StateUserSigned); err != nil {
		return nil, "", domain.WrapFault(domain.KindInternal, op, err)
	}

	partial, err := tx.Serialize()
	if err != nil {
		return nil, "", domain.WrapFault(domain.KindInternal, op, err)
	}
	if err := a.advance(StateAwaitingCoSign); err != nil {
		return nil, "", domain.WrapFault(domain.KindInternal, op, err)
	}

	env := cosigner.Envelope{
		Payload:           partial,
		DeclaredAmount:    req.Amount,
		DeclaredRecipient: req.Recipient,
		DeclaredToken:     req.Token,
		DeclaredNetwork:   c.opts.Network,
	}
	var signedRaw []byte
	err = c.withNetworkRetry(ctx, "cosigner.CounterSign", func() error {
		var err error
		signedRaw, err = c.cosigner.CounterSign(ctx, env)
		return err
	})
	if err != nil {
		return nil, "", err
	}
	if err := a.advance(StateCoSigned); err != nil {
		return nil, "", domain.WrapFault(domain.KindInternal, op, err)
	}

	signed, err := txbuilder.Deserialize(signedRaw)
	if err != nil {
		return nil, "", domain.WrapFault(domain.KindInternal, op, fmt.Errorf("parse counter-signed payload: %w", err))
	}
	idx := signed.Message.SignerIndex(signer.PublicKey())
	if idx < 0 {
		return nil, "", domain.NewFault(domain.KindInternal, op, "counter-signed payload lost the user signer")
	}
	return signedRaw, signed.Signatures[idx].String(), nil
}

// awaitConfirmation polls the ledger until the transaction confirms, fails,
// or the poll window closes.
func (c *Coordinator) awaitConfirmation(ctx context.Context, a *attempt, key, sigID string, req models.TransactionRequest) (*Submission, error) {
	const op = "coordinator.awaitConfirmation"
	deadline := c.now().Add(c.opts.PollTimeout)

	for {
		status, err := c.chain.GetSignatureStatus(ctx, sigID)
		switch {
		case err != nil && domain.KindOf(err) == domain.KindNetworkError:
			zap.L().Warn("confirmation poll failed, will retry", zap.String("signature", sigID), zap.Error(err))
		case err != nil:
			// The ledger executed the transaction and reports it failed.
			if terr := a.advance(StateFailed); terr != nil {
				return nil, c.failTerminal(ctx, key, req, domain.WrapFault(domain.KindInternal, op, terr))
			}
			reason := err.Error()
			if cerr := c.dedup.Complete(ctx, key, domain.OutcomeStatusFailed, &sigID, &reason); cerr != nil {
				zap.L().Error("record ledger failure", zap.String("key", key), zap.Error(cerr))
			}
			observability.IncrementSubmission(string(req.Context), "failed")
			return &Submission{Key: key, Signature: sigID, Status: domain.OutcomeStatusFailed, FailureReason: &reason}, err
		case status == ledger.StatusConfirmed:
			if terr := a.advance(StateConfirmed); terr != nil {
				return nil, c.failTerminal(ctx, key, req, domain.WrapFault(domain.KindInternal, op, terr))
			}
			if cerr := c.dedup.Complete(ctx, key, domain.OutcomeStatusConfirmed, &sigID, nil); cerr != nil {
				// Confirmation on chain is the truth; a bookkeeping failure
				// must not fail the caller.
				zap.L().Error("record confirmation", zap.String("key", key), zap.Error(cerr))
			}
			observability.IncrementSubmission(string(req.Context), "confirmed")
			return &Submission{Key: key, Signature: sigID, Status: domain.OutcomeStatusConfirmed}, nil
		}

		if !c.now().Before(deadline) {
			return c.unknown(key, sigID, req,
				domain.NewFault(domain.KindSubmissionUnknown, op, "confirmation window elapsed"))
		}
		if err := c.sleep(ctx, c.opts.PollInterval); err != nil {
			return c.unknown(key, sigID, req, domain.WrapFault(domain.KindSubmissionUnknown, op, err))
		}
	}
}

// unknown surfaces an ambiguous outcome: the key stays PENDING with its
// signature so the reconciliation worker can settle it.
func (c *Coordinator) unknown(key, sigID string, req models.TransactionRequest, cause error) (*Submission, error) {
	observability.IncrementSubmission(string(req.Context), "unknown")
	f := cause
	if domain.KindOf(cause) != domain.KindSubmissionUnknown {
		f = domain.WrapFault(domain.KindSubmissionUnknown, "coordinator.Submit", cause)
	}
	return &Submission{Key: key, Signature: sigID, Status: domain.OutcomeStatusPending}, f
}

// failTerminal records a FAILED outcome for key and returns the fault.
func (c *Coordinator) failTerminal(ctx context.Context, key string, req models.TransactionRequest, f error) error {
	reason := f.Error()
	if err := c.dedup.Complete(ctx, key, domain.OutcomeStatusFailed, nil, &reason); err != nil {
		zap.L().Error("record terminal failure", zap.String("key", key), zap.Error(err))
	}
	observability.IncrementSubmission(string(req.Context), "failed")
	return f
}

// withNetworkRetry retries fn on transient network faults with doubling
// backoff, up to the configured bound. All other errors pass through.
func (c *Coordinator) withNetworkRetry(ctx context.Context, op string, fn func() error) error {
	backoff := c.opts.RetryBackoff
	var err error
	for i := 0; i <= c.opts.NetworkRetries; i++ {
		if i > 0 {
			if serr := c.sleep(ctx, backoff); serr != nil {
				return serr
			}
			backoff *= 2
		}
		err = fn()
		if err == nil || domain.KindOf(err) != domain.KindNetworkError {
			return err
		}
		zap.L().Warn("transient network fault",
			zap.String("op", op), zap.Int("attempt", i+1), zap.Error(err))
	}
	return err
}

func faultOf(op string, err error) error {
	var f *domain.Fault
	if errors.As(err, &f) {
		return err
	}
	return domain.WrapFault(domain.KindInternal, op, err)
}

func fromOutcome(out *models.SubmissionOutcome, duplicate bool) *Submission {
	sub := &Submission{Key: out.Key, Status: out.Status, Duplicate: duplicate, FailureReason: out.FailureReason}
	if out.Signature != nil {
		sub.Signature = *out.Signature
	}
	return sub
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
