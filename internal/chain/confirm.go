package chain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/coldbell/solpool/internal/lottery"
	"github.com/gagliardetto/solana-go"
	"github.com/jonboulle/clockwork"
)

type Outcome int

const (
	// OutcomeNotSubmitted: nothing reached the cluster.
	OutcomeNotSubmitted Outcome = iota
	OutcomeConfirmed
	OutcomeRejected
	OutcomeUnknown
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNotSubmitted:
		return "not_submitted"
	case OutcomeConfirmed:
		return "confirmed"
	case OutcomeRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// OutcomeOf maps a submission error onto its outcome. A nil error is a
// confirmation.
func OutcomeOf(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeConfirmed
	case errors.Is(err, lottery.ErrSubmissionRejected):
		return OutcomeRejected
	default:
		return OutcomeUnknown
	}
}

type Confirmer interface {
	Confirm(ctx context.Context, sig solana.Signature) (ConfirmationStatus, error)
	GetBlockHeight(ctx context.Context) (uint64, error)
}

type ConfirmOptions struct {
	Clock        clockwork.Clock
	PollInterval time.Duration
	Timeout      time.Duration

	// LastValidBlockHeight, when set, lets the wait end early once the
	// transaction's blockhash can no longer be accepted.
	LastValidBlockHeight uint64
}

func (o *ConfirmOptions) Validate() error {
	if o.Clock == nil {
		o.Clock = clockwork.NewRealClock()
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 700 * time.Millisecond
	}
	if o.Timeout <= 0 {
		return errors.New("confirmation timeout must be greater than 0")
	}
	return nil
}

// WaitForConfirmation polls until sig is confirmed (nil), failed on chain
// (rejected) or the wait ends without a verdict (unknown). Unknown outcomes
// must not be resubmitted blindly.
func WaitForConfirmation(ctx context.Context, conn Confirmer, sig solana.Signature, opts ConfirmOptions) error {
	if err := opts.Validate(); err != nil {
		return err
	}

	deadline := opts.Clock.NewTimer(opts.Timeout)
	defer deadline.Stop()
	ticker := opts.Clock.NewTicker(opts.PollInterval)
	defer ticker.Stop()

	var lastErr error
	for {
		done, err := pollOnce(ctx, conn, sig, opts.LastValidBlockHeight)
		if done {
			return err
		}
		if err != nil {
			lastErr = err
		}

		select {
		case <-ctx.Done():
			return lottery.NewUnknownOutcomeError(sig, "stopped waiting for confirmation", errors.Join(ctx.Err(), lastErr))
		case <-deadline.Chan():
			return lottery.NewUnknownOutcomeError(sig, fmt.Sprintf("not confirmed within %s", opts.Timeout), lastErr)
		case <-ticker.Chan():
		}
	}
}

func pollOnce(ctx context.Context, conn Confirmer, sig solana.Signature, lastValid uint64) (bool, error) {
	status, err := conn.Confirm(ctx, sig)
	if err != nil {
		return false, err
	}
	if status.Failure != nil {
		subErr := lottery.NewRejectedError(sig, status.Failure.String(), nil)
		subErr.ProgramError = status.Failure.ProgramError()
		subErr.StaleFreshness = status.Failure.StaleFreshness()
		return true, subErr
	}
	if status.Confirmed {
		return true, nil
	}
	if status.Found || lastValid == 0 {
		return false, nil
	}

	height, err := conn.GetBlockHeight(ctx)
	if err != nil {
		return false, err
	}
	if height > lastValid {
		subErr := lottery.NewRejectedError(sig, fmt.Sprintf("blockhash expired at block height %d before the transaction landed", lastValid), nil)
		subErr.StaleFreshness = true
		return true, subErr
	}
	return false, nil
}
