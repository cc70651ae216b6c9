package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/corridorpay/corridor/internal/logger"
	"github.com/corridorpay/corridor/internal/models"
	"github.com/corridorpay/corridor/internal/queue"
	"github.com/corridorpay/corridor/internal/store"
)

const (
	// maxInFlight bounds concurrent payment jobs per worker process.
	maxInFlight = 5

	pollInterval    = 500 * time.Millisecond
	providerTimeout = 30 * time.Second

	// jobTimeout caps one job end to end.
	jobTimeout = 2 * time.Minute
)

// Payments is the payment persistence surface the orchestrator needs.
type Payments interface {
	Get(ctx context.Context, paymentID string) (*models.Payment, error)
	Transition(ctx context.Context, paymentID string, to models.PaymentStatus, opts *store.TransitionOpts) (*models.Payment, error)
}

// Orchestrator drives confirmed payments through the onramp and
// offramp stages. Each stage transition is durably recorded before the
// next provider call, so a crashed job resumes from its last
// checkpoint on redelivery.
type Orchestrator struct {
	payments Payments
	queue    queue.Queue
	onramp   OnrampProvider
	offramp  OfframpProvider
}

// NewOrchestrator creates a payment orchestrator
func NewOrchestrator(payments Payments, q queue.Queue, onramp OnrampProvider, offramp OfframpProvider) *Orchestrator {
	return &Orchestrator{
		payments: payments,
		queue:    q,
		onramp:   onramp,
		offramp:  offramp,
	}
}

// Run consumes payment-processing jobs until the context is cancelled.
// In-flight jobs are drained before Run returns so every claimed job
// is acknowledged.
func (o *Orchestrator) Run(ctx context.Context) error {
	sem := make(chan struct{}, maxInFlight)
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		job, err := o.queue.Dequeue(ctx, queue.KindPaymentProcessing)
		if err != nil {
			logger.Error("Payment dequeue failed", logger.Fields{"error": err.Error()})
			time.Sleep(pollInterval)
			continue
		}
		if job == nil {
			time.Sleep(pollInterval)
			continue
		}

		sem <- struct{}{}
		wg.Add(1)
		go func(job *queue.Job) {
			defer wg.Done()
			defer func() { <-sem }()

			// Detached from the run context so a claimed job finishes
			// and acks during shutdown instead of being abandoned.
			jobCtx, cancel := context.WithTimeout(context.Background(), jobTimeout)
			defer cancel()

			if err := o.Handle(jobCtx, job); err != nil {
				if ferr := o.queue.Fail(jobCtx, job, err); ferr != nil {
					logger.Error("Failed to record payment job failure", logger.Fields{"error": ferr.Error()})
				}
				return
			}
			if cerr := o.queue.Complete(jobCtx, job); cerr != nil {
				logger.Error("Failed to complete payment job", logger.Fields{"error": cerr.Error()})
			}
		}(job)
	}
}

// Handle processes one payment job from whatever stage the payment is
// currently in. Redelivered jobs for terminal payments are no-ops.
func (o *Orchestrator) Handle(ctx context.Context, job *queue.Job) error {
	var pj models.PaymentJob
	if err := json.Unmarshal(job.Payload, &pj); err != nil {
		return fmt.Errorf("failed to unmarshal payment job: %w", err)
	}

	p, err := o.payments.Get(ctx, pj.PaymentID)
	if err != nil {
		return fmt.Errorf("failed to load payment: %w", err)
	}

	logger.Info("Processing payment", logger.Fields{
		"payment_id": p.ID,
		"status":     p.Status,
		"attempt":    job.Attempts + 1,
	})

	for {
		switch p.Status {
		case models.StatusConfirmed:
			p, err = o.payments.Transition(ctx, p.ID, models.StatusOnrampPending, nil)
		case models.StatusOnrampPending:
			p, err = o.runOnramp(ctx, p)
		case models.StatusOnrampCompleted:
			p, err = o.payments.Transition(ctx, p.ID, models.StatusOfframpPending, nil)
		case models.StatusOfframpPending:
			p, err = o.runOfframp(ctx, p)
		case models.StatusOfframpCompleted:
			p, err = o.payments.Transition(ctx, p.ID, models.StatusCompleted, nil)
		case models.StatusOnrampFailed, models.StatusOfframpFailed:
			// A crash between the stage failure and the terminal write
			// leaves the payment here; finish the job on redelivery.
			p, err = o.payments.Transition(ctx, p.ID, models.StatusFailed, nil)
		default:
			logger.Info("Payment needs no processing", logger.Fields{
				"payment_id": p.ID,
				"status":     p.Status,
			})
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// runOnramp charges the user and records the outcome. A provider
// failure moves the payment to its failed stage before the error is
// surfaced to the queue.
func (o *Orchestrator) runOnramp(ctx context.Context, p *models.Payment) (*models.Payment, error) {
	chargeCtx, cancel := context.WithTimeout(ctx, providerTimeout)
	defer cancel()

	amount := p.Amount
	if p.FeeHandling == models.FeeAdditive {
		amount = p.Amount.Add(p.TotalFees)
	}

	res, err := o.onramp.Charge(chargeCtx, ChargeRequest{
		PaymentID: p.ID,
		UserID:    p.UserID,
		Amount:    amount,
		Method:    p.PaymentMethod,
		Usdc:      p.UsdcSent,
	})
	if err != nil {
		return nil, o.failStage(ctx, p, models.StatusOnrampFailed, fmt.Errorf("onramp charge failed: %w", err))
	}

	return o.payments.Transition(ctx, p.ID, models.StatusOnrampCompleted, &store.TransitionOpts{
		OnrampTxID: &res.TxID,
		Metadata:   map[string]interface{}{"usdc_received": res.UsdcReceived.String()},
	})
}

// runOfframp pays out the quoted destination amount.
func (o *Orchestrator) runOfframp(ctx context.Context, p *models.Payment) (*models.Payment, error) {
	settleCtx, cancel := context.WithTimeout(ctx, providerTimeout)
	defer cancel()

	res, err := o.offramp.Settle(settleCtx, SettleRequest{
		PaymentID: p.ID,
		Usdc:      p.UsdcSent,
		Currency:  p.DestCurrency,
		Amount:    p.DestinationAmount,
	})
	if err != nil {
		return nil, o.failStage(ctx, p, models.StatusOfframpFailed, fmt.Errorf("offramp settlement failed: %w", err))
	}

	return o.payments.Transition(ctx, p.ID, models.StatusOfframpCompleted, &store.TransitionOpts{
		OfframpTxID: &res.TxID,
		Metadata:    map[string]interface{}{"amount_paid": res.AmountPaid.String()},
	})
}

// failStage records the stage failure and the terminal FAILED status,
// then returns the provider error for the queue to count.
func (o *Orchestrator) failStage(ctx context.Context, p *models.Payment, stage models.PaymentStatus, cause error) error {
	msg := cause.Error()
	if _, err := o.payments.Transition(ctx, p.ID, stage, &store.TransitionOpts{ErrorMessage: &msg}); err != nil {
		return fmt.Errorf("failed to record stage failure: %w", err)
	}
	if _, err := o.payments.Transition(ctx, p.ID, models.StatusFailed, nil); err != nil {
		return fmt.Errorf("failed to record payment failure: %w", err)
	}

	logger.Error("Payment failed", logger.Fields{
		"payment_id": p.ID,
		"stage":      stage,
		"error":      msg,
	})
	return cause
}
