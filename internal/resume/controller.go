// Package resume runs a checkout attempt from tokenization through any chain
// of required actions to a single terminal outcome.
package resume

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/marlonbarreto-git/nimbus-checkout/internal/config"
	"github.com/marlonbarreto-git/nimbus-checkout/internal/failure"
	"github.com/marlonbarreto-git/nimbus-checkout/internal/model"
)

// ErrAttemptInProgress is returned by Start and Reset while an attempt is running.
var ErrAttemptInProgress = errors.New("resume: attempt in progress")

// ErrNoCompletion is returned by Start when no completion is supplied.
var ErrNoCompletion = errors.New("resume: completion is required")

// State is the position of the controller in an attempt.
type State string

const (
	StateIdle                   State = "idle"
	StateTokenizing             State = "tokenizing"
	StateCreatingPayment        State = "creating_payment"
	StateAwaitingRequiredAction State = "awaiting_required_action"
	StateResuming               State = "resuming"
	StateSucceeded              State = "succeeded"
	StateFailed                 State = "failed"
	StateCancelled              State = "cancelled"
)

// IsTerminal returns true once an attempt has an outcome.
func (s State) IsTerminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateCancelled
}

// Tokenizer exchanges an instrument for a payment method token.
type Tokenizer interface {
	Tokenize(ctx context.Context, instrument model.PaymentInstrument) (*model.PaymentMethodToken, error)
}

// Payments creates and resumes payments.
type Payments interface {
	CreatePayment(ctx context.Context, session *model.SessionToken, paymentMethodToken string) (*model.Payment, error)
	ResumePayment(ctx context.Context, session *model.SessionToken, paymentID, resumeToken string) (*model.Payment, error)
}

// TokenStore holds the session token used for network calls.
type TokenStore interface {
	Set(raw string) (*model.SessionToken, error)
	Current() (*model.SessionToken, uint64, error)
}

// ActionHandler completes one kind of required action and returns the resume token.
type ActionHandler interface {
	Handle(ctx context.Context, req model.ActionRequest) (string, error)
}

// ActionHandlerFunc adapts a function to ActionHandler.
type ActionHandlerFunc func(ctx context.Context, req model.ActionRequest) (string, error)

func (f ActionHandlerFunc) Handle(ctx context.Context, req model.ActionRequest) (string, error) {
	return f(ctx, req)
}

// Completion receives the terminal outcome. Exactly one argument is non-nil.
type Completion func(outcome *model.PaymentOutcome, err error)

// Dispatcher runs fn on the host's UI loop.
type Dispatcher func(fn func())

// Options tunes a Controller. Zero values use the defaults in config.
type Options struct {
	MaxResumeHops int
	Dispatcher    Dispatcher
	Logger        *slog.Logger
}

// Controller owns one attempt at a time.
type Controller struct {
	tokenizer Tokenizer
	payments  Payments
	tokens    TokenStore
	handlers  map[model.ActionName]ActionHandler
	maxHops   int
	dispatch  Dispatcher
	logger    *slog.Logger
	journal   *Journal

	mu         sync.Mutex
	state      State
	attemptID  string
	startedAt  time.Time
	cancelFn   context.CancelFunc
	completion Completion
	done       chan struct{}
}

// New creates an idle controller.
func New(tokenizer Tokenizer, payments Payments, tokens TokenStore, opts Options) *Controller {
	if opts.MaxResumeHops <= 0 {
		opts.MaxResumeHops = config.MaxResumeHops
	}
	if opts.Dispatcher == nil {
		opts.Dispatcher = func(fn func()) { fn() }
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Controller{
		tokenizer: tokenizer,
		payments:  payments,
		tokens:    tokens,
		handlers:  make(map[model.ActionName]ActionHandler),
		maxHops:   opts.MaxResumeHops,
		dispatch:  opts.Dispatcher,
		logger:    opts.Logger,
		journal:   NewJournal(),
		state:     StateIdle,
	}
}

// Register installs the handler for a required action name.
func (c *Controller) Register(name model.ActionName, h ActionHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[name] = h
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Journal returns the record of finished attempts.
func (c *Controller) Journal() *Journal { return c.journal }

// Start begins an attempt and returns its id. It fails synchronously unless
// the controller is idle. completion is called exactly once.
func (c *Controller) Start(ctx context.Context, instrument model.PaymentInstrument, completion Completion) (string, error) {
	if completion == nil {
		return "", ErrNoCompletion
	}

	c.mu.Lock()
	if c.state != StateIdle {
		state := c.state
		c.mu.Unlock()
		c.logger.Warn("attempt_rejected", "state", state)
		return "", ErrAttemptInProgress
	}
	attemptCtx, cancel := context.WithCancel(ctx)
	c.attemptID = uuid.NewString()
	c.startedAt = time.Now()
	c.state = StateTokenizing
	c.cancelFn = cancel
	c.completion = completion
	c.done = make(chan struct{})
	attemptID := c.attemptID
	c.mu.Unlock()

	var instrumentType model.InstrumentType
	if instrument != nil {
		instrumentType = instrument.InstrumentType()
	}
	c.logger.Info("attempt_started", "attempt_id", attemptID, "instrument_type", instrumentType)
	c.logger.Debug("state_transition", "attempt_id", attemptID, "from", StateIdle, "to", StateTokenizing)

	go c.run(attemptCtx, attemptID, instrument)
	return attemptID, nil
}

// Run starts an attempt and blocks until its outcome.
func (c *Controller) Run(ctx context.Context, instrument model.PaymentInstrument) (*model.PaymentOutcome, error) {
	type result struct {
		outcome *model.PaymentOutcome
		err     error
	}
	ch := make(chan result, 1)
	if _, err := c.Start(ctx, instrument, func(o *model.PaymentOutcome, err error) {
		ch <- result{o, err}
	}); err != nil {
		return nil, err
	}
	r := <-ch
	return r.outcome, r.err
}

// Cancel moves a running attempt to cancelled at once and tears down any
// in-flight step. The completion fires after that step has released its
// resources. It returns false when there is nothing to cancel.
func (c *Controller) Cancel() bool {
	c.mu.Lock()
	if c.state == StateIdle || c.state.IsTerminal() {
		c.mu.Unlock()
		return false
	}
	from := c.state
	c.state = StateCancelled
	cancel := c.cancelFn
	attemptID := c.attemptID
	c.mu.Unlock()

	c.logger.Info("attempt_cancel_requested", "attempt_id", attemptID, "from", from)
	cancel()
	return true
}

// Wait blocks until the current attempt is terminal and its resources are released.
func (c *Controller) Wait() {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Reset returns a finished controller to idle so the caller can retry from
// instrument collection.
func (c *Controller) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.state == StateIdle:
		return nil
	case !c.state.IsTerminal():
		return ErrAttemptInProgress
	}
	select {
	case <-c.done:
	default:
		return ErrAttemptInProgress
	}
	c.state = StateIdle
	c.attemptID = ""
	c.completion = nil
	return nil
}

func (c *Controller) run(ctx context.Context, attemptID string, instrument model.PaymentInstrument) {
	pm, err := c.tokenizer.Tokenize(ctx, instrument)
	if err != nil {
		c.finish(ctx, attemptID, nil, err)
		return
	}
	if !c.transition(attemptID, StateTokenizing, StateCreatingPayment) {
		c.finish(ctx, attemptID, nil, nil)
		return
	}

	session, _, err := c.tokens.Current()
	if err != nil {
		c.finish(ctx, attemptID, nil, err)
		return
	}
	payment, err := c.payments.CreatePayment(ctx, session, pm.Token)
	if err != nil {
		c.finish(ctx, attemptID, nil, fmt.Errorf("create payment: %w", err))
		return
	}

	from := StateCreatingPayment
	for hop := 0; ; hop++ {
		c.logger.Info("payment_received",
			"attempt_id", attemptID,
			"payment_id", payment.ID,
			"status", payment.Status,
			"hop", hop,
		)

		if payment.Status.IsFailure() {
			c.finish(ctx, attemptID, nil, &failure.Error{
				Kind:    failure.PaymentFailed,
				Op:      string(from),
				Message: fmt.Sprintf("payment %s ended with status %s", payment.ID, payment.Status),
				Err:     failureReason(payment),
			})
			return
		}
		if payment.RequiredAction == nil {
			c.finish(ctx, attemptID, &model.PaymentOutcome{
				AttemptID:      attemptID,
				PaymentID:      payment.ID,
				OrderID:        payment.OrderID,
				Status:         payment.Status,
				InstrumentType: pm.PaymentInstrumentType,
				ResumeHops:     hop,
			}, nil)
			return
		}

		action := *payment.RequiredAction
		c.logger.Info("required_action_received",
			"attempt_id", attemptID,
			"payment_id", payment.ID,
			"action", action.Name,
			"hop", hop+1,
		)
		if hop+1 > c.maxHops {
			c.finish(ctx, attemptID, nil, failure.New(failure.ResumeChainTooLong, "resume",
				fmt.Sprintf("more than %d required actions in one attempt", c.maxHops)))
			return
		}

		c.mu.Lock()
		handler, ok := c.handlers[action.Name]
		c.mu.Unlock()
		if !ok {
			c.finish(ctx, attemptID, nil, failure.New(failure.UnsupportedRequiredAction, "resume",
				fmt.Sprintf("unsupported required action %q", action.Name)))
			return
		}

		if !c.transition(attemptID, from, StateAwaitingRequiredAction) {
			c.finish(ctx, attemptID, nil, nil)
			return
		}

		// Every call after this point uses the action's token.
		actionSession, err := c.tokens.Set(action.ClientToken)
		if err != nil {
			c.finish(ctx, attemptID, nil, err)
			return
		}

		resumeToken, err := handler.Handle(ctx, model.ActionRequest{
			AttemptID:     attemptID,
			Payment:       *payment,
			Action:        action,
			Session:       actionSession,
			PaymentMethod: pm,
		})
		if err != nil {
			c.finish(ctx, attemptID, nil, err)
			return
		}

		if !c.transition(attemptID, StateAwaitingRequiredAction, StateResuming) {
			c.finish(ctx, attemptID, nil, nil)
			return
		}
		payment, err = c.payments.ResumePayment(ctx, actionSession, payment.ID, resumeToken)
		if err != nil {
			c.finish(ctx, attemptID, nil, fmt.Errorf("resume payment: %w", err))
			return
		}
		from = StateResuming
	}
}

// transition moves from -> to unless the attempt was cancelled meanwhile.
func (c *Controller) transition(attemptID string, from, to State) bool {
	c.mu.Lock()
	if c.attemptID != attemptID || c.state != from {
		c.mu.Unlock()
		return false
	}
	c.state = to
	c.mu.Unlock()

	c.logger.Debug("state_transition", "attempt_id", attemptID, "from", from, "to", to)
	return true
}

// finish decides the terminal state and delivers the completion once. A nil
// outcome and nil error means the attempt was cancelled between steps.
func (c *Controller) finish(ctx context.Context, attemptID string, outcome *model.PaymentOutcome, err error) {
	c.mu.Lock()
	if c.attemptID != attemptID {
		c.mu.Unlock()
		return
	}

	from := c.state
	switch {
	case from == StateCancelled:
		outcome = nil
		if !failure.IsCancelled(err) {
			err = failure.ErrCancelled
		}
	case err != nil && (failure.IsCancelled(err) || errors.Is(ctx.Err(), context.Canceled)):
		c.state = StateCancelled
		if !failure.IsCancelled(err) {
			err = failure.ErrCancelled
		}
	case err != nil:
		c.state = StateFailed
	case outcome == nil:
		c.state = StateCancelled
		err = failure.ErrCancelled
	default:
		c.state = StateSucceeded
	}

	final := c.state
	completion := c.completion
	done := c.done
	started := c.startedAt
	cancel := c.cancelFn
	c.mu.Unlock()

	cancel()

	rec := AttemptRecord{
		AttemptID:  attemptID,
		State:      final,
		StartedAt:  started,
		FinishedAt: time.Now(),
	}
	attrs := []any{"attempt_id", attemptID, "state", final, "duration_ms", rec.FinishedAt.Sub(started).Milliseconds()}
	if outcome != nil {
		rec.PaymentID, rec.ResumeHops = outcome.PaymentID, outcome.ResumeHops
		attrs = append(attrs, "payment_id", outcome.PaymentID, "status", outcome.Status, "hops", outcome.ResumeHops)
		c.logger.Info("attempt_succeeded", attrs...)
	} else {
		rec.ErrorKind = failure.KindOf(err)
		attrs = append(attrs, "kind", rec.ErrorKind, "error", err.Error())
		if final == StateCancelled {
			c.logger.Info("attempt_cancelled", attrs...)
		} else {
			c.logger.Warn("attempt_failed", attrs...)
		}
	}
	c.journal.Save(rec)

	c.dispatch(func() {
		close(done)
		completion(outcome, err)
	})
}

func failureReason(p *model.Payment) error {
	if p.PaymentFailureReason == "" {
		return nil
	}
	return errors.New(p.PaymentFailureReason)
}
