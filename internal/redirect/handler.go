// Package redirect handles required actions completed outside the app, such
// as bank redirects and vouchers, by presenting them and polling for a result.
package redirect

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/marlonbarreto-git/nimbus-checkout/internal/apiclient"
	"github.com/marlonbarreto-git/nimbus-checkout/internal/config"
	"github.com/marlonbarreto-git/nimbus-checkout/internal/failure"
	"github.com/marlonbarreto-git/nimbus-checkout/internal/model"
)

// Presentation is what the host shows the shopper.
type Presentation struct {
	AttemptID     string
	Action        model.ActionName
	RedirectURL   string
	QRCode        string
	AccountNumber string
	ExpiresAt     time.Time
}

// Presenter is implemented by the host UI.
type Presenter interface {
	Present(ctx context.Context, p Presentation) error
	// Dismiss removes the presentation of attemptID. It is called on every exit.
	Dismiss(attemptID string)
}

// Poller reads a status URL once.
type Poller interface {
	PollStatus(ctx context.Context, session *model.SessionToken, statusURL string) (*apiclient.StatusResponse, error)
}

// Handler presents a redirect-style action and waits for a resume token,
// either from the status URL or handed over by the host through Deliver.
type Handler struct {
	presenter Presenter
	poller    Poller
	interval  time.Duration
	timeout   time.Duration
	logger    *slog.Logger

	mu      sync.Mutex
	waiting chan string
}

// NewHandler creates a handler. Zero durations fall back to the defaults in config.
func NewHandler(presenter Presenter, poller Poller, interval, timeout time.Duration, logger *slog.Logger) *Handler {
	if interval <= 0 {
		interval = config.StatusPollInterval
	}
	if timeout <= 0 {
		timeout = config.StatusPollTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{presenter: presenter, poller: poller, interval: interval, timeout: timeout, logger: logger}
}

// Handle presents req and returns the resume token reported by the status URL.
func (h *Handler) Handle(ctx context.Context, req model.ActionRequest) (string, error) {
	session := req.Session
	if session.StatusURL == "" {
		return "", failure.New(failure.Configuration, "redirect", "action token has no status url")
	}
	if h.presenter == nil {
		return "", failure.New(failure.Configuration, "redirect", "no presenter registered for redirect actions")
	}

	supplied := make(chan string, 1)
	h.mu.Lock()
	h.waiting = supplied
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		if h.waiting == supplied {
			h.waiting = nil
		}
		h.mu.Unlock()
	}()

	err := h.presenter.Present(ctx, Presentation{
		AttemptID:     req.AttemptID,
		Action:        req.Action.Name,
		RedirectURL:   session.RedirectURL,
		QRCode:        session.QRCode,
		AccountNumber: session.AccountNumber,
		ExpiresAt:     session.ExpiresAt,
	})
	defer h.presenter.Dismiss(req.AttemptID)
	if err != nil {
		return "", failure.Wrap(failure.ChallengeFailed, "redirect", err)
	}

	h.logger.Info("redirect_presented", "attempt_id", req.AttemptID, "action", req.Action.Name)

	return h.poll(ctx, req.AttemptID, session, supplied)
}

// Deliver hands a resume token obtained by the host, typically from a return
// URL, to the action currently waiting. It reports false when none is waiting
// or a token was already delivered.
func (h *Handler) Deliver(resumeToken string) bool {
	if resumeToken == "" {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.waiting == nil {
		return false
	}
	select {
	case h.waiting <- resumeToken:
		return true
	default:
		return false
	}
}

func (h *Handler) poll(ctx context.Context, attemptID string, session *model.SessionToken, supplied <-chan string) (string, error) {
	deadline := time.NewTimer(h.timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for attempt := 1; ; attempt++ {
		st, err := h.poller.PollStatus(ctx, session, session.StatusURL)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return "", failure.Wrap(failure.Cancelled, "redirect", ctx.Err())
			}
			h.logger.Warn("status_poll_failed", "attempt_id", attemptID, "poll", attempt, "error", err.Error())
		case st.Status == apiclient.PollComplete:
			if st.ID == "" {
				return "", failure.New(failure.Decoding, "redirect", "complete status has no resume token")
			}
			h.logger.Info("redirect_completed", "attempt_id", attemptID, "polls", attempt)
			return st.ID, nil
		case st.Status == apiclient.PollFailed:
			return "", failure.New(failure.PaymentFailed, "redirect", "out-of-band step reported failure")
		}

		select {
		case token := <-supplied:
			h.logger.Info("redirect_completed", "attempt_id", attemptID, "polls", attempt, "source", "host")
			return token, nil
		case <-ticker.C:
		case <-deadline.C:
			return "", failure.New(failure.ChallengeTimedOut, "redirect",
				fmt.Sprintf("not completed within %s", h.timeout))
		case <-ctx.Done():
			return "", failure.Wrap(failure.Cancelled, "redirect", ctx.Err())
		}
	}
}
