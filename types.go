package checkout

import (
	"github.com/marlonbarreto-git/nimbus-checkout/internal/failure"
	"github.com/marlonbarreto-git/nimbus-checkout/internal/model"
	"github.com/marlonbarreto-git/nimbus-checkout/internal/redirect"
	"github.com/marlonbarreto-git/nimbus-checkout/internal/resume"
	"github.com/marlonbarreto-git/nimbus-checkout/internal/threeds"
	"github.com/marlonbarreto-git/nimbus-checkout/internal/viewmodel"
)

// Types host applications work with.
type (
	Method                 = viewmodel.Method
	CardForm               = viewmodel.CardForm
	ACHForm                = viewmodel.ACHForm
	BankRedirectForm       = viewmodel.BankRedirectForm
	MandateDetails         = viewmodel.MandateDetails
	PayPalOrder            = viewmodel.PayPalOrder
	PayPalBillingAgreement = viewmodel.PayPalBillingAgreement
	PayPalPayer            = viewmodel.PayPalPayer
	ValidationError        = viewmodel.ValidationError

	PaymentOutcome = model.PaymentOutcome
	PaymentMethod  = model.PaymentMethod
	Completion     = resume.Completion
	Dispatcher     = resume.Dispatcher
	State          = resume.State

	Presenter    = redirect.Presenter
	Presentation = redirect.Presentation

	ThreeDSSDK = threeds.SDK

	Kind  = failure.Kind
	Error = failure.Error
)

// Method constructors.
var (
	NewCard         = viewmodel.NewCard
	NewBankRedirect = viewmodel.NewBankRedirect
	NewACH          = viewmodel.NewACH
)

// KindOf returns the failure kind of an attempt error.
func KindOf(err error) Kind { return failure.KindOf(err) }

// IsCancelled reports whether err means the shopper or the host cancelled.
func IsCancelled(err error) bool { return failure.IsCancelled(err) }

// ErrAttemptInProgress is returned when an attempt is already running.
var ErrAttemptInProgress = resume.ErrAttemptInProgress
