package viewmodel

import (
	"context"
	"strings"

	"github.com/marlonbarreto-git/nimbus-checkout/internal/failure"
	"github.com/marlonbarreto-git/nimbus-checkout/internal/model"
)

// DefaultPlatform is reported to the bank redirect session when none is set.
const DefaultPlatform = "WEB"

// BankRedirectForm selects an off-session bank method such as iDEAL or Sofort.
type BankRedirectForm struct {
	Type        string `json:"paymentMethodType" validate:"required,uppercase"`
	Locale      string `json:"locale" validate:"required,min=2,max=35"`
	Platform    string `json:"platform" validate:"required,oneof=IOS ANDROID WEB"`
	RedirectURL string `json:"redirectionUrl" validate:"omitempty,url"`
	Issuer      string `json:"issuer" validate:"omitempty,max=64"`
}

// BankRedirect drives a bank redirect payment. The redirect itself arrives
// later as a required action.
type BankRedirect struct {
	form BankRedirectForm
}

// NewBankRedirect creates a BankRedirect driver.
func NewBankRedirect(form BankRedirectForm) *BankRedirect {
	form.Type = strings.TrimSpace(form.Type)
	if form.Platform == "" {
		form.Platform = DefaultPlatform
	}
	return &BankRedirect{form: form}
}

func (b *BankRedirect) PaymentMethodType() string { return b.form.Type }

func (b *BankRedirect) Validate() error { return check(b.form.Type, b.form) }

func (b *BankRedirect) BuildInstrument(ctx context.Context, pm model.PaymentMethod) (model.PaymentInstrument, error) {
	if pm.ProcessorConfigID == "" {
		return nil, failure.New(failure.Configuration, "bank_redirect",
			"payment method "+b.form.Type+" has no processor config id")
	}
	return model.BankRedirectInstrument{
		PaymentMethodType:     pm.Type,
		PaymentMethodConfigID: pm.ProcessorConfigID,
		SessionInfo: model.BankRedirectSessionInfo{
			Locale:         b.form.Locale,
			Platform:       b.form.Platform,
			RedirectionURL: b.form.RedirectURL,
			Issuer:         b.form.Issuer,
		},
	}, nil
}
