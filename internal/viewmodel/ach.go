package viewmodel

import (
	"context"
	"strings"

	"github.com/marlonbarreto-git/nimbus-checkout/internal/model"
)

// ACH account types.
const (
	AccountChecking = "CHECKING"
	AccountSavings  = "SAVINGS"
)

// ACHForm is a US bank account for ACH debit.
type ACHForm struct {
	AccountHolderName string `json:"accountHolderName" validate:"required,max=100"`
	AccountNumber     string `json:"accountNumber" validate:"required,numeric,min=4,max=17"`
	RoutingNumber     string `json:"routingNumber" validate:"required,aba_routing"`
	AccountType       string `json:"accountType" validate:"required,oneof=CHECKING SAVINGS"`
}

// ACH drives an ACH bank account payment.
type ACH struct {
	form ACHForm
}

// NewACH creates an ACH driver. An empty account type means checking.
func NewACH(form ACHForm) *ACH {
	form.AccountHolderName = strings.TrimSpace(form.AccountHolderName)
	form.AccountType = strings.ToUpper(form.AccountType)
	if form.AccountType == "" {
		form.AccountType = AccountChecking
	}
	return &ACH{form: form}
}

func (a *ACH) PaymentMethodType() string { return TypeACH }

func (a *ACH) Validate() error { return check(TypeACH, a.form) }

func (a *ACH) BuildInstrument(ctx context.Context, pm model.PaymentMethod) (model.PaymentInstrument, error) {
	return model.ACHInstrument{
		AccountHolderName: a.form.AccountHolderName,
		AccountNumber:     a.form.AccountNumber,
		RoutingNumber:     a.form.RoutingNumber,
		AccountType:       a.form.AccountType,
	}, nil
}
