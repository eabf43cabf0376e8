package viewmodel

import (
	"context"

	"github.com/marlonbarreto-git/nimbus-checkout/internal/model"
)

// PayPalOrder pays with a one-off PayPal order the shopper approved.
type PayPalOrder struct {
	OrderID string `json:"paypalOrderId" validate:"required,max=64"`
}

func (p *PayPalOrder) PaymentMethodType() string { return TypePayPal }

func (p *PayPalOrder) Validate() error { return check(TypePayPal, p) }

func (p *PayPalOrder) BuildInstrument(ctx context.Context, pm model.PaymentMethod) (model.PaymentInstrument, error) {
	return model.PayPalOrderInstrument{PayPalOrderID: p.OrderID}, nil
}

// PayPalPayer is the payer PayPal returned with a billing agreement.
type PayPalPayer struct {
	ExternalPayerID string `json:"externalPayerId" validate:"required"`
	Email           string `json:"email" validate:"required,email"`
	FirstName       string `json:"firstName" validate:"omitempty,max=100"`
	LastName        string `json:"lastName" validate:"omitempty,max=100"`
}

// PayPalBillingAgreement pays with a confirmed PayPal billing agreement,
// used for vaulted and recurring payments.
type PayPalBillingAgreement struct {
	AgreementID string       `json:"paypalBillingAgreementId" validate:"required,max=64"`
	Payer       *PayPalPayer `json:"externalPayerInfo" validate:"omitempty"`
}

func (p *PayPalBillingAgreement) PaymentMethodType() string { return TypePayPal }

func (p *PayPalBillingAgreement) Validate() error { return check(TypePayPal, p) }

func (p *PayPalBillingAgreement) BuildInstrument(ctx context.Context, pm model.PaymentMethod) (model.PaymentInstrument, error) {
	instrument := model.PayPalBillingAgreementInstrument{PayPalBillingAgreementID: p.AgreementID}
	if p.Payer != nil {
		instrument.ExternalPayerInfo = &model.PayPalPayerInfo{
			ExternalPayerID: p.Payer.ExternalPayerID,
			Email:           p.Payer.Email,
			FirstName:       p.Payer.FirstName,
			LastName:        p.Payer.LastName,
		}
	}
	return instrument, nil
}
