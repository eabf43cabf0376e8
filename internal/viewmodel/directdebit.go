package viewmodel

import (
	"context"
	"strings"

	"github.com/marlonbarreto-git/nimbus-checkout/internal/failure"
	"github.com/marlonbarreto-git/nimbus-checkout/internal/model"
)

// MandateDetails is what a direct-debit mandate is signed with.
type MandateDetails struct {
	FirstName    string `json:"firstName" validate:"required,max=100"`
	LastName     string `json:"lastName" validate:"required,max=100"`
	Email        string `json:"email" validate:"required,email"`
	IBAN         string `json:"iban" validate:"required,iban_checksum"`
	AddressLine1 string `json:"addressLine1" validate:"required"`
	City         string `json:"city" validate:"required"`
	PostalCode   string `json:"postalCode" validate:"required,max=16"`
	CountryCode  string `json:"countryCode" validate:"required,iso3166_1_alpha2"`
}

// MandateCreator signs a mandate with the processor and returns its id.
type MandateCreator interface {
	CreateMandate(ctx context.Context, pm model.PaymentMethod, details MandateDetails) (string, error)
}

// DirectDebit drives a direct-debit payment: the mandate is created first
// and its id is what gets tokenized.
type DirectDebit struct {
	details  MandateDetails
	mandates MandateCreator
}

// NewDirectDebit creates a DirectDebit driver.
func NewDirectDebit(details MandateDetails, mandates MandateCreator) *DirectDebit {
	details.IBAN = strings.ToUpper(strings.ReplaceAll(details.IBAN, " ", ""))
	details.CountryCode = strings.ToUpper(details.CountryCode)
	return &DirectDebit{details: details, mandates: mandates}
}

func (d *DirectDebit) PaymentMethodType() string { return TypeDirectDebit }

func (d *DirectDebit) Validate() error { return check(TypeDirectDebit, d.details) }

func (d *DirectDebit) BuildInstrument(ctx context.Context, pm model.PaymentMethod) (model.PaymentInstrument, error) {
	if d.mandates == nil {
		return nil, failure.New(failure.Configuration, "create_mandate", "no mandate creator configured")
	}
	id, err := d.mandates.CreateMandate(ctx, pm, d.details)
	if err != nil {
		return nil, failure.Wrap(failure.Tokenization, "create_mandate", err)
	}
	if id == "" {
		return nil, failure.New(failure.Tokenization, "create_mandate", "empty mandate id")
	}
	return model.DirectDebitMandateInstrument{MandateID: id}, nil
}
