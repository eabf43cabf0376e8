package viewmodel

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/marlonbarreto-git/nimbus-checkout/internal/model"
)

// CardForm is the raw card input as typed by the shopper.
type CardForm struct {
	Number         string `json:"number" validate:"required,credit_card"`
	CVV            string `json:"cvv" validate:"required,numeric,min=3,max=4"`
	ExpiryMonth    string `json:"expirationMonth" validate:"required,numeric,len=2"`
	ExpiryYear     string `json:"expirationYear" validate:"required,numeric,len=4"`
	CardholderName string `json:"cardholderName" validate:"omitempty,max=100"`
}

// Card drives a card payment.
type Card struct {
	form CardForm
	now  func() time.Time
}

// NewCard normalizes the form: separators are stripped from the number,
// one digit months are padded and two digit years are expanded.
func NewCard(form CardForm) *Card {
	form.Number = strings.NewReplacer(" ", "", "-", "").Replace(form.Number)
	form.CVV = strings.TrimSpace(form.CVV)
	form.ExpiryMonth = strings.TrimSpace(form.ExpiryMonth)
	if len(form.ExpiryMonth) == 1 {
		form.ExpiryMonth = "0" + form.ExpiryMonth
	}
	form.ExpiryYear = strings.TrimSpace(form.ExpiryYear)
	if len(form.ExpiryYear) == 2 {
		form.ExpiryYear = "20" + form.ExpiryYear
	}
	form.CardholderName = strings.TrimSpace(form.CardholderName)
	return &Card{form: form, now: time.Now}
}

func (c *Card) PaymentMethodType() string { return TypeCard }

// Validate checks the card fields and that the card has not expired.
func (c *Card) Validate() error {
	if err := check(TypeCard, c.form); err != nil {
		return err
	}
	month, _ := strconv.Atoi(c.form.ExpiryMonth)
	year, _ := strconv.Atoi(c.form.ExpiryYear)
	if month < 1 || month > 12 {
		return &ValidationError{PaymentMethodType: TypeCard, Fields: map[string]string{"expirationMonth": "month"}}
	}
	// A card is valid through the last day of its expiry month.
	end := time.Date(year, time.Month(month)+1, 1, 0, 0, 0, 0, time.UTC)
	if !c.now().UTC().Before(end) {
		return &ValidationError{PaymentMethodType: TypeCard, Fields: map[string]string{"expirationYear": "expired"}}
	}
	return nil
}

func (c *Card) BuildInstrument(ctx context.Context, pm model.PaymentMethod) (model.PaymentInstrument, error) {
	return model.CardInstrument{
		Number:          c.form.Number,
		CVV:             c.form.CVV,
		ExpirationMonth: c.form.ExpiryMonth,
		ExpirationYear:  c.form.ExpiryYear,
		CardholderName:  c.form.CardholderName,
	}, nil
}
