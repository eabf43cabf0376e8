package viewmodel

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marlonbarreto-git/nimbus-checkout/internal/failure"
	"github.com/marlonbarreto-git/nimbus-checkout/internal/model"
	"github.com/marlonbarreto-git/nimbus-checkout/internal/resume"
)

type fakeConfigs struct {
	methods map[string]model.PaymentMethod
	calls   int
}

func (f *fakeConfigs) PaymentMethod(ctx context.Context, methodType string) (model.PaymentMethod, error) {
	f.calls++
	pm, ok := f.methods[methodType]
	if !ok {
		return model.PaymentMethod{}, failure.New(failure.Configuration, "payment_method", methodType+" is not configured")
	}
	return pm, nil
}

// recordingStarter completes every attempt at once with a settled outcome.
type recordingStarter struct {
	mu          sync.Mutex
	instruments []model.PaymentInstrument
	err         error
}

func (s *recordingStarter) Start(ctx context.Context, instrument model.PaymentInstrument, completion resume.Completion) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	s.instruments = append(s.instruments, instrument)
	go completion(&model.PaymentOutcome{
		AttemptID:      "att_1",
		PaymentID:      "pay_1",
		Status:         model.StatusSettled,
		InstrumentType: instrument.InstrumentType(),
	}, nil)
	return "att_1", nil
}

func (s *recordingStarter) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.instruments)
}

type fakeMandates struct {
	id      string
	err     error
	details MandateDetails
}

func (f *fakeMandates) CreateMandate(ctx context.Context, pm model.PaymentMethod, details MandateDetails) (string, error) {
	f.details = details
	return f.id, f.err
}

func configured() *fakeConfigs {
	return &fakeConfigs{methods: map[string]model.PaymentMethod{
		TypeCard:        {ID: "pm_card", Type: TypeCard, ProcessorConfigID: "proc_card"},
		TypePayPal:      {ID: "pm_paypal", Type: TypePayPal, ProcessorConfigID: "proc_paypal"},
		TypeDirectDebit: {ID: "pm_dd", Type: TypeDirectDebit, ProcessorConfigID: "proc_dd"},
		TypeACH:         {ID: "pm_ach", Type: TypeACH, ProcessorConfigID: "proc_ach"},
		"ADYEN_IDEAL":   {ID: "pm_ideal", Type: "ADYEN_IDEAL", ProcessorConfigID: "proc_ideal"},
	}}
}

func fixedNow(year int, month time.Month) func() time.Time {
	return func() time.Time { return time.Date(year, month, 15, 12, 0, 0, 0, time.UTC) }
}

func validCard() CardForm {
	return CardForm{
		Number:         "4111 1111 1111 1111",
		CVV:            "123",
		ExpiryMonth:    "3",
		ExpiryYear:     "30",
		CardholderName: gofakeit.Name(),
	}
}

func TestCard_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*CardForm)
		field  string
	}{
		{"valid", func(*CardForm) {}, ""},
		{"amex four digit cvv", func(f *CardForm) { f.Number, f.CVV = "378282246310005", "1234" }, ""},
		{"luhn failure", func(f *CardForm) { f.Number = "4111111111111112" }, "number"},
		{"missing number", func(f *CardForm) { f.Number = "" }, "number"},
		{"short cvv", func(f *CardForm) { f.CVV = "12" }, "cvv"},
		{"letters in cvv", func(f *CardForm) { f.CVV = "12a" }, "cvv"},
		{"month out of range", func(f *CardForm) { f.ExpiryMonth = "13" }, "expirationMonth"},
		{"expired", func(f *CardForm) { f.ExpiryMonth, f.ExpiryYear = "05", "2026" }, "expirationYear"},
		{"name too long", func(f *CardForm) { f.CardholderName = gofakeit.LetterN(101) }, "cardholderName"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			form := validCard()
			tt.mutate(&form)
			c := NewCard(form)
			c.now = fixedNow(2026, time.June)

			err := c.Validate()
			if tt.field == "" {
				assert.NoError(t, err)
				return
			}
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, TypeCard, verr.PaymentMethodType)
			assert.Contains(t, verr.Fields, tt.field)
		})
	}
}

func TestCard_ValidThroughExpiryMonth(t *testing.T) {
	form := validCard()
	form.ExpiryMonth, form.ExpiryYear = "06", "2026"
	c := NewCard(form)

	c.now = fixedNow(2026, time.June)
	assert.NoError(t, c.Validate())

	c.now = fixedNow(2026, time.July)
	assert.Error(t, c.Validate())
}

func TestCard_BuildInstrumentNormalizes(t *testing.T) {
	form := validCard()
	form.Number = "4111-1111-1111-1111"
	c := NewCard(form)

	instrument, err := c.BuildInstrument(context.Background(), model.PaymentMethod{})
	require.NoError(t, err)
	card, ok := instrument.(model.CardInstrument)
	require.True(t, ok)
	assert.Equal(t, "4111111111111111", card.Number)
	assert.Equal(t, "03", card.ExpirationMonth)
	assert.Equal(t, "2030", card.ExpirationYear)
	assert.Equal(t, form.CardholderName, card.CardholderName)
}

func TestPayPal(t *testing.T) {
	order := &PayPalOrder{OrderID: gofakeit.UUID()}
	require.NoError(t, order.Validate())
	instrument, err := order.BuildInstrument(context.Background(), model.PaymentMethod{})
	require.NoError(t, err)
	assert.Equal(t, model.InstrumentPayPalOrder, instrument.InstrumentType())

	var verr *ValidationError
	assert.ErrorAs(t, (&PayPalOrder{}).Validate(), &verr)

	agreement := &PayPalBillingAgreement{
		AgreementID: "B-" + gofakeit.DigitN(12),
		Payer: &PayPalPayer{
			ExternalPayerID: gofakeit.UUID(),
			Email:           "shopper@example.com",
			FirstName:       gofakeit.FirstName(),
		},
	}
	require.NoError(t, agreement.Validate())
	instrument, err = agreement.BuildInstrument(context.Background(), model.PaymentMethod{})
	require.NoError(t, err)
	ba, ok := instrument.(model.PayPalBillingAgreementInstrument)
	require.True(t, ok)
	assert.Equal(t, "shopper@example.com", ba.ExternalPayerInfo.Email)

	agreement.Payer.Email = "not-an-email"
	require.ErrorAs(t, agreement.Validate(), &verr)
	assert.Equal(t, "email", verr.Fields["email"])

	assert.NoError(t, (&PayPalBillingAgreement{AgreementID: "B-1"}).Validate(), "payer is optional")
}

func TestBankRedirect(t *testing.T) {
	b := NewBankRedirect(BankRedirectForm{Type: "ADYEN_IDEAL", Locale: "nl-NL", Issuer: "ing", RedirectURL: "https://shop.example/return"})
	require.NoError(t, b.Validate())
	assert.Equal(t, "ADYEN_IDEAL", b.PaymentMethodType())

	instrument, err := b.BuildInstrument(context.Background(), model.PaymentMethod{Type: "ADYEN_IDEAL", ProcessorConfigID: "proc_ideal"})
	require.NoError(t, err)
	br, ok := instrument.(model.BankRedirectInstrument)
	require.True(t, ok)
	assert.Equal(t, "proc_ideal", br.PaymentMethodConfigID)
	assert.Equal(t, DefaultPlatform, br.SessionInfo.Platform)
	assert.Equal(t, "ing", br.SessionInfo.Issuer)

	_, err = b.BuildInstrument(context.Background(), model.PaymentMethod{Type: "ADYEN_IDEAL"})
	assert.Equal(t, failure.Configuration, failure.KindOf(err))

	var verr *ValidationError
	require.ErrorAs(t, NewBankRedirect(BankRedirectForm{Type: "ADYEN_IDEAL", Platform: "DESKTOP"}).Validate(), &verr)
	assert.Contains(t, verr.Fields, "locale")
	assert.Contains(t, verr.Fields, "platform")
}

func validMandate() MandateDetails {
	return MandateDetails{
		FirstName:    gofakeit.FirstName(),
		LastName:     gofakeit.LastName(),
		Email:        "payer@example.com",
		IBAN:         "gb82 west 1234 5698 7654 32",
		AddressLine1: gofakeit.Street(),
		City:         gofakeit.City(),
		PostalCode:   "EC1A 1BB",
		CountryCode:  "gb",
	}
}

func TestDirectDebit(t *testing.T) {
	mandates := &fakeMandates{id: "MD0001"}
	d := NewDirectDebit(validMandate(), mandates)
	require.NoError(t, d.Validate())

	instrument, err := d.BuildInstrument(context.Background(), model.PaymentMethod{Type: TypeDirectDebit})
	require.NoError(t, err)
	assert.Equal(t, model.DirectDebitMandateInstrument{MandateID: "MD0001"}, instrument)
	assert.Equal(t, "GB82WEST12345698765432", mandates.details.IBAN)
	assert.Equal(t, "GB", mandates.details.CountryCode)

	bad := validMandate()
	bad.IBAN = "GB82WEST12345698765433"
	var verr *ValidationError
	require.ErrorAs(t, NewDirectDebit(bad, mandates).Validate(), &verr)
	assert.Equal(t, "iban_checksum", verr.Fields["iban"])

	_, err = NewDirectDebit(validMandate(), &fakeMandates{err: errors.New("processor down")}).
		BuildInstrument(context.Background(), model.PaymentMethod{})
	assert.Equal(t, failure.Tokenization, failure.KindOf(err))

	_, err = NewDirectDebit(validMandate(), &fakeMandates{}).BuildInstrument(context.Background(), model.PaymentMethod{})
	assert.Equal(t, failure.Tokenization, failure.KindOf(err))

	_, err = NewDirectDebit(validMandate(), nil).BuildInstrument(context.Background(), model.PaymentMethod{})
	assert.Equal(t, failure.Configuration, failure.KindOf(err))
}

func TestACH_Validate(t *testing.T) {
	tests := []struct {
		name  string
		form  ACHForm
		field string
	}{
		{"valid checking", ACHForm{AccountHolderName: "Ada Lovelace", AccountNumber: "000123456789", RoutingNumber: "011000015"}, ""},
		{"valid savings", ACHForm{AccountHolderName: "Ada Lovelace", AccountNumber: "123456", RoutingNumber: "021000021", AccountType: "savings"}, ""},
		{"bad routing checksum", ACHForm{AccountHolderName: "Ada Lovelace", AccountNumber: "123456", RoutingNumber: "021000022"}, "routingNumber"},
		{"short routing", ACHForm{AccountHolderName: "Ada Lovelace", AccountNumber: "123456", RoutingNumber: "02100002"}, "routingNumber"},
		{"account letters", ACHForm{AccountHolderName: "Ada Lovelace", AccountNumber: "12ab56", RoutingNumber: "011000015"}, "accountNumber"},
		{"unknown account type", ACHForm{AccountHolderName: "Ada Lovelace", AccountNumber: "123456", RoutingNumber: "011000015", AccountType: "BROKERAGE"}, "accountType"},
		{"missing holder", ACHForm{AccountNumber: "123456", RoutingNumber: "011000015"}, "accountHolderName"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewACH(tt.form).Validate()
			if tt.field == "" {
				assert.NoError(t, err)
				return
			}
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Contains(t, verr.Fields, tt.field)
		})
	}
}

func TestValidationError_Message(t *testing.T) {
	err := &ValidationError{PaymentMethodType: TypeCard, Fields: map[string]string{"cvv": "min", "number": "credit_card"}}
	assert.Equal(t, "PAYMENT_CARD: invalid cvv (min), number (credit_card)", err.Error())
}

func TestDriver_Submit(t *testing.T) {
	configs := configured()
	starter := &recordingStarter{}
	d := NewDriver(configs, starter, nil)

	outcome, err := d.Pay(context.Background(), NewACH(ACHForm{
		AccountHolderName: gofakeit.Name(),
		AccountNumber:     "000123456789",
		RoutingNumber:     "011000015",
	}))
	require.NoError(t, err)
	assert.Equal(t, model.InstrumentACH, outcome.InstrumentType)
	assert.Equal(t, 1, starter.CallCount())
}

func TestDriver_SubmitStopsEarly(t *testing.T) {
	tests := []struct {
		name        string
		method      Method
		starterErr  error
		wantConfigs int
		check       func(t *testing.T, err error)
	}{
		{
			name:        "invalid input never reaches configuration",
			method:      &PayPalOrder{},
			wantConfigs: 0,
			check: func(t *testing.T, err error) {
				var verr *ValidationError
				assert.ErrorAs(t, err, &verr)
			},
		},
		{
			name:        "unconfigured method",
			method:      NewBankRedirect(BankRedirectForm{Type: "ADYEN_SOFORT", Locale: "de-DE"}),
			wantConfigs: 1,
			check: func(t *testing.T, err error) {
				assert.Equal(t, failure.Configuration, failure.KindOf(err))
			},
		},
		{
			name:        "mandate failure",
			method:      NewDirectDebit(validMandate(), &fakeMandates{err: errors.New("rejected")}),
			wantConfigs: 1,
			check: func(t *testing.T, err error) {
				assert.Equal(t, failure.Tokenization, failure.KindOf(err))
			},
		},
		{
			name:        "controller busy",
			method:      &PayPalOrder{OrderID: "ORDER-1"},
			starterErr:  resume.ErrAttemptInProgress,
			wantConfigs: 1,
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, resume.ErrAttemptInProgress)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configs := configured()
			starter := &recordingStarter{err: tt.starterErr}
			d := NewDriver(configs, starter, nil)

			called := false
			_, err := d.Submit(context.Background(), tt.method, func(*model.PaymentOutcome, error) { called = true })
			require.Error(t, err)
			tt.check(t, err)
			assert.Equal(t, tt.wantConfigs, configs.calls)
			assert.Equal(t, 0, starter.CallCount())
			assert.False(t, called)
		})
	}
}
