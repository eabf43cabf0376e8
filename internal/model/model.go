package model

import (
	"encoding/json"
	"strings"
	"time"
)

// SessionToken is the decoded form of the opaque client session token issued
// by the backend. It is immutable once decoded.
type SessionToken struct {
	Raw                 string
	AccessToken         string
	ConfigurationURL    string
	CoreURL             string
	PCIURL              string
	Environment         string
	Intent              string
	ExpiresAt           time.Time
	StatusURL           string
	RedirectURL         string
	ThreeDSecureInitURL string
	ThreeDSecureToken   string
	QRCode              string
	AccountNumber       string
}

// IsExpired reports whether the token carried an expiry that has passed.
func (t *SessionToken) IsExpired(now time.Time) bool {
	return !t.ExpiresAt.IsZero() && now.After(t.ExpiresAt)
}

// IsProduction reports whether the token targets the production environment.
func (t *SessionToken) IsProduction() bool {
	return strings.EqualFold(t.Environment, "PRODUCTION")
}

// InstrumentType names the payment instrument family sent to tokenization.
type InstrumentType string

const (
	InstrumentPaymentCard            InstrumentType = "PAYMENT_CARD"
	InstrumentPayPalOrder            InstrumentType = "PAYPAL_ORDER"
	InstrumentPayPalBillingAgreement InstrumentType = "PAYPAL_BILLING_AGREEMENT"
	InstrumentDirectDebitMandate     InstrumentType = "GOCARDLESS_MANDATE"
	InstrumentACH                    InstrumentType = "AUTOMATED_CLEARING_HOUSE"
	InstrumentBankRedirect           InstrumentType = "OFF_SESSION_PAYMENT"
)

// PaymentInstrument is the tagged union of tokenizable payloads. Each variant
// carries exactly the fields its tokenization endpoint requires.
type PaymentInstrument interface {
	InstrumentType() InstrumentType
	isPaymentInstrument()
}

// CardInstrument is a raw payment card.
type CardInstrument struct {
	Number          string `json:"number"`
	CVV             string `json:"cvv"`
	ExpirationMonth string `json:"expirationMonth"`
	ExpirationYear  string `json:"expirationYear"`
	CardholderName  string `json:"cardholderName,omitempty"`
}

func (CardInstrument) InstrumentType() InstrumentType { return InstrumentPaymentCard }
func (CardInstrument) isPaymentInstrument()           {}

// Last4 returns the last four digits of the card number, for logs and outcomes.
func (c CardInstrument) Last4() string {
	if len(c.Number) < 4 {
		return c.Number
	}
	return c.Number[len(c.Number)-4:]
}

// PayPalOrderInstrument references an approved PayPal checkout order.
type PayPalOrderInstrument struct {
	PayPalOrderID string `json:"paypalOrderId"`
}

func (PayPalOrderInstrument) InstrumentType() InstrumentType { return InstrumentPayPalOrder }
func (PayPalOrderInstrument) isPaymentInstrument()           {}

// PayPalPayerInfo is the payer echoed back by PayPal after a billing agreement.
type PayPalPayerInfo struct {
	ExternalPayerID string `json:"externalPayerId"`
	Email           string `json:"email"`
	FirstName       string `json:"firstName,omitempty"`
	LastName        string `json:"lastName,omitempty"`
}

// PayPalBillingAgreementInstrument references a confirmed PayPal billing agreement.
type PayPalBillingAgreementInstrument struct {
	PayPalBillingAgreementID string           `json:"paypalBillingAgreementId"`
	ExternalPayerInfo        *PayPalPayerInfo `json:"externalPayerInfo,omitempty"`
}

func (PayPalBillingAgreementInstrument) InstrumentType() InstrumentType {
	return InstrumentPayPalBillingAgreement
}
func (PayPalBillingAgreementInstrument) isPaymentInstrument() {}

// DirectDebitMandateInstrument references a signed direct-debit mandate.
type DirectDebitMandateInstrument struct {
	MandateID string `json:"gocardlessMandateId"`
}

func (DirectDebitMandateInstrument) InstrumentType() InstrumentType {
	return InstrumentDirectDebitMandate
}
func (DirectDebitMandateInstrument) isPaymentInstrument() {}

// ACHInstrument is a US bank account debited through ACH.
type ACHInstrument struct {
	AccountHolderName string `json:"accountHolderName"`
	AccountNumber     string `json:"accountNumber"`
	RoutingNumber     string `json:"routingNumber"`
	AccountType       string `json:"accountType"`
}

func (ACHInstrument) InstrumentType() InstrumentType { return InstrumentACH }
func (ACHInstrument) isPaymentInstrument()           {}

// BankRedirectSessionInfo describes where the shopper returns after the bank page.
type BankRedirectSessionInfo struct {
	Locale         string `json:"locale"`
	Platform       string `json:"platform"`
	RedirectionURL string `json:"redirectionUrl,omitempty"`
	Issuer         string `json:"issuer,omitempty"`
}

// BankRedirectInstrument starts an off-session bank redirect payment (iDEAL, Sofort, ...).
type BankRedirectInstrument struct {
	PaymentMethodType     string                  `json:"paymentMethodType"`
	PaymentMethodConfigID string                  `json:"paymentMethodConfigId"`
	SessionInfo           BankRedirectSessionInfo `json:"sessionInfo"`
}

func (BankRedirectInstrument) InstrumentType() InstrumentType { return InstrumentBankRedirect }
func (BankRedirectInstrument) isPaymentInstrument()           {}

// MarshalJSON adds the fixed "type" discriminator the endpoint expects.
func (b BankRedirectInstrument) MarshalJSON() ([]byte, error) {
	type plain BankRedirectInstrument
	return json.Marshal(struct {
		plain
		Type InstrumentType `json:"type"`
	}{plain(b), InstrumentBankRedirect})
}

// InstrumentData is the non-sensitive description echoed by tokenization.
type InstrumentData struct {
	Last4Digits string `json:"last4Digits,omitempty"`
	Network     string `json:"network,omitempty"`
	ExpiryMonth string `json:"expirationMonth,omitempty"`
	ExpiryYear  string `json:"expirationYear,omitempty"`
}

// PaymentMethodToken is the short-lived result of tokenization. It is consumed
// by exactly one payment creation.
type PaymentMethodToken struct {
	Token                 string          `json:"token"`
	AnalyticsID           string          `json:"analyticsId,omitempty"`
	TokenType             string          `json:"tokenType"`
	PaymentInstrumentType InstrumentType  `json:"paymentInstrumentType"`
	PaymentInstrumentData *InstrumentData `json:"paymentInstrumentData,omitempty"`
	IsVaulted             bool            `json:"isVaulted"`
}

// Network returns the card network reported by tokenization, if any.
func (t *PaymentMethodToken) Network() string {
	if t == nil || t.PaymentInstrumentData == nil {
		return ""
	}
	return strings.ToUpper(t.PaymentInstrumentData.Network)
}

// PaymentStatus is the backend status of a payment.
type PaymentStatus string

const (
	StatusPending    PaymentStatus = "PENDING"
	StatusSuccess    PaymentStatus = "SUCCESS"
	StatusAuthorized PaymentStatus = "AUTHORIZED"
	StatusSettling   PaymentStatus = "SETTLING"
	StatusSettled    PaymentStatus = "SETTLED"
	StatusFailed     PaymentStatus = "FAILED"
	StatusDeclined   PaymentStatus = "DECLINED"
	StatusCancelled  PaymentStatus = "CANCELLED"
)

// IsFailure returns true if the status ends the payment unsuccessfully.
func (s PaymentStatus) IsFailure() bool {
	switch s {
	case StatusFailed, StatusDeclined, StatusCancelled:
		return true
	default:
		return false
	}
}

// IsSuccess returns true if the status is a settled or settling success.
func (s PaymentStatus) IsSuccess() bool {
	switch s {
	case StatusSuccess, StatusAuthorized, StatusSettling, StatusSettled:
		return true
	default:
		return false
	}
}

// ActionName discriminates required actions.
type ActionName string

const (
	ActionThreeDSAuthentication ActionName = "3DS_AUTHENTICATION"
	ActionUsePrimerSDK          ActionName = "USE_PRIMER_SDK"
	ActionPaymentMethodVoucher  ActionName = "PAYMENT_METHOD_VOUCHER"
	ActionProcessor3DS          ActionName = "PROCESSOR_3DS"
)

// RequiredAction asks the client to complete an out-of-band step. ClientToken
// replaces the session token for every call that follows.
type RequiredAction struct {
	Name        ActionName `json:"name"`
	Description string     `json:"description,omitempty"`
	ClientToken string     `json:"clientToken"`
}

// Payment is the result of payment creation or resume.
type Payment struct {
	ID                   string          `json:"id"`
	OrderID              string          `json:"orderId,omitempty"`
	Status               PaymentStatus   `json:"status"`
	Amount               int64           `json:"amount,omitempty"`
	CurrencyCode         string          `json:"currencyCode,omitempty"`
	RequiredAction       *RequiredAction `json:"requiredAction,omitempty"`
	PaymentFailureReason string          `json:"paymentFailureReason,omitempty"`
}

// ThreeDSAuthData is the device material produced when a vendor 3DS
// transaction is created. It is consumed once by the begin-auth call.
type ThreeDSAuthData struct {
	SDKTransactionID   string `json:"sdkTransactionId"`
	SDKAppID           string `json:"sdkAppId"`
	SDKEncData         string `json:"sdkEncData"`
	SDKEphemPubKey     string `json:"sdkEphemPubKey"`
	SDKReferenceNumber string `json:"sdkReferenceNumber"`
	SDKMaxTimeout      int    `json:"sdkMaxTimeout"`
	ProtocolVersion    string `json:"-"`
}

// ThreeDSServerAuthData is what the issuer's ACS sent back for an app challenge.
type ThreeDSServerAuthData struct {
	ACSReferenceNumber         string
	ACSSignedContent           string
	ACSTransactionID           string
	ThreeDSServerTransactionID string
}

// PaymentMethod is one entry of the checkout configuration.
type PaymentMethod struct {
	ID                 string `json:"id"`
	Type               string `json:"type"`
	Name               string `json:"name"`
	ProcessorConfigID  string `json:"processorConfigId,omitempty"`
	ImplementationType string `json:"implementationType,omitempty"`
}

// ConfigKeys holds 3DS keys delivered with the configuration.
type ConfigKeys struct {
	ThreeDSecureToken            string   `json:"threeDSecureToken,omitempty"`
	ThreeDSecureProtocolVersions []string `json:"threeDSecureProtocolVersions,omitempty"`
}

// PaymentMethodConfig is the immutable configuration snapshot of one token generation.
type PaymentMethodConfig struct {
	CoreURL        string          `json:"coreUrl"`
	PCIURL         string          `json:"pciUrl"`
	Environment    string          `json:"env"`
	PaymentMethods []PaymentMethod `json:"paymentMethods"`
	Keys           *ConfigKeys     `json:"keys,omitempty"`
}

// Method returns the configured payment method of the given type.
func (c *PaymentMethodConfig) Method(methodType string) (PaymentMethod, bool) {
	for _, m := range c.PaymentMethods {
		if m.Type == methodType {
			return m, true
		}
	}
	return PaymentMethod{}, false
}

// ActionRequest is handed to a required-action handler. Session is the
// decoded token of Action and must be used for every call the handler makes.
type ActionRequest struct {
	AttemptID     string
	Payment       Payment
	Action        RequiredAction
	Session       *SessionToken
	PaymentMethod *PaymentMethodToken
}

// PaymentOutcome is delivered to the caller when an attempt succeeds.
type PaymentOutcome struct {
	AttemptID      string         `json:"attempt_id"`
	PaymentID      string         `json:"payment_id"`
	OrderID        string         `json:"order_id,omitempty"`
	Status         PaymentStatus  `json:"status"`
	InstrumentType InstrumentType `json:"instrument_type"`
	ResumeHops     int            `json:"resume_hops"`
}
