// Package viewmodel holds the per payment method drivers that collect
// shopper input, validate it and hand a built instrument to the resume
// controller.
package viewmodel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/marlonbarreto-git/nimbus-checkout/internal/model"
	"github.com/marlonbarreto-git/nimbus-checkout/internal/resume"
)

// Payment method types as they appear in the checkout configuration.
const (
	TypeCard        = "PAYMENT_CARD"
	TypePayPal      = "PAYPAL"
	TypeDirectDebit = "GOCARDLESS"
	TypeACH         = "ACH"
)

// Method is the protocol every payment method driver implements.
type Method interface {
	// PaymentMethodType is the configuration type the driver pays with.
	PaymentMethodType() string
	// Validate checks the collected input without touching the network.
	Validate() error
	// BuildInstrument turns validated input into the instrument to tokenize.
	BuildInstrument(ctx context.Context, pm model.PaymentMethod) (model.PaymentInstrument, error)
}

// Configurations resolves the configured entry of a payment method.
type Configurations interface {
	PaymentMethod(ctx context.Context, methodType string) (model.PaymentMethod, error)
}

// Starter begins a checkout attempt.
type Starter interface {
	Start(ctx context.Context, instrument model.PaymentInstrument, completion resume.Completion) (string, error)
}

// ValidationError lists the inputs that failed validation, keyed by field
// name, with the rule each one broke.
type ValidationError struct {
	PaymentMethodType string
	Fields            map[string]string
}

func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = fmt.Sprintf("%s (%s)", name, e.Fields[name])
	}
	return fmt.Sprintf("%s: invalid %s", e.PaymentMethodType, strings.Join(parts, ", "))
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	if err := v.RegisterValidation("aba_routing", abaRouting); err != nil {
		panic(err)
	}
	if err := v.RegisterValidation("iban_checksum", ibanChecksum); err != nil {
		panic(err)
	}
	return v
}

// check validates form and converts rule violations into a ValidationError.
func check(methodType string, form any) error {
	err := validate.Struct(form)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[fe.Field()] = fe.Tag()
	}
	return &ValidationError{PaymentMethodType: methodType, Fields: fields}
}

// Driver runs the shared submit sequence for every payment method.
type Driver struct {
	configs Configurations
	starter Starter
	logger  *slog.Logger
}

// NewDriver creates a Driver.
func NewDriver(configs Configurations, starter Starter, logger *slog.Logger) *Driver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Driver{configs: configs, starter: starter, logger: logger}
}

// Submit validates m, resolves its configuration, builds the instrument and
// starts an attempt. Errors returned here happen before any attempt exists;
// everything after is reported to completion.
func (d *Driver) Submit(ctx context.Context, m Method, completion resume.Completion) (string, error) {
	methodType := m.PaymentMethodType()
	if err := m.Validate(); err != nil {
		d.logger.Info("payment_method_invalid", "payment_method_type", methodType, "error", err.Error())
		return "", err
	}

	pm, err := d.configs.PaymentMethod(ctx, methodType)
	if err != nil {
		return "", err
	}

	instrument, err := m.BuildInstrument(ctx, pm)
	if err != nil {
		d.logger.Warn("instrument_build_failed", "payment_method_type", methodType, "error", err.Error())
		return "", err
	}

	attemptID, err := d.starter.Start(ctx, instrument, completion)
	if err != nil {
		return "", err
	}
	d.logger.Info("payment_method_submitted",
		"payment_method_type", methodType,
		"processor_config_id", pm.ProcessorConfigID,
		"attempt_id", attemptID,
	)
	return attemptID, nil
}

// Pay submits m and blocks until the attempt is terminal.
func (d *Driver) Pay(ctx context.Context, m Method) (*model.PaymentOutcome, error) {
	type result struct {
		outcome *model.PaymentOutcome
		err     error
	}
	ch := make(chan result, 1)
	if _, err := d.Submit(ctx, m, func(o *model.PaymentOutcome, err error) {
		ch <- result{o, err}
	}); err != nil {
		return nil, err
	}
	r := <-ch
	return r.outcome, r.err
}

// digits reports whether s is non-empty and only holds ASCII digits.
func digits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func abaRouting(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	if len(s) != 9 || !digits(s) {
		return false
	}
	weights := [3]int{3, 7, 1}
	sum := 0
	for i, r := range s {
		sum += weights[i%3] * int(r-'0')
	}
	return sum%10 == 0
}

func ibanChecksum(fl validator.FieldLevel) bool {
	s := strings.ToUpper(strings.ReplaceAll(fl.Field().String(), " ", ""))
	if len(s) < 15 || len(s) > 34 {
		return false
	}
	rearranged := s[4:] + s[:4]
	rem := 0
	for _, r := range rearranged {
		switch {
		case r >= '0' && r <= '9':
			rem = (rem*10 + int(r-'0')) % 97
		case r >= 'A' && r <= 'Z':
			rem = (rem*100 + int(r-'A') + 10) % 97
		default:
			return false
		}
	}
	return rem == 1
}
