package mockapi

import (
	"strings"

	"github.com/marlonbarreto-git/nimbus-checkout/internal/model"
)

// Test cards with a fixed behavior. Any other card is approved without
// further action.
const (
	CardFrictionless = "4111111111111111"
	CardChallenge    = "5555555555554444"
	CardDeclined     = "4000000000000002"
	CardNoThreeDS    = "378282246310005"
)

// Outcome is what the mock backend does with a new payment.
type Outcome int

const (
	OutcomeApprove Outcome = iota
	OutcomeSettleLater
	OutcomeDecline
	OutcomeFrictionless
	OutcomeChallenge
	OutcomeRedirect
)

func (o Outcome) String() string {
	switch o {
	case OutcomeApprove:
		return "approve"
	case OutcomeSettleLater:
		return "settle_later"
	case OutcomeDecline:
		return "decline"
	case OutcomeFrictionless:
		return "frictionless_3ds"
	case OutcomeChallenge:
		return "challenge_3ds"
	case OutcomeRedirect:
		return "redirect"
	default:
		return "unknown"
	}
}

// outcomeFor picks the scenario of a tokenized instrument.
func outcomeFor(inst instrumentRecord) Outcome {
	switch inst.Type {
	case model.InstrumentPaymentCard:
		switch inst.Number {
		case CardFrictionless:
			return OutcomeFrictionless
		case CardChallenge:
			return OutcomeChallenge
		case CardDeclined:
			return OutcomeDecline
		}
		return OutcomeApprove
	case model.InstrumentACH, model.InstrumentDirectDebitMandate:
		return OutcomeSettleLater
	case model.InstrumentBankRedirect:
		return OutcomeRedirect
	default:
		return OutcomeApprove
	}
}

// cardNetwork infers the network from the card number prefix.
func cardNetwork(number string) string {
	switch {
	case strings.HasPrefix(number, "4"):
		return "VISA"
	case strings.HasPrefix(number, "34"), strings.HasPrefix(number, "37"):
		return "AMEX"
	case strings.HasPrefix(number, "5"), strings.HasPrefix(number, "2"):
		return "MASTERCARD"
	case strings.HasPrefix(number, "6"):
		return "DISCOVER"
	case strings.HasPrefix(number, "35"):
		return "JCB"
	default:
		return "OTHER"
	}
}
