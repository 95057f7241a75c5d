package sales

import "strings"

// PaymentMethod is the tender an order was settled with
type PaymentMethod string

const (
	PaymentCash   PaymentMethod = "CASH"
	PaymentCard   PaymentMethod = "CARD"
	PaymentMobile PaymentMethod = "MOBILE"
	// PaymentUnknown leaves every payment bucket untouched
	PaymentUnknown PaymentMethod = ""
)

// ParsePaymentMethod maps a collaborator-supplied tender name onto a known method.
// Anything unrecognised becomes PaymentUnknown.
func ParsePaymentMethod(s string) PaymentMethod {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "CASH":
		return PaymentCash
	case "CARD", "CREDIT_CARD", "DEBIT_CARD":
		return PaymentCard
	case "MOBILE", "MOBILE_PAY", "WALLET":
		return PaymentMobile
	default:
		return PaymentUnknown
	}
}

// IsKnown reports whether the method maps to a payment bucket
func (p PaymentMethod) IsKnown() bool {
	return p == PaymentCash || p == PaymentCard || p == PaymentMobile
}

// String returns the string representation
func (p PaymentMethod) String() string {
	return string(p)
}
