package order

import (
	"fmt"
	"strings"
)

// Status is the lifecycle state of an order.
type Status string

const (
	// StatusPending marks a placeholder created by the asynchronous checkout
	// path that the queue consumer has not materialized yet.
	StatusPending        Status = "PENDING"
	StatusWaitingPayment Status = "WAITING_PAYMENT"
	StatusProcess        Status = "PROCESS"
	StatusShip           Status = "SHIP"
	StatusComplete       Status = "COMPLETE"
	StatusExpired        Status = "EXPIRED"
	// StatusFailed marks a placeholder whose materialization was rolled back.
	StatusFailed Status = "FAILED"
)

var statuses = []Status{
	StatusPending,
	StatusWaitingPayment,
	StatusProcess,
	StatusShip,
	StatusComplete,
	StatusExpired,
	StatusFailed,
}

// transitions lists the allowed next states. There are no reverse edges and
// no skipping.
var transitions = map[Status][]Status{
	StatusPending:        {StatusWaitingPayment, StatusFailed},
	StatusWaitingPayment: {StatusProcess, StatusExpired},
	StatusProcess:        {StatusShip},
	StatusShip:           {StatusComplete},
}

// CanTransition reports whether from -> to is an edge of the lifecycle.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// PaymentMethod is how a customer paid.
type PaymentMethod string

const (
	PaymentBank       PaymentMethod = "BANK"
	PaymentCreditCard PaymentMethod = "CREDIT_CARD"
	PaymentEWallet    PaymentMethod = "E_WALLET"
)

var paymentMethods = []PaymentMethod{PaymentBank, PaymentCreditCard, PaymentEWallet}

// PaymentStatus is the result recorded on a Transaction.
type PaymentStatus string

const (
	PaymentPending PaymentStatus = "PENDING"
	PaymentFailed  PaymentStatus = "FAILED"
	PaymentSuccess PaymentStatus = "SUCCESS"
)

// ParseError reports an input that is not a member of a closed set.
type ParseError struct {
	Kind  string
	Input string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%q is not a valid %s", e.Input, e.Kind)
}

// ParseStatus parses s case-insensitively.
func ParseStatus(s string) (Status, error) {
	v := Status(strings.ToUpper(strings.TrimSpace(s)))
	for _, st := range statuses {
		if st == v {
			return st, nil
		}
	}
	return "", &ParseError{Kind: "order status", Input: s}
}

// ParsePaymentMethod parses s case-insensitively.
func ParsePaymentMethod(s string) (PaymentMethod, error) {
	v := PaymentMethod(strings.ToUpper(strings.TrimSpace(s)))
	for _, pm := range paymentMethods {
		if pm == v {
			return pm, nil
		}
	}
	return "", &ParseError{Kind: "payment method", Input: s}
}
