package domain

type CheckoutState string

const (
	CheckoutIdle       CheckoutState = "IDLE"
	CheckoutFormOpen   CheckoutState = "FORM_OPEN"
	CheckoutSubmitting CheckoutState = "SUBMITTING"
	CheckoutConfirmed  CheckoutState = "CONFIRMED"
	CheckoutClosed     CheckoutState = "CLOSED"
)

var checkoutTransitions = map[CheckoutState][]CheckoutState{
	CheckoutIdle:       {CheckoutFormOpen},
	CheckoutFormOpen:   {CheckoutIdle, CheckoutSubmitting},
	CheckoutSubmitting: {CheckoutConfirmed, CheckoutFormOpen},
	CheckoutConfirmed:  {CheckoutClosed},
	CheckoutClosed:     {CheckoutIdle, CheckoutFormOpen},
}

func (s CheckoutState) CanTransitionTo(next CheckoutState) bool {
	for _, allowed := range checkoutTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// String representation (for logging)
func (s CheckoutState) String() string {
	return string(s)
}
