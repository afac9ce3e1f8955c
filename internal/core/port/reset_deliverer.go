package port

import "context"

// ResetDelivery describes a reset link handed to a deliverer.
type ResetDelivery struct {
	Email string
	Name  string
	Token string
}

// ResetDeliverer sends a password reset link to the account owner. Method
// reports the channel used ("smtp" or "console") for audit purposes.
type ResetDeliverer interface {
	DeliverResetLink(ctx context.Context, delivery ResetDelivery) (method string, err error)
}
