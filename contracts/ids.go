package contracts

import "github.com/google/uuid"

// NewTransactionID returns a time-ordered unique id.
func NewTransactionID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
