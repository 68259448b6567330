package model

// Identity is the authenticated operator and the store they are bound to.
// It is taken from verified request claims and passed explicitly into every
// write operation.
type Identity struct {
	OperatorID string
	StoreID    string
	Role       string
}
