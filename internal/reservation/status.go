package reservation

type Status string

const (
	StatusConfirmed Status = "confirmed"
	// StatusCancelled is terminal.
	StatusCancelled Status = "cancelled"
)

// CanTransitionTo reports whether the status machine allows moving from s to next.
func (s Status) CanTransitionTo(next Status) bool {
	return s == StatusConfirmed && next == StatusCancelled
}
