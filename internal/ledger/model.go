package ledger

// Capacity is the seat counter of a single event. Version is bumped by exactly one on every
// successful TryAdjust and is the fencing token callers must present.
type Capacity struct {
	EventID        string `json:"eventId"`
	Name           string `json:"name"`
	TotalSeats     int    `json:"totalSeats"`
	AvailableSeats int    `json:"availableSeats"`
	Version        int    `json:"version"`
}

// CanApply reports whether delta keeps the available count within [0, TotalSeats].
func (c Capacity) CanApply(delta int) bool {
	next := c.AvailableSeats + delta
	return next >= 0 && next <= c.TotalSeats
}
