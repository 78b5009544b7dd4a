package reservation

import "time"

const MaxSeatsPerReservation = 10

type Reservation struct {
	ID        string    `json:"reservationId"`
	EventID   string    `json:"eventId"`
	PartnerID string    `json:"partnerId"`
	Seats     int       `json:"seats"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (r Reservation) Active() bool {
	return r.Status == StatusConfirmed
}

// Tally is the confirmed side of an event: how many reservations hold seats and how many
// seats they hold in total.
type Tally struct {
	Reservations int
	Seats        int
}
