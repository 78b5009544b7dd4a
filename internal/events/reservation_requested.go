package events

const EventTypeReservationRequested = "ReservationRequested"

// ReservationRequested is sent by partners that book over the broker instead of HTTP.
// Envelopes are partitioned by partner id and sequenced by the sender.
type ReservationRequested struct {
	RequestID string `json:"requestId,omitempty"`
	PartnerID string `json:"partnerId"`
	Seats     int    `json:"seats"`
}

type reservationRequestedMessage struct {
	Envelope *Envelope
	Payload  ReservationRequested
}
