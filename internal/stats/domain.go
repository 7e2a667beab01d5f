package stats

import (
	"errors"
	"time"
)

var ErrNotFound = errors.New("no snapshot for that date")

// Snapshot is the daily roll-up of library activity. Counts are cumulative
// through the end of the snapshot date; revenue covers that date only.
type Snapshot struct {
	Date                time.Time `json:"date"`
	MemberCount         int       `json:"member_count"`
	ReservationCount    int       `json:"reservation_count"`
	BorrowCount         int       `json:"borrow_count"`
	PenaltyRevenueCents int64     `json:"penalty_revenue_cents"`
	UpdatedAt           time.Time `json:"updated_at"`
}
