package models

import "time"

const (
	BookingAccepted   = "accepted"
	BookingInProgress = "in_progress"
)

// Booking is a paid service session owned by the booking service. Only the
// columns the call lifecycle touches are mapped.
type Booking struct {
	ID            string    `gorm:"column:id;primaryKey" json:"id"`
	Status        string    `gorm:"column:status;type:text" json:"status"`
	RatePerMinute float64   `gorm:"column:rate_per_minute" json:"rate_per_minute"`
	TotalAmount   float64   `gorm:"column:total_amount" json:"total_amount"`
	UpdatedAt     time.Time `gorm:"column:updated_at" json:"updated_at"`
}

func (Booking) TableName() string { return "bookings" }
