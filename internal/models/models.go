package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// Event represents a ticketed event together with its ticket inventory
type Event struct {
	ID          string       `db:"id" json:"id"`
	Title       string       `db:"title" json:"title"`
	StartDate   time.Time    `db:"start_date" json:"start_date"`
	EndDate     time.Time    `db:"end_date" json:"end_date"`
	Status      string       `db:"status" json:"status"`
	TicketTypes []TicketType `db:"-" json:"ticket_types"`
	CreatedAt   time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time    `db:"updated_at" json:"updated_at"`
}

// TicketType returns the ticket type with the given category, or nil
func (e *Event) TicketType(category string) *TicketType {
	for i := range e.TicketTypes {
		if e.TicketTypes[i].Category == category {
			return &e.TicketTypes[i]
		}
	}
	return nil
}

// MultiDay reports whether the event spans more than one calendar day
func (e *Event) MultiDay() bool {
	sy, sm, sd := e.StartDate.Date()
	ey, em, ed := e.EndDate.Date()
	return time.Date(ey, em, ed, 0, 0, 0, 0, time.UTC).After(time.Date(sy, sm, sd, 0, 0, 0, 0, time.UTC))
}

// TicketType is one row of the inventory ledger: capacity and units sold
// for a category on an event.
type TicketType struct {
	EventID  string          `db:"event_id" json:"-"`
	Category string          `db:"category" json:"type"`
	Price    decimal.Decimal `db:"price" json:"price"`
	Quantity int             `db:"quantity" json:"quantity"`
	Sold     int             `db:"sold" json:"sold"`
}

// Available returns the units that can still be sold
func (t TicketType) Available() int {
	return t.Quantity - t.Sold
}

// OrderItem is a requested ticket type and quantity on an order
type OrderItem struct {
	Type      string          `json:"type"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// OrderItems is stored as a jsonb column
type OrderItems []OrderItem

func (o OrderItems) Value() (driver.Value, error) {
	b, err := json.Marshal(o)
	return string(b), err
}

func (o *OrderItems) Scan(value interface{}) error {
	var b []byte
	switch v := value.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return errors.New("type assertion to []byte failed")
	}
	return json.Unmarshal(b, o)
}

// Quantities sums requested quantities per ticket type
func (o OrderItems) Quantities() map[string]int {
	out := make(map[string]int, len(o))
	for _, item := range o {
		out[item.Type] += item.Quantity
	}
	return out
}

// Order represents one checkout attempt
type Order struct {
	ID                string          `db:"id" json:"id"`
	UserID            string          `db:"user_id" json:"user_id"`
	EventID           string          `db:"event_id" json:"event_id"`
	Items             OrderItems      `db:"items" json:"items"`
	TotalAmount       decimal.Decimal `db:"total_amount" json:"total_amount"`
	Currency          string          `db:"currency" json:"currency"`
	Provider          string          `db:"provider" json:"provider"`
	ProviderOrderID   string          `db:"provider_order_id" json:"provider_order_id"`
	ProviderPaymentID string          `db:"provider_payment_id" json:"provider_payment_id,omitempty"`
	ProviderSignature string          `db:"provider_signature" json:"-"`
	Status            string          `db:"status" json:"status"`
	ContactEmail      string          `db:"contact_email" json:"contact_email,omitempty"`
	IdempotencyKey    string          `db:"idempotency_key" json:"idempotency_key,omitempty"`
	ExpiresAt         time.Time       `db:"expires_at" json:"expires_at"`
	TicketIDs         pq.StringArray  `db:"ticket_ids" json:"ticket_ids"`
	CreatedAt         time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time       `db:"updated_at" json:"updated_at"`
}

// Ticket is one purchased admission unit
type Ticket struct {
	ID            string          `db:"id" json:"id"`
	OrderID       string          `db:"order_id" json:"order_id"`
	UserID        string          `db:"user_id" json:"user_id"`
	EventID       string          `db:"event_id" json:"event_id"`
	Code          string          `db:"code" json:"code"`
	TicketType    string          `db:"ticket_type" json:"ticket_type"`
	Price         decimal.Decimal `db:"price" json:"price"`
	Status        string          `db:"status" json:"status"`
	ExpiresAt     *time.Time      `db:"expires_at" json:"expires_at,omitempty"`
	DailyCheckIns []DailyCheckIn  `db:"-" json:"daily_check_ins,omitempty"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at" json:"updated_at"`
}

// DailyCheckIn is the admission record of a ticket for one day of a multi-day event
type DailyCheckIn struct {
	TicketID    string     `db:"ticket_id" json:"-"`
	Date        time.Time  `db:"date" json:"date"`
	CheckedInAt *time.Time `db:"checked_in_at" json:"checked_in_at"`
	Status      string     `db:"status" json:"status"`
}

// Event statuses
const (
	EventStatusPending   = "pending"
	EventStatusActive    = "active"
	EventStatusCompleted = "completed"
	EventStatusCancelled = "cancelled"
)

// Order statuses
const (
	OrderStatusPending           = "pending"
	OrderStatusSuccess           = "success"
	OrderStatusFailed            = "failed"
	OrderStatusCancelled         = "cancelled"
	OrderStatusRefunded          = "refunded"
	OrderStatusPartiallyRefunded = "partially_refunded"
)

// Ticket statuses
const (
	TicketStatusPending   = "pending"
	TicketStatusBooked    = "booked"
	TicketStatusUsed      = "used"
	TicketStatusCancelled = "cancelled"
	TicketStatusRefunded  = "refunded"
	TicketStatusExpired   = "expired"
)

// Check-in statuses
const (
	CheckInStatusPending = "pending"
	CheckInStatusUsed    = "used"
)
