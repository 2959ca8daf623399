// Package memstore is an in-process store.Repository for development and tests.
// Transactions are serialized: WithTx holds the store lock, works on a copy of
// the data and swaps it in on success.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"booking-service/internal/apperr"
	"booking-service/internal/models"
	"booking-service/internal/store"

	"github.com/lib/pq"
)

const dayLayout = "2006-01-02"

type state struct {
	events   map[string]models.Event
	orders   map[string]models.Order
	tickets  map[string]models.Ticket
	checkIns map[string][]models.DailyCheckIn
	codes    map[string]string
}

func newState() *state {
	return &state{
		events:   map[string]models.Event{},
		orders:   map[string]models.Order{},
		tickets:  map[string]models.Ticket{},
		checkIns: map[string][]models.DailyCheckIn{},
		codes:    map[string]string{},
	}
}

func (st *state) clone() *state {
	c := newState()
	for k, v := range st.events {
		c.events[k] = copyEvent(v)
	}
	for k, v := range st.orders {
		c.orders[k] = copyOrder(v)
	}
	for k, v := range st.tickets {
		c.tickets[k] = copyTicket(v)
	}
	for k, v := range st.checkIns {
		c.checkIns[k] = append([]models.DailyCheckIn(nil), v...)
	}
	for k, v := range st.codes {
		c.codes[k] = v
	}
	return c
}

type memDB struct {
	mu    sync.Mutex
	state *state
}

type Store struct {
	db *memDB
	tx *state
}

var _ store.Repository = (*Store)(nil)

func New() *Store {
	return &Store{db: &memDB{state: newState()}}
}

func (s *Store) do(fn func(st *state) error) error {
	if s.tx != nil {
		return fn(s.tx)
	}
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	return fn(s.db.state)
}

func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, repo store.Repository) error) error {
	if s.tx != nil {
		return fn(ctx, s)
	}

	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	work := s.db.state.clone()
	if err := fn(ctx, &Store{db: s.db, tx: work}); err != nil {
		return err
	}
	s.db.state = work
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (s *Store) CreateEvent(ctx context.Context, event *models.Event) error {
	return s.do(func(st *state) error {
		if _, ok := st.events[event.ID]; ok {
			return apperr.InvalidRequest("event %s already exists", event.ID)
		}
		st.events[event.ID] = copyEvent(*event)
		return nil
	})
}

func (s *Store) GetEvent(ctx context.Context, id string) (*models.Event, error) {
	var out models.Event
	err := s.do(func(st *state) error {
		e, ok := st.events[id]
		if !ok {
			return apperr.NotFound("event %s not found", id)
		}
		out = copyEvent(e)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out.TicketTypes, func(i, j int) bool { return out.TicketTypes[i].Category < out.TicketTypes[j].Category })
	return &out, nil
}

func (s *Store) GetTicketType(ctx context.Context, eventID, category string) (*models.TicketType, error) {
	var out models.TicketType
	err := s.do(func(st *state) error {
		e, ok := st.events[eventID]
		if !ok {
			return apperr.NotFound("ticket type %s not found on event %s", category, eventID)
		}
		tt := e.TicketType(category)
		if tt == nil {
			return apperr.NotFound("ticket type %s not found on event %s", category, eventID)
		}
		out = *tt
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *Store) IncrementSold(ctx context.Context, eventID, category string, quantity int) (bool, error) {
	var matched bool
	err := s.do(func(st *state) error {
		e, ok := st.events[eventID]
		if !ok {
			return nil
		}
		tt := e.TicketType(category)
		if tt == nil || tt.Sold+quantity > tt.Quantity {
			return nil
		}
		tt.Sold += quantity
		st.events[eventID] = e
		matched = true
		return nil
	})
	return matched, err
}

func (s *Store) CreateOrder(ctx context.Context, order *models.Order) error {
	return s.do(func(st *state) error {
		if _, ok := st.orders[order.ID]; ok {
			return apperr.InvalidRequest("order %s already exists", order.ID)
		}
		for _, o := range st.orders {
			if o.ProviderOrderID == order.ProviderOrderID {
				return apperr.InvalidRequest("provider order %s already used", order.ProviderOrderID)
			}
			if order.IdempotencyKey != "" && o.UserID == order.UserID && o.IdempotencyKey == order.IdempotencyKey {
				return apperr.InvalidRequest("idempotency key %s already used", order.IdempotencyKey)
			}
		}
		st.orders[order.ID] = copyOrder(*order)
		return nil
	})
}

func (s *Store) findOrder(match func(models.Order) bool) (*models.Order, error) {
	var out *models.Order
	err := s.do(func(st *state) error {
		for _, o := range st.orders {
			if match(o) {
				c := copyOrder(o)
				out = &c
				return nil
			}
		}
		return nil
	})
	return out, err
}

func (s *Store) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	o, err := s.findOrder(func(o models.Order) bool { return o.ID == id })
	if err == nil && o == nil {
		err = apperr.NotFound("order %s not found", id)
	}
	return o, err
}

func (s *Store) GetOrderByProviderOrderID(ctx context.Context, providerOrderID string) (*models.Order, error) {
	o, err := s.findOrder(func(o models.Order) bool { return o.ProviderOrderID == providerOrderID })
	if err == nil && o == nil {
		err = apperr.NotFound("order for provider order %s not found", providerOrderID)
	}
	return o, err
}

func (s *Store) GetOrderByIdempotencyKey(ctx context.Context, userID, key string) (*models.Order, error) {
	return s.findOrder(func(o models.Order) bool { return o.UserID == userID && o.IdempotencyKey == key })
}

func (s *Store) SetOrderTickets(ctx context.Context, orderID string, ticketIDs []string, now time.Time) error {
	return s.do(func(st *state) error {
		o, ok := st.orders[orderID]
		if !ok {
			return apperr.NotFound("order %s not found", orderID)
		}
		o.TicketIDs = append(pq.StringArray{}, ticketIDs...)
		o.UpdatedAt = now
		st.orders[orderID] = o
		return nil
	})
}

func (s *Store) MarkOrderPaid(ctx context.Context, orderID, paymentID, signature string, now time.Time) (bool, error) {
	var ok bool
	err := s.do(func(st *state) error {
		o, found := st.orders[orderID]
		if !found || o.Status != models.OrderStatusPending {
			return nil
		}
		o.Status = models.OrderStatusSuccess
		o.ProviderPaymentID = paymentID
		o.ProviderSignature = signature
		o.UpdatedAt = now
		st.orders[orderID] = o
		ok = true
		return nil
	})
	return ok, err
}

func (s *Store) CancelExpiredOrder(ctx context.Context, orderID string, now time.Time) (bool, error) {
	var ok bool
	err := s.do(func(st *state) error {
		o, found := st.orders[orderID]
		if !found || o.Status != models.OrderStatusPending || o.ExpiresAt.After(now) {
			return nil
		}
		o.Status = models.OrderStatusCancelled
		o.UpdatedAt = now
		st.orders[orderID] = o
		ok = true
		return nil
	})
	return ok, err
}

func (s *Store) DeleteOrder(ctx context.Context, orderID string) error {
	return s.do(func(st *state) error {
		delete(st.orders, orderID)
		return nil
	})
}

func (s *Store) ListExpiredOrders(ctx context.Context, now time.Time, limit int) ([]models.Order, error) {
	out := []models.Order{}
	err := s.do(func(st *state) error {
		for _, o := range st.orders {
			if o.Status == models.OrderStatusPending && !o.ExpiresAt.After(now) {
				out = append(out, copyOrder(o))
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, err
}

func (s *Store) CreateTickets(ctx context.Context, tickets []models.Ticket) error {
	return s.do(func(st *state) error {
		for _, t := range tickets {
			if _, ok := st.tickets[t.ID]; ok {
				return apperr.InvalidRequest("ticket %s already exists", t.ID)
			}
			if _, ok := st.codes[t.Code]; ok {
				return fmt.Errorf("ticket code %s: %w", t.Code, store.ErrDuplicateTicketCode)
			}
		}
		for _, t := range tickets {
			st.tickets[t.ID] = copyTicket(t)
			st.codes[t.Code] = t.ID
		}
		return nil
	})
}

func (s *Store) ListTicketsByIDs(ctx context.Context, ids []string) ([]models.Ticket, error) {
	out := make([]models.Ticket, 0, len(ids))
	err := s.do(func(st *state) error {
		for _, id := range ids {
			t, ok := st.tickets[id]
			if !ok {
				continue
			}
			t = copyTicket(t)
			t.DailyCheckIns = append([]models.DailyCheckIn(nil), st.checkIns[id]...)
			out = append(out, t)
		}
		return nil
	})
	return out, err
}

func (s *Store) updateTickets(ids []string, fn func(t *models.Ticket) bool) (int64, error) {
	var n int64
	err := s.do(func(st *state) error {
		for _, id := range ids {
			t, ok := st.tickets[id]
			if !ok {
				continue
			}
			if fn(&t) {
				st.tickets[id] = t
				n++
			}
		}
		return nil
	})
	return n, err
}

func (s *Store) BookTickets(ctx context.Context, ids []string, now time.Time) (int64, error) {
	return s.updateTickets(ids, func(t *models.Ticket) bool {
		if t.Status == models.TicketStatusBooked {
			return false
		}
		t.Status = models.TicketStatusBooked
		t.ExpiresAt = nil
		t.UpdatedAt = now
		return true
	})
}

func (s *Store) CancelTickets(ctx context.Context, ids []string, now time.Time) (int64, error) {
	return s.updateTickets(ids, func(t *models.Ticket) bool {
		if t.Status == models.TicketStatusCancelled {
			return false
		}
		t.Status = models.TicketStatusCancelled
		t.UpdatedAt = now
		return true
	})
}

func (s *Store) updateEvents(now time.Time, target string, match func(e models.Event) bool) (int64, error) {
	var n int64
	err := s.do(func(st *state) error {
		for id, e := range st.events {
			if e.Status == target || e.Status == models.EventStatusCancelled || !match(e) {
				continue
			}
			e.Status = target
			e.UpdatedAt = now
			st.events[id] = e
			n++
		}
		return nil
	})
	return n, err
}

func (s *Store) MarkEventsPending(ctx context.Context, now time.Time) (int64, error) {
	return s.updateEvents(now, models.EventStatusPending, func(e models.Event) bool {
		return e.StartDate.After(now)
	})
}

func (s *Store) MarkEventsActive(ctx context.Context, now time.Time) (int64, error) {
	return s.updateEvents(now, models.EventStatusActive, func(e models.Event) bool {
		return !e.StartDate.After(now) && !e.EndDate.Before(now)
	})
}

func (s *Store) MarkEventsCompleted(ctx context.Context, now time.Time) (int64, error) {
	return s.updateEvents(now, models.EventStatusCompleted, func(e models.Event) bool {
		return e.EndDate.Before(now)
	})
}

func (s *Store) ResetDailyCheckIns(ctx context.Context, day time.Time) (int64, error) {
	var n int64
	key := day.Format(dayLayout)
	err := s.do(func(st *state) error {
		for ticketID, list := range st.checkIns {
			t, ok := st.tickets[ticketID]
			if !ok {
				continue
			}
			e, ok := st.events[t.EventID]
			if !ok || e.Status != models.EventStatusActive || !e.MultiDay() {
				continue
			}
			for i := range list {
				if list[i].Date.Format(dayLayout) == key && list[i].Status == models.CheckInStatusUsed {
					list[i].Status = models.CheckInStatusPending
					list[i].CheckedInAt = nil
					n++
				}
			}
		}
		return nil
	})
	return n, err
}

func (s *Store) ExpireCompletedEventTickets(ctx context.Context, expiresAt, now time.Time) (int64, error) {
	var n int64
	err := s.do(func(st *state) error {
		for id, t := range st.tickets {
			e, ok := st.events[t.EventID]
			if !ok || e.Status != models.EventStatusCompleted {
				continue
			}
			if t.Status != models.TicketStatusBooked && t.Status != models.TicketStatusUsed {
				continue
			}
			exp := expiresAt
			t.Status = models.TicketStatusExpired
			t.ExpiresAt = &exp
			t.UpdatedAt = now
			st.tickets[id] = t
			n++
		}
		return nil
	})
	return n, err
}

func (s *Store) ReconcileTicketStatuses(ctx context.Context, now time.Time) (int64, error) {
	var n int64
	err := s.do(func(st *state) error {
		for id, t := range st.tickets {
			e, ok := st.events[t.EventID]
			if !ok {
				continue
			}
			if e.Status != models.EventStatusCompleted && e.Status != models.EventStatusCancelled {
				continue
			}
			switch {
			case t.Status == models.TicketStatusPending:
				t.Status = models.TicketStatusCancelled
			case t.Status == models.TicketStatusBooked && e.Status == models.EventStatusCompleted:
				t.Status = models.TicketStatusExpired
			case t.Status == models.TicketStatusBooked:
				t.Status = models.TicketStatusRefunded
			default:
				continue
			}
			t.UpdatedAt = now
			st.tickets[id] = t
			n++
		}
		return nil
	})
	return n, err
}

func (s *Store) AppendDailyCheckIns(ctx context.Context, day, now time.Time) (int64, error) {
	var n int64
	key := day.Format(dayLayout)
	err := s.do(func(st *state) error {
		for id, t := range st.tickets {
			e, ok := st.events[t.EventID]
			if !ok || e.Status != models.EventStatusActive || !e.EndDate.After(now) || t.Status != models.TicketStatusBooked {
				continue
			}
			exists := false
			for _, c := range st.checkIns[id] {
				if c.Date.Format(dayLayout) == key {
					exists = true
					break
				}
			}
			if exists {
				continue
			}
			st.checkIns[id] = append(st.checkIns[id], models.DailyCheckIn{
				TicketID: id,
				Date:     day,
				Status:   models.CheckInStatusPending,
			})
			n++
		}
		return nil
	})
	return n, err
}

// SetCheckIn records a check-in for a ticket on day. Check-in itself lives
// outside this service; tests and development seeding use it.
func (s *Store) SetCheckIn(ticketID string, day time.Time, checkedInAt *time.Time, status string) {
	_ = s.do(func(st *state) error {
		key := day.Format(dayLayout)
		list := st.checkIns[ticketID]
		for i := range list {
			if list[i].Date.Format(dayLayout) == key {
				list[i].CheckedInAt = checkedInAt
				list[i].Status = status
				return nil
			}
		}
		st.checkIns[ticketID] = append(list, models.DailyCheckIn{TicketID: ticketID, Date: day, CheckedInAt: checkedInAt, Status: status})
		return nil
	})
}

// SetTicketStatus overrides a ticket's status. Used for seeding.
func (s *Store) SetTicketStatus(ticketID, status string) {
	_ = s.do(func(st *state) error {
		if t, ok := st.tickets[ticketID]; ok {
			t.Status = status
			st.tickets[ticketID] = t
		}
		return nil
	})
}

// SetEventStatus overrides an event's status, e.g. to cancel it.
func (s *Store) SetEventStatus(eventID, status string) {
	_ = s.do(func(st *state) error {
		if e, ok := st.events[eventID]; ok {
			e.Status = status
			st.events[eventID] = e
		}
		return nil
	})
}

func copyEvent(e models.Event) models.Event {
	e.TicketTypes = append([]models.TicketType(nil), e.TicketTypes...)
	return e
}

func copyOrder(o models.Order) models.Order {
	o.Items = append(models.OrderItems(nil), o.Items...)
	o.TicketIDs = append(pq.StringArray{}, o.TicketIDs...)
	return o
}

func copyTicket(t models.Ticket) models.Ticket {
	if t.ExpiresAt != nil {
		exp := *t.ExpiresAt
		t.ExpiresAt = &exp
	}
	t.DailyCheckIns = nil
	return t
}
