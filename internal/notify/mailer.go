// Package notify delivers purchased tickets to customers by email.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"booking-service/internal/apperr"
	"booking-service/internal/models"
	"booking-service/internal/store"
	"booking-service/internal/util"

	"github.com/wneessen/go-mail"
	"github.com/yeqown/go-qrcode"
	"go.uber.org/zap"
)

// Sender sends prepared messages. *mail.Client satisfies it.
type Sender interface {
	DialAndSendWithContext(ctx context.Context, messages ...*mail.Msg) error
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
}

// NewSMTPClient creates a go-mail client using PLAIN auth
func NewSMTPClient(cfg SMTPConfig) (*mail.Client, error) {
	opts := []mail.Option{mail.WithPort(cfg.Port)}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}
	c, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize smtp client: %w", err)
	}
	return c, nil
}

// MailNotifier emails the tickets of a paid order with one QR code per ticket
type MailNotifier struct {
	repo     store.Repository
	sender   Sender
	from     string
	fromName string
	logger   *zap.Logger
}

func NewMailNotifier(repo store.Repository, sender Sender, from, fromName string) *MailNotifier {
	return &MailNotifier{
		repo:     repo,
		sender:   sender,
		from:     from,
		fromName: fromName,
		logger:   util.GetLogger(),
	}
}

// SendTicketsReady loads the order and mails its tickets to the contact address
func (n *MailNotifier) SendTicketsReady(ctx context.Context, orderID string) error {
	ctx, span := util.StartSpan(ctx, "MailNotifier.SendTicketsReady")
	defer span.End()

	order, err := n.repo.GetOrder(ctx, orderID)
	if err != nil {
		util.RecordError(span, err)
		return err
	}
	if order.Status != models.OrderStatusSuccess {
		return apperr.InvalidRequest("order %s is not paid", orderID)
	}
	if order.ContactEmail == "" {
		return apperr.InvalidRequest("order %s has no contact email", orderID)
	}

	event, err := n.repo.GetEvent(ctx, order.EventID)
	if err != nil {
		util.RecordError(span, err)
		return err
	}
	tickets, err := n.repo.ListTicketsByIDs(ctx, order.TicketIDs)
	if err != nil {
		util.RecordError(span, err)
		return err
	}

	msg, err := n.buildMessage(order, event, tickets)
	if err != nil {
		util.RecordError(span, err)
		return err
	}
	if err := n.sender.DialAndSendWithContext(ctx, msg); err != nil {
		util.RecordError(span, err)
		return fmt.Errorf("failed to send tickets for order %s: %w", orderID, err)
	}

	n.logger.Info("Tickets delivered",
		zap.String("order_id", order.ID),
		zap.Int("tickets", len(tickets)))
	return nil
}

func (n *MailNotifier) buildMessage(order *models.Order, event *models.Event, tickets []models.Ticket) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if err := msg.FromFormat(n.fromName, n.from); err != nil {
		return nil, fmt.Errorf("failed to set From address: %w", err)
	}
	if err := msg.To(order.ContactEmail); err != nil {
		return nil, fmt.Errorf("failed to set To address: %w", err)
	}
	msg.Subject(fmt.Sprintf("Your tickets for %s", event.Title))
	msg.SetBodyString(mail.TypeTextPlain, ticketsBody(order, event, tickets))

	for _, t := range tickets {
		img, err := qrImage(t.Code)
		if err != nil {
			return nil, err
		}
		if err := msg.AttachReader(t.Code+".jpeg", img); err != nil {
			return nil, fmt.Errorf("failed to attach ticket %s: %w", t.Code, err)
		}
	}
	return msg, nil
}

// qrImage encodes a ticket code as a JPEG QR code
func qrImage(code string) (*bytes.Buffer, error) {
	qrc, err := qrcode.New(code)
	if err != nil {
		return nil, fmt.Errorf("failed to encode qrcode for %s: %w", code, err)
	}
	buf := &bytes.Buffer{}
	if err := qrc.SaveTo(buf); err != nil {
		return nil, fmt.Errorf("failed to render qrcode for %s: %w", code, err)
	}
	return buf, nil
}

func ticketsBody(order *models.Order, event *models.Event, tickets []models.Ticket) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Thanks for your order %s.\n\n", order.ID)
	fmt.Fprintf(&b, "%s\n%s - %s\n\n",
		event.Title,
		event.StartDate.Format("Mon, 02 Jan 2006 15:04 MST"),
		event.EndDate.Format("Mon, 02 Jan 2006 15:04 MST"))
	for _, t := range tickets {
		fmt.Fprintf(&b, "  %s  %s  %s %s\n", t.Code, t.TicketType, t.Price.StringFixed(2), order.Currency)
	}
	fmt.Fprintf(&b, "\nTotal paid: %s %s\n", order.TotalAmount.StringFixed(2), order.Currency)
	b.WriteString("Show the attached QR codes at the entrance.\n")
	return b.String()
}
