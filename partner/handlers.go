/*
Package partner wires partner queue operations to the ledger.

Each registered operation decodes its payload into the financial document
it describes and hands it to the reconciler. All handlers are replay-safe
because the reconciler itself is idempotent, so a retried queue item can
never double-post.
*/
package partner

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atlaspms/finance-core/ledger"
	"github.com/atlaspms/finance-core/queue"
)

// DefaultPartner is the partner code used when a request names none.
const DefaultPartner = "ota"

const (
	OpReceiptSync       = "receipt.sync"
	OpReceiptCancel     = "receipt.cancel"
	OpReservationSync   = "reservation.sync"
	OpReservationCancel = "reservation.cancel"
	OpAck               = "ack"
)

// =============================================================================
// PAYLOADS
// =============================================================================

// ReceiptPayload is the wire shape of a partner-delivered receipt event.
type ReceiptPayload struct {
	ReceiptID     int64   `json:"receiptId"`
	ReceiptNo     string  `json:"receiptNo"`
	Kind          string  `json:"kind"` // PaymentReceipt, Refund, CreditNote
	VoucherCode   string  `json:"voucherCode,omitempty"`
	CustomerID    int64   `json:"customerId"`
	Currency      string  `json:"currency,omitempty"`
	Amount        string  `json:"amount"`
	PaymentMethod string  `json:"paymentMethod,omitempty"`
	InvoiceID     int64   `json:"invoiceId,omitempty"`
	EditSeq       int     `json:"editSeq"`
	Date          string  `json:"date,omitempty"` // RFC 3339
}

// ReservationPayload is the wire shape of a reservation charge event.
type ReservationPayload struct {
	ReservationID int64  `json:"reservationId"`
	ReservationNo string `json:"reservationNo"`
	CustomerID    int64  `json:"customerId"`
	Currency      string `json:"currency,omitempty"`
	Total         string `json:"total"`
	EditSeq       int    `json:"editSeq"`
	Date          string `json:"date,omitempty"`
}

// AckPayload acknowledges receipt of a partner notification; it carries no
// ledger effect and exists so delivery can be tracked in the log.
type AckPayload struct {
	Reference string `json:"reference"`
	Note      string `json:"note,omitempty"`
}

// =============================================================================
// REGISTRATION
// =============================================================================

// RegisterDefaults installs the standard operation set for a partner code.
func RegisterDefaults(reg *queue.Registry, rec *ledger.Reconciler, partnerCode string) {
	if partnerCode == "" {
		partnerCode = DefaultPartner
	}

	reg.Register(queue.Registration{
		Partner:     partnerCode,
		Operation:   OpReceiptSync,
		PayloadType: "ReceiptPayload",
		NewPayload:  func() any { return &ReceiptPayload{} },
		Handle: func(ctx context.Context, item queue.Item, payload any) error {
			rcpt, seq, err := payload.(*ReceiptPayload).toReceipt(item.HotelID)
			if err != nil {
				return queue.Permanent(err)
			}
			_, err = rec.SyncReceipt(ctx, rcpt, seq)
			return classify(err)
		},
	})

	reg.Register(queue.Registration{
		Partner:     partnerCode,
		Operation:   OpReceiptCancel,
		PayloadType: "ReceiptPayload",
		NewPayload:  func() any { return &ReceiptPayload{} },
		Handle: func(ctx context.Context, item queue.Item, payload any) error {
			rcpt, seq, err := payload.(*ReceiptPayload).toReceipt(item.HotelID)
			if err != nil {
				return queue.Permanent(err)
			}
			_, err = rec.CancelReceipt(ctx, rcpt, seq)
			return classify(err)
		},
	})

	reg.Register(queue.Registration{
		Partner:     partnerCode,
		Operation:   OpReservationSync,
		PayloadType: "ReservationPayload",
		NewPayload:  func() any { return &ReservationPayload{} },
		Handle: func(ctx context.Context, item queue.Item, payload any) error {
			rv, seq, err := payload.(*ReservationPayload).toReservation(item.HotelID)
			if err != nil {
				return queue.Permanent(err)
			}
			_, err = rec.SyncReservation(ctx, rv, seq)
			return classify(err)
		},
	})

	reg.Register(queue.Registration{
		Partner:     partnerCode,
		Operation:   OpReservationCancel,
		PayloadType: "ReservationPayload",
		NewPayload:  func() any { return &ReservationPayload{} },
		Handle: func(ctx context.Context, item queue.Item, payload any) error {
			rv, seq, err := payload.(*ReservationPayload).toReservation(item.HotelID)
			if err != nil {
				return queue.Permanent(err)
			}
			_, err = rec.CancelReservation(ctx, rv, seq)
			return classify(err)
		},
	})

	reg.Register(queue.Registration{
		Partner:     partnerCode,
		Operation:   OpAck,
		PayloadType: "AckPayload",
		NewPayload:  func() any { return &AckPayload{} },
		Handle: func(ctx context.Context, item queue.Item, payload any) error {
			if payload.(*AckPayload).Reference == "" {
				return queue.Permanent(fmt.Errorf("ack without reference"))
			}
			return nil
		},
	})
}

// classify maps ledger errors onto the worker's retry semantics: client
// faults will never heal on their own, everything else may.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if ledger.IsClientError(err) {
		return queue.Permanent(err)
	}
	return err
}

// =============================================================================
// PAYLOAD CONVERSION
// =============================================================================

func (p *ReceiptPayload) toReceipt(hotelID int64) (ledger.Receipt, int, error) {
	amount, err := decimal.NewFromString(p.Amount)
	if err != nil {
		return ledger.Receipt{}, 0, fmt.Errorf("amount %q: %w", p.Amount, err)
	}
	kind := ledger.SourceKind(p.Kind)
	switch kind {
	case ledger.SourcePaymentReceipt, ledger.SourceRefund, ledger.SourceCreditNote:
	case "":
		kind = ledger.SourcePaymentReceipt
	default:
		return ledger.Receipt{}, 0, fmt.Errorf("unknown receipt kind %q", p.Kind)
	}
	return ledger.Receipt{
		ReceiptID:     p.ReceiptID,
		ReceiptNo:     p.ReceiptNo,
		Kind:          kind,
		VoucherCode:   p.VoucherCode,
		CustomerID:    p.CustomerID,
		HotelID:       hotelID,
		Currency:      p.Currency,
		Amount:        amount,
		PaymentMethod: p.PaymentMethod,
		InvoiceID:     p.InvoiceID,
		Date:          parseDate(p.Date),
	}, p.EditSeq, nil
}

func (p *ReservationPayload) toReservation(hotelID int64) (ledger.Reservation, int, error) {
	total, err := decimal.NewFromString(p.Total)
	if err != nil {
		return ledger.Reservation{}, 0, fmt.Errorf("total %q: %w", p.Total, err)
	}
	return ledger.Reservation{
		ReservationID: p.ReservationID,
		ReservationNo: p.ReservationNo,
		CustomerID:    p.CustomerID,
		HotelID:       hotelID,
		Currency:      p.Currency,
		Total:         total,
		Date:          parseDate(p.Date),
	}, p.EditSeq, nil
}

func parseDate(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}
