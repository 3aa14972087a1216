/*
Reconciler - idempotent projection of financial documents onto the ledger.

PURPOSE:
  The write path persists receipts and reservations first, then calls the
  reconciler to reflect them on the customer ledger. Every entry point may
  be replayed any number of times (crash recovery, queue retries, partner
  re-delivery) without double-counting.

HOW POSTINGS WORK:
  Each (source kind, source id, edit sequence) maps to a target net amount
  for the document. The reconciler compares the target against the net of
  the rows already posted for that source and appends exactly the delta:

    first sync         net 0      -> target  -> one full posting
    replayed sync      net target -> no-op
    edited document    net old    -> target  -> one delta (adjustment) row
    cancellation       net x      -> 0       -> one reversal row of -x

  Rows are never updated or deleted. A replay of a known idempotency key
  with a different fingerprint is a permanent conflict, never a merge.

CONCURRENCY:
  All mutation happens inside Store.WithTx. Races surface as
  ErrConcurrentModification / duplicate-key errors and are retried a
  bounded number of times with short backoff.
*/
package ledger

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// RECONCILER
// =============================================================================

const (
	defaultMaxRetries = 3
	retryBackoffStep  = 10 * time.Millisecond
)

type Reconciler struct {
	store      TxStore
	maxRetries int
	now        func() time.Time
	newID      func() string
}

type Option func(*Reconciler)

// WithClock overrides the time source, used by tests.
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

// WithMaxRetries bounds optimistic-concurrency retries per posting.
func WithMaxRetries(n int) Option {
	return func(r *Reconciler) {
		if n > 0 {
			r.maxRetries = n
		}
	}
}

func NewReconciler(store TxStore, opts ...Option) *Reconciler {
	r := &Reconciler{
		store:      store,
		maxRetries: defaultMaxRetries,
		now:        time.Now,
		newID:      uuid.NewString,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// PostingResult reports the outcome of a sync or cancel call.
// Applied is false when the call was a replay or a no-op skip; the
// account then reflects the already-recorded state.
type PostingResult struct {
	Account     *Account
	Transaction *Transaction
	Applied     bool
}

// =============================================================================
// OPERATIONS
// =============================================================================

// SyncReceipt projects a payment/refund receipt onto the ledger. Credits
// increase the customer balance, debit vouchers and refunds decrease it.
// Safe to replay for any edit sequence.
func (r *Reconciler) SyncReceipt(ctx context.Context, rcpt Receipt, editSeq int) (*PostingResult, error) {
	if err := validateReceipt(rcpt, editSeq); err != nil {
		return nil, postingErr(rcpt.Kind, rcpt.ReceiptID, editSeq, err)
	}
	if rcpt.CustomerID == 0 {
		// Walk-in document with no ledger customer: nothing to reconcile.
		log.Printf("[Ledger] skipping receipt %d (%s): no customer", rcpt.ReceiptID, rcpt.ReceiptNo)
		return &PostingResult{}, nil
	}

	target := rcpt.Amount
	firstType := TxReceipt
	if rcpt.IsDebit() {
		target = target.Neg()
		firstType = TxRefund
	}

	return r.post(ctx, posting{
		kind:          rcpt.Kind,
		sourceID:      rcpt.ReceiptID,
		sourceNo:      rcpt.ReceiptNo,
		editSeq:       editSeq,
		customerID:    rcpt.CustomerID,
		hotelID:       rcpt.HotelID,
		currency:      rcpt.CurrencyOrDefault(),
		target:        target,
		firstType:     firstType,
		editType:      TxAdjustment,
		description:   receiptDescription(rcpt),
		paymentMethod: rcpt.PaymentMethod,
		invoiceID:     rcpt.InvoiceID,
		effectiveAt:   rcpt.Date,
	})
}

// CancelReceipt reverses every net effect the receipt had on the ledger.
// No-op when the receipt never posted or was already reversed.
func (r *Reconciler) CancelReceipt(ctx context.Context, rcpt Receipt, editSeq int) (*PostingResult, error) {
	if err := validateReceipt(rcpt, editSeq); err != nil {
		return nil, postingErr(rcpt.Kind, rcpt.ReceiptID, editSeq, err)
	}
	if rcpt.CustomerID == 0 {
		return &PostingResult{}, nil
	}

	return r.post(ctx, posting{
		kind:        rcpt.Kind,
		sourceID:    rcpt.ReceiptID,
		sourceNo:    rcpt.ReceiptNo,
		editSeq:     editSeq,
		cancel:      true,
		customerID:  rcpt.CustomerID,
		hotelID:     rcpt.HotelID,
		currency:    rcpt.CurrencyOrDefault(),
		target:      decimal.Zero,
		firstType:   TxReversal,
		editType:    TxReversal,
		description: "cancellation of " + receiptDescription(rcpt),
		effectiveAt: rcpt.Date,
	})
}

// SyncReservation projects a reservation's charge total. Edits to the
// total post only the incremental delta.
func (r *Reconciler) SyncReservation(ctx context.Context, rv Reservation, editSeq int) (*PostingResult, error) {
	if err := validateReservation(rv, editSeq); err != nil {
		return nil, postingErr(SourceReservation, rv.ReservationID, editSeq, err)
	}
	if rv.CustomerID == 0 {
		log.Printf("[Ledger] skipping reservation %d (%s): no customer", rv.ReservationID, rv.ReservationNo)
		return &PostingResult{}, nil
	}

	return r.post(ctx, posting{
		kind:        SourceReservation,
		sourceID:    rv.ReservationID,
		sourceNo:    rv.ReservationNo,
		editSeq:     editSeq,
		customerID:  rv.CustomerID,
		hotelID:     rv.HotelID,
		currency:    rv.CurrencyOrDefault(),
		target:      rv.Total.Neg(), // charges reduce the balance
		firstType:   TxReservationCharge,
		editType:    TxAdjustment,
		description: "reservation " + rv.ReservationNo,
		effectiveAt: rv.Date,
	})
}

// CancelReservation reverses a reservation's charges, mirroring
// CancelReceipt.
func (r *Reconciler) CancelReservation(ctx context.Context, rv Reservation, editSeq int) (*PostingResult, error) {
	if err := validateReservation(rv, editSeq); err != nil {
		return nil, postingErr(SourceReservation, rv.ReservationID, editSeq, err)
	}
	if rv.CustomerID == 0 {
		return &PostingResult{}, nil
	}

	return r.post(ctx, posting{
		kind:        SourceReservation,
		sourceID:    rv.ReservationID,
		sourceNo:    rv.ReservationNo,
		editSeq:     editSeq,
		cancel:      true,
		customerID:  rv.CustomerID,
		hotelID:     rv.HotelID,
		currency:    rv.CurrencyOrDefault(),
		target:      decimal.Zero,
		firstType:   TxReversal,
		editType:    TxReversal,
		description: "cancellation of reservation " + rv.ReservationNo,
		effectiveAt: rv.Date,
	})
}

// Balance returns the customer's account for a hotel/currency pair. An
// account that never traded is reported as zero without being persisted.
func (r *Reconciler) Balance(ctx context.Context, customerID, hotelID int64, currency string) (*Account, error) {
	if currency == "" {
		currency = DefaultCurrency
	}
	acct, err := r.store.GetAccount(ctx, customerID, hotelID, currency)
	if errors.Is(err, ErrAccountNotFound) {
		now := r.now().UTC()
		return &Account{
			CustomerID:  customerID,
			HotelID:     hotelID,
			Currency:    currency,
			Balance:     decimal.Zero,
			TotalCredit: decimal.Zero,
			TotalDebit:  decimal.Zero,
			Status:      AccountActive,
			CreatedAt:   now,
			UpdatedAt:   now,
		}, nil
	}
	return acct, err
}

// Transactions lists the account's ledger rows in posting order.
func (r *Reconciler) Transactions(ctx context.Context, customerID, hotelID int64, currency string) ([]Transaction, error) {
	if currency == "" {
		currency = DefaultCurrency
	}
	acct, err := r.store.GetAccount(ctx, customerID, hotelID, currency)
	if errors.Is(err, ErrAccountNotFound) {
		return []Transaction{}, nil
	}
	if err != nil {
		return nil, err
	}
	return r.store.TransactionsByAccount(ctx, acct.ID)
}

// Rebuild re-derives the cached account aggregates from the transaction
// log. The log is authoritative; this repairs any drift in the header.
func (r *Reconciler) Rebuild(ctx context.Context, id AccountID) (*Account, error) {
	var rebuilt *Account
	err := r.store.WithTx(ctx, func(s Store) error {
		acct, err := s.GetAccountByID(ctx, id)
		if err != nil {
			return err
		}
		rows, err := s.TransactionsByAccount(ctx, acct.ID)
		if err != nil {
			return err
		}

		credit, debit := decimal.Zero, decimal.Zero
		var lastAt *time.Time
		for i := range rows {
			if rows[i].Status != TxActive {
				continue
			}
			credit = credit.Add(rows[i].Credit)
			debit = debit.Add(rows[i].Debit)
			at := rows[i].CreatedAt
			lastAt = &at
		}

		acct.TotalCredit = credit
		acct.TotalDebit = debit
		acct.Balance = credit.Sub(debit)
		acct.LastTxAt = lastAt
		acct.UpdatedAt = r.now().UTC()
		if err := s.SaveAccount(ctx, acct); err != nil {
			return err
		}
		rebuilt = acct
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.Printf("[Ledger] rebuilt account %s: balance %s", rebuilt.ID, rebuilt.Balance.StringFixed(2))
	return rebuilt, nil
}

// =============================================================================
// CORE POSTING ROUTINE
// =============================================================================

type posting struct {
	kind       SourceKind
	sourceID   int64
	sourceNo   string
	editSeq    int
	cancel     bool
	customerID int64
	hotelID    int64
	currency   string

	// target is the signed net amount the source should contribute to the
	// balance after this posting (zero for cancellations).
	target decimal.Decimal

	firstType TransactionType
	editType  TransactionType

	description   string
	paymentMethod string
	invoiceID     int64
	effectiveAt   time.Time
}

func (p posting) key() string {
	k := IdemKey(p.kind, p.sourceID, p.editSeq)
	if p.cancel {
		k += ":cancel"
	}
	return k
}

func (r *Reconciler) post(ctx context.Context, p posting) (*PostingResult, error) {
	key := p.key()
	fp := PostingFingerprint(p.kind, p.sourceID, p.editSeq, p.target, p.currency)

	var res *PostingResult
	err := r.withRetry(ctx, func() error {
		res = nil
		return r.store.WithTx(ctx, func(s Store) error {
			// Replay of a known key: verify the payload matches and return
			// the recorded outcome.
			prior, err := s.TransactionByKey(ctx, key)
			if err != nil {
				return err
			}
			if prior != nil {
				if prior.Currency != p.currency {
					return ErrCurrencyMismatch
				}
				if prior.Fingerprint != fp {
					return ErrIdempotencyConflict
				}
				acct, err := s.GetAccountByID(ctx, prior.AccountID)
				if err != nil {
					return err
				}
				res = &PostingResult{Account: acct, Transaction: prior, Applied: false}
				return nil
			}

			acct, created, err := r.resolveAccount(ctx, s, p)
			if err != nil {
				return err
			}
			if !acct.Postable() {
				return ErrAccountNotPostable
			}

			rows, err := s.TransactionsBySource(ctx, acct.ID, p.kind, p.sourceID)
			if err != nil {
				return err
			}
			net := decimal.Zero
			for i := range rows {
				if rows[i].Status == TxActive {
					net = net.Add(rows[i].Signed())
				}
			}

			delta := p.target.Sub(net)
			if delta.IsZero() {
				// Already at the target state (e.g. cancelling a receipt
				// that never posted, or re-editing back to the same total).
				res = &PostingResult{Account: acct, Applied: false}
				return nil
			}

			now := r.now().UTC()
			row := &Transaction{
				ID:               TransactionID(r.newID()),
				AccountID:        acct.ID,
				CustomerID:       p.customerID,
				HotelID:          p.hotelID,
				SourceKind:       p.kind,
				SourceID:         p.sourceID,
				SourceNo:         p.sourceNo,
				EditSeq:          p.editSeq,
				IdempotencyKey:   key,
				Fingerprint:      fp,
				Type:             p.firstType,
				Status:           TxActive,
				Currency:         acct.Currency,
				BalanceAfter:     acct.Balance.Add(delta),
				Description:      p.description,
				PaymentMethod:    p.paymentMethod,
				RelatedInvoiceID: p.invoiceID,
				EffectiveAt:      effectiveOr(p.effectiveAt, now),
				CreatedAt:        now,
			}
			if len(rows) > 0 {
				row.Type = p.editType
			}
			if delta.IsPositive() {
				row.Credit = delta
				row.Debit = decimal.Zero
			} else {
				row.Credit = decimal.Zero
				row.Debit = delta.Neg()
			}

			// The transactions table references the account row, so a
			// lazily created header must exist before its first row.
			if created {
				if err := s.SaveAccount(ctx, acct); err != nil {
					return err
				}
			}

			if err := s.AppendTransaction(ctx, row); err != nil {
				if errors.Is(err, ErrDuplicateIdempotencyKey) {
					// Lost an append race for the same key; retry resolves
					// it through the replay path above.
					return ErrConcurrentModification
				}
				return err
			}

			acct.Balance = acct.Balance.Add(delta)
			if delta.IsPositive() {
				acct.TotalCredit = acct.TotalCredit.Add(delta)
			} else {
				acct.TotalDebit = acct.TotalDebit.Add(delta.Neg())
			}
			acct.LastTxAt = &row.CreatedAt
			acct.UpdatedAt = now
			if err := s.SaveAccount(ctx, acct); err != nil {
				return err
			}

			res = &PostingResult{Account: acct, Transaction: row, Applied: true}
			return nil
		})
	})
	if err != nil {
		return nil, postingErr(p.kind, p.sourceID, p.editSeq, err)
	}
	return res, nil
}

// resolveAccount finds or lazily creates the target account. Accounts are
// only created on the write path; reads never persist.
func (r *Reconciler) resolveAccount(ctx context.Context, s Store, p posting) (*Account, bool, error) {
	acct, err := s.GetAccount(ctx, p.customerID, p.hotelID, p.currency)
	if err == nil {
		return acct, false, nil
	}
	if !errors.Is(err, ErrAccountNotFound) {
		return nil, false, err
	}
	now := r.now().UTC()
	return &Account{
		ID:          AccountID(r.newID()),
		CustomerID:  p.customerID,
		HotelID:     p.hotelID,
		Currency:    p.currency,
		Balance:     decimal.Zero,
		TotalCredit: decimal.Zero,
		TotalDebit:  decimal.Zero,
		Status:      AccountActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, true, nil
}

// withRetry replays fn on retryable failures with linear backoff.
func (r *Reconciler) withRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt < r.maxRetries; attempt++ {
		err = fn()
		if err == nil || !IsRetryable(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt+1) * retryBackoffStep):
		}
	}
	return err
}

// =============================================================================
// VALIDATION
// =============================================================================

func validateReceipt(rcpt Receipt, editSeq int) error {
	if rcpt.ReceiptID <= 0 {
		return ErrInvalidDocument
	}
	if rcpt.Amount.IsNegative() {
		return ErrInvalidDocument
	}
	if editSeq < 0 {
		return ErrInvalidDocument
	}
	switch rcpt.Kind {
	case SourcePaymentReceipt, SourceRefund, SourceCreditNote:
		return nil
	default:
		return ErrInvalidDocument
	}
}

func validateReservation(rv Reservation, editSeq int) error {
	if rv.ReservationID <= 0 {
		return ErrInvalidDocument
	}
	if rv.Total.IsNegative() {
		return ErrInvalidDocument
	}
	if editSeq < 0 {
		return ErrInvalidDocument
	}
	return nil
}

func receiptDescription(rcpt Receipt) string {
	if rcpt.VoucherCode != "" {
		return string(rcpt.Kind) + " " + rcpt.ReceiptNo + " (" + rcpt.VoucherCode + ")"
	}
	return string(rcpt.Kind) + " " + rcpt.ReceiptNo
}

func effectiveOr(at, fallback time.Time) time.Time {
	if at.IsZero() {
		return fallback
	}
	return at.UTC()
}
