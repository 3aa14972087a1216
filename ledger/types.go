/*
Package ledger provides the customer ledger engine.

PURPOSE:
  This package keeps financial truth consistent: every payment receipt,
  refund, credit note, and reservation charge becomes an append-only
  Transaction row, and the per-customer Account header is a cached
  aggregate that can always be rebuilt from those rows.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: A decimal amount with a currency code
  - Account: Per customer/hotel/currency ledger header (cached balance)
  - Transaction: An immutable ledger row recording one credit or debit
  - Receipt / Reservation: The financial document events we reconcile

DESIGN PRINCIPLES:
  1. Immutability: Transaction rows are never modified, only reversed
  2. Precision: Uses decimal.Decimal to avoid floating-point errors
  3. Idempotency: Every posting carries a source-derived idempotency key
  4. Auditability: Every row carries provenance and a balance-after snapshot

SEE ALSO:
  - reconciler.go: Idempotent posting logic
  - store.go: Persistence interface
  - errors.go: Error taxonomy
*/
package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - Decimal amount with currency
// =============================================================================

type Money struct {
	Value    decimal.Decimal
	Currency string
}

// DefaultCurrency is applied when a document carries no currency code.
const DefaultCurrency = "SAR"

func NewMoney(value string, currency string) Money {
	d, err := decimal.NewFromString(value)
	if err != nil {
		d = decimal.Zero
	}
	return Money{Value: d, Currency: currency}
}

func NewMoneyFromFloat(value float64, currency string) Money {
	return Money{Value: decimal.NewFromFloat(value), Currency: currency}
}

func ZeroMoney(currency string) Money {
	return Money{Value: decimal.Zero, Currency: currency}
}

func (m Money) Add(b Money) Money      { return Money{Value: m.Value.Add(b.Value), Currency: m.Currency} }
func (m Money) Sub(b Money) Money      { return Money{Value: m.Value.Sub(b.Value), Currency: m.Currency} }
func (m Money) Neg() Money             { return Money{Value: m.Value.Neg(), Currency: m.Currency} }
func (m Money) Abs() Money             { return Money{Value: m.Value.Abs(), Currency: m.Currency} }
func (m Money) IsZero() bool           { return m.Value.IsZero() }
func (m Money) IsNegative() bool       { return m.Value.IsNegative() }
func (m Money) IsPositive() bool       { return m.Value.IsPositive() }
func (m Money) Equal(b Money) bool     { return m.Value.Equal(b.Value) && m.Currency == b.Currency }
func (m Money) String() string         { return m.Value.StringFixed(2) + " " + m.Currency }

// =============================================================================
// IDENTIFIERS
// =============================================================================

type AccountID string
type TransactionID string

// =============================================================================
// ACCOUNT - Per customer/hotel/currency ledger header
// =============================================================================

type AccountStatus string

const (
	AccountActive    AccountStatus = "active"
	AccountSuspended AccountStatus = "suspended"
	AccountClosed    AccountStatus = "closed"
)

// Account is the cached aggregate view over the transaction log.
//
// INVARIANT: Balance == TotalCredit - TotalDebit == sum over all active
// transaction rows. The cached fields are a read optimization rebuildable
// at any time from the rows (see Reconciler.Rebuild); they are never
// independently authoritative.
type Account struct {
	ID           AccountID
	CustomerID   int64
	HotelID      int64
	Currency     string
	Balance      decimal.Decimal
	TotalCredit  decimal.Decimal
	TotalDebit   decimal.Decimal
	Status       AccountStatus
	LastTxAt     *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Postable reports whether new rows may be appended to this account.
// Closed/suspended accounts block postings but keep history queryable.
func (a *Account) Postable() bool {
	return a.Status == AccountActive
}

// =============================================================================
// TRANSACTION - Append-only ledger row
// =============================================================================

type SourceKind string

const (
	SourcePaymentReceipt SourceKind = "PaymentReceipt"
	SourceRefund         SourceKind = "Refund"
	SourceCreditNote     SourceKind = "CreditNote"
	SourceReservation    SourceKind = "Reservation"
)

type TransactionType string

const (
	TxReceipt           TransactionType = "receipt"
	TxRefund            TransactionType = "refund"
	TxReservationCharge TransactionType = "reservation_charge"
	TxAdjustment        TransactionType = "adjustment"
	TxReversal          TransactionType = "reversal"
)

type TransactionStatus string

const (
	TxActive    TransactionStatus = "active"
	TxCancelled TransactionStatus = "cancelled"
)

// Transaction records a single credit or debit. Exactly one of Credit and
// Debit is non-zero. Rows are written once and never updated; corrections
// are appended as reversal or adjustment rows.
type Transaction struct {
	ID         TransactionID
	AccountID  AccountID
	CustomerID int64
	HotelID    int64

	// Provenance
	SourceKind     SourceKind
	SourceID       int64
	SourceNo       string // human-facing document number (receipt no, reservation no)
	EditSeq        int
	IdempotencyKey string
	Fingerprint    string

	Type   TransactionType
	Status TransactionStatus

	Credit       decimal.Decimal
	Debit        decimal.Decimal
	BalanceAfter decimal.Decimal
	Currency     string

	Description      string
	PaymentMethod    string
	RelatedInvoiceID int64 // 0 = none; weak reference for traceability only

	EffectiveAt time.Time
	CreatedAt   time.Time
}

// Signed returns the row's contribution to the account balance
// (credit positive, debit negative).
func (t Transaction) Signed() decimal.Decimal {
	return t.Credit.Sub(t.Debit)
}

// IdemKey derives the posting key for a source document state.
// Re-processing the same (kind, source, edit sequence) must be a no-op.
func IdemKey(kind SourceKind, sourceID int64, editSeq int) string {
	return fmt.Sprintf("%s:%d:%d", kind, sourceID, editSeq)
}

// PostingFingerprint hashes the material of a posting so that a replay with the
// same key but a different amount is detected as a conflict rather than
// silently accepted.
func PostingFingerprint(kind SourceKind, sourceID int64, editSeq int, amount decimal.Decimal, currency string) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%d|%d|%s|%s", kind, sourceID, editSeq, amount.String(), currency)
	return hex.EncodeToString(h.Sum(nil))
}

// =============================================================================
// FINANCIAL DOCUMENT EVENTS - Inputs to the Reconciler
// =============================================================================

// Receipt is the ledger-facing view of a payment/refund document. The
// caller's write path persists the document first and then hands it here.
type Receipt struct {
	ReceiptID     int64
	ReceiptNo     string
	Kind          SourceKind // SourcePaymentReceipt, SourceRefund or SourceCreditNote
	VoucherCode   string
	CustomerID    int64
	HotelID       int64
	Currency      string
	Amount        decimal.Decimal
	PaymentMethod string
	InvoiceID     int64
	Date          time.Time
}

// Reservation is the ledger-facing view of a reservation charge.
type Reservation struct {
	ReservationID int64
	ReservationNo string
	CustomerID    int64
	HotelID       int64
	Currency      string
	Total         decimal.Decimal
	Date          time.Time
}

// Voucher codes that post as debits regardless of the document kind.
// Everything else on a payment receipt posts as a credit.
var debitVouchers = map[string]bool{
	"refund":                  true,
	"security_deposit_refund": true,
	"expense":                 true,
}

// IsDebit reports whether the receipt reduces the customer's balance.
func (r Receipt) IsDebit() bool {
	if debitVouchers[strings.ToLower(r.VoucherCode)] {
		return true
	}
	return r.Kind == SourceRefund
}

// CurrencyOrDefault returns the document currency, falling back to the
// platform default when absent.
func (r Receipt) CurrencyOrDefault() string {
	if r.Currency == "" {
		return DefaultCurrency
	}
	return r.Currency
}

func (r Reservation) CurrencyOrDefault() string {
	if r.Currency == "" {
		return DefaultCurrency
	}
	return r.Currency
}
