/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"encoding/json"
	"time"

	"github.com/atlaspms/finance-core/ledger"
	"github.com/atlaspms/finance-core/queue"
)

// =============================================================================
// PARTNER REQUEST TYPES
// =============================================================================

// PartnerRequest is the admission body for a partner operation.
type PartnerRequest struct {
	Partner    string          `json:"partner,omitempty"`
	Operation  string          `json:"operation"`
	HotelID    int64           `json:"hotelId"`
	TargetID   int64           `json:"targetId,omitempty"`
	RequestRef string          `json:"requestRef,omitempty"`
	Payload    json.RawMessage `json:"payload"`
}

// QueuedResponse acknowledges an accepted partner request.
type QueuedResponse struct {
	Queued     bool   `json:"queued"`
	Duplicate  bool   `json:"duplicate,omitempty"`
	RequestRef string `json:"requestRef"`
	Operation  string `json:"operation"`
	HotelID    int64  `json:"hotelId"`
}

// QueueItemDTO represents one queue item in API responses.
type QueueItemDTO struct {
	QueueID       string     `json:"queueId"`
	RequestRef    string     `json:"requestRef"`
	Partner       string     `json:"partner"`
	Operation     string     `json:"operation"`
	HotelID       int64      `json:"hotelId"`
	TargetID      int64      `json:"targetId,omitempty"`
	PayloadType   string     `json:"payloadType,omitempty"`
	Status        string     `json:"status"`
	Attempts      int        `json:"attempts"`
	LastError     string     `json:"lastError,omitempty"`
	NextAttemptAt *time.Time `json:"nextAttemptAt,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

func toQueueItemDTO(item queue.Item) QueueItemDTO {
	return QueueItemDTO{
		QueueID:       item.QueueID,
		RequestRef:    item.RequestRef,
		Partner:       item.Partner,
		Operation:     item.Operation,
		HotelID:       item.HotelID,
		TargetID:      item.TargetID,
		PayloadType:   item.PayloadType,
		Status:        string(item.Status),
		Attempts:      item.Attempts,
		LastError:     item.LastError,
		NextAttemptAt: item.NextAttemptAt,
		CreatedAt:     item.CreatedAt,
		UpdatedAt:     item.UpdatedAt,
	}
}

// LogEntryDTO represents one processed-operation log row.
type LogEntryDTO struct {
	ID         int64     `json:"id"`
	RequestRef string    `json:"requestRef"`
	Partner    string    `json:"partner"`
	Operation  string    `json:"operation"`
	HotelID    int64     `json:"hotelId"`
	Status     string    `json:"status"`
	Message    string    `json:"message,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

func toLogEntryDTO(e queue.LogEntry) LogEntryDTO {
	return LogEntryDTO{
		ID:         e.ID,
		RequestRef: e.RequestRef,
		Partner:    e.Partner,
		Operation:  e.Operation,
		HotelID:    e.HotelID,
		Status:     string(e.Status),
		Message:    e.Message,
		CreatedAt:  e.CreatedAt,
	}
}

// DrainStatsDTO reports the outcome of a manually triggered drain.
type DrainStatsDTO struct {
	TenantsPolled int `json:"tenantsPolled"`
	StaleReleased int `json:"staleReleased"`
	Claimed       int `json:"claimed"`
	Succeeded     int `json:"succeeded"`
	Retried       int `json:"retried"`
	Failed        int `json:"failed"`
}

// =============================================================================
// LEDGER TYPES
// =============================================================================

// BalanceDTO is the account summary returned to clients. Amounts are
// serialized as strings to keep decimal precision on the wire.
type BalanceDTO struct {
	AccountID   string     `json:"accountId,omitempty"`
	CustomerID  int64      `json:"customerId"`
	HotelID     int64      `json:"hotelId"`
	Currency    string     `json:"currency"`
	Balance     string     `json:"balance"`
	TotalCredit string     `json:"totalCredit"`
	TotalDebit  string     `json:"totalDebit"`
	Status      string     `json:"status"`
	LastTxAt    *time.Time `json:"lastTransactionAt,omitempty"`
}

func toBalanceDTO(a *ledger.Account) BalanceDTO {
	return BalanceDTO{
		AccountID:   string(a.ID),
		CustomerID:  a.CustomerID,
		HotelID:     a.HotelID,
		Currency:    a.Currency,
		Balance:     a.Balance.StringFixed(2),
		TotalCredit: a.TotalCredit.StringFixed(2),
		TotalDebit:  a.TotalDebit.StringFixed(2),
		Status:      string(a.Status),
		LastTxAt:    a.LastTxAt,
	}
}

// TransactionDTO represents one ledger row in API responses.
type TransactionDTO struct {
	ID            string    `json:"id"`
	SourceKind    string    `json:"sourceKind"`
	SourceID      int64     `json:"sourceId"`
	SourceNo      string    `json:"sourceNo,omitempty"`
	EditSeq       int       `json:"editSeq"`
	Type          string    `json:"type"`
	Status        string    `json:"status"`
	Credit        string    `json:"credit"`
	Debit         string    `json:"debit"`
	BalanceAfter  string    `json:"balanceAfter"`
	Currency      string    `json:"currency"`
	Description   string    `json:"description,omitempty"`
	PaymentMethod string    `json:"paymentMethod,omitempty"`
	EffectiveAt   time.Time `json:"effectiveAt"`
	CreatedAt     time.Time `json:"createdAt"`
}

func toTransactionDTO(t ledger.Transaction) TransactionDTO {
	return TransactionDTO{
		ID:            string(t.ID),
		SourceKind:    string(t.SourceKind),
		SourceID:      t.SourceID,
		SourceNo:      t.SourceNo,
		EditSeq:       t.EditSeq,
		Type:          string(t.Type),
		Status:        string(t.Status),
		Credit:        t.Credit.StringFixed(2),
		Debit:         t.Debit.StringFixed(2),
		BalanceAfter:  t.BalanceAfter.StringFixed(2),
		Currency:      t.Currency,
		Description:   t.Description,
		PaymentMethod: t.PaymentMethod,
		EffectiveAt:   t.EffectiveAt,
		CreatedAt:     t.CreatedAt,
	}
}

// =============================================================================
// TENANT TYPES
// =============================================================================

// TenantDTO doubles as request body and response for tenant configuration.
type TenantDTO struct {
	HotelID             int64  `json:"hotelId"`
	Code                string `json:"code,omitempty"`
	QueueEnabled        bool   `json:"queueEnabled"`
	WorkerEnabled       bool   `json:"workerEnabled"`
	PollIntervalSeconds int64  `json:"pollIntervalSeconds,omitempty"`
	BatchSize           int    `json:"batchSize,omitempty"`
}

func toTenantDTO(t queue.Tenant) TenantDTO {
	return TenantDTO{
		HotelID:             t.HotelID,
		Code:                t.Code,
		QueueEnabled:        t.QueueEnabled,
		WorkerEnabled:       t.WorkerEnabled,
		PollIntervalSeconds: int64(t.PollInterval / time.Second),
		BatchSize:           t.BatchSize,
	}
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrorResponse is the standard error payload.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
