package core

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	RoleEmployee Role = "employee"
	RoleManager  Role = "manager"
	RoleAdmin    Role = "admin"
)

const (
	USD Currency = "USD"
	EUR Currency = "EUR"
	GBP Currency = "GBP"
	JPY Currency = "JPY"
)

const (
	StatusPending    Status = "Pending"
	StatusApproved   Status = "Approved"
	StatusRejected   Status = "Rejected"
	StatusReimbursed Status = "Reimbursed"
)

type (
	Role     string
	Currency string
	Status   string

	User struct {
		Username     string
		PasswordHash string
		Budget       decimal.Decimal // monthly budget, zero when never set
		Role         Role
	}

	Expense struct {
		ID              uuid.UUID
		Username        string // owner
		Amount          decimal.Decimal
		Currency        Currency
		Category        string
		Date            time.Time
		Description     string
		Status          Status
		Budget          *decimal.Decimal // per-expense budget snapshot, nil when not provided
		ConvertedAmount decimal.Decimal  // USD-normalized, fixed at creation
		PolicyCompliant bool
	}
)

// PolicyThreshold is the auto-approval-eligible amount ceiling in the
// expense's source currency.
var PolicyThreshold = decimal.NewFromInt(500)

var (
	ErrEmptyUsername      = errors.New("empty username")
	ErrEmptyPassword      = errors.New("empty password")
	ErrInvalidRole        = errors.New("invalid role")
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrInvalidCurrency    = errors.New("invalid currency")
	ErrEmptyCategory      = errors.New("empty category")
	ErrDescriptionTooLong = errors.New("description too long (max 500 characters)")
	ErrUsernameMismatch   = errors.New("username does not match authenticated user")
	ErrExpenseNotFound    = errors.New("expense not found")
	ErrUserNotFound       = errors.New("user not found")
	ErrUserExists         = errors.New("user already exists")
	ErrAlreadyDecided     = errors.New("expense already decided")
	ErrInvalidStatus      = errors.New("invalid status")
	ErrInvalidTransition  = errors.New("invalid status transition")
)

func init() {
	// Amounts travel over the wire as bare JSON numbers, matching what the
	// frontend and the original API shape expect.
	decimal.MarshalJSONWithoutQuotes = true
}

// ValidRole reports whether r is one of the known roles.
func ValidRole(r Role) bool {
	switch r {
	case RoleEmployee, RoleManager, RoleAdmin:
		return true
	}
	return false
}

// ValidCurrency reports whether c is a supported source currency.
func ValidCurrency(c Currency) bool {
	switch c {
	case USD, EUR, GBP, JPY:
		return true
	}
	return false
}

// ValidStatus reports whether s is a known expense status.
func ValidStatus(s Status) bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected, StatusReimbursed:
		return true
	}
	return false
}

// CanTransition reports whether an expense may move from one status to
// another. Pending is the only decidable state; Approved expenses move to
// Reimbursed once the payout is exported. Decisions are terminal otherwise.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusApproved || to == StatusRejected
	case StatusApproved:
		return to == StatusReimbursed
	}
	return false
}

// CompliesWithPolicy reports whether an amount is within the auto-approval
// threshold. The result is frozen onto the expense at creation and is never
// recomputed, even if the threshold changes later.
func CompliesWithPolicy(amount decimal.Decimal) bool {
	return amount.LessThanOrEqual(PolicyThreshold)
}

func (u User) Validate() error {
	if strings.TrimSpace(u.Username) == "" {
		return ErrEmptyUsername
	}
	if !ValidRole(u.Role) {
		return ErrInvalidRole
	}
	return nil
}

func (e Expense) Validate() error {
	if strings.TrimSpace(e.Username) == "" {
		return ErrEmptyUsername
	}
	if !e.Amount.IsPositive() {
		return ErrInvalidAmount
	}
	if !ValidCurrency(e.Currency) {
		return ErrInvalidCurrency
	}
	if strings.TrimSpace(e.Category) == "" {
		return ErrEmptyCategory
	}
	if len(e.Description) > 500 {
		return ErrDescriptionTooLong
	}
	return nil
}
