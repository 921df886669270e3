package ledger

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/platinummonkey/tally/pkg/lifecycle"
)

// Entity type names as they appear in audit entries.
const (
	TypeAccount     = "Account"
	TypeReceipt     = "Receipt"
	TypeReceiptItem = "ReceiptItem"
	TypeTransaction = "Transaction"
)

// AccountType is the main classification of an account.
type AccountType string

const (
	AccountTypeAsset     AccountType = "Asset"
	AccountTypeLiability AccountType = "Liability"
	AccountTypeEquity    AccountType = "Equity"
	AccountTypeIncome    AccountType = "Income"
	AccountTypeExpense   AccountType = "Expense"
)

// Valid reports whether t is a known account type.
func (t AccountType) Valid() bool {
	switch t {
	case AccountTypeAsset, AccountTypeLiability, AccountTypeEquity, AccountTypeIncome, AccountTypeExpense:
		return true
	}
	return false
}

var (
	ErrInvalidAccount = errors.New("invalid account")
	ErrInvalidReceipt = errors.New("invalid receipt")
)

type Account struct {
	lifecycle.Model
	Name        string          `gorm:"index;size:100;not null" json:"name"`
	Code        string          `gorm:"index;size:32" json:"code"`
	Type        AccountType     `gorm:"size:16;not null;default:'Expense'" json:"type"`
	Currency    string          `gorm:"size:3;not null;default:'USD'" json:"currency"`
	Balance     decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"balance"`
	Description string          `gorm:"type:text" json:"description"`
}

func (*Account) EntityType() string { return TypeAccount }

// Validate checks the fields a caller must supply.
func (a *Account) Validate() error {
	if strings.TrimSpace(a.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidAccount)
	}
	if !a.Type.Valid() {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidAccount, a.Type)
	}
	if len(a.Currency) != 3 {
		return fmt.Errorf("%w: currency must be a 3-letter code", ErrInvalidAccount)
	}
	return nil
}

// Receipt is an aggregate root owning its line items and the transactions
// it posted. AccountID references the paying account without owning it.
type Receipt struct {
	lifecycle.Model
	Number    string          `gorm:"index;size:64;not null" json:"number"`
	AccountID *string         `gorm:"size:36;index" json:"account_id"`
	IssuedAt  time.Time       `gorm:"not null" json:"issued_at"`
	Total     decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"total"`
	Notes     string          `gorm:"type:text" json:"notes"`

	Items        []ReceiptItem `gorm:"foreignKey:ReceiptID" json:"items,omitempty"`
	Transactions []Transaction `gorm:"foreignKey:ReceiptID" json:"transactions,omitempty"`
}

func (*Receipt) EntityType() string { return TypeReceipt }

// Recalculate sets Total to the sum of the item amounts.
func (r *Receipt) Recalculate() {
	total := decimal.Zero
	for i := range r.Items {
		total = total.Add(r.Items[i].Amount())
	}
	r.Total = total
}

// Validate checks the receipt header and its items.
func (r *Receipt) Validate() error {
	if strings.TrimSpace(r.Number) == "" {
		return fmt.Errorf("%w: number is required", ErrInvalidReceipt)
	}
	if r.IssuedAt.IsZero() {
		return fmt.Errorf("%w: issue date is required", ErrInvalidReceipt)
	}
	for i := range r.Items {
		if r.Items[i].Quantity.IsNegative() || r.Items[i].Quantity.IsZero() {
			return fmt.Errorf("%w: item %d has no quantity", ErrInvalidReceipt, i+1)
		}
	}
	return nil
}

type ReceiptItem struct {
	lifecycle.Model
	ReceiptID   string          `gorm:"size:36;index;not null" json:"receipt_id"`
	Description string          `gorm:"size:255" json:"description"`
	Quantity    decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"quantity"`
	UnitPrice   decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"unit_price"`
}

func (*ReceiptItem) EntityType() string { return TypeReceiptItem }

// Amount is Quantity times UnitPrice.
func (i *ReceiptItem) Amount() decimal.Decimal {
	return i.Quantity.Mul(i.UnitPrice)
}

// Transaction posts an amount against an account. It is owned by the
// receipt that produced it, if any, and only references the account.
type Transaction struct {
	lifecycle.Model
	ReceiptID *string         `gorm:"size:36;index" json:"receipt_id"`
	AccountID string          `gorm:"size:36;index;not null" json:"account_id"`
	Amount    decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"amount"`
	Memo      string          `gorm:"size:255" json:"memo"`
	PostedAt  time.Time       `gorm:"not null;index" json:"posted_at"`
}

func (*Transaction) EntityType() string { return TypeTransaction }
