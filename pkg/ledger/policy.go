package ledger

import (
	"gorm.io/gorm"

	"github.com/platinummonkey/tally/pkg/actor"
	"github.com/platinummonkey/tally/pkg/audit"
	"github.com/platinummonkey/tally/pkg/lifecycle"
)

// Policy returns the ownership table of the ledger: a receipt owns its
// items and its transactions. Accounts own nothing; transactions only
// reference them.
func Policy() *lifecycle.CascadePolicy {
	p := lifecycle.NewCascadePolicy()
	lifecycle.Track[Account](p)
	lifecycle.Track[Receipt](p)
	lifecycle.Owns[ReceiptItem](p, TypeReceipt, "receipt_id", func(i *ReceiptItem) *string {
		return &i.ReceiptID
	})
	lifecycle.Owns[Transaction](p, TypeReceipt, "receipt_id", func(t *Transaction) *string {
		return t.ReceiptID
	})
	return p
}

// Models lists every table the ledger needs, audit log included.
func Models() []interface{} {
	return []interface{}{
		&Account{},
		&Receipt{},
		&ReceiptItem{},
		&Transaction{},
		&audit.Entry{},
	}
}

// RecycleBins is the restore surface for every ledger entity type.
type RecycleBins struct {
	Accounts     *lifecycle.RecycleBin[Account, *Account]
	Receipts     *lifecycle.RecycleBin[Receipt, *Receipt]
	Items        *lifecycle.RecycleBin[ReceiptItem, *ReceiptItem]
	Transactions *lifecycle.RecycleBin[Transaction, *Transaction]
}

// NewRecycleBins builds one bin per entity type sharing policy and resolver.
func NewRecycleBins(db *gorm.DB, policy *lifecycle.CascadePolicy, resolver actor.Resolver, opts ...lifecycle.Option) *RecycleBins {
	return &RecycleBins{
		Accounts:     lifecycle.NewRecycleBin[Account](db, policy, resolver, opts...),
		Receipts:     lifecycle.NewRecycleBin[Receipt](db, policy, resolver, opts...),
		Items:        lifecycle.NewRecycleBin[ReceiptItem](db, policy, resolver, opts...),
		Transactions: lifecycle.NewRecycleBin[Transaction](db, policy, resolver, opts...),
	}
}
