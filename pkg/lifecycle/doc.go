// Package lifecycle implements soft delete, cascading restore and the audited
// unit of work for tracked entities.
//
// A tracked entity embeds Model (or Tracked) and names its type:
//
//	type Receipt struct {
//		lifecycle.Model
//		Number string
//	}
//
//	func (*Receipt) EntityType() string { return "Receipt" }
//
// Ownership is declared once in a CascadePolicy:
//
//	policy := lifecycle.NewCascadePolicy()
//	lifecycle.Track[Receipt](policy)
//	lifecycle.Owns[ReceiptItem](policy, "Receipt", "receipt_id",
//		func(i *ReceiptItem) *string { return &i.ReceiptID })
//
// Writes go through a Session bound to one actor. Commit turns removals into
// soft deletes, cascades them to owned dependents, writes every change and
// appends the audit entries in the same transaction:
//
//	s, _ := lifecycle.NewSession(db, policy, actor.User("u-1"))
//	receipt, _ := lifecycle.Get[Receipt](ctx, s, id)
//	_ = s.Remove(receipt)
//	entries, err := s.Commit(ctx)
//
// Reads exclude soft-deleted rows by default through gorm's DeletedAt
// handling. Scope(WithDeleted) and Scope(OnlyDeleted) bypass it explicitly;
// RecycleBin builds the restore surface on top of them.
package lifecycle
