package repos

import (
	"context"

	"gorm.io/gorm"
)

// TxRunner runs fn in one transaction. Repos accept the tx handle it passes;
// a nil handle means "use the repo's own connection".
type TxRunner interface {
	Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error
}
