package sheets

import (
	"context"

	"trasferte/internal/core"
)

// ExportWriter appends a reimbursed expense to the finance export. The
// returned ref identifies where the row landed (e.g. a sheet range).
type ExportWriter interface {
	Append(ctx context.Context, e core.Expense) (ref string, err error)
}
