package postgres

import (
	"fmt"
	"strings"

	"github.com/alanyoungcy/goldspread/internal/domain"
)

// listQuery assembles a SELECT with optional filters and paging, numbering
// placeholders as it goes.
type listQuery struct {
	sb   strings.Builder
	args []any
	and  bool
}

func newListQuery(base string) *listQuery {
	q := &listQuery{}
	q.sb.WriteString(base)
	return q
}

// where appends a condition. cond uses a single "?" for the argument.
func (q *listQuery) where(cond string, arg any) {
	if q.and {
		q.sb.WriteString(" AND ")
	} else {
		q.sb.WriteString(" WHERE ")
		q.and = true
	}
	q.args = append(q.args, arg)
	q.sb.WriteString(strings.Replace(cond, "?", fmt.Sprintf("$%d", len(q.args)), 1))
}

// window applies the Since/Until filters of opts to column.
func (q *listQuery) window(column string, opts domain.ListOpts) {
	if opts.Since != nil {
		q.where(column+" >= ?", *opts.Since)
	}
	if opts.Until != nil {
		q.where(column+" <= ?", *opts.Until)
	}
}

// page appends ORDER BY and the LIMIT/OFFSET of opts.
func (q *listQuery) page(orderBy string, opts domain.ListOpts) {
	q.sb.WriteString(" ORDER BY ")
	q.sb.WriteString(orderBy)
	if opts.Limit > 0 {
		q.args = append(q.args, opts.Limit)
		fmt.Fprintf(&q.sb, " LIMIT $%d", len(q.args))
	}
	if opts.Offset > 0 {
		q.args = append(q.args, opts.Offset)
		fmt.Fprintf(&q.sb, " OFFSET $%d", len(q.args))
	}
}

func (q *listQuery) String() string { return q.sb.String() }
