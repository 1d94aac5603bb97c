package option

import (
	"fmt"
	"strings"

	"gorm.io/gorm"
)

// QueryOption mutates a gorm statement before it is executed.
type QueryOption interface {
	Apply(db *gorm.DB) *gorm.DB
}

type optionFunc func(db *gorm.DB) *gorm.DB

func (f optionFunc) Apply(db *gorm.DB) *gorm.DB { return f(db) }

// ApplyPagination limits results. Offset paging is only used for small
// catalog tables; event tables page by cursor.
func ApplyPagination(limit, offset int) QueryOption {
	return optionFunc(func(db *gorm.DB) *gorm.DB {
		if limit > 0 {
			db = db.Limit(limit)
		}
		if offset > 0 {
			db = db.Offset(offset)
		}
		return db
	})
}

var sortableColumns = map[string]struct{}{
	"id":         {},
	"code":       {},
	"version":    {},
	"created_at": {},
	"updated_at": {},
}

// WithSortBy orders by an allow-listed column. Unknown columns are ignored.
func WithSortBy(column, direction string) QueryOption {
	return optionFunc(func(db *gorm.DB) *gorm.DB {
		column = strings.ToLower(strings.TrimSpace(column))
		if _, ok := sortableColumns[column]; !ok {
			return db
		}
		dir := "ASC"
		if strings.EqualFold(strings.TrimSpace(direction), "desc") {
			dir = "DESC"
		}
		return db.Order(fmt.Sprintf("%s %s", column, dir))
	})
}

// Where adds an arbitrary predicate.
func Where(query string, args ...any) QueryOption {
	return optionFunc(func(db *gorm.DB) *gorm.DB {
		return db.Where(query, args...)
	})
}
