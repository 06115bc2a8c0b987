package option

import (
	"fmt"
	"strings"

	"guild-leveling/pkg/db/pagination"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// QueryOption is a gorm scope applied by the generic repository.
type QueryOption func(db *gorm.DB) *gorm.DB

type Operator string

const (
	EQ  Operator = "="
	NEQ Operator = "<>"
	GT  Operator = ">"
	GTE Operator = ">="
	LT  Operator = "<"
	LTE Operator = "<="
	IN  Operator = "IN"
)

type Condition struct {
	Field    string
	Operator Operator
	Value    any
}

// QuerySortBy orders by SortBy (default created_at). Allow, when set, whitelists
// user supplied columns.
type QuerySortBy struct {
	SortBy  string
	OrderBy string
	Allow   map[string]bool
}

func direction(orderBy string) string {
	if strings.EqualFold(orderBy, "DESC") {
		return "DESC"
	}
	return "ASC"
}

func WithSortBy(sorts ...QuerySortBy) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		for _, s := range sorts {
			column := s.SortBy
			if column == "" {
				column = "created_at"
			}
			if s.Allow != nil && !s.Allow[column] {
				continue
			}
			db = db.Order(clause.OrderByColumn{
				Column: clause.Column{Name: column},
				Desc:   direction(s.OrderBy) == "DESC",
			})
		}
		return db
	}
}

func ApplyOperator(conds ...Condition) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		for _, c := range conds {
			op := c.Operator
			if op == "" {
				op = EQ
			}
			if op == IN {
				db = db.Where(fmt.Sprintf("%s IN ?", c.Field), c.Value)
				continue
			}
			db = db.Where(fmt.Sprintf("%s %s ?", c.Field, op), c.Value)
		}
		return db
	}
}

// Where appends a raw condition for predicates the struct query cannot express.
func Where(query string, args ...any) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where(query, args...)
	}
}

// ApplyPagination applies offset and limit as given; callers normalize first.
func ApplyPagination(p pagination.Pagination) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		if p.Offset > 0 {
			db = db.Offset(p.Offset)
		}
		if p.Limit > 0 {
			db = db.Limit(p.Limit)
		}
		return db
	}
}

func WithLimit(limit int) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		return db.Limit(limit)
	}
}

func WithLockingUpdate() QueryOption {
	return LockingUpdate
}

// LockingUpdate adds SELECT ... FOR UPDATE. SQLite ignores the clause.
func LockingUpdate(db *gorm.DB) *gorm.DB {
	return db.Clauses(clause.Locking{Strength: clause.LockingStrengthUpdate})
}
