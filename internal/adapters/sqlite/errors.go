package sqlite

import (
	"errors"
	"strings"

	"github.com/atvirokodosprendimai/incidentd/internal/adapters/sqlite/gormsqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// isUniqueViolation matches both translated gorm errors and the plain-text
// errors returned by the modernc driver.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	low := strings.ToLower(err.Error())
	return strings.Contains(low, "unique constraint failed") ||
		strings.Contains(low, "constraint failed: unique")
}

func isForeignKeyViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrForeignKeyViolated) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "foreign key constraint failed")
}

// forUpdate adds a row lock on table. SQLite drops the clause; there the
// single writer connection already serializes write transactions.
func forUpdate(tx *gormsqlite.Tx, table string) *gorm.DB {
	return tx.Clauses(clause.Locking{Strength: "UPDATE", Table: clause.Table{Name: table}})
}
