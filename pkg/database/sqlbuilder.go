package database

import (
	"fmt"
	"strings"

	"github.com/huandu/go-sqlbuilder"
)

func Excluded(column string) string {
	return fmt.Sprintf("%s = excluded.%s", column, column)
}

type InsertBuilder struct {
	*sqlbuilder.InsertBuilder
}

func NewInsertBuilder(flavor sqlbuilder.Flavor) *InsertBuilder {
	return &InsertBuilder{flavor.NewInsertBuilder()}
}

// OnConflictUpdate appends an upsert clause overwriting columns with the incoming row.
// Postgres and SQLite share the syntax.
func (b *InsertBuilder) OnConflictUpdate(conflictColumns []string, updateColumns ...string) *InsertBuilder {
	assignments := make([]string, 0, len(updateColumns))
	for _, column := range updateColumns {
		assignments = append(assignments, Excluded(column))
	}
	b.SQL(fmt.Sprintf("ON CONFLICT (%s) DO UPDATE SET %s", strings.Join(conflictColumns, ", "), strings.Join(assignments, ", ")))
	return b
}

func (b *InsertBuilder) OnConflictDoNothing() *InsertBuilder {
	b.SQL("ON CONFLICT DO NOTHING")
	return b
}

func (b *InsertBuilder) InsertInto(table string) *InsertBuilder {
	b.InsertBuilder.InsertInto(table)
	return b
}

func (b *InsertBuilder) Cols(col ...string) *InsertBuilder {
	b.InsertBuilder.Cols(col...)
	return b
}

func (b *InsertBuilder) Values(value ...any) *InsertBuilder {
	b.InsertBuilder.Values(value...)
	return b
}

// ForUpdate appends a row lock on flavors that support one. SQLite locks the
// whole database on the first write, so the clause is dropped there.
func ForUpdate(sb *sqlbuilder.SelectBuilder, flavor sqlbuilder.Flavor) *sqlbuilder.SelectBuilder {
	if flavor == sqlbuilder.PostgreSQL {
		sb.ForUpdate()
	}
	return sb
}
