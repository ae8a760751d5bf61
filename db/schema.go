package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/maxpert/livestore/entity"
	"github.com/rs/zerolog/log"
)

// CreateTables creates one table per entity type if it does not exist.
// Relations become foreign keys with ON DELETE CASCADE.
func (s *Store) CreateTables(ctx context.Context) error {
	if s.closed.Load() {
		return ErrClosed
	}
	for _, t := range s.model.Types() {
		ddl := tableDDL(t, s.model)
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("create table %s: %w", t.Name, err)
		}
		log.Debug().Str("table", t.Name).Msg("Ensured table")
	}
	return nil
}

func tableDDL(t *entity.Type, model *entity.Model) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (", quoteIdent(t.Name))

	for i, f := range t.Fields {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(quoteIdent(f.Name))
		b.WriteByte(' ')
		b.WriteString(f.Kind.SQLType())
		switch {
		case f.Key && f.Generated:
			b.WriteString(" PRIMARY KEY AUTOINCREMENT")
		case f.Key:
			b.WriteString(" PRIMARY KEY NOT NULL")
		case !f.Nullable:
			b.WriteString(" NOT NULL")
		}
	}

	for _, rel := range t.Relations {
		target, ok := model.Type(rel.Target)
		if !ok {
			continue
		}
		fmt.Fprintf(&b, ", FOREIGN KEY (%s) REFERENCES %s(%s) ON DELETE CASCADE",
			quoteIdent(rel.Field), quoteIdent(target.Name), quoteIdent(target.KeyField().Name))
	}

	b.WriteString(")")
	return b.String()
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
