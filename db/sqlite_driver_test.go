package db

import (
	"context"
	"database/sql"
	"testing"

	"github.com/doug-martin/goqu/v9"
	"github.com/maxpert/livestore/query"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegexpFunction(t *testing.T) {
	conn, err := sql.Open(SQLiteDriverName, ":memory:")
	require.NoError(t, err)
	defer conn.Close()

	tests := []struct {
		name    string
		text    string
		pattern string
		want    bool
	}{
		{"prefix", "hello", "^h", true},
		{"prefix miss", "hello", "^a", false},
		{"suffix", "world", "ld$", true},
		{"case sensitive", "Hello", "^hello$", false},
		{"case insensitive flag", "Hello", "(?i)^hello$", true},
		{"alternation", "phone-555", "^(phone|fax)-[0-9]+$", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got bool
			require.NoError(t, conn.QueryRow("SELECT ? REGEXP ?", tt.text, tt.pattern).Scan(&got))
			assert.Equal(t, tt.want, got)
		})
	}

	t.Run("invalid pattern", func(t *testing.T) {
		var got bool
		err := conn.QueryRow("SELECT 'x' REGEXP '['").Scan(&got)
		assert.Error(t, err)
	})
}

func TestRegexpInQueryFilter(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	for _, name := range []string{"ada", "alan", "grace"} {
		require.NoError(t, s.Insert(ctx, newPerson(t, s, name, 30)))
	}

	recs, err := s.Select(ctx, query.From("person").Where(goqu.C("name").RegexpLike("^a")).OrderBy(goqu.C("name").Asc()))
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "ada", recs[0].Get("name").AsString())
	assert.Equal(t, "alan", recs[1].Get("name").AsString())
}
