package db

import (
	"database/sql"
	"regexp"

	"github.com/mattn/go-sqlite3"
)

// SQLiteDriverName is the custom driver name with REGEXP support
const SQLiteDriverName = "sqlite3_livestore"

func init() {
	// Register custom SQLite driver with REGEXP function so live query
	// filters can use goqu's RegexpLike/RegexpNotLike expressions
	sql.Register(SQLiteDriverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			return conn.RegisterFunc("regexp", regexpMatch, true)
		},
	})
}

// regexpMatch implements `text REGEXP pattern`
// Returns true if text matches pattern
func regexpMatch(pattern, text string) (bool, error) {
	return regexp.MatchString(pattern, text)
}
