package replication

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// undefinedObjectSQLState is the SQLSTATE PostgreSQL returns when
// START_REPLICATION names a slot that does not exist.
const undefinedObjectSQLState = "42704"

func isSlotMissing(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == undefinedObjectSQLState
	}
	// some poolers/proxies strip SQLSTATE; fall back to message sniffing
	return strings.Contains(err.Error(), "does not exist")
}
