package db

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"io"
	"net"
	"strings"

	mssql "github.com/microsoft/go-mssqldb"
)

// IsConnectionLoss distinguishes transport/driver-level session death from
// query-semantic errors. Only the former may flip a slot Ready -> Degraded;
// a bad user statement must never trigger a reconnect cycle.
func IsConnectionLoss(err error) bool {
	if err == nil {
		return false
	}
	// A structured server error means the session carried the request and
	// the database answered: query-semantic, not connection loss.
	var se mssql.Error
	if errors.As(err, &se) {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) || errors.Is(err, io.EOF) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	// Driver errors that arrive as plain strings.
	msg := strings.ToLower(err.Error())
	for _, frag := range []string{
		"connection is closed",
		"bad connection",
		"broken pipe",
		"reset by peer",
		"connection refused",
		"i/o timeout",
	} {
		if strings.Contains(msg, frag) {
			return true
		}
	}
	return false
}
