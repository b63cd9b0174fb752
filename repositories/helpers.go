package repositories

import (
	"database/sql"
	"fmt"
)

// checkAffectedRows maps a zero-row update to the caller's sentinel. Guarded
// updates (status transitions, version checks) rely on this to surface
// conflicts without a prior read.
func checkAffectedRows(result sql.Result, noRowsError error) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check affected rows: %w", err)
	}
	if rowsAffected == 0 {
		return noRowsError
	}
	return nil
}
