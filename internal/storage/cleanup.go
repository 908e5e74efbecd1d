package storage

import "fmt"

// DeleteOlderThan deletes records stamped before the given unix
// millisecond time. Returns the number of deleted rows.
func (d *DB) DeleteOlderThan(beforeMs int64) (int64, error) {
	res, err := d.db.Exec("DELETE FROM power_states WHERE timestamp_ms < ?", beforeMs)
	if err != nil {
		return 0, fmt.Errorf("delete from power_states: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}
