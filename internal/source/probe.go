package source

import "database/sql"

// Schema introspection. Source databases come from many downloader versions,
// so the set of tables and columns present has to be discovered at runtime.
// Absence is a normal outcome, never an error.

// hasTable reports whether a table exists in the database.
func hasTable(db *sql.DB, name string) bool {
	var found string
	err := db.QueryRow(
		"SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?", name,
	).Scan(&found)
	return err == nil
}

// tableColumns returns the set of column names of a table, or an empty set if
// the table does not exist. PRAGMA arguments cannot be bound; name only ever
// comes from the fixed candidate table set, never from input.
func tableColumns(db *sql.DB, name string) map[string]bool {
	cols := make(map[string]bool)

	rows, err := db.Query("PRAGMA table_info(" + name + ")")
	if err != nil {
		return cols
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid       int
			colName   string
			colType   string
			notNull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &colName, &colType, &notNull, &dfltValue, &pk); err != nil {
			continue
		}
		cols[colName] = true
	}
	return cols
}
