// Package sqltmpl renders the fixed set of reconciliation statements for a
// synchronized table by substituting table and column names into SQL skeletons.
//
// Substitution is plain text replacement of ${...} markers. Identifiers are
// expected to have been validated by the caller; values are always passed as
// named bind markers (@field).
package sqltmpl

// Statement skeletons shared by all dialects.
const (
	insertStagingSQL = "INSERT INTO ${stagingTable} (${columns}) VALUES (${binds})"

	queryAddedSQL = "SELECT ${a.columns} FROM ${stagedRows} a " +
		"LEFT JOIN ${table} b ON a.${id} = b.${id} " +
		"WHERE b.${id} IS NULL ORDER BY a.${id}"

	addSQL = "INSERT INTO ${table} (${columns}) " +
		"SELECT ${a.columns} FROM ${stagedRows} a " +
		"LEFT JOIN ${table} b ON a.${id} = b.${id} " +
		"WHERE b.${id} IS NULL"

	queryUpdatedSQL = "SELECT ${a.updatedColumns} FROM ${stagedRows} a " +
		"INNER JOIN ${table} b ON a.${id} = b.${id} " +
		"WHERE ${stagedWins} ORDER BY a.${id}"

	queryOldForUpdateSQL = "SELECT ${b.columns} FROM ${stagedRows} a " +
		"INNER JOIN ${table} b ON a.${id} = b.${id} " +
		"WHERE ${stagedWins} ORDER BY a.${id}"

	updateAllSQL = "UPDATE ${table} SET ${setFromStaging} " +
		"FROM ${stagedRows} a " +
		"WHERE ${table}.${id} = a.${id} AND ${stagedWinsOverMain}"

	queryDeletedSQL = "SELECT ${a.columns} FROM ${table} a " +
		"LEFT JOIN ${stagingTable} b ON a.${id} = b.${id} " +
		"WHERE b.${id} IS NULL${liveA} ORDER BY a.${id}"

	deleteAllSQL = "DELETE FROM ${table} " +
		"WHERE NOT EXISTS (SELECT 1 FROM ${stagingTable} b WHERE b.${id} = ${table}.${id})"

	softDeleteAllSQL = "UPDATE ${table} SET ${tombstone} = ${deleteValue} " +
		"WHERE NOT EXISTS (SELECT 1 FROM ${stagingTable} b WHERE b.${id} = ${table}.${id})${live}"

	insertDeltaSQL = "INSERT INTO ${table} (${columns}) VALUES (${binds})"

	queryByIDSQL = "SELECT ${columns} FROM ${table} WHERE ${id} = @${idField}"

	queryLiveByIDSQL = "SELECT ${columns} FROM ${table} WHERE ${id} = @${idField}${live}"

	queryStaleByIDSQL = "SELECT ${columns} FROM ${table} " +
		"WHERE ${id} = @${idField} AND ${incomingNewer}"

	updateDeltaSQL = "UPDATE ${table} SET ${setFromBinds} " +
		"WHERE ${id} = @${idField} AND ${incomingNewer}"

	deleteDeltaSQL = "DELETE FROM ${table} WHERE ${id} = @${idField}"

	queryTombstonedByIDSQL = "SELECT ${columns} FROM ${table} " +
		"WHERE ${id} = @${idField} AND ${tombstone} = ${deleteValue}"

	reviveDeltaSQL = "UPDATE ${table} SET ${setFromBinds} " +
		"WHERE ${id} = @${idField} AND ${tombstone} = ${deleteValue}"

	softDeleteDeltaSQL = "UPDATE ${table} SET ${tombstone} = ${deleteValue} " +
		"WHERE ${id} = @${idField}${live}"
)

// Dialect specific skeletons.
const (
	createStagingPostgresSQL = "CREATE TABLE IF NOT EXISTS ${stagingTable} (LIKE ${table})"
	clearStagingPostgresSQL  = "TRUNCATE TABLE ${stagingTable}"

	createStagingSQLiteSQL = "CREATE TABLE IF NOT EXISTS ${stagingTable} AS SELECT * FROM ${table} WHERE 0"
	clearStagingSQLiteSQL  = "DELETE FROM ${stagingTable}"
)
