package sqlstore

import "fmt"

// Dialect bundles the table name and the SQL query templates that make the
// relational backend's dialect swappable through configuration alone,
// rather than through code changes.
//
// Two unique keys are assumed to exist on the chunk table, named
// UniqueIndexKey and UniqueOpKey below; a driver's unique-violation
// error is matched against these names to distinguish a duplicate stream
// index from an idempotent duplicate-operationId no-op.
type Dialect struct {
	TableName       string
	SequenceTable   string
	UniqueIndexKey  string
	UniqueOpKey     string

	CreateSequenceTable string
	CreateTable         string
	NextPosition        string
	InsertChunk         string
	SelectForward       string
	SelectBackward      string
	SelectSingleBackward string
	SelectAll           string
	SelectLastPosition  string
	DeleteRange         string
	DropTable           string
	DropSequenceTable   string
}

// MySQL builds the default Dialect for a MySQL/MariaDB database/sql driver
// (github.com/go-sql-driver/mysql), given the chunk table name. Position is
// generated through a companion sequence table rather than the chunk
// table's own auto-increment column, because auto-assigned indices need
// the position value before the chunk row is inserted.
func MySQL(tableName string) Dialect {
	seq := tableName + "_seq"
	idxKey := "uniq_" + tableName + "_partition_index"
	opKey := "uniq_" + tableName + "_partition_operation"

	return Dialect{
		TableName:      tableName,
		SequenceTable:  seq,
		UniqueIndexKey: idxKey,
		UniqueOpKey:    opKey,

		CreateSequenceTable: fmt.Sprintf(
			`CREATE TABLE IF NOT EXISTS %s (position BIGINT AUTO_INCREMENT PRIMARY KEY)`, seq),

		CreateTable: fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	position BIGINT PRIMARY KEY,
	partition_id VARCHAR(255) NOT NULL,
	idx BIGINT NOT NULL,
	payload LONGTEXT,
	operation_id VARCHAR(255) NOT NULL,
	deleted BOOLEAN NOT NULL DEFAULT FALSE,
	UNIQUE KEY %s (partition_id, idx),
	UNIQUE KEY %s (partition_id, operation_id),
	KEY idx_position (position)
)`, tableName, idxKey, opKey),

		NextPosition: fmt.Sprintf(`INSERT INTO %s () VALUES ()`, seq),

		InsertChunk: fmt.Sprintf(
			`INSERT INTO %s (position, partition_id, idx, payload, operation_id, deleted) VALUES (?, ?, ?, ?, ?, ?)`,
			tableName),

		SelectForward: fmt.Sprintf(
			`SELECT position, partition_id, idx, payload, operation_id, deleted FROM %s
			 WHERE partition_id = ? AND idx >= ? AND idx <= ? AND deleted = FALSE
			 ORDER BY idx ASC LIMIT ?`, tableName),

		SelectBackward: fmt.Sprintf(
			`SELECT position, partition_id, idx, payload, operation_id, deleted FROM %s
			 WHERE partition_id = ? AND idx <= ? AND idx >= ? AND deleted = FALSE
			 ORDER BY idx DESC LIMIT ?`, tableName),

		SelectSingleBackward: fmt.Sprintf(
			`SELECT position, partition_id, idx, payload, operation_id, deleted FROM %s
			 WHERE partition_id = ? AND idx <= ? AND deleted = FALSE
			 ORDER BY idx DESC LIMIT 1`, tableName),

		SelectAll: fmt.Sprintf(
			`SELECT position, partition_id, idx, payload, operation_id, deleted FROM %s
			 WHERE position >= ? AND deleted = FALSE
			 ORDER BY position ASC LIMIT ?`, tableName),

		SelectLastPosition: fmt.Sprintf(`SELECT COALESCE(MAX(position), 0) FROM %s`, tableName),

		DeleteRange: fmt.Sprintf(
			`UPDATE %s SET deleted = TRUE WHERE partition_id = ? AND idx >= ? AND idx <= ? AND deleted = FALSE`,
			tableName),

		DropTable:         fmt.Sprintf(`DROP TABLE IF EXISTS %s`, tableName),
		DropSequenceTable: fmt.Sprintf(`DROP TABLE IF EXISTS %s`, seq),
	}
}
