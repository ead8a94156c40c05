package snapshot

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pkg/errors"

	"github.com/dreamware/chunkstore/chunk"
	"github.com/dreamware/chunkstore/serializer"
)

// SQLQueries bundles the query templates the relational Store runs,
// parameterized by table name the same way sqlstore.Dialect is.
type SQLQueries struct {
	CreateTable      string
	Insert           string
	SelectAtOrBelow  string
	SelectMaxVersion string
	DeleteRange      string
}

// MySQLQueries builds the default SQLQueries for a MySQL/MariaDB
// database/sql driver, given the snapshot table name.
func MySQLQueries(tableName string) SQLQueries {
	return SQLQueries{
		CreateTable: fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	aggregate_id VARCHAR(255) NOT NULL,
	aggregate_version BIGINT NOT NULL,
	payload LONGTEXT,
	schema_version INT NOT NULL,
	PRIMARY KEY (aggregate_id, aggregate_version)
)`, tableName),

		Insert: fmt.Sprintf(
			`INSERT INTO %s (aggregate_id, aggregate_version, payload, schema_version) VALUES (?, ?, ?, ?)`,
			tableName),

		SelectAtOrBelow: fmt.Sprintf(
			`SELECT aggregate_version, payload, schema_version FROM %s
			 WHERE aggregate_id = ? AND aggregate_version <= ?
			 ORDER BY aggregate_version DESC LIMIT 1`, tableName),

		SelectMaxVersion: fmt.Sprintf(
			`SELECT COALESCE(MAX(aggregate_version), -1) FROM %s WHERE aggregate_id = ?`, tableName),

		DeleteRange: fmt.Sprintf(
			`DELETE FROM %s WHERE aggregate_id = ? AND aggregate_version >= ? AND aggregate_version <= ?`,
			tableName),
	}
}

// SQLStore is the relational Store implementation, sharing its connection
// pool and Serializer conventions with the chunk log's own sqlstore
// backend but kept in its own table.
type SQLStore struct {
	db      *sql.DB
	queries SQLQueries
	ser     serializer.Serializer
}

// NewSQLStore constructs a relational Store. ser must be non-nil.
func NewSQLStore(db *sql.DB, queries SQLQueries, ser serializer.Serializer) (*SQLStore, error) {
	if ser == nil {
		return nil, errors.New("snapshot: a Serializer is required")
	}
	return &SQLStore{db: db, queries: queries, ser: ser}, nil
}

// Init creates the snapshot table if it does not already exist.
func (s *SQLStore) Init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, s.queries.CreateTable); err != nil {
		return errors.Wrap(err, "snapshot: create table")
	}
	return nil
}

func (s *SQLStore) Get(ctx context.Context, aggregateID string, version int64) (*Info, error) {
	row := s.db.QueryRowContext(ctx, s.queries.SelectAtOrBelow, aggregateID, version)

	var (
		storedVersion int64
		payload       string
		schemaVersion int
	)
	if err := row.Scan(&storedVersion, &payload, &schemaVersion); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, &chunk.ErrPersistence{Message: "snapshot get", Cause: err}
	}

	var decoded any
	if err := s.ser.Deserialize(payload, &decoded); err != nil {
		return nil, &chunk.ErrPersistence{Message: "snapshot deserialize", Cause: err}
	}

	return &Info{
		AggregateID:      aggregateID,
		AggregateVersion: storedVersion,
		Payload:          decoded,
		SchemaVersion:    schemaVersion,
	}, nil
}

func (s *SQLStore) Add(ctx context.Context, aggregateID string, info Info) error {
	var maxVersion int64
	if err := s.db.QueryRowContext(ctx, s.queries.SelectMaxVersion, aggregateID).Scan(&maxVersion); err != nil {
		return &chunk.ErrPersistence{Message: "snapshot read max version", Cause: err}
	}
	if info.AggregateVersion <= maxVersion {
		return &chunk.ErrStaleSnapshot{AggregateID: aggregateID, AggregateVersion: info.AggregateVersion}
	}

	encoded, err := s.ser.Serialize(info.Payload)
	if err != nil {
		return &chunk.ErrPersistence{Message: "snapshot serialize", Cause: err}
	}

	_, err = s.db.ExecContext(ctx, s.queries.Insert, aggregateID, info.AggregateVersion, encoded, info.SchemaVersion)
	if err != nil {
		return &chunk.ErrPersistence{Message: "snapshot insert", Cause: err}
	}
	return nil
}

func (s *SQLStore) Remove(ctx context.Context, aggregateID string, fromVersion, toVersion int64) error {
	if _, err := s.db.ExecContext(ctx, s.queries.DeleteRange, aggregateID, fromVersion, toVersion); err != nil {
		return &chunk.ErrPersistence{Message: "snapshot delete range", Cause: err}
	}
	return nil
}
