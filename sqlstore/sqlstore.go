// Package sqlstore implements the relational Engine backend over
// database/sql, with github.com/go-sql-driver/mysql as the default driver.
//
// Unlike memstore, sqlstore does not write hole-avoidance filler chunks: a
// failed append simply burns a position value from the sequence table and
// leaves a gap. Position values come from a companion per-table sequence
// (see Dialect.NextPosition) rather than the chunk table's own identity
// column, because an auto-assigned Index needs the Position value before
// the chunk row is written. Deletes are tombstones (the Deleted column),
// not physical row removal.
package sqlstore

import (
	"context"
	"database/sql"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/dreamware/chunkstore/chunk"
	"github.com/dreamware/chunkstore/serializer"
)

// SQLStore is the relational Engine implementation. It holds no in-process
// state beyond the *sql.DB connection pool: all durable state lives in the
// chunk table and its companion sequence table named by Dialect.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	ser     serializer.Serializer
	log     *zap.Logger
}

// Option configures a SQLStore at construction time.
type Option func(*SQLStore)

// WithLogger installs a *zap.Logger; the default is zap.NewNop().
func WithLogger(l *zap.Logger) Option {
	return func(s *SQLStore) { s.log = l }
}

// New constructs a SQLStore. ser must be non-nil: payloads are opaque to
// this package and it has no default encoding to fall back on.
func New(db *sql.DB, dialect Dialect, ser serializer.Serializer, opts ...Option) (*SQLStore, error) {
	if ser == nil {
		return nil, errors.New("sqlstore: a Serializer is required")
	}
	s := &SQLStore{db: db, dialect: dialect, ser: ser, log: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Init creates the chunk table and its sequence table if they do not
// already exist.
func (s *SQLStore) Init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, s.dialect.CreateSequenceTable); err != nil {
		return errors.Wrap(err, "sqlstore: create sequence table")
	}
	if _, err := s.db.ExecContext(ctx, s.dialect.CreateTable); err != nil {
		return errors.Wrap(err, "sqlstore: create chunk table")
	}
	return nil
}

// DestroyAll drops the chunk table and its sequence table.
func (s *SQLStore) DestroyAll(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, s.dialect.DropTable); err != nil {
		return errors.Wrap(err, "sqlstore: drop chunk table")
	}
	if _, err := s.db.ExecContext(ctx, s.dialect.DropSequenceTable); err != nil {
		return errors.Wrap(err, "sqlstore: drop sequence table")
	}
	return nil
}

// nextPosition allocates a fresh Position value from the sequence table.
func (s *SQLStore) nextPosition(ctx context.Context, tx *sql.Tx) (int64, error) {
	res, err := tx.ExecContext(ctx, s.dialect.NextPosition)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// Append implements engine.Engine.Append.
func (s *SQLStore) Append(ctx context.Context, partitionID string, index int64, payload any, operationID string) (*chunk.Chunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, &chunk.ErrCancellation{Op: "Append"}
	}

	encoded, err := s.ser.Serialize(payload)
	if err != nil {
		return nil, &chunk.ErrPersistence{Message: "serialize payload", Cause: err}
	}
	if operationID == "" {
		operationID = uuid.NewString()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, &chunk.ErrPersistence{Message: "begin transaction", Cause: err}
	}
	defer tx.Rollback()

	position, err := s.nextPosition(ctx, tx)
	if err != nil {
		return nil, &chunk.ErrPersistence{Message: "allocate position", Cause: err}
	}
	if index == chunk.IndexAuto {
		index = position
	}

	_, err = tx.ExecContext(ctx, s.dialect.InsertChunk, position, partitionID, index, encoded, operationID, false)
	if err != nil {
		if dupErr := s.classifyDuplicate(err); dupErr != nil {
			if commitErr := tx.Commit(); commitErr != nil {
				return nil, &chunk.ErrPersistence{Message: "commit after duplicate", Cause: commitErr}
			}
			if errors.Is(dupErr, errIdempotentNoOp) {
				s.log.Debug("idempotent append no-op", zap.String("partition", partitionID), zap.String("operationId", operationID))
				return nil, nil
			}
			s.log.Debug("duplicate stream index", zap.String("partition", partitionID), zap.Int64("index", index))
			return nil, &chunk.ErrDuplicateStreamIndex{PartitionID: partitionID, Index: index}
		}
		return nil, &chunk.ErrPersistence{Message: "insert chunk", Cause: err}
	}

	if err := tx.Commit(); err != nil {
		return nil, &chunk.ErrPersistence{Message: "commit append", Cause: err}
	}

	return &chunk.Chunk{
		PartitionID: partitionID,
		Index:       index,
		Payload:     payload,
		OperationID: operationID,
		Position:    position,
	}, nil
}

// errIdempotentNoOp is a private sentinel distinguishing the two unique
// constraints a duplicate-key error can come from; it never leaves this
// file.
var errIdempotentNoOp = errors.New("duplicate operationId")

// classifyDuplicate inspects a driver error and, if it is a unique-key
// violation on either of the chunk table's two unique keys, returns
// errIdempotentNoOp (duplicate operationId) or a non-nil, non-sentinel
// error (duplicate index). Returns nil when err is not a duplicate-key
// violation at all.
func (s *SQLStore) classifyDuplicate(err error) error {
	var mysqlErr *mysql.MySQLError
	if !errors.As(err, &mysqlErr) || mysqlErr.Number != 1062 {
		return nil
	}
	switch {
	case strings.Contains(mysqlErr.Message, s.dialect.UniqueOpKey):
		return errIdempotentNoOp
	case strings.Contains(mysqlErr.Message, s.dialect.UniqueIndexKey):
		return errors.New("duplicate index")
	default:
		return nil
	}
}

// ReadForward implements engine.Engine.ReadForward.
func (s *SQLStore) ReadForward(ctx context.Context, partitionID string, fromLowerIdxIncl int64, sub chunk.Subscription, toUpperIdxIncl int64, limit int) error {
	rows, err := s.db.QueryContext(ctx, s.dialect.SelectForward, partitionID, fromLowerIdxIncl, toUpperIdxIncl, limit)
	return s.deliverRows(ctx, sub, fromLowerIdxIncl, rows, err, indexMarker)
}

// ReadBackward implements engine.Engine.ReadBackward.
func (s *SQLStore) ReadBackward(ctx context.Context, partitionID string, fromUpperIdxIncl int64, sub chunk.Subscription, toLowerIdxIncl int64, limit int) error {
	rows, err := s.db.QueryContext(ctx, s.dialect.SelectBackward, partitionID, fromUpperIdxIncl, toLowerIdxIncl, limit)
	return s.deliverRows(ctx, sub, fromUpperIdxIncl, rows, err, indexMarker)
}

// ReadSingleBackward implements engine.Engine.ReadSingleBackward. An index
// of 0 is a real, matchable index here, not a sentinel.
func (s *SQLStore) ReadSingleBackward(ctx context.Context, partitionID string, fromUpperIdxIncl int64) (*chunk.Chunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, &chunk.ErrCancellation{Op: "ReadSingleBackward"}
	}
	row := s.db.QueryRowContext(ctx, s.dialect.SelectSingleBackward, partitionID, fromUpperIdxIncl)
	c, err := s.scanRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, &chunk.ErrPersistence{Message: "read single backward", Cause: err}
	}
	return c, nil
}

// ReadAll implements engine.Engine.ReadAll.
func (s *SQLStore) ReadAll(ctx context.Context, fromPositionIncl int64, sub chunk.Subscription, limit int) error {
	rows, err := s.db.QueryContext(ctx, s.dialect.SelectAll, fromPositionIncl, limit)
	return s.deliverRows(ctx, sub, fromPositionIncl, rows, err, positionMarker)
}

// ReadLastPosition implements engine.Engine.ReadLastPosition.
func (s *SQLStore) ReadLastPosition(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, &chunk.ErrCancellation{Op: "ReadLastPosition"}
	}
	var last int64
	if err := s.db.QueryRowContext(ctx, s.dialect.SelectLastPosition).Scan(&last); err != nil {
		return 0, &chunk.ErrPersistence{Message: "read last position", Cause: err}
	}
	return last, nil
}

// Delete implements engine.Engine.Delete. Matching rows are tombstoned
// (Deleted = TRUE), not physically removed, so Position values already
// handed out stay stable for any concurrent forward scan.
func (s *SQLStore) Delete(ctx context.Context, partitionID string, fromLowerIdxIncl, toUpperIdxIncl int64) error {
	if err := ctx.Err(); err != nil {
		return &chunk.ErrCancellation{Op: "Delete"}
	}
	res, err := s.db.ExecContext(ctx, s.dialect.DeleteRange, partitionID, fromLowerIdxIncl, toUpperIdxIncl)
	if err != nil {
		return &chunk.ErrPersistence{Message: "delete range", Cause: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return &chunk.ErrPersistence{Message: "delete range rows affected", Cause: err}
	}
	if n == 0 {
		return &chunk.ErrStreamDelete{PartitionID: partitionID}
	}
	return nil
}

type marker func(c *chunk.Chunk) int64

func indexMarker(c *chunk.Chunk) int64    { return c.Index }
func positionMarker(c *chunk.Chunk) int64 { return c.Position }

// scanRow decodes one row into a *chunk.Chunk, deserializing its payload
// through the configured Serializer.
func (s *SQLStore) scanRow(row *sql.Row) (*chunk.Chunk, error) {
	var (
		c       chunk.Chunk
		payload string
		deleted bool
	)
	if err := row.Scan(&c.Position, &c.PartitionID, &c.Index, &payload, &c.OperationID, &deleted); err != nil {
		return nil, err
	}
	c.Deleted = deleted
	var decoded any
	if err := s.ser.Deserialize(payload, &decoded); err != nil {
		return nil, err
	}
	c.Payload = decoded
	return &c, nil
}

// deliverRows streams *sql.Rows through sub following the Subscription
// lifecycle, converting query and scan failures into OnError rather than a
// returned error, matching memstore's deliver.
func (s *SQLStore) deliverRows(ctx context.Context, sub chunk.Subscription, start int64, rows *sql.Rows, queryErr error, mark marker) error {
	if err := ctx.Err(); err != nil {
		if rows != nil {
			rows.Close()
		}
		return &chunk.ErrCancellation{Op: "scan"}
	}

	sub.OnStart(start)

	if queryErr != nil {
		sub.OnError(start, &chunk.ErrPersistence{Message: "query", Cause: queryErr})
		return nil
	}
	defer rows.Close()

	last := start
	for rows.Next() {
		if err := ctx.Err(); err != nil {
			rows.Close()
			return &chunk.ErrCancellation{Op: "scan"}
		}

		var (
			c       chunk.Chunk
			payload string
			deleted bool
		)
		if err := rows.Scan(&c.Position, &c.PartitionID, &c.Index, &payload, &c.OperationID, &deleted); err != nil {
			sub.OnError(last, &chunk.ErrPersistence{Message: "scan row", Cause: err})
			return nil
		}
		c.Deleted = deleted
		var decoded any
		if err := s.ser.Deserialize(payload, &decoded); err != nil {
			sub.OnError(last, &chunk.ErrPersistence{Message: "deserialize payload", Cause: err})
			return nil
		}
		c.Payload = decoded

		if !sub.OnNext(&c) {
			sub.Stopped(last)
			return nil
		}
		last = mark(&c)
	}
	if err := rows.Err(); err != nil {
		sub.OnError(last, &chunk.ErrPersistence{Message: "row iteration", Cause: err})
		return nil
	}

	sub.Completed(last)
	return nil
}
