package sqlstore_test

import (
	"context"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/chunkstore/chunk"
	"github.com/dreamware/chunkstore/serializer"
	"github.com/dreamware/chunkstore/sqlstore"
)

func newMockStore(t *testing.T) (*sqlstore.SQLStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store, err := sqlstore.New(db, sqlstore.MySQL("chunks"), serializer.JSON())
	require.NoError(t, err)
	return store, mock
}

func TestNewRequiresSerializer(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	_, err = sqlstore.New(db, sqlstore.MySQL("chunks"), nil)
	require.Error(t, err)
}

func TestInitCreatesSequenceThenChunkTable(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS chunks_seq").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS chunks").WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, store.Init(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendAutoAssignsIndexFromPosition(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO chunks_seq").WillReturnResult(sqlmock.NewResult(42, 1))
	mock.ExpectExec("INSERT INTO chunks").
		WithArgs(int64(42), "S1", int64(42), `"payload"`, sqlmock.AnyArg(), false).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	c, err := store.Append(context.Background(), "S1", chunk.IndexAuto, "payload", "")
	require.NoError(t, err)
	require.Equal(t, int64(42), c.Position)
	require.Equal(t, int64(42), c.Index)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendDuplicateOperationIsIdempotentNoOp(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO chunks_seq").WillReturnResult(sqlmock.NewResult(7, 1))
	dupErr := &mysql.MySQLError{Number: 1062, Message: "Duplicate entry 'S1-op1' for key 'chunks.uniq_chunks_partition_operation'"}
	mock.ExpectExec("INSERT INTO chunks").WillReturnError(dupErr)
	mock.ExpectCommit()

	c, err := store.Append(context.Background(), "S1", 1, "x", "op1")
	require.NoError(t, err)
	require.Nil(t, c)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendDuplicateIndexReturnsError(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO chunks_seq").WillReturnResult(sqlmock.NewResult(8, 1))
	dupErr := &mysql.MySQLError{Number: 1062, Message: "Duplicate entry 'S1-1' for key 'chunks.uniq_chunks_partition_index'"}
	mock.ExpectExec("INSERT INTO chunks").WillReturnError(dupErr)
	mock.ExpectCommit()

	_, err := store.Append(context.Background(), "S1", 1, "x", "")
	require.Error(t, err)
	var dse *chunk.ErrDuplicateStreamIndex
	require.ErrorAs(t, err, &dse)
	require.Equal(t, "S1", dse.PartitionID)
	require.Equal(t, int64(1), dse.Index)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteWithZeroRowsAffectedFails(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec("UPDATE chunks SET deleted").WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.Delete(context.Background(), "S1", chunk.IndexUnboundedLower, chunk.IndexUnboundedUpper)
	require.Error(t, err)
	var sde *chunk.ErrStreamDelete
	require.ErrorAs(t, err, &sde)
}

func TestReadLastPositionOnEmptyTable(t *testing.T) {
	store, mock := newMockStore(t)
	rows := sqlmock.NewRows([]string{"last"}).AddRow(0)
	mock.ExpectQuery("SELECT COALESCE").WillReturnRows(rows)

	last, err := store.ReadLastPosition(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(0), last)
}

func TestReadForwardDeliversRowsInOrder(t *testing.T) {
	store, mock := newMockStore(t)
	rows := sqlmock.NewRows([]string{"position", "partition_id", "idx", "payload", "operation_id", "deleted"}).
		AddRow(1, "S1", 1, `"a"`, "op-a", false).
		AddRow(2, "S1", 2, `"b"`, "op-b", false)
	mock.ExpectQuery("SELECT .* FROM chunks").WillReturnRows(rows)

	sub := &chunk.CollectingSubscription{}
	err := store.ReadForward(context.Background(), "S1", 0, sub, chunk.IndexUnboundedUpper, chunk.LimitUnbounded)
	require.NoError(t, err)
	require.Len(t, sub.Chunks, 2)
	require.Equal(t, "a", sub.Chunks[0].Payload)
	require.Equal(t, "b", sub.Chunks[1].Payload)
	require.False(t, sub.WasErrored)
}
