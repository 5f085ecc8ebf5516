// Package ledger persists sync progress in a destination-resident control
// table so a run can resume after a crash without redoing or skipping work.
// The success record can be written inside the caller's own transaction, so
// it commits or rolls back together with the table's data.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/sqlmirror/tablemirror/catalog"
	"github.com/sqlmirror/tablemirror/syncerrors"
)

// Status is the recorded state of one table's most recent sync attempt.
type Status string

const (
	StatusRunning Status = "RUNNING"
	StatusOK      Status = "OK"
	StatusError   Status = "ERROR"

	// StatusPartial is reserved for a caller that applies one table's delta
	// across more than one independent transaction, where some but not all
	// of those transactions committed. This ledger's own RecordSuccess is
	// only ever invoked from inside apply.Applier's single table-wide
	// transaction, so it never produces StatusPartial itself.
	StatusPartial Status = "PARTIAL"
)

// Entry is one row of the ledger: the last known sync state for a table.
type Entry struct {
	Schema            string
	Table             string
	Status            Status
	Strategy          string
	PrimaryKeyColumns []string
	PKAutoDetected    bool
	WhereClause       string
	RowversionColumn  string
	HighWaterMark     []byte // rowversion value, nil when the strategy doesn't use one
	LastHashSynced    string
	LastRunID         string
	LastStartedAt     time.Time
	LastFinishedAt    time.Time
	LastError         string
	RowsInserted      int64
	RowsUpdated       int64
	RowsDeleted       int64
	CreatedDate       time.Time
	ModifiedDate      time.Time
}

// Execer is the subset of *sql.DB/*sql.Tx that ledger writes need. Passing a
// *sql.Tx here threads a ledger mutation into a caller's own transaction, so
// the ledger update commits or rolls back atomically with the data delta it
// describes.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Ledger is the control-table contract: load prior state, and record the
// lifecycle of the current attempt.
type Ledger interface {
	Initialize(ctx context.Context) error
	Load(ctx context.Context, table catalog.TableRef) (Entry, bool, error)
	RecordStart(ctx context.Context, table catalog.TableRef, runID string) error
	RecordSuccess(ctx context.Context, ex Execer, entry SuccessUpdate) error
	RecordError(ctx context.Context, table catalog.TableRef, runID string, syncErr error) error
}

// SuccessUpdate is everything RecordSuccess needs to close out a table's
// sync attempt; it mirrors Entry's fields that change on a successful run.
type SuccessUpdate struct {
	Table             catalog.TableRef
	RunID             string
	Strategy          string
	PrimaryKeyColumns []string
	PKAutoDetected    bool
	WhereClause       string
	RowversionColumn  string
	HighWaterMark     []byte
	LastHashSynced    string
	Inserted          int64
	Updated           int64
	Deleted           int64
}

// SQLServerLedger implements Ledger against a configurable schema-qualified
// table on the destination connection.
type SQLServerLedger struct {
	db     *sql.DB
	schema string
	table  string
}

func New(db *sql.DB, schema, table string) *SQLServerLedger {
	if schema == "" {
		schema = "dbo"
	}
	if table == "" {
		table = "SyncMetadata"
	}
	return &SQLServerLedger{db: db, schema: schema, table: table}
}

func (l *SQLServerLedger) ref() string {
	return fmt.Sprintf("[%s].[%s]", l.schema, l.table)
}

// Initialize creates the ledger table if it does not already exist. Safe to
// call at the start of every run.
func (l *SQLServerLedger) Initialize(ctx context.Context) error {
	ddl := fmt.Sprintf(`
IF OBJECT_ID('%s', 'U') IS NULL
BEGIN
    CREATE TABLE %s (
        SchemaName NVARCHAR(128) NOT NULL,
        TableName NVARCHAR(512) NOT NULL,
        Status NVARCHAR(16) NOT NULL,
        Strategy NVARCHAR(32) NOT NULL DEFAULT '',
        PrimaryKeyColumns NVARCHAR(1000) NOT NULL DEFAULT '',
        PKAutoDetected BIT NOT NULL DEFAULT 0,
        WhereClause NVARCHAR(MAX) NOT NULL DEFAULT '',
        RowversionColumn NVARCHAR(128) NOT NULL DEFAULT '',
        HighWaterMark VARBINARY(8) NULL,
        LastHashSynced NVARCHAR(64) NOT NULL DEFAULT '',
        LastRunId NVARCHAR(64) NOT NULL DEFAULT '',
        LastStartedAt DATETIME2 NULL,
        LastFinishedAt DATETIME2 NULL,
        LastError NVARCHAR(MAX) NOT NULL DEFAULT '',
        RowsInserted BIGINT NOT NULL DEFAULT 0,
        RowsUpdated BIGINT NOT NULL DEFAULT 0,
        RowsDeleted BIGINT NOT NULL DEFAULT 0,
        CreatedDate DATETIME2 NOT NULL DEFAULT SYSUTCDATETIME(),
        ModifiedDate DATETIME2 NOT NULL DEFAULT SYSUTCDATETIME(),
        CONSTRAINT PK_%s PRIMARY KEY (SchemaName, TableName)
    );
END`, l.ref(), l.ref(), l.table)
	if _, err := l.db.ExecContext(ctx, ddl); err != nil {
		return syncerrors.New(syncerrors.LedgerUpdateFailed, l.ref(), err)
	}
	return nil
}

func (l *SQLServerLedger) Load(ctx context.Context, table catalog.TableRef) (Entry, bool, error) {
	q := fmt.Sprintf(`
SELECT Status, Strategy, PrimaryKeyColumns, PKAutoDetected, WhereClause, RowversionColumn,
       HighWaterMark, LastHashSynced, LastRunId, LastStartedAt, LastFinishedAt, LastError,
       RowsInserted, RowsUpdated, RowsDeleted, CreatedDate, ModifiedDate
FROM %s WHERE SchemaName = @p1 AND TableName = @p2`, l.ref())

	row := l.db.QueryRowContext(ctx, q, table.Schema, table.Name)
	var (
		e                         Entry
		pkCols                    string
		startedAt, finishedAt     sql.NullTime
		createdDate, modifiedDate time.Time
		highWaterMark             []byte
	)
	err := row.Scan(&e.Status, &e.Strategy, &pkCols, &e.PKAutoDetected, &e.WhereClause, &e.RowversionColumn,
		&highWaterMark, &e.LastHashSynced, &e.LastRunID, &startedAt, &finishedAt, &e.LastError,
		&e.RowsInserted, &e.RowsUpdated, &e.RowsDeleted, &createdDate, &modifiedDate)
	if err == sql.ErrNoRows {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, syncerrors.New(syncerrors.LedgerUpdateFailed, table.String(), err)
	}
	e.Schema = table.Schema
	e.Table = table.Name
	e.HighWaterMark = highWaterMark
	e.CreatedDate = createdDate
	e.ModifiedDate = modifiedDate
	if pkCols != "" {
		e.PrimaryKeyColumns = strings.Split(pkCols, ",")
	}
	if startedAt.Valid {
		e.LastStartedAt = startedAt.Time
	}
	if finishedAt.Valid {
		e.LastFinishedAt = finishedAt.Time
	}
	return e, true, nil
}

// RecordStart upserts a RUNNING row before any of the table's rows are
// changed on the destination, so a crash mid-sync leaves a visible,
// resumable trail. It runs against the
// ledger's own connection, independent of the table's sync transaction,
// since the whole point of this write is to be visible even if that later
// transaction never commits.
func (l *SQLServerLedger) RecordStart(ctx context.Context, table catalog.TableRef, runID string) error {
	q := fmt.Sprintf(`
MERGE %s AS target
USING (SELECT @p1 AS SchemaName, @p2 AS TableName) AS src
ON target.SchemaName = src.SchemaName AND target.TableName = src.TableName
WHEN MATCHED THEN UPDATE SET Status = 'RUNNING', LastRunId = @p3, LastStartedAt = SYSUTCDATETIME(),
    LastError = '', ModifiedDate = SYSUTCDATETIME()
WHEN NOT MATCHED THEN INSERT (SchemaName, TableName, Status, LastRunId, LastStartedAt, LastError, CreatedDate, ModifiedDate)
    VALUES (@p1, @p2, 'RUNNING', @p3, SYSUTCDATETIME(), '', SYSUTCDATETIME(), SYSUTCDATETIME());`, l.ref())
	if _, err := l.db.ExecContext(ctx, q, table.Schema, table.Name, runID); err != nil {
		return syncerrors.New(syncerrors.LedgerUpdateFailed, table.String(), err)
	}
	return nil
}

// RecordSuccess marks a table's ledger row OK. ex is ordinarily the same
// *sql.Tx the caller used to apply the table's row deltas, so this update
// commits or rolls back together with the data it describes (per apply.
// Applier.Apply's ledgerRecorder hook) rather than racing a separate
// standalone statement against it.
func (l *SQLServerLedger) RecordSuccess(ctx context.Context, ex Execer, u SuccessUpdate) error {
	q := fmt.Sprintf(`
UPDATE %s SET Status = 'OK', Strategy = @p3, PrimaryKeyColumns = @p4, PKAutoDetected = @p5,
    WhereClause = @p6, RowversionColumn = @p7, HighWaterMark = @p8, LastHashSynced = @p9,
    LastRunId = @p10, LastFinishedAt = SYSUTCDATETIME(), LastError = '',
    RowsInserted = RowsInserted + @p11, RowsUpdated = RowsUpdated + @p12, RowsDeleted = RowsDeleted + @p13,
    ModifiedDate = SYSUTCDATETIME()
WHERE SchemaName = @p1 AND TableName = @p2;`, l.ref())
	if _, err := ex.ExecContext(ctx, q,
		u.Table.Schema, u.Table.Name, u.Strategy, strings.Join(u.PrimaryKeyColumns, ","), u.PKAutoDetected,
		u.WhereClause, u.RowversionColumn, u.HighWaterMark, u.LastHashSynced,
		u.RunID, u.Inserted, u.Updated, u.Deleted); err != nil {
		return syncerrors.New(syncerrors.LedgerUpdateFailed, u.Table.String(), err)
	}
	return nil
}

// RecordError marks the table's ledger row ERROR, against the ledger's own
// connection rather than the failed sync's transaction, so a failure in one
// table's delta never loses the error record for that table to the same
// rollback that caused it.
func (l *SQLServerLedger) RecordError(ctx context.Context, table catalog.TableRef, runID string, syncErr error) error {
	q := fmt.Sprintf(`
UPDATE %s SET Status = 'ERROR', LastRunId = @p3, LastFinishedAt = SYSUTCDATETIME(), LastError = @p4,
    ModifiedDate = SYSUTCDATETIME()
WHERE SchemaName = @p1 AND TableName = @p2;`, l.ref())
	msg := ""
	if syncErr != nil {
		msg = syncErr.Error()
	}
	if _, err := l.db.ExecContext(ctx, q, table.Schema, table.Name, runID, msg); err != nil {
		return syncerrors.New(syncerrors.LedgerUpdateFailed, table.String(), err)
	}
	return nil
}
