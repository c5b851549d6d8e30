package mysql

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"testing"
	"testing/fstest"

	xerrors "Nexus-Chain/internal/errors"
)

func TestFileJournalRecordAndReload(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	journal, err := NewFileJournal(dir)
	if err != nil {
		t.Fatalf("failed to create file journal: %v", err)
	}

	ctx := context.Background()
	for i, outcome := range []string{"submitted", "rejected", "skipped"} {
		record := CompletionRecord{
			TxDigest:  "digest",
			EventSeq:  fmt.Sprint(i),
			ModelName: "llama",
			Outcome:   outcome,
		}
		if err := journal.Record(ctx, record); err != nil {
			t.Fatalf("record failed: %v", err)
		}
	}

	latest, err := journal.ListLatest(ctx, 2)
	if err != nil {
		t.Fatalf("list latest failed: %v", err)
	}
	if len(latest) != 2 || latest[0].Outcome != "skipped" || latest[1].Outcome != "rejected" {
		t.Fatalf("unexpected latest records: %+v", latest)
	}
	if latest[0].ID == "" || latest[0].CreatedAt == 0 {
		t.Fatalf("expected id and timestamp to be assigned: %+v", latest[0])
	}

	reopened, err := NewFileJournal(dir)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	all, err := reopened.ListLatest(ctx, 0)
	if err != nil {
		t.Fatalf("list after reopen failed: %v", err)
	}
	if len(all) != 3 || all[2].Outcome != "submitted" {
		t.Fatalf("unexpected restored records: %+v", all)
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	t.Parallel()

	_, err := Open(context.Background(), "postgres", t.TempDir(), Config{})
	if xerrors.CodeOf(err) != xerrors.CodeConfiguration {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestSQLJournalRecord(t *testing.T) {
	t.Parallel()

	db, driver := newMockDB(t, []mockOperation{
		execOp(insertCompletionSQL, mockResult{rowsAffected: 1}),
	})
	defer driver.assertConsumed(t)
	defer db.Close()

	journal := &SQLJournal{db: db}
	record := CompletionRecord{ID: "id-1", TxDigest: "tx", EventSeq: "0", Outcome: "submitted", Digest: "abc", CreatedAt: 1}
	if err := journal.Record(context.Background(), record); err != nil {
		t.Fatalf("record failed: %v", err)
	}
}

func TestSQLJournalRecordFailure(t *testing.T) {
	t.Parallel()

	db, driver := newMockDB(t, []mockOperation{
		{typ: opExec, query: insertCompletionSQL, err: errors.New("connection reset")},
	})
	defer driver.assertConsumed(t)
	defer db.Close()

	journal := &SQLJournal{db: db}
	err := journal.Record(context.Background(), CompletionRecord{Outcome: "failed"})
	if xerrors.CodeOf(err) != xerrors.CodeStorageFailure {
		t.Fatalf("expected storage failure, got %v", err)
	}
}

func TestSQLJournalListLatest(t *testing.T) {
	t.Parallel()

	rows := mockRowsData{
		columns: []string{"id", "tx_digest", "event_seq", "execution_id", "model_name", "tool", "outcome", "digest", "error", "created_at"},
		values: [][]driver.Value{
			{"b", "tx", "1", "0xexec", "llama", "search", "rejected", "", "MoveAbort", int64(20)},
			{"a", "tx", "0", "0xexec", "llama", "", "submitted", "d1", nil, int64(10)},
		},
	}

	db, driver := newMockDB(t, []mockOperation{
		queryOp(selectCompletionsSQL, rows),
	})
	defer driver.assertConsumed(t)
	defer db.Close()

	journal := &SQLJournal{db: db}
	list, err := journal.ListLatest(context.Background(), 2)
	if err != nil {
		t.Fatalf("list latest failed: %v", err)
	}
	if len(list) != 2 || list[0].ID != "b" || list[0].Error != "MoveAbort" || list[1].Error != "" {
		t.Fatalf("unexpected list: %+v", list)
	}
}

func TestSQLJournalRunMigrations(t *testing.T) {
	t.Parallel()

	ops := []mockOperation{
		execOp(createMigrationTable, mockResult{}),
		queryOp(`SELECT version FROM schema_migrations`, mockRowsData{columns: []string{"version"}}),
		beginOp(),
		execOp(readMigrationStatement(t), mockResult{}),
		execOp(`INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`, mockResult{rowsAffected: 1}),
		commitOp(),
	}
	db, driver := newMockDB(t, ops)
	defer driver.assertConsumed(t)
	defer db.Close()

	journal := &SQLJournal{db: db}
	if err := journal.runMigrations(context.Background()); err != nil {
		t.Fatalf("run migrations failed: %v", err)
	}
}

func TestSQLJournalSkipsAppliedMigrations(t *testing.T) {
	t.Parallel()

	ops := []mockOperation{
		execOp(createMigrationTable, mockResult{}),
		queryOp(`SELECT version FROM schema_migrations`, mockRowsData{
			columns: []string{"version"},
			values:  [][]driver.Value{{"0001"}},
		}),
	}
	db, driver := newMockDB(t, ops)
	defer driver.assertConsumed(t)
	defer db.Close()

	journal := &SQLJournal{db: db}
	if err := journal.runMigrations(context.Background()); err != nil {
		t.Fatalf("run migrations failed: %v", err)
	}
}

func TestSQLJournalMigrationRollback(t *testing.T) {
	t.Parallel()

	ops := []mockOperation{
		beginOp(),
		{typ: opExec, query: "CREATE TABLE a (id INT)", err: errors.New("syntax error")},
		rollbackOp(),
	}
	db, driver := newMockDB(t, ops)
	defer driver.assertConsumed(t)
	defer db.Close()

	journal := &SQLJournal{db: db}
	err := journal.applyMigration(context.Background(), migrationFile{
		version:    "0002",
		name:       "0002_a.sql",
		statements: []string{"CREATE TABLE a (id INT)"},
	})
	if err == nil {
		t.Fatalf("expected migration error")
	}
}

func TestLoadMigrationFilesOrdersByVersion(t *testing.T) {
	t.Parallel()

	source := fstest.MapFS{
		"0002_add_index.sql":    {Data: []byte("CREATE INDEX i ON t (a);")},
		"0001_create_table.sql": {Data: []byte("CREATE TABLE t (a INT);\nCREATE TABLE u (b INT);")},
		"README.md":             {Data: []byte("not a migration")},
		"0003_empty.sql":        {Data: []byte("  ;  ")},
	}
	files, err := loadMigrationFiles(source)
	if err != nil {
		t.Fatalf("load migrations failed: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("expected 2 migrations, got %+v", files)
	}
	if files[0].version != "0001" || len(files[0].statements) != 2 || files[1].version != "0002" {
		t.Fatalf("unexpected migrations: %+v", files)
	}
}

func readMigrationStatement(t *testing.T) string {
	t.Helper()

	content, err := embeddedMigrations.ReadFile("0001_create_completions.sql")
	if err != nil {
		t.Fatalf("failed to read migration: %v", err)
	}
	statements := splitSQLStatements(string(content))
	if len(statements) == 0 {
		t.Fatalf("no statements in migration")
	}
	return statements[0]
}

type operationType int

const (
	opExec operationType = iota
	opQuery
	opBegin
	opCommit
	opRollback
)

type mockOperation struct {
	typ    operationType
	query  string
	result mockResult
	rows   mockRowsData
	err    error
}

type mockResult struct {
	lastInsertID int64
	rowsAffected int64
}

func (r mockResult) LastInsertId() (int64, error) { return r.lastInsertID, nil }
func (r mockResult) RowsAffected() (int64, error) { return r.rowsAffected, nil }

type mockRowsData struct {
	columns []string
	values  [][]driver.Value
}

type queueDriver struct {
	ops []mockOperation
	idx int32
}

var driverSeq atomic.Int32

func newMockDB(t *testing.T, ops []mockOperation) (*sql.DB, *queueDriver) {
	t.Helper()

	drv := &queueDriver{ops: ops}
	name := fmt.Sprintf("mock-mysql-%d", driverSeq.Add(1))
	sql.Register(name, drv)

	db, err := sql.Open(name, "")
	if err != nil {
		t.Fatalf("open mock db failed: %v", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return db, drv
}

func execOp(query string, result mockResult) mockOperation {
	return mockOperation{typ: opExec, query: query, result: result}
}

func queryOp(query string, rows mockRowsData) mockOperation {
	return mockOperation{typ: opQuery, query: query, rows: rows}
}

func beginOp() mockOperation { return mockOperation{typ: opBegin} }

func commitOp() mockOperation { return mockOperation{typ: opCommit} }

func rollbackOp() mockOperation { return mockOperation{typ: opRollback} }

func (d *queueDriver) assertConsumed(t *testing.T) {
	t.Helper()

	if int(atomic.LoadInt32(&d.idx)) != len(d.ops) {
		t.Fatalf("not all operations consumed: %d/%d", atomic.LoadInt32(&d.idx), len(d.ops))
	}
}

func (d *queueDriver) Open(string) (driver.Conn, error) {
	return &mockConn{driver: d}, nil
}

// next 按顺序消费预设操作，并校验类型与 SQL。
func (d *queueDriver) next(expected operationType, query string) (*mockOperation, error) {
	idx := int(atomic.LoadInt32(&d.idx))
	if idx >= len(d.ops) {
		return nil, fmt.Errorf("unexpected operation: %v", expected)
	}
	op := &d.ops[idx]
	if op.typ != expected {
		return nil, fmt.Errorf("expected operation %v, got %v", op.typ, expected)
	}
	atomic.AddInt32(&d.idx, 1)
	if op.query != "" && normalizeSQL(op.query) != normalizeSQL(query) {
		return nil, fmt.Errorf("unexpected query. want %q got %q", normalizeSQL(op.query), normalizeSQL(query))
	}
	return op, nil
}

type mockConn struct {
	driver *queueDriver
}

func (c *mockConn) Prepare(query string) (driver.Stmt, error) {
	return nil, fmt.Errorf("prepare not supported: %s", query)
}

func (c *mockConn) Close() error { return nil }

func (c *mockConn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

func (c *mockConn) BeginTx(context.Context, driver.TxOptions) (driver.Tx, error) {
	op, err := c.driver.next(opBegin, "")
	if err != nil {
		return nil, err
	}
	if op.err != nil {
		return nil, op.err
	}
	return &mockTx{driver: c.driver}, nil
}

func (c *mockConn) ExecContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Result, error) {
	op, err := c.driver.next(opExec, query)
	if err != nil {
		return nil, err
	}
	if op.err != nil {
		return nil, op.err
	}
	return op.result, nil
}

func (c *mockConn) QueryContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Rows, error) {
	op, err := c.driver.next(opQuery, query)
	if err != nil {
		return nil, err
	}
	if op.err != nil {
		return nil, op.err
	}
	return &mockRows{columns: op.rows.columns, values: op.rows.values}, nil
}

func (c *mockConn) Ping(context.Context) error { return nil }

type mockTx struct {
	driver *queueDriver
}

func (t *mockTx) Commit() error {
	op, err := t.driver.next(opCommit, "")
	if err != nil {
		return err
	}
	return op.err
}

func (t *mockTx) Rollback() error {
	op, err := t.driver.next(opRollback, "")
	if err != nil {
		return err
	}
	return op.err
}

type mockRows struct {
	columns []string
	values  [][]driver.Value
	idx     int
}

func (r *mockRows) Columns() []string { return r.columns }
func (r *mockRows) Close() error      { return nil }

func (r *mockRows) Next(dest []driver.Value) error {
	if r.idx >= len(r.values) {
		return io.EOF
	}
	copy(dest, r.values[r.idx])
	r.idx++
	return nil
}

func normalizeSQL(query string) string {
	return strings.Join(strings.Fields(query), " ")
}
