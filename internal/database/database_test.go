package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/GoogleCloudPlatform/db-synthesizer/internal/config"
	"github.com/GoogleCloudPlatform/db-synthesizer/internal/frame"
)

// Mock DialectHandler implementation
type mockDialectHandler struct {
	mu                   sync.Mutex
	createCloudSQLPoolFn func(cfg config.DatabaseConfig) (*sql.DB, error)
	createStandardPoolFn func(cfg config.DatabaseConfig) (*sql.DB, error)
	listTablesFn         func(db *DB) ([]string, error)
	listColumnsFn        func(db *DB, tableName string) ([]ColumnInfo, error)
	getPrimaryKeyFn      func(db *DB, tableName string) (string, error)
	getForeignKeysFn     func(db *DB, tableName string) ([]ForeignKeyInfo, error)

	// Call counters/trackers
	listTablesCalls     int
	listColumnsCalls    int
	getPrimaryKeyCalls  int
	getForeignKeysCalls int
}

func (m *mockDialectHandler) CreateCloudSQLPool(cfg config.DatabaseConfig) (*sql.DB, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createCloudSQLPoolFn != nil {
		return m.createCloudSQLPoolFn(cfg)
	}
	mockDb, _, _ := sqlmock.New()
	return mockDb, nil
}

func (m *mockDialectHandler) CreateStandardPool(cfg config.DatabaseConfig) (*sql.DB, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createStandardPoolFn != nil {
		return m.createStandardPoolFn(cfg)
	}
	mockDb, _, _ := sqlmock.New()
	return mockDb, nil
}

func (m *mockDialectHandler) QuoteIdentifier(name string) string { return fmt.Sprintf(`"%s"`, name) }

func (m *mockDialectHandler) FormatLiteral(v interface{}) (string, error) {
	if lit, ok, err := FormatCommonLiteral(v); ok {
		return lit, err
	}
	switch x := v.(type) {
	case string:
		return QuoteString(x), nil
	case bool:
		if x {
			return "TRUE", nil
		}
		return "FALSE", nil
	case time.Time:
		return QuoteString(x.Format(time.RFC3339)), nil
	}
	return "", fmt.Errorf("unsupported value type %T", v)
}

func (m *mockDialectHandler) SelectSQL(tableName string, columns []string, limit int) string {
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = m.QuoteIdentifier(c)
	}
	query := fmt.Sprintf("SELECT %s FROM %s", strings.Join(quoted, ", "), m.QuoteIdentifier(tableName))
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	return query
}

func (m *mockDialectHandler) ListTables(ctx context.Context, db *DB) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listTablesCalls++
	if m.listTablesFn != nil {
		return m.listTablesFn(db)
	}
	return []string{"table1"}, nil
}

func (m *mockDialectHandler) ListColumns(ctx context.Context, db *DB, tableName string) ([]ColumnInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listColumnsCalls++
	if m.listColumnsFn != nil {
		return m.listColumnsFn(db, tableName)
	}
	return []ColumnInfo{{Name: "col1", DataType: "int"}}, nil
}

func (m *mockDialectHandler) GetPrimaryKey(ctx context.Context, db *DB, tableName string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getPrimaryKeyCalls++
	if m.getPrimaryKeyFn != nil {
		return m.getPrimaryKeyFn(db, tableName)
	}
	return "col1", nil
}

func (m *mockDialectHandler) GetForeignKeys(ctx context.Context, db *DB, tableName string) ([]ForeignKeyInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getForeignKeysCalls++
	if m.getForeignKeysFn != nil {
		return m.getForeignKeysFn(db, tableName)
	}
	return nil, nil
}

func (m *mockDialectHandler) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listTablesCalls = 0
	m.listColumnsCalls = 0
	m.getPrimaryKeyCalls = 0
	m.getForeignKeysCalls = 0
}

func TestRegisterAndGetDialectHandler(t *testing.T) {
	// Clean up handlers registered by other tests or init()
	mu.Lock()
	originalHandlers := make(map[string]DialectHandler)
	for k, v := range dialectHandlers {
		originalHandlers[k] = v
	}
	dialectHandlers = make(map[string]DialectHandler)
	mu.Unlock()

	defer func() {
		mu.Lock()
		dialectHandlers = originalHandlers
		mu.Unlock()
	}()

	mockHandler := &mockDialectHandler{}
	testDialect := "testdialect"

	_, err := GetDialectHandler(testDialect)
	if err == nil {
		t.Errorf("Expected error when getting unregistered dialect, got nil")
	}

	RegisterDialectHandler(testDialect, mockHandler)

	handler, err := GetDialectHandler(testDialect)
	if err != nil {
		t.Errorf("Unexpected error getting registered dialect: %v", err)
	}
	if handler != mockHandler {
		t.Errorf("Got wrong handler back, expected mock, got %T", handler)
	}

	mockHandler2 := &mockDialectHandler{}
	RegisterDialectHandler(testDialect, mockHandler2)
	handler, err = GetDialectHandler(testDialect)
	if err != nil {
		t.Errorf("Unexpected error getting overwritten dialect: %v", err)
	}
	if handler != mockHandler2 {
		t.Errorf("Got wrong handler back after overwrite, expected mock2, got %T", handler)
	}

	_, err = GetDialectHandler("unknown")
	if err == nil {
		t.Errorf("Expected error when getting unknown dialect, got nil")
	}
}

// Helper to create a DB with a mock handler and pool for delegation tests
func newTestDBWithMockHandler(t *testing.T, handler DialectHandler) (*DB, sqlmock.Sqlmock) {
	t.Helper()
	mockDb, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("An error '%s' was not expected when opening a stub database connection", err)
	}

	return &DB{
		Pool:    mockDb,
		Handler: handler,
		Config:  config.DatabaseConfig{Dialect: "mock"},
	}, mock
}

func TestDBMethodsDelegateToHandler(t *testing.T) {
	mockHandler := &mockDialectHandler{}
	db, mock := newTestDBWithMockHandler(t, mockHandler)
	defer db.Close()
	ctx := context.Background()

	tests := []struct {
		name          string
		dbMethodCall  func() error
		expectedCalls *int
	}{
		{"ListTables", func() error { _, err := db.ListTables(ctx); return err }, &mockHandler.listTablesCalls},
		{"ListColumns", func() error { _, err := db.ListColumns(ctx, "t1"); return err }, &mockHandler.listColumnsCalls},
		{"GetPrimaryKey", func() error { _, err := db.GetPrimaryKey(ctx, "t1"); return err }, &mockHandler.getPrimaryKeyCalls},
		{"GetForeignKeys", func() error { _, err := db.GetForeignKeys(ctx, "t1"); return err }, &mockHandler.getForeignKeysCalls},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockHandler.Reset()
			initialCalls := *tt.expectedCalls

			err := tt.dbMethodCall()
			if err != nil {
				t.Errorf("db.%s() returned unexpected error: %v", tt.name, err)
			}

			if *tt.expectedCalls != initialCalls+1 {
				t.Errorf("Expected handler method for %s to be called once, got %d calls", tt.name, *tt.expectedCalls)
			}
		})
	}

	mock.ExpectPing()
	if err := db.Ping(ctx); err != nil {
		t.Errorf("db.Ping() returned unexpected error: %v", err)
	}

	cfg := db.GetConfig()
	if cfg.Dialect != "mock" {
		t.Errorf("db.GetConfig() returned wrong dialect, got %s, want mock", cfg.Dialect)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestDBWithoutHandler(t *testing.T) {
	db := &DB{}
	ctx := context.Background()
	if _, err := db.ListTables(ctx); err == nil {
		t.Errorf("ListTables() expected error without handler")
	}
	if _, err := db.ReadTable(ctx, "t1", nil, 0); err == nil {
		t.Errorf("ReadTable() expected error without handler")
	}
	if _, err := db.GenerateInsertSQL("t1", frame.New("a")); err == nil {
		t.Errorf("GenerateInsertSQL() expected error without handler")
	}
	if err := db.Ping(ctx); err == nil {
		t.Errorf("Ping() expected error without pool")
	}
	if err := db.Close(); err != nil {
		t.Errorf("Close() on nil pool returned %v", err)
	}
}

func TestReadTable(t *testing.T) {
	ctx := context.Background()

	t.Run("Explicit columns", func(t *testing.T) {
		db, mock := newTestDBWithMockHandler(t, &mockDialectHandler{})
		defer db.Close()

		rows := sqlmock.NewRows([]string{"id", "name", "score"}).
			AddRow(int64(1), []byte("ada"), 3.5).
			AddRow(int64(2), nil, nil)
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT "id", "name", "score" FROM "people" LIMIT 10`)).WillReturnRows(rows)

		out, err := db.ReadTable(ctx, "people", []string{"id", "name", "score"}, 10)
		if err != nil {
			t.Fatalf("ReadTable() unexpected error: %v", err)
		}
		if out.Len() != 2 {
			t.Fatalf("ReadTable() got %d rows, want 2", out.Len())
		}
		names, _ := out.Column("name")
		if names[0] != "ada" || names[1] != nil {
			t.Errorf("ReadTable() names = %v, want [ada <nil>]", names)
		}
		ids, _ := out.Column("id")
		if ids[0] != int64(1) {
			t.Errorf("ReadTable() id = %#v, want int64(1)", ids[0])
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("there were unfulfilled expectations: %s", err)
		}
	})

	t.Run("Columns from schema", func(t *testing.T) {
		handler := &mockDialectHandler{}
		db, mock := newTestDBWithMockHandler(t, handler)
		defer db.Close()

		rows := sqlmock.NewRows([]string{"col1"}).AddRow(int64(7))
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT "col1" FROM "t1"`)).WillReturnRows(rows)

		out, err := db.ReadTable(ctx, "t1", nil, 0)
		if err != nil {
			t.Fatalf("ReadTable() unexpected error: %v", err)
		}
		if got := out.Columns(); len(got) != 1 || got[0] != "col1" {
			t.Errorf("ReadTable() columns = %v, want [col1]", got)
		}
		if handler.listColumnsCalls != 1 {
			t.Errorf("expected ListColumns to be called once, got %d", handler.listColumnsCalls)
		}
	})

	t.Run("Query error", func(t *testing.T) {
		db, mock := newTestDBWithMockHandler(t, &mockDialectHandler{})
		defer db.Close()

		dbError := errors.New("no such table")
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT "a" FROM "missing"`)).WillReturnError(dbError)
		_, err := db.ReadTable(ctx, "missing", []string{"a"}, 0)
		if !errors.Is(err, dbError) {
			t.Errorf("ReadTable() got error %v, want %v", err, dbError)
		}
	})
}

func TestGenerateInsertSQL(t *testing.T) {
	db := &DB{Handler: &mockDialectHandler{}}

	data, err := frame.FromRows([]string{"id", "name", "active", "score"}, [][]interface{}{
		{int64(1), "O'Brien", true, 1.5},
		{int64(2), nil, false, nil},
		{int64(3), "x", true, 2.0},
	})
	if err != nil {
		t.Fatalf("FromRows() unexpected error: %v", err)
	}

	stmts, err := db.GenerateInsertSQL("people", data)
	if err != nil {
		t.Fatalf("GenerateInsertSQL() unexpected error: %v", err)
	}
	want := `INSERT INTO "people" ("id", "name", "active", "score") VALUES ` +
		`(1, 'O''Brien', TRUE, 1.5), (2, NULL, FALSE, NULL), (3, 'x', TRUE, 2);`
	if len(stmts) != 1 || stmts[0] != want {
		t.Errorf("GenerateInsertSQL() = %v, want [%s]", stmts, want)
	}

	batched, err := BuildInsertStatements(db.Handler, "people", data, 2)
	if err != nil {
		t.Fatalf("BuildInsertStatements() unexpected error: %v", err)
	}
	if len(batched) != 2 {
		t.Errorf("BuildInsertStatements() got %d statements, want 2", len(batched))
	}

	empty, err := db.GenerateInsertSQL("people", frame.New("id"))
	if err != nil || len(empty) != 0 {
		t.Errorf("GenerateInsertSQL() on empty frame = %v, %v", empty, err)
	}

	bad, _ := frame.FromRows([]string{"v"}, [][]interface{}{{[]int{1}}})
	if _, err := db.GenerateInsertSQL("t", bad); err == nil {
		t.Errorf("GenerateInsertSQL() expected error for unsupported value type")
	}
}

func TestNormalizeValue(t *testing.T) {
	tests := []struct {
		in   interface{}
		want interface{}
	}{
		{[]byte("abc"), "abc"},
		{int32(4), int64(4)},
		{uint8(2), int64(2)},
		{float32(1.5), float64(1.5)},
		{"s", "s"},
		{nil, nil},
	}
	for _, tt := range tests {
		if got := NormalizeValue(tt.in); got != tt.want {
			t.Errorf("NormalizeValue(%#v) = %#v, want %#v", tt.in, got, tt.want)
		}
	}
}

func TestExecuteSQLStatements(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name          string
		sqlStatements []string
		mockSetup     func(mock sqlmock.Sqlmock)
		expectedError bool
	}{
		{
			name:          "Success case",
			sqlStatements: []string{"SELECT 1;", "UPDATE t SET c=1;"},
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec("SELECT 1;").WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectExec("UPDATE t SET c=1;").WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectCommit()
			},
			expectedError: false,
		},
		{
			name:          "Empty statements list",
			sqlStatements: []string{},
			mockSetup:     func(mock sqlmock.Sqlmock) {},
			expectedError: false,
		},
		{
			name:          "Statements with only whitespace",
			sqlStatements: []string{"  ", "\n\t ", ";"},
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec(";").WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectCommit()
			},
			expectedError: false,
		},
		{
			name:          "Begin fails",
			sqlStatements: []string{"SELECT 1;"},
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin().WillReturnError(errors.New("begin failed"))
			},
			expectedError: true,
		},
		{
			name:          "Exec fails",
			sqlStatements: []string{"SELECT 1;", "BAD SQL;", "SELECT 3;"},
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec("SELECT 1;").WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectExec("BAD SQL;").WillReturnError(errors.New("syntax error"))
				mock.ExpectRollback()
			},
			expectedError: true,
		},
		{
			name:          "Commit fails",
			sqlStatements: []string{"SELECT 1;"},
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec("SELECT 1;").WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectCommit().WillReturnError(errors.New("commit failed"))
			},
			expectedError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockDb, mock, err := sqlmock.New()
			if err != nil {
				t.Fatalf("An error '%s' was not expected when opening a stub database connection", err)
			}
			defer mockDb.Close()

			db := &DB{Pool: mockDb}

			tt.mockSetup(mock)

			err = db.ExecuteSQLStatements(ctx, tt.sqlStatements)

			if (err != nil) != tt.expectedError {
				t.Errorf("ExecuteSQLStatements() error = %v, expectedError %v", err, tt.expectedError)
			}

			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("there were unfulfilled expectations: %s", err)
			}
		})
	}
}
