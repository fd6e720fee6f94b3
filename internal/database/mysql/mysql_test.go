package mysql

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/GoogleCloudPlatform/db-synthesizer/internal/database"
)

const fkQueryPattern = `SELECT\s+COLUMN_NAME as column_name,\s+REFERENCED_TABLE_NAME as referenced_table,\s+REFERENCED_COLUMN_NAME as referenced_column,\s+CONSTRAINT_NAME as constraint_name\s+FROM information_schema\.KEY_COLUMN_USAGE`

func TestMySQLGetForeignKeys(t *testing.T) {
	tests := []struct {
		name          string
		tableName     string
		expectedFKs   []database.ForeignKeyInfo
		expectedError string
		mockSetup     func(sqlmock.Sqlmock)
	}{
		{
			name:      "Success with foreign keys found",
			tableName: "orders",
			expectedFKs: []database.ForeignKeyInfo{
				{
					Column:           "customer_id",
					ReferencedTable:  "customers",
					ReferencedColumn: "id",
					ConstraintName:   "fk_orders_customer_id",
				},
			},
			mockSetup: func(mock sqlmock.Sqlmock) {
				rows := sqlmock.NewRows([]string{"column_name", "referenced_table", "referenced_column", "constraint_name"}).
					AddRow("customer_id", "customers", "id", "fk_orders_customer_id")
				mock.ExpectQuery(fkQueryPattern).WithArgs("orders").WillReturnRows(rows)
			},
		},
		{
			name:        "No foreign keys found",
			tableName:   "standalone_table",
			expectedFKs: []database.ForeignKeyInfo{},
			mockSetup: func(mock sqlmock.Sqlmock) {
				rows := sqlmock.NewRows([]string{"column_name", "referenced_table", "referenced_column", "constraint_name"})
				mock.ExpectQuery(fkQueryPattern).WithArgs("standalone_table").WillReturnRows(rows)
			},
		},
		{
			name:          "Database query error",
			tableName:     "test_table",
			expectedError: "error querying foreign keys for test_table",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(fkQueryPattern).WithArgs("test_table").WillReturnError(errors.New("database connection failed"))
			},
		},
		{
			name:          "Row scanning error",
			tableName:     "test_table",
			expectedError: "error scanning foreign key info for test_table",
			mockSetup: func(mock sqlmock.Sqlmock) {
				rows := sqlmock.NewRows([]string{"column_name", "referenced_table", "referenced_column", "constraint_name"}).
					AddRow("c", nil, "id", "fk_test")
				mock.ExpectQuery(fkQueryPattern).WithArgs("test_table").WillReturnRows(rows)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockDB, mock, err := sqlmock.New()
			if err != nil {
				t.Fatalf("Failed to create mock database: %v", err)
			}
			defer mockDB.Close()

			tt.mockSetup(mock)

			db := &database.DB{Pool: mockDB}

			handler := mysqlHandler{}
			result, err := handler.GetForeignKeys(context.Background(), db, tt.tableName)

			if tt.expectedError != "" {
				if err == nil {
					t.Errorf("Expected error containing '%s', but got nil", tt.expectedError)
				} else if !strings.Contains(err.Error(), tt.expectedError) {
					t.Errorf("Expected error containing '%s', got %v", tt.expectedError, err)
				}
			} else {
				if err != nil {
					t.Errorf("Expected no error, but got: %v", err)
				}
				if len(result) != len(tt.expectedFKs) {
					t.Errorf("Expected %d foreign keys, got %d", len(tt.expectedFKs), len(result))
				} else {
					for i, expectedFK := range tt.expectedFKs {
						if result[i] != expectedFK {
							t.Errorf("Foreign key %d mismatch. Expected: %+v, Got: %+v", i, expectedFK, result[i])
						}
					}
				}
			}

			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("Unfulfilled mock expectations: %v", err)
			}
		})
	}
}

func TestMySQLGetPrimaryKey(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock database: %v", err)
	}
	defer mockDB.Close()
	db := &database.DB{Pool: mockDB}
	handler := mysqlHandler{}
	ctx := context.Background()

	pattern := `SELECT COLUMN_NAME\s+FROM information_schema.KEY_COLUMN_USAGE`
	mock.ExpectQuery(pattern).WithArgs("users").
		WillReturnRows(sqlmock.NewRows([]string{"COLUMN_NAME"}).AddRow("id"))
	mock.ExpectQuery(pattern).WithArgs("links").
		WillReturnRows(sqlmock.NewRows([]string{"COLUMN_NAME"}).AddRow("a").AddRow("b"))

	if got, err := handler.GetPrimaryKey(ctx, db, "users"); err != nil || got != "id" {
		t.Errorf("GetPrimaryKey(users) = %q, %v; want id", got, err)
	}
	if got, err := handler.GetPrimaryKey(ctx, db, "links"); err != nil || got != "" {
		t.Errorf("GetPrimaryKey(links) = %q, %v; want empty for composite key", got, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unfulfilled mock expectations: %v", err)
	}
}

func TestMySQLFormatLiteral(t *testing.T) {
	handler := mysqlHandler{}
	tests := []struct {
		in   interface{}
		want string
	}{
		{nil, "NULL"},
		{int64(12), "12"},
		{0.5, "0.5"},
		{`it's \ ok`, `'it''s \\ ok'`},
		{true, "1"},
		{false, "0"},
		{time.Date(2021, 6, 1, 8, 30, 0, 0, time.UTC), "'2021-06-01 08:30:00'"},
	}
	for _, tt := range tests {
		got, err := handler.FormatLiteral(tt.in)
		if err != nil {
			t.Errorf("FormatLiteral(%v) unexpected error: %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("FormatLiteral(%v) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestMySQLQuoteAndSelect(t *testing.T) {
	handler := mysqlHandler{}
	if got := handler.QuoteIdentifier("we`ird"); got != "`we``ird`" {
		t.Errorf("QuoteIdentifier() = %s", got)
	}
	if got, want := handler.SelectSQL("t", []string{"a", "b"}, 3), "SELECT `a`, `b` FROM `t` LIMIT 3"; got != want {
		t.Errorf("SelectSQL() = %s, want %s", got, want)
	}
}
