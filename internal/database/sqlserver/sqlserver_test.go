package sqlserver

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/GoogleCloudPlatform/db-synthesizer/internal/database"
)

const fkQueryPattern = `SELECT\s+c\.name AS column_name,\s+OBJECT_NAME\(f\.referenced_object_id\) AS ref_table`

func TestSQLServerGetForeignKeys(t *testing.T) {
	tests := []struct {
		name        string
		tableName   string
		expectedFKs []database.ForeignKeyInfo
		expectError bool
		mockSetup   func(sqlmock.Sqlmock)
	}{
		{
			name:      "Success with foreign keys found",
			tableName: "orders",
			expectedFKs: []database.ForeignKeyInfo{
				{
					Column:           "customer_id",
					ReferencedTable:  "customers",
					ReferencedColumn: "id",
					ConstraintName:   "FK_orders_customer_id",
				},
			},
			mockSetup: func(mock sqlmock.Sqlmock) {
				rows := sqlmock.NewRows([]string{"column_name", "ref_table", "ref_column", "constraint_name"}).
					AddRow("customer_id", "customers", "id", "FK_orders_customer_id")
				mock.ExpectQuery(fkQueryPattern).WithArgs(sql.Named("tableName", "orders")).WillReturnRows(rows)
			},
		},
		{
			name:      "No foreign keys found",
			tableName: "standalone_table",
			mockSetup: func(mock sqlmock.Sqlmock) {
				rows := sqlmock.NewRows([]string{"column_name", "ref_table", "ref_column", "constraint_name"})
				mock.ExpectQuery(fkQueryPattern).WithArgs(sql.Named("tableName", "standalone_table")).WillReturnRows(rows)
			},
		},
		{
			name:        "Database query error",
			tableName:   "test_table",
			expectError: true,
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(fkQueryPattern).WithArgs(sql.Named("tableName", "test_table")).WillReturnError(errors.New("database connection failed"))
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

			handler := sqlServerHandler{}
			result, err := handler.GetForeignKeys(context.Background(), db, tt.tableName)

			if (err != nil) != tt.expectError {
				t.Fatalf("GetForeignKeys() error = %v, expectError %v", err, tt.expectError)
			}
			if len(result) != len(tt.expectedFKs) {
				t.Fatalf("Expected %d foreign keys, got %d", len(tt.expectedFKs), len(result))
			}
			for i, expectedFK := range tt.expectedFKs {
				if result[i] != expectedFK {
					t.Errorf("Foreign key %d mismatch. Expected: %+v, Got: %+v", i, expectedFK, result[i])
				}
			}

			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("Unfulfilled mock expectations: %v", err)
			}
		})
	}
}

func TestSQLServerListColumns(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock database: %v", err)
	}
	defer mockDB.Close()
	db := &database.DB{Pool: mockDB}

	rows := sqlmock.NewRows([]string{"COLUMN_NAME", "DATA_TYPE"}).
		AddRow("id", "int").
		AddRow("name", "nvarchar")
	mock.ExpectQuery(`SELECT COLUMN_NAME, DATA_TYPE\s+FROM INFORMATION_SCHEMA.COLUMNS`).
		WithArgs(sql.Named("tableName", "people")).WillReturnRows(rows)

	cols, err := sqlServerHandler{}.ListColumns(context.Background(), db, "people")
	if err != nil {
		t.Fatalf("ListColumns() unexpected error: %v", err)
	}
	if len(cols) != 2 || cols[1].Name != "name" || cols[1].DataType != "nvarchar" {
		t.Errorf("ListColumns() = %+v", cols)
	}
}

func TestSQLServerLiteralsAndSelect(t *testing.T) {
	handler := sqlServerHandler{}

	if got := handler.QuoteIdentifier("a]b"); got != "[a]]b]" {
		t.Errorf("QuoteIdentifier() = %s, want [a]]b]", got)
	}
	if got, want := handler.SelectSQL("people", []string{"id"}, 7), "SELECT TOP 7 [id] FROM [people]"; got != want {
		t.Errorf("SelectSQL() = %s, want %s", got, want)
	}

	tests := []struct {
		in   interface{}
		want string
	}{
		{nil, "NULL"},
		{"O'Neil", "N'O''Neil'"},
		{true, "1"},
		{time.Date(2022, 3, 4, 5, 6, 7, 0, time.UTC), "'2022-03-04T05:06:07'"},
	}
	for _, tt := range tests {
		got, err := handler.FormatLiteral(tt.in)
		if err != nil || got != tt.want {
			t.Errorf("FormatLiteral(%v) = %s, %v; want %s", tt.in, got, err, tt.want)
		}
	}
}
