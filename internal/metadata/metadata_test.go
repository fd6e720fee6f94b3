package metadata

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GoogleCloudPlatform/db-synthesizer/internal/frame"
)

const chainYAML = `
tables:
  - name: users
    primary_key: user_id
    columns:
      - {name: user_id, sdtype: key}
      - {name: country, sdtype: categorical}
  - name: sessions
    primary_key: session_id
    columns:
      - {name: session_id, sdtype: id}
      - {name: user_id, sdtype: id}
  - name: transactions
    columns:
      - {name: session_id, sdtype: id}
      - {name: amount, sdtype: numerical}
relationships:
  - {parent_table_name: sessions, parent_primary_key: session_id, child_table_name: transactions, child_foreign_key: session_id}
  - {parent_table_name: users, parent_primary_key: user_id, child_table_name: sessions, child_foreign_key: user_id}
`

func TestParseAndNavigate(t *testing.T) {
	md, err := Parse([]byte(chainYAML))
	require.NoError(t, err)

	users, ok := md.Table("users")
	require.True(t, ok)
	pk, _ := users.Column("user_id")
	assert.Equal(t, ID, pk.SDType, "key alias is normalized")

	assert.Equal(t, []string{"users"}, md.RootTables())
	assert.Equal(t, []string{"sessions", "transactions"}, md.Descendants("users"))
	assert.Equal(t, []string{"user_id"}, md.ForeignKeys("sessions"))
	assert.Empty(t, md.Children("transactions"))

	order, err := md.InsertionOrder()
	require.NoError(t, err)
	assert.Equal(t, []string{"users", "sessions", "transactions"}, order)
}

func TestValidate(t *testing.T) {
	base := func() *Metadata {
		return &Metadata{
			Tables: []*Table{
				{Name: "a", PrimaryKey: "id", Columns: []Column{{Name: "id", SDType: ID}, {Name: "b_id", SDType: ID}}},
				{Name: "b", PrimaryKey: "id", Columns: []Column{{Name: "id", SDType: ID}, {Name: "a_id", SDType: ID}, {Name: "x", SDType: Numerical}}},
			},
			Relationships: []Relationship{{ParentTable: "a", ParentPrimaryKey: "id", ChildTable: "b", ChildForeignKey: "a_id"}},
		}
	}
	require.NoError(t, base().Validate())

	tests := []struct {
		name   string
		mutate func(m *Metadata)
		errMsg string
	}{
		{"no tables", func(m *Metadata) { m.Tables = nil }, "no tables"},
		{"duplicate table", func(m *Metadata) { m.Tables = append(m.Tables, m.Tables[0]) }, "duplicate table a"},
		{"duplicate column", func(m *Metadata) {
			m.Tables[1].Columns = append(m.Tables[1].Columns, Column{Name: "x", SDType: Numerical})
		}, "duplicate column x"},
		{"bad sdtype", func(m *Metadata) { m.Tables[1].Columns[2].SDType = "text" }, "unsupported sdtype"},
		{"primary key not id", func(m *Metadata) { m.Tables[0].Columns[0].SDType = Numerical }, "must have sdtype id"},
		{"unknown parent", func(m *Metadata) { m.Relationships[0].ParentTable = "z" }, "unknown parent table z"},
		{"parent key mismatch", func(m *Metadata) { m.Relationships[0].ParentPrimaryKey = "b_id" }, "is not the primary key"},
		{"foreign key not id", func(m *Metadata) { m.Relationships[0].ChildForeignKey = "x" }, "foreign key x must have sdtype id"},
		{"cycle", func(m *Metadata) {
			m.Relationships = append(m.Relationships, Relationship{ParentTable: "b", ParentPrimaryKey: "id", ChildTable: "a", ChildForeignKey: "b_id"})
		}, "cycle: a -> b -> a"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := base()
			tt.mutate(m)
			err := m.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestCoerce(t *testing.T) {
	table := &Table{
		Name:       "t",
		PrimaryKey: "id",
		Columns: []Column{
			{Name: "id", SDType: ID, Subtype: "integer"},
			{Name: "code", SDType: ID, Subtype: "string"},
			{Name: "n", SDType: Numerical, Subtype: "integer"},
			{Name: "f", SDType: Numerical},
			{Name: "ok", SDType: Boolean},
			{Name: "day", SDType: Datetime, DatetimeFormat: "%d/%m/%Y"},
			{Name: "c", SDType: Categorical},
		},
	}
	data, err := frame.FromRows(table.ColumnNames(), [][]interface{}{
		{"1", int64(7), "3", "2.5", "True", "31/12/2020", int64(4)},
		{"2", "x", nil, "", "no", nil, ""},
	})
	require.NoError(t, err)

	out, err := table.Coerce(data)
	require.NoError(t, err)
	assert.Equal(t, []interface{}{int64(1), "7", int64(3), 2.5, true, time.Date(2020, 12, 31, 0, 0, 0, 0, time.UTC), "4"}, out.Row(0))
	assert.Equal(t, []interface{}{int64(2), "x", nil, nil, false, nil, ""}, out.Row(1))
	require.NoError(t, table.ValidateData(out))

	bad, _ := frame.FromRows([]string{"id", "n"}, [][]interface{}{{"1", "1.5"}})
	_, err = table.Coerce(bad)
	assert.ErrorContains(t, err, "not an integer")
}

func TestValidateData(t *testing.T) {
	table := &Table{Name: "t", PrimaryKey: "id", Columns: []Column{{Name: "id", SDType: ID}, {Name: "v", SDType: Numerical}}}

	missing, _ := frame.FromRows([]string{"id"}, [][]interface{}{{int64(1)}})
	assert.ErrorContains(t, table.ValidateData(missing), "column v missing")

	dup, _ := frame.FromRows([]string{"id", "v"}, [][]interface{}{{int64(1), 1.0}, {int64(1), 2.0}})
	assert.ErrorContains(t, table.ValidateData(dup), "duplicate values")

	null, _ := frame.FromRows([]string{"id", "v"}, [][]interface{}{{nil, 1.0}})
	assert.ErrorContains(t, table.ValidateData(null), "is null")
}

func TestGoLayout(t *testing.T) {
	assert.Equal(t, "2006-01-02 15:04:05", GoLayout("%Y-%m-%d %H:%M:%S"))
	assert.Equal(t, time.RFC3339, GoLayout(time.RFC3339))
}

func TestSaveLoad(t *testing.T) {
	md, err := Parse([]byte(chainYAML))
	require.NoError(t, err)

	for _, name := range []string{"md.json", "md.yaml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)
			require.NoError(t, md.Save(path))
			got, err := Load(path)
			require.NoError(t, err)
			assert.Equal(t, md, got)
		})
	}

	_, err = Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestLoadCSVTables(t *testing.T) {
	md, err := Parse([]byte(chainYAML))
	require.NoError(t, err)

	dir := t.TempDir()
	files := map[string]string{
		"users.csv":        "user_id,country\n1,US\n2,FR\n",
		"sessions.csv":     "session_id,user_id\n10,1\n11,1\n12,2\n",
		"transactions.csv": "session_id,amount\n10,9.5\n12,\n",
	}
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}

	tables, err := md.LoadCSVTables(dir)
	require.NoError(t, err)
	require.Len(t, tables, 3)
	amounts, _ := tables["transactions"].Column("amount")
	assert.Equal(t, []interface{}{9.5, nil}, amounts)
	ids, _ := tables["sessions"].Column("session_id")
	assert.Equal(t, []interface{}{int64(10), int64(11), int64(12)}, ids)

	require.NoError(t, os.Remove(filepath.Join(dir, "users.csv")))
	_, err = md.LoadCSVTables(dir)
	assert.ErrorContains(t, err, "loading table users")
}
