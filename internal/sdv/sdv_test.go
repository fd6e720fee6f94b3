package sdv

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GoogleCloudPlatform/db-synthesizer/internal/demo"
	"github.com/GoogleCloudPlatform/db-synthesizer/internal/frame"
	"github.com/GoogleCloudPlatform/db-synthesizer/internal/metadata"
	"github.com/GoogleCloudPlatform/db-synthesizer/internal/synthesizer"
)

func fittedDemo(t *testing.T) (*SDV, map[string]*frame.Frame) {
	t.Helper()
	md, tables, err := demo.LoadDemo()
	require.NoError(t, err)
	s := New(DefaultOptions())
	require.NoError(t, s.Fit(md, tables))
	require.True(t, s.Fitted())
	return s, tables
}

func keySet(t *testing.T, f *frame.Frame, column string) map[interface{}]bool {
	t.Helper()
	values, ok := f.Column(column)
	require.True(t, ok, "column %s", column)
	out := make(map[interface{}]bool, len(values))
	for _, v := range values {
		out[frame.Key(v)] = true
	}
	return out
}

func assertReferentialIntegrity(t *testing.T, result map[string]*frame.Frame) {
	t.Helper()
	users := keySet(t, result["users"], "user_id")
	sessions := keySet(t, result["sessions"], "session_id")
	for k := range keySet(t, result["sessions"], "user_id") {
		assert.True(t, users[k], "sessions.user_id %v has no parent", k)
	}
	for k := range keySet(t, result["transactions"], "session_id") {
		assert.True(t, sessions[k], "transactions.session_id %v has no parent", k)
	}
}

func TestDemoEndToEnd(t *testing.T) {
	s, tables := fittedDemo(t)

	all, err := s.SampleAll(0)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"users", "sessions", "transactions"}, keysOf(all))
	assert.Equal(t, 10, all["users"].Len())
	assertReferentialIntegrity(t, all)

	reset, err := s.Sample("users", SampleParams{ResetPrimaryKeys: true})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"users", "sessions", "transactions"}, keysOf(reset))
	assert.Equal(t, 10, reset["users"].Len())
	assertReferentialIntegrity(t, reset)

	for _, name := range []string{"users", "sessions", "transactions"} {
		t.Run(name+" without children", func(t *testing.T) {
			out, err := s.Sample(name, SampleParams{SkipChildren: true})
			require.NoError(t, err)
			assert.Equal(t, []string{name}, keysOf(out))
			wantRows, wantCols := tables[name].Shape()
			gotRows, gotCols := out[name].Shape()
			assert.Equal(t, wantRows, gotRows)
			assert.Equal(t, wantCols, gotCols)
			assert.Equal(t, tables[name].Columns(), out[name].Columns())
		})
	}
}

func TestSampleColumnsMatchInput(t *testing.T) {
	s, tables := fittedDemo(t)
	out, err := s.Sample("users", SampleParams{})
	require.NoError(t, err)
	for name, rows := range out {
		assert.Equal(t, tables[name].Columns(), rows.Columns(), name)
		for _, c := range rows.Columns() {
			assert.NotContains(t, c, "__num_rows")
		}
	}
}

func TestPrimaryKeysContinueAndReset(t *testing.T) {
	s, _ := fittedDemo(t)

	first, err := s.Sample("users", SampleParams{SkipChildren: true})
	require.NoError(t, err)
	second, err := s.Sample("users", SampleParams{SkipChildren: true})
	require.NoError(t, err)
	firstKeys := keySet(t, first["users"], "user_id")
	for k := range keySet(t, second["users"], "user_id") {
		assert.False(t, firstKeys[k], "key %v repeated across calls", k)
	}

	third, err := s.Sample("users", SampleParams{SkipChildren: true, ResetPrimaryKeys: true})
	require.NoError(t, err)
	assert.Equal(t, firstKeys, keySet(t, third["users"], "user_id"))
}

func TestSampleNumRows(t *testing.T) {
	s, _ := fittedDemo(t)
	out, err := s.Sample("users", SampleParams{NumRows: 3})
	require.NoError(t, err)
	assert.Equal(t, 3, out["users"].Len())
	assertReferentialIntegrity(t, out)

	var invalid *synthesizer.ErrInvalidInput
	_, err = s.Sample("users", SampleParams{NumRows: -1})
	assert.True(t, errors.As(err, &invalid))
	_, err = s.Sample("orders", SampleParams{})
	assert.True(t, errors.As(err, &invalid))
}

func TestChildForeignKeysDrawnFromOriginalParents(t *testing.T) {
	s, tables := fittedDemo(t)
	out, err := s.Sample("sessions", SampleParams{SkipChildren: true})
	require.NoError(t, err)
	original := keySet(t, tables["users"], "user_id")
	for k := range keySet(t, out["sessions"], "user_id") {
		assert.True(t, original[k], "user_id %v is not an original user", k)
	}
}

func TestUnfitted(t *testing.T) {
	s := New(DefaultOptions())
	var notFitted *synthesizer.ErrNotFitted

	_, err := s.Sample("users", SampleParams{})
	assert.True(t, errors.As(err, &notFitted))
	_, err = s.SampleAll(0)
	assert.True(t, errors.As(err, &notFitted))
	_, err = s.GetLearnedDistributions("users")
	assert.True(t, errors.As(err, &notFitted))
}

func TestFitErrors(t *testing.T) {
	md, tables, err := demo.LoadDemo()
	require.NoError(t, err)

	var invalid *synthesizer.ErrInvalidInput
	s := New(DefaultOptions())
	err = s.Fit(md, map[string]*frame.Frame{"users": tables["users"]})
	assert.True(t, errors.As(err, &invalid))
	assert.False(t, s.Fitted())

	opts := DefaultOptions()
	opts.TableOptions = map[string]synthesizer.Options{
		"sessions": {DefaultDistribution: "lognormal"},
	}
	s = New(opts)
	err = s.Fit(md, tables)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fitting table sessions")
	var cfgErr *synthesizer.ErrInvalidConfig
	assert.True(t, errors.As(err, &cfgErr))
	assert.False(t, s.Fitted())
}

func TestGetLearnedDistributions(t *testing.T) {
	s, _ := fittedDemo(t)
	dists, err := s.GetLearnedDistributions("users")
	require.NoError(t, err)
	assert.Contains(t, dists, "age.value")
	assert.Contains(t, dists, ExtensionColumn("sessions", "user_id")+".value")
	assert.Equal(t, "beta", dists["age.value"].Distribution)

	var invalid *synthesizer.ErrInvalidInput
	_, err = s.GetLearnedDistributions("nope")
	assert.True(t, errors.As(err, &invalid))
}

func TestExtendCountsChildren(t *testing.T) {
	md, tables, err := demo.LoadDemo()
	require.NoError(t, err)
	users, _ := md.Table("users")
	extended, table, err := extend(md, users, tables["users"], tables)
	require.NoError(t, err)

	name := ExtensionColumn("sessions", "user_id")
	col, ok := table.Column(name)
	require.True(t, ok)
	assert.Equal(t, metadata.Numerical, col.SDType)

	counts, _ := extended.Column(name)
	// users 0..9 have 2,3,2,2,1,2,2,1,2,3 sessions.
	assert.Equal(t, []interface{}{
		int64(2), int64(3), int64(2), int64(2), int64(1), int64(2), int64(2), int64(1), int64(2), int64(3),
	}, counts)
	assert.False(t, tables["users"].Has(name), "input is not modified")
}

func diamondFixture(t *testing.T) (*metadata.Metadata, map[string]*frame.Frame) {
	t.Helper()
	md := &metadata.Metadata{
		Tables: []*metadata.Table{
			{Name: "a", PrimaryKey: "a_id", Columns: []metadata.Column{
				{Name: "a_id", SDType: metadata.ID}, {Name: "x", SDType: metadata.Numerical}}},
			{Name: "b", PrimaryKey: "b_id", Columns: []metadata.Column{
				{Name: "b_id", SDType: metadata.ID}, {Name: "y", SDType: metadata.Numerical}}},
			{Name: "c", PrimaryKey: "c_id", Columns: []metadata.Column{
				{Name: "c_id", SDType: metadata.ID}, {Name: "a_id", SDType: metadata.ID},
				{Name: "b_id", SDType: metadata.ID}, {Name: "z", SDType: metadata.Numerical}}},
		},
		Relationships: []metadata.Relationship{
			{ParentTable: "a", ParentPrimaryKey: "a_id", ChildTable: "c", ChildForeignKey: "a_id"},
			{ParentTable: "b", ParentPrimaryKey: "b_id", ChildTable: "c", ChildForeignKey: "b_id"},
		},
	}
	// Original keys do not overlap the generated ones, so a foreign key drawn
	// from the training data would dangle.
	a, err := frame.FromRows([]string{"a_id", "x"}, [][]interface{}{
		{int64(100), 1.0}, {int64(101), 2.0}, {int64(102), 3.5},
	})
	require.NoError(t, err)
	b, err := frame.FromRows([]string{"b_id", "y"}, [][]interface{}{
		{int64(500), 10.0}, {int64(501), 20.0},
	})
	require.NoError(t, err)
	c, err := frame.FromRows([]string{"c_id", "a_id", "b_id", "z"}, [][]interface{}{
		{int64(0), int64(100), int64(500), 0.5},
		{int64(1), int64(101), int64(500), 0.7},
		{int64(2), int64(102), int64(501), 0.9},
		{int64(3), int64(102), int64(501), 1.1},
	})
	require.NoError(t, err)
	return md, map[string]*frame.Frame{"a": a, "b": b, "c": c}
}

func TestDiamondChildReferencesSampledParents(t *testing.T) {
	md, tables := diamondFixture(t)
	s := New(DefaultOptions())
	require.NoError(t, s.Fit(md, tables))

	for i := 0; i < 3; i++ {
		all, err := s.SampleAll(0)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"a", "b", "c"}, keysOf(all))
		assert.Equal(t, 3, all["a"].Len())
		assert.Equal(t, 2, all["b"].Len())
		assert.True(t, all["c"].IsUnique("c_id"), "c is sampled once")
		assert.Equal(t, []string{"c_id", "a_id", "b_id", "z"}, all["c"].Columns())

		for _, rel := range md.Relationships {
			parents := keySet(t, all[rel.ParentTable], rel.ParentPrimaryKey)
			fks, _ := all["c"].Column(rel.ChildForeignKey)
			for _, fk := range fks {
				require.NotNil(t, fk, "c.%s", rel.ChildForeignKey)
				assert.True(t, parents[frame.Key(fk)], "c.%s %v has no parent row", rel.ChildForeignKey, fk)
			}
		}
	}
}

func TestSampleChildOfOneDiamondParentUsesOriginalKeysOfTheOther(t *testing.T) {
	md, tables := diamondFixture(t)
	s := New(DefaultOptions())
	require.NoError(t, s.Fit(md, tables))

	out, err := s.Sample("a", SampleParams{})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "c"}, keysOf(out))

	sampledA := keySet(t, out["a"], "a_id")
	for k := range keySet(t, out["c"], "a_id") {
		assert.True(t, sampledA[k], "c.a_id %v is not a sampled a row", k)
	}
	originalB := keySet(t, tables["b"], "b_id")
	for k := range keySet(t, out["c"], "b_id") {
		assert.True(t, originalB[k], "c.b_id %v is not an original b row", k)
	}
}

// usersSessions builds five users with four sessions each. Both key columns
// share the given id definition.
func usersSessions(t *testing.T, id metadata.Column, userIDs []interface{}) (*metadata.Metadata, map[string]*frame.Frame) {
	t.Helper()
	userCol := id
	userCol.Name = "user_id"
	md := &metadata.Metadata{
		Tables: []*metadata.Table{
			{Name: "users", PrimaryKey: "user_id", Columns: []metadata.Column{
				userCol, {Name: "age", SDType: metadata.Numerical, Subtype: "integer"}}},
			{Name: "sessions", PrimaryKey: "session_id", Columns: []metadata.Column{
				{Name: "session_id", SDType: metadata.ID}, userCol,
				{Name: "duration", SDType: metadata.Numerical}}},
		},
		Relationships: []metadata.Relationship{
			{ParentTable: "users", ParentPrimaryKey: "user_id", ChildTable: "sessions", ChildForeignKey: "user_id"},
		},
	}
	var userRows, sessionRows [][]interface{}
	for i, uid := range userIDs {
		userRows = append(userRows, []interface{}{uid, int64(20 + 7*i)})
		for j := 0; j < 4; j++ {
			sessionRows = append(sessionRows, []interface{}{int64(4*i + j), uid, float64(10*j) + float64(i)/2})
		}
	}
	users, err := frame.FromRows([]string{"user_id", "age"}, userRows)
	require.NoError(t, err)
	sessions, err := frame.FromRows([]string{"session_id", "user_id", "duration"}, sessionRows)
	require.NoError(t, err)
	return md, map[string]*frame.Frame{"users": users, "sessions": sessions}
}

func TestIDKindsThroughOrchestrator(t *testing.T) {
	tests := []struct {
		name    string
		id      metadata.Column
		userIDs []interface{}
	}{
		{
			name:    "integer",
			id:      metadata.Column{SDType: metadata.ID},
			userIDs: []interface{}{int64(10), int64(11), int64(12), int64(13), int64(14)},
		},
		{
			// Ten possible keys: fewer than the twenty sessions that
			// reference them.
			name:    "regex",
			id:      metadata.Column{SDType: metadata.ID, Regex: "U[0-9]"},
			userIDs: []interface{}{"U5", "U6", "U7", "U8", "U9"},
		},
		{
			name:    "string subtype",
			id:      metadata.Column{SDType: metadata.ID, Subtype: "string"},
			userIDs: []interface{}{"alice", "bob", "carol", "dave", "erin"},
		},
		{
			name: "uuid subtype",
			id:   metadata.Column{SDType: metadata.ID, Subtype: "uuid"},
			userIDs: []interface{}{
				"0b6c1f2e-3c1d-4c55-9a59-1a1f1c0e0001", "0b6c1f2e-3c1d-4c55-9a59-1a1f1c0e0002",
				"0b6c1f2e-3c1d-4c55-9a59-1a1f1c0e0003", "0b6c1f2e-3c1d-4c55-9a59-1a1f1c0e0004",
				"0b6c1f2e-3c1d-4c55-9a59-1a1f1c0e0005",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			md, tables := usersSessions(t, tt.id, tt.userIDs)
			s := New(DefaultOptions())
			require.NoError(t, s.Fit(md, tables))

			var firstUsers map[interface{}]bool
			for i := 0; i < 3; i++ {
				out, err := s.Sample("users", SampleParams{ResetPrimaryKeys: true})
				require.NoError(t, err, "call %d", i)
				assert.Equal(t, 5, out["users"].Len())
				assert.Equal(t, 20, out["sessions"].Len(), "every user keeps four sessions")
				assert.True(t, out["users"].IsUnique("user_id"))
				assert.True(t, out["sessions"].IsUnique("session_id"))

				users := keySet(t, out["users"], "user_id")
				for k := range keySet(t, out["sessions"], "user_id") {
					assert.True(t, users[k], "sessions.user_id %v has no parent", k)
				}
				if firstUsers == nil {
					firstUsers = users
				}
				assert.Equal(t, firstUsers, users, "reset restarts the keys")
			}

			all, err := s.SampleAll(0)
			require.NoError(t, err)
			users := keySet(t, all["users"], "user_id")
			for k := range keySet(t, all["sessions"], "user_id") {
				assert.True(t, users[k], "sessions.user_id %v has no parent", k)
			}
		})
	}
}

func TestRepeatedResetWithoutChildren(t *testing.T) {
	md, tables := usersSessions(t,
		metadata.Column{SDType: metadata.ID, Regex: "U[0-9]"},
		[]interface{}{"U0", "U1", "U2", "U3", "U4"})
	s := New(DefaultOptions())
	require.NoError(t, s.Fit(md, tables))

	var first []interface{}
	for i := 0; i < 5; i++ {
		out, err := s.Sample("users", SampleParams{SkipChildren: true, ResetPrimaryKeys: true})
		require.NoError(t, err, "call %d", i)
		assert.Equal(t, []string{"users"}, keysOf(out))
		ids, _ := out["users"].Column("user_id")
		if first == nil {
			first = ids
		}
		assert.Equal(t, first, ids)
	}

	// Five of the ten regex keys remain after the last reset.
	_, err := s.Sample("users", SampleParams{SkipChildren: true})
	require.NoError(t, err)
	_, err = s.Sample("users", SampleParams{SkipChildren: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "users.user_id")
}

func TestChildCountIsClipped(t *testing.T) {
	tests := []struct {
		name  string
		value interface{}
		limit int
		want  int
	}{
		{"rounded", 2.6, 5, 3},
		{"negative", -1.2, 5, 0},
		{"null", nil, 5, 0},
		{"nan", math.NaN(), 5, 0},
		{"above the fitted maximum", 9.0, 5, 5},
		{"infinite", math.Inf(1), 5, 5},
		{"integer", int64(4), 5, 4},
		{"not a number", "three", 5, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, childCount(tt.value, tt.limit))
		})
	}
}

func TestUnboundedChildCountsStayWithinFittedMaximum(t *testing.T) {
	md, tables, err := demo.LoadDemo()
	require.NoError(t, err)
	opts := DefaultOptions()
	opts.Synthesizer.EnforceMinMaxValues = false
	opts.Synthesizer.DefaultDistribution = "norm"
	s := New(opts)
	require.NoError(t, s.Fit(md, tables))

	ext := ExtensionColumn("sessions", "user_id")
	assert.Equal(t, 3, s.maxChildren[ext])

	out, err := s.Sample("users", SampleParams{NumRows: 50})
	require.NoError(t, err)
	assert.LessOrEqual(t, out["sessions"].Len(), 50*3)
	counts := make(map[interface{}]int)
	ids, _ := out["sessions"].Column("user_id")
	for _, id := range ids {
		counts[frame.Key(id)]++
	}
	for id, n := range counts {
		assert.LessOrEqual(t, n, 3, "user %v", id)
	}
}

func TestSampleAllNegativeRows(t *testing.T) {
	s, _ := fittedDemo(t)
	var invalid *synthesizer.ErrInvalidInput
	_, err := s.SampleAll(-1)
	assert.True(t, errors.As(err, &invalid))
}

func keysOf(m map[string]*frame.Frame) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
