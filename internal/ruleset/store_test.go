package ruleset

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreInsertDuplicate(t *testing.T) {
	s := NewStore()
	r1 := &Rule{ID: RuleId{Group: "net", Rule: "eth0"}}
	r2 := &Rule{ID: RuleId{Group: "net", Rule: "eth0"}}

	require.NoError(t, s.Insert(r1))
	err := s.Insert(r2)
	require.Error(t, err)
	var dup *ErrDuplicateRule
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, r1.ID, dup.ID)
}

func TestStoreLookupExact(t *testing.T) {
	s := NewStore()
	r := &Rule{ID: RuleId{Group: "net", Rule: "eth0"}}
	require.NoError(t, s.Insert(r))

	got, ok := s.Lookup(RuleId{Group: "net", Rule: "eth0"})
	require.True(t, ok)
	assert.Same(t, r, got)
}

func TestStoreLookupTemplateClonesAndPersists(t *testing.T) {
	s := NewStore()
	tmpl := &Rule{ID: RuleId{Group: "conn", Rule: "sess"}, Indexed: true, Command: "/bin/worker"}
	require.NoError(t, s.Insert(tmpl))

	clone1, ok := s.Lookup(RuleId{Group: "conn", Rule: "sess42"})
	require.True(t, ok)
	assert.False(t, clone1.Indexed)
	assert.Equal(t, "/bin/worker", clone1.Command)

	// second lookup of the same instance name must return the persisted
	// clone, not fabricate a new one (spec §9 open question 4: growth is
	// permanent, not re-derived).
	clone2, ok := s.Lookup(RuleId{Group: "conn", Rule: "sess42"})
	require.True(t, ok)
	assert.Same(t, clone1, clone2)
}

func TestStoreLookupMiss(t *testing.T) {
	s := NewStore()
	_, ok := s.Lookup(RuleId{Group: "none", Rule: "x"})
	assert.False(t, ok)
}

func TestStoreLookupByProcessHandle(t *testing.T) {
	s := NewStore()
	r := &Rule{ID: RuleId{Group: "g", Rule: "r"}, ProcessHandle: 7}
	require.NoError(t, s.Insert(r))

	got, ok := s.LookupByProcessHandle(7)
	require.True(t, ok)
	assert.Same(t, r, got)

	_, ok = s.LookupByProcessHandle(0)
	assert.False(t, ok)
	_, ok = s.LookupByProcessHandle(999)
	assert.False(t, ok)
}

func TestStoreIterateOrder(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Insert(&Rule{ID: RuleId{Group: "b", Rule: "z"}}))
	require.NoError(t, s.Insert(&Rule{ID: RuleId{Group: "a", Rule: "y"}}))
	require.NoError(t, s.Insert(&Rule{ID: RuleId{Group: "a", Rule: "x"}}))

	var seen []string
	s.Iterate(func(r *Rule) { seen = append(seen, r.ID.String()) })
	// groups in insertion order (b, a); rules within a group sorted by name.
	assert.Equal(t, []string{"b_z", "a_x", "a_y"}, seen)
}

func TestStoreActivate(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Insert(&Rule{ID: RuleId{Group: "g", Rule: "idle"}, State: Idle}))
	require.NoError(t, s.Insert(&Rule{ID: RuleId{Group: "g", Rule: "active"}, State: Active}))

	activated := s.Activate()
	require.Len(t, activated, 1)
	assert.Equal(t, "active", activated[0].ID.Rule)
	assert.Equal(t, StartCondWait, activated[0].State)
}
