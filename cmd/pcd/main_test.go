package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/pcd/internal/control"
	"github.com/steveyegge/pcd/internal/ruleset"
)

func TestParseRuleIDSplitsGroupAndRule(t *testing.T) {
	id, err := parseRuleID("net_dhclient")
	require.NoError(t, err)
	assert.Equal(t, ruleset.RuleId{Group: "net", Rule: "dhclient"}, id)
}

func TestParseRuleIDRejectsMissingUnderscore(t *testing.T) {
	_, err := parseRuleID("dhclient")
	assert.Error(t, err)
}

func TestStatusLabelCoversEveryNonOKStatus(t *testing.T) {
	assert.Equal(t, "no such rule", statusLabel(control.StatusInvalidRule))
	assert.Equal(t, "bad parameters", statusLabel(control.StatusBadParams))
	assert.Equal(t, "timed out", statusLabel(control.StatusTimeout))
	assert.Equal(t, "error", statusLabel(control.StatusGeneric))
}

func TestStatusColumnTitleCases(t *testing.T) {
	assert.Equal(t, "Completed", statusColumn("Completed"))
}

func TestRunValidateReportsOKForCleanRulesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.conf")
	body := "VERSION 1\nRULE grp pseudo\nCOMMAND NONE\nACTIVE\nSTART_COND NONE\nEND_COND NONE\nFAILURE_ACTION NONE\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))

	cmd := validateCmd
	out := &bytes.Buffer{}
	cmd.SetOut(out)

	err := runValidate(cmd, []string{path})
	require.NoError(t, err)
	assert.Equal(t, "ok\n", out.String())
}

func TestRunValidateReportsDanglingReference(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.conf")
	body := "VERSION 1\nRULE grp waiter\nCOMMAND NONE\nACTIVE\nSTART_COND RULES_COMPLETED grp_ghost\nEND_COND NONE\nFAILURE_ACTION NONE\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))

	cmd := validateCmd
	out := &bytes.Buffer{}
	cmd.SetOut(out)

	err := runValidate(cmd, []string{path})
	assert.Error(t, err)
}
