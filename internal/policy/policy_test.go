package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"safeworks.org/ptw/internal/permit"
)

const sample = `
default: [Safety_Officer, Area_Manager]
rules:
  - name: hot work
    when: permit.type == "Hot_Work"
    require: [Site_Lead]
  - name: long jobs
    when: permit.duration_hours > 12.0
    require: [Site_Lead]
  - name: refinery site
    when: permit.site_id == 3 && permit.vendor_id != 0
    require: [Site_Lead]
`

func newPermit(typ permit.Type, site int64, hours int) *permit.Permit {
	start := time.Date(2026, 1, 5, 8, 0, 0, 0, time.UTC)
	return &permit.Permit{
		Type:      typ,
		SiteID:    site,
		StartTime: start,
		EndTime:   start.Add(time.Duration(hours) * time.Hour),
	}
}

func TestRequiredRoles(t *testing.T) {
	e, err := Parse([]byte(sample))
	require.NoError(t, err)
	ctx := context.Background()

	roles, err := e.RequiredRoles(ctx, newPermit(permit.TypeGeneral, 1, 4))
	require.NoError(t, err)
	assert.Equal(t, []permit.ApproverRole{permit.RoleAreaManager, permit.RoleSafetyOfficer}, roles)

	roles, err = e.RequiredRoles(ctx, newPermit(permit.TypeHotWork, 1, 4))
	require.NoError(t, err)
	assert.Equal(t, []permit.ApproverRole{permit.RoleAreaManager, permit.RoleSafetyOfficer, permit.RoleSiteLead}, roles)

	roles, err = e.RequiredRoles(ctx, newPermit(permit.TypeGeneral, 1, 24))
	require.NoError(t, err)
	assert.Contains(t, roles, permit.RoleSiteLead)

	vendor := int64(9)
	p := newPermit(permit.TypeGeneral, 3, 2)
	p.VendorID = &vendor
	roles, err = e.RequiredRoles(ctx, p)
	require.NoError(t, err)
	assert.Len(t, roles, 3, "duplicate roles collapse")
}

func TestDefaultPolicy(t *testing.T) {
	e, err := Load("")
	require.NoError(t, err)
	roles, err := e.RequiredRoles(context.Background(), newPermit(permit.TypeHeight, 1, 1))
	require.NoError(t, err)
	assert.Equal(t, DefaultRoles, roles)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))
	e, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, e.rules, 3)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestParseRejectsBadDocuments(t *testing.T) {
	cases := map[string]string{
		"unknown default role": "default: [Janitor]",
		"unknown rule role":    "rules: [{name: x, when: 'true', require: [Janitor]}]",
		"empty require":        "rules: [{name: x, when: 'true'}]",
		"missing when":         "rules: [{name: x, require: [Site_Lead]}]",
		"syntax error":         "rules: [{name: x, when: 'permit.type ==', require: [Site_Lead]}]",
		"non boolean":          "rules: [{name: x, when: '1 + 2', require: [Site_Lead]}]",
		"bad yaml":             "default: [",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestShippedPolicyFile(t *testing.T) {
	e, err := Load(filepath.Join("..", "..", "config", "approval_policy.yaml"))
	require.NoError(t, err)

	roles, err := e.RequiredRoles(context.Background(), newPermit(permit.TypeConfinedSpace, 1, 4))
	require.NoError(t, err)
	assert.Equal(t, []permit.ApproverRole{permit.RoleAreaManager, permit.RoleSafetyOfficer, permit.RoleSiteLead}, roles)

	roles, err = e.RequiredRoles(context.Background(), newPermit(permit.TypeElectrical, 1, 4))
	require.NoError(t, err)
	assert.Equal(t, []permit.ApproverRole{permit.RoleAreaManager, permit.RoleSafetyOfficer}, roles)
}
