package rules

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultDocument(t *testing.T) {
	r := Default()

	ca, ok := r.RuleFor("CA")
	require.True(t, ok)
	assert.Equal(t, RuleBirthday, ca.Type)
	assert.Equal(t, 30, ca.WindowBefore)
	assert.Equal(t, 30, ca.WindowAfter)
	assert.True(t, ca.Windowed())

	nv, ok := r.RuleFor("NV")
	require.True(t, ok)
	assert.True(t, nv.UseMonthStart)
	assert.Equal(t, 0, nv.WindowBefore)
	assert.Equal(t, 60, nv.WindowAfter)

	il, ok := r.RuleFor("IL")
	require.True(t, ok)
	assert.Equal(t, 76, il.MaxAge)

	mo, ok := r.RuleFor("MO")
	require.True(t, ok)
	assert.Equal(t, RuleEffectiveDate, mo.Type)
	assert.Equal(t, 30, mo.WindowBefore)
	assert.Equal(t, 33, mo.WindowAfter)

	for _, state := range []string{"CT", "MA", "NY", "WA"} {
		assert.True(t, r.IsYearRound(state), state)
	}
	assert.False(t, r.IsYearRound("CA"))
	assert.False(t, r.IsYearRound("TX"), "unlisted state is not year-round")

	timing := r.Timing()
	assert.Equal(t, 14, timing.BirthdayEmailLeadDays)
	assert.Equal(t, 30, timing.EffectiveDateLeadDays)
	assert.Equal(t, 60, timing.PreWindowExclusionDays)
}

func TestDefaultAEPConfig(t *testing.T) {
	r := Default()

	dates2024 := r.AEPDatesFor(2024)
	require.Len(t, dates2024, 4)
	assert.Equal(t, time.Date(2024, 8, 18, 0, 0, 0, 0, time.UTC), dates2024[0])
	assert.Equal(t, time.Date(2024, 8, 25, 0, 0, 0, 0, time.UTC), dates2024[1])
	assert.Equal(t, time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC), dates2024[2])
	assert.Equal(t, time.Date(2024, 9, 7, 0, 0, 0, 0, time.UTC), dates2024[3])

	assert.Nil(t, r.AEPDatesFor(2040), "unlisted year has no campaign")

	assert.True(t, r.ShouldForceAEP("502"))
	assert.False(t, r.ShouldForceAEP("101"))

	pinned, ok := r.AEPOverrideDate("502", 2025)
	require.True(t, ok)
	assert.Equal(t, time.Date(2025, 8, 25, 0, 0, 0, 0, time.UTC), pinned)
	_, ok = r.AEPOverrideDate("101", 2025)
	assert.False(t, ok)

	enabled, md := r.OctoberBirthdayOverride()
	assert.True(t, enabled)
	assert.Equal(t, MonthDay{Month: 8, Day: 25}, md)
}

func TestDefaultLeapYearPostWindow(t *testing.T) {
	r := Default()

	ca, ok := r.LeapYearPostWindow("CA")
	require.True(t, ok)
	assert.Equal(t, MonthDay{Month: 3, Day: 30}, ca)

	nv, ok := r.LeapYearPostWindow("nv")
	require.True(t, ok)
	assert.Equal(t, MonthDay{Month: 3, Day: 31}, nv)

	_, ok = r.LeapYearPostWindow("OK")
	assert.False(t, ok)
}

func TestRuleForNormalizesInput(t *testing.T) {
	r := Default()

	rule, ok := r.RuleFor("  ca ")
	require.True(t, ok)
	assert.Equal(t, "CA", rule.State)

	_, ok = r.RuleFor("ZZ")
	assert.False(t, ok)
	_, ok = r.RuleFor("")
	assert.False(t, ok)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	doc := `
stateRules:
  CA:
    type: birthday
    windowBefore: 10
    windowAfter: 20
timingConstants:
  birthdayEmailLeadDays: 7
aepConfig:
  years: [2026]
  defaultDates:
    - month: 8
      day: 18
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0644))

	r, err := Load(path)
	require.NoError(t, err)

	ca, ok := r.RuleFor("CA")
	require.True(t, ok)
	assert.Equal(t, 10, ca.WindowBefore)
	assert.Equal(t, 20, ca.WindowAfter)

	// Provided constants override, absent ones keep their fallbacks.
	assert.Equal(t, 7, r.Timing().BirthdayEmailLeadDays)
	assert.Equal(t, 30, r.Timing().EffectiveDateLeadDays)
	assert.Equal(t, 60, r.Timing().PreWindowExclusionDays)

	require.Len(t, r.AEPDatesFor(2026), 1)
	assert.Nil(t, r.AEPDatesFor(2024))
}

func TestLoadFileNotFound(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestParseRejectsBadDocuments(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"not yaml", "{{{"},
		{"empty stateRules", "stateRules: {}\naepConfig:\n  years: [2024]\n  defaultDates: [{month: 8, day: 18}]"},
		{"bad state code", "stateRules:\n  CAL:\n    type: year_round\naepConfig:\n  years: [2024]\n  defaultDates: [{month: 8, day: 18}]"},
		{"unknown rule type", "stateRules:\n  CA:\n    type: lunar\naepConfig:\n  years: [2024]\n  defaultDates: [{month: 8, day: 18}]"},
		{"missing window spans", "stateRules:\n  CA:\n    type: birthday\naepConfig:\n  years: [2024]\n  defaultDates: [{month: 8, day: 18}]"},
		{"negative window", "stateRules:\n  CA:\n    type: birthday\n    windowBefore: -1\n    windowAfter: 30\naepConfig:\n  years: [2024]\n  defaultDates: [{month: 8, day: 18}]"},
		{"negative maxAge", "stateRules:\n  CA:\n    type: birthday\n    windowBefore: 0\n    windowAfter: 30\n    maxAge: -5\naepConfig:\n  years: [2024]\n  defaultDates: [{month: 8, day: 18}]"},
		{"negative timing", "stateRules:\n  CA:\n    type: year_round\ntimingConstants:\n  preWindowExclusionDays: -60\naepConfig:\n  years: [2024]\n  defaultDates: [{month: 8, day: 18}]"},
		{"no aep years", "stateRules:\n  CA:\n    type: year_round\naepConfig:\n  defaultDates: [{month: 8, day: 18}]"},
		{"aep year too old", "stateRules:\n  CA:\n    type: year_round\naepConfig:\n  years: [1999]\n  defaultDates: [{month: 8, day: 18}]"},
		{"no aep dates", "stateRules:\n  CA:\n    type: year_round\naepConfig:\n  years: [2024]\n  defaultDates: []"},
		{"bad aep date", "stateRules:\n  CA:\n    type: year_round\naepConfig:\n  years: [2024]\n  defaultDates: [{month: 13, day: 1}]"},
		{"empty override id", "stateRules:\n  CA:\n    type: year_round\naepConfig:\n  years: [2024]\n  defaultDates: [{month: 8, day: 18}]\ncontactRules:\n  contactOverrides:\n    - contactId: \"\"\n      forceAEP: true"},
		{"duplicate override id", "stateRules:\n  CA:\n    type: year_round\naepConfig:\n  years: [2024]\n  defaultDates: [{month: 8, day: 18}]\ncontactRules:\n  contactOverrides:\n    - contactId: \"7\"\n    - contactId: \"7\""},
		{"bad override date", "stateRules:\n  CA:\n    type: year_round\naepConfig:\n  years: [2024]\n  defaultDates: [{month: 8, day: 18}]\ncontactRules:\n  contactOverrides:\n    - contactId: \"7\"\n      aepOverrideDate: {month: 2, day: 30}"},
		{"bad october date", "stateRules:\n  CA:\n    type: year_round\naepConfig:\n  years: [2024]\n  defaultDates: [{month: 8, day: 18}]\nglobalRules:\n  octoberBirthdayOverride:\n    enabled: true\n    sendMonth: 0\n    sendDay: 25"},
		{"state-specific for unknown state", "stateRules:\n  CA:\n    type: year_round\naepConfig:\n  years: [2024]\n  defaultDates: [{month: 8, day: 18}]\nglobalRules:\n  stateSpecificRules:\n    NV:\n      leapYearPostWindow: {month: 3, day: 31}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			assert.Error(t, err)
		})
	}
}

func TestMonthDayIn(t *testing.T) {
	md := MonthDay{Month: 2, Day: 29}
	assert.Equal(t, time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC), md.In(2024))
	assert.Equal(t, time.Date(2023, 2, 28, 0, 0, 0, 0, time.UTC), md.In(2023), "clamps in non-leap years")
}

func TestStatesSorted(t *testing.T) {
	states := Default().States()
	require.NotEmpty(t, states)
	assert.IsIncreasing(t, states)
	assert.Contains(t, states, "CA")
	assert.Contains(t, states, "NY")
}
