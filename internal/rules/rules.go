// Package rules loads and validates the rule document that drives
// lifecycle email scheduling: per-state enrollment windows, timing
// constants, AEP campaign dates, and per-contact overrides.
package rules

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/maxretain/lifecycle-mailer/internal/dates"
	"github.com/maxretain/lifecycle-mailer/internal/pkg/errs"
)

//go:embed state_rules.yaml
var embedded []byte

// Rule types a state can carry.
const (
	RuleBirthday      = "birthday"
	RuleEffectiveDate = "effective_date"
	RuleYearRound     = "year_round"
)

// Fallbacks for timing constants the document leaves out.
const (
	defaultBirthdayLead  = 14
	defaultEffectiveLead = 30
	defaultExclusionDays = 60
)

// StateRule is one state's enrollment-window rule. Window spans are
// inclusive day offsets around the yearly anchor.
type StateRule struct {
	State         string
	Type          string
	WindowBefore  int
	WindowAfter   int
	MaxAge        int
	UseMonthStart bool
}

// Windowed reports whether the rule produces a yearly enrollment window.
func (r StateRule) Windowed() bool {
	return r.Type == RuleBirthday || r.Type == RuleEffectiveDate
}

// TimingConstants are the day offsets applied when turning anchors into
// send dates.
type TimingConstants struct {
	BirthdayEmailLeadDays  int
	EffectiveDateLeadDays  int
	PreWindowExclusionDays int
}

// MonthDay is a calendar date without a year.
type MonthDay struct {
	Month int `yaml:"month"`
	Day   int `yaml:"day"`
}

// In realizes the date in the given year. Day 29 of February clamps to
// the 28th in non-leap years.
func (md MonthDay) In(year int) time.Time {
	return dates.SafeDate(year, time.Month(md.Month), md.Day)
}

func (md MonthDay) valid() bool {
	if md.Month < 1 || md.Month > 12 {
		return false
	}
	// Validate against a leap year so Feb 29 is accepted.
	return md.Day >= 1 && md.Day <= dates.DaysIn(2024, time.Month(md.Month))
}

// ContactOverride pins AEP behavior for a single contact.
type ContactOverride struct {
	ContactID       string    `yaml:"contactId"`
	ForceAEP        bool      `yaml:"forceAEP"`
	AEPOverrideDate *MonthDay `yaml:"aepOverrideDate"`
}

// OctoberOverride routes contacts born in October onto one fixed AEP date.
type OctoberOverride struct {
	Enabled   bool `yaml:"enabled"`
	SendMonth int  `yaml:"sendMonth"`
	SendDay   int  `yaml:"sendDay"`
}

// Raw document shapes. Window and timing fields are pointers so a value
// that is merely absent is not mistaken for an explicit zero.
type document struct {
	StateRules   map[string]stateRuleDoc `yaml:"stateRules"`
	Timing       timingDoc               `yaml:"timingConstants"`
	AEP          aepDoc                  `yaml:"aepConfig"`
	ContactRules struct {
		ContactOverrides []ContactOverride `yaml:"contactOverrides"`
	} `yaml:"contactRules"`
	GlobalRules struct {
		OctoberBirthdayOverride OctoberOverride             `yaml:"octoberBirthdayOverride"`
		StateSpecificRules      map[string]stateSpecificDoc `yaml:"stateSpecificRules"`
	} `yaml:"globalRules"`
}

type stateRuleDoc struct {
	Type          string `yaml:"type"`
	WindowBefore  *int   `yaml:"windowBefore"`
	WindowAfter   *int   `yaml:"windowAfter"`
	MaxAge        int    `yaml:"maxAge"`
	UseMonthStart bool   `yaml:"useMonthStart"`
}

type timingDoc struct {
	BirthdayEmailLeadDays  *int `yaml:"birthdayEmailLeadDays"`
	EffectiveDateLeadDays  *int `yaml:"effectiveDateLeadDays"`
	PreWindowExclusionDays *int `yaml:"preWindowExclusionDays"`
}

type aepDoc struct {
	Years        []int      `yaml:"years"`
	DefaultDates []MonthDay `yaml:"defaultDates"`
}

type stateSpecificDoc struct {
	LeapYearPostWindow *MonthDay `yaml:"leapYearPostWindow"`
}

// Rules is a validated, immutable rule set. Safe for concurrent use.
type Rules struct {
	states    map[string]StateRule
	timing    TimingConstants
	aepYears  map[int]bool
	aepDates  []MonthDay
	overrides map[string]ContactOverride
	october   OctoberOverride
	leapPost  map[string]MonthDay
}

// Default returns the rule set compiled into the binary. It panics only
// if the embedded document is broken, which the package tests catch.
func Default() *Rules {
	r, err := Parse(embedded)
	if err != nil {
		panic(fmt.Sprintf("rules: embedded document invalid: %v", err))
	}
	return r
}

// Load reads and validates a rule document from disk.
func Load(path string) (*Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Configf("reading rule document %s: %v", path, err)
	}
	return Parse(data)
}

// Parse validates a rule document and compiles it into query form.
func Parse(data []byte) (*Rules, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errs.Configf("parsing rule document: %v", err)
	}
	return compile(doc)
}

func compile(doc document) (*Rules, error) {
	r := &Rules{
		states:    make(map[string]StateRule, len(doc.StateRules)),
		aepYears:  make(map[int]bool, len(doc.AEP.Years)),
		overrides: make(map[string]ContactOverride, len(doc.ContactRules.ContactOverrides)),
		leapPost:  make(map[string]MonthDay),
	}

	if len(doc.StateRules) == 0 {
		return nil, errs.Configf("stateRules is empty")
	}
	for key, sr := range doc.StateRules {
		state := normalizeState(key)
		if !validStateCode(state) {
			return nil, errs.Configf("state %q is not a two-letter code", key)
		}
		if _, dup := r.states[state]; dup {
			return nil, errs.Configf("state %s defined twice", state)
		}
		rule := StateRule{
			State:         state,
			Type:          sr.Type,
			MaxAge:        sr.MaxAge,
			UseMonthStart: sr.UseMonthStart,
		}
		switch sr.Type {
		case RuleBirthday, RuleEffectiveDate:
			if sr.WindowBefore == nil || sr.WindowAfter == nil {
				return nil, errs.Configf("state %s: %s rule needs windowBefore and windowAfter", state, sr.Type)
			}
			if *sr.WindowBefore < 0 || *sr.WindowAfter < 0 {
				return nil, errs.Configf("state %s: negative window span", state)
			}
			rule.WindowBefore = *sr.WindowBefore
			rule.WindowAfter = *sr.WindowAfter
		case RuleYearRound:
			// No window fields to check.
		default:
			return nil, errs.Configf("state %s: unknown rule type %q", state, sr.Type)
		}
		if sr.MaxAge < 0 {
			return nil, errs.Configf("state %s: negative maxAge", state)
		}
		r.states[state] = rule
	}

	timing, err := compileTiming(doc.Timing)
	if err != nil {
		return nil, err
	}
	r.timing = timing

	if len(doc.AEP.Years) == 0 {
		return nil, errs.Configf("aepConfig.years is empty")
	}
	for _, y := range doc.AEP.Years {
		if y < 2000 {
			return nil, errs.Configf("aepConfig.years: %d is before 2000", y)
		}
		r.aepYears[y] = true
	}
	if len(doc.AEP.DefaultDates) == 0 {
		return nil, errs.Configf("aepConfig.defaultDates is empty")
	}
	for i, md := range doc.AEP.DefaultDates {
		if !md.valid() {
			return nil, errs.Configf("aepConfig.defaultDates[%d]: invalid month/day %d/%d", i, md.Month, md.Day)
		}
	}
	// Document order is the rotation order.
	r.aepDates = append(r.aepDates, doc.AEP.DefaultDates...)

	for _, ov := range doc.ContactRules.ContactOverrides {
		id := strings.TrimSpace(ov.ContactID)
		if id == "" {
			return nil, errs.Configf("contactOverrides: empty contactId")
		}
		if _, dup := r.overrides[id]; dup {
			return nil, errs.Configf("contactOverrides: contact %s listed twice", id)
		}
		if ov.AEPOverrideDate != nil && !ov.AEPOverrideDate.valid() {
			return nil, errs.Configf("contactOverrides: contact %s has invalid aepOverrideDate", id)
		}
		ov.ContactID = id
		r.overrides[id] = ov
	}

	oct := doc.GlobalRules.OctoberBirthdayOverride
	if oct.Enabled && !(MonthDay{Month: oct.SendMonth, Day: oct.SendDay}).valid() {
		return nil, errs.Configf("octoberBirthdayOverride: invalid send date %d/%d", oct.SendMonth, oct.SendDay)
	}
	r.october = oct

	for key, ss := range doc.GlobalRules.StateSpecificRules {
		state := normalizeState(key)
		if _, ok := r.states[state]; !ok {
			return nil, errs.Configf("stateSpecificRules: unknown state %q", key)
		}
		if ss.LeapYearPostWindow == nil {
			continue
		}
		if !ss.LeapYearPostWindow.valid() {
			return nil, errs.Configf("stateSpecificRules: state %s has invalid leapYearPostWindow", state)
		}
		r.leapPost[state] = *ss.LeapYearPostWindow
	}

	return r, nil
}

func compileTiming(doc timingDoc) (TimingConstants, error) {
	t := TimingConstants{
		BirthdayEmailLeadDays:  defaultBirthdayLead,
		EffectiveDateLeadDays:  defaultEffectiveLead,
		PreWindowExclusionDays: defaultExclusionDays,
	}
	set := func(name string, dst *int, v *int) error {
		if v == nil {
			return nil
		}
		if *v < 0 {
			return errs.Configf("timingConstants.%s: negative value %d", name, *v)
		}
		*dst = *v
		return nil
	}
	if err := set("birthdayEmailLeadDays", &t.BirthdayEmailLeadDays, doc.BirthdayEmailLeadDays); err != nil {
		return t, err
	}
	if err := set("effectiveDateLeadDays", &t.EffectiveDateLeadDays, doc.EffectiveDateLeadDays); err != nil {
		return t, err
	}
	if err := set("preWindowExclusionDays", &t.PreWindowExclusionDays, doc.PreWindowExclusionDays); err != nil {
		return t, err
	}
	return t, nil
}

func normalizeState(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

func validStateCode(s string) bool {
	if len(s) != 2 {
		return false
	}
	return s[0] >= 'A' && s[0] <= 'Z' && s[1] >= 'A' && s[1] <= 'Z'
}

// RuleFor looks up the rule for a state code. Lookup is case and
// whitespace insensitive.
func (r *Rules) RuleFor(state string) (StateRule, bool) {
	rule, ok := r.states[normalizeState(state)]
	return rule, ok
}

// IsYearRound reports whether the state enrolls year-round and therefore
// gets no lifecycle emails.
func (r *Rules) IsYearRound(state string) bool {
	rule, ok := r.RuleFor(state)
	return ok && rule.Type == RuleYearRound
}

// Timing returns the document's timing constants.
func (r *Rules) Timing() TimingConstants {
	return r.timing
}

// AEPDatesFor realizes the campaign dates for a year, in rotation order.
// Years absent from the document get nothing.
func (r *Rules) AEPDatesFor(year int) []time.Time {
	if !r.aepYears[year] {
		return nil
	}
	out := make([]time.Time, len(r.aepDates))
	for i, md := range r.aepDates {
		out[i] = md.In(year)
	}
	return out
}

// OverrideFor returns the contact's override entry, if any.
func (r *Rules) OverrideFor(contactID string) (ContactOverride, bool) {
	ov, ok := r.overrides[strings.TrimSpace(contactID)]
	return ov, ok
}

// ShouldForceAEP reports whether the contact's AEP email bypasses
// exclusion-window checks.
func (r *Rules) ShouldForceAEP(contactID string) bool {
	ov, ok := r.OverrideFor(contactID)
	return ok && ov.ForceAEP
}

// AEPOverrideDate realizes the contact's pinned AEP date in the given
// year. The second return is false when the contact has no date override.
func (r *Rules) AEPOverrideDate(contactID string, year int) (time.Time, bool) {
	ov, ok := r.OverrideFor(contactID)
	if !ok || ov.AEPOverrideDate == nil {
		return time.Time{}, false
	}
	return ov.AEPOverrideDate.In(year), true
}

// OctoberBirthdayOverride returns the global October-birthday AEP routing
// rule. The MonthDay is meaningful only when enabled.
func (r *Rules) OctoberBirthdayOverride() (bool, MonthDay) {
	return r.october.Enabled, MonthDay{Month: r.october.SendMonth, Day: r.october.SendDay}
}

// LeapYearPostWindow returns the state's fixed post-window date for
// contacts born on February 29, if the document defines one.
func (r *Rules) LeapYearPostWindow(state string) (MonthDay, bool) {
	md, ok := r.leapPost[normalizeState(state)]
	return md, ok
}

// States lists the configured state codes, sorted.
func (r *Rules) States() []string {
	out := make([]string, 0, len(r.states))
	for s := range r.states {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
