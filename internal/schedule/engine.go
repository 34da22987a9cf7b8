package schedule

import (
	"fmt"
	"time"

	"github.com/maxretain/lifecycle-mailer/internal/contacts"
	"github.com/maxretain/lifecycle-mailer/internal/dates"
	"github.com/maxretain/lifecycle-mailer/internal/rules"
)

// Skip reasons shared across the engine.
const (
	reasonExcluded     = "in exclusion window"
	reasonYearRound    = "year-round enrollment state"
	reasonNoAnchors    = "missing anchor dates"
	reasonAEPExhausted = "all AEP dates excluded"
)

// defaultHorizonYears is how far ahead Schedule looks when no horizon end
// is given.
const defaultHorizonYears = 2

// Engine schedules lifecycle emails for contacts against a rule set.
type Engine struct {
	rules *rules.Rules
	now   func() time.Time
}

// New returns an engine over the given rule set.
func New(r *rules.Rules) *Engine {
	return &Engine{rules: r, now: time.Now}
}

// NewAt pins the engine clock. Tests and replayable CLI runs use it.
func NewAt(r *rules.Rules, now func() time.Time) *Engine {
	return &Engine{rules: r, now: now}
}

// Rules exposes the engine's rule set.
func (e *Engine) Rules() *rules.Rules {
	return e.rules
}

// Schedule computes the email schedule for one contact. A zero
// horizonStart means today; a zero horizonEnd means two years after the
// start. populationSize and populationIndex spread AEP sends across a
// batch. Schedule never fails: anything that would panic comes back as a
// processing-error skip instead.
func (e *Engine) Schedule(c contacts.Contact, horizonStart, horizonEnd time.Time, populationSize, populationIndex int) (res Result) {
	res.Contact = c
	defer func() {
		if r := recover(); r != nil {
			res.Emails = nil
			res.Skipped = []SkippedEmail{{Type: TypeAll, Reason: fmt.Sprintf("processing error: %v", r)}}
		}
	}()

	start := dates.Midnight(horizonStart)
	if horizonStart.IsZero() {
		start = dates.Midnight(e.now())
	}
	end := dates.Midnight(horizonEnd)
	if horizonEnd.IsZero() {
		end = start.AddDate(defaultHorizonYears, 0, 0)
	}

	if e.rules.IsYearRound(c.State) {
		res.Skipped = []SkippedEmail{{Type: TypeAll, Reason: reasonYearRound}}
		return res
	}
	if c.BirthDate == nil && c.EffectiveDate == nil {
		res.Skipped = []SkippedEmail{{Type: TypeAll, Reason: reasonNoAnchors}}
		return res
	}

	rule, hasRule := e.rules.RuleFor(c.State)
	r := &run{
		eng:     e,
		contact: c,
		rule:    rule,
		hasRule: hasRule,
		start:   start,
		end:     end,
	}
	r.windows = windowsFor(rule, hasRule, c, start, end)
	r.exclusions = exclusionSpans(r.windows, e.rules.Timing().PreWindowExclusionDays)

	r.birthday()
	r.effective()
	r.aep(populationSize, populationIndex)
	r.postWindow()

	res.Emails = finalizeEmails(r.emails)
	res.Skipped = finalizeSkips(r.skips)
	return res
}

// run carries the working state for one contact's schedule.
type run struct {
	eng        *Engine
	contact    contacts.Contact
	rule       rules.StateRule
	hasRule    bool
	start, end time.Time
	windows    []ruleWindow
	exclusions []span
	emails     []ScheduledEmail
	skips      []SkippedEmail
}

// ruleWindow is one year's enrollment window around a realized anchor.
type ruleWindow struct {
	anchor time.Time
	start  time.Time
	end    time.Time
}

// span is an inclusive date range.
type span struct{ start, end time.Time }

func (s span) contains(d time.Time) bool {
	return !d.Before(s.start) && !d.After(s.end)
}

// windowsFor realizes the state's enrollment windows. Anchors are taken a
// year past each horizon edge: windows centered outside the horizon can
// still exclude candidates near its boundary.
func windowsFor(rule rules.StateRule, hasRule bool, c contacts.Contact, start, end time.Time) []ruleWindow {
	if !hasRule || !rule.Windowed() {
		return nil
	}
	var anchor *time.Time
	if rule.Type == rules.RuleBirthday {
		anchor = c.BirthDate
	} else {
		anchor = c.EffectiveDate
	}
	if anchor == nil {
		return nil
	}
	occs := dates.YearlyOccurrences(*anchor, start.AddDate(-1, 0, 0), end.AddDate(1, 0, 0))
	out := make([]ruleWindow, 0, len(occs))
	for _, occ := range occs {
		a := occ
		if rule.UseMonthStart {
			a = dates.New(occ.Year(), occ.Month(), 1)
		}
		out = append(out, ruleWindow{
			anchor: a,
			start:  a.AddDate(0, 0, -rule.WindowBefore),
			end:    a.AddDate(0, 0, rule.WindowAfter),
		})
	}
	return out
}

// exclusionSpans widens each window by the pre-window prelude. Emails may
// not land inside these spans.
func exclusionSpans(windows []ruleWindow, preludeDays int) []span {
	out := make([]span, 0, len(windows))
	for _, w := range windows {
		out = append(out, span{start: w.start.AddDate(0, 0, -preludeDays), end: w.end})
	}
	return out
}

func (r *run) inHorizon(d time.Time) bool {
	return !d.Before(r.start) && !d.After(r.end)
}

func (r *run) excluded(d time.Time) bool {
	for _, s := range r.exclusions {
		if s.contains(d) {
			return true
		}
	}
	return false
}

func (r *run) schedule(typ string, d time.Time, reason string) {
	r.emails = append(r.emails, ScheduledEmail{Type: typ, Date: d, Reason: reason})
}

func (r *run) skip(typ string, d time.Time, reason string) {
	r.skips = append(r.skips, SkippedEmail{Type: typ, Date: d, Reason: reason})
}

func (r *run) ageReason(age int) string {
	return fmt.Sprintf("age %d at birthday, %s cutoff is %d", age, r.rule.State, r.rule.MaxAge)
}

// birthday emits one candidate per birthday occurrence, leading it by the
// configured days. Candidates outside the horizon drop silently.
func (r *run) birthday() {
	if r.contact.BirthDate == nil {
		return
	}
	lead := r.eng.rules.Timing().BirthdayEmailLeadDays
	birthYear := r.contact.BirthDate.Year()
	ageLimited := r.hasRule && r.rule.Type == rules.RuleBirthday && r.rule.MaxAge > 0
	for _, occ := range dates.YearlyOccurrences(*r.contact.BirthDate, r.start, r.end.AddDate(1, 0, 0)) {
		d := occ.AddDate(0, 0, -lead)
		if !r.inHorizon(d) {
			continue
		}
		if ageLimited && occ.Year()-birthYear >= r.rule.MaxAge {
			r.skip(contacts.EmailBirthday, d, r.ageReason(occ.Year()-birthYear))
			continue
		}
		if r.excluded(d) {
			r.skip(contacts.EmailBirthday, d, reasonExcluded)
			continue
		}
		r.schedule(contacts.EmailBirthday, d, "")
	}
}

// effective emits one candidate per policy anniversary. A January 1
// anniversary naturally lands the email on December 2 of the prior year.
func (r *run) effective() {
	if r.contact.EffectiveDate == nil {
		return
	}
	lead := r.eng.rules.Timing().EffectiveDateLeadDays
	for _, occ := range dates.YearlyOccurrences(*r.contact.EffectiveDate, r.start, r.end.AddDate(1, 0, 0)) {
		d := occ.AddDate(0, 0, -lead)
		if !r.inHorizon(d) {
			continue
		}
		if r.excluded(d) {
			r.skip(contacts.EmailEffectiveDate, d, reasonExcluded)
			continue
		}
		r.schedule(contacts.EmailEffectiveDate, d, "")
	}
}

// aep places at most one AEP email per horizon year. Pinned dates win
// over the October-birthday routing, which wins over index selection.
func (r *run) aep(populationSize, populationIndex int) {
	force := r.eng.rules.ShouldForceAEP(r.contact.ID)
	octoberEnabled, octoberDate := r.eng.rules.OctoberBirthdayOverride()
	for year := r.start.Year(); year <= r.end.Year(); year++ {
		if pinned, ok := r.eng.rules.AEPOverrideDate(r.contact.ID, year); ok {
			r.placeAEP(pinned, force)
			continue
		}
		if octoberEnabled && r.contact.BirthDate != nil && r.contact.BirthDate.Month() == time.October {
			r.placeAEP(octoberDate.In(year), force)
			continue
		}
		candidates := r.eng.rules.AEPDatesFor(year)
		if len(candidates) == 0 {
			continue
		}
		idx := 0
		if populationSize > 1 && populationIndex > 0 {
			idx = populationIndex % len(candidates)
		}
		if force {
			if d := candidates[idx]; r.inHorizon(d) {
				r.schedule(contacts.EmailAEP, d, "")
			}
			continue
		}
		placed, sawInHorizon := false, false
		for attempt := 0; attempt < len(candidates); attempt++ {
			d := candidates[(idx+attempt)%len(candidates)]
			if !r.inHorizon(d) {
				continue
			}
			sawInHorizon = true
			if r.excluded(d) {
				continue
			}
			r.schedule(contacts.EmailAEP, d, "")
			placed = true
			break
		}
		if !placed && sawInHorizon {
			r.skip(contacts.EmailAEP, candidates[idx], reasonAEPExhausted)
		}
	}
}

// placeAEP handles a pinned candidate: no rotation, and exclusion still
// applies unless the contact is forced.
func (r *run) placeAEP(d time.Time, force bool) {
	if !r.inHorizon(d) {
		return
	}
	if !force && r.excluded(d) {
		r.skip(contacts.EmailAEP, d, reasonExcluded)
		return
	}
	r.schedule(contacts.EmailAEP, d, "")
}

// postWindow emits the follow-up for each enrollment window whose send
// date lands in the horizon.
func (r *run) postWindow() {
	if !r.hasRule || !r.rule.Windowed() {
		return
	}
	birthYear := 0
	if r.contact.BirthDate != nil {
		birthYear = r.contact.BirthDate.Year()
	}
	ageLimited := r.rule.Type == rules.RuleBirthday && r.rule.MaxAge > 0 && r.contact.BirthDate != nil
	for _, w := range r.windows {
		d := r.eng.postWindowDate(r.rule, r.contact, w)
		if !r.inHorizon(d) {
			continue
		}
		if ageLimited && w.anchor.Year()-birthYear >= r.rule.MaxAge {
			r.skip(contacts.EmailPostWindow, d, r.ageReason(w.anchor.Year()-birthYear))
			continue
		}
		r.schedule(contacts.EmailPostWindow, d, "post-window email")
	}
}

// postWindowDate picks the send date after an enrollment window closes.
func (e *Engine) postWindowDate(rule rules.StateRule, c contacts.Contact, w ruleWindow) time.Time {
	// Contacts born on Feb 29 use the state's fixed make-up date when the
	// rule document defines one.
	if rule.Type == rules.RuleBirthday && c.BirthDate != nil &&
		c.BirthDate.Month() == time.February && c.BirthDate.Day() == 29 {
		if md, ok := e.rules.LeapYearPostWindow(rule.State); ok {
			return md.In(w.end.Year())
		}
	}
	// CA windows opening Feb 2-14 that close on Mar 29 or 30 send on
	// Mar 31 instead of the next day.
	if rule.State == "CA" && w.start.Month() == time.February &&
		w.start.Day() >= 2 && w.start.Day() <= 14 &&
		w.end.Month() == time.March && (w.end.Day() == 29 || w.end.Day() == 30) {
		return dates.MonthEnd(w.end.Year(), time.March)
	}
	// Month-start anchored windows closing on a month end send on the
	// closing day itself.
	if w.start.Day() == 1 && dates.IsMonthEnd(w.end) {
		return w.end
	}
	return w.end.AddDate(0, 0, 1)
}
