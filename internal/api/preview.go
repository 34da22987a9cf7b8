package api

import (
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/maxretain/lifecycle-mailer/internal/contacts"
	"github.com/maxretain/lifecycle-mailer/internal/dates"
	"github.com/maxretain/lifecycle-mailer/internal/pkg/httputil"
	"github.com/maxretain/lifecycle-mailer/internal/rules"
	"github.com/maxretain/lifecycle-mailer/internal/schedule"
)

const defaultSampleSize = 10

type stateInfo struct {
	Code                   string `json:"code"`
	HasBirthdayRule        bool   `json:"has_birthday_rule"`
	HasEffectiveDateRule   bool   `json:"has_effective_date_rule"`
	HasYearRoundEnrollment bool   `json:"has_year_round_enrollment"`
}

type contactInfo struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Email         string    `json:"email"`
	State         string    `json:"state"`
	StateInfo     stateInfo `json:"state_info"`
	BirthDate     string    `json:"birth_date,omitempty"`
	EffectiveDate string    `json:"effective_date,omitempty"`
}

type previewEmail struct {
	Type    string `json:"type"`
	Date    string `json:"date,omitempty"`
	Link    string `json:"link,omitempty"`
	Skipped bool   `json:"skipped"`
	Reason  string `json:"reason,omitempty"`
}

type contactPreview struct {
	ContactInfo contactInfo    `json:"contact_info"`
	Emails      []previewEmail `json:"emails"`
}

// CheckSchedule previews what the engine would plan for a sample of the
// org's contacts over the next two years. The whole population is
// scheduled so AEP date distribution matches a real run; the sample only
// trims the response.
func (h *Handlers) CheckSchedule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orgID, err := strconv.ParseInt(r.URL.Query().Get("org_id"), 10, 64)
	if err != nil || orgID <= 0 {
		httputil.BadRequest(w, "org_id is required")
		return
	}
	stateFilter := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("state")))
	limit := queryInt(r, "limit", defaultSampleSize)
	if limit <= 0 {
		limit = defaultSampleSize
	}

	db, err := h.orgs.ForOrg(orgID)
	if err != nil {
		httputil.FromError(w, err)
		return
	}
	all, err := contacts.LoadAll(ctx, db)
	if err != nil {
		httputil.FromError(w, err)
		return
	}
	if len(all) == 0 {
		httputil.NotFound(w, "no contacts found for organization")
		return
	}

	today := dates.Midnight(time.Now())
	results := h.engine.ScheduleAll(ctx, all, today, today.AddDate(2, 0, 0))

	if stateFilter != "" {
		filtered := results[:0:0]
		for _, res := range results {
			if strings.ToUpper(res.Contact.State) == stateFilter {
				filtered = append(filtered, res)
			}
		}
		results = filtered
	}
	if len(results) == 0 {
		httputil.NotFound(w, "no contacts match the state filter")
		return
	}
	total := len(results)
	sample := sampleResults(results, limit)

	previews := make(map[string]contactPreview, len(sample))
	for _, res := range sample {
		previews[res.Contact.ID] = h.previewFor(orgID, res)
	}

	resp := map[string]interface{}{
		"org_id":         orgID,
		"total_contacts": total,
		"sample_size":    len(sample),
		"contacts":       previews,
	}
	if org, ok, err := h.orgs.GetOrganization(ctx, orgID); err == nil && ok {
		resp["org_name"] = org.Name
	}
	httputil.OK(w, resp)
}

// sampleResults picks up to limit results, spreading picks across states
// so a preview shows rule variety. Round-robin over sorted states keeps
// the output stable.
func sampleResults(results []schedule.Result, limit int) []schedule.Result {
	if len(results) <= limit {
		return results
	}
	byState := map[string][]schedule.Result{}
	var states []string
	for _, res := range results {
		s := strings.ToUpper(res.Contact.State)
		if _, ok := byState[s]; !ok {
			states = append(states, s)
		}
		byState[s] = append(byState[s], res)
	}
	sort.Strings(states)

	out := make([]schedule.Result, 0, limit)
	for round := 0; len(out) < limit; round++ {
		picked := false
		for _, s := range states {
			if round >= len(byState[s]) {
				continue
			}
			out = append(out, byState[s][round])
			picked = true
			if len(out) == limit {
				break
			}
		}
		if !picked {
			break
		}
	}
	return out
}

func (h *Handlers) previewFor(orgID int64, res schedule.Result) contactPreview {
	c := res.Contact
	state := strings.ToUpper(c.State)
	rule, hasRule := h.engine.Rules().RuleFor(state)

	info := contactInfo{
		ID:    c.ID,
		Name:  c.FullName(),
		Email: c.Email,
		State: state,
		StateInfo: stateInfo{
			Code:                   state,
			HasBirthdayRule:        hasRule && rule.Type == rules.RuleBirthday,
			HasEffectiveDateRule:   hasRule && rule.Type == rules.RuleEffectiveDate,
			HasYearRoundEnrollment: h.engine.Rules().IsYearRound(state),
		},
	}
	if c.BirthDate != nil {
		info.BirthDate = c.BirthDate.Format("2006-01-02")
	}
	if c.EffectiveDate != nil {
		info.EffectiveDate = c.EffectiveDate.Format("2006-01-02")
	}

	link := h.signer.Link(strconv.FormatInt(orgID, 10), c.ID)
	emails := make([]previewEmail, 0, len(res.Emails)+len(res.Skipped))
	for _, e := range res.Emails {
		emails = append(emails, previewEmail{
			Type:   e.Type,
			Date:   e.Date.Format("2006-01-02"),
			Link:   link,
			Reason: e.Reason,
		})
	}
	for _, s := range res.Skipped {
		pe := previewEmail{Type: s.Type, Skipped: true, Reason: s.Reason}
		if !s.Date.IsZero() {
			pe.Date = s.Date.Format("2006-01-02")
		}
		emails = append(emails, pe)
	}
	return contactPreview{ContactInfo: info, Emails: emails}
}
