package templates

import (
	"time"

	"github.com/maxretain/lifecycle-mailer/internal/contacts"
)

const isoDate = "2006-01-02"

// Organization is the branding block templates read under the
// `organization` variable.
type Organization struct {
	Name         string
	Phone        string
	Website      string
	PrimaryColor string
	LogoData     string
}

// DefaultOrganization is the neutral branding used when an org carries
// no profile of its own.
func DefaultOrganization() Organization {
	return Organization{
		Name:         "Medicare Services",
		Phone:        "1-800-MEDICARE",
		Website:      "www.medicare.gov",
		PrimaryColor: "#03045E",
	}
}

func (o Organization) withDefaults() Organization {
	d := DefaultOrganization()
	if o.Name == "" {
		o.Name = d.Name
	}
	if o.Phone == "" {
		o.Phone = d.Phone
	}
	if o.Website == "" {
		o.Website = d.Website
	}
	if o.PrimaryColor == "" {
		o.PrimaryColor = d.PrimaryColor
	}
	return o
}

// Bindings assembles the variable set for one send: contact fields, org
// branding, the quote link, and the date variables the type's template
// expects. Dates are bound as ISO strings so templates pick their own
// presentation through the date filter.
func Bindings(c contacts.Contact, org Organization, emailType string, scheduledDate time.Time, quoteLink string) map[string]interface{} {
	org = org.withDefaults()
	emailType = contacts.NormalizeEmailType(emailType)

	contact := map[string]interface{}{
		"id":         c.ID,
		"first_name": c.FirstName,
		"last_name":  c.LastName,
		"email":      c.Email,
		"state":      c.State,
		"zip_code":   c.ZipCode,
	}
	if c.BirthDate != nil {
		contact["birth_date"] = c.BirthDate.Format(isoDate)
	}
	if c.EffectiveDate != nil {
		contact["effective_date"] = c.EffectiveDate.Format(isoDate)
	}

	data := map[string]interface{}{
		"contact":        contact,
		"first_name":     c.FirstName,
		"last_name":      c.LastName,
		"full_name":      c.FullName(),
		"state":          c.State,
		"email_type":     emailType,
		"email_date":     scheduledDate.Format(isoDate),
		"scheduled_date": scheduledDate.Format(isoDate),
		"quote_link":     quoteLink,
		"organization": map[string]interface{}{
			"name":          org.Name,
			"phone":         org.Phone,
			"website":       org.Website,
			"primary_color": org.PrimaryColor,
			"logo_data":     org.LogoData,
		},
		// Flat aliases kept for older templates.
		"company_name": org.Name,
		"phone":        org.Phone,
		"website":      org.Website,
	}

	switch emailType {
	case contacts.EmailBirthday:
		if c.BirthDate != nil {
			data["birth_date"] = c.BirthDate.Format(isoDate)
			data["birth_month"] = c.BirthDate.Format("January")
		}
	case contacts.EmailEffectiveDate:
		if c.EffectiveDate != nil {
			data["effective_date"] = c.EffectiveDate.Format(isoDate)
		}
	case contacts.EmailAEP:
		data["aep_start"] = time.Date(scheduledDate.Year(), time.October, 15, 0, 0, 0, 0, time.UTC).Format(isoDate)
		data["aep_end"] = time.Date(scheduledDate.Year(), time.December, 7, 0, 0, 0, 0, time.UTC).Format(isoDate)
	}

	return data
}

// sampleBindings backs Validate with a contact that exercises every
// variable the stock templates reference.
func sampleBindings(emailType string) map[string]interface{} {
	birth := time.Date(1955, time.March, 5, 0, 0, 0, 0, time.UTC)
	effective := time.Date(2020, time.September, 1, 0, 0, 0, 0, time.UTC)
	sample := contacts.Contact{
		ID:            "0",
		Email:         "sample@example.com",
		FirstName:     "Jordan",
		LastName:      "Avery",
		State:         "CA",
		ZipCode:       "94105",
		BirthDate:     &birth,
		EffectiveDate: &effective,
	}
	return Bindings(sample, Organization{}, emailType,
		time.Date(2025, time.February, 19, 0, 0, 0, 0, time.UTC),
		"https://maxretain.com/compare?id=1-0-abcdef12")
}
