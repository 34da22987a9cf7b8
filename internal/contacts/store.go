package contacts

import (
	"context"
	"database/sql"
	"strings"

	"github.com/maxretain/lifecycle-mailer/internal/pkg/errs"
)

// Optional columns picked up when the contacts table has them.
var optionalColumns = []string{"first_name", "last_name", "state", "zip_code", "birth_date", "effective_date"}

// LoadAll reads every contact with a usable email address. Org databases
// come from different importers, so the select list is discovered from the
// table itself; rows missing an id column fall back to rowid.
func LoadAll(ctx context.Context, db *sql.DB) ([]Contact, error) {
	sel, err := buildSelect(ctx, db)
	if err != nil {
		return nil, err
	}
	query := sel.clause + " FROM contacts WHERE email IS NOT NULL AND email != '' ORDER BY " + sel.key
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, errs.Storef("loading contacts: %v", err)
	}
	defer rows.Close()

	var out []Contact
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Storef("loading contacts: %v", err)
	}
	return out, nil
}

// Get fetches one contact by id (or rowid). The second return is false
// when no such row exists.
func Get(ctx context.Context, db *sql.DB, contactID string) (Contact, bool, error) {
	sel, err := buildSelect(ctx, db)
	if err != nil {
		return Contact{}, false, err
	}
	query := sel.clause + " FROM contacts WHERE " + sel.key + " = ?"
	rows, err := db.QueryContext(ctx, query, contactID)
	if err != nil {
		return Contact{}, false, errs.Storef("fetching contact %s: %v", contactID, err)
	}
	defer rows.Close()
	if !rows.Next() {
		return Contact{}, false, rows.Err()
	}
	c, err := scanContact(rows)
	if err != nil {
		return Contact{}, false, err
	}
	return c, true, nil
}

type selectSpec struct {
	clause string
	key    string // "id" or "rowid"
}

func buildSelect(ctx context.Context, db *sql.DB) (selectSpec, error) {
	cols, err := tableColumns(ctx, db, "contacts")
	if err != nil {
		return selectSpec{}, err
	}
	if len(cols) == 0 {
		return selectSpec{}, errs.Dataf("no contacts table")
	}
	if !cols["email"] {
		return selectSpec{}, errs.Dataf("contacts table has no email column")
	}
	spec := selectSpec{key: "id"}
	parts := make([]string, 0, 2+len(optionalColumns))
	if cols["id"] {
		parts = append(parts, "id")
	} else {
		parts = append(parts, "rowid AS id")
		spec.key = "rowid"
	}
	parts = append(parts, "email")
	for _, c := range optionalColumns {
		if cols[c] {
			parts = append(parts, c)
		}
	}
	spec.clause = "SELECT " + strings.Join(parts, ", ")
	return spec, nil
}

func tableColumns(ctx context.Context, db *sql.DB, table string) (map[string]bool, error) {
	rows, err := db.QueryContext(ctx, "PRAGMA table_info("+table+")")
	if err != nil {
		return nil, errs.Storef("inspecting %s table: %v", table, err)
	}
	defer rows.Close()

	cols := make(map[string]bool)
	for rows.Next() {
		var (
			cid        int
			name, typ  string
			notNull    int
			dfltValue  sql.NullString
			primaryKey int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dfltValue, &primaryKey); err != nil {
			return nil, errs.Storef("inspecting %s table: %v", table, err)
		}
		cols[strings.ToLower(name)] = true
	}
	return cols, rows.Err()
}

func scanContact(rows *sql.Rows) (Contact, error) {
	cols, err := rows.Columns()
	if err != nil {
		return Contact{}, errs.Storef("reading contact columns: %v", err)
	}
	vals := make([]sql.NullString, len(cols))
	ptrs := make([]interface{}, len(cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return Contact{}, errs.Storef("scanning contact: %v", err)
	}

	var c Contact
	for i, name := range cols {
		v := strings.TrimSpace(vals[i].String)
		switch strings.ToLower(name) {
		case "id":
			c.ID = v
		case "email":
			c.Email = v
		case "first_name":
			c.FirstName = v
		case "last_name":
			c.LastName = v
		case "state":
			c.State = strings.ToUpper(v)
		case "zip_code":
			c.ZipCode = v
		case "birth_date":
			c.BirthDate = ParseDateFlexible(v)
		case "effective_date":
			c.EffectiveDate = ParseDateFlexible(v)
		}
	}
	return c, nil
}
