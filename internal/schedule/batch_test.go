package schedule

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maxretain/lifecycle-mailer/internal/contacts"
	"github.com/maxretain/lifecycle-mailer/internal/rules"
)

func population(n int) []contacts.Contact {
	cs := make([]contacts.Contact, n)
	for i := range cs {
		cs[i] = contacts.Contact{
			ID:        fmt.Sprintf("c-%03d", i),
			State:     "TX",
			BirthDate: dp(1950, 3, 10),
		}
	}
	return cs
}

func TestScheduleAllKeepsInputOrder(t *testing.T) {
	eng := New(rules.Default())
	cs := []contacts.Contact{
		{ID: "a", State: "NY"},
		{ID: "b", State: "CA", BirthDate: dp(1960, 2, 29)},
		{ID: "c", State: "MO", EffectiveDate: dp(2020, 6, 15)},
	}

	results := eng.ScheduleAll(context.Background(), cs, horizonStart, horizonEnd)
	require.Len(t, results, 3)
	for i, c := range cs {
		assert.Equal(t, c.ID, results[i].Contact.ID)
	}
	assert.Equal(t, "year-round enrollment state", results[0].Skipped[0].Reason)
}

func TestScheduleAllSpreadsAEPByIndex(t *testing.T) {
	eng := New(rules.Default())
	results := eng.ScheduleAll(context.Background(), population(8), horizonStart, horizonEnd)

	want := []string{"2024-08-18", "2024-08-25", "2024-09-01", "2024-09-07"}
	for i, res := range results {
		aep := emailsOfType(res, contacts.EmailAEP)
		require.NotEmpty(t, aep, "contact %d", i)
		assert.Equal(t, want[i%4], aep[0].Date.Format("2006-01-02"), "contact %d", i)
	}
}

func TestScheduleAllLargePopulationRunsConcurrently(t *testing.T) {
	eng := New(rules.Default())
	cs := population(250)

	results := eng.ScheduleAll(context.Background(), cs, horizonStart, horizonEnd)
	require.Len(t, results, len(cs))
	for i, res := range results {
		require.Equal(t, cs[i].ID, res.Contact.ID, "order must survive the fan-out")
		aep := emailsOfType(res, contacts.EmailAEP)
		require.NotEmpty(t, aep)
		assert.Equal(t, results[i%4].Emails, res.Emails, "same index mod 4 gets the same schedule")
	}
}

func TestScheduleAllCanceledContext(t *testing.T) {
	eng := New(rules.Default())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for _, n := range []int{5, 150} {
		results := eng.ScheduleAll(ctx, population(n), horizonStart, horizonEnd)
		require.Len(t, results, n)
		for _, res := range results {
			assert.Empty(t, res.Emails)
			require.Len(t, res.Skipped, 1)
			assert.Contains(t, res.Skipped[0].Reason, "processing error:")
		}
	}
}

func TestScheduleAllEmptyPopulation(t *testing.T) {
	eng := New(rules.Default())
	assert.Empty(t, eng.ScheduleAll(context.Background(), nil, horizonStart, horizonEnd))
}
