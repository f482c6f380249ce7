package insurance

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDate_Strict(t *testing.T) {
	valid := []string{"2024-01-01", "2024-02-29", "1999-12-31"}
	for _, s := range valid {
		d, err := ParseDate(s)
		require.NoError(t, err, s)
		assert.Equal(t, s, d.String())
	}

	invalid := []string{"", "  ", "2024-1-01", "2024-01-1", "2024/01/01", "2023-02-29", "2024-13-01", "not-a-date", "2024-01-01T00:00:00Z"}
	for _, s := range invalid {
		_, err := ParseDate(s)
		assert.Error(t, err, s)
	}
}

func TestDateOf_UsesLocationOfTime(t *testing.T) {
	// 23:30 UTC on Dec 31 is already Jan 1 at UTC+2
	instant := time.Date(2024, 12, 31, 23, 30, 0, 0, time.UTC)

	assert.Equal(t, "2024-12-31", DateOf(instant).String())
	assert.Equal(t, "2025-01-01", DateOf(instant.In(time.FixedZone("EET", 2*60*60))).String())
}

func TestDate_Arithmetic(t *testing.T) {
	d := MustParseDate("2024-02-28")

	assert.Equal(t, "2024-02-29", d.AddDays(1).String())
	assert.Equal(t, "2024-03-01", d.AddDays(2).String())
	assert.True(t, d.Before(d.AddDays(1)))
	assert.True(t, d.BeforeOrEqual(d))
	assert.True(t, d.AfterOrEqual(d))
	assert.True(t, d == MustParseDate("2024-02-28"))
}

func TestDate_JSON(t *testing.T) {
	var payload struct {
		Start Date `json:"start"`
		End   Date `json:"end"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"start":"2025-03-01","end":null}`), &payload))
	assert.Equal(t, "2025-03-01", payload.Start.String())
	assert.True(t, payload.End.IsZero())

	out, err := json.Marshal(payload)
	require.NoError(t, err)
	assert.JSONEq(t, `{"start":"2025-03-01","end":null}`, string(out))

	assert.Error(t, json.Unmarshal([]byte(`{"start":"03/01/2025"}`), &payload))
	assert.Error(t, json.Unmarshal([]byte(`{"start":20250301}`), &payload))
}

func TestPolicy_Validate(t *testing.T) {
	p := Policy{Provider: "Allianz", StartDate: MustParseDate("2024-01-01"), EndDate: MustParseDate("2024-01-01")}
	assert.NoError(t, p.Validate())

	p.EndDate = MustParseDate("2023-12-31")
	assert.ErrorIs(t, p.Validate(), ErrInvalidPeriod)

	p.Provider = " "
	assert.True(t, IsClientError(p.Validate()))
}
