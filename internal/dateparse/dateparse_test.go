package dateparse

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// now is a Wednesday at 15:00 local.
var now = time.Date(2025, time.March, 12, 15, 0, 0, 0, time.Local)

func TestParseRelative(t *testing.T) {
	r := Parse("en 5 minutos", now)
	require.True(t, r.OK)
	assert.Equal(t, now.Add(5*time.Minute), r.At)

	r = Parse("en 2 horas", now)
	require.True(t, r.OK)
	assert.Equal(t, now.Add(2*time.Hour), r.At)

	r = Parse("en 3 dias", now)
	require.True(t, r.OK)
	assert.Equal(t, now.Add(72*time.Hour), r.At)

	r = Parse("en 30 segundos", now)
	require.True(t, r.OK)
	assert.Equal(t, now.Add(30*time.Second), r.At)
}

func TestParseTomorrow(t *testing.T) {
	r := Parse("mañana a las 9", now)
	require.True(t, r.OK)
	assert.Equal(t, time.Date(2025, time.March, 13, 9, 0, 0, 0, time.Local), r.At)

	r = Parse("mañana", now)
	require.True(t, r.OK, "date-only gets the default morning slot")
	assert.Equal(t, time.Date(2025, time.March, 13, 9, 0, 0, 0, time.Local), r.At)

	r = Parse("pasado mañana a las 19:30", now)
	require.True(t, r.OK)
	assert.Equal(t, time.Date(2025, time.March, 14, 19, 30, 0, 0, time.Local), r.At)
}

func TestParseMeridiem(t *testing.T) {
	r := Parse("hoy a las 7 de la tarde", now)
	require.True(t, r.OK)
	assert.Equal(t, 19, r.At.Hour())

	// «de la mañana» is a meridiem here, not the day.
	r = Parse("a las 7 de la mañana", now)
	require.True(t, r.OK)
	assert.Equal(t, 7, r.At.Hour())
	assert.Equal(t, 13, r.At.Day(), "07:00 already passed, rolls to tomorrow")
}

func TestParseWeekday(t *testing.T) {
	r := Parse("el viernes a las 18", now)
	require.True(t, r.OK)
	assert.Equal(t, time.Friday, r.At.Weekday())
	assert.Equal(t, 14, r.At.Day())
	assert.Equal(t, 18, r.At.Hour())

	// Same weekday earlier in the day rolls a full week forward.
	r = Parse("el miercoles a las 10", now)
	require.True(t, r.OK)
	assert.Equal(t, 19, r.At.Day())
}

func TestParseAbsolute(t *testing.T) {
	r := Parse("el 15 de marzo a las 10", now)
	require.True(t, r.OK)
	assert.Equal(t, time.Date(2025, time.March, 15, 10, 0, 0, 0, time.Local), r.At)

	// A date already past this year resolves to next year.
	r = Parse("el 1 de enero", now)
	require.True(t, r.OK)
	assert.Equal(t, 2026, r.At.Year())

	r = Parse("el 31 de febrero", now)
	assert.False(t, r.OK)
}

func TestParseBareClock(t *testing.T) {
	r := Parse("a las 16", now)
	require.True(t, r.OK)
	assert.Equal(t, 12, r.At.Day(), "16:00 today is still ahead")

	r = Parse("a las 14", now)
	require.True(t, r.OK)
	assert.Equal(t, 13, r.At.Day(), "14:00 already passed, rolls to tomorrow")
}

func TestParseFailures(t *testing.T) {
	for _, in := range []string{"", "no tengo idea", "a las 99", "el 15 de frutillar"} {
		r := Parse(in, now)
		assert.False(t, r.OK, "input %q should not parse", in)
		assert.NotEmpty(t, r.Suggestion)
	}
}

func TestParseAlwaysFuture(t *testing.T) {
	inputs := []string{"en 1 minutos", "mañana", "el lunes", "a las 3", "el 11 de marzo"}
	for _, in := range inputs {
		r := Parse(in, now)
		require.True(t, r.OK, in)
		assert.True(t, r.At.After(now), "%q resolved to the past: %v", in, r.At)
	}
}
