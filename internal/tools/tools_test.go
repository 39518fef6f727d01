package tools

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ada/internal/store"
)

func newReminderFixture(t *testing.T) (*store.Store, *Reminders) {
	t.Helper()
	s, err := store.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	r := NewReminders(s)
	return s, r
}

func TestCurrentTimeSpanishFormat(t *testing.T) {
	at := time.Date(2026, time.March, 3, 9, 5, 0, 0, time.UTC) // a Tuesday
	got := CurrentTime(at)
	assert.Equal(t, "Son las 09:05 del martes, 3 de marzo de 2026.", got)
}

func TestCreateReminderParsesRelativeTime(t *testing.T) {
	s, r := newReminderFixture(t)
	base := time.Date(2026, time.March, 3, 9, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return base }

	rem, reply := r.Create("llamar al dentista en 30 minutos")
	require.NotNil(t, rem)
	assert.Contains(t, reply, "09:30")

	pending, err := s.PendingReminders()
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.True(t, pending[0].TriggerAt.Equal(base.Add(30*time.Minute)))
}

func TestCreateReminderRejectsUnparseableTime(t *testing.T) {
	_, r := newReminderFixture(t)

	rem, reply := r.Create("comprar pan cuando sea")
	assert.Nil(t, rem)
	assert.Contains(t, reply, "No he entendido cuándo")
	assert.Contains(t, reply, "prueba con", "reply carries the suggestion")
}

func TestCreateReminderRejectsPast(t *testing.T) {
	_, r := newReminderFixture(t)
	base := time.Date(2026, time.March, 3, 23, 50, 0, 0, time.UTC)
	r.now = func() time.Time { return base }

	rem, reply := r.Create("cena a las 9")
	if rem != nil {
		t.Skip("a las 9 resolved to tomorrow in this zone")
	}
	assert.Contains(t, reply, "ya ha pasado")
}

func TestListAndCancelByPosition(t *testing.T) {
	_, r := newReminderFixture(t)
	base := time.Date(2026, time.March, 3, 9, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return base }

	_, _ = r.Create("primero en 10 minutos")
	_, _ = r.Create("segundo en 20 minutos")

	list := r.List()
	assert.Contains(t, list, "2 recordatorio(s)")
	assert.Contains(t, list, "1. primero")

	reply := r.Cancel(1)
	assert.Contains(t, reply, "Cancelado")
	assert.Contains(t, r.List(), "1 recordatorio(s)")

	assert.Contains(t, r.Cancel(5), "entre 1 y 1")
}

func TestCancelWithNothingPending(t *testing.T) {
	_, r := newReminderFixture(t)
	assert.Equal(t, "No tienes recordatorios que cancelar.", r.Cancel(1))
}

func TestClearReminders(t *testing.T) {
	_, r := newReminderFixture(t)
	base := time.Date(2026, time.March, 3, 9, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return base }

	_, _ = r.Create("uno en 5 minutos")
	_, _ = r.Create("dos en 6 minutos")

	assert.Contains(t, r.Clear(), "2 recordatorio(s)")
	assert.Equal(t, "No había recordatorios pendientes.", r.Clear())
}

type fakeWeather struct {
	report string
	err    error
}

func (f *fakeWeather) Current(string) (string, error) { return f.report, f.err }

func TestWeatherDegradesWithoutProvider(t *testing.T) {
	assert.Contains(t, Weather(nil, "León"), "No tengo acceso")
	assert.Contains(t, Weather(&fakeWeather{err: errors.New("timeout")}, "León"), "No he podido")
	assert.Equal(t, "Soleado, 24 grados.", Weather(&fakeWeather{report: "Soleado, 24 grados."}, "León"))
}
