// Package scheduler fires reminders. A cron tick every minute drains the
// in-memory due queue; delivery state lives in the store so a crash between
// trigger and delivery is recovered on the next start.
package scheduler

import (
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"ada/internal/logging"
	"ada/internal/store"
)

const tickSpec = "@every 1m"

// checkWindow is the tick's look-ahead: anything due within it is delivered
// now, so a missed tick never delays a reminder by more than one interval.
// It doubles as the lateness bar for the recovered prefix.
const checkWindow = 5 * time.Minute

// Notifier delivers one reminder to the user. A returned error keeps the
// reminder queued for the next tick.
type Notifier func(message string) error

// Scheduler owns the reminder queue.
type Scheduler struct {
	store  *store.Store
	notify Notifier
	cron   *cron.Cron

	mu    sync.Mutex
	queue []*store.Reminder // sorted by TriggerAt ascending

	now func() time.Time
}

func New(s *store.Store, notify Notifier) *Scheduler {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	return &Scheduler{store: s, notify: notify, cron: c, now: time.Now}
}

// Start recovers orphaned reminders, loads the pending queue, and begins
// ticking.
func (s *Scheduler) Start() error {
	s.recoverOrphans()

	pending, err := s.store.PendingReminders()
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.queue = pending // already sorted by trigger_at
	s.mu.Unlock()
	logging.Scheduler("scheduler started with %d pending reminder(s)", len(pending))

	if _, err := s.cron.AddFunc(tickSpec, s.Tick); err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

// Stop halts the cron and waits for a running tick to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// Add inserts a new reminder into the queue at its sorted position.
func (s *Scheduler) Add(rem *store.Reminder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := sort.Search(len(s.queue), func(i int) bool {
		return s.queue[i].TriggerAt.After(rem.TriggerAt)
	})
	s.queue = append(s.queue, nil)
	copy(s.queue[i+1:], s.queue[i:])
	s.queue[i] = rem
}

// Remove drops a reminder from the queue, for the cancel path.
func (s *Scheduler) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, rem := range s.queue {
		if rem.ID == id {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			return
		}
	}
}

// Pending reports the queue size.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Tick dispatches every due reminder. Each one is marked triggered in the
// store before the notifier runs, so a crash mid-delivery leaves a row the
// next start can recover instead of a silently lost reminder.
func (s *Scheduler) Tick() {
	now := s.now()
	for _, rem := range s.takeDue(now) {
		prefix := ""
		if now.Sub(rem.TriggerAt) > checkWindow {
			prefix = "(recuperado) "
		}
		s.dispatch(rem, prefix)
	}
}

// takeDue pops the queue prefix with TriggerAt inside the look-ahead window.
func (s *Scheduler) takeDue(now time.Time) []*store.Reminder {
	horizon := now.Add(checkWindow)
	s.mu.Lock()
	defer s.mu.Unlock()
	n := sort.Search(len(s.queue), func(i int) bool {
		return s.queue[i].TriggerAt.After(horizon)
	})
	due := s.queue[:n:n]
	s.queue = s.queue[n:]
	return due
}

func (s *Scheduler) dispatch(rem *store.Reminder, prefix string) {
	if rem.Status == store.ReminderPending {
		ok, err := s.store.AdvanceReminder(rem.ID, store.ReminderPending, store.ReminderTriggered)
		if err != nil {
			logging.Get(logging.CategoryScheduler).Error("trigger reminder %s: %v", rem.ID, err)
			s.Add(rem)
			return
		}
		if !ok {
			// Cancelled or already handled elsewhere.
			return
		}
		rem.Status = store.ReminderTriggered
	}

	if err := s.notify(prefix + "⏰ Recordatorio: " + rem.Message); err != nil {
		logging.Get(logging.CategoryScheduler).Warn("deliver reminder %s: %v", rem.ID, err)
		s.Add(rem)
		return
	}

	if _, err := s.store.AdvanceReminder(rem.ID, store.ReminderTriggered, store.ReminderDelivered); err != nil {
		logging.Get(logging.CategoryScheduler).Error("complete reminder %s: %v", rem.ID, err)
		return
	}
	logging.Scheduler("reminder %s delivered", rem.ID)
}

// recoverOrphans delivers reminders that were triggered but never delivered
// in a previous run.
func (s *Scheduler) recoverOrphans() {
	orphans, err := s.store.OrphanTriggered(s.now())
	if err != nil {
		logging.Get(logging.CategoryScheduler).Error("orphan scan: %v", err)
		return
	}
	for _, rem := range orphans {
		logging.Scheduler("recovering orphaned reminder %s", rem.ID)
		s.dispatch(rem, "(recuperado) ")
	}
}
