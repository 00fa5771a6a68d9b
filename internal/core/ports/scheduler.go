package ports

import "time"

// SchedulerService drives every piece of background timing the core needs
// without owning a raw ticker itself: one-shot tasks for a round's current
// phase deadline, and a recurring task for opening a fresh InputRegistration
// round on a fixed cadence.
type SchedulerService interface {
	Start()
	Stop()

	// ScheduleTaskOnce runs task once, at the given time. Scheduling a task
	// for a time already in the past runs it as soon as possible.
	ScheduleTaskOnce(at time.Time, task func()) error

	// ScheduleRecurring runs task every interval, starting after the first
	// interval elapses.
	ScheduleRecurring(interval time.Duration, task func()) error
}
