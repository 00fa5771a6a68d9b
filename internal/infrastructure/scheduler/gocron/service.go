package timescheduler

import (
	"time"

	"github.com/blindmix/coordinator/internal/core/ports"
	"github.com/go-co-op/gocron"
)

type service struct {
	scheduler *gocron.Scheduler
}

func NewScheduler() ports.SchedulerService {
	svc := gocron.NewScheduler(time.UTC)
	return &service{svc}
}

func (s *service) Start() {
	s.scheduler.StartAsync()
}

func (s *service) Stop() {
	s.scheduler.Stop()
}

// ScheduleTaskOnce runs task once, as close to at as gocron's one-second
// resolution allows. A deadline already in the past runs on the next tick.
func (s *service) ScheduleTaskOnce(at time.Time, task func()) error {
	delay := int(time.Until(at).Seconds())
	if delay < 1 {
		delay = 1
	}
	_, err := s.scheduler.Every(delay).Seconds().WaitForSchedule().LimitRunsTo(1).Do(task)
	return err
}

func (s *service) ScheduleRecurring(interval time.Duration, task func()) error {
	seconds := int(interval.Seconds())
	if seconds < 1 {
		seconds = 1
	}
	_, err := s.scheduler.Every(seconds).Seconds().WaitForSchedule().Do(task)
	return err
}
