package round

import "time"

// TimerScheduler fires callbacks with one-shot in-process timers.
type TimerScheduler struct{}

func NewTimerScheduler() *TimerScheduler {
	return &TimerScheduler{}
}

// ScheduleOnce runs fn once at the given instant. Instants in the past fire
// immediately. The timer lives only as long as the process; Rearm covers
// restarts.
func (s *TimerScheduler) ScheduleOnce(at time.Time, fn func()) {
	time.AfterFunc(time.Until(at), fn)
}
