package services

import "time"

// Alarm is a pending wake-up that can be cancelled.
type Alarm interface {
	Stop() bool
}

type Scheduler interface {
	AfterFunc(d time.Duration, fn func()) Alarm
}

type timerScheduler struct{}

func (timerScheduler) AfterFunc(d time.Duration, fn func()) Alarm {
	return time.AfterFunc(d, fn)
}

// TimerScheduler schedules alarms on the runtime timer heap.
var TimerScheduler Scheduler = timerScheduler{}
