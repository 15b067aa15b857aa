package cron

import (
	"hash/fnv"
	"math/rand"
	"sync/atomic"
	"time"

	robcron "github.com/robfig/cron/v3"
)

const maxStartupSpread = 30 * time.Second

// spreadSchedule overrides the first activation of an interval schedule and
// then defers to the base schedule.
type spreadSchedule struct {
	base  robcron.Schedule
	first time.Time
}

func (s *spreadSchedule) Next(t time.Time) time.Time {
	if t.Before(s.first) {
		return s.first
	}
	return s.base.Next(t)
}

var spreadSeq atomic.Uint64

func makeIntervalScheduleWithSpread(every time.Duration, now time.Time, tag string) (robcron.Schedule, time.Duration) {
	base := robcron.Every(every)
	spreadMax := min(every, maxStartupSpread)
	if spreadMax <= 0 {
		return base, 0
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(tag))
	rng := rand.New(rand.NewSource(time.Now().UnixNano() ^ int64(spreadSeq.Add(1)) ^ int64(h.Sum64())))
	spread := time.Duration(rng.Int63n(int64(spreadMax)))
	return &spreadSchedule{base: base, first: now.Add(every + spread)}, spread
}
