// Package cron triggers recurring maintenance jobs.
//
// Schedules accept cron expressions, @every intervals, Go durations and
// HH:MM intervals (see ParseSchedule). A trigger only enqueues a task into
// the task engine; execution, retries and overlap gating happen there.
package cron
