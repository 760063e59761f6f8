// Package schedule turns recurrence rules into concrete, timestamped activity
// instances for one participant.
//
// A Schedule describes how a set of activities repeats (cron expression or
// fixed interval, times of day, delay, window, expiration). Expand resolves the
// rule's anchor event from a Context and runs exactly one of the two engines:
//   - cron: fires wherever the cron expression matches after the anchor
//   - interval: fires on the anchor date, then every Interval after it
//
// Expansion is a pure function of (Schedule, plan guid, Context).
package schedule
