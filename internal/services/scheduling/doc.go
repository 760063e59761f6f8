// Package scheduling answers "what should this participant do next".
//
// A request builds a schedule context, lets every applicable plan select and
// expand a schedule, reconciles the result with the participant's persisted
// instances and writes the difference back. ReportResult records progress on
// a single instance and emits the matching life-cycle event.
package scheduling
