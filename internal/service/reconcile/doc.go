// Package reconcile implements the task-reconciliation core: the per-task
// decision algorithm that drives a processing task toward its terminal
// state, and the bounded-concurrency sweep that runs it over outstanding
// tasks on a schedule.
//
// Two uncoordinated actors invoke reconciliation — the interactive poll
// handler (one per waiting user request) and the batch sweep — and may race
// to finalize the same task. All terminal transitions go through the task
// store's conditional status-gated writes, so exactly one caller wins each
// transition and only the winner performs the paired credit debit.
package reconcile
