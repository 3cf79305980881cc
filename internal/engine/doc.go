// Package engine runs provisioning plans. The Executor walks a plan's
// stages in order against an explicit deadline, giving every stage group a
// share of the time left and recording a result for each attempted stage.
// The Engine wraps it with run records in the store and streams stage
// progress to subscribers.
package engine
