// ABOUTME: Package flow implements the in-conversation model configuration dialogue
// ABOUTME: A pure state machine advanced one user message at a time

// Package flow implements the multi-turn configuration dialogue that lives
// inside a chat thread ("change my model"). The machine is pure: Advance
// maps (state, input) to (state, reply) with no I/O, so it can be tested
// without a store. The serialized state is persisted as the thread's flow
// cursor; while it is non-nil the thread's turns never reach the model
// router.
//
// Invalid input repeats the current step with a clarifying reply - the
// flow never advances on input it could not parse.
package flow
