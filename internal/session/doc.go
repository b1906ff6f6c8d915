// Package session implements the attempt state machine.
//
// A Machine owns one candidate's attempt and accepts every input (clock ticks,
// connectivity changes, candidate actions, collaborator acknowledgements) through
// Handle. Handle never performs I/O; it mutates the attempt and returns the side
// effects the owner must carry out, so races between pause, resume, timeout and
// manual submission can be exercised without timers or a network.
package session
