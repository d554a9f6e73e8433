// Package poller drives continuous data collection from registered
// devices.
//
// The Scheduler runs one goroutine per device, ticking at the device's
// sampling interval. Each cycle performs up to a configured number of
// read attempts, stores a successful reading, and feeds the status
// state machine in transition.go. State changes worth telling anyone
// about (disconnects, reconnects) are published as TransitionEvents on
// a channel consumed by the notification engine.
//
// Status rules live in Transition, a pure function, so the state
// machine can be tested without a scheduler or network. Connection-level
// failures retry within the cycle; protocol-level failures short out
// immediately because the device already answered.
package poller
