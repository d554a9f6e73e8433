// Package notification stores and delivers operator notifications.
//
// The Engine consumes connectivity transition events from the polling
// service and fans each one out to every OWNER and ADMIN account as a
// per-user notification row, so read and dismiss state is individual.
//
// Disconnect storms are the enemy here. A flapping device transitions
// many times an hour, so disconnect notifications are deduplicated at
// the database with a single conditional insert: if the device raised
// a disconnect inside the dedup window, the new batch inserts zero
// rows. Because it is one statement, concurrent events cannot each
// slip a batch through.
package notification
