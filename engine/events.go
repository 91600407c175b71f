package engine

import (
	"github.com/c360/sensorbridge/message"
)

// event is anything the loop goroutine handles. Bus handlers, flush timers
// and upload workers only construct events; all state changes happen in the
// loop.
type event interface {
	eventType() string
}

type readingEvent struct {
	ev   message.ReadingEvent
	size int
}

type announceEvent struct {
	msg message.ServiceAnnouncement
}

type configureEvent struct {
	msg message.ConfigureMessage
}

type concentratorEvent struct {
	msg message.ConcentratorResponse
}

// stateEvent carries an application state action such as clear_error.
type stateEvent struct {
	action string
}

type flushEvent struct {
	device string
}

type completeEvent struct {
	device  string
	samples []message.Sample
	err     error
}

type snapshotEvent struct {
	reply chan Snapshot
}

func (readingEvent) eventType() string      { return "reading" }
func (announceEvent) eventType() string     { return "announce" }
func (configureEvent) eventType() string    { return "configure" }
func (concentratorEvent) eventType() string { return "concentrator" }
func (stateEvent) eventType() string        { return "state" }
func (flushEvent) eventType() string        { return "flush" }
func (completeEvent) eventType() string     { return "complete" }
func (snapshotEvent) eventType() string     { return "snapshot" }

// uploadJob is the unit of work handed to the upload pool.
type uploadJob struct {
	device  string
	samples []message.Sample
}
