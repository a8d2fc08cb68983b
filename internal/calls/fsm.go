package calls

import (
	"context"

	"github.com/looplab/fsm"
)

const (
	fsmAccept    = "accept"
	fsmReject    = "reject"
	fsmTerminate = "terminate"
	fsmMiss      = "miss"
)

func newCallMachine() *fsm.FSM {
	return fsm.NewFSM(
		string(CallStatusRinging),
		fsm.Events{
			{Name: fsmAccept, Src: []string{string(CallStatusRinging)}, Dst: string(CallStatusAccepted)},
			{Name: fsmReject, Src: []string{string(CallStatusRinging)}, Dst: string(CallStatusRejected)},
			{Name: fsmTerminate, Src: []string{string(CallStatusRinging), string(CallStatusAccepted)}, Dst: string(CallStatusTerminated)},
			{Name: fsmMiss, Src: []string{string(CallStatusRinging)}, Dst: string(CallStatusMissed)},
		},
		fsm.Callbacks{},
	)
}

var terminalEvents = map[EventType]string{
	EventRejected:   fsmReject,
	EventTerminated: fsmTerminate,
	EventMissed:     fsmMiss,
}

// transition fires event and mirrors the machine's state into Status.
func (c *CallState) transition(ctx context.Context, event string) error {
	if err := c.machine.Event(ctx, event); err != nil {
		return err
	}
	c.Status = CallStatus(c.machine.Current())
	return nil
}
