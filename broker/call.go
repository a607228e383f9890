package broker

import (
	"context"

	"jmtp/message"
)

// Call is an outbound query in flight.
type Call struct {
	ID      uint64
	Command message.Command
	To      string
	From    string
	// Done receives the query's single outcome.
	Done <-chan Result

	pending *pendingTable
}

// Cancel resolves the call locally with err unless an outcome already
// arrived. A later response for its id is dropped as unmatched.
func (c *Call) Cancel(err error) bool {
	return c.pending.resolve(c.ID, Result{Err: err})
}

// Wait blocks for the call's outcome. If ctx ends first the call is resolved
// locally: ErrQueryTimeout for an elapsed deadline, ctx.Err() otherwise.
func (c *Call) Wait(ctx context.Context) (any, error) {
	select {
	case r := <-c.Done:
		return r.Value, r.Err
	case <-ctx.Done():
		err := ctx.Err()
		if err == context.DeadlineExceeded {
			err = ErrQueryTimeout
		}
		if c.Cancel(err) && err == ErrQueryTimeout {
			queryTimeoutsTotal.Inc()
		}
		// Either our cancellation or a response that won the race.
		r := <-c.Done
		return r.Value, r.Err
	}
}
