package exchange

import (
	"go.uber.org/zap"
)

// atomic runs fn as one unit of work. The ledger and order book journal every
// change; if fn fails both are rolled back and the events it raised are
// dropped, so a rejected operation leaves no trace. On success the events
// are delivered in the order they were raised.
//
// Emit runs with the exchange locked and must not call back into it.
func (e *Exchange) atomic(op string, fn func() error) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.ledger.Begin()
	e.book.Begin()
	e.pending = e.pending[:0]

	if err := fn(); err != nil {
		e.ledger.Rollback()
		e.book.Rollback()
		e.pending = e.pending[:0]
		e.logger.Debug("operation rejected", zap.String("op", op), zap.Error(err))
		return err
	}

	e.ledger.Commit()
	e.book.Commit()
	for _, ev := range e.pending {
		e.emitter.Emit(ev)
	}
	e.logger.Debug("operation applied", zap.String("op", op), zap.Int("events", len(e.pending)))
	e.pending = e.pending[:0]
	return nil
}

// raise buffers an event until the enclosing unit commits
func (e *Exchange) raise(ev Event) {
	e.pending = append(e.pending, ev)
}
