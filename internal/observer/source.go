package observer

import (
	"errors"

	"replay-guard-agent/internal/model"
)

var (
	// ErrUnsupportedKind is returned by a Source that cannot report an entry kind.
	ErrUnsupportedKind = errors.New("unsupported entry kind")

	ErrAlreadySubscribed = errors.New("entry kind already subscribed")
	ErrSourceClosed      = errors.New("measurement source closed")
	ErrObserverClosed    = errors.New("observer disposed")
)

// BatchFunc receives entries newly reported by the host.
type BatchFunc func(batch []model.Entry)

// Source is the host's performance measurement facility.
type Source interface {
	// Subscribe starts delivering entries of one kind to fn. With buffered
	// set, entries the host recorded before the call are delivered first.
	Subscribe(kind model.EntryKind, buffered bool, fn BatchFunc) (Subscription, error)
}

type Subscription interface {
	Unsubscribe()
}

// Registration is the outcome of subscribing to one entry kind.
type Registration struct {
	Kind model.EntryKind
	Err  error
}

func (r Registration) Subscribed() bool {
	return r.Err == nil
}
