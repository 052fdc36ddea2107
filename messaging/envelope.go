// Package messaging holds the transport-agnostic pieces of the messenger:
// envelopes and stamps, serializers, the transport contracts and the
// errors transports report.
package messaging

// Stamp is a metadata annotation attached to an Envelope.
type Stamp interface{}

// NonSendableStamp is a stamp that only makes sense inside the current
// process, like a broker receipt. Serializers drop them.
type NonSendableStamp interface {
	Stamp
	NonSendable()
}

// PartitionKeyStamp carries the key a message should be published with.
type PartitionKeyStamp struct {
	Key string
}

// Envelope wraps a message with its stamps. Envelopes are immutable: every
// method that adds or removes stamps returns a new Envelope.
type Envelope struct {
	Message interface{}
	stamps  []Stamp
}

// NewEnvelope wraps msg together with the given stamps.
func NewEnvelope(msg interface{}, stamps ...Stamp) *Envelope {
	return &Envelope{
		Message: msg,
		stamps:  append([]Stamp(nil), stamps...),
	}
}

// With returns a copy of the envelope with the stamps appended.
func (e *Envelope) With(stamps ...Stamp) *Envelope {
	cp := make([]Stamp, 0, len(e.stamps)+len(stamps))
	cp = append(cp, e.stamps...)
	cp = append(cp, stamps...)
	return &Envelope{Message: e.Message, stamps: cp}
}

// WithoutNonSendable returns a copy of the envelope keeping only the stamps
// that can travel over the wire.
func (e *Envelope) WithoutNonSendable() *Envelope {
	cp := make([]Stamp, 0, len(e.stamps))
	for _, s := range e.stamps {
		if _, ok := s.(NonSendableStamp); ok {
			continue
		}
		cp = append(cp, s)
	}
	return &Envelope{Message: e.Message, stamps: cp}
}

// Stamps returns the stamps in the order they were added.
func (e *Envelope) Stamps() []Stamp {
	return append([]Stamp(nil), e.stamps...)
}

// LastStamp returns the most recently added stamp of type T.
func LastStamp[T Stamp](e *Envelope) (T, bool) {
	for i := len(e.stamps) - 1; i >= 0; i-- {
		if s, ok := e.stamps[i].(T); ok {
			return s, true
		}
	}
	var zero T
	return zero, false
}

// AllStamps returns every stamp of type T, oldest first.
func AllStamps[T Stamp](e *Envelope) []T {
	var out []T
	for _, s := range e.stamps {
		if ts, ok := s.(T); ok {
			out = append(out, ts)
		}
	}
	return out
}
