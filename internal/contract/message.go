package contract

// MessageKind discriminates the envelope of a persisted or transported
// message: a Command going in, an Event coming out. Used only at the
// serialization boundary (NDJSON ledger, cross-process transport); the
// session manager deals in Command and Event values directly.
type MessageKind string

const (
	MessageKindCommand MessageKind = "command"
	MessageKindEvent    MessageKind = "event"
)
