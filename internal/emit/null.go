package emit

import "context"

// NullEmitter discards every event. Used in tests and wherever observability
// overhead is unwanted.
type NullEmitter struct{}

// NewNullEmitter returns an Emitter that does nothing.
func NewNullEmitter() *NullEmitter { return &NullEmitter{} }

func (n *NullEmitter) Emit(Event) {}

func (n *NullEmitter) EmitBatch(context.Context, []Event) error { return nil }

func (n *NullEmitter) Flush(context.Context) error { return nil }
