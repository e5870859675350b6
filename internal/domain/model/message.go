// Package model contains domain models passed between layers.
package model

// Message is a published message as seen by the broker hook.
// It lives only for the duration of one decision.
type Message struct {
	Topic   string // non-empty publish topic
	Payload []byte // raw payload, possibly empty
}
