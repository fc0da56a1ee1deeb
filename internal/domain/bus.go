package domain

// MessageBus carries inbound messages and group events from channels to the
// engine.
type MessageBus interface {
	Publish(msg InboundMessage)
	Subscribe() <-chan InboundMessage
	PublishEvent(ev ParticipantsEvent)
	Events() <-chan ParticipantsEvent
	Close()
}
