package domain

// MessageBus carries inbound lead messages from channel adapters to the intake loop.
type MessageBus interface {
	Publish(msg InboundMessage)
	Subscribe() <-chan InboundMessage
	Close()
}
