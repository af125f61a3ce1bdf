package domain

// EventQueue carries upstream events to the single pipeline consumer.
type EventQueue interface {
	Publish(ev InboundEvent)
	Subscribe() <-chan InboundEvent
	Close()
}
