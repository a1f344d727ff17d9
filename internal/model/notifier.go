package model

// Notifier defines a generic interface for sending notifications.
type Notifier interface {
	Send(subject, body string) error
}

// FrameRelay forwards accepted stream frames to another transport.
type FrameRelay interface {
	Publish(frame Frame) error
	Close()
}
