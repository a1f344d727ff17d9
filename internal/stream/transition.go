package stream

import "Cerberus/internal/model"

// Input is an event fed to the connection state machine.
type Input int

const (
	// InputStart is an owner start or a fired reconnect timer.
	InputStart Input = iota
	// InputOpened is a completed handshake.
	InputOpened
	// InputRemoteClose is any close this side did not ask for: a remote
	// close frame, a failed dial or a dropped socket.
	InputRemoteClose
	// InputTransportError is a read or protocol failure on an open channel.
	InputTransportError
	// InputUserStop is an owner-initiated Stop.
	InputUserStop
)

func (i Input) String() string {
	switch i {
	case InputStart:
		return "start"
	case InputOpened:
		return "opened"
	case InputRemoteClose:
		return "remote_close"
	case InputTransportError:
		return "transport_error"
	case InputUserStop:
		return "user_stop"
	default:
		return "unknown"
	}
}

// Action is the side effect the manager performs after a transition.
type Action int

const (
	ActionNone Action = iota
	// ActionDial opens a new channel.
	ActionDial
	// ActionForceClose closes the channel; the close is fed back as InputRemoteClose.
	ActionForceClose
	// ActionScheduleReconnect arms the single reconnect timer.
	ActionScheduleReconnect
	// ActionCancel cancels the pending timer and closes the channel without reconnecting.
	ActionCancel
)

// Transition is the connection state machine. ShuttingDown is terminal, and a
// transport error never changes state by itself.
func Transition(state model.ConnectionState, in Input) (model.ConnectionState, Action) {
	if state == model.ShuttingDown {
		return state, ActionNone
	}

	switch in {
	case InputUserStop:
		return model.ShuttingDown, ActionCancel
	case InputStart:
		if state == model.Disconnected {
			return model.Connecting, ActionDial
		}
	case InputOpened:
		if state == model.Connecting {
			return model.Connected, ActionNone
		}
	case InputTransportError:
		if state == model.Connecting || state == model.Connected {
			return state, ActionForceClose
		}
	case InputRemoteClose:
		if state == model.Connecting || state == model.Connected {
			return model.Disconnected, ActionScheduleReconnect
		}
	}
	return state, ActionNone
}
