package http

// ParseStatus is the outcome of feeding buffered bytes to a Request
type ParseStatus uint8

const (
	// ParseIncomplete means more bytes are needed; nothing was rejected
	ParseIncomplete ParseStatus = iota
	// ParseOK means the request reached the Finished state
	ParseOK
	// ParseBadRequest means the request line or a header was malformed
	ParseBadRequest
)

func (s ParseStatus) String() string {
	switch s {
	case ParseIncomplete:
		return "incomplete"
	case ParseOK:
		return "ok"
	case ParseBadRequest:
		return "bad request"
	default:
		return "unknown"
	}
}

// ProcessStatus is the outcome of Conn.Process, reported back to the reactor
type ProcessStatus uint8

const (
	// ProcessNeedMore means the request is incomplete; watch for readability
	ProcessNeedMore ProcessStatus = iota
	// ProcessReady means a response is staged; watch for writability
	ProcessReady
	// ProcessClosed means the peer went away mid-request; close the connection
	ProcessClosed
)

func (s ProcessStatus) String() string {
	switch s {
	case ProcessNeedMore:
		return "need more"
	case ProcessReady:
		return "ready"
	case ProcessClosed:
		return "closed"
	default:
		return "unknown"
	}
}
