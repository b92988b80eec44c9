package connman

import "sync/atomic"

// metrics are in-memory counters for the connection manager, exposed through
// Stats() for logging and tests. No external metrics surface is wired.
type metrics struct {
	peersAccepted     atomic.Uint64
	peersRejected     atomic.Uint64
	peersDisconnected atomic.Uint64
	bytesIn           atomic.Uint64
	bytesOut          atomic.Uint64
	messagesIn        atomic.Uint64
	messagesOut       atomic.Uint64
}

// Stats is a point-in-time snapshot of the connection manager's counters.
type Stats struct {
	PeersAccepted     uint64
	PeersRejected     uint64
	PeersDisconnected uint64
	BytesIn           uint64
	BytesOut          uint64
	MessagesIn        uint64
	MessagesOut       uint64
}

func (m *metrics) snapshot() Stats {
	return Stats{
		PeersAccepted:     m.peersAccepted.Load(),
		PeersRejected:     m.peersRejected.Load(),
		PeersDisconnected: m.peersDisconnected.Load(),
		BytesIn:           m.bytesIn.Load(),
		BytesOut:          m.bytesOut.Load(),
		MessagesIn:        m.messagesIn.Load(),
		MessagesOut:       m.messagesOut.Load(),
	}
}
