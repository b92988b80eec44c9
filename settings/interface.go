package settings

import "time"

// Sv2Settings holds the daemon's tunables: the listener address, the fee-check
// interval and delta that drive the update loop, and the resource limits
// enforced by the connection manager.
type Sv2Settings struct {
	BindHost            string
	BindPort            int
	FeeCheckInterval    time.Duration
	FeeDelta            int64
	MaxPeers            int
	MaxPendingTemplates int
	HandshakeTimeout    time.Duration
	SendBufferCap       int
	PushQueueSize       int
	DataDir             string
}

// IPCSettings describes how to reach the bitcoin node's Mining capability. The
// core of this repository treats the connection itself as an opaque
// collaborator; only the dial target is configuration.
type IPCSettings struct {
	ConnectAddress string
}

// Settings is the root configuration object, built once at process start by
// NewSettings and threaded through every component that needs it.
type Settings struct {
	ClientName string
	Sv2        Sv2Settings
	IPC        IPCSettings
}
