// Package settings provides the template provider's configuration object: a
// single Settings struct built by NewSettings from github.com/ordishs/gocore's
// key/value config store, with one nested struct per subsystem.
package settings

import "time"

// NewSettings builds Settings from whatever gocore.Config() has loaded (flags,
// env, or a settings.conf file). cmd/sv2tp layers its command-line flags on top
// of these defaults.
func NewSettings() *Settings {
	feeCheckSeconds := getInt("sv2interval", 30)
	handshakeTimeoutSeconds := getInt("sv2_handshake_timeout", 10)

	return &Settings{
		ClientName: getString("clientName", "sv2tp"),
		Sv2: Sv2Settings{
			BindHost:            getString("sv2bind", "0.0.0.0"),
			BindPort:            getInt("sv2port", 8442),
			FeeCheckInterval:    time.Duration(feeCheckSeconds) * time.Second,
			FeeDelta:            int64(getInt("sv2feedelta", 1000)),
			MaxPeers:            getInt("sv2_max_peers", 8),
			MaxPendingTemplates: getInt("sv2_max_pending_templates", 20),
			HandshakeTimeout:    time.Duration(handshakeTimeoutSeconds) * time.Second,
			SendBufferCap:       getInt("sv2_send_buffer_cap", 4*1024*1024),
			PushQueueSize:       getInt("sv2_push_queue_size", 1024),
			DataDir:             getString("datadir", "./data"),
		},
		IPC: IPCSettings{
			ConnectAddress: getString("ipcconnect", "unix"),
		},
	}
}
