package connman

import (
	"context"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/bsv-blockchain/sv2tp/pkg/sv2noise"
	"github.com/bsv-blockchain/sv2tp/pkg/sv2transport"
	"github.com/bsv-blockchain/sv2tp/pkg/sv2wire"
	"github.com/bsv-blockchain/sv2tp/settings"
	"github.com/bsv-blockchain/sv2tp/ulogger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// collectHandler records reactor callbacks for assertions.
type collectHandler struct {
	mu          sync.Mutex
	connected   []uuid.UUID
	disconnects []uuid.UUID
	messages    []*sv2wire.Message
	msgErr      error
}

func (h *collectHandler) OnPeerConnected(peerID uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.connected = append(h.connected, peerID)
}

func (h *collectHandler) OnPeerDisconnected(peerID uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.disconnects = append(h.disconnects, peerID)
}

func (h *collectHandler) OnPeerMessage(_ uuid.UUID, msg *sv2wire.Message) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.messages = append(h.messages, msg)

	return h.msgErr
}

func (h *collectHandler) connectedPeers() []uuid.UUID {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]uuid.UUID, len(h.connected))
	copy(out, h.connected)

	return out
}

func (h *collectHandler) messageCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return len(h.messages)
}

func (h *collectHandler) disconnectCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return len(h.disconnects)
}

func testSettings() *settings.Settings {
	return &settings.Settings{
		Sv2: settings.Sv2Settings{
			BindHost:            "127.0.0.1",
			BindPort:            0,
			FeeCheckInterval:    30 * time.Second,
			FeeDelta:            1000,
			MaxPeers:            8,
			MaxPendingTemplates: 20,
			HandshakeTimeout:    10 * time.Second,
			SendBufferCap:       4 * 1024 * 1024,
			PushQueueSize:       1024,
		},
	}
}

func testIdentity(t *testing.T) (sv2noise.Keypair, sv2noise.Certificate, [32]byte) {
	t.Helper()

	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i + 1)
	}

	authority, err := sv2noise.NewAuthorityKeypairFromBytes(key)
	require.NoError(t, err)

	static, err := sv2noise.NewStaticKeypair()
	require.NoError(t, err)

	now := uint32(time.Now().Unix())

	cert, err := sv2noise.IssueCertificate(authority, static.Public, now-3600, now+3600)
	require.NoError(t, err)

	return static, cert, authority.XOnlyPubKey()
}

func startConnman(t *testing.T, tSettings *settings.Settings, handler PeerHandler) (*Sv2Connman, sv2noise.Keypair, [32]byte) {
	t.Helper()

	static, cert, authorityPub := testIdentity(t)

	cm := New(ulogger.TestLogger{}, tSettings, static, cert, handler)
	require.NoError(t, cm.Start(context.Background()))

	t.Cleanup(func() {
		_ = cm.Stop(context.Background())
	})

	return cm, static, authorityPub
}

// testClient is a mining-peer-side connection: a TCP socket plus an initiator
// transport.
type testClient struct {
	t         *testing.T
	conn      net.Conn
	transport *sv2transport.Transport
}

func dialClient(t *testing.T, cm *Sv2Connman, tpStaticPub, authorityPub [32]byte) *testClient {
	t.Helper()

	peerStatic, err := sv2noise.NewStaticKeypair()
	require.NoError(t, err)

	transport, err := sv2transport.NewInitiator(peerStatic, tpStaticPub, authorityPub)
	require.NoError(t, err)

	conn, err := net.Dial("tcp", cm.Addr().String())
	require.NoError(t, err)

	c := &testClient{t: t, conn: conn, transport: transport}
	t.Cleanup(func() { _ = conn.Close() })

	c.flush()

	// Read the responder's 170-byte step 2; the transport queues step 3.
	c.pump(func() bool { return transport.HandshakeComplete() })
	c.flush()

	return c
}

// flush writes every pending transport byte to the socket.
func (c *testClient) flush() {
	c.t.Helper()

	for {
		b, _ := c.transport.GetBytesToSend(false)
		if len(b) == 0 {
			return
		}

		_, err := c.conn.Write(b)
		require.NoError(c.t, err)

		c.transport.MarkBytesSent(len(b))
	}
}

// pump reads socket bytes into the transport until done() or a 5s deadline.
func (c *testClient) pump(done func() bool) {
	c.t.Helper()

	buf := make([]byte, 64*1024)
	deadline := time.Now().Add(5 * time.Second)

	for !done() {
		require.True(c.t, time.Now().Before(deadline), "timed out waiting for peer data")

		require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(100*time.Millisecond)))

		n, err := c.conn.Read(buf)
		if n > 0 {
			_, rerr := c.transport.ReceivedBytes(buf[:n])
			require.NoError(c.t, rerr)
		}

		if err != nil {
			if nerr, ok := err.(net.Error); ok && nerr.Timeout() {
				continue
			}

			require.NoError(c.t, err)
		}
	}
}

func (c *testClient) send(msg *sv2wire.Message) {
	c.t.Helper()

	ok, err := c.transport.SetMessageToSend(msg)
	require.NoError(c.t, err)
	require.True(c.t, ok)

	c.flush()
}

func (c *testClient) recv() *sv2wire.Message {
	c.t.Helper()

	var msg *sv2wire.Message

	c.pump(func() bool {
		msg = c.transport.NextMessage()
		return msg != nil
	})

	return msg
}

func TestConnman_HandshakeAndDispatch(t *testing.T) {
	handler := &collectHandler{}
	cm, static, authorityPub := startConnman(t, testSettings(), handler)

	client := dialClient(t, cm, static.Public, authorityPub)

	require.Eventually(t, func() bool {
		return len(handler.connectedPeers()) == 1
	}, 5*time.Second, 10*time.Millisecond)

	// Client -> TP message reaches the handler.
	sc := &sv2wire.SetupConnection{
		Protocol:   sv2wire.ProtocolTemplateDistribution,
		MinVersion: 2,
		MaxVersion: 2,
		Flags:      1,
	}

	msg, err := sc.Encode()
	require.NoError(t, err)

	client.send(msg)

	require.Eventually(t, func() bool {
		return handler.messageCount() == 1
	}, 5*time.Second, 10*time.Millisecond)

	// TP -> client push round-trips through encryption.
	peerID := handler.connectedPeers()[0]

	reply, err := (&sv2wire.SetupConnectionSuccess{UsedVersion: 2}).Encode()
	require.NoError(t, err)

	require.NoError(t, cm.Push(peerID, reply))

	got := client.recv()
	require.Equal(t, sv2wire.MsgTypeSetupConnectionSuccess, got.Type)

	stats := cm.Stats()
	require.Equal(t, uint64(1), stats.PeersAccepted)
	require.Equal(t, uint64(1), stats.MessagesIn)
	require.Equal(t, uint64(1), stats.MessagesOut)
}

func TestConnman_PairPushStaysOrdered(t *testing.T) {
	handler := &collectHandler{}
	cm, static, authorityPub := startConnman(t, testSettings(), handler)

	client := dialClient(t, cm, static.Public, authorityPub)

	require.Eventually(t, func() bool {
		return len(handler.connectedPeers()) == 1
	}, 5*time.Second, 10*time.Millisecond)

	peerID := handler.connectedPeers()[0]

	nt, err := (&sv2wire.NewTemplate{TemplateID: 7}).Encode()
	require.NoError(t, err)

	sp, err := (&sv2wire.SetNewPrevHash{TemplateID: 7}).Encode()
	require.NoError(t, err)

	require.NoError(t, cm.Push(peerID, nt, sp))

	first := client.recv()
	second := client.recv()

	require.Equal(t, sv2wire.MsgTypeNewTemplate, first.Type)
	require.Equal(t, sv2wire.MsgTypeSetNewPrevHash, second.Type)
}

func TestConnman_HandlerErrorDisconnectsPeer(t *testing.T) {
	handler := &collectHandler{msgErr: io.ErrUnexpectedEOF}
	cm, static, authorityPub := startConnman(t, testSettings(), handler)

	client := dialClient(t, cm, static.Public, authorityPub)

	require.Eventually(t, func() bool {
		return len(handler.connectedPeers()) == 1
	}, 5*time.Second, 10*time.Millisecond)

	msg, err := (&sv2wire.RequestTransactionData{TemplateID: 1}).Encode()
	require.NoError(t, err)

	client.send(msg)

	require.Eventually(t, func() bool {
		return handler.disconnectCount() == 1
	}, 5*time.Second, 10*time.Millisecond)

	// The socket is closed from the TP side.
	require.NoError(t, client.conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	buf := make([]byte, 1)

	for {
		_, rerr := client.conn.Read(buf)
		if rerr != nil {
			require.ErrorIs(t, rerr, io.EOF)
			break
		}
	}
}

func TestConnman_MaxPeersEnforced(t *testing.T) {
	tSettings := testSettings()
	tSettings.Sv2.MaxPeers = 1

	handler := &collectHandler{}
	cm, static, authorityPub := startConnman(t, tSettings, handler)

	first := dialClient(t, cm, static.Public, authorityPub)

	require.Eventually(t, func() bool {
		return len(handler.connectedPeers()) == 1
	}, 5*time.Second, 10*time.Millisecond)

	// Second connection must be refused before any handshake byte arrives.
	conn, err := net.Dial("tcp", cm.Addr().String())
	require.NoError(t, err)

	defer func() { _ = conn.Close() }()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))

	_, err = conn.Read(make([]byte, 1))
	require.ErrorIs(t, err, io.EOF)

	require.Eventually(t, func() bool {
		return cm.Stats().PeersRejected == 1
	}, 2*time.Second, 10*time.Millisecond)

	// The first peer stays healthy.
	msg, err := (&sv2wire.RequestTransactionData{TemplateID: 1}).Encode()
	require.NoError(t, err)

	first.send(msg)

	require.Eventually(t, func() bool {
		return handler.messageCount() == 1
	}, 5*time.Second, 10*time.Millisecond)
}

func TestConnman_HandshakeTimeoutDisconnects(t *testing.T) {
	tSettings := testSettings()
	tSettings.Sv2.HandshakeTimeout = 100 * time.Millisecond

	handler := &collectHandler{}
	cm, _, _ := startConnman(t, tSettings, handler)

	conn, err := net.Dial("tcp", cm.Addr().String())
	require.NoError(t, err)

	defer func() { _ = conn.Close() }()

	// Send nothing: the TP must give up within the timeout plus one tick.
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))

	_, err = conn.Read(make([]byte, 1))
	require.ErrorIs(t, err, io.EOF)
}

// TestConnman_RepeatedStartStop runs five construction/teardown cycles, each
// with a live session, and checks that every Start and Stop succeeds.
func TestConnman_RepeatedStartStop(t *testing.T) {
	for i := 0; i < 5; i++ {
		handler := &collectHandler{}
		static, cert, authorityPub := testIdentity(t)

		cm := New(ulogger.TestLogger{}, testSettings(), static, cert, handler)
		require.NoError(t, cm.Start(context.Background()))

		client := dialClient(t, cm, static.Public, authorityPub)
		_ = client

		require.Eventually(t, func() bool {
			return len(handler.connectedPeers()) == 1
		}, 5*time.Second, 10*time.Millisecond)

		require.NoError(t, cm.Stop(context.Background()))
	}
}

func TestConnman_PushAfterInterruptRefused(t *testing.T) {
	handler := &collectHandler{}
	cm, _, _ := startConnman(t, testSettings(), handler)

	cm.Interrupt()

	err := cm.Push(uuid.New(), &sv2wire.Message{Type: sv2wire.MsgTypeNewTemplate})
	require.Error(t, err)
}
