// Package connman implements Sv2Connman: the connection manager that accepts
// mining peers, drives each per-peer transport through its
// Noise handshake, decodes inbound Sv2 messages for the application handler, and
// serializes outbound pushes onto each peer's encrypted stream.
//
// One reactor goroutine is the sole owner of all peer sessions, fed by an event
// channel filled by lightweight per-connection reader goroutines. Per-peer
// message ordering is preserved because only the reactor ever writes to a
// session, and per-peer writer goroutines only drain already-encrypted bytes.
package connman

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bsv-blockchain/sv2tp/errors"
	"github.com/bsv-blockchain/sv2tp/pkg/sv2noise"
	"github.com/bsv-blockchain/sv2tp/pkg/sv2transport"
	"github.com/bsv-blockchain/sv2tp/pkg/sv2wire"
	"github.com/bsv-blockchain/sv2tp/settings"
	"github.com/bsv-blockchain/sv2tp/ulogger"
	"github.com/google/uuid"
)

const (
	// readBufferSize is the scratch buffer each reader goroutine fills per read.
	readBufferSize = 64 * 1024

	// reactorTickInterval bounds how long the reactor goes without checking
	// handshake deadlines and the interrupt flag.
	reactorTickInterval = 50 * time.Millisecond

	// sendChannelDepth is the per-peer writer channel depth. Overflowing it (with
	// the byte cap not yet reached) still counts as a slow consumer.
	sendChannelDepth = 256
)

// PeerHandler is the application layer the reactor dispatches into. All three
// callbacks run on the reactor goroutine; they must not block.
type PeerHandler interface {
	OnPeerConnected(peerID uuid.UUID)
	OnPeerDisconnected(peerID uuid.UUID)
	OnPeerMessage(peerID uuid.UUID, msg *sv2wire.Message) error
}

type peerPhase int

const (
	phaseHandshake peerPhase = iota
	phaseConnected
	phaseDisconnecting
)

// peerSession is the reactor-owned state for one accepted connection. Only the
// reactor goroutine touches it.
type peerSession struct {
	id        uuid.UUID
	conn      net.Conn
	transport *sv2transport.Transport
	phase     peerPhase

	sendCh      chan []byte
	pendingSend atomic.Int64
	closeOnce   sync.Once

	handshakeDeadline time.Time
	msgQueue          []*sv2wire.Message
}

type eventKind int

const (
	evAccept eventKind = iota
	evBytes
	evClosed
)

type peerEvent struct {
	kind eventKind
	conn net.Conn
	id   uuid.UUID
	data []byte
	err  error
}

// Sv2Connman owns the listening socket and every peer session.
type Sv2Connman struct {
	logger   ulogger.Logger
	settings *settings.Settings
	static   sv2noise.Keypair
	cert     sv2noise.Certificate
	handler  PeerHandler

	listener net.Listener
	events   chan peerEvent
	queue    *pushQueue

	interrupted atomic.Bool
	interruptCh chan struct{}
	intOnce     sync.Once
	wg          sync.WaitGroup

	peers map[uuid.UUID]*peerSession

	stats metrics
}

// New constructs a connection manager. The static keypair and certificate are the
// process-lifetime Noise identity every accepted handshake presents.
func New(logger ulogger.Logger, tSettings *settings.Settings, static sv2noise.Keypair,
	cert sv2noise.Certificate, handler PeerHandler) *Sv2Connman {
	return &Sv2Connman{
		logger:      logger,
		settings:    tSettings,
		static:      static,
		cert:        cert,
		handler:     handler,
		events:      make(chan peerEvent, 256),
		queue:       newPushQueue(tSettings.Sv2.PushQueueSize),
		interruptCh: make(chan struct{}),
		peers:       make(map[uuid.UUID]*peerSession),
	}
}

// Start binds the listener and spawns the accept and reactor goroutines. A bind
// failure is fatal; the caller should refuse to start.
func (cm *Sv2Connman) Start(_ context.Context) error {
	addr := fmt.Sprintf("%s:%d", cm.settings.Sv2.BindHost, cm.settings.Sv2.BindPort)

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.NewFatalError("binding sv2 listener on %s: %v", addr, err)
	}

	cm.listener = listener
	cm.logger.Infof("sv2 listening on %s", listener.Addr())

	cm.wg.Add(2)

	go cm.acceptLoop()
	go cm.reactorLoop()

	return nil
}

// Addr returns the bound listener address, for tests using port 0.
func (cm *Sv2Connman) Addr() net.Addr {
	return cm.listener.Addr()
}

// Interrupt signals shutdown: the listener is closed (unblocking accept) and the
// reactor drains out within one tick.
func (cm *Sv2Connman) Interrupt() {
	cm.intOnce.Do(func() {
		cm.interrupted.Store(true)
		close(cm.interruptCh)

		if cm.listener != nil {
			_ = cm.listener.Close()
		}
	})
}

// Stop interrupts and joins both long-lived goroutines. In-flight writes are
// abandoned.
func (cm *Sv2Connman) Stop(_ context.Context) error {
	cm.Interrupt()
	cm.wg.Wait()

	return nil
}

// Stats snapshots the connection manager's counters.
func (cm *Sv2Connman) Stats() Stats {
	return cm.stats.snapshot()
}

// Push enqueues msgs for one peer. All messages of a single call are serialized
// contiguously, so a NEW_TEMPLATE + SET_NEW_PREV_HASH pair pushed together is
// atomic from the peer's perspective. Safe to call from any goroutine.
func (cm *Sv2Connman) Push(peerID uuid.UUID, msgs ...*sv2wire.Message) error {
	if cm.interrupted.Load() {
		return errors.NewTransportError("connection manager shutting down")
	}

	if dropped := cm.queue.enqueue(pushItem{peerID: peerID, msgs: msgs}); dropped > 0 {
		cm.logger.Warnf("push queue full: dropped %d stale push(es) for peer %s", dropped, peerID)
	}

	return nil
}

// Disconnect asks the reactor to drop a peer. Safe to call from any goroutine.
func (cm *Sv2Connman) Disconnect(peerID uuid.UUID, reason error) {
	if dropped := cm.queue.enqueue(pushItem{peerID: peerID, disconnect: true, reason: reason}); dropped > 0 {
		cm.logger.Warnf("push queue full: dropped %d stale push(es) for peer %s", dropped, peerID)
	}
}

func (cm *Sv2Connman) acceptLoop() {
	defer cm.wg.Done()

	for {
		conn, err := cm.listener.Accept()
		if err != nil {
			if cm.interrupted.Load() {
				return
			}

			cm.logger.Warnf("accept: %v", err)

			continue
		}

		select {
		case cm.events <- peerEvent{kind: evAccept, conn: conn}:
		case <-cm.interruptCh:
			_ = conn.Close()
			return
		}
	}
}

// reactorLoop is the single owner of cm.peers and every peerSession.
func (cm *Sv2Connman) reactorLoop() {
	defer cm.wg.Done()

	ticker := time.NewTicker(reactorTickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-cm.interruptCh:
			for _, ps := range cm.peers {
				cm.teardownPeer(ps, errors.NewTransportError("shutting down"))
			}

			return

		case ev := <-cm.events:
			switch ev.kind {
			case evAccept:
				cm.handleAccept(ev.conn)
			case evBytes:
				cm.handleBytes(ev.id, ev.data)
			case evClosed:
				if ps, ok := cm.peers[ev.id]; ok {
					cm.teardownPeer(ps, ev.err)
				}
			}

		case <-cm.queue.notify:
			cm.processPushItems()

		case <-ticker.C:
			cm.checkHandshakeDeadlines()
		}
	}
}

func (cm *Sv2Connman) handleAccept(conn net.Conn) {
	if len(cm.peers) >= cm.settings.Sv2.MaxPeers {
		cm.stats.peersRejected.Add(1)
		cm.logger.Warnf("rejecting %s: %v", conn.RemoteAddr(), errors.ErrTooManyPeers)
		_ = conn.Close()

		return
	}

	ps := &peerSession{
		id:                uuid.New(),
		conn:              conn,
		transport:         sv2transport.NewResponder(cm.static, cm.cert),
		phase:             phaseHandshake,
		sendCh:            make(chan []byte, sendChannelDepth),
		handshakeDeadline: time.Now().Add(cm.settings.Sv2.HandshakeTimeout),
	}

	cm.peers[ps.id] = ps
	cm.stats.peersAccepted.Add(1)
	cm.logger.Infof("peer %s accepted from %s (%d/%d)", ps.id, conn.RemoteAddr(), len(cm.peers), cm.settings.Sv2.MaxPeers)

	go cm.readLoop(ps)
	go cm.writeLoop(ps)
}

// readLoop feeds raw socket bytes to the reactor. It exits when the connection
// closes or errors.
func (cm *Sv2Connman) readLoop(ps *peerSession) {
	buf := make([]byte, readBufferSize)

	for {
		n, err := ps.conn.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])

			select {
			case cm.events <- peerEvent{kind: evBytes, id: ps.id, data: data}:
			case <-cm.interruptCh:
				return
			}
		}

		if err != nil {
			select {
			case cm.events <- peerEvent{kind: evClosed, id: ps.id, err: err}:
			case <-cm.interruptCh:
			}

			return
		}
	}
}

// writeLoop drains the peer's send channel onto the socket. It owns the final
// conn.Close so queued bytes (e.g. a SETUP_CONNECTION_ERROR) are flushed before
// the socket goes away.
func (cm *Sv2Connman) writeLoop(ps *peerSession) {
	var writeErr error

	for chunk := range ps.sendCh {
		ps.pendingSend.Add(int64(-len(chunk)))

		if writeErr != nil {
			continue
		}

		if _, err := ps.conn.Write(chunk); err != nil {
			writeErr = err

			select {
			case cm.events <- peerEvent{kind: evClosed, id: ps.id, err: err}:
			case <-cm.interruptCh:
			}

			continue
		}

		cm.stats.bytesOut.Add(uint64(len(chunk)))
	}

	_ = ps.conn.Close()
}

func (cm *Sv2Connman) handleBytes(id uuid.UUID, data []byte) {
	ps, ok := cm.peers[id]
	if !ok || ps.phase == phaseDisconnecting {
		return
	}

	cm.stats.bytesIn.Add(uint64(len(data)))

	wasHandshake := !ps.transport.HandshakeComplete()

	gotMsg, err := ps.transport.ReceivedBytes(data)
	if err != nil {
		cm.teardownPeer(ps, err)
		return
	}

	if wasHandshake && ps.transport.HandshakeComplete() {
		ps.phase = phaseConnected
		cm.logger.Infof("peer %s handshake complete", ps.id)
		cm.handler.OnPeerConnected(ps.id)
	}

	// Handshake replies (and anything the handler pushed) need flushing even when
	// no message completed.
	if !cm.flushSend(ps) {
		return
	}

	if !gotMsg {
		return
	}

	for msg := ps.transport.NextMessage(); msg != nil; msg = ps.transport.NextMessage() {
		cm.stats.messagesIn.Add(1)

		if err := cm.handler.OnPeerMessage(ps.id, msg); err != nil {
			cm.logger.Warnf("peer %s: %v", ps.id, err)
			// Deliver anything the handler queued (e.g. SETUP_CONNECTION_ERROR)
			// before tearing the session down.
			cm.processPushItems()
			cm.teardownPeer(ps, err)

			return
		}
	}

	cm.processPushItems()
}

// processPushItems drains the cross-thread push queue onto peer send buffers.
func (cm *Sv2Connman) processPushItems() {
	for _, item := range cm.queue.drain() {
		ps, ok := cm.peers[item.peerID]
		if !ok {
			continue
		}

		if item.disconnect {
			cm.teardownPeer(ps, item.reason)
			continue
		}

		if ps.phase != phaseConnected {
			// Peer no longer matches the subscription the push was scheduled
			// under; drop the stale work.
			continue
		}

		ps.msgQueue = append(ps.msgQueue, item.msgs...)

		cm.drainMessageQueue(ps)
	}
}

// drainMessageQueue moves queued messages through the transport's
// single-message-in-flight discipline and flushes the resulting bytes.
func (cm *Sv2Connman) drainMessageQueue(ps *peerSession) {
	for len(ps.msgQueue) > 0 {
		msg := ps.msgQueue[0]

		ok, err := ps.transport.SetMessageToSend(msg)
		if err != nil {
			cm.teardownPeer(ps, err)
			return
		}

		if !ok {
			// Prior message still in flight; flush and retry.
			if !cm.flushSend(ps) {
				return
			}

			ok, err = ps.transport.SetMessageToSend(msg)
			if err != nil || !ok {
				cm.teardownPeer(ps, errors.NewTransportError("send pipeline stalled"))
				return
			}
		}

		ps.msgQueue = ps.msgQueue[1:]
		cm.stats.messagesOut.Add(1)

		if !cm.flushSend(ps) {
			return
		}
	}
}

// flushSend moves pending transport bytes into the writer channel, enforcing the
// send buffer cap. Returns false if the peer was torn down.
func (cm *Sv2Connman) flushSend(ps *peerSession) bool {
	for {
		b, _ := ps.transport.GetBytesToSend(len(ps.msgQueue) > 0)
		if len(b) == 0 {
			return true
		}

		if ps.pendingSend.Load()+int64(len(b)) > int64(cm.settings.Sv2.SendBufferCap) {
			cm.teardownPeer(ps, errors.ErrSlowConsumer)
			return false
		}

		chunk := make([]byte, len(b))
		copy(chunk, b)

		select {
		case ps.sendCh <- chunk:
			ps.pendingSend.Add(int64(len(chunk)))
			ps.transport.MarkBytesSent(len(b))
		default:
			cm.teardownPeer(ps, errors.ErrSlowConsumer)
			return false
		}
	}
}

func (cm *Sv2Connman) checkHandshakeDeadlines() {
	now := time.Now()

	for _, ps := range cm.peers {
		if ps.phase == phaseHandshake && now.After(ps.handshakeDeadline) {
			cm.teardownPeer(ps, errors.ErrHandshakeTimeout)
		}
	}
}

// teardownPeer removes a session. Closing sendCh lets the writer flush queued
// bytes and then close the socket; the reader exits on the socket close.
func (cm *Sv2Connman) teardownPeer(ps *peerSession, reason error) {
	ps.closeOnce.Do(func() {
		wasConnected := ps.phase == phaseConnected
		ps.phase = phaseDisconnecting

		delete(cm.peers, ps.id)
		cm.stats.peersDisconnected.Add(1)

		if reason != nil {
			cm.logger.Infof("peer %s disconnected: %v", ps.id, reason)
		} else {
			cm.logger.Infof("peer %s disconnected", ps.id)
		}

		close(ps.sendCh)

		if wasConnected {
			cm.handler.OnPeerDisconnected(ps.id)
		}
	})
}

// PeerCount reports the number of live sessions. Reactor-owned state is read
// without synchronization only by tests that have quiesced the reactor; external
// callers should rely on Stats instead.
func (cm *Sv2Connman) PeerCount() int {
	return len(cm.peers)
}
