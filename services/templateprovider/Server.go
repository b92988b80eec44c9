package templateprovider

import (
	"context"
	"sync"
	"time"

	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/bsv-blockchain/sv2tp/errors"
	"github.com/bsv-blockchain/sv2tp/pkg/sv2wire"
	"github.com/bsv-blockchain/sv2tp/settings"
	"github.com/bsv-blockchain/sv2tp/ulogger"
	"github.com/google/uuid"
)

// upstreamBackoffMax caps the exponential backoff applied when the Mining
// capability fails.
const upstreamBackoffMax = 5 * time.Second

// RequestTransactionDataError codes, a closed set like the setup error codes.
const (
	txDataErrTemplateNotFound = "template-id-not-found"
	txDataErrStaleTemplate    = "stale-template-id"
)

// Sender is the slice of the connection manager the template provider needs:
// enqueue messages onto one peer's encrypted stream, or drop the peer. The
// connection manager serializes pushes per peer, so every msgs slice passed to one
// Push call is delivered contiguously and in order.
type Sender interface {
	Push(peerID uuid.UUID, msgs ...*sv2wire.Message) error
	Disconnect(peerID uuid.UUID, reason error)
}

// peerPhase is the application-level phase of a peer whose transport handshake has
// already completed (the connection manager never surfaces peers before that).
type peerPhase int

const (
	peerConnected peerPhase = iota
	peerSubscribed
)

// peerState is the template provider's half of a peer session: everything above
// the transport.
type peerState struct {
	phase          peerPhase
	setupDone      bool
	usedVersion    uint16
	constraints    sv2wire.CoinbaseOutputConstraints
	bestTemplateID uint64
	pending        []uint64
	pendingSet     map[uint64]struct{}
	lastFees       int64
	lastPrevHash   chainhash.Hash
}

func (ps *peerState) trackTemplate(id uint64, maxPending int, evict func(id uint64)) {
	ps.pending = append(ps.pending, id)
	ps.pendingSet[id] = struct{}{}

	for len(ps.pending) > maxPending {
		old := ps.pending[0]
		ps.pending = ps.pending[1:]
		delete(ps.pendingSet, old)
		evict(old)
	}
}

// TemplateProvider is the application logic above the connection manager: it owns
// the shared template cache and the per-peer application state, reacts to decoded
// messages, and runs the update loop that pushes better templates.
type TemplateProvider struct {
	logger   ulogger.Logger
	settings *settings.Settings
	mining   MiningI
	sender   Sender
	cache    *TemplateCache

	mu           sync.Mutex
	peers        map[uuid.UUID]*peerState
	bestPrevHash chainhash.Hash

	blockSaveDelay time.Duration
	blockSaves     sync.WaitGroup
}

// New constructs a TemplateProvider. SetSender must be called before the first
// peer connects.
func New(logger ulogger.Logger, tSettings *settings.Settings, mining MiningI) *TemplateProvider {
	return &TemplateProvider{
		logger:         logger,
		settings:       tSettings,
		mining:         mining,
		cache:          NewTemplateCache(),
		peers:          make(map[uuid.UUID]*peerState),
		blockSaveDelay: defaultBlockSaveDelay,
	}
}

// SetSender wires the connection manager in after both objects exist. The
// connection manager also needs the TemplateProvider as its handler; the cycle is
// broken by addressing peers through ids rather than holding session pointers.
func (tp *TemplateProvider) SetSender(sender Sender) {
	tp.sender = sender
}

// Cache exposes the template cache for tests.
func (tp *TemplateProvider) Cache() *TemplateCache {
	return tp.cache
}

// OnPeerConnected is invoked by the connection manager once a peer's transport
// handshake completes.
func (tp *TemplateProvider) OnPeerConnected(peerID uuid.UUID) {
	tp.mu.Lock()
	defer tp.mu.Unlock()

	tp.peers[peerID] = &peerState{
		phase:      peerConnected,
		pendingSet: make(map[uint64]struct{}),
	}

	tp.logger.Debugf("peer %s connected", peerID)
}

// OnPeerDisconnected releases a peer's state and any cache entries only it held.
func (tp *TemplateProvider) OnPeerDisconnected(peerID uuid.UUID) {
	tp.mu.Lock()
	state, ok := tp.peers[peerID]
	delete(tp.peers, peerID)
	tp.mu.Unlock()

	if !ok {
		return
	}

	for _, id := range state.pending {
		if !tp.templateReferenced(id) {
			tp.cache.Remove(id)
		}
	}

	tp.logger.Debugf("peer %s disconnected", peerID)
}

// templateReferenced reports whether any remaining peer still holds id.
func (tp *TemplateProvider) templateReferenced(id uint64) bool {
	tp.mu.Lock()
	defer tp.mu.Unlock()

	for _, state := range tp.peers {
		if _, ok := state.pendingSet[id]; ok {
			return true
		}
	}

	return false
}

// OnPeerMessage dispatches one decoded message for a peer. A returned error makes
// the connection manager disconnect the peer.
func (tp *TemplateProvider) OnPeerMessage(peerID uuid.UUID, msg *sv2wire.Message) error {
	switch msg.Type {
	case sv2wire.MsgTypeSetupConnection:
		return tp.handleSetupConnection(peerID, msg.Payload)
	case sv2wire.MsgTypeCoinbaseOutputConstraints:
		return tp.handleCoinbaseOutputConstraints(peerID, msg.Payload)
	case sv2wire.MsgTypeRequestTransactionData:
		return tp.handleRequestTransactionData(peerID, msg.Payload)
	case sv2wire.MsgTypeSubmitSolution:
		return tp.handleSubmitSolution(peerID, msg.Payload)
	default:
		tp.logger.Warnf("peer %s sent unknown msg_type 0x%02x", peerID, uint8(msg.Type))
		return errors.ErrUnknownMessage
	}
}

// rejectSetup sends SETUP_CONNECTION_ERROR with one of the closed reason codes and
// returns an error so the connection manager drops the peer afterwards.
func (tp *TemplateProvider) rejectSetup(peerID uuid.UUID, code string, cause error) error {
	reply := &sv2wire.SetupConnectionError{ErrorCode: code}

	msg, err := reply.Encode()
	if err != nil {
		return err
	}

	if err := tp.sender.Push(peerID, msg); err != nil {
		tp.logger.Warnf("peer %s: pushing SETUP_CONNECTION_ERROR: %v", peerID, err)
	}

	return cause
}

func (tp *TemplateProvider) handleSetupConnection(peerID uuid.UUID, payload []byte) error {
	sc, err := sv2wire.DecodeSetupConnection(payload)
	if err != nil {
		return err
	}

	tp.mu.Lock()
	state, ok := tp.peers[peerID]
	if !ok {
		tp.mu.Unlock()
		return errors.NewNotFoundError("no session for peer %s", peerID)
	}

	if state.setupDone {
		tp.mu.Unlock()
		return tp.rejectSetup(peerID, sv2wire.SetupErrUnexpectedMessage, errors.ErrUnexpectedMessage)
	}
	tp.mu.Unlock()

	if sc.Protocol != sv2wire.ProtocolTemplateDistribution {
		return tp.rejectSetup(peerID, sv2wire.SetupErrUnsupportedProtocol,
			errors.NewProtocolError("peer %s requested protocol 0x%02x", peerID, sc.Protocol))
	}

	if sc.MinVersion > sv2wire.TPVersion {
		return tp.rejectSetup(peerID, sv2wire.SetupErrUnsupportedVersion,
			errors.NewUnsupportedVersionError("peer %s min_version %d above %d", peerID, sc.MinVersion, sv2wire.TPVersion))
	}

	usedVersion := sc.MaxVersion
	if usedVersion > sv2wire.TPVersion {
		usedVersion = sv2wire.TPVersion
	}

	tp.mu.Lock()
	state.setupDone = true
	state.usedVersion = usedVersion
	tp.mu.Unlock()

	success := &sv2wire.SetupConnectionSuccess{UsedVersion: usedVersion}

	msg, err := success.Encode()
	if err != nil {
		return err
	}

	tp.logger.Infof("peer %s set up: version %d, flags 0x%08x, device %q", peerID, usedVersion, sc.Flags, sc.DeviceID)

	return tp.sender.Push(peerID, msg)
}

func (tp *TemplateProvider) handleCoinbaseOutputConstraints(peerID uuid.UUID, payload []byte) error {
	constraints, err := sv2wire.DecodeCoinbaseOutputConstraints(payload)
	if err != nil {
		return err
	}

	tp.mu.Lock()
	state, ok := tp.peers[peerID]
	if !ok {
		tp.mu.Unlock()
		return errors.NewNotFoundError("no session for peer %s", peerID)
	}

	if !state.setupDone {
		tp.mu.Unlock()
		return tp.rejectSetup(peerID, sv2wire.SetupErrUnexpectedMessage, errors.ErrUnexpectedMessage)
	}

	state.constraints = *constraints
	state.phase = peerSubscribed
	tp.mu.Unlock()

	tp.logger.Infof("peer %s subscribed: max_additional_size=%d max_sigops=%d",
		peerID, constraints.MaxAdditionalSize, constraints.MaxAdditionalSigops)

	// First template pair for the new subscriber.
	tip, err := tp.mining.GetTip(context.Background())
	if err != nil {
		tp.logger.Warnf("peer %s: getting tip for initial template: %v", peerID, err)
		return nil
	}

	if tip == nil {
		tp.logger.Warnf("peer %s: node has no tip yet, deferring initial template", peerID)
		return nil
	}

	if err := tp.pushTemplate(context.Background(), peerID, true); err != nil {
		tp.logger.Warnf("peer %s: pushing initial template: %v", peerID, err)
	}

	return nil
}

func (tp *TemplateProvider) handleRequestTransactionData(peerID uuid.UUID, payload []byte) error {
	req, err := sv2wire.DecodeRequestTransactionData(payload)
	if err != nil {
		return err
	}

	tp.mu.Lock()
	state, ok := tp.peers[peerID]
	if ok {
		_, ok = state.pendingSet[req.TemplateID]
	}

	bestPrevHash := tp.bestPrevHash
	tp.mu.Unlock()

	var (
		template BlockTemplate
		prevHash chainhash.Hash
	)

	if ok {
		template, prevHash, ok = tp.cache.Entry(req.TemplateID)
	}

	if !ok {
		return tp.pushTxDataError(peerID, req.TemplateID, txDataErrTemplateNotFound)
	}

	if prevHash != bestPrevHash {
		tp.logger.Debugf("peer %s requested tx data for template %d on superseded prev hash %s", peerID, req.TemplateID, prevHash)
		return tp.pushTxDataError(peerID, req.TemplateID, txDataErrStaleTemplate)
	}

	block := template.GetBlock()

	// The witness reserved value travels in excess_data, ahead of the
	// transaction list.
	cb, err := BuildCoinbaseTemplate(block.Txs[0], block.CoinbaseWitness)
	if err != nil {
		return err
	}

	txList := make([][]byte, 0, len(block.Txs))
	for _, tx := range block.Txs[1:] {
		txList = append(txList, tx.Bytes())
	}

	reply := &sv2wire.RequestTransactionDataSuccess{
		TemplateID:      req.TemplateID,
		ExcessData:      cb.Witness,
		TransactionList: txList,
	}

	msg, err := reply.Encode()
	if err != nil {
		return err
	}

	return tp.sender.Push(peerID, msg)
}

func (tp *TemplateProvider) pushTxDataError(peerID uuid.UUID, templateID uint64, code string) error {
	reply := &sv2wire.RequestTransactionDataError{
		TemplateID: templateID,
		ErrorCode:  code,
	}

	msg, err := reply.Encode()
	if err != nil {
		return err
	}

	return tp.sender.Push(peerID, msg)
}

func (tp *TemplateProvider) handleSubmitSolution(peerID uuid.UUID, payload []byte) error {
	sol, err := sv2wire.DecodeSubmitSolution(payload)
	if err != nil {
		return err
	}

	// The template stays in the cache: another device may submit a competing
	// solution for it, and a node operator may want to inspect both blocks.
	template, ok := tp.cache.Get(sol.TemplateID)
	if !ok {
		// No reply message exists for solutions; the node logs rejections and
		// the pool monitors block acceptance out of band.
		tp.logger.Warnf("peer %s submitted solution for unknown template %d", peerID, sol.TemplateID)
		return nil
	}

	accepted, err := template.SubmitSolution(context.Background(), sol.Version, sol.HeaderTimestamp, sol.HeaderNonce, sol.CoinbaseTx)
	if err != nil {
		tp.logger.Warnf("peer %s: submitting solution for template %d: %v", peerID, sol.TemplateID, err)
		accepted = false
	} else {
		tp.logger.Infof("peer %s solution for template %d: accepted=%v", peerID, sol.TemplateID, accepted)
	}

	// Persist the constructed block for debugging whether or not the node
	// accepted it.
	tp.saveBlockAsync(template, sol, accepted)

	return nil
}

// pushTemplate builds a fresh template for one peer and pushes it. withPrevHash
// controls whether the NEW_TEMPLATE is followed by SET_NEW_PREV_HASH (true on
// subscribe and on tip change; false for a fee-only improvement, where the prior
// SET_NEW_PREV_HASH stays valid).
func (tp *TemplateProvider) pushTemplate(ctx context.Context, peerID uuid.UUID, withPrevHash bool) error {
	tp.mu.Lock()
	state, ok := tp.peers[peerID]
	if !ok || state.phase != peerSubscribed {
		tp.mu.Unlock()
		return errors.NewNotFoundError("peer %s not subscribed", peerID)
	}

	constraints := state.constraints
	tp.mu.Unlock()

	template, err := tp.mining.CreateNewBlock(ctx, BlockCreateOptions{
		UseMempool:                      true,
		CoinbaseOutputMaxAdditionalSize: constraints.MaxAdditionalSize,
		CoinbaseMaxAdditionalSigops:     constraints.MaxAdditionalSigops,
	})
	if err != nil {
		return errors.NewUpstreamError("creating block template: %v", err)
	}

	return tp.pushBuiltTemplate(peerID, template, withPrevHash)
}

// pushBuiltTemplate caches template, assigns its id and queues NEW_TEMPLATE (and
// optionally SET_NEW_PREV_HASH) in one Push call so the pair is atomic from the
// peer's perspective.
func (tp *TemplateProvider) pushBuiltTemplate(peerID uuid.UUID, template BlockTemplate, withPrevHash bool) error {
	block := template.GetBlock()
	if block == nil || len(block.Txs) == 0 {
		return errors.NewUpstreamError("node returned empty template block")
	}

	cb, err := BuildCoinbaseTemplate(block.Txs[0], block.CoinbaseWitness)
	if err != nil {
		return err
	}

	fees := sumFees(template.GetTxFees())
	templateID := tp.cache.Insert(template, block.PrevHash, fees, time.Now())

	newTemplate := newTemplateMessage(templateID, withPrevHash, block, cb, template.GetCoinbaseMerklePath())

	ntMsg, err := newTemplate.Encode()
	if err != nil {
		return err
	}

	msgs := []*sv2wire.Message{ntMsg}

	if withPrevHash {
		spMsg, err := setNewPrevHashMessage(templateID, block).Encode()
		if err != nil {
			return err
		}

		msgs = append(msgs, spMsg)
	}

	tp.mu.Lock()
	state, ok := tp.peers[peerID]
	if !ok || state.phase != peerSubscribed {
		tp.mu.Unlock()
		tp.cache.Remove(templateID)

		return errors.NewNotFoundError("peer %s went away", peerID)
	}

	state.trackTemplate(templateID, tp.settings.Sv2.MaxPendingTemplates, func(old uint64) {
		if !tp.templateReferencedLocked(old, peerID) {
			tp.cache.Remove(old)
		}
	})

	state.bestTemplateID = templateID
	state.lastFees = fees
	state.lastPrevHash = block.PrevHash

	if withPrevHash {
		tp.bestPrevHash = block.PrevHash
	}
	tp.mu.Unlock()

	if err := tp.sender.Push(peerID, msgs...); err != nil {
		return err
	}

	tp.logger.Infof("peer %s: pushed template %d (fees=%d, prev=%s, with_prev_hash=%v)",
		peerID, templateID, fees, block.PrevHash, withPrevHash)

	return nil
}

// templateReferencedLocked is templateReferenced for callers already holding
// tp.mu; skip names the peer whose own eviction triggered the check.
func (tp *TemplateProvider) templateReferencedLocked(id uint64, skip uuid.UUID) bool {
	for peerID, state := range tp.peers {
		if peerID == skip {
			continue
		}

		if _, ok := state.pendingSet[id]; ok {
			return true
		}
	}

	return false
}

// subscribedPeers snapshots the ids of peers eligible for pushes.
func (tp *TemplateProvider) subscribedPeers() []uuid.UUID {
	tp.mu.Lock()
	defer tp.mu.Unlock()

	out := make([]uuid.UUID, 0, len(tp.peers))

	for peerID, state := range tp.peers {
		if state.phase == peerSubscribed {
			out = append(out, peerID)
		}
	}

	return out
}

// peerLastFees reads one peer's last pushed fee total.
func (tp *TemplateProvider) peerLastFees(peerID uuid.UUID) (int64, bool) {
	tp.mu.Lock()
	defer tp.mu.Unlock()

	state, ok := tp.peers[peerID]
	if !ok || state.phase != peerSubscribed {
		return 0, false
	}

	return state.lastFees, true
}

// RunUpdateLoop is the update thread: it watches for tip changes via the
// blocking WaitTipChanged and, between tips, re-evaluates candidate templates
// every FeeCheckInterval, pushing to any peer whose fee improvement crosses
// FeeDelta. It returns when ctx is cancelled.
func (tp *TemplateProvider) RunUpdateLoop(ctx context.Context) error {
	backoff := time.Duration(0)

	var lastTip *BlockRef

	for {
		if ctx.Err() != nil {
			return nil
		}

		if backoff > 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
		}

		tip, err := tp.mining.GetTip(ctx)
		if err != nil {
			backoff = nextBackoff(backoff)
			tp.logger.Warnf("update loop: getting tip: %v (backoff %s)", err, backoff)

			continue
		}

		ibd, err := tp.mining.IsInitialBlockDownload(ctx)
		if err != nil {
			backoff = nextBackoff(backoff)
			tp.logger.Warnf("update loop: checking initial block download: %v (backoff %s)", err, backoff)

			continue
		}

		if ibd {
			// Templates built mid-sync would be orphaned immediately; wait the
			// node out.
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(tp.settings.Sv2.FeeCheckInterval):
			}

			continue
		}

		if tip == nil {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(tp.settings.Sv2.FeeCheckInterval):
			}

			continue
		}

		if lastTip == nil || lastTip.Hash != tip.Hash {
			tp.fanOutTipChange(ctx, tip)

			lastTip = tip
		}

		changed, err := tp.mining.WaitTipChanged(ctx, tip.Hash, tp.settings.Sv2.FeeCheckInterval)
		if err != nil {
			backoff = nextBackoff(backoff)
			tp.logger.Warnf("update loop: waiting for tip change: %v (backoff %s)", err, backoff)

			continue
		}

		backoff = 0

		if changed != nil && changed.Hash != tip.Hash {
			// Next iteration's GetTip picks up the new tip and fans out.
			continue
		}

		tp.feeCheck(ctx)
	}
}

func nextBackoff(current time.Duration) time.Duration {
	if current == 0 {
		return 250 * time.Millisecond
	}

	next := current * 2
	if next > upstreamBackoffMax {
		next = upstreamBackoffMax
	}

	return next
}

// fanOutTipChange rebuilds and pushes a NEW_TEMPLATE + SET_NEW_PREV_HASH pair to
// every subscribed peer, then prunes cache entries stranded on the old tip.
func (tp *TemplateProvider) fanOutTipChange(ctx context.Context, tip *BlockRef) {
	tp.logger.Infof("tip changed to %s (height %d), fanning out", tip.Hash, tip.Height)

	tp.mu.Lock()
	tp.bestPrevHash = tip.Hash
	tp.mu.Unlock()

	for _, peerID := range tp.subscribedPeers() {
		if err := tp.pushTemplate(ctx, peerID, true); err != nil {
			tp.logger.Warnf("peer %s: tip-change push: %v", peerID, err)
		}
	}

	tp.cache.PruneStale(tip.Hash, time.Now(), tp.templateReferenced)
}

// feeCheck builds a candidate per subscribed peer and pushes a NEW_TEMPLATE (same
// prev hash, new template_id) only when the fee improvement reaches FeeDelta.
func (tp *TemplateProvider) feeCheck(ctx context.Context) {
	for _, peerID := range tp.subscribedPeers() {
		lastFees, ok := tp.peerLastFees(peerID)
		if !ok {
			continue
		}

		tp.mu.Lock()
		state, ok := tp.peers[peerID]
		if !ok {
			tp.mu.Unlock()
			continue
		}

		constraints := state.constraints
		tp.mu.Unlock()

		template, err := tp.mining.CreateNewBlock(ctx, BlockCreateOptions{
			UseMempool:                      true,
			CoinbaseOutputMaxAdditionalSize: constraints.MaxAdditionalSize,
			CoinbaseMaxAdditionalSigops:     constraints.MaxAdditionalSigops,
		})
		if err != nil {
			tp.logger.Warnf("fee check: creating candidate for peer %s: %v", peerID, err)
			continue
		}

		fees := sumFees(template.GetTxFees())
		if fees-lastFees < tp.settings.Sv2.FeeDelta {
			continue
		}

		if err := tp.pushBuiltTemplate(peerID, template, false); err != nil {
			tp.logger.Warnf("peer %s: fee-delta push: %v", peerID, err)
		}
	}
}
