// Package miningipc provides the production implementation of the Mining
// capability (templateprovider.MiningI), proxying each call over the node's local
// IPC socket. The capability-style RPC itself is a node-side contract; this client
// realizes the minimal encoding needed to consume it: one JSON object per line,
// request ids for demultiplexing, hex for byte fields. Run drives the read side
// and is the daemon's third long-lived thread.
package miningipc

import (
	"bufio"
	"context"
	"encoding/hex"
	"encoding/json"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/bsv-blockchain/go-bt/v2"
	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/bsv-blockchain/sv2tp/errors"
	"github.com/bsv-blockchain/sv2tp/services/templateprovider"
	"github.com/bsv-blockchain/sv2tp/ulogger"
)

type request struct {
	ID     uint64          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

type response struct {
	ID     uint64          `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error,omitempty"`
}

// Client implements templateprovider.MiningI over a unix-domain socket.
type Client struct {
	logger ulogger.Logger

	conn net.Conn

	writeMu sync.Mutex
	enc     *json.Encoder

	mu      sync.Mutex
	nextID  uint64
	waiters map[uint64]chan response
	closed  bool
}

// Dial connects to the node's IPC endpoint: "unix" for the default socket path,
// or "unix:<path>".
func Dial(logger ulogger.Logger, address string) (*Client, error) {
	path := "/tmp/sv2tp-node.sock"

	switch {
	case address == "unix":
	case strings.HasPrefix(address, "unix:"):
		path = strings.TrimPrefix(address, "unix:")
	default:
		return nil, errors.NewConfigurationError("unsupported ipc address %q", address)
	}

	conn, err := net.Dial("unix", path)
	if err != nil {
		return nil, errors.NewFatalError("dialing node ipc %s: %v", path, err)
	}

	return &Client{
		logger:  logger,
		conn:    conn,
		enc:     json.NewEncoder(conn),
		nextID:  1,
		waiters: make(map[uint64]chan response),
	}, nil
}

// Run reads responses off the socket and routes them to waiting calls until ctx
// is cancelled or the link drops.
func (c *Client) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		_ = c.conn.Close()
	}()

	scanner := bufio.NewScanner(c.conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)

	for scanner.Scan() {
		var resp response
		if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
			c.logger.Warnf("ipc: malformed response: %v", err)
			continue
		}

		c.mu.Lock()
		ch, ok := c.waiters[resp.ID]
		delete(c.waiters, resp.ID)
		c.mu.Unlock()

		if ok {
			ch <- resp
		}
	}

	c.mu.Lock()
	c.closed = true

	for id, ch := range c.waiters {
		delete(c.waiters, id)
		close(ch)
	}
	c.mu.Unlock()

	if ctx.Err() != nil {
		return nil
	}

	return errors.NewUpstreamError("node ipc link dropped: %v", scanner.Err())
}

func (c *Client) call(ctx context.Context, method string, params interface{}, result interface{}) error {
	var raw json.RawMessage

	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			return errors.NewUpstreamError("encoding %s params: %v", method, err)
		}

		raw = b
	}

	ch := make(chan response, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errors.NewUpstreamError("node ipc link is down")
	}

	id := c.nextID
	c.nextID++
	c.waiters[id] = ch
	c.mu.Unlock()

	c.writeMu.Lock()
	err := c.enc.Encode(request{ID: id, Method: method, Params: raw})
	c.writeMu.Unlock()

	if err != nil {
		c.mu.Lock()
		delete(c.waiters, id)
		c.mu.Unlock()

		return errors.NewUpstreamError("sending %s: %v", method, err)
	}

	select {
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.waiters, id)
		c.mu.Unlock()

		return errors.New(errors.ERR_CONTEXT_CANCELED, "%s canceled", method)

	case resp, ok := <-ch:
		if !ok {
			return errors.NewUpstreamError("node ipc link dropped during %s", method)
		}

		if resp.Error != "" {
			return errors.NewUpstreamError("%s: %s", method, resp.Error)
		}

		if result != nil && resp.Result != nil {
			if err := json.Unmarshal(resp.Result, result); err != nil {
				return errors.NewUpstreamError("decoding %s result: %v", method, err)
			}
		}

		return nil
	}
}

type blockRefJSON struct {
	Hash   string `json:"hash"`
	Height int32  `json:"height"`
}

func (r *blockRefJSON) toBlockRef() (*templateprovider.BlockRef, error) {
	h, err := chainhash.NewHashFromStr(r.Hash)
	if err != nil {
		return nil, errors.NewUpstreamError("parsing tip hash %q: %v", r.Hash, err)
	}

	return &templateprovider.BlockRef{Hash: *h, Height: r.Height}, nil
}

// GetTip implements MiningI.
func (c *Client) GetTip(ctx context.Context) (*templateprovider.BlockRef, error) {
	var ref *blockRefJSON

	if err := c.call(ctx, "gettip", nil, &ref); err != nil {
		return nil, err
	}

	if ref == nil {
		return nil, nil
	}

	return ref.toBlockRef()
}

// WaitTipChanged implements MiningI.
func (c *Client) WaitTipChanged(ctx context.Context, current chainhash.Hash, timeout time.Duration) (*templateprovider.BlockRef, error) {
	params := map[string]interface{}{
		"current":    current.String(),
		"timeout_ms": timeout.Milliseconds(),
	}

	var ref *blockRefJSON

	if err := c.call(ctx, "waittipchanged", params, &ref); err != nil {
		return nil, err
	}

	if ref == nil {
		return nil, nil
	}

	return ref.toBlockRef()
}

// IsInitialBlockDownload implements MiningI.
func (c *Client) IsInitialBlockDownload(ctx context.Context) (bool, error) {
	var ibd bool

	if err := c.call(ctx, "isinitialblockdownload", nil, &ibd); err != nil {
		return false, err
	}

	return ibd, nil
}

type templateJSON struct {
	Handle          uint64   `json:"handle"`
	Version         uint32   `json:"version"`
	PrevHash        string   `json:"prevhash"`
	Time            uint32   `json:"time"`
	NBits           uint32   `json:"nbits"`
	Txs             []string `json:"txs"`
	Fees            []int64  `json:"fees"`
	MerklePath      []string `json:"merklepath"`
	CoinbaseWitness string   `json:"coinbasewitness,omitempty"`
}

// CreateNewBlock implements MiningI.
func (c *Client) CreateNewBlock(ctx context.Context, opts templateprovider.BlockCreateOptions) (templateprovider.BlockTemplate, error) {
	params := map[string]interface{}{
		"use_mempool":                         opts.UseMempool,
		"coinbase_output_max_additional_size": opts.CoinbaseOutputMaxAdditionalSize,
		"coinbase_max_additional_sigops":      opts.CoinbaseMaxAdditionalSigops,
	}

	var tj templateJSON

	if err := c.call(ctx, "createnewblock", params, &tj); err != nil {
		return nil, err
	}

	return c.templateFromJSON(&tj)
}

func (c *Client) templateFromJSON(tj *templateJSON) (*remoteTemplate, error) {
	prev, err := chainhash.NewHashFromStr(tj.PrevHash)
	if err != nil {
		return nil, errors.NewUpstreamError("parsing template prevhash: %v", err)
	}

	txs := make([]*bt.Tx, 0, len(tj.Txs))

	for _, txHex := range tj.Txs {
		tx, err := bt.NewTxFromString(txHex)
		if err != nil {
			return nil, errors.NewUpstreamError("parsing template tx: %v", err)
		}

		txs = append(txs, tx)
	}

	path := make([]chainhash.Hash, 0, len(tj.MerklePath))

	for _, hh := range tj.MerklePath {
		h, err := chainhash.NewHashFromStr(hh)
		if err != nil {
			return nil, errors.NewUpstreamError("parsing merkle path entry: %v", err)
		}

		path = append(path, *h)
	}

	var witness []byte

	if tj.CoinbaseWitness != "" {
		witness, err = hex.DecodeString(tj.CoinbaseWitness)
		if err != nil {
			return nil, errors.NewUpstreamError("parsing coinbase witness: %v", err)
		}
	}

	return &remoteTemplate{
		client: c,
		handle: tj.Handle,
		block: &templateprovider.Block{
			Version:         tj.Version,
			PrevHash:        *prev,
			Time:            tj.Time,
			NBits:           tj.NBits,
			Txs:             txs,
			CoinbaseWitness: witness,
		},
		fees:       tj.Fees,
		merklePath: path,
	}, nil
}

// remoteTemplate is a BlockTemplate handle backed by the node.
type remoteTemplate struct {
	client     *Client
	handle     uint64
	block      *templateprovider.Block
	fees       []int64
	merklePath []chainhash.Hash
}

func (t *remoteTemplate) GetBlock() *templateprovider.Block {
	return t.block
}

func (t *remoteTemplate) GetTxFees() []int64 {
	return t.fees
}

func (t *remoteTemplate) GetCoinbaseMerklePath() []chainhash.Hash {
	return t.merklePath
}

func (t *remoteTemplate) WaitNext(ctx context.Context, opts templateprovider.WaitNextOptions) (templateprovider.BlockTemplate, error) {
	params := map[string]interface{}{
		"handle":          t.handle,
		"timeout_ms":      opts.Timeout.Milliseconds(),
		"fee_threshold":   opts.FeeThreshold,
		"min_interval_ms": opts.MinInterval.Milliseconds(),
	}

	var tj *templateJSON

	if err := t.client.call(ctx, "waitnext", params, &tj); err != nil {
		return nil, err
	}

	if tj == nil {
		return nil, nil
	}

	return t.client.templateFromJSON(tj)
}

func (t *remoteTemplate) SubmitSolution(ctx context.Context, version uint32, timestamp uint32, nonce uint32, coinbaseTx []byte) (bool, error) {
	params := map[string]interface{}{
		"handle":    t.handle,
		"version":   version,
		"timestamp": timestamp,
		"nonce":     nonce,
		"coinbase":  hex.EncodeToString(coinbaseTx),
	}

	var accepted bool

	if err := t.client.call(ctx, "submitsolution", params, &accepted); err != nil {
		return false, err
	}

	return accepted, nil
}
