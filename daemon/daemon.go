// Package daemon wires the template provider's long-lived components together and
// supervises their lifecycle: the connection manager's reactor, the template
// update loop, and (in production) the IPC event loop behind the Mining
// capability. Exactly these three long-lived threads exist per instance; the
// first error from any of them shuts the rest down.
package daemon

import (
	"context"
	"time"

	"github.com/bsv-blockchain/sv2tp/errors"
	"github.com/bsv-blockchain/sv2tp/pkg/sv2noise"
	"github.com/bsv-blockchain/sv2tp/services/connman"
	"github.com/bsv-blockchain/sv2tp/services/templateprovider"
	"github.com/bsv-blockchain/sv2tp/settings"
	"github.com/bsv-blockchain/sv2tp/ulogger"
	"golang.org/x/sync/errgroup"
)

// certificateValidity is the window stamped onto the certificate issued at
// startup for the process's ephemeral static key.
const certificateValidity = 365 * 24 * time.Hour

// Option is a functional option for configuring the Daemon.
type Option func(*Daemon)

// WithMining provides the node's Mining capability. Required: the daemon refuses
// to start without it. The caller must keep the capability alive until Stop
// returns.
func WithMining(mining templateprovider.MiningI) Option {
	return func(d *Daemon) {
		d.mining = mining
	}
}

// WithIPCRunner provides the function that drives the IPC event loop behind the
// Mining capability. Optional; an in-process capability (tests) needs none.
func WithIPCRunner(run func(ctx context.Context) error) Option {
	return func(d *Daemon) {
		d.ipcRunner = run
	}
}

// Daemon is one template provider instance.
type Daemon struct {
	logger    ulogger.Logger
	settings  *settings.Settings
	mining    templateprovider.MiningI
	ipcRunner func(ctx context.Context) error

	connman  *connman.Sv2Connman
	provider *templateprovider.TemplateProvider

	authorityPubKey [32]byte
	staticPubKey    [32]byte

	cancel context.CancelFunc
	group  *errgroup.Group
}

// New constructs a Daemon.
func New(logger ulogger.Logger, tSettings *settings.Settings, opts ...Option) *Daemon {
	d := &Daemon{
		logger:   logger,
		settings: tSettings,
	}

	for _, o := range opts {
		o(d)
	}

	return d
}

// Connman exposes the connection manager, for tests needing the bound address.
func (d *Daemon) Connman() *connman.Sv2Connman {
	return d.connman
}

// AuthorityPubKey returns the x-only authority key peers must be configured with
// out of band; only valid after Start.
func (d *Daemon) AuthorityPubKey() [32]byte {
	return d.authorityPubKey
}

// StaticPubKey returns the process's ephemeral static Noise public key, the
// responder identity initiators must pin (Noise-XK); only valid after Start.
func (d *Daemon) StaticPubKey() [32]byte {
	return d.staticPubKey
}

// Start loads the authority key, generates the process's static Noise identity,
// issues its certificate, and launches the three supervised threads. Any failure
// before the threads launch aborts startup.
func (d *Daemon) Start(ctx context.Context) error {
	if d.mining == nil {
		return errors.NewConfigurationError("no Mining capability configured")
	}

	authority, err := sv2noise.LoadOrCreateAuthorityKeypair(d.settings.Sv2.DataDir)
	if err != nil {
		return err
	}

	static, err := sv2noise.NewStaticKeypair()
	if err != nil {
		return err
	}

	now := time.Now()

	cert, err := sv2noise.IssueCertificate(authority, static.Public,
		uint32(now.Add(-time.Hour).Unix()), uint32(now.Add(certificateValidity).Unix()))
	if err != nil {
		return err
	}

	d.authorityPubKey = authority.XOnlyPubKey()
	d.staticPubKey = static.Public
	d.logger.Infof("authority pubkey %x, static pubkey %x", d.authorityPubKey, d.staticPubKey)

	d.provider = templateprovider.New(d.logger.New("sv2tp"), d.settings, d.mining)
	d.connman = connman.New(d.logger.New("sv2cm"), d.settings, static, cert, d.provider)
	d.provider.SetSender(d.connman)

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	if err := d.connman.Start(runCtx); err != nil {
		cancel()
		return err
	}

	g, gCtx := errgroup.WithContext(runCtx)
	d.group = g

	g.Go(func() error {
		<-gCtx.Done()
		return d.connman.Stop(context.Background())
	})

	g.Go(func() error {
		return d.provider.RunUpdateLoop(gCtx)
	})

	if d.ipcRunner != nil {
		g.Go(func() error {
			return d.ipcRunner(gCtx)
		})
	}

	return nil
}

// Stop cancels every thread and waits for them to return.
func (d *Daemon) Stop(_ context.Context) error {
	if d.cancel != nil {
		d.cancel()
	}

	if d.connman != nil {
		d.connman.Interrupt()
	}

	var err error
	if d.group != nil {
		err = d.group.Wait()
	}

	if d.provider != nil {
		d.provider.WaitBlockSaves()
	}

	return err
}
