// sv2tp is the Stratum v2 Template Provider daemon: it connects to a bitcoin
// node's Mining capability over local IPC and serves encrypted Template
// Distribution to mining peers.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bsv-blockchain/sv2tp/daemon"
	"github.com/bsv-blockchain/sv2tp/services/miningipc"
	"github.com/bsv-blockchain/sv2tp/settings"
	"github.com/bsv-blockchain/sv2tp/ulogger"
	"github.com/ordishs/gocore"
)

const progname = "sv2tp"

var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	gocore.SetInfo(progname, version, "")

	tSettings := settings.NewSettings()

	bind := flag.String("sv2bind", tSettings.Sv2.BindHost, "sv2 listener bind address")
	port := flag.Int("sv2port", tSettings.Sv2.BindPort, "sv2 listener port")
	interval := flag.Int("sv2interval", int(tSettings.Sv2.FeeCheckInterval/time.Second), "fee check interval in seconds")
	feeDelta := flag.Int64("sv2feedelta", tSettings.Sv2.FeeDelta, "minimum fee improvement in satoshis to push a new template")
	ipcConnect := flag.String("ipcconnect", tSettings.IPC.ConnectAddress, "node ipc endpoint (unix or unix:<path>)")
	dataDir := flag.String("datadir", tSettings.Sv2.DataDir, "data directory (authority key)")
	flag.Parse()

	tSettings.Sv2.BindHost = *bind
	tSettings.Sv2.BindPort = *port
	tSettings.Sv2.FeeCheckInterval = time.Duration(*interval) * time.Second
	tSettings.Sv2.FeeDelta = *feeDelta
	tSettings.Sv2.DataDir = *dataDir
	tSettings.IPC.ConnectAddress = *ipcConnect

	logger := ulogger.New(progname)

	mining, err := miningipc.Dial(logger.New("ipc"), tSettings.IPC.ConnectAddress)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", progname, err)
		return 1
	}

	d := daemon.New(logger, tSettings,
		daemon.WithMining(mining),
		daemon.WithIPCRunner(mining.Run),
	)

	ctx := context.Background()

	if err := d.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", progname, err)
		return 1
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Infof("received %s, shutting down", sig)

	if err := d.Stop(ctx); err != nil {
		logger.Errorf("shutdown: %v", err)
		return 1
	}

	return 0
}
