package main

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/ethereum/go-ethereum/ethdb"
	gethlog "github.com/ethereum/go-ethereum/log"
	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"

	"github.com/go-ethsync/fastsync/consensus"
	"github.com/go-ethsync/fastsync/fastsync"
	"github.com/go-ethsync/fastsync/fastsyncdb"
	"github.com/go-ethsync/fastsync/params"
)

// Engine ties together the durable store, peer registry, and Sync
// Coordinator into a runnable process. Connecting it to a live devp2p
// stack (handshake, wire framing, discovery) is the transport's
// responsibility; wireTransport.Deliver is the seam such a connection's
// read loop calls into.
type Engine struct {
	db          *fastsyncdb.Store
	peers       *fastsync.PeerSet
	coordinator *fastsync.Coordinator
	stateSync   *fastsync.StateScheduler
	finished    chan struct{}
}

func newEngine(datadir string, chainCfg *params.ChainConfig, cfg fastsync.Config) (*Engine, error) {
	kv, err := openDB(datadir)
	if err != nil {
		return nil, err
	}
	store := fastsyncdb.New(kv)
	peers := fastsync.NewPeerSet()
	engine := consensus.NewLightEthash()
	reader := &chainReader{cfg: chainCfg, store: store}
	validator := fastsync.NewValidator(engine, reader, store)

	transport := newWireTransport(peers, cfg.PeerResponseTimeout, cfg.RequestRateLimit)
	pivotSel := fastsync.NewPivotSelector(peers, transport, cfg.MinPeersToChoosePivotBlock, cfg.PivotBlockOffset, cfg.SyncRetryInterval)
	stateSync := fastsync.NewStateScheduler(kv, peers, transport.dispatchNodeData, cfg)

	finished := make(chan struct{})
	coordinator := fastsync.NewCoordinator(cfg, peers, store, transport, validator, pivotSel, stateSync, func() {
		close(finished)
	})

	return &Engine{db: store, peers: peers, coordinator: coordinator, stateSync: stateSync, finished: finished}, nil
}

// Run starts the state scheduler and coordinator and blocks until
// fast-sync finishes.
func (e *Engine) Run() error {
	go e.stateSync.Run()
	e.coordinator.Start()
	gethlog.Info("fastsync: coordinator started, waiting for peers")
	<-e.finished
	gethlog.Info("fastsync: finished")
	e.printSummary()
	return nil
}

// printSummary renders the final sync state as a table on stdout, the same
// kind of terse end-of-run report a long CLI job prints before exiting.
func (e *Engine) printSummary() {
	s := e.coordinator.FinalSummary()
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"metric", "value"})
	table.Append([]string{"best header", strconv.FormatUint(s.BestBlockHeaderNumber, 10)})
	table.Append([]string{"last full block", strconv.FormatUint(s.LastFullBlockNumber, 10)})
	table.Append([]string{"pivot block", strconv.FormatUint(s.PivotBlockNumber, 10)})
	table.Append([]string{"state nodes saved", strconv.FormatUint(s.DownloadedNodesCount, 10)})
	table.Append([]string{"state sync finished", finishedLabel(s.StateSyncFinished)})
	table.Render()
}

func finishedLabel(done bool) string {
	if done {
		return color.GreenString("true")
	}
	return color.RedString("false")
}

func openDB(datadir string) (ethdb.KeyValueStore, error) {
	return newLevelDB(filepath.Join(datadir, "fastsync"))
}
