// Copyright 2014 The go-ethereum Authors
// This file is part of go-ethereum.
//
// go-ethereum is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// go-ethereum is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with go-ethereum. If not, see <http://www.gnu.org/licenses/>.

// fastsync is the command-line entrypoint for the fast-sync engine.
package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"
	"github.com/ethereum/go-ethereum/metrics/influxdb"
	colorable "github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"gopkg.in/urfave/cli.v1"

	"github.com/go-ethsync/fastsync/fastsync"
	"github.com/go-ethsync/fastsync/internal/fsconfig"
	"github.com/go-ethsync/fastsync/params"
)

const clientIdentifier = "fastsync"

var (
	gitCommit = ""
	gitDate   = ""

	dataDirFlag = cli.StringFlag{
		Name:  "datadir",
		Usage: "Data directory for the databases",
		Value: "./data",
	}
	configFileFlag = cli.StringFlag{
		Name:  "config",
		Usage: "TOML configuration file",
	}
	networkFlag = cli.StringFlag{
		Name:  "network",
		Usage: "Network to sync: mainnet, sepolia",
		Value: "mainnet",
	}
	verbosityFlag = cli.IntFlag{
		Name:  "verbosity",
		Usage: "Logging verbosity: 0=silent ... 5=debug",
		Value: 3,
	}

	metricsInfluxDBV2Flag = cli.BoolFlag{
		Name:  "metrics.influxdb",
		Usage: "Enable metrics export/push to an external InfluxDB v2 database",
	}
	metricsInfluxDBEndpointFlag = cli.StringFlag{
		Name:  "metrics.influxdb.endpoint",
		Usage: "InfluxDB API endpoint to report metrics to",
		Value: "http://localhost:8086",
	}
	metricsInfluxDBTokenFlag = cli.StringFlag{
		Name:  "metrics.influxdb.token",
		Usage: "InfluxDB API token",
	}
	metricsInfluxDBBucketFlag = cli.StringFlag{
		Name:  "metrics.influxdb.bucket",
		Usage: "InfluxDB bucket name to push reported metrics to",
		Value: "fastsync",
	}
	metricsInfluxDBOrganizationFlag = cli.StringFlag{
		Name:  "metrics.influxdb.organization",
		Usage: "InfluxDB organization name",
	}
	metricsInfluxDBTagsFlag = cli.StringFlag{
		Name:  "metrics.influxdb.tags",
		Usage: "Comma-separated InfluxDB tags (key=value) attached to all measurements",
	}

	app = cli.NewApp()
)

func splitTagsFlag(tagsFlag string) map[string]string {
	tags := make(map[string]string)
	for _, t := range strings.Split(tagsFlag, ",") {
		if t == "" {
			continue
		}
		kv := strings.SplitN(t, "=", 2)
		if len(kv) != 2 || kv[0] == "" || kv[1] == "" {
			continue
		}
		tags[kv[0]] = kv[1]
	}
	return tags
}

func init() {
	app.Name = clientIdentifier
	app.Usage = "fast-sync a node to the chain head and exit"
	app.Version = params.VersionWithCommit(gitCommit, gitDate)
	app.Flags = []cli.Flag{
		dataDirFlag, configFileFlag, networkFlag, verbosityFlag,
		metricsInfluxDBV2Flag, metricsInfluxDBEndpointFlag, metricsInfluxDBTokenFlag,
		metricsInfluxDBBucketFlag, metricsInfluxDBOrganizationFlag, metricsInfluxDBTagsFlag,
	}
	app.Action = run
}

func main() {
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// useColor reports whether os.Stderr is an interactive terminal that
// supports ANSI color, including the Windows console by way of
// go-colorable's Cygwin-aware wrapper.
func useColor() bool {
	return (isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd())) && os.Getenv("TERM") != "dumb"
}

func run(ctx *cli.Context) error {
	color := useColor()
	var output io.Writer = os.Stderr
	if color {
		output = colorable.NewColorableStderr()
	}
	log.Root().SetHandler(log.LvlFilterHandler(log.Lvl(ctx.Int(verbosityFlag.Name)), log.StreamHandler(output, log.TerminalFormat(color))))

	cfg := fastsync.DefaultConfig()
	if path := ctx.String(configFileFlag.Name); path != "" {
		loaded, err := fsconfig.LoadFile(path, cfg)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		cfg = loaded
	}

	chainCfg, err := chainConfigForNetwork(ctx.String(networkFlag.Name))
	if err != nil {
		return err
	}

	log.Info("starting fast-sync", "network", ctx.String(networkFlag.Name), "datadir", ctx.String(dataDirFlag.Name))

	if ctx.Bool(metricsInfluxDBV2Flag.Name) {
		tags := splitTagsFlag(ctx.String(metricsInfluxDBTagsFlag.Name))
		go influxdb.InfluxDBV2WithTags(
			metrics.DefaultRegistry,
			10*time.Second,
			ctx.String(metricsInfluxDBEndpointFlag.Name),
			ctx.String(metricsInfluxDBTokenFlag.Name),
			ctx.String(metricsInfluxDBBucketFlag.Name),
			ctx.String(metricsInfluxDBOrganizationFlag.Name),
			"fastsync.",
			tags,
		)
		log.Info("fastsync: exporting metrics to InfluxDB", "endpoint", ctx.String(metricsInfluxDBEndpointFlag.Name))
	}

	engine, err := newEngine(ctx.String(dataDirFlag.Name), chainCfg, cfg)
	if err != nil {
		return err
	}
	return engine.Run()
}

func chainConfigForNetwork(name string) (*params.ChainConfig, error) {
	switch name {
	case "mainnet":
		return params.MainnetChainConfig, nil
	case "sepolia":
		return params.SepoliaChainConfig, nil
	default:
		return nil, fmt.Errorf("unknown network %q", name)
	}
}
