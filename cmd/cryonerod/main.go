package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/jessevdk/go-flags"

	"github.com/cryonero/cryonerod/domain/chainstate"
	"github.com/cryonero/cryonerod/domain/cncrypto"
	"github.com/cryonero/cryonerod/domain/currency"
	"github.com/cryonero/cryonerod/infrastructure/db"
	"github.com/cryonero/cryonerod/infrastructure/logger"
)

var log = logger.RegisterSubSystem("MAIN")

type options struct {
	DataDir  string `long:"datadir" description:"Directory holding the blockchain database" default:"."`
	Testnet  bool   `long:"testnet" description:"Use the test network"`
	LogFile  string `long:"logfile" description:"Write logs to this file"`
	LogLevel string `long:"loglevel" description:"Log threshold: debug, info, warn, error" default:"info"`
	CheckDB  bool   `long:"checkdb" description:"Verify the output index invariants and exit"`
}

// unavailableRingVerifier guards operations this tool never performs;
// maintenance ops stay inside the checkpoint zone or read-only paths.
type unavailableRingVerifier struct{}

func (unavailableRingVerifier) CheckRingSignature(cncrypto.Hash, cncrypto.KeyImage, []cncrypto.PublicKey, []cncrypto.Signature) cncrypto.RingVerdict {
	panic("ring signature verification backend is not wired into this tool")
}

func realMain() error {
	var opts options
	if _, err := flags.Parse(&opts); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			return nil
		}
		return err
	}
	if err := logger.SetLogLevel(opts.LogLevel); err != nil {
		return err
	}
	if opts.LogFile != "" {
		if err := logger.InitLog(opts.LogFile); err != nil {
			return err
		}
	}
	defer logger.Close()

	cur, err := currency.New(opts.Testnet)
	if err != nil {
		return err
	}
	storeName := "blockchain"
	if opts.Testnet {
		storeName = "blockchain_testnet"
	}
	database, err := db.Open(filepath.Join(opts.DataDir, "cryonerod"), storeName)
	if err != nil {
		return err
	}
	defer database.Close()

	state, err := chainstate.New(database, cur, chainstate.Config{
		RingVerifier: unavailableRingVerifier{},
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := state.Commit(); err != nil {
			log.Errorf("final commit failed: %v", err)
		}
	}()

	if opts.CheckDB {
		if err := state.CheckOutputIndexes(); err != nil {
			return err
		}
		log.Infof("output index invariants hold")
		return nil
	}

	tip := state.Tip()
	log.Infof("tip height=%d bid=%s difficulty=%d generated_coins=%s",
		tip.Height, tip.Hash, tip.Difficulty,
		currency.FormatAmount(cur.NumberOfDecimalPlaces, tip.AlreadyGeneratedCoins))
	return nil
}

func main() {
	if err := realMain(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
