package main

import (
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"stratachain/config"
	"stratachain/core/state"
	"stratachain/observability/logging"
	"stratachain/storage"
	"stratachain/storage/trie"
)

const usage = `Usage: statectl [-config <path>] <command> [args]

Commands:
  root <version>             Print the state root recorded for a version
  account <version> <addr>   Print the staked account at a version as JSON
  stale <version>            List node keys retired when a version was committed
`

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("STRATA_ENV"))
	logger := logging.Setup("statectl", env)

	args := flag.Args()
	if len(args) < 2 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Error("Failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	db, err := storage.Open(cfg)
	if err != nil {
		logger.Error("Failed to open database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	version, err := strconv.ParseUint(args[1], 10, 64)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid version %q: %v\n", args[1], err)
		os.Exit(2)
	}

	switch args[0] {
	case "root":
		err = printRoot(db, version)
	case "account":
		if len(args) != 3 {
			flag.Usage()
			os.Exit(2)
		}
		err = printAccount(db, version, args[2])
	case "stale":
		err = printStale(db, version)
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		logger.Error("Command failed", slog.String("command", args[0]), slog.Any("error", err))
		os.Exit(1)
	}
}

func printRoot(db storage.Database, version uint64) error {
	root, err := state.RootAt(db, version)
	if err != nil {
		return err
	}
	fmt.Println(root.Hex())
	return nil
}

func printAccount(db storage.Database, version uint64, addrHex string) error {
	if !common.IsHexAddress(addrHex) {
		return fmt.Errorf("invalid address %q", addrHex)
	}
	getter := state.NewStakingGetter(trie.New(trie.NewStoreReader(db)), version)
	record, found, err := getter.Get(common.HexToAddress(addrHex))
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("no staked account for %s at version %d", addrHex, version)
	}
	out, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func printStale(db storage.Database, version uint64) error {
	keys, err := state.StaleIndexAt(db, version)
	if err != nil {
		return err
	}
	for _, key := range keys {
		fmt.Println(hex.EncodeToString(key.Bytes()))
	}
	return nil
}
