package main

import (
	"flag"
	"fmt"
	"os"
)

const version = "0.2.0"

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: strategylab-cli <command> [options]\n\n")
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  version     Print the CLI version\n")
		fmt.Fprintf(os.Stderr, "  strategies  List strategies registered on strategylab-server\n")
		fmt.Fprintf(os.Stderr, "  run         Run a backtest locally against the Parquet store\n")
		fmt.Fprintf(os.Stderr, "  submit      Submit a backtest to strategylab-server\n")
		fmt.Fprintf(os.Stderr, "  status      Show a run (or recent runs) on strategylab-server\n")
		fmt.Fprintf(os.Stderr, "  import      Save strategies from a YAML file into the sqlite store\n")
		fmt.Fprintf(os.Stderr, "\nRun 'strategylab-cli <command> -h' for command options.\n")
	}

	if len(os.Args) < 2 {
		flag.Usage()
		os.Exit(1)
	}

	args := os.Args[2:]
	var err error
	switch os.Args[1] {
	case "version":
		fmt.Printf("strategylab-cli %s\n", version)

	case "strategies":
		err = cmdStrategies(args)

	case "run":
		err = cmdRun(args)

	case "submit":
		err = cmdSubmit(args)

	case "status":
		err = cmdStatus(args)

	case "import":
		err = cmdImport(args)

	case "-h", "--help", "help":
		flag.Usage()

	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		flag.Usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
