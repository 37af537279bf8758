// manage is the operational CLI for the predictor database: model swaps,
// trade voiding, experiment lifecycle, and learning-state rebuilds. It
// operates on the same SQLite file as the bot; run it while the bot is
// stopped or accept that the bot picks the changes up on its next cycle.
//
// Usage:
//
//	manage [-config path] model_swap -old MODEL -new MODEL -reason TEXT
//	manage [-config path] void_trade -record ID -reason TEXT
//	manage [-config path] start_experiment -model MODEL -desc TEXT [-learning=false]
//	manage [-config path] end_experiment [-run ID]
//	manage [-config path] recalculate_learning
package main

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"polymarket-predictor/internal/config"
	"polymarket-predictor/internal/learning"
	"polymarket-predictor/internal/store"
	"polymarket-predictor/pkg/types"
)

func main() {
	cfgPath := flag.String("config", "configs/config.yaml", "config file path")
	flag.Parse()

	if flag.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: manage [-config path] <model_swap|void_trade|start_experiment|end_experiment|recalculate_learning> [flags]")
		os.Exit(2)
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fatal("load config", err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	st, err := store.Open(cfg.Store.Path, logger)
	if err != nil {
		fatal("open store", err)
	}
	defer st.Close()

	svc, err := learning.NewService(st, logger)
	if err != nil {
		fatal("load learning state", err)
	}

	cmd, args := flag.Arg(0), flag.Args()[1:]
	switch cmd {
	case "model_swap":
		runModelSwap(svc, args)
	case "void_trade":
		runVoidTrade(st, svc, args)
	case "start_experiment":
		runStartExperiment(st, args)
	case "end_experiment":
		runEndExperiment(st, args)
	case "recalculate_learning":
		if err := svc.Rebuild(); err != nil {
			fatal("recalculate learning", err)
		}
		fmt.Println("learning state rebuilt from resolved history")
	default:
		fatal("unknown command", fmt.Errorf("%q", cmd))
	}
}

func runModelSwap(svc *learning.Service, args []string) {
	fs := flag.NewFlagSet("model_swap", flag.ExitOnError)
	oldModel := fs.String("old", "", "model being retired")
	newModel := fs.String("new", "", "model taking over")
	reason := fs.String("reason", "", "why the swap is happening")
	fs.Parse(args)
	if *oldModel == "" || *newModel == "" || *reason == "" {
		fatal("model_swap", errors.New("-old, -new, and -reason are required"))
	}

	run, err := svc.HandleModelSwap(*oldModel, *newModel, *reason)
	if err != nil {
		fatal("model swap", err)
	}
	fmt.Printf("swap recorded: %s -> %s, new run %s\n", *oldModel, *newModel, run.RunID)
}

func runVoidTrade(st *store.Store, svc *learning.Service, args []string) {
	fs := flag.NewFlagSet("void_trade", flag.ExitOnError)
	recordID := fs.String("record", "", "record ID to void")
	reason := fs.String("reason", "", "why the trade is being voided")
	fs.Parse(args)
	if *recordID == "" || *reason == "" {
		fatal("void_trade", errors.New("-record and -reason are required"))
	}

	rec, err := svc.VoidTrade(*recordID, *reason)
	if err != nil {
		fatal("void trade", err)
	}
	if rec.Action != types.Skip {
		if err := reversePortfolio(st, rec); err != nil {
			fatal("reverse portfolio", err)
		}
	}
	fmt.Printf("record %s voided; learning state rebuilt\n", *recordID)
}

// reversePortfolio unwinds a voided trade's cash and position effects. An
// unresolved trade returns its stake and drops the open position; a
// resolved one backs its pnl out.
func reversePortfolio(st *store.Store, rec *types.TradeRecord) error {
	portfolio, err := st.LoadPortfolio()
	if err != nil {
		return err
	}

	if rec.ResolvedAt == nil {
		portfolio.CashBalance += rec.PositionSizeUSD
		kept := portfolio.OpenPositions[:0]
		for _, pos := range portfolio.OpenPositions {
			if pos.RecordID != rec.RecordID {
				kept = append(kept, pos)
			}
		}
		portfolio.OpenPositions = kept
	} else if rec.PnL != nil {
		portfolio.CashBalance -= *rec.PnL
		portfolio.TotalPnL -= *rec.PnL
	}

	portfolio.TotalEquity = portfolio.CashBalance + portfolio.OpenExposure()
	if portfolio.TotalEquity > portfolio.PeakEquity {
		portfolio.PeakEquity = portfolio.TotalEquity
	}
	return st.SavePortfolio(portfolio)
}

func runStartExperiment(st *store.Store, args []string) {
	fs := flag.NewFlagSet("start_experiment", flag.ExitOnError)
	model := fs.String("model", "", "model for the new run")
	desc := fs.String("desc", "", "run description")
	includeLearning := fs.Bool("learning", true, "include this run's trades in learning")
	fs.Parse(args)
	if *model == "" {
		fatal("start_experiment", errors.New("-model is required"))
	}

	run, err := st.StartRun(*model, *desc, nil, *includeLearning)
	if err != nil {
		fatal("start experiment", err)
	}
	fmt.Printf("run %s started (model %s, learning %v)\n", run.RunID, *model, *includeLearning)
}

func runEndExperiment(st *store.Store, args []string) {
	fs := flag.NewFlagSet("end_experiment", flag.ExitOnError)
	runID := fs.String("run", "", "run ID (default: current run)")
	fs.Parse(args)

	id := *runID
	if id == "" {
		run, err := st.CurrentRun()
		if err != nil {
			fatal("end experiment", err)
		}
		id = run.RunID
	}
	if err := st.EndRun(id); err != nil {
		fatal("end experiment", err)
	}

	run, err := st.GetRun(id)
	if err != nil {
		fatal("end experiment", err)
	}
	fmt.Printf("run %s ended: %d trades, pnl %.2f, avg brier %.4f\n",
		run.RunID, run.TotalTrades, run.TotalPnL, run.AvgBrier)
}

func fatal(what string, err error) {
	fmt.Fprintf(os.Stderr, "manage: %s: %v\n", what, err)
	os.Exit(1)
}
