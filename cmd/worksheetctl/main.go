// Command worksheetctl generates worksheets and browses their versions from a
// terminal.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"oa-worksheets/internal/client"
	"oa-worksheets/internal/config"
	"oa-worksheets/internal/dispatch"
	"oa-worksheets/internal/session"
	"oa-worksheets/internal/stream"
	"oa-worksheets/internal/versiontree"
	"oa-worksheets/pkg/logger"
)

func main() {
	var (
		configPath string
		prompt     string
		privacy    string
		continueID int64
		showID     int64
		gotoID     int64
	)
	flag.StringVar(&configPath, "config", "./configs/config.yaml", "path to the config file")
	flag.StringVar(&prompt, "prompt", "", "describe the data model to generate")
	flag.StringVar(&privacy, "privacy", "", "privacy of the new worksheet (default public)")
	flag.Int64Var(&continueID, "continue", 0, "continue the thread of this worksheet id")
	flag.Int64Var(&showID, "show", 0, "show a worksheet and its version tree")
	flag.Int64Var(&gotoID, "goto", 0, "with -show, switch to this version of the tree")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(2)
	}
	if err := logger.InitWithOutput(cfg.Log.Level, cfg.Log.Format, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	api := client.New(cfg.API)

	switch {
	case showID > 0:
		err = show(ctx, api, showID, gotoID)
	case prompt != "":
		var existing *int64
		if continueID > 0 {
			existing = &continueID
		}
		err = generate(ctx, api, cfg.API, prompt, privacy, existing)
	default:
		flag.Usage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func generate(ctx context.Context, api *client.Client, cfg config.APIConfig, prompt, privacy string, existing *int64) error {
	ctrl := session.New(api, stream.NewDecoder(cfg.Delimiter, cfg.StreamTimeout))
	out := newReasoningPrinter(os.Stdout)

	res, err := ctrl.Run(ctx, prompt, privacy, existing, session.Callbacks{
		OnStateChange: func(s session.State) {
			logger.Debugf("session state: %s", s)
		},
		OnUpdate: func(s dispatch.Snapshot) {
			out.Update(s.Reasoning)
		},
		OnKeepAlive: out.Tick,
	})
	out.Finish()
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return errors.New("canceled")
		}
		return err
	}

	if res.Outcome == session.OutcomeIncomplete {
		fmt.Fprintf(os.Stdout, "\nThe answer was incomplete. Run again with -continue %d to refine it.\n", res.VersionID)
		return nil
	}
	if res.FromStream {
		fmt.Fprintln(os.Stdout, "\nNote: the schema below was not saved with the worksheet; it is the last one seen while streaming.")
	}
	printVersion(os.Stdout, res.Version)
	return nil
}

func show(ctx context.Context, api *client.Client, id, gotoID int64) error {
	nav := versiontree.NewNavigator(api, nil)
	v, err := nav.Load(ctx, id)
	if err != nil {
		return err
	}
	if gotoID > 0 {
		if v, err = nav.Select(ctx, gotoID); err != nil {
			return err
		}
	}

	printVersion(os.Stdout, v)
	printTree(os.Stdout, nav.Entries())
	return nil
}
