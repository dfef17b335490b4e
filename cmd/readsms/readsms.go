// SPDX-License-Identifier: MIT
//
// Copyright © 2020 Kent Gibson <warthog618@gmail.com>.

// readsms waits for SMSs to be received by the modem, and dumps them to stdout.
//
// Messages are deleted from the modem once read. The modem is restarted, with
// backoff, if it stops responding.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/jpillora/backoff"
	"github.com/warthog618/sim800/cmd/internal/cli"
	"github.com/warthog618/sim800/config"
	"github.com/warthog618/sim800/gsm"
	"go.uber.org/zap"
)

func main() {
	f := config.RegisterFlags(flag.CommandLine)
	period := flag.Duration("p", 10*time.Minute, "period to wait")
	flush := flag.Bool("flush", false, "delete all stored messages before waiting")
	flag.Parse()

	a, err := cli.New(f)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer a.Close()
	ctx, cancel := context.WithTimeout(context.Background(), *period)
	defer cancel()
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	b := &backoff.Backoff{
		Min: time.Second,
		Max: 5 * time.Minute,
	}
	if err = cli.Begin(ctx, a.Modem, b, a.Log); err != nil {
		a.Log.Error("begin", zap.Error(err))
		return
	}
	if *flush {
		if err = a.Modem.Flush(); err != nil {
			a.Log.Warn("flush", zap.Error(err))
		}
	}
	waitForSMSs(ctx, a, b)
}

// waitForSMSs prints any received SMSs until the context is done.
func waitForSMSs(ctx context.Context, a *cli.App, b *backoff.Backoff) {
	for {
		select {
		case <-ctx.Done():
			a.Log.Info("exiting...")
			return
		default:
		}
		if !a.Modem.IsConnected() {
			if err := cli.Begin(ctx, a.Modem, b, a.Log); err != nil {
				return
			}
		}
		if a.Modem.Available() == 0 {
			continue
		}
		msg, err := a.Modem.ReadOldestSMS()
		switch err {
		case nil:
			fmt.Printf("%s: %s\n", msg.Sender, msg.Text)
		case gsm.ErrNoMessage:
		default:
			a.Log.Warn("read SMS, restarting modem", zap.Error(err))
			a.Stop()
		}
	}
}
