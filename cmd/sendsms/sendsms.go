// SPDX-License-Identifier: MIT
//
// Copyright © 2020 Kent Gibson <warthog618@gmail.com>.

// sendsms sends an SMS using the modem.
//
// This provides an example of using the SendSMS command, as well as a test
// that the library works with the modem.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/warthog618/sim800/cmd/internal/cli"
	"github.com/warthog618/sim800/config"
	"go.uber.org/zap"
)

func main() {
	f := config.RegisterFlags(flag.CommandLine)
	num := flag.String("n", "+12345", "number to send to, in international format")
	msg := flag.String("m", "Zoot Zoot", "the message to send")
	flag.Parse()

	a, err := cli.New(f)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer a.Close()
	if err = a.Modem.Begin(); err != nil {
		a.Log.Error("begin", zap.Error(err))
		return
	}
	mr, err := a.Modem.SendSMS(*num, *msg)
	if err != nil {
		a.Log.Error("send SMS", zap.Error(err))
		return
	}
	a.Log.Info("sent", zap.String("number", *num), zap.String("mr", mr))
}
