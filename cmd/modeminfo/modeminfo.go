// SPDX-License-Identifier: MIT
//
// Copyright © 2018 Kent Gibson <warthog618@gmail.com>.

// modeminfo collects and displays information related to the modem and its
// current configuration.
//
// This serves as an example of how interact with a modem, as well as
// providing information which may be useful for debugging.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/warthog618/sim800/cmd/internal/cli"
	"github.com/warthog618/sim800/config"
	"go.uber.org/zap"
)

var version = "undefined"

func main() {
	f := config.RegisterFlags(flag.CommandLine)
	vsn := flag.Bool("version", false, "report version and exit")
	dump := flag.Bool("dump-config", false, "print the effective config and exit")
	flag.Parse()
	if *vsn {
		fmt.Printf("%s %s\n", os.Args[0], version)
		os.Exit(0)
	}
	a, err := cli.New(f)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer a.Close()
	if *dump {
		b, err := a.Config.Marshal()
		if err != nil {
			a.Log.Error("marshal config", zap.Error(err))
			return
		}
		os.Stdout.Write(b)
		return
	}
	if err = a.Modem.Begin(); err != nil {
		a.Log.Error("begin", zap.Error(err))
		return
	}
	cmds := []string{
		"I",
		"+GCAP",
		"+CMEE=2",
		"+CGMI",
		"+CGMM",
		"+CGMR",
		"+CGSN",
		"+CSQ",
		"+CIMI",
		"+CREG?",
		"+CGATT?",
		"+CNUM",
		"+CPIN?",
		"+CEER",
		"+CSCA?",
		"+CSMS?",
		"+CPMS?",
		"+CCID",
		"+CNMI?",
		"+CMGF?",
		"+CSCS?",
		"+SAPBR=2,1",
		"+CBC",
	}
	for _, cmd := range cmds {
		info, err := a.Modem.Command(cmd, 0)
		fmt.Println("AT" + cmd)
		if err != nil {
			fmt.Printf(" %s\n", err)
			continue
		}
		for _, l := range info {
			fmt.Printf(" %s\n", l)
		}
	}
}
