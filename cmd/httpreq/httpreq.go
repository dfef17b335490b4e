// SPDX-License-Identifier: MIT
//
// Copyright © 2020 Kent Gibson <warthog618@gmail.com>.

// httpreq performs an HTTP request over the modem's GPRS bearer and dumps
// the response to stdout.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/warthog618/sim800/cmd/internal/cli"
	"github.com/warthog618/sim800/config"
	"github.com/warthog618/sim800/httpat"
	"go.uber.org/zap"
)

func main() {
	f := config.RegisterFlags(flag.CommandLine)
	url := flag.String("u", "http://example.com/", "the URL to request")
	method := flag.String("X", "GET", "request method, GET, HEAD or POST")
	data := flag.String("data", "", "file containing the POST body, - for stdin")
	ct := flag.String("content-type", "", "POST content type, detected from the body if empty")
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
	var res httpat.Result
	switch *method {
	case "GET":
		res, err = a.Modem.HTTPGet(*url)
	case "HEAD":
		res, err = a.Modem.HTTPHead(*url)
	case "POST":
		var body []byte
		if body, err = readBody(*data); err != nil {
			a.Log.Error("read body", zap.Error(err))
			return
		}
		if err = a.Modem.SetupGPRS(""); err != nil {
			a.Log.Error("setup GPRS", zap.Error(err))
			return
		}
		res, err = a.Modem.HTTPPost(*url, body, *ct)
	default:
		a.Log.Error("unsupported method", zap.String("method", *method))
		return
	}
	if err != nil {
		a.Log.Error("request", zap.Error(err))
		return
	}
	a.Log.Info("response",
		zap.String("ip", a.Modem.IPAddress()),
		zap.Int("status", res.Status),
		zap.Int("length", res.Length))
	os.Stdout.Write(res.Data)
}

func readBody(path string) ([]byte, error) {
	switch path {
	case "":
		return nil, nil
	case "-":
		return io.ReadAll(os.Stdin)
	default:
		return os.ReadFile(path)
	}
}
