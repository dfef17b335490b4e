// SPDX-License-Identifier: MIT
//
// Copyright © 2020 Kent Gibson <warthog618@gmail.com>.

// Package log builds the zap loggers used by the sim800 commands.
package log

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New creates a logger.
//
// A debug logger is human readable and logs at debug level, otherwise the
// logger writes JSON at info level.
func New(debug bool) (*zap.Logger, error) {
	return Config(debug).Build()
}

// Config returns the configuration used by New.
func Config(debug bool) zap.Config {
	var config zap.Config
	var encoderConf zapcore.EncoderConfig
	if debug {
		config = zap.NewDevelopmentConfig()
		encoderConf = zap.NewDevelopmentEncoderConfig()
		encoderConf.EncodeTime = zapcore.ISO8601TimeEncoder
	} else {
		config = zap.NewProductionConfig()
		encoderConf = zap.NewProductionEncoderConfig()
		encoderConf.EncodeTime = zapcore.EpochMillisTimeEncoder
	}
	config.EncoderConfig = encoderConf
	return config
}

// Must is New for main packages, which have nowhere to log an error.
func Must(debug bool) *zap.Logger {
	l, err := New(debug)
	if err != nil {
		panic(err)
	}
	return l
}
