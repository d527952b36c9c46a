// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package xlog holds the small leveled-logger collaborator interface
// consumed by the codec, generalized from the subset of tdaq.MsgStream
// actually used by a DAQ server (Debugf/Infof/Warnf/Errorf).
package xlog // import "github.com/go-its/alpideraw/internal/xlog"

import (
	"fmt"
	"log"
)

// Logger is the minimal leveled-logging collaborator the codec needs.
// The codec never imports a dataflow framework directly; a host wires
// one of these in (or leaves the default no-op in place).
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// Nop is a Logger that discards everything.
var Nop Logger = nopLogger{}

type nopLogger struct{}

func (nopLogger) Debugf(string, ...interface{}) {}
func (nopLogger) Infof(string, ...interface{})  {}
func (nopLogger) Warnf(string, ...interface{})  {}
func (nopLogger) Errorf(string, ...interface{}) {}

// Std adapts the standard library *log.Logger to Logger, tagging
// every line with its level.
type Std struct {
	L *log.Logger
}

func (s Std) Debugf(format string, args ...interface{}) { s.L.Output(2, "DEBUG "+fmt.Sprintf(format, args...)) }
func (s Std) Infof(format string, args ...interface{})  { s.L.Output(2, "INFO  "+fmt.Sprintf(format, args...)) }
func (s Std) Warnf(format string, args ...interface{})  { s.L.Output(2, "WARN  "+fmt.Sprintf(format, args...)) }
func (s Std) Errorf(format string, args ...interface{}) { s.L.Output(2, "ERROR "+fmt.Sprintf(format, args...)) }

var _ Logger = Std{}
