// Copyright 2018 The klaytn Authors
// This file is part of the go-klaytn library.
//
// The go-klaytn library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-klaytn library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-klaytn library. If not, see <http://www.gnu.org/licenses/>.

// Package log provides per-module structured loggers backed by zap, in the
// key-value calling convention this codebase's packages already use
// (logger.Info("msg", "key", value, ...)).
package log

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Module identifies the package a logger line originates from. Every
// package-level logger is created with one of these so log lines can be
// filtered by subsystem.
type Module string

const (
	Common     Module = "common"
	Crypto     Module = "crypto"
	Types      Module = "types"
	Blockchain Module = "blockchain"
	Work       Module = "work"
	P2P        Module = "p2p"
	Node       Module = "node"
	RPC        Module = "rpc"
	CMDChaind  Module = "cmd.chaind"
	CMDChainCLI Module = "cmd.chaincli"
)

var (
	mu      sync.Mutex
	base    *zap.Logger
	verbose zapcore.Level = zapcore.InfoLevel
)

func init() {
	base = newBase(verbose)
}

func newBase(level zapcore.Level) *zap.Logger {
	cfg := zap.NewDevelopmentEncoderConfig()
	cfg.TimeKey = "t"
	cfg.LevelKey = "lvl"
	cfg.NameKey = "module"
	encoder := zapcore.NewConsoleEncoder(cfg)
	core := zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), level)
	return zap.New(core)
}

// SetVerbosity changes the minimum level every module logger emits at. It
// takes effect for loggers created after the call; existing *Logger handles
// keep whatever level was active when they were built.
func SetVerbosity(level zapcore.Level) {
	mu.Lock()
	defer mu.Unlock()
	verbose = level
	base = newBase(verbose)
}

// Logger is a leveled, key-value structured logger scoped to one module.
type Logger struct {
	s *zap.SugaredLogger
}

// NewModuleLogger returns a logger tagged with the given module name, the
// way this codebase's packages declare `var logger = log.NewModuleLogger(...)`
// at package scope.
func NewModuleLogger(m Module) *Logger {
	mu.Lock()
	b := base
	mu.Unlock()
	return &Logger{s: b.Named(string(m)).Sugar()}
}

func (l *Logger) Trace(msg string, keyvals ...interface{}) { l.s.Debugw(msg, keyvals...) }
func (l *Logger) Debug(msg string, keyvals ...interface{}) { l.s.Debugw(msg, keyvals...) }
func (l *Logger) Info(msg string, keyvals ...interface{})  { l.s.Infow(msg, keyvals...) }
func (l *Logger) Warn(msg string, keyvals ...interface{})  { l.s.Warnw(msg, keyvals...) }
func (l *Logger) Error(msg string, keyvals ...interface{}) { l.s.Errorw(msg, keyvals...) }

// Crit logs at error level and terminates the process. Reserved for
// configuration errors that spec.md §7 calls fatal at startup (e.g. a miner
// address configured without a private key).
func (l *Logger) Crit(msg string, keyvals ...interface{}) {
	l.s.Errorw(msg, keyvals...)
	os.Exit(1)
}
