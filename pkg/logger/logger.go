// Copyright 2025 Stacklok, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package logger provides the structured logging
// facade used across the authorization server. It wraps a zap.SugaredLogger
// singleton so call sites don't need to thread a logger through every
// constructor.
package logger

import (
	"sync/atomic"

	"go.uber.org/zap"
)

var singleton atomic.Pointer[zap.SugaredLogger]

func init() {
	l, err := zap.NewProduction()
	if err != nil {
		l = zap.NewNop()
	}
	singleton.Store(l.Sugar())
}

// SetLogger replaces the package singleton. Intended for use by
// cmd/seacatauthd at startup and by tests that need to capture output.
func SetLogger(l *zap.SugaredLogger) {
	singleton.Store(l)
}

func get() *zap.SugaredLogger { return singleton.Load() }

// Debug logs at debug level.
func Debug(args ...interface{}) { get().Debug(args...) }

// Debugf logs a formatted message at debug level.
func Debugf(template string, args ...interface{}) { get().Debugf(template, args...) }

// Debugw logs a message with structured key-value pairs at debug level.
func Debugw(msg string, kv ...interface{}) { get().Debugw(msg, kv...) }

// Info logs at info level.
func Info(args ...interface{}) { get().Info(args...) }

// Infof logs a formatted message at info level.
func Infof(template string, args ...interface{}) { get().Infof(template, args...) }

// Infow logs a message with structured key-value pairs at info level.
func Infow(msg string, kv ...interface{}) { get().Infow(msg, kv...) }

// Warn logs at warn level.
func Warn(args ...interface{}) { get().Warn(args...) }

// Warnf logs a formatted message at warn level.
func Warnf(template string, args ...interface{}) { get().Warnf(template, args...) }

// Warnw logs a message with structured key-value pairs at warn level.
func Warnw(msg string, kv ...interface{}) { get().Warnw(msg, kv...) }

// Error logs at error level.
func Error(args ...interface{}) { get().Error(args...) }

// Errorf logs a formatted message at error level.
func Errorf(template string, args ...interface{}) { get().Errorf(template, args...) }

// Errorw logs a message with structured key-value pairs at error level.
func Errorw(msg string, kv ...interface{}) { get().Errorw(msg, kv...) }
