// Copyright 2024-2026 Ulrich Kunitz. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package xlog provides a minimal logging interface whose nil value
// disables output. The log.Logger type of the standard library satisfies
// the interface.
package xlog

import "fmt"

// Logger is the interface the package requires. A nil Logger discards all
// output without formatting cost.
type Logger interface {
	Output(calldepth int, s string) error
}

// Print outputs the arguments using the logger. Nothing is printed if l is
// nil.
func Print(l Logger, v ...interface{}) {
	if l != nil {
		l.Output(2, fmt.Sprint(v...))
	}
}

// Printf formats and outputs the arguments using the logger. Nothing is
// printed if l is nil.
func Printf(l Logger, format string, v ...interface{}) {
	if l != nil {
		l.Output(2, fmt.Sprintf(format, v...))
	}
}

// Println outputs the arguments followed by a newline. Nothing is printed
// if l is nil.
func Println(l Logger, v ...interface{}) {
	if l != nil {
		l.Output(2, fmt.Sprintln(v...))
	}
}
