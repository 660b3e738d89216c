// Copyright 2024-2026 Ulrich Kunitz. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command recabac losslessly recompresses H.264 video files by recoding the
// CABAC entropy layer of their slices.
//
// Usage: recabac [options] {compress|decompress|roundtrip|test} <input> [output]
//
// Without a hosted H.264 parser the compressor stores the input as literal
// runs; wiring a parser into newParser enables CABAC recoding.
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/recabac/recabac"
	"github.com/recabac/recabac/internal/xlog"
	"github.com/recabac/recabac/parser"
)

// usage prints the command synopsis.
func usage(w *os.File) {
	fmt.Fprintf(w,
		"Usage: %s [options] {compress|decompress|roundtrip|test} <input> [output]\n",
		os.Args[0])
	flag.CommandLine.SetOutput(w)
	flag.PrintDefaults()
}

// newParser returns the hosted H.264 parser. The passthrough parser reports
// no CABAC slices, which keeps every command lossless on arbitrary input; a
// production build would return an ffmpeg-backed implementation of
// parser.Parser here.
func newParser() parser.Parser {
	return parser.Passthrough{}
}

func main() {
	os.Exit(run())
}

func run() int {
	verbose := flag.Bool("v", false, "verbose diagnostics on stderr")
	quiet := flag.Bool("q", false, "suppress result output")
	flag.Usage = func() { usage(os.Stderr) }
	flag.Parse()

	args := flag.Args()
	if len(args) < 2 || len(args) > 3 {
		usage(os.Stderr)
		return 1
	}
	command, input := args[0], args[1]

	var logger xlog.Logger
	if *verbose {
		logger = log.New(os.Stderr, "recabac: ", 0)
	}

	out := os.Stdout
	if len(args) == 3 {
		f, err := os.Create(args[2])
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		defer f.Close()
		out = f
	}

	if command == "test" {
		if err := selfTest(logger, *quiet); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		return 0
	}

	data, err := os.ReadFile(input)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	switch command {
	case "compress":
		c := &recabac.Compressor{Parser: newParser(), Logger: logger}
		err = c.Compress(out, data)
	case "decompress":
		d := &recabac.Decompressor{Parser: newParser(), Logger: logger}
		err = d.Decompress(out, data)
	case "roundtrip":
		var w *os.File
		if len(args) == 3 {
			w = out
		}
		var stats *recabac.RoundtripStats
		stats, err = recabac.Roundtrip(wOrNil(w), data, newParser(),
			logger)
		if err == nil && !*quiet {
			fmt.Println("Compress-decompress roundtrip succeeded:")
			fmt.Printf(" compression ratio: %.2f%%\n",
				stats.Ratio()*100)
			fmt.Printf(" envelope overhead: %.2f%%\n",
				stats.Overhead()*100)
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", command)
		usage(os.Stderr)
		return 1
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

// wOrNil converts a possibly nil *os.File into the io.Writer the roundtrip
// expects; a typed nil must not masquerade as a non-nil interface.
func wOrNil(f *os.File) io.Writer {
	if f == nil {
		return nil
	}
	return f
}
