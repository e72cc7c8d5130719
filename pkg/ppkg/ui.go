// Copyright (C) 2024 Packsmith ApS.
//
// This library is free software; you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public
// License as published by the Free Software Foundation; version
// 2.1 only.
//
// This library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Lesser General Public License for more details.
//
// The license can be found in the file `LICENSE` in the top level
// directory of this repository.

package ppkg

import (
	"fmt"
	"os"
)

// UI allows callers of this package to interact with the user.
//
// User-facing problems (like a missing package) are reported through this
// interface; if an action wasn't successful the reporter returns
// ErrAlreadyReported, which tells the caller the operation failed but
// nothing more needs to be printed.
//
// Implementations must write to stderr (or elsewhere), never to stdout:
// when the process serves a line-oriented transport on stdout, stray text
// there corrupts the framing.
type UI interface {
	// ReportError signals an error to the user.
	// The format string is compatible with fmt.Printf.
	// Returns ErrAlreadyReported.
	ReportError(format string, a ...interface{}) error

	// ReportWarning signals a warning to the user.
	ReportWarning(format string, a ...interface{})

	// ReportInfo reports interesting information.
	ReportInfo(format string, a ...interface{})
}

// fmtUI implements a simple version of UI that prints to stderr using
// `fmt` primitives.
type fmtUI struct{}

func (ui fmtUI) ReportError(format string, a ...interface{}) error {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", a...)
	return ErrAlreadyReported
}

func (ui fmtUI) ReportWarning(format string, a ...interface{}) {
	fmt.Fprintf(os.Stderr, "Warning: "+format+"\n", a...)
}

func (ui fmtUI) ReportInfo(format string, a ...interface{}) {
	fmt.Fprintf(os.Stderr, "Info: "+format+"\n", a...)
}

// nullUI implements a UI that does nothing.
type nullUI struct{}

func (ui nullUI) ReportError(format string, a ...interface{}) error {
	return ErrAlreadyReported
}

func (ui nullUI) ReportWarning(format string, a ...interface{}) {
}

func (ui nullUI) ReportInfo(format string, a ...interface{}) {
}

var (
	// ErrAlreadyReported signals that an error has been reported and no
	// further action needs to be taken. In case the error gets printed
	// anyway, we have a sensible message instead of "already reported".
	ErrAlreadyReported = fmt.Errorf("package operations error")

	// FmtUI is a simple UI that reports to stderr.
	FmtUI UI = fmtUI{}

	// NullUI swallows all reports.
	NullUI UI = nullUI{}
)

// IsErrAlreadyReported returns whether 'e' is the ErrAlreadyReported error.
func IsErrAlreadyReported(e error) bool {
	return e == ErrAlreadyReported
}
