// Copyright 2019 ezflash. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package jlink

import (
	"fmt"
)

type ProbeErrorCode int

const (
	ErrorOK       ProbeErrorCode = 0
	ErrorTransfer                = -1
	ErrorStatus                  = -2
	ErrorNotFound                = -3
)

// ProbeError carries the probe level failure code alongside the message.
type ProbeError struct {
	errorString    string
	ProbeErrorCode ProbeErrorCode
}

func (e *ProbeError) Error() string {
	return e.errorString
}

func newProbeError(code ProbeErrorCode, format string, args ...interface{}) error {
	return &ProbeError{fmt.Sprintf(format, args...), code}
}
