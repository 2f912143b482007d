// Copyright 2019 ezflash. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package smartbond

import (
	"fmt"
)

// ErrorKind classifies device operation failures.
type ErrorKind int

const (
	// KindConnection reports a probe or device that stopped responding.
	KindConnection ErrorKind = iota
	// KindProtocol reports an unexpected register value or a malformed
	// identifier sequence.
	KindProtocol
	// KindUnsupported reports an operation the connected family does not
	// implement, e.g. OTP access on a part without an OTP controller.
	KindUnsupported
	// KindRange reports an image or header target address outside the
	// region the boot ROM can map.
	KindRange
	// KindVerify reports a CRC or content mismatch on read back.
	KindVerify
	// KindTimeout reports an expired bounded busy wait. Only families with
	// a defined timeout constant can produce it.
	KindTimeout
)

func (k ErrorKind) String() string {
	switch k {
	case KindConnection:
		return "connection error"
	case KindProtocol:
		return "protocol error"
	case KindUnsupported:
		return "unsupported operation"
	case KindRange:
		return "address range error"
	case KindVerify:
		return "verify error"
	case KindTimeout:
		return "timeout"
	default:
		return fmt.Sprintf("error kind %d", int(k))
	}
}

// DeviceError is the error type produced by the device drivers.
type DeviceError struct {
	Kind ErrorKind
	msg  string
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.msg)
}

func newDeviceError(kind ErrorKind, format string, args ...interface{}) error {
	return &DeviceError{Kind: kind, msg: fmt.Sprintf(format, args...)}
}

// IsKind reports whether err is a DeviceError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	devErr, ok := err.(*DeviceError)
	return ok && devErr.Kind == kind
}
