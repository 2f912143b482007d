// Copyright 2019 ezflash. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package jlink

func leToHU16(buffer []byte) uint16 {
	return uint16(buffer[0]) | uint16(buffer[1])<<8
}

func leToHU32(buffer []byte) uint32 {
	return uint32(buffer[0]) | uint32(buffer[1])<<8 | uint32(buffer[2])<<16 | uint32(buffer[3])<<24
}

func appendLEU32(buffer []byte, value uint32) []byte {
	return append(buffer, byte(value), byte(value>>8), byte(value>>16), byte(value>>24))
}
