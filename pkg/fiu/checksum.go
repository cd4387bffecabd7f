// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package fiu

import "strconv"

// CalculateChecksum returns the sum of the bytes in data modulo 256
func CalculateChecksum(data []byte) uint8 {
	var sum uint8
	for _, b := range data {
		sum += b
	}
	return sum
}

// Checksum renders the checksum of data the way modules expect it on
// outbound frames: lower-case hex with no leading zero, so sums below 0x10
// are a single digit.
func Checksum(data []byte) string {
	return strconv.FormatUint(uint64(CalculateChecksum(data)), 16)
}

// responseChecksum renders the fixed-width checksum modules append to their
// replies.
func responseChecksum(data []byte) string {
	const hex = "0123456789abcdef"
	sum := CalculateChecksum(data)
	return string([]byte{hex[sum>>4], hex[sum&0x0F]})
}
