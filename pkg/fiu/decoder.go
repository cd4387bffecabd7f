// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package fiu

import (
	"bytes"
	"fmt"
)

// ResponseKind classifies a decoded module reply
type ResponseKind int

// Response kinds
const (
	ResponseEmpty               ResponseKind = iota // '0': ack, no data
	ResponsePayload                                 // '1': ack with data
	ResponseDeviceError                             // '2': module error message
	ResponseDeviceErrorWithData                     // '3': module error with data
)

var responseKindNames = map[ResponseKind]string{
	ResponseEmpty:               "ACK",
	ResponsePayload:             "ACK_DATA",
	ResponseDeviceError:         "ERROR",
	ResponseDeviceErrorWithData: "ERROR_DATA",
}

// String returns the kind name
func (k ResponseKind) String() string {
	if name, ok := responseKindNames[k]; ok {
		return name
	}
	return "UNKNOWN"
}

// Response is a decoded module reply
type Response struct {
	Kind ResponseKind
	Data string
}

// OK reports whether the module acknowledged the command
func (r *Response) OK() bool {
	return r.Kind == ResponseEmpty || r.Kind == ResponsePayload
}

// Err converts a device-reported error into an *Error, or returns nil for
// acknowledgements.
func (r *Response) Err() error {
	switch r.Kind {
	case ResponseDeviceError:
		msg := r.Data
		if msg == "" {
			msg = "no message"
		}
		return newError(CodeDeviceRejected, msg)
	case ResponseDeviceErrorWithData:
		return newError(CodeConflictingRequest, r.Data)
	default:
		return nil
	}
}

// Decode classifies a raw reply by its first byte and extracts the payload.
// Framing failures, including replies too short to carry the checksum and
// terminator, are returned as *Error with CodeMalformedResponse.
func Decode(raw []byte) (*Response, error) {
	if len(raw) == 0 {
		return nil, malformed(raw, "empty response")
	}

	switch raw[0] {
	case RespAck:
		return &Response{Kind: ResponseEmpty}, nil

	case RespAckData, RespErrorData:
		if len(raw) < minDataFrame {
			return nil, malformed(raw, fmt.Sprintf("data response too short (%d bytes)", len(raw)))
		}
		kind := ResponsePayload
		if raw[0] == RespErrorData {
			kind = ResponseDeviceErrorWithData
		}
		return &Response{Kind: kind, Data: string(raw[1 : len(raw)-3])}, nil

	case RespError:
		// A complete frame carries a checksum after the message; a truncated
		// one is reported with whatever text arrived.
		msg := raw[1:]
		if len(raw) >= minDataFrame && raw[len(raw)-1] == Terminator {
			msg = raw[1 : len(raw)-3]
		}
		return &Response{Kind: ResponseDeviceError, Data: string(bytes.TrimRight(msg, "\r\n"))}, nil

	default:
		return nil, malformed(raw, fmt.Sprintf("unexpected response code %q", raw[0]))
	}
}

func malformed(raw []byte, msg string) *Error {
	e := newError(CodeMalformedResponse, msg)
	e.Raw = append([]byte{}, raw...)
	return e
}

// EncodeResponse builds the wire frame a module sends for a reply of the
// given kind. Data is ignored for ResponseEmpty.
func EncodeResponse(kind ResponseKind, data string) []byte {
	var code byte
	switch kind {
	case ResponseEmpty:
		code, data = RespAck, ""
	case ResponsePayload:
		code = RespAckData
	case ResponseDeviceError:
		code = RespError
	case ResponseDeviceErrorWithData:
		code = RespErrorData
	default:
		code = '?'
	}

	body := make([]byte, 0, len(data)+1)
	body = append(body, code)
	body = append(body, data...)

	frame := make([]byte, 0, len(body)+3)
	frame = append(frame, body...)
	frame = append(frame, responseChecksum(body)...)
	frame = append(frame, Terminator)
	return frame
}
