/*
 * MIT License
 *
 * Copyright (c) 2020 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 *
 */

package wire

import (
	"encoding/json"

	liberr "github.com/realm-sync/core/errors"
)

// Frame is the wire-level envelope every binary WebSocket frame carries:
// a JSON object holding the Kind and the JSON-encoded payload. The spec leaves
// the exact byte layout an implementation detail (§1 non-goals), so this
// picks the simplest framing that still gives each Kind a typed Go
// payload to decode into.
type Frame struct {
	Kind    Kind
	Payload json.RawMessage
}

// Encode marshals a typed message into a Frame ready to hand to a
// Connection's outbound writer.
func Encode(k Kind, v interface{}) ([]byte, liberr.Error) {
	p, err := json.Marshal(v)
	if err != nil {
		return nil, liberr.NewErrorTrace(int(ErrorMalformedFrame), getMessage(ErrorMalformedFrame), "", 0, err)
	}

	f := Frame{Kind: k, Payload: p}
	b, err := json.Marshal(f)
	if err != nil {
		return nil, liberr.NewErrorTrace(int(ErrorMalformedFrame), getMessage(ErrorMalformedFrame), "", 0, err)
	}

	return b, nil
}

// Decode splits a raw frame into its Kind and still-encoded payload;
// callers then decode the payload into the Go type matching Kind.
func Decode(raw []byte) (Frame, liberr.Error) {
	var f Frame

	if len(raw) == 0 {
		return f, liberr.NewErrorTrace(int(ErrorParamEmpty), getMessage(ErrorParamEmpty), "", 0, nil)
	}

	if err := json.Unmarshal(raw, &f); err != nil {
		return Frame{}, liberr.NewErrorTrace(int(ErrorMalformedFrame), getMessage(ErrorMalformedFrame), "", 0, err)
	}

	if f.Kind == KindUnknown {
		return Frame{}, liberr.NewErrorTrace(int(ErrorUnknownMessageKind), getMessage(ErrorUnknownMessageKind), "", 0, nil)
	}

	return f, nil
}

// DecodePayload unmarshals a Frame's payload into v; callers know the
// concrete type from f.Kind.
func DecodePayload(f Frame, v interface{}) liberr.Error {
	if err := json.Unmarshal(f.Payload, v); err != nil {
		return liberr.NewErrorTrace(int(ErrorMalformedFrame), getMessage(ErrorMalformedFrame), "", 0, err)
	}
	return nil
}
