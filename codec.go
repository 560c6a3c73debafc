// Copyright 2026 the bagstream authors. All Rights Reserved.
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

package bagstream

import (
	"bytes"

	jsoniter "github.com/json-iterator/go"
)

// Codec en/decodes values crossing the wire (log records, dead-letter
// envelopes, twin-store properties).
type Codec[T any] interface {
	Encode(*bytes.Buffer, T) error
	Decode([]byte) (T, error)
}

var defaultJson = jsoniter.ConfigCompatibleWithStandardLibrary

// JsonCodec is a generic JSON en/decoder backed by
// "github.com/json-iterator/go".ConfigCompatibleWithStandardLibrary.
type JsonCodec[T any] struct{}

func (JsonCodec[T]) Encode(b *bytes.Buffer, t T) error {
	stream := defaultJson.BorrowStream(b)
	defer defaultJson.ReturnStream(stream)
	stream.WriteVal(t)
	return stream.Flush()
}

func (JsonCodec[T]) Decode(b []byte) (T, error) {
	iter := defaultJson.BorrowIterator(b)
	defer defaultJson.ReturnIterator(iter)

	var t T
	iter.ReadVal(&t)
	return t, iter.Error
}

// EncodeJson is a convenience wrapper returning a fresh []byte.
func EncodeJson[T any](t T) ([]byte, error) {
	var c JsonCodec[T]
	buf := bytes.NewBuffer(nil)
	if err := c.Encode(buf, t); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeJson is a convenience wrapper around JsonCodec.Decode.
func DecodeJson[T any](b []byte) (T, error) {
	var c JsonCodec[T]
	return c.Decode(b)
}
