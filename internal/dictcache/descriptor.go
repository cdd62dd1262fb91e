/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package dictcache

import (
	"encoding/binary"

	"github.com/firefly-oss/pddb/internal/geometry"
)

// KeyFlags carries the two persisted bits of a key descriptor.
type KeyFlags struct {
	Valid      bool
	Unresolved bool
}

func (f KeyFlags) encode() byte {
	var b byte
	if f.Valid {
		b |= 0x01
	}
	if f.Unresolved {
		b |= 0x02
	}
	return b
}

func decodeKeyFlags(b byte) KeyFlags {
	return KeyFlags{Valid: b&0x01 != 0, Unresolved: b&0x02 != 0}
}

// KeyDescriptor is the on-disk record for one descriptor slot:
// start/len/reserved, flags, age, and a fixed-width name. It marshals
// to exactly geometry.DKStride bytes.
type KeyDescriptor struct {
	Start    uint64
	Len      uint64
	Reserved uint64
	Flags    KeyFlags
	Age      uint32
	Name     string
}

// Marshal encodes d into a geometry.DKStride-byte slot.
func (d KeyDescriptor) Marshal() []byte {
	buf := make([]byte, geometry.DKStride)
	buf[0] = d.Flags.encode()
	binary.BigEndian.PutUint32(buf[1:5], d.Age)
	binary.BigEndian.PutUint64(buf[5:13], d.Start)
	binary.BigEndian.PutUint64(buf[13:21], d.Len)
	binary.BigEndian.PutUint64(buf[21:29], d.Reserved)
	name := d.Name
	if len(name) > geometry.KeyNameLen {
		name = name[:geometry.KeyNameLen]
	}
	copy(buf[geometry.DKStride-geometry.KeyNameLen:], name)
	return buf
}

// UnmarshalKeyDescriptor decodes a geometry.DKStride-byte slot.
func UnmarshalKeyDescriptor(buf []byte) KeyDescriptor {
	var d KeyDescriptor
	d.Flags = decodeKeyFlags(buf[0])
	d.Age = binary.BigEndian.Uint32(buf[1:5])
	d.Start = binary.BigEndian.Uint64(buf[5:13])
	d.Len = binary.BigEndian.Uint64(buf[13:21])
	d.Reserved = binary.BigEndian.Uint64(buf[21:29])
	nameBytes := buf[geometry.DKStride-geometry.KeyNameLen:]
	end := indexZero(nameBytes)
	d.Name = string(nameBytes[:end])
	return d
}

// DictFlags carries the one persisted bit of a dictionary header.
type DictFlags struct {
	Valid bool
}

func (f DictFlags) encode() byte {
	if f.Valid {
		return 0x01
	}
	return 0
}

func decodeDictFlags(b byte) DictFlags {
	return DictFlags{Valid: b&0x01 != 0}
}

// Dictionary is the on-disk dictionary header. It
// occupies slot 0 of the dictionary's descriptor table and marshals to
// exactly geometry.DKStride bytes, the same stride as a KeyDescriptor.
type Dictionary struct {
	Flags        DictFlags
	Age          uint32
	NumKeys      uint32
	FreeKeyIndex uint32
	Name         string
}

// DefaultDictionary returns a freshly initialized header: valid, empty,
// with the first free descriptor slot at 1 (slot 0 is the header
// itself).
func DefaultDictionary(name string) Dictionary {
	return Dictionary{
		Flags:        DictFlags{Valid: true},
		Age:          0,
		NumKeys:      0,
		FreeKeyIndex: 1,
		Name:         name,
	}
}

// Marshal encodes the header into a geometry.DKStride-byte slot.
func (d Dictionary) Marshal() []byte {
	buf := make([]byte, geometry.DKStride)
	buf[0] = d.Flags.encode()
	binary.BigEndian.PutUint32(buf[1:5], d.Age)
	binary.BigEndian.PutUint32(buf[5:9], d.NumKeys)
	binary.BigEndian.PutUint32(buf[9:13], d.FreeKeyIndex)
	name := d.Name
	if len(name) > geometry.DictNameLen {
		name = name[:geometry.DictNameLen]
	}
	copy(buf[geometry.DKStride-geometry.DictNameLen:], name)
	return buf
}

// UnmarshalDictionary decodes a geometry.DKStride-byte slot.
func UnmarshalDictionary(buf []byte) Dictionary {
	var d Dictionary
	d.Flags = decodeDictFlags(buf[0])
	d.Age = binary.BigEndian.Uint32(buf[1:5])
	d.NumKeys = binary.BigEndian.Uint32(buf[5:9])
	d.FreeKeyIndex = binary.BigEndian.Uint32(buf[9:13])
	nameBytes := buf[geometry.DKStride-geometry.DictNameLen:]
	end := indexZero(nameBytes)
	d.Name = string(nameBytes[:end])
	return d
}

func indexZero(b []byte) int {
	for i, c := range b {
		if c == 0 {
			return i
		}
	}
	return len(b)
}
