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

/*
Package pagecipher provides authenticated encryption of a single virtual
page.

Plaintext framing is: [ journal counter (geometry.JournalWidth bytes,
big-endian, low 8 bytes significant) | geometry.VPageSize bytes of
page payload ]. The journal counter must monotonically increase across
successive writes to the same physical page; PageCipher owns incrementing
it on encrypt and surfacing it to the caller (embedded in the returned
plaintext) on decrypt.

The nonce is derived deterministically from the physical page identifier
and the current journal value so that no nonce is ever reused for a given
key: AEAD security depends on nonce uniqueness, not secrecy, and physical
page number + journal counter is already unique per (key, page) pair for
the lifetime of the basis.
*/
package pagecipher

import (
	"crypto/rand"
	"encoding/binary"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/firefly-oss/pddb/internal/errors"
	"github.com/firefly-oss/pddb/internal/geometry"
)

// PlaintextSize is the size, in bytes, of one page's plaintext including
// its leading journal counter.
const PlaintextSize = geometry.JournalWidth + geometry.VPageSize

// PageCipher performs AEAD encrypt/decrypt of virtual pages. It carries no
// per-call state; the same PageCipher may be shared across every
// dictionary in a basis. It is safe for concurrent reads, though the
// basis serializes all calls anyway.
type PageCipher struct {
	aead cipher
}

// cipher is the minimal AEAD surface PageCipher needs; satisfied by
// chacha20poly1305.AEAD (cipher.AEAD).
type cipher interface {
	Seal(dst, nonce, plaintext, additionalData []byte) []byte
	Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
	NonceSize() int
	Overhead() int
}

// New constructs a PageCipher from 256 bits of key material.
func New(key [chacha20poly1305.KeySize]byte) (*PageCipher, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, errors.NewIOError("failed to construct page AEAD").WithCause(err)
	}
	return &PageCipher{aead: aead}, nil
}

// GenerateKey returns fresh CSPRNG key material suitable for New.
func GenerateKey() ([chacha20poly1305.KeySize]byte, error) {
	var key [chacha20poly1305.KeySize]byte
	if _, err := rand.Read(key[:]); err != nil {
		return key, errors.NewIOError("failed to generate page cipher key").WithCause(err)
	}
	return key, nil
}

func journalOf(plaintext []byte) uint64 {
	return binary.BigEndian.Uint64(plaintext[geometry.JournalWidth-8 : geometry.JournalWidth])
}

func setJournal(plaintext []byte, journal uint64) {
	binary.BigEndian.PutUint64(plaintext[geometry.JournalWidth-8:geometry.JournalWidth], journal)
}

func nonceFor(pp geometry.PhysPage, journal uint64) []byte {
	nonce := make([]byte, chacha20poly1305.NonceSize)
	binary.BigEndian.PutUint64(nonce[0:8], uint64(pp))
	binary.BigEndian.PutUint32(nonce[8:12], uint32(journal))
	return nonce
}

// wireHeaderSize is the number of cleartext bytes prefixed onto a sealed
// box on disk so a reader can recover the journal counter (and thus the
// AEAD nonce) before attempting to open the box. Exposing the journal
// counter does not weaken the AEAD: it is not secret, only required to be
// unique per physical page.
const wireHeaderSize = 8

// Decrypt authenticates and decrypts the ciphertext stored at physical
// page pp, returning the plaintext (journal counter + payload, length
// PlaintextSize) on success. Returns (nil, false) on tag mismatch or a
// malformed ciphertext — both collapse to "unreadable page". No retries
// are attempted.
func (c *PageCipher) Decrypt(aad []byte, pp geometry.PhysPage, ciphertext []byte) ([]byte, bool) {
	if len(ciphertext) < wireHeaderSize+c.aead.Overhead() {
		return nil, false
	}
	journal := binary.BigEndian.Uint64(ciphertext[:wireHeaderSize])
	box := ciphertext[wireHeaderSize:]
	nonce := nonceFor(pp, journal)
	plaintext, err := c.aead.Open(nil, nonce, box, aad)
	if err != nil {
		return nil, false
	}
	return plaintext, true
}

// EncryptAndPatch increments the journal counter embedded in plaintext's
// first geometry.JournalWidth bytes, seals it, and returns the bytes that
// should be persisted at physical page pp.
func (c *PageCipher) EncryptAndPatch(aad []byte, plaintext []byte, pp geometry.PhysPage) []byte {
	journal := journalOf(plaintext) + 1
	setJournal(plaintext, journal)

	nonce := nonceFor(pp, journal)
	box := c.aead.Seal(nil, nonce, plaintext, aad)

	out := make([]byte, wireHeaderSize+len(box))
	binary.BigEndian.PutUint64(out[:wireHeaderSize], journal)
	copy(out[wireHeaderSize:], box)
	return out
}
