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

package engine

import (
	"bytes"
	"testing"

	"github.com/firefly-oss/pddb/internal/config"
	"github.com/firefly-oss/pddb/internal/dictcache"
	"github.com/firefly-oss/pddb/internal/pagecipher"
	"github.com/firefly-oss/pddb/internal/storage"
)

func newTestBasis(t *testing.T) *Basis {
	t.Helper()
	key, err := pagecipher.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	cipher, err := pagecipher.New(key)
	if err != nil {
		t.Fatalf("pagecipher.New: %v", err)
	}
	aad, err := dictcache.GenerateAAD(16)
	if err != nil {
		t.Fatalf("GenerateAAD: %v", err)
	}
	return NewBasis(storage.NewMemStorage(), cipher, aad, config.DefaultConfig())
}

func TestPutGetRoundTripsThroughSync(t *testing.T) {
	bs := newTestBasis(t)
	bs.Mount("docs")

	if err := bs.Put("docs", "title", []byte("hello"), 0, 0, false); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := bs.Put("docs", "body", bytes.Repeat([]byte{0x7}, 9000), 0, 0, false); err != nil {
		t.Fatalf("Put large: %v", err)
	}
	if err := bs.Sync("docs"); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	got, ok, err := bs.Get("docs", "title")
	if err != nil || !ok {
		t.Fatalf("Get(title) = (%q, %v, %v)", got, ok, err)
	}
	if !bytes.Equal(got, []byte("hello")) {
		t.Errorf("Get(title) = %q, want %q", got, "hello")
	}

	gotBody, ok, err := bs.Get("docs", "body")
	if err != nil || !ok {
		t.Fatalf("Get(body) = (len=%d, %v, %v)", len(gotBody), ok, err)
	}
	if !bytes.Equal(gotBody, bytes.Repeat([]byte{0x7}, 9000)) {
		t.Error("large key body mismatch after Get")
	}
}

func TestDeleteThenGetReportsAbsent(t *testing.T) {
	bs := newTestBasis(t)
	bs.Mount("docs")
	if err := bs.Put("docs", "k", []byte("v"), 0, 0, false); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := bs.Delete("docs", "k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	_, ok, err := bs.Get("docs", "k")
	if err != nil {
		t.Fatalf("Get after delete: %v", err)
	}
	if ok {
		t.Error("expected Get to report absent after Delete")
	}
}

func TestStatsCountsKeysByClass(t *testing.T) {
	bs := newTestBasis(t)
	bs.Mount("docs")
	if err := bs.Put("docs", "small", []byte("v"), 0, 0, false); err != nil {
		t.Fatalf("Put small: %v", err)
	}
	if err := bs.Put("docs", "large", bytes.Repeat([]byte{1}, 9000), 0, 0, false); err != nil {
		t.Fatalf("Put large: %v", err)
	}

	stats := bs.Stats()
	if stats.KeyCount != 2 {
		t.Errorf("KeyCount = %d, want 2", stats.KeyCount)
	}
	if stats.SmallKeys != 1 || stats.LargeKeys != 1 {
		t.Errorf("SmallKeys=%d LargeKeys=%d, want 1/1", stats.SmallKeys, stats.LargeKeys)
	}
	if stats.DirtyDicts != 1 {
		t.Errorf("DirtyDicts = %d, want 1 before sync", stats.DirtyDicts)
	}

	if err := bs.Sync("docs"); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if s := bs.Stats(); s.DirtyDicts != 0 {
		t.Errorf("DirtyDicts = %d, want 0 after sync", s.DirtyDicts)
	}
}

func TestListIncludesTombstones(t *testing.T) {
	bs := newTestBasis(t)
	bs.Mount("docs")
	if err := bs.Put("docs", "k", []byte("v"), 0, 0, false); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := bs.Delete("docs", "k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	names := make(map[string]struct{})
	if err := bs.List("docs", names); err != nil {
		t.Fatalf("List: %v", err)
	}
	if _, ok := names["k"]; !ok {
		t.Error("expected key_list to include tombstoned names")
	}
}

func TestGetUnmountedDictionaryErrors(t *testing.T) {
	bs := newTestBasis(t)
	if _, _, err := bs.Get("missing", "k"); err == nil {
		t.Error("expected an error reading from an unmounted dictionary")
	}
}
