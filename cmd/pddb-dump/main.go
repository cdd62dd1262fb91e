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

// Command pddb-dump mounts a basis and lists the keys of one of its
// dictionaries in collated order, reporting size, allocation class and
// dirty state per key. It is an inspection tool only: it never repairs
// a corrupted basis, mirroring flydb-dump's read-only posture.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/firefly-oss/pddb/internal/config"
	"github.com/firefly-oss/pddb/internal/dictcache"
	"github.com/firefly-oss/pddb/internal/engine"
	"github.com/firefly-oss/pddb/internal/keyorder"
	"github.com/firefly-oss/pddb/internal/pagecipher"
	"github.com/firefly-oss/pddb/internal/storage"
	"github.com/firefly-oss/pddb/pkg/cli"
)

func main() {
	dictName := flag.String("dict", "default", "dictionary name to dump")
	fixture := flag.Bool("fixture", false, "populate an ephemeral in-memory fixture instead of reading a real basis")
	order := flag.String("order", "locale", "key ordering: binary, ci (case-insensitive), or locale")
	locale := flag.String("locale", "en-US", "locale tag used when -order=locale")
	format := flag.String("format", "table", "output format: table, json, or plain")
	flag.Parse()

	if !*fixture {
		cli.NewCLIError("pddb-dump only supports -fixture in this build").
			WithSuggestion("pass -fixture to explore the dictionary cache against an in-memory basis").
			Exit()
		return
	}

	bs, dc, err := buildFixture(*dictName)
	if err != nil {
		cli.PrintError("failed to build fixture basis: %v", err)
		os.Exit(1)
	}

	names := make(map[string]struct{})
	if err := bs.List(*dictName, names); err != nil {
		cli.ErrUnknownDictionary(*dictName).Exit()
		return
	}

	sorted := keyorder.SortedNames(names, parseOrder(*order), *locale)

	table := cli.NewTable("KEY", "CLASS", "LEN", "RESERVED", "STATE")
	table.SetFormat(cli.ParseOutputFormat(*format))
	for _, name := range sorted {
		kce, ok := dc.Get(name)
		if !ok {
			table.AddRow(name, "?", "?", "?", "not cached")
			continue
		}
		class := "large"
		if kce.Data != nil {
			class = "small"
		}
		state := "clean"
		switch {
		case !kce.Flags.Valid:
			state = "tombstone"
		case kce.Flags.Unresolved:
			state = "unresolved"
		case !kce.Clean:
			state = "dirty"
		}
		table.AddRow(name, class,
			cli.FormatBytes(kce.Len),
			cli.FormatBytes(kce.Reserved),
			cli.KeyState(state))
	}
	table.Print()

	stats := bs.Stats()
	fmt.Println()
	cli.KeyValue("dictionaries", fmt.Sprintf("%d", stats.DictCount), 14)
	cli.KeyValue("keys", fmt.Sprintf("%d", stats.KeyCount), 14)
	cli.KeyValue("small keys", fmt.Sprintf("%d", stats.SmallKeys), 14)
	cli.KeyValue("large keys", fmt.Sprintf("%d", stats.LargeKeys), 14)
	cli.KeyValue("dirty dicts", fmt.Sprintf("%d", stats.DirtyDicts), 14)
}

func parseOrder(s string) keyorder.Order {
	switch s {
	case "ci", "case-insensitive":
		return keyorder.CaseInsensitive
	case "binary":
		return keyorder.Binary
	case "locale":
		return keyorder.Locale
	default:
		cli.ErrInvalidValue("-order", s, "must be binary, ci, or locale").Exit()
		return keyorder.Locale
	}
}

// buildFixture mounts a small in-memory basis with a handful of keys,
// standing in for a real on-disk basis so the tool is runnable without
// a storage medium attached.
func buildFixture(dictName string) (*engine.Basis, *dictcache.DictCache, error) {
	st := storage.NewMemStorage()
	key, err := pagecipher.GenerateKey()
	if err != nil {
		return nil, nil, err
	}
	cipher, err := pagecipher.New(key)
	if err != nil {
		return nil, nil, err
	}
	aad, err := dictcache.GenerateAAD(16)
	if err != nil {
		return nil, nil, err
	}

	bs := engine.NewBasis(st, cipher, aad, config.DefaultConfig())
	dc := bs.Mount(dictName)

	fixtures := []struct {
		name string
		body []byte
	}{
		{"alpha", []byte("hello, pddb")},
		{"été", []byte("locale-sensitive name")},
		{"bulk", make([]byte, 9000)},
	}
	for _, f := range fixtures {
		if err := bs.Put(dictName, f.name, f.body, 0, 0, false); err != nil {
			return nil, nil, err
		}
	}
	if err := bs.Sync(dictName); err != nil {
		return nil, nil, err
	}
	return bs, dc, nil
}
