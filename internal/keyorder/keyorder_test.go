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

package keyorder

import (
	"reflect"
	"testing"
)

func TestBinaryOrderIsBytewise(t *testing.T) {
	names := []string{"banana", "Apple", "cherry"}
	Sort(names, NewComparer(Binary, ""))
	want := []string{"Apple", "banana", "cherry"} // 'A' (0x41) < 'b' (0x62)
	if !reflect.DeepEqual(names, want) {
		t.Errorf("got %v, want %v", names, want)
	}
}

func TestCaseInsensitiveOrder(t *testing.T) {
	names := []string{"banana", "Apple", "cherry"}
	Sort(names, NewComparer(CaseInsensitive, ""))
	want := []string{"Apple", "banana", "cherry"}
	if !reflect.DeepEqual(names, want) {
		t.Errorf("got %v, want %v", names, want)
	}
}

func TestLocaleOrderFallsBackOnUnknownTag(t *testing.T) {
	cmp := NewComparer(Locale, "not-a-real-locale-tag")
	if cmp == nil {
		t.Fatal("expected a usable comparer even for an unrecognized locale")
	}
	if cmp.Compare("a", "b") >= 0 {
		t.Error("expected 'a' to sort before 'b' under fallback locale rules")
	}
}

func TestSortedNamesFromSet(t *testing.T) {
	set := map[string]struct{}{"zebra": {}, "apple": {}, "mango": {}}
	got := SortedNames(set, Binary, "")
	want := []string{"apple", "mango", "zebra"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}
