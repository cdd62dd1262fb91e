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

// SmallData is the in-RAM body cache for a small-pool key: present
// only for small keys, absent for large ones.
type SmallData struct {
	Clean bool
	Bytes []byte
}

// KeyCacheEntry mirrors a KeyDescriptor plus bookkeeping only
// meaningful in RAM.
type KeyCacheEntry struct {
	Start           uint64
	Len             uint64
	Reserved        uint64
	Flags           KeyFlags
	Age             uint32
	DescriptorIndex uint32
	Clean           bool
	Data            *SmallData
}
