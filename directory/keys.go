// Copyright 2026 The OpenTrusty Authors
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

package directory

import (
	"bytes"
	"encoding/binary"
)

// Key family tags. Each family occupies a distinct prefix byte so the
// keyspace stays a single ordered namespace per account while families
// never collide during a range scan.
const (
	familyPrincipal byte = 1
	familyNameToID  byte = 2
	familyEmailToID byte = 3
	familyMemberOf  byte = 4
	familyMembers   byte = 5
	familyUsedQuota byte = 6
)

func principalKey(id uint32) []byte {
	b := make([]byte, 5)
	b[0] = familyPrincipal
	binary.BigEndian.PutUint32(b[1:], id)
	return b
}

func nameKey(name string) []byte {
	b := make([]byte, 1+len(name))
	b[0] = familyNameToID
	copy(b[1:], name)
	return b
}

// nameKeyRangeAll returns the [begin, end) range covering every
// NameToId entry. The upper bound is the family prefix followed by ten
// 0xFF bytes: in practice no principal name both sorts after every
// shorter name and contains ten consecutive 0xFF bytes, so this is an
// adequate "rest of the family" sentinel without needing a true
// next-prefix computation.
func nameKeyRangeAll() (begin, end []byte) {
	begin = []byte{familyNameToID}
	end = append([]byte{familyNameToID}, bytes.Repeat([]byte{0xFF}, 10)...)
	return begin, end
}

func emailKey(email string) []byte {
	b := make([]byte, 1+len(email))
	b[0] = familyEmailToID
	copy(b[1:], email)
	return b
}

func memberOfKey(principal, target uint32) []byte {
	b := make([]byte, 9)
	b[0] = familyMemberOf
	binary.BigEndian.PutUint32(b[1:5], principal)
	binary.BigEndian.PutUint32(b[5:9], target)
	return b
}

// memberOfRange returns the [begin, end) range covering every forward
// edge owned by principal: appending two big-endian u32 ids after the
// family prefix means a single principal's edges sort contiguously.
func memberOfRange(principal uint32) (begin, end []byte) {
	begin = memberOfKey(principal, 0)
	end = memberOfKey(principal+1, 0)
	return begin, end
}

func membersKey(principal, member uint32) []byte {
	b := make([]byte, 9)
	b[0] = familyMembers
	binary.BigEndian.PutUint32(b[1:5], principal)
	binary.BigEndian.PutUint32(b[5:9], member)
	return b
}

func membersRange(principal uint32) (begin, end []byte) {
	begin = membersKey(principal, 0)
	end = membersKey(principal+1, 0)
	return begin, end
}

func usedQuotaKey(id uint32) []byte {
	b := make([]byte, 5)
	b[0] = familyUsedQuota
	binary.BigEndian.PutUint32(b[1:], id)
	return b
}

func decodeMemberOfKey(key []byte) (principal, target uint32) {
	return binary.BigEndian.Uint32(key[1:5]), binary.BigEndian.Uint32(key[5:9])
}

func decodeMembersKey(key []byte) (principal, member uint32) {
	return binary.BigEndian.Uint32(key[1:5]), binary.BigEndian.Uint32(key[5:9])
}

func decodeNameFromKey(key []byte) string {
	return string(key[1:])
}
