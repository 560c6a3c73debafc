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

package eventlog

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// FingerprintIndex records dedup fingerprints with a TTL. Remember returns
// true when the fingerprint was newly recorded, false when it was already
// present inside its suppression window. Forget releases a fingerprint whose
// append never landed, so the caller's retry is not suppressed.
//
// The index must be shared across publisher processes for suppression to be
// global; RedisFingerprintIndex is the deployment implementation,
// MemoryFingerprintIndex serves tests and single-process development.
type FingerprintIndex interface {
	Remember(ctx context.Context, fingerprint uint64, ttl time.Duration) (bool, error)
	Forget(ctx context.Context, fingerprint uint64) error
}

type RedisFingerprintIndex struct {
	client *redis.Client
	prefix string
}

func NewRedisFingerprintIndex(client *redis.Client) *RedisFingerprintIndex {
	return &RedisFingerprintIndex{client: client, prefix: "bagstream:fp:"}
}

// Remember uses SET NX PX: one round trip, atomic, self-expiring.
func (r *RedisFingerprintIndex) Remember(ctx context.Context, fingerprint uint64, ttl time.Duration) (bool, error) {
	key := fmt.Sprintf("%s%016x", r.prefix, fingerprint)
	return r.client.SetNX(ctx, key, 1, ttl).Result()
}

func (r *RedisFingerprintIndex) Forget(ctx context.Context, fingerprint uint64) error {
	key := fmt.Sprintf("%s%016x", r.prefix, fingerprint)
	return r.client.Del(ctx, key).Err()
}

type MemoryFingerprintIndex struct {
	mu   sync.Mutex
	seen map[uint64]time.Time
	// clock is swappable for tests.
	clock func() time.Time
}

func NewMemoryFingerprintIndex() *MemoryFingerprintIndex {
	return &MemoryFingerprintIndex{
		seen:  make(map[uint64]time.Time),
		clock: time.Now,
	}
}

func (m *MemoryFingerprintIndex) Remember(_ context.Context, fingerprint uint64, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock()
	if expiry, ok := m.seen[fingerprint]; ok && now.Before(expiry) {
		return false, nil
	}
	m.seen[fingerprint] = now.Add(ttl)
	m.sweep(now)
	return true, nil
}

func (m *MemoryFingerprintIndex) Forget(_ context.Context, fingerprint uint64) error {
	m.mu.Lock()
	delete(m.seen, fingerprint)
	m.mu.Unlock()
	return nil
}

// sweep drops expired fingerprints opportunistically; the map otherwise only
// grows for the life of the process.
func (m *MemoryFingerprintIndex) sweep(now time.Time) {
	if len(m.seen) < 4096 {
		return
	}
	for fp, expiry := range m.seen {
		if now.After(expiry) {
			delete(m.seen, fp)
		}
	}
}
