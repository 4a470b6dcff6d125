// Copyright 2025 Poiesic Systems
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


package vectorstore

import (
	"context"
	"log/slog"
	"strings"
	"unicode"
)

// DefaultPrefix is the canonical collection-name prefix for a source id.
const DefaultPrefix = "datasource_"

// alternatePrefixes are older naming conventions still present in live
// deployments. Tried for purely numeric ids only.
var alternatePrefixes = []string{"source_", "ds_"}

// metadataIDKeys are the metadata fields that may carry an embedded
// alternate identifier for a source, checked in order.
var metadataIDKeys = []string{"datasource_id", "alternate_id", "external_id", "uuid"}

// Resolver maps a possibly ambiguous source identifier to a concrete
// collection name. Callers pass identifiers in several shapes (raw numeric
// id, UUID, or an id minted for a linked entity); the resolver tries a
// deterministic sequence of candidate strategies until one matches a live
// collection:
//
//  1. The canonical derived name.
//  2. For purely numeric ids, the derived name under known alternate prefixes.
//  3. For UUID-shaped ids, the alternate-id mapping table, then re-derive.
//  4. The source's metadata record for an embedded alternate id, then re-derive.
//  5. A substring scan over all collection names (last resort).
//
// Resolution failure is reported as not-found, never as an error, so callers
// can decide whether an empty result set is acceptable.
type Resolver struct {
	store  Store
	lookup IdentityLookup
	logger *slog.Logger
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithResolverLogger sets a custom logger. Default is slog.Default().
func WithResolverLogger(logger *slog.Logger) ResolverOption {
	return func(r *Resolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewResolver creates a resolver over the given store. The lookup may be nil,
// in which case the mapping and metadata steps are skipped.
func NewResolver(store Store, lookup IdentityLookup, opts ...ResolverOption) (*Resolver, error) {
	if store == nil {
		return nil, ErrStoreRequired
	}
	r := &Resolver{
		store:  store,
		lookup: lookup,
		logger: slog.Default().With("component", "collection-resolver"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// DeriveName returns the canonical collection name for a source id.
func DeriveName(sourceID string) string {
	return DefaultPrefix + sourceID
}

// Resolve maps candidateID to an existing collection name. The boolean is
// false when no strategy matched. An error is returned only when the
// collection list itself cannot be fetched.
func (r *Resolver) Resolve(ctx context.Context, candidateID string) (string, bool, error) {
	candidateID = strings.TrimSpace(candidateID)
	if candidateID == "" {
		return "", false, nil
	}

	names, err := r.store.ListCollections(ctx)
	if err != nil {
		return "", false, err
	}
	live := make(map[string]bool, len(names))
	for _, n := range names {
		live[n] = true
	}

	// Step 1: canonical derived name.
	if name := DeriveName(candidateID); live[name] {
		return name, true, nil
	}

	// Step 2: alternate prefixes for purely numeric ids.
	if isNumeric(candidateID) {
		for _, prefix := range alternatePrefixes {
			if name := prefix + candidateID; live[name] {
				r.logger.Debug("resolved via alternate prefix", "candidate", candidateID, "collection", name)
				return name, true, nil
			}
		}
	}

	// Step 3: UUID-shaped ids go through the alternate-id mapping table.
	if r.lookup != nil && strings.Contains(candidateID, "-") {
		canonical, err := r.lookup.LookupAlternateID(ctx, candidateID)
		if err != nil {
			r.logger.Debug("alternate-id lookup failed", "candidate", candidateID, "err", err)
		} else if canonical != "" {
			if name := DeriveName(canonical); live[name] {
				r.logger.Debug("resolved via alternate-id mapping", "candidate", candidateID, "collection", name)
				return name, true, nil
			}
		}
	}

	// Step 4: embedded alternate id in the source's metadata record.
	if r.lookup != nil {
		meta, err := r.lookup.SourceMetadata(ctx, candidateID)
		if err != nil {
			r.logger.Debug("source metadata lookup failed", "candidate", candidateID, "err", err)
		} else {
			for _, key := range metadataIDKeys {
				alt, ok := meta[key]
				if !ok || alt == "" || alt == candidateID {
					continue
				}
				if name := DeriveName(alt); live[name] {
					r.logger.Debug("resolved via metadata field", "candidate", candidateID, "field", key, "collection", name)
					return name, true, nil
				}
			}
		}
	}

	// Step 5: substring scan, O(collections).
	for _, name := range names {
		if strings.Contains(name, candidateID) {
			r.logger.Debug("resolved via substring scan", "candidate", candidateID, "collection", name)
			return name, true, nil
		}
	}

	r.logger.Debug("collection not resolved", "candidate", candidateID)
	return "", false, nil
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
