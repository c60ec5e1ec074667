// Package dedup merges raw paper records from many sources into a single set
// of unique works, keyed by a prioritized identity scheme (DOI, arXiv id,
// PubMed id, Semantic Scholar id, then normalized-title hash).
package dedup

import (
	"sort"
	"strings"
	"sync"

	"github.com/helixir/paper-aggregation-service/internal/domain"
)

// Engine accumulates unique papers across search rounds. It is safe for
// concurrent producers: merge operations are serialized so two concurrent
// "new record matches same key" events cannot both insert an entry.
//
// For a fixed source-priority list the merged content is independent of the
// order records arrive in: each unique work keeps its contributing raw
// records and recomputes the merged view from them in confidence order.
type Engine struct {
	mu       sync.Mutex
	index    map[domain.IdentityKey]*entry
	entries  []*entry
	priority map[domain.SourceType]int
}

// entry is one unique work plus the raw records that matched it.
type entry struct {
	firstSeen    int
	merged       *domain.Paper
	contributors []*domain.Paper
}

// NewEngine creates an engine with the given source confidence order.
// Earlier sources win conflicting non-empty fields. Sources missing from the
// list rank below every listed source.
func NewEngine(sourcePriority []domain.SourceType) *Engine {
	priority := make(map[domain.SourceType]int, len(sourcePriority))
	for i, s := range sourcePriority {
		if _, ok := priority[s]; !ok {
			priority[s] = i
		}
	}
	return &Engine{
		index:    make(map[domain.IdentityKey]*entry),
		priority: priority,
	}
}

// Add merges a batch of raw records into the unique set and returns how many
// of them were new works rather than duplicates of already-seen ones.
func (e *Engine) Add(records []*domain.Paper) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	added := 0
	for _, record := range records {
		if record == nil {
			continue
		}
		if e.addOne(record) {
			added++
		}
	}
	return added
}

// addOne inserts or merges a single record. Caller holds the lock.
func (e *Engine) addOne(record *domain.Paper) bool {
	keys := record.IdentityKeys()
	if len(keys) == 0 {
		// No identifier and no title. Nothing to key on; treat the
		// record as its own work so it is never dropped silently.
		ent := &entry{firstSeen: len(e.entries)}
		ent.contributors = []*domain.Paper{clonePaper(record)}
		ent.merged = e.recompute(ent)
		e.entries = append(e.entries, ent)
		return true
	}

	// A record can bridge entries that were distinct until now (e.g. one
	// seen by DOI, another by title). Collect every matched entry. A title
	// collision never overrides stronger identity: when both sides carry
	// the same class of external identifier with different values they are
	// distinct works no matter how similar the titles.
	var matched []*entry
	seen := map[*entry]bool{}
	for _, key := range keys {
		ent, ok := e.index[key]
		if !ok || seen[ent] {
			continue
		}
		if key.IsTitleKey() && identifiersConflict(record.Identifiers, ent.merged.Identifiers) {
			continue
		}
		matched = append(matched, ent)
		seen[ent] = true
	}

	var target *entry
	isNew := false
	switch len(matched) {
	case 0:
		target = &entry{firstSeen: len(e.entries)}
		e.entries = append(e.entries, target)
		isNew = true
	case 1:
		target = matched[0]
	default:
		// Coalesce all matched entries into the earliest-seen one.
		sort.Slice(matched, func(i, j int) bool {
			return matched[i].firstSeen < matched[j].firstSeen
		})
		target = matched[0]
		for _, other := range matched[1:] {
			target.contributors = append(target.contributors, other.contributors...)
			e.removeEntry(other)
		}
	}

	target.contributors = append(target.contributors, clonePaper(record))
	target.merged = e.recompute(target)

	// Register every key of every contributor, including keys the merge
	// just learned about. A title key already claimed by another entry is
	// left with its first owner so a later title-only record resolves the
	// same way regardless of arrival order.
	for _, key := range target.merged.IdentityKeys() {
		e.registerKey(key, target)
	}
	for _, key := range keys {
		e.registerKey(key, target)
	}

	return isNew
}

// registerKey points an identity key at an entry. Caller holds the lock.
func (e *Engine) registerKey(key domain.IdentityKey, target *entry) {
	if key.IsTitleKey() {
		if owner, taken := e.index[key]; taken && owner != target {
			return
		}
	}
	e.index[key] = target
}

// removeEntry drops an entry from the ordered list and its index mappings.
// Caller holds the lock.
func (e *Engine) removeEntry(victim *entry) {
	for i, ent := range e.entries {
		if ent == victim {
			e.entries = append(e.entries[:i], e.entries[i+1:]...)
			break
		}
	}
	for key, ent := range e.index {
		if ent == victim {
			delete(e.index, key)
		}
	}
	// Renumber so firstSeen stays the insertion rank.
	for i, ent := range e.entries {
		ent.firstSeen = i
	}
}

// recompute folds the contributors in confidence order into one merged paper.
// Caller holds the lock.
func (e *Engine) recompute(ent *entry) *domain.Paper {
	ordered := make([]*domain.Paper, len(ent.contributors))
	copy(ordered, ent.contributors)
	sort.SliceStable(ordered, func(i, j int) bool {
		ri, rj := e.rank(ordered[i].Source), e.rank(ordered[j].Source)
		if ri != rj {
			return ri < rj
		}
		return ordered[i].Source < ordered[j].Source
	})
	return mergeContributors(ordered)
}

// rank returns the confidence rank for a source; unknown sources rank last.
func (e *Engine) rank(s domain.SourceType) int {
	if r, ok := e.priority[s]; ok {
		return r
	}
	return len(e.priority)
}

// All returns the unique merged papers collected so far, in first-seen order.
// The returned papers are the engine's merged views; callers own them once
// the engine is discarded.
func (e *Engine) All() []*domain.Paper {
	e.mu.Lock()
	defer e.mu.Unlock()

	papers := make([]*domain.Paper, len(e.entries))
	for i, ent := range e.entries {
		papers[i] = ent.merged
	}
	return papers
}

// Count returns the number of unique works collected so far.
func (e *Engine) Count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.entries)
}

// identifiersConflict reports whether two identifier sets disagree on any
// class of external identifier both of them carry.
func identifiersConflict(a, b domain.Identifiers) bool {
	if x, y := domain.NormalizeDOI(a.DOI), domain.NormalizeDOI(b.DOI); x != "" && y != "" && x != y {
		return true
	}
	if x, y := domain.NormalizeArXivID(a.ArXivID), domain.NormalizeArXivID(b.ArXivID); x != "" && y != "" && x != y {
		return true
	}
	pairs := [][2]string{
		{a.PubMedID, b.PubMedID},
		{a.PMCID, b.PMCID},
		{a.SemanticScholarID, b.SemanticScholarID},
		{a.OpenAlexID, b.OpenAlexID},
	}
	for _, pair := range pairs {
		x, y := strings.TrimSpace(pair[0]), strings.TrimSpace(pair[1])
		if x != "" && y != "" && x != y {
			return true
		}
	}
	return false
}

// clonePaper deep-copies a record so later caller mutations cannot corrupt
// the engine's contributor history.
func clonePaper(p *domain.Paper) *domain.Paper {
	cp := *p
	cp.Authors = append([]domain.Author(nil), p.Authors...)
	cp.MergedFrom = append([]domain.SourceType(nil), p.MergedFrom...)
	if p.PublicationDate != nil {
		t := *p.PublicationDate
		cp.PublicationDate = &t
	}
	return &cp
}
