// Package graph holds the dependency-graph repair algorithm and the
// read-only graph projections. Repair is pure: it computes a minimal batch
// of per-document updates and reports what it dropped, leaving all writes
// to the caller.
package graph

import (
	"fmt"
	"sort"

	"loreline/internal/domain"
)

// Update rewrites the dependency columns of a single document.
type Update struct {
	DocID      string   `json:"doc_id"`
	DependsOn  []string `json:"depends_on"`
	DependedBy []string `json:"depended_by"`
}

// RemovedRefs records which dangling forward references a document lost.
type RemovedRefs struct {
	DocID   string   `json:"doc_id"`
	Removed []string `json:"removed"`
}

type Report struct {
	Scanned           int           `json:"scanned"`
	BrokenRefsRemoved int           `json:"broken_refs_removed"`
	DocsUpdated       int           `json:"docs_updated"`
	Details           []RemovedRefs `json:"details"`
	Anomalies         []string      `json:"anomalies,omitempty"`
}

// Repair strips forward references that point at nonexistent documents and
// rebuilds the inverse depended-by index wholesale from the cleaned forward
// edges. extraValid carries ids known to the store but absent from docs
// (the ingestion variant); it may be nil. Only documents whose edges
// actually change produce an Update, so a second run over unchanged input
// yields an empty batch. Repair never invents references.
func Repair(docs []domain.Document, extraValid map[string]bool) ([]Update, Report) {
	report := Report{Scanned: len(docs), Details: []RemovedRefs{}}

	valid := make(map[string]bool, len(docs)+len(extraValid))
	for id := range extraValid {
		valid[id] = true
	}
	for _, d := range docs {
		if d.DocID == "" {
			report.Anomalies = append(report.Anomalies, "document with empty doc_id skipped")
			continue
		}
		valid[d.DocID] = true
	}

	cleaned := make(map[string][]string, len(docs))
	inverse := make(map[string]map[string]bool)
	for _, d := range docs {
		if d.DocID == "" {
			continue
		}
		var clean []string
		seen := map[string]bool{}
		var removed []string
		for _, ref := range d.DependsOn {
			if ref == d.DocID {
				report.Anomalies = append(report.Anomalies, fmt.Sprintf("%s depends on itself; reference dropped", d.DocID))
				continue
			}
			if !valid[ref] {
				removed = append(removed, ref)
				continue
			}
			if seen[ref] {
				continue
			}
			seen[ref] = true
			clean = append(clean, ref)
		}
		cleaned[d.DocID] = clean
		if len(removed) > 0 {
			report.BrokenRefsRemoved += len(removed)
			report.Details = append(report.Details, RemovedRefs{DocID: d.DocID, Removed: removed})
		}
		for _, ref := range clean {
			if inverse[ref] == nil {
				inverse[ref] = map[string]bool{}
			}
			inverse[ref][d.DocID] = true
		}
	}

	var updates []Update
	for _, d := range docs {
		if d.DocID == "" {
			continue
		}
		newDependedBy := sortedKeys(inverse[d.DocID])
		newDependsOn := cleaned[d.DocID]
		if equalStrings(newDependsOn, d.DependsOn) && equalStrings(newDependedBy, d.DependedBy) {
			continue
		}
		updates = append(updates, Update{
			DocID:      d.DocID,
			DependsOn:  emptyNotNil(newDependsOn),
			DependedBy: newDependedBy,
		})
	}
	report.DocsUpdated = len(updates)
	return updates, report
}

func sortedKeys(set map[string]bool) []string {
	res := make([]string, 0, len(set))
	for k := range set {
		res = append(res, k)
	}
	sort.Strings(res)
	return res
}

func emptyNotNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

// equalStrings treats nil and empty as the same list.
func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Project returns the dependency graph as node and deduplicated edge lists.
func Project(docs []domain.Document) ([]domain.GraphNode, []domain.GraphEdge) {
	nodes := make([]domain.GraphNode, 0, len(docs))
	edges := []domain.GraphEdge{}
	seen := map[[2]string]bool{}
	for _, d := range docs {
		nodes = append(nodes, domain.GraphNode{DocID: d.DocID, Title: d.Title, Domain: d.Domain})
		for _, ref := range d.DependsOn {
			key := [2]string{d.DocID, ref}
			if seen[key] {
				continue
			}
			seen[key] = true
			edges = append(edges, domain.GraphEdge{From: d.DocID, To: ref})
		}
	}
	return nodes, edges
}

// TagHistogram counts documents per tag, descending, ties broken by tag name.
func TagHistogram(docs []domain.Document) []domain.TagCount {
	counts := map[string]int{}
	for _, d := range docs {
		for _, tag := range d.Tags {
			counts[tag]++
		}
	}
	res := make([]domain.TagCount, 0, len(counts))
	for tag, n := range counts {
		res = append(res, domain.TagCount{Tag: tag, Count: n})
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].Count != res[j].Count {
			return res[i].Count > res[j].Count
		}
		return res[i].Tag < res[j].Tag
	})
	return res
}
