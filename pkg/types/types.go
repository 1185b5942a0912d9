// Package types defines the core data structures of the memory index:
// memory records, their tier/status/type vocabularies, and the ingest and
// update shapes exchanged with the parser and handler layers.
package types

import "strings"

// EmbeddingStatus is the lifecycle state of a record's embedding.
// The string values are part of the on-disk format.
type EmbeddingStatus string

const (
	// EmbeddingPending means no vector has been written yet (deferred indexing).
	EmbeddingPending EmbeddingStatus = "pending"

	// EmbeddingSuccess means the vector is stored and searchable.
	EmbeddingSuccess EmbeddingStatus = "success"

	// EmbeddingFailed means embedding generation failed permanently.
	EmbeddingFailed EmbeddingStatus = "failed"

	// EmbeddingRetry means embedding generation failed and is scheduled for retry.
	EmbeddingRetry EmbeddingStatus = "retry"

	// EmbeddingPartial means some chunks of a document were embedded.
	EmbeddingPartial EmbeddingStatus = "partial"
)

// ValidEmbeddingStatuses lists every accepted embedding status.
var ValidEmbeddingStatuses = []EmbeddingStatus{
	EmbeddingPending, EmbeddingSuccess, EmbeddingFailed, EmbeddingRetry, EmbeddingPartial,
}

// IsValid reports whether s is one of the five persisted statuses.
func (s EmbeddingStatus) IsValid() bool {
	for _, v := range ValidEmbeddingStatuses {
		if s == v {
			return true
		}
	}
	return false
}

// ContextType classifies the working context a memory was captured in.
type ContextType string

const (
	ContextResearch       ContextType = "research"
	ContextImplementation ContextType = "implementation"
	ContextDecision       ContextType = "decision"
	ContextDiscovery      ContextType = "discovery"
	ContextGeneral        ContextType = "general"
)

// IsValid reports whether c is an accepted context type.
func (c ContextType) IsValid() bool {
	switch c {
	case ContextResearch, ContextImplementation, ContextDecision, ContextDiscovery, ContextGeneral:
		return true
	}
	return false
}

// DocumentType tags the kind of source document a record was parsed from.
type DocumentType string

const (
	DocMemory                DocumentType = "memory"
	DocSpec                  DocumentType = "spec"
	DocPlan                  DocumentType = "plan"
	DocTasks                 DocumentType = "tasks"
	DocChecklist             DocumentType = "checklist"
	DocDecisionRecord        DocumentType = "decision_record"
	DocImplementationSummary DocumentType = "implementation_summary"
	DocResearch              DocumentType = "research"
	DocHandover              DocumentType = "handover"
	DocConstitutional        DocumentType = "constitutional"
	DocReadme                DocumentType = "readme"
)

var validDocumentTypes = map[DocumentType]bool{
	DocMemory: true, DocSpec: true, DocPlan: true, DocTasks: true, DocChecklist: true,
	DocDecisionRecord: true, DocImplementationSummary: true, DocResearch: true,
	DocHandover: true, DocConstitutional: true, DocReadme: true,
}

// IsValid reports whether d is a known document type.
func (d DocumentType) IsValid() bool {
	return validDocumentTypes[d]
}

// NormalizeDocumentType lower-cases d and falls back to DocMemory for
// unknown values.
func NormalizeDocumentType(d string) DocumentType {
	dt := DocumentType(strings.ToLower(strings.TrimSpace(d)))
	if dt.IsValid() {
		return dt
	}
	return DocMemory
}
