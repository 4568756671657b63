// Package scope resolves a question's retrieval scope before any vectors are
// touched. A document-scoped question must name a usable document owned by
// the asker; an open question searches the owner's whole corpus.
package scope

import (
	"errors"
	"fmt"

	"github.com/solvedoc/solvedoc/internal/storage"
)

// ErrDocumentNotFound is returned whenever a requested document cannot be
// used: it does not exist, belongs to a different owner, or has not finished
// processing. One sentinel covers all three so responses never reveal whether
// a document id exists for someone else.
var ErrDocumentNotFound = errors.New("document not found")

// Family distinguishes the two retrieval scope kinds.
type Family string

const (
	// FamilyDocument restricts retrieval to a single named document.
	FamilyDocument Family = "document"
	// FamilyOpen searches across the owner's whole corpus.
	FamilyOpen Family = "open"
)

// Scope is a resolved retrieval scope. DocumentID is set only for
// FamilyDocument; CompletedIDs only for FamilyOpen.
type Scope struct {
	OwnerID      string
	Family       Family
	DocumentID   string
	CompletedIDs []string
}

// DocumentIDs returns the document id list for a retrieval query: the single
// named document for document scope, every completed document the owner has
// for open scope. An empty list means there is nothing to search.
func (s Scope) DocumentIDs() []string {
	if s.Family == FamilyDocument {
		return []string{s.DocumentID}
	}
	return s.CompletedIDs
}

// DocumentStore is the part of the storage layer the resolver needs.
type DocumentStore interface {
	GetDocument(ownerID, id string) (storage.Document, error)
	ListCompletedDocumentIDs(ownerID string) ([]string, error)
}

// Resolver validates scope requests against document ownership and state.
type Resolver struct {
	docs DocumentStore
}

func NewResolver(docs DocumentStore) *Resolver {
	return &Resolver{docs: docs}
}

// Resolve returns the scope for a question. An empty documentID selects open
// scope. A named document resolves to document scope only when it exists,
// belongs to ownerID, and has completed processing; every other outcome is
// ErrDocumentNotFound.
func (r *Resolver) Resolve(ownerID, documentID string) (Scope, error) {
	if ownerID == "" {
		return Scope{}, fmt.Errorf("resolving scope: owner id is required")
	}

	if documentID == "" {
		// Open scope is pinned to the completed corpus at resolve time, so
		// half-processed chunks can never surface in a search.
		ids, err := r.docs.ListCompletedDocumentIDs(ownerID)
		if err != nil {
			return Scope{}, fmt.Errorf("resolving open scope: %w", err)
		}
		return Scope{OwnerID: ownerID, Family: FamilyOpen, CompletedIDs: ids}, nil
	}

	doc, err := r.docs.GetDocument(ownerID, documentID)
	if errors.Is(err, storage.ErrNotFound) {
		return Scope{}, ErrDocumentNotFound
	}
	if err != nil {
		return Scope{}, fmt.Errorf("resolving scope for document %s: %w", documentID, err)
	}
	if doc.State != storage.StateCompleted {
		return Scope{}, ErrDocumentNotFound
	}

	return Scope{OwnerID: ownerID, Family: FamilyDocument, DocumentID: documentID}, nil
}
