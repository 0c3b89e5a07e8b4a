// Package model defines the plain data shapes persisted by the offline
// subsystem.
//
// Everything in this package is inert data: no live references, no
// behavior beyond trivial accessors. Values crossing into the durable
// store are always deep copies of these shapes (see codec.Clone), never
// pointers into state a UI layer may still be mutating.
package model

import "time"

// Product is one reference-cache item. The set of products is replaced
// wholesale on every successful cache refresh; only EAN may additionally
// be patched in place while a queued mutation awaits acknowledgment.
type Product struct {
	ID         int64   `json:"id"`
	Name       string  `json:"nom"`
	CategoryID int64   `json:"category_id"`
	Stock      float64 `json:"stock"`
	// EAN is the barcode-like secondary identifier. Nil clears the value
	// on the server; the write endpoint treats re-applying the same value
	// as a no-op.
	EAN       *string   `json:"code_ean"`
	UpdatedAt time.Time `json:"updated_at,omitzero"`
}

// Category is one reference-cache item of the category partition.
type Category struct {
	ID       int64  `json:"id"`
	Name     string `json:"nom"`
	Position int    `json:"position"`
}

// ReferenceData is the result of a reference-cache read. At least one of
// the two slices is non-empty whenever a non-nil ReferenceData is
// returned.
type ReferenceData struct {
	Products   []Product  `json:"produits"`
	Categories []Category `json:"categories"`
}

// CacheInfo is the cache-metadata singleton. It exists if and only if
// the reference cache holds data.
type CacheInfo struct {
	LastSync time.Time `json:"lastSync"`
}

// DraftSession is the single in-progress inventory count. ID is either a
// server-issued identifier rendered as a decimal string or a locally
// generated placeholder carrying the "local-" prefix.
type DraftSession struct {
	ID        string      `json:"id"`
	Lines     []DraftLine `json:"lignes"`
	CreatedAt time.Time   `json:"created_at,omitzero"`
}

// DraftLine is one counted line, exclusively owned by its DraftSession.
type DraftLine struct {
	ProductID int64   `json:"product_id"`
	Quantity  float64 `json:"quantite_comptee"`
	Note      string  `json:"comment,omitempty"`
}

// MutationAction identifies the kind of a queued field mutation.
type MutationAction string

// ActionUpdateEAN assigns a new secondary identifier to a product.
const ActionUpdateEAN MutationAction = "update_code_ean"

// Mutation is one not-yet-acknowledged field edit awaiting replay.
// Mutations are strictly ordered by Seq; entries targeting the same
// product must reach the server in Seq order.
type Mutation struct {
	Seq       uint64         `json:"seq"`
	Action    MutationAction `json:"action"`
	ProductID int64          `json:"productId"`
	Value     *string        `json:"value"`
	CreatedAt time.Time      `json:"createdAt"`
}
