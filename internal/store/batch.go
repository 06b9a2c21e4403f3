package store

import "time"

// Batch collects record and signed-URL mutations that must commit as one
// atomic unit. Operations are applied in insertion order inside a single
// transaction; on failure nothing is persisted.
type Batch struct {
	ops []batchOp
}

type batchOpKind int

const (
	opSetRecord batchOpKind = iota
	opUpdateRecord
	opUpdateLinks
	opDeleteRecord
	opSetSignedURL
	opDeleteSignedURL
)

type batchOp struct {
	kind      batchOpKind
	record    Record
	id        string
	prevID    *string
	nextID    *string
	updatedAt time.Time
	imageRef  string
	signedURL SignedURL
}

func NewBatch() *Batch {
	return &Batch{}
}

// Empty reports whether the batch holds no operations. Committing an
// empty batch is a no-op and performs no store calls.
func (b *Batch) Empty() bool {
	return len(b.ops) == 0
}

// Len returns the number of queued operations.
func (b *Batch) Len() int {
	return len(b.ops)
}

// SetRecord inserts a record, or replaces it wholesale if it exists.
func (b *Batch) SetRecord(r Record) {
	b.ops = append(b.ops, batchOp{kind: opSetRecord, record: r})
}

// UpdateRecord replaces an existing record's content and links.
func (b *Batch) UpdateRecord(r Record) {
	b.ops = append(b.ops, batchOp{kind: opUpdateRecord, record: r})
}

// UpdateLinks rewrites only a record's prev/next pointers, stamping
// updatedAt in the same write.
func (b *Batch) UpdateLinks(id string, prevID, nextID *string, updatedAt time.Time) {
	b.ops = append(b.ops, batchOp{kind: opUpdateLinks, id: id, prevID: prevID, nextID: nextID, updatedAt: updatedAt})
}

// DeleteRecord removes a record document. Deleting a missing record is
// not an error.
func (b *Batch) DeleteRecord(id string) {
	b.ops = append(b.ops, batchOp{kind: opDeleteRecord, id: id})
}

// SetSignedURL upserts a cached signed-URL entry keyed by image reference.
func (b *Batch) SetSignedURL(imageRef string, u SignedURL) {
	b.ops = append(b.ops, batchOp{kind: opSetSignedURL, imageRef: imageRef, signedURL: u})
}

// DeleteSignedURL drops a cached signed-URL entry.
func (b *Batch) DeleteSignedURL(imageRef string) {
	b.ops = append(b.ops, batchOp{kind: opDeleteSignedURL, imageRef: imageRef})
}

// LinkUpdate is a queued prev/next rewrite, exposed for introspection.
type LinkUpdate struct {
	ID        string
	PrevID    *string
	NextID    *string
	UpdatedAt time.Time
}

// The introspection helpers below let in-memory store fakes apply a batch
// the same way the Postgres store does.

// RecordWrites returns the queued record sets and full updates, in order.
func (b *Batch) RecordWrites() []Record {
	var out []Record
	for _, op := range b.ops {
		if op.kind == opSetRecord || op.kind == opUpdateRecord {
			out = append(out, op.record)
		}
	}
	return out
}

// LinkUpdates returns the queued pointer-only rewrites, in order.
func (b *Batch) LinkUpdates() []LinkUpdate {
	var out []LinkUpdate
	for _, op := range b.ops {
		if op.kind == opUpdateLinks {
			out = append(out, LinkUpdate{ID: op.id, PrevID: op.prevID, NextID: op.nextID, UpdatedAt: op.updatedAt})
		}
	}
	return out
}

// DeletedRecords returns the ids of queued record deletions.
func (b *Batch) DeletedRecords() []string {
	var out []string
	for _, op := range b.ops {
		if op.kind == opDeleteRecord {
			out = append(out, op.id)
		}
	}
	return out
}

// SignedURLSets returns the queued signed-URL upserts.
func (b *Batch) SignedURLSets() map[string]SignedURL {
	out := make(map[string]SignedURL)
	for _, op := range b.ops {
		if op.kind == opSetSignedURL {
			out[op.imageRef] = op.signedURL
		}
	}
	return out
}

// DeletedSignedURLs returns the image refs of queued signed-URL deletions.
func (b *Batch) DeletedSignedURLs() []string {
	var out []string
	for _, op := range b.ops {
		if op.kind == opDeleteSignedURL {
			out = append(out, op.imageRef)
		}
	}
	return out
}
