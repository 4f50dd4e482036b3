package feature

import (
	"context"
	"io"
)

// Memory is an in-memory, iterate-only collection. It backs the manual
// execution path's accumulator and small reference sets.
type Memory struct {
	schema   Schema
	features []*Feature
}

// NewMemory creates an empty in-memory collection with the given schema.
func NewMemory(schema Schema) *Memory {
	return &Memory{schema: schema}
}

// Append adds a feature to the collection.
func (m *Memory) Append(f *Feature) {
	m.features = append(m.features, f)
}

// Len returns the number of features held.
func (m *Memory) Len() int {
	return len(m.features)
}

// Features returns the backing slice. Callers must not mutate it.
func (m *Memory) Features() []*Feature {
	return m.features
}

// Schema implements Collection.
func (m *Memory) Schema() Schema {
	return m.schema
}

// Reader implements Collection.
func (m *Memory) Reader(ctx context.Context) (Reader, error) {
	return &memoryReader{features: m.features}, nil
}

type memoryReader struct {
	features []*Feature
	pos      int
}

func (r *memoryReader) Next() (*Feature, error) {
	if r.pos >= len(r.features) {
		return nil, io.EOF
	}
	f := r.features[r.pos]
	r.pos++
	return f, nil
}

func (r *memoryReader) Close() error { return nil }
