// Package catalog keeps named datasets of any backend behind the geom.Dataset
// interface, so servers can address them by name.
package catalog

import (
	"errors"
	"fmt"
	"geo-access/pkg/geom"
	"geo-access/pkg/index"
	"slices"
	"sync"
)

var (
	ErrUnknownDataset   = errors.New("catalog: unknown dataset")
	ErrDuplicateDataset = errors.New("catalog: dataset already registered")
)

// Entry is a registered dataset.
type Entry struct {
	Name    string
	Format  string
	Dataset geom.Dataset
	// Index is nil unless the dataset was registered with WithIndex.
	Index *index.Index

	closer func() error
}

type registerOptions struct {
	index  bool
	closer func() error
}

type RegisterOption func(*registerOptions)

// WithIndex builds a spatial index over the dataset when it is registered.
func WithIndex() RegisterOption {
	return func(o *registerOptions) {
		o.index = true
	}
}

// WithCloser sets the function releasing the dataset on Close.
func WithCloser(fn func() error) RegisterOption {
	return func(o *registerOptions) {
		o.closer = fn
	}
}

type Catalog struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

func New() *Catalog {
	return &Catalog{entries: make(map[string]*Entry)}
}

// Register adds ds under name. The catalog owns ds afterwards, including when
// registration fails.
func (c *Catalog) Register(name, format string, ds geom.Dataset, opts ...RegisterOption) error {
	var o registerOptions
	for _, opt := range opts {
		opt(&o)
	}

	fail := func(err error) error {
		if o.closer != nil {
			err = errors.Join(err, o.closer())
		}
		return err
	}

	if name == "" {
		return fail(fmt.Errorf("dataset name is empty"))
	}

	entry := &Entry{Name: name, Format: format, Dataset: ds, closer: o.closer}
	if o.index {
		ix, err := index.Build(ds)
		if err != nil {
			return fail(fmt.Errorf("failed to index dataset %s: %w", name, err))
		}
		entry.Index = ix
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[name]; ok {
		return fail(fmt.Errorf("%w: %s", ErrDuplicateDataset, name))
	}
	c.entries[name] = entry
	return nil
}

func (c *Catalog) Get(name string) (*Entry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDataset, name)
	}
	return entry, nil
}

// Names returns the registered names in sorted order.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.entries))
	for name := range c.entries {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Close releases every dataset and empties the catalog.
func (c *Catalog) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	for name, entry := range c.entries {
		if entry.closer != nil {
			if err := entry.closer(); err != nil {
				errs = append(errs, fmt.Errorf("failed to close dataset %s: %w", name, err))
			}
		}
	}
	c.entries = make(map[string]*Entry)
	return errors.Join(errs...)
}
