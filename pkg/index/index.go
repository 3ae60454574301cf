// Package index is an R-tree over the X/Y envelopes of a dataset's geometries.
package index

import (
	"fmt"
	"geo-access/pkg/algorithm"
	"geo-access/pkg/geom"
	"slices"

	"github.com/dhconnelly/rtreego"
)

const (
	dimensions  = 2
	minChildren = 25
	maxChildren = 50

	// rtreego rejects zero length sides, so degenerate envelopes are padded.
	epsilon = 1e-9
)

type entry struct {
	id     geom.GeometryID
	bounds geom.Bounds
	rect   *rtreego.Rect
}

func (e *entry) Bounds() *rtreego.Rect {
	return e.rect
}

// Index answers envelope queries over a dataset. It is immutable once built
// and safe for concurrent use.
type Index struct {
	tree    *rtreego.Rtree
	entries []*entry
}

func toRect(b geom.Bounds) (*rtreego.Rect, error) {
	return rtreego.NewRect(
		rtreego.Point{b.MinX, b.MinY},
		[]float64{max(b.MaxX-b.MinX, epsilon), max(b.MaxY-b.MinY, epsilon)},
	)
}

// Build indexes every non-empty geometry of ds. Only sequential access is
// used.
func Build[D geom.Dataset](ds D) (*Index, error) {
	ix := &Index{}

	items := make([]rtreego.Spatial, 0, ds.NumGeometries())
	for i := range ds.NumGeometries() {
		id := geom.GeometryID(i)

		b, err := algorithm.Bounds(ds, id)
		if err != nil {
			return nil, err
		}
		if b.IsEmpty() {
			continue
		}

		rect, err := toRect(b)
		if err != nil {
			return nil, fmt.Errorf("invalid envelope of geometry %d: %w", i, err)
		}
		e := &entry{id: id, bounds: b, rect: rect}
		ix.entries = append(ix.entries, e)
		items = append(items, e)
	}

	ix.tree = rtreego.NewTree(dimensions, minChildren, maxChildren, items...)
	return ix, nil
}

// Len is the number of indexed geometries.
func (ix *Index) Len() int {
	return len(ix.entries)
}

// Search returns the geometries whose envelope intersects b, in id order.
func (ix *Index) Search(b geom.Bounds) ([]geom.GeometryID, error) {
	if b.IsEmpty() {
		return nil, nil
	}

	rect, err := toRect(b)
	if err != nil {
		return nil, fmt.Errorf("invalid search box: %w", err)
	}

	var ids []geom.GeometryID
	for _, result := range ix.tree.SearchIntersect(rect) {
		e, ok := result.(*entry)
		if !ok {
			continue
		}
		// The padded rectangles may overlap where the envelopes do not.
		if e.bounds.Intersects(b) {
			ids = append(ids, e.id)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

// Nearest returns up to k geometries ordered by the distance from c to their
// envelope.
func (ix *Index) Nearest(c geom.Coordinate, k int) []geom.GeometryID {
	if k <= 0 || len(ix.entries) == 0 {
		return nil
	}

	results := ix.tree.NearestNeighbors(k, rtreego.Point{c.X, c.Y})
	ids := make([]geom.GeometryID, 0, len(results))
	for _, result := range results {
		if e, ok := result.(*entry); ok {
			ids = append(ids, e.id)
		}
	}
	return ids
}
