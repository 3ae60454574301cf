package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"geo-access/pkg/algorithm"
	"geo-access/pkg/catalog"
	"geo-access/pkg/duck"
	"geo-access/pkg/geom"
	"geo-access/pkg/mvalue"
	"geo-access/pkg/route"
	"geo-access/pkg/route_event"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// APIHandler serves read access to the datasets of a catalog
type APIHandler struct {
	catalog *catalog.Catalog
}

// NewAPIHandler creates a new APIHandler
func NewAPIHandler(c *catalog.Catalog) *APIHandler {
	return &APIHandler{
		catalog: c,
	}
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error string `json:"error"`
}

type DatasetInfo struct {
	Name       string `json:"name"`
	Format     string `json:"format"`
	Layout     string `json:"layout"`
	Geometries int    `json:"geometries"`
	Indexed    bool   `json:"indexed"`
}

type GeometryResponse struct {
	ID          geom.GeometryID `json:"id"`
	Type        string          `json:"type"`
	Layout      string          `json:"layout"`
	Length      int             `json:"length"`
	Parts       [][2]int        `json:"parts"`
	Coordinates [][]float64     `json:"coordinates"`
	// Members are the part ranges of the members of a composite geometry.
	Members []MemberResponse `json:"members,omitempty"`
}

type MemberResponse struct {
	Type  string `json:"type"`
	Parts [2]int `json:"parts"`
}

type CoordinateResponse struct {
	ID         geom.GeometryID `json:"id"`
	Index      int             `json:"index"`
	Coordinate []float64       `json:"coordinate"`
}

type MeasureResponse struct {
	ID              geom.GeometryID `json:"id"`
	Length          float64         `json:"length"`
	HaversineLength float64         `json:"haversine_length"`
	Area            float64         `json:"area"`
	GeodesicArea    float64         `json:"geodesic_area"`
	// Bounds is minx, miny, maxx, maxy; null for an empty geometry.
	Bounds []float64 `json:"bounds"`
}

type SearchResponse struct {
	IDs []geom.GeometryID `json:"ids"`
}

// Routes registers every endpoint on a new mux.
func (h *APIHandler) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", h.HealthHandler)
	mux.HandleFunc("GET /api/v1/datasets", h.ListDatasetsHandler)
	mux.HandleFunc("GET /api/v1/datasets/{name}/geometries/{id}", h.GeometryHandler)
	mux.HandleFunc("GET /api/v1/datasets/{name}/geometries/{id}/coordinates/{index}", h.CoordinateHandler)
	mux.HandleFunc("GET /api/v1/datasets/{name}/geometries/{id}/measure", h.MeasureHandler)
	mux.HandleFunc("GET /api/v1/datasets/{name}/search", h.SearchHandler)
	mux.HandleFunc("POST /api/v1/datasets/{name}/locate", h.CalculateMValueHandler)

	return mux
}

func (h *APIHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	h.sendJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *APIHandler) ListDatasetsHandler(w http.ResponseWriter, r *http.Request) {
	infos := make([]DatasetInfo, 0)
	for _, name := range h.catalog.Names() {
		entry, err := h.catalog.Get(name)
		if err != nil {
			continue
		}
		infos = append(infos, DatasetInfo{
			Name:       entry.Name,
			Format:     entry.Format,
			Layout:     entry.Dataset.Layout().String(),
			Geometries: entry.Dataset.NumGeometries(),
			Indexed:    entry.Index != nil,
		})
	}
	h.sendJSON(w, http.StatusOK, infos)
}

func (h *APIHandler) GeometryHandler(w http.ResponseWriter, r *http.Request) {
	entry, id, ok := h.geometry(w, r)
	if !ok {
		return
	}
	ds := entry.Dataset

	typ, err := ds.TypeOf(id)
	if err != nil {
		h.sendAccessError(w, err)
		return
	}
	coords, err := geom.Collect(ds, id)
	if err != nil {
		h.sendAccessError(w, err)
		return
	}
	numParts, err := ds.NumParts(id)
	if err != nil {
		h.sendAccessError(w, err)
		return
	}

	resp := GeometryResponse{
		ID:          id,
		Type:        string(typ),
		Layout:      ds.Layout().String(),
		Length:      len(coords),
		Parts:       make([][2]int, 0, numParts),
		Coordinates: make([][]float64, 0, len(coords)),
	}
	for p := range numParts {
		start, end, err := ds.PartRange(id, p)
		if err != nil {
			h.sendAccessError(w, err)
			return
		}
		resp.Parts = append(resp.Parts, [2]int{start, end})
	}
	for _, c := range coords {
		resp.Coordinates = append(resp.Coordinates, c.AppendFlat(nil, ds.Layout()))
	}
	if typ.Composite() {
		members, err := geom.Members(ds, id)
		if err != nil {
			h.sendAccessError(w, err)
			return
		}
		for _, m := range members {
			resp.Members = append(resp.Members, MemberResponse{Type: string(m.Type), Parts: [2]int{m.StartPart, m.EndPart}})
		}
	}

	h.sendJSON(w, http.StatusOK, resp)
}

func (h *APIHandler) CoordinateHandler(w http.ResponseWriter, r *http.Request) {
	entry, id, ok := h.geometry(w, r)
	if !ok {
		return
	}

	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		h.sendError(w, http.StatusBadRequest, fmt.Sprintf("invalid coordinate index %q", r.PathValue("index")))
		return
	}

	c, err := entry.Dataset.CoordinateAt(id, index)
	if err != nil {
		h.sendAccessError(w, err)
		return
	}

	h.sendJSON(w, http.StatusOK, CoordinateResponse{
		ID:         id,
		Index:      index,
		Coordinate: c.AppendFlat(nil, entry.Dataset.Layout()),
	})
}

func (h *APIHandler) MeasureHandler(w http.ResponseWriter, r *http.Request) {
	entry, id, ok := h.geometry(w, r)
	if !ok {
		return
	}
	ds := entry.Dataset

	length, err := algorithm.Length(ds, id)
	if err != nil {
		h.sendAccessError(w, err)
		return
	}
	haversine, err := algorithm.HaversineLength(ds, id)
	if err != nil {
		h.sendAccessError(w, err)
		return
	}
	area, err := algorithm.Area(ds, id)
	if err != nil {
		h.sendAccessError(w, err)
		return
	}
	geodesicArea, err := algorithm.GeodesicArea(ds, id)
	if err != nil {
		h.sendAccessError(w, err)
		return
	}
	bounds, err := algorithm.Bounds(ds, id)
	if err != nil {
		h.sendAccessError(w, err)
		return
	}

	resp := MeasureResponse{ID: id, Length: length, HaversineLength: haversine, Area: area, GeodesicArea: geodesicArea}
	if !bounds.IsEmpty() {
		resp.Bounds = []float64{bounds.MinX, bounds.MinY, bounds.MaxX, bounds.MaxY}
	}
	h.sendJSON(w, http.StatusOK, resp)
}

// SearchHandler returns the geometries intersecting ?bbox=minx,miny,maxx,maxy
// or the ?k nearest to ?x and ?y.
func (h *APIHandler) SearchHandler(w http.ResponseWriter, r *http.Request) {
	entry, ok := h.dataset(w, r)
	if !ok {
		return
	}
	if entry.Index == nil {
		h.sendError(w, http.StatusNotImplemented, fmt.Sprintf("dataset %s has no spatial index", entry.Name))
		return
	}

	q := r.URL.Query()
	if bbox := q.Get("bbox"); bbox != "" {
		vals, err := parseFloats(bbox, 4)
		if err != nil {
			h.sendError(w, http.StatusBadRequest, fmt.Sprintf("invalid bbox: %v", err))
			return
		}
		ids, err := entry.Index.Search(geom.Bounds{MinX: vals[0], MinY: vals[1], MaxX: vals[2], MaxY: vals[3]})
		if err != nil {
			h.sendError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.sendJSON(w, http.StatusOK, SearchResponse{IDs: nonNil(ids)})
		return
	}

	point, err := parseFloats(q.Get("x")+","+q.Get("y"), 2)
	if err != nil {
		h.sendError(w, http.StatusBadRequest, "either bbox or x and y are required")
		return
	}
	k := 1
	if v := q.Get("k"); v != "" {
		if k, err = strconv.Atoi(v); err != nil || k <= 0 {
			h.sendError(w, http.StatusBadRequest, fmt.Sprintf("invalid k %q", v))
			return
		}
	}
	ids := entry.Index.Nearest(geom.Coordinate{X: point[0], Y: point[1]}, k)
	h.sendJSON(w, http.StatusOK, SearchResponse{IDs: nonNil(ids)})
}

// CalculateMValueHandler handles POST requests to calculate the M-Value of
// GeoJSON point events against a route dataset
func (h *APIHandler) CalculateMValueHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.sendError(w, http.StatusMethodNotAllowed, "only POST method is allowed")
		return
	}

	entry, ok := h.dataset(w, r)
	if !ok {
		return
	}
	routes, ok := entry.Dataset.(mvalue.RouteDataset)
	if !ok {
		h.sendError(w, http.StatusNotImplemented, fmt.Sprintf("dataset %s is not addressable by route id", entry.Name))
		return
	}

	// Read request body
	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.sendError(w, http.StatusBadRequest, fmt.Sprintf("failed to read request body: %v", err))
		return
	}
	defer r.Body.Close()

	// Get CRS from query parameter, default to EPSG:4326. Events in another
	// CRS than the routes are reprojected for the calculation.
	crs := r.URL.Query().Get("crs")
	if crs == "" {
		crs = route.WGS84
	}

	if err := h.validateGeoJSON(body); err != nil {
		h.sendError(w, http.StatusBadRequest, fmt.Sprintf("invalid GeoJSON: %v", err))
		return
	}

	events, err := route_event.NewLRSEventsFromGeoJSON(body, crs)
	if err != nil {
		h.sendError(w, http.StatusBadRequest, fmt.Sprintf("failed to parse GeoJSON: %v", err))
		return
	}
	defer events.Release()

	opts := []mvalue.Option{mvalue.WithProjector(duck.Transform)}
	if r.URL.Query().Get("distance") == "haversine" {
		opts = append(opts, mvalue.WithHaversineDistance())
	}

	resultEvents, err := mvalue.CalculatePointsMValue(r.Context(), routes, events, opts...)
	if err != nil {
		if errors.Is(err, algorithm.ErrNoMeasure) {
			h.sendError(w, http.StatusNotImplemented, fmt.Sprintf("dataset %s has no measures: %v", entry.Name, err))
			return
		}
		if errors.Is(err, duck.ErrSpatialUnavailable) {
			h.sendError(w, http.StatusNotImplemented, fmt.Sprintf("events in %s need a projection: %v", crs, err))
			return
		}
		if errors.Is(err, mvalue.ErrProjection) {
			h.sendError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.sendError(w, http.StatusInternalServerError, fmt.Sprintf("failed to calculate m-values: %v", err))
		return
	}
	defer resultEvents.Release()

	geojsonBytes, err := resultEvents.ToGeoJSON(nil)
	if err != nil {
		h.sendError(w, http.StatusInternalServerError, fmt.Sprintf("failed to serialize result to GeoJSON: %v", err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(geojsonBytes)
}

// validateGeoJSON validates the basic GeoJSON structure
func (h *APIHandler) validateGeoJSON(data []byte) error {
	var fc struct {
		Type     string `json:"type"`
		Features []struct {
			Type     string `json:"type"`
			Geometry struct {
				Type        string    `json:"type"`
				Coordinates []float64 `json:"coordinates"`
			} `json:"geometry"`
			Properties map[string]any `json:"properties"`
		} `json:"features"`
	}

	if err := json.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("failed to parse JSON: %w", err)
	}

	if fc.Type != "FeatureCollection" {
		return fmt.Errorf("expected FeatureCollection, got %s", fc.Type)
	}

	if len(fc.Features) == 0 {
		return fmt.Errorf("no features in FeatureCollection")
	}

	for i, f := range fc.Features {
		if f.Type != "Feature" {
			return fmt.Errorf("feature %d: expected Feature type, got %s", i, f.Type)
		}
		if f.Geometry.Type != "Point" {
			return fmt.Errorf("feature %d: only Point geometry is supported, got %s", i, f.Geometry.Type)
		}
		if len(f.Geometry.Coordinates) < 2 {
			return fmt.Errorf("feature %d: Point must have at least 2 coordinates", i)
		}
		if _, ok := f.Properties["ROUTEID"]; !ok {
			return fmt.Errorf("feature %d: missing required ROUTEID property", i)
		}
	}

	return nil
}

func (h *APIHandler) dataset(w http.ResponseWriter, r *http.Request) (*catalog.Entry, bool) {
	entry, err := h.catalog.Get(r.PathValue("name"))
	if err != nil {
		h.sendAccessError(w, err)
		return nil, false
	}
	return entry, true
}

func (h *APIHandler) geometry(w http.ResponseWriter, r *http.Request) (*catalog.Entry, geom.GeometryID, bool) {
	entry, ok := h.dataset(w, r)
	if !ok {
		return nil, 0, false
	}

	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		h.sendError(w, http.StatusBadRequest, fmt.Sprintf("invalid geometry id %q", r.PathValue("id")))
		return nil, 0, false
	}
	return entry, geom.GeometryID(id), true
}

func parseFloats(s string, n int) ([]float64, error) {
	fields := strings.Split(s, ",")
	if len(fields) != n {
		return nil, fmt.Errorf("expected %d values, got %d", n, len(fields))
	}

	vals := make([]float64, n)
	for i, f := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil || math.IsNaN(v) {
			return nil, fmt.Errorf("invalid number %q", f)
		}
		vals[i] = v
	}
	return vals, nil
}

func nonNil(ids []geom.GeometryID) []geom.GeometryID {
	if ids == nil {
		return []geom.GeometryID{}
	}
	return ids
}

// sendAccessError maps access errors to their status code.
func (h *APIHandler) sendAccessError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, geom.ErrNotFound), errors.Is(err, catalog.ErrUnknownDataset):
		status = http.StatusNotFound
	case errors.Is(err, geom.ErrOutOfBounds):
		status = http.StatusBadRequest
	case errors.Is(err, geom.ErrUnavailable):
		status = http.StatusNotImplemented
	default:
		log.Error().Err(err).Msg("Unexpected access error")
	}
	h.sendError(w, status, err.Error())
}

// sendError sends an error response as JSON
func (h *APIHandler) sendError(w http.ResponseWriter, statusCode int, message string) {
	h.sendJSON(w, statusCode, ErrorResponse{Error: message})
}

func (h *APIHandler) sendJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(v)
}
