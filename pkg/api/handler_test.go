package api

import (
	"bytes"
	"encoding/json"
	"geo-access/pkg/catalog"
	"geo-access/pkg/flatbuf"
	"geo-access/pkg/geom"
	"geo-access/pkg/geom/geomtest"
	"geo-access/pkg/inmem"
	"geo-access/pkg/route"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()

	store, err := inmem.NewStore(geom.XY)
	require.NoError(t, err)
	for _, f := range geomtest.Fixtures() {
		g, err := inmem.NewGeometry(f.Type, geom.XY, f.Parts())
		require.NoError(t, err)
		_, err = store.Add(g, nil)
		require.NoError(t, err)
	}

	var buf bytes.Buffer
	require.NoError(t, flatbuf.Write(&buf, store, flatbuf.WithIndex(false)))
	flat, err := flatbuf.Open(buf.Bytes())
	require.NoError(t, err)

	data, err := os.ReadFile("../route/testdata/lrs_routes.json")
	require.NoError(t, err)
	routes, err := route.NewRoutesFromESRIJSON(data, "")
	require.NoError(t, err)

	c := catalog.New()
	require.NoError(t, c.Register("fixtures", "memory", store, catalog.WithIndex()))
	require.NoError(t, c.Register("flat", catalog.FormatFlatbuf, flat))
	require.NoError(t, c.Register("routes", catalog.FormatESRI, routes, catalog.WithCloser(func() error {
		routes.Release()
		return nil
	})))
	t.Cleanup(func() { c.Close() })
	return c
}

func doRequest(t *testing.T, h http.Handler, method, target string, body []byte) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()

	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

func TestCalculateMValueHandler_InvalidMethod(t *testing.T) {
	handler := NewAPIHandler(nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/datasets/routes/locate", nil)
	rr := httptest.NewRecorder()

	handler.CalculateMValueHandler(rr, req)

	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected status %d, got %d", http.StatusMethodNotAllowed, rr.Code)
	}
}

func TestCalculateMValueHandler_InvalidGeoJSON(t *testing.T) {
	h := NewAPIHandler(newTestCatalog(t)).Routes()

	rr := doRequest(t, h, http.MethodPost, "/api/v1/datasets/routes/locate", []byte(`{"invalid": "json"}`))

	if rr.Code != http.StatusBadRequest {
		t.Errorf("Expected status %d, got %d", http.StatusBadRequest, rr.Code)
	}
}

func TestCalculateMValueHandler_InvalidGeoJSONType(t *testing.T) {
	h := NewAPIHandler(newTestCatalog(t)).Routes()

	body := []byte(`{"type": "Feature", "geometry": {"type": "Point", "coordinates": [1,2]}}`)
	rr := doRequest(t, h, http.MethodPost, "/api/v1/datasets/routes/locate", body)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("Expected status %d, got %d", http.StatusBadRequest, rr.Code)
	}
}

func TestCalculateMValueHandler_MissingRouteID(t *testing.T) {
	h := NewAPIHandler(newTestCatalog(t)).Routes()

	body := []byte(`{
		"type": "FeatureCollection",
		"features": [{
			"type": "Feature",
			"geometry": {"type": "Point", "coordinates": [95.35, 5.50]},
			"properties": {"name": "test"}
		}]
	}`)
	rr := doRequest(t, h, http.MethodPost, "/api/v1/datasets/routes/locate", body)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("Expected status %d, got %d", http.StatusBadRequest, rr.Code)
	}
}

func TestCalculateMValueHandler(t *testing.T) {
	h := NewAPIHandler(newTestCatalog(t)).Routes()

	body := []byte(`{
		"type": "FeatureCollection",
		"features": [
			{"type": "Feature", "geometry": {"type": "Point", "coordinates": [95.0005, 5.0001]}, "properties": {"ROUTEID": "01001"}},
			{"type": "Feature", "geometry": {"type": "Point", "coordinates": [96.0025, 4.0004]}, "properties": {"ROUTEID": "01002"}},
			{"type": "Feature", "geometry": {"type": "Point", "coordinates": [1, 1]}, "properties": {"ROUTEID": "09999"}}
		]
	}`)
	rr := doRequest(t, h, http.MethodPost, "/api/v1/datasets/routes/locate", body)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	type feature struct {
		Properties map[string]any `json:"properties"`
	}
	fc := decode[struct {
		Features []feature `json:"features"`
	}](t, rr)
	require.Len(t, fc.Features, 3)

	assert.InDelta(t, 0.0555, fc.Features[0].Properties["MVAL"], 1e-9)
	assert.InDelta(t, 0.0001, fc.Features[0].Properties["DIST_TO_LRS"], 1e-9)
	assert.InDelta(t, 0.29265, fc.Features[1].Properties["MVAL"], 1e-9)
	assert.NotContains(t, fc.Features[2].Properties, "MVAL")
	assert.NotContains(t, fc.Features[2].Properties, "DIST_TO_LRS")
}

func TestCalculateMValueHandler_CRS(t *testing.T) {
	h := NewAPIHandler(newTestCatalog(t)).Routes()

	// 95.0005, 5.0001 in web mercator
	body := []byte(`{"type": "FeatureCollection", "features": [
		{"type": "Feature", "geometry": {"type": "Point", "coordinates": [10575407.285106, 557316.431747]}, "properties": {"ROUTEID": "01001"}}
	]}`)
	rr := doRequest(t, h, http.MethodPost, "/api/v1/datasets/routes/locate?crs=EPSG:3857", body)
	if rr.Code == http.StatusNotImplemented {
		t.Skipf("no projection: %s", rr.Body.String())
	}
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	fc := decode[struct {
		Features []struct {
			Geometry struct {
				Coordinates []float64 `json:"coordinates"`
			} `json:"geometry"`
			Properties map[string]any `json:"properties"`
		} `json:"features"`
	}](t, rr)
	require.Len(t, fc.Features, 1)
	assert.InDelta(t, 0.0555, fc.Features[0].Properties["MVAL"], 1e-6)
	// coordinates are returned in the request CRS
	require.Len(t, fc.Features[0].Geometry.Coordinates, 2)
	assert.InDelta(t, 10575407.285, fc.Features[0].Geometry.Coordinates[0], 0.01)

	rr = doRequest(t, h, http.MethodPost, "/api/v1/datasets/routes/locate?crs=EPSG:999999", body)
	assert.Equal(t, http.StatusBadRequest, rr.Code, rr.Body.String())
}

func TestCalculateMValueHandler_NotRoutes(t *testing.T) {
	h := NewAPIHandler(newTestCatalog(t)).Routes()

	body := []byte(`{"type": "FeatureCollection", "features": [
		{"type": "Feature", "geometry": {"type": "Point", "coordinates": [1, 1]}, "properties": {"ROUTEID": "01001"}}
	]}`)
	rr := doRequest(t, h, http.MethodPost, "/api/v1/datasets/fixtures/locate", body)
	assert.Equal(t, http.StatusNotImplemented, rr.Code)
}

func TestValidateGeoJSON_ValidInput(t *testing.T) {
	handler := NewAPIHandler(nil)

	validGeoJSON := []byte(`{
		"type": "FeatureCollection",
		"features": [{
			"type": "Feature",
			"geometry": {"type": "Point", "coordinates": [95.35, 5.50]},
			"properties": {"ROUTEID": "01002"}
		}]
	}`)

	err := handler.validateGeoJSON(validGeoJSON)
	if err != nil {
		t.Errorf("Expected no error, got: %v", err)
	}
}

func TestValidateGeoJSON_NonPointGeometry(t *testing.T) {
	handler := NewAPIHandler(nil)

	invalidGeoJSON := []byte(`{
		"type": "FeatureCollection",
		"features": [{
			"type": "Feature",
			"geometry": {"type": "LineString", "coordinates": [[95.35, 5.50], [95.36, 5.51]]},
			"properties": {"ROUTEID": "01002"}
		}]
	}`)

	err := handler.validateGeoJSON(invalidGeoJSON)
	if err == nil {
		t.Error("Expected error for non-Point geometry, got nil")
	}
}

func TestHealthAndDatasets(t *testing.T) {
	h := NewAPIServer(newTestCatalog(t), 0).Handler()

	rr := doRequest(t, h, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())

	rr = doRequest(t, h, http.MethodGet, "/api/v1/datasets", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	infos := decode[[]DatasetInfo](t, rr)
	require.Len(t, infos, 3)
	assert.Equal(t, DatasetInfo{Name: "fixtures", Format: "memory", Layout: "XY", Geometries: 4, Indexed: true}, infos[0])
	assert.Equal(t, "flat", infos[1].Name)
	assert.Equal(t, DatasetInfo{Name: "routes", Format: catalog.FormatESRI, Layout: "XYM", Geometries: 2}, infos[2])
}

func TestGeometryHandler(t *testing.T) {
	h := NewAPIHandler(newTestCatalog(t)).Routes()

	for _, name := range []string{"fixtures", "flat"} {
		rr := doRequest(t, h, http.MethodGet, "/api/v1/datasets/"+name+"/geometries/2", nil)
		require.Equal(t, http.StatusOK, rr.Code)

		resp := decode[GeometryResponse](t, rr)
		assert.Equal(t, "Polygon", resp.Type)
		assert.Equal(t, 10, resp.Length)
		assert.Equal(t, [][2]int{{0, 5}, {5, 10}}, resp.Parts)
		assert.Equal(t, []float64{4, 0}, resp.Coordinates[1])
	}

	rr := doRequest(t, h, http.MethodGet, "/api/v1/datasets/routes/geometries/0", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	resp := decode[GeometryResponse](t, rr)
	assert.Equal(t, "XYM", resp.Layout)
	assert.Equal(t, []float64{95.001, 5, 0.111}, resp.Coordinates[1])
}

func TestCoordinateHandler(t *testing.T) {
	h := NewAPIHandler(newTestCatalog(t)).Routes()

	tests := []struct {
		name   string
		target string
		status int
	}{
		{"ok", "/api/v1/datasets/fixtures/geometries/0/coordinates/1", http.StatusOK},
		{"out of bounds", "/api/v1/datasets/fixtures/geometries/0/coordinates/3", http.StatusBadRequest},
		{"empty geometry", "/api/v1/datasets/fixtures/geometries/1/coordinates/0", http.StatusBadRequest},
		{"unknown geometry", "/api/v1/datasets/fixtures/geometries/9/coordinates/0", http.StatusNotFound},
		{"unknown dataset", "/api/v1/datasets/nope/geometries/0/coordinates/0", http.StatusNotFound},
		{"bad index", "/api/v1/datasets/fixtures/geometries/0/coordinates/x", http.StatusBadRequest},
		{"no random access", "/api/v1/datasets/flat/geometries/0/coordinates/0", http.StatusNotImplemented},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := doRequest(t, h, http.MethodGet, tt.target, nil)
			assert.Equal(t, tt.status, rr.Code, rr.Body.String())
			if tt.status != http.StatusOK {
				assert.NotEmpty(t, decode[ErrorResponse](t, rr).Error)
			}
		})
	}

	rr := doRequest(t, h, http.MethodGet, "/api/v1/datasets/fixtures/geometries/0/coordinates/1", nil)
	assert.Equal(t, CoordinateResponse{ID: 0, Index: 1, Coordinate: []float64{1, 0}}, decode[CoordinateResponse](t, rr))
}

func TestMeasureHandler(t *testing.T) {
	h := NewAPIHandler(newTestCatalog(t)).Routes()

	rr := doRequest(t, h, http.MethodGet, "/api/v1/datasets/flat/geometries/2/measure", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	m := decode[MeasureResponse](t, rr)
	assert.Equal(t, 20.0, m.Length)
	assert.Equal(t, 15.0, m.Area)
	assert.Equal(t, []float64{0, 0, 4, 4}, m.Bounds)

	rr = doRequest(t, h, http.MethodGet, "/api/v1/datasets/flat/geometries/1/measure", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	m = decode[MeasureResponse](t, rr)
	assert.Equal(t, 0.0, m.Length)
	assert.Nil(t, m.Bounds)
}

func TestCompositeGeometry(t *testing.T) {
	store, err := inmem.NewStore(geom.XY)
	require.NoError(t, err)
	for _, f := range geomtest.Composites() {
		g, err := inmem.NewComposite(f.Type, geom.XY, f.Parts(), f.Members)
		require.NoError(t, err)
		_, err = store.Add(g, nil)
		require.NoError(t, err)
	}
	c := catalog.New()
	require.NoError(t, c.Register("shapes", "memory", store, catalog.WithIndex()))
	t.Cleanup(func() { c.Close() })
	h := NewAPIHandler(c).Routes()

	rr := doRequest(t, h, http.MethodGet, "/api/v1/datasets/shapes/geometries/0", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	resp := decode[GeometryResponse](t, rr)
	assert.Equal(t, "MultiPolygon", resp.Type)
	assert.Equal(t, []MemberResponse{
		{Type: "Polygon", Parts: [2]int{0, 2}},
		{Type: "Polygon", Parts: [2]int{2, 3}},
	}, resp.Members)

	rr = doRequest(t, h, http.MethodGet, "/api/v1/datasets/shapes/geometries/1/measure", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	m := decode[MeasureResponse](t, rr)
	assert.Equal(t, 9.0, m.Length)
	assert.Equal(t, 1.0, m.Area)
	assert.Greater(t, m.GeodesicArea, 1.2e10)

	rr = doRequest(t, h, http.MethodGet, "/api/v1/datasets/shapes/search?bbox=11.5,11.5,12.5,12.5", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, []geom.GeometryID{0}, decode[SearchResponse](t, rr).IDs)
}

func TestSearchHandler(t *testing.T) {
	h := NewAPIHandler(newTestCatalog(t)).Routes()

	rr := doRequest(t, h, http.MethodGet, "/api/v1/datasets/fixtures/search?bbox=2,2,3,3", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, []geom.GeometryID{2}, decode[SearchResponse](t, rr).IDs)

	rr = doRequest(t, h, http.MethodGet, "/api/v1/datasets/fixtures/search?x=95&y=5&k=1", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, []geom.GeometryID{3}, decode[SearchResponse](t, rr).IDs)

	rr = doRequest(t, h, http.MethodGet, "/api/v1/datasets/fixtures/search?bbox=50,50,60,60", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"ids":[]}`, rr.Body.String())

	rr = doRequest(t, h, http.MethodGet, "/api/v1/datasets/fixtures/search?bbox=1,2", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = doRequest(t, h, http.MethodGet, "/api/v1/datasets/flat/search?bbox=2,2,3,3", nil)
	assert.Equal(t, http.StatusNotImplemented, rr.Code)
}
