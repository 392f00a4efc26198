package api

import (
	"encoding/binary"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alecthomas/assert/v2"
	"gopkg.in/yaml.v2"

	"github.com/haugland/terrainquery/dataset"
	"github.com/haugland/terrainquery/query"
)

func writeHGTConstant(t *testing.T, path string, size int, value int16) {
	t.Helper()
	f, err := os.Create(path)
	assert.NoError(t, err)
	defer f.Close()
	buf := make([]byte, 2)
	binary.BigEndian.PutUint16(buf, uint16(value))
	for i := 0; i < size*size; i++ {
		_, err := f.Write(buf)
		assert.NoError(t, err)
	}
}

func newTestHandler(t *testing.T) *Handler {
	t.Helper()
	dir := t.TempDir()
	hgtPath := filepath.Join(dir, "N00E000.hgt")
	writeHGTConstant(t, hgtPath, 1201, 815)

	configPath := filepath.Join(dir, "config.yaml")
	data, err := yaml.Marshal(dataset.Config{
		Datasets: []dataset.DatasetConfig{
			{Name: "test", Tiling: dataset.TilingSingle, Path: hgtPath, Interpolation: "nearest"},
		},
	})
	assert.NoError(t, err)
	assert.NoError(t, os.WriteFile(configPath, data, 0o644))

	registry, err := dataset.Load(configPath)
	assert.NoError(t, err)
	return NewHandler(query.NewEngine(registry))
}

func TestHandleQueryGET(t *testing.T) {
	h := newTestHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/test?locations=0.5,0.5", nil)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var body responseJSON
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, statusOK, body.Status)
	assert.Equal(t, 1, len(body.Results))
	assert.True(t, body.Results[0].Elevation != nil)
	assert.Equal(t, float64(815), *body.Results[0].Elevation)
}

func TestHandleQueryUnknownDataset(t *testing.T) {
	h := newTestHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/bogus?locations=0.5,0.5", nil)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var body responseJSON
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, statusInvalid, body.Status)
}

func TestHandleQueryMissingLocations(t *testing.T) {
	h := newTestHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/test", nil)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleQueryPOST(t *testing.T) {
	h := newTestHandler(t)
	body := `{"locations":[{"lat":0.5,"lng":0.5}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/test", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var got responseJSON
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, 1, len(got.Results))
	assert.True(t, got.Results[0].Elevation != nil)
	assert.Equal(t, float64(815), *got.Results[0].Elevation)
}

func TestHandleHealthz(t *testing.T) {
	h := newTestHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var got healthJSON
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.True(t, got.OK)
}

func TestHandleQueryCORSHeader(t *testing.T) {
	h := newTestHandler(t)
	h.AccessControlAllowOrigin = "*"
	req := httptest.NewRequest(http.MethodGet, "/v1/test?locations=0.5,0.5", nil)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
