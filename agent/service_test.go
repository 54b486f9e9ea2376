package agent

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urbit/azimuth/metrics"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func post(t *testing.T, h http.Handler, path string, body any) *httptest.ResponseRecorder {
	dat, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(dat))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestServiceGetPoints(t *testing.T) {
	c := newTestIndexer(t, nil)
	require.NoError(t, c.indexBlock(spawnBlock(1)))
	s := NewService("", c, nil)

	w := post(t, s.Handler(), "/getPoints", map[string]any{"owner": strings.ToLower(bob.Hex())})
	require.Equal(t, http.StatusOK, w.Code)
	var res GetPointsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.EqualValues(t, 1, res.Total)
	assert.EqualValues(t, 1, res.Height)
	require.Len(t, res.Points, 1)
	assert.Equal(t, uint32(256), res.Points[0].Id)

	w = post(t, s.Handler(), "/getPoints", map[string]any{"size": "galaxy", "pageSize": 5000})
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.EqualValues(t, 1, res.Total)

	w = post(t, s.Handler(), "/getPoints", map[string]any{"owner": "not-an-address"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestServiceEmptyListsAreArrays(t *testing.T) {
	s := NewService("", newTestIndexer(t, nil), nil)

	w := post(t, s.Handler(), "/getUpgrades", Paging{})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"upgrades":[],"total":0}`, w.Body.String())

	w = post(t, s.Handler(), "/getPolls", GetPollsReq{Kind: "document"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"polls":[],"total":0}`, w.Body.String())
}

func TestServiceWithoutIndexer(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New()
	m.Register(reg)
	m.ObserveTx("spawn", 0)

	s := NewService("", nil, reg)
	w := post(t, s.Handler(), "/getPoints", GetPointsReq{})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "azimuth_txs_total")
}
