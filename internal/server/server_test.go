package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/danmuck/icectl/internal/comm"
	"github.com/danmuck/icectl/internal/grid"
	"github.com/danmuck/icectl/internal/model"
	"github.com/danmuck/icectl/internal/observability"
	"github.com/danmuck/icectl/internal/testutil/testlog"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testVecs(t *testing.T) *model.ModelVecs {
	t.Helper()
	group, err := comm.NewGroup(1, comm.DefaultConfig())
	require.NoError(t, err)
	c, err := group.Comm(0)
	require.NoError(t, err)
	p := grid.DefaultParams()
	p.Mx, p.My = 5, 4
	g, err := grid.New(c, p)
	require.NoError(t, err)

	vecs := model.NewModelVecs()
	thk, err := model.CreateIceThickness(g)
	require.NoError(t, err)
	require.NoError(t, vecs.Add(thk, model.Writing()))
	bar, err := model.Create2DVelocity(g)
	require.NoError(t, err)
	require.NoError(t, vecs.Add(bar))
	t.Cleanup(vecs.Destroy)
	return vecs
}

func get(t *testing.T, a *Admin, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rr := httptest.NewRecorder()
	a.Router().ServeHTTP(rr, req)
	return rr
}

func TestHealthAndMetrics(t *testing.T) {
	testlog.Start(t)
	a := New("admin-test", "127.0.0.1:0")

	rr := get(t, a, "/health")
	require.Equal(t, http.StatusOK, rr.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Equal(t, "ok", body["status"])
	require.Equal(t, "admin-test", body["admin"])

	observability.RecordFieldWritten("all")
	rr = get(t, a, "/metrics")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), "icectl_pio_fields_written_total")
	// the /health request above went through the middleware
	require.Contains(t, rr.Body.String(), `path="/health"`)
}

func TestVarsFollowPublishedSnapshot(t *testing.T) {
	testlog.Start(t)
	a := New("admin-test", "127.0.0.1:0")
	vecs := testVecs(t)

	rr := get(t, a, "/ready")
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)

	a.Publish(vecs)
	rr = get(t, a, "/vars")
	require.Equal(t, http.StatusOK, rr.Code)
	var snap Snapshot
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &snap))
	require.False(t, snap.Locked)
	require.Len(t, snap.Fields, 2)
	require.Equal(t, "bar", snap.Fields[0].Name)
	require.Equal(t, 2, snap.Fields[0].Dof)
	require.True(t, snap.Fields[1].Writing)

	vecs.Lock()
	a.Publish(vecs)
	require.Equal(t, http.StatusOK, get(t, a, "/ready").Code)

	rr = get(t, a, "/vars/land_ice_thickness")
	require.Equal(t, http.StatusOK, rr.Code)
	var info model.EntryInfo
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &info))
	require.Equal(t, "thk", info.Name)
	require.Equal(t, "m", info.Units)

	require.Equal(t, http.StatusNotFound, get(t, a, "/vars/topg").Code)
}

func TestStartServesAndShutsDown(t *testing.T) {
	testlog.Start(t)
	a := New("admin-live", "127.0.0.1:0")
	addr, err := a.Start()
	if err != nil {
		t.Skipf("skipping listener test in restricted environment: %v", err)
	}

	resp, err := http.Get(fmt.Sprintf("http://%s/health", addr))
	require.NoError(t, err)
	payload, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.True(t, strings.Contains(string(payload), "admin-live"))

	require.NoError(t, a.Shutdown(context.Background()))
	_, err = http.Get(fmt.Sprintf("http://%s/health", addr))
	require.Error(t, err)
}
