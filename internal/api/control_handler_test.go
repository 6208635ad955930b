package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/taoyao-code/tracker-server/internal/session"
)

type fakeConn struct {
	mu     sync.Mutex
	writes [][]byte
}

func (c *fakeConn) Write(b []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	dup := make([]byte, len(b))
	copy(dup, b)
	c.writes = append(c.writes, dup)
	return nil
}

func (c *fakeConn) Close() error       { return nil }
func (c *fakeConn) RemoteAddr() string { return "192.0.2.7:9000" }

func (c *fakeConn) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.writes)
}

const testIMEI = "355172107461053"

func setupAPI(t *testing.T) (*gin.Engine, *session.Manager, *fakeConn) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := zap.NewNop()
	reg := session.NewManager(log, time.Minute)

	conn := &fakeConn{}
	s := session.NewSession("c1", conn, log, time.Minute)
	t.Cleanup(s.Close)
	s.BindIMEI(testIMEI)
	reg.Bind(testIMEI, s)

	r := gin.New()
	RegisterControlRoutes(r, reg, ":5027", log)
	return r, reg, conn
}

func do(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	r.ServeHTTP(w, req)
	return w
}

func TestAPI_ListSessions(t *testing.T) {
	r, _, _ := setupAPI(t)
	w := do(r, http.MethodGet, "/api/sessions", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Sessions []session.Info `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Sessions, 1)
	assert.Equal(t, testIMEI, resp.Sessions[0].IMEI)
	assert.Equal(t, "192.0.2.7:9000", resp.Sessions[0].Remote)
}

func TestAPI_GetSession(t *testing.T) {
	r, _, _ := setupAPI(t)

	w := do(r, http.MethodGet, "/api/sessions/"+testIMEI, "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(r, http.MethodGet, "/api/sessions/000000000000000", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAPI_SendCommand(t *testing.T) {
	r, _, conn := setupAPI(t)

	w := do(r, http.MethodPost, "/api/sessions/"+testIMEI+"/command", `{"command":"STATUS#"}`)
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, 1, conn.count())

	// 缺少指令体
	w = do(r, http.MethodPost, "/api/sessions/"+testIMEI+"/command", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAPI_SendCommand_NotConnected(t *testing.T) {
	r, _, _ := setupAPI(t)
	w := do(r, http.MethodPost, "/api/sessions/000000000000000/command", `{"command":"STATUS#"}`)
	assert.Equal(t, http.StatusConflict, w.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "not_connected", resp["status"])
}

func TestAPI_ConvenienceCommands(t *testing.T) {
	r, _, conn := setupAPI(t)

	paths := []struct {
		path    string
		command string
	}{
		{"/immobilize", "RELAY,1#"},
		{"/mobilize", "RELAY,0#"},
		{"/status", "STATUS#"},
		{"/locate", "WHERE#"},
		{"/battery", "BATPARAM,0#"},
	}
	for i, p := range paths {
		w := do(r, http.MethodPost, "/api/sessions/"+testIMEI+p.path, "")
		require.Equal(t, http.StatusAccepted, w.Code, p.path)

		var resp map[string]string
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, p.command, resp["command"], p.path)
		assert.Equal(t, i+1, conn.count())
	}
}

func TestAPI_BatteryInterval(t *testing.T) {
	r, _, _ := setupAPI(t)

	w := do(r, http.MethodPost, "/api/sessions/"+testIMEI+"/battery-interval?minutes=30", "")
	assert.Equal(t, http.StatusAccepted, w.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "BATINTERVAL,30#", resp["command"])

	w = do(r, http.MethodPost, "/api/sessions/"+testIMEI+"/battery-interval?minutes=0", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodPost, "/api/sessions/"+testIMEI+"/battery-interval", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAPI_Stats(t *testing.T) {
	r, _, _ := setupAPI(t)
	w := do(r, http.MethodGet, "/api/stats", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		SessionCount  int    `json:"session_count"`
		ListenAddr    string `json:"listen_addr"`
		UptimeSeconds int64  `json:"uptime_seconds"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.SessionCount)
	assert.Equal(t, ":5027", resp.ListenAddr)
	assert.GreaterOrEqual(t, resp.UptimeSeconds, int64(0))
}
