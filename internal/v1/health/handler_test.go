package health

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

type fakeService struct {
	accepting   bool
	connections int
}

func (s *fakeService) Accepting() bool        { return s.accepting }
func (s *fakeService) ActiveConnections() int { return s.connections }

type fakeRooms struct{ count int }

func (r *fakeRooms) RoomCount() int { return r.count }

func probe(t *testing.T, h *Handler, path string, handle gin.HandlerFunc) *httptest.ResponseRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest("GET", path, nil)
	handle(c)
	return w
}

func TestLiveness(t *testing.T) {
	h := NewHandler(nil, nil)
	w := probe(t, h, "/health/live", h.Liveness)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "alive")
	assert.Contains(t, w.Body.String(), "timestamp")
}

func TestReadiness_Accepting(t *testing.T) {
	h := NewHandler(&fakeService{accepting: true, connections: 3}, &fakeRooms{count: 2})
	w := probe(t, h, "/health/ready", h.Readiness)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ready"`)
	assert.Contains(t, w.Body.String(), `"acceptor":"healthy"`)
	assert.Contains(t, w.Body.String(), `"connections":3`)
	assert.Contains(t, w.Body.String(), `"rooms":2`)
}

func TestReadiness_ShutDown(t *testing.T) {
	h := NewHandler(&fakeService{accepting: false}, &fakeRooms{})
	w := probe(t, h, "/health/ready", h.Readiness)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"unavailable"`)
	assert.Contains(t, w.Body.String(), `"acceptor":"unhealthy"`)
}

func TestReadiness_NoService(t *testing.T) {
	h := NewHandler(nil, nil)
	w := probe(t, h, "/health/ready", h.Readiness)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
