package growth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"growth-pipeline/pkg/middleware"
	"growth-pipeline/services/antifraud"
	"growth-pipeline/services/growthevent"
	"growth-pipeline/services/ledger"
	"growth-pipeline/services/member"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

func newRouter(h *harness) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.Error())
	NewHandler(h.svc, h.store, h.engine).Register(r)
	return r
}

func serve(r *gin.Engine, method, target, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	return w
}

func TestHandlerCreateAndQuery(t *testing.T) {
	h := newHarness(t)
	h.seed(t, &member.User{ID: 7})
	h.seed(t, defaultRules()...)
	h.bus.Subscribe(h.svc.Process)
	r := newRouter(h)

	w := serve(r, http.MethodPost, "/v1/growth-events",
		`{"business":"topic","eventKey":"create","userId":"7","ip":"10.0.0.1","context":{"title":"hi"}}`)
	require.Equal(t, http.StatusAccepted, w.Code)

	var created struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	h.bus.Wait()

	w = serve(r, http.MethodGet, "/v1/growth-events/"+created.ID, "")
	require.Equal(t, http.StatusOK, w.Code)
	var event growthevent.GrowthEvent
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &event))
	require.Equal(t, growthevent.StatusProcessed, event.Status)
	require.Equal(t, "10.0.0.1", *event.IP)

	w = serve(r, http.MethodGet, "/v1/growth-events?user_id=7&status=PROCESSED", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), created.ID)

	w = serve(r, http.MethodGet, "/v1/users/7/ledger/points/verify", "")
	require.Equal(t, http.StatusOK, w.Code)
	var chain ledger.ChainStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &chain))
	require.True(t, chain.Valid)
	require.Equal(t, 1, chain.Entries)
}

func TestHandlerErrors(t *testing.T) {
	h := newHarness(t)
	r := newRouter(h)

	w := serve(r, http.MethodPost, "/v1/growth-events", `{"eventKey":"create","userId":"1"}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Contains(t, w.Body.String(), "business")

	w = serve(r, http.MethodGet, "/v1/growth-events/"+strconv.FormatInt(h.node.Generate().Int64(), 10), "")
	require.Equal(t, http.StatusNotFound, w.Code)

	w = serve(r, http.MethodGet, "/v1/growth-events/abc", "")
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = serve(r, http.MethodGet, "/v1/growth-events?status=UNKNOWN", "")
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = serve(r, http.MethodGet, "/v1/users/1/ledger/coins/verify", "")
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandlerCreateWithoutIPSkipsIPDimension(t *testing.T) {
	h := newHarness(t)
	h.seed(t, &member.User{ID: 1}, &member.User{ID: 2})
	h.seed(t, defaultRules()...)
	h.seed(t, &antifraud.SystemConfig{
		Key:   "growth.antifraud",
		Value: datatypes.JSON(`{"enabled":true,"ip":{"base":{"dailyLimit":1}}}`),
	})
	h.bus.Subscribe(h.svc.Process)
	r := newRouter(h)

	var ids []int64
	for _, user := range []string{"1", "2"} {
		w := serve(r, http.MethodPost, "/v1/growth-events",
			`{"business":"topic","eventKey":"create","userId":"`+user+`"}`)
		require.Equal(t, http.StatusAccepted, w.Code)

		var created struct {
			ID string `json:"id"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
		id, err := strconv.ParseInt(created.ID, 10, 64)
		require.NoError(t, err)
		ids = append(ids, id)
		h.bus.Wait()
	}

	for _, id := range ids {
		e, err := h.store.Get(context.Background(), id)
		require.NoError(t, err)
		require.Nil(t, e.IP)
		require.Equal(t, growthevent.StatusProcessed, e.Status)
	}
}

func TestHandlerRejectsNonIntegerUserID(t *testing.T) {
	h := newHarness(t)
	r := newRouter(h)

	w := serve(r, http.MethodPost, "/v1/growth-events",
		`{"business":"topic","eventKey":"create","userId":1.5}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Contains(t, w.Body.String(), "userId")
	require.Contains(t, w.Body.String(), "must be an integer")
	require.NotContains(t, w.Body.String(), "must be positive")
}
