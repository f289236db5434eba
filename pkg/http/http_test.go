package http

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientGetJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v3/ping":
			assert.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
			_, _ = w.Write([]byte(`{"ok":true}`))
		default:
			http.Error(w, "nope", http.StatusTeapot)
		}
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL + "/"))
	var out struct{ OK bool }
	require.NoError(t, c.GetJSON(context.Background(), "/api/v3/ping", url.Values{"symbol": {"BTCUSDT"}}, &out))
	assert.True(t, out.OK)

	err := c.GetJSON(context.Background(), "missing", nil, &out)
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusTeapot, se.Code)
}

type bindReq struct {
	Symbol string `query:"symbol" json:"symbol" validate:"required"`
	N      int    `query:"n" json:"n" default:"100" validate:"gte=1,lte=1000"`
	Side   string `query:"side" json:"side" validate:"omitempty,oneof=long short"`
}

func TestReadAndValidateRequest(t *testing.T) {
	e := echo.New()
	bind := func(q string) (bindReq, []ValidationError) {
		req := httptest.NewRequest(http.MethodGet, "/x?"+q, nil)
		c := e.NewContext(req, httptest.NewRecorder())
		var r bindReq
		return r, ReadAndValidateRequest(c, &r)
	}

	r, errs := bind("symbol=BTC/USDT")
	require.Nil(t, errs)
	_ = r

	_, errs = bind("n=5")
	require.Len(t, errs, 1)
	assert.Equal(t, "ERR_REQUIRED", errs[0].Code)
	assert.Equal(t, "Symbol", errs[0].Field)

	_, errs = bind("symbol=X&side=up&n=5000")
	require.Len(t, errs, 2)
	codes := []string{errs[0].Code, errs[1].Code}
	assert.ElementsMatch(t, []string{"ERR_LTE", "ERR_ONEOF"}, codes)
}

func TestReadAndValidateRequestAppliesDefaults(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/x", strings.NewReader(`{"symbol":"ETH/USDT"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	c := e.NewContext(req, httptest.NewRecorder())
	var r bindReq
	require.Nil(t, ReadAndValidateRequest(c, &r))
	assert.Equal(t, 100, r.N)
	assert.Equal(t, "ETH/USDT", r.Symbol)
}

func TestAppErrorResponse(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)

	require.NoError(t, AppErrorResponse(c, NotFoundErrorf("no position for %s", "BTC/USDT")))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "ERR_NOT_FOUND")

	rec = httptest.NewRecorder()
	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
	require.NoError(t, AppErrorResponse(c, errors.New("db down")))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "db down")
}
