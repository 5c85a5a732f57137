package datasource

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTencentID(t *testing.T) {
	assert.Equal(t, "sh600519", tencentID("600519.SS"))
	assert.Equal(t, "sz000001", tencentID("000001.SZ"))
}

func TestTencentProviderFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"code": 0,
			"data": {
				"sh600519": {
					"qfqday": [
						["2026-08-27", "1000.00", "1010.00", "1015.00", "995.00", "120000"],
						["2026-08-28", "1010.00", "1020.00", "1025.00", "1005.00", "130000"]
					]
				}
			}
		}`))
	}))
	defer srv.Close()
	p := NewTencentProvider(WithTencentBaseURL(srv.URL), WithTencentClient(srv.Client()))

	bars, err := p.Fetch(context.Background(), "600519.SS", "1y", time.Now())
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, 1010.0, bars[0].Close)
	assert.Equal(t, 1015.0, bars[0].High)
	assert.Equal(t, 130000.0, bars[1].Volume)
}

func TestTencentProviderNoData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":0,"data":{}}`))
	}))
	defer srv.Close()
	p := NewTencentProvider(WithTencentBaseURL(srv.URL), WithTencentClient(srv.Client()))

	_, err := p.Fetch(context.Background(), "600519.SS", "1y", time.Now())
	assert.ErrorIs(t, err, ErrDataUnavailable)
}

func TestYahooProviderFetch(t *testing.T) {
	ts1 := time.Date(2026, 8, 27, 7, 0, 0, 0, time.UTC).Unix()
	ts2 := time.Date(2026, 8, 28, 7, 0, 0, 0, time.UTC).Unix()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "600519.SS")
		w.Write([]byte(`{
			"chart": {
				"result": [{
					"timestamp": [` + strconv.FormatInt(ts1, 10) + `,` + strconv.FormatInt(ts2, 10) + `],
					"indicators": {"quote": [{
						"open": [1000.0, 1010.0],
						"high": [1015.0, 1025.0],
						"low": [995.0, null],
						"close": [1010.0, 1020.0],
						"volume": [120000, 130000]
					}]}
				}],
				"error": null
			}
		}`))
	}))
	defer srv.Close()
	p := NewYahooProvider(WithYahooBaseURL(srv.URL), WithYahooClient(srv.Client()))

	bars, err := p.Fetch(context.Background(), "600519.SS", "1y", time.Now())
	require.NoError(t, err)
	// The second row has a null low and is dropped.
	require.Len(t, bars, 1)
	assert.Equal(t, 1010.0, bars[0].Close)
	assert.Equal(t, 120000.0, bars[0].Volume)
}

func TestYahooProviderChartError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"chart":{"result":null,"error":{"code":"Not Found"}}}`))
	}))
	defer srv.Close()
	p := NewYahooProvider(WithYahooBaseURL(srv.URL), WithYahooClient(srv.Client()))

	_, err := p.Fetch(context.Background(), "600519.SS", "1y", time.Now())
	assert.ErrorIs(t, err, ErrDataUnavailable)
}
