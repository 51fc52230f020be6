package geocode

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newGeocoder(t *testing.T, handler http.HandlerFunc) (*Geocoder, *int32) {
	t.Helper()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	g := New(Config{
		Endpoint:  srv.URL,
		UserAgent: "sitecache-test/1.0",
		Spacing:   time.Millisecond,
	}, srv.Client(), nil)
	return g, &calls
}

func TestResolve(t *testing.T) {
	g, _ := newGeocoder(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Gothenburg", r.URL.Query().Get("q"))
		assert.Equal(t, "sitecache-test/1.0", r.Header.Get("User-Agent"))
		w.Write([]byte(`[{"lat":"57.7072","lon":"11.9668","display_name":"Gothenburg, Sweden","importance":0.8}]`))
	})

	p, err := g.Resolve(context.Background(), "Gothenburg")
	require.NoError(t, err)
	assert.InDelta(t, 57.7072, p.Lat, 1e-9)
	assert.InDelta(t, 11.9668, p.Lon, 1e-9)
	assert.Equal(t, "Gothenburg, Sweden", p.Name)
}

func TestResolve_Memoized(t *testing.T) {
	g, calls := newGeocoder(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"lat":"57.7","lon":"11.9","display_name":"Gothenburg"}]`))
	})

	for _, q := range []string{"Gothenburg", "gothenburg", "  Gothenburg  "} {
		_, err := g.Resolve(context.Background(), q)
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(calls))
}

func TestResolve_NoResult(t *testing.T) {
	g, _ := newGeocoder(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	})

	_, err := g.Resolve(context.Background(), "Nowhereville")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoResult)
}

func TestResolve_EmptyQuery(t *testing.T) {
	g, calls := newGeocoder(t, func(w http.ResponseWriter, r *http.Request) {})

	_, err := g.Resolve(context.Background(), "   ")
	require.Error(t, err)
	assert.Equal(t, int32(0), atomic.LoadInt32(calls))
}

func TestResolve_UpstreamStatus(t *testing.T) {
	g, _ := newGeocoder(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := g.Resolve(context.Background(), "Gothenburg")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}
