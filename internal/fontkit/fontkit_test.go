package fontkit_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/certforge/certforge/internal/fontkit"
)

func TestResolveBuiltins(t *testing.T) {
	r := fontkit.NewWebResolver("http://127.0.0.1:0/css", time.Second)

	face, err := r.Resolve(context.Background(), fontkit.FamilySans, false)
	require.NoError(t, err)
	assert.Equal(t, "Helvetica", face.Family)
	assert.Equal(t, "", face.Style)
	assert.Nil(t, face.Bytes, "core fonts are not embedded")

	face, err = r.Resolve(context.Background(), fontkit.FamilySerif, true)
	require.NoError(t, err)
	assert.Equal(t, "Times", face.Family)
	assert.Equal(t, "B", face.Style)

	face, err = r.Resolve(context.Background(), fontkit.FamilyMono, false)
	require.NoError(t, err)
	assert.Equal(t, "Courier", face.Family)
}

// webfontServer serves a stylesheet pointing at a real TrueType program.
func webfontServer(t *testing.T, requests *[]*http.Request) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	var srv *httptest.Server
	mux.HandleFunc("/css", func(w http.ResponseWriter, r *http.Request) {
		*requests = append(*requests, r)
		fmt.Fprintf(w, "@font-face {\n  font-family: 'Open Sans';\n  src: url(%s/fonts/opensans.ttf) format('truetype');\n}\n", srv.URL)
	})
	mux.HandleFunc("/fonts/opensans.ttf", func(w http.ResponseWriter, r *http.Request) {
		w.Write(goregular.TTF)
	})
	srv = httptest.NewServer(mux)
	return srv
}

func TestResolveWebfont(t *testing.T) {
	var requests []*http.Request
	srv := webfontServer(t, &requests)
	defer srv.Close()

	r := fontkit.NewWebResolver(srv.URL+"/css", 5*time.Second)
	face, err := r.Resolve(context.Background(), "Open Sans", true)
	require.NoError(t, err)
	assert.Equal(t, "Open Sans", face.Family)
	assert.Equal(t, "B", face.Style)
	assert.NotEmpty(t, face.Bytes, "webfonts are embedded from downloaded bytes")

	require.Len(t, requests, 1)
	assert.Equal(t, "Open Sans:700", requests[0].URL.Query().Get("family"), "bold requests the 700 weight")
	ua := requests[0].Header.Get("User-Agent")
	assert.Contains(t, ua, "Gecko", "legacy user agent forces the raw TrueType format")
}

func TestResolveWebfontRegularWeight(t *testing.T) {
	var requests []*http.Request
	srv := webfontServer(t, &requests)
	defer srv.Close()

	r := fontkit.NewWebResolver(srv.URL+"/css", 5*time.Second)
	_, err := r.Resolve(context.Background(), "Open Sans", false)
	require.NoError(t, err)
	require.Len(t, requests, 1)
	assert.Equal(t, "Open Sans:400", requests[0].URL.Query().Get("family"))
}

func TestResolveFailures(t *testing.T) {
	t.Run("stylesheet status", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.NotFound(w, r)
		}))
		defer srv.Close()
		r := fontkit.NewWebResolver(srv.URL+"/css", 5*time.Second)
		_, err := r.Resolve(context.Background(), "Open Sans", false)
		assert.Error(t, err)
	})

	t.Run("no font URL in stylesheet", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, "@font-face { src: url(data:font/woff2;base64,AAAA) format('woff2'); }")
		}))
		defer srv.Close()
		r := fontkit.NewWebResolver(srv.URL+"/css", 5*time.Second)
		_, err := r.Resolve(context.Background(), "Open Sans", false)
		assert.Error(t, err)
	})

	t.Run("download is not a font", func(t *testing.T) {
		mux := http.NewServeMux()
		var srv *httptest.Server
		mux.HandleFunc("/css", func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprintf(w, "@font-face { src: url(%s/fonts/bad.ttf); }", srv.URL)
		})
		mux.HandleFunc("/fonts/bad.ttf", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("garbage bytes, not a TrueType program"))
		})
		srv = httptest.NewServer(mux)
		defer srv.Close()
		r := fontkit.NewWebResolver(srv.URL+"/css", 5*time.Second)
		_, err := r.Resolve(context.Background(), "Open Sans", false)
		assert.Error(t, err, "sfnt validation rejects non-font payloads")
	})

	t.Run("endpoint unreachable", func(t *testing.T) {
		r := fontkit.NewWebResolver("http://127.0.0.1:0/css", time.Second)
		_, err := r.Resolve(context.Background(), "Open Sans", false)
		assert.Error(t, err)
	})
}

// countingResolver counts Resolve calls for cache tests.
type countingResolver struct {
	calls int32
	fail  bool
}

func (r *countingResolver) Resolve(ctx context.Context, family string, bold bool) (*fontkit.Face, error) {
	atomic.AddInt32(&r.calls, 1)
	if r.fail {
		return nil, errors.New("resolver down")
	}
	return &fontkit.Face{Family: family}, nil
}

func TestCacheMemoizesPerKey(t *testing.T) {
	inner := &countingResolver{}
	cache := fontkit.NewCache(inner)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := cache.Resolve(ctx, "Open Sans", false)
		require.NoError(t, err)
	}
	_, err := cache.Resolve(ctx, "Open Sans", true)
	require.NoError(t, err)

	assert.Equal(t, int32(2), atomic.LoadInt32(&inner.calls), "one fetch per (family, weight)")

	face, ok := cache.Lookup("Open Sans", false)
	require.True(t, ok)
	assert.Equal(t, "Open Sans", face.Family)
	_, ok = cache.Lookup("Unseen Family", false)
	assert.False(t, ok)
}

func TestCacheDoesNotCacheFailures(t *testing.T) {
	inner := &countingResolver{fail: true}
	cache := fontkit.NewCache(inner)
	ctx := context.Background()

	_, err := cache.Resolve(ctx, "Open Sans", false)
	assert.Error(t, err)
	_, err = cache.Resolve(ctx, "Open Sans", false)
	assert.Error(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&inner.calls))
}

func TestFallbackFace(t *testing.T) {
	face := fontkit.Fallback(true)
	assert.Equal(t, "Helvetica", face.Family)
	assert.Equal(t, "B", face.Style)
	assert.Nil(t, face.Bytes)
}
