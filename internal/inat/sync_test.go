package inat

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfield/inatmirror/internal/normalize"
)

// fakeAPI is a minimal three-endpoint stand-in for the real service:
// user lookup, id listing, per-observation fetch. It answers 304 to any
// conditional request, which makes a second sync a pure cache pass.
func fakeAPI(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-Modified-Since") != "" {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		switch r.URL.Path {
		case "/users/mossy":
			writeJSON(w, userBody)
		case "/observations":
			writeJSON(w, `{"page":1,"per_page":200,"total_results":2,"results":[{"id":100},{"id":101}]}`)
		case "/observations/100":
			writeJSON(w, fmt.Sprintf(
				`{"page":1,"per_page":1,"total_results":1,"results":[%s]}`,
				`{"id":100,"species_guess":"oak",
				  "user":{"id":7,"login":"mossy"},
				  "taxon":{"id":61,"name":"Quercus","ancestors":[{"id":60,"name":"Fagales"}]},
				  "photos":[{"id":81,"url":"https://img/81.jpg"}]}`))
		case "/observations/101":
			writeJSON(w, fmt.Sprintf(
				`{"page":1,"per_page":1,"total_results":1,"results":[%s]}`,
				`{"id":101,"species_guess":"moss","user":{"id":7,"login":"mossy"}}`))
		default:
			t.Errorf("unexpected request path %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func TestSyncAll(t *testing.T) {
	srv := fakeAPI(t)
	defer srv.Close()

	client, store, _ := newTestClient(t, srv.URL)
	require.NoError(t, client.SyncAll(context.Background(), "mossy"))

	// The listing and the alias are in place.
	list, err := store.ReadIDList(client.listingPath(7))
	require.NoError(t, err)
	require.NotNil(t, list)
	assert.Equal(t, []uint64{100, 101}, list.IDs)
	dest, err := os.Readlink(filepath.Join(store.KindDir(normalize.KindUsers), "mossy.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "7.yaml", dest)

	// Observations are stored decomposed: embedded objects replaced by
	// their ids, the objects themselves filed under their own kinds.
	_, obs, err := store.ReadEntityFile(store.EntityPath(normalize.KindObservations, 100))
	require.NoError(t, err)
	require.NotNil(t, obs)
	assert.EqualValues(t, 7, obs["user"])
	assert.EqualValues(t, 61, obs["taxon"])
	assert.Equal(t, []any{81}, obs["photos"])

	for _, check := range []struct {
		kind string
		id   uint64
	}{
		{normalize.KindUsers, 7},
		{normalize.KindTaxa, 61},
		{normalize.KindTaxa, 60},
		{normalize.KindPhotos, 81},
		{normalize.KindObservations, 101},
	} {
		assert.FileExists(t, store.EntityPath(check.kind, check.id),
			"%s/%d must be filed", check.kind, check.id)
	}

	_, taxon, err := store.ReadEntityFile(store.EntityPath(normalize.KindTaxa, 61))
	require.NoError(t, err)
	assert.Equal(t, "Quercus", taxon["name"])
	assert.Equal(t, []any{60}, taxon["ancestors"])
}

func TestSyncAllSecondRunIsAllCacheHits(t *testing.T) {
	srv := fakeAPI(t)
	defer srv.Close()

	client, store, _ := newTestClient(t, srv.URL)
	require.NoError(t, client.SyncAll(context.Background(), "mossy"))

	obsPath := store.EntityPath(normalize.KindObservations, 100)
	before, err := os.ReadFile(obsPath)
	require.NoError(t, err)

	require.NoError(t, client.SyncAll(context.Background(), "mossy"))
	after, err := os.ReadFile(obsPath)
	require.NoError(t, err)
	assert.Equal(t, before, after, "an unchanged mirror must not be rewritten")
}
