package cdn

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPurgeArticle_SendsFastlyKeyAndSurrogateKeysPerService(t *testing.T) {
	var gotPaths []string
	var gotKey string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPaths = append(gotPaths, r.URL.Path)
		gotKey = r.Header.Get("Fastly-Key")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := &Client{httpClient: server.Client(), baseURL: server.URL, apiKey: "api-key-1", serviceIDs: []string{"svc1", "svc2"}}
	err := client.PurgeArticle(context.Background(), "777", "2")

	require.NoError(t, err)
	assert.Equal(t, "api-key-1", gotKey)
	assert.ElementsMatch(t, []string{
		"/service/svc1/purge/articles/00777v2",
		"/service/svc1/purge/articles/00777/videos",
		"/service/svc2/purge/articles/00777v2",
		"/service/svc2/purge/articles/00777/videos",
	}, gotPaths)
}

func TestPurgeArticle_UnexpectedStatusIsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := &Client{httpClient: server.Client(), baseURL: server.URL, apiKey: "api-key-1", serviceIDs: []string{"svc1"}}
	err := client.PurgeArticle(context.Background(), "777", "2")
	assert.Error(t, err)
}

func TestSurrogateKeys_ZeroPadsArticleID(t *testing.T) {
	keys := surrogateKeys("777", "3")
	assert.Equal(t, []string{"articles/00777v3", "articles/00777/videos"}, keys)
}

func TestZfill_LeavesLongerStringsUnchanged(t *testing.T) {
	assert.Equal(t, "12345", zfill("12345", 5))
	assert.Equal(t, "123456", zfill("123456", 5))
}
