package ingest

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elifesciences/pubflow/internal/activity"
	"github.com/elifesciences/pubflow/internal/adapters/articleversions"
	"github.com/elifesciences/pubflow/internal/logging"
	"github.com/elifesciences/pubflow/internal/monitor"
	"github.com/elifesciences/pubflow/internal/objectstore"
	"github.com/elifesciences/pubflow/internal/session"
)

func testLogger() *logging.ContextLogger {
	return logging.NewContextLogger(logging.New(logging.Config{Level: "error"}), nil)
}

func newTestSession(t *testing.T) session.Store {
	t.Helper()
	server := miniredis.RunT(t)
	store, err := session.NewRedisStore(context.Background(), "redis://"+server.Addr())
	require.NoError(t, err)
	return store
}

func newVersionsServer(t *testing.T, body string, status int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
}

func TestApprove_PoaArticleDisapproved(t *testing.T) {
	server := newVersionsServer(t, "", http.StatusNotFound)
	defer server.Close()
	versions := articleversions.NewClient(server.URL + "/articles/{article_id}/versions")

	a := &Activity{}
	approved, reasons := a.approve(context.Background(), versions, "elife-00777", "poa", "1", "")

	assert.False(t, approved)
	require.Len(t, reasons, 1)
	assert.Contains(t, reasons[0], "PoA")
}

func TestApprove_VorArticleApproved(t *testing.T) {
	server := newVersionsServer(t, "", http.StatusNotFound)
	defer server.Close()
	versions := articleversions.NewClient(server.URL + "/articles/{article_id}/versions")

	a := &Activity{}
	approved, reasons := a.approve(context.Background(), versions, "elife-00777", "vor", "1", "")

	assert.True(t, approved)
	assert.Empty(t, reasons)
}

func TestApprove_SilentCorrectionAtHighestVersionApproved(t *testing.T) {
	server := newVersionsServer(t, `{"versions":[{"version":2,"status":"vor"}]}`, http.StatusOK)
	defer server.Close()
	versions := articleversions.NewClient(server.URL + "/articles/{article_id}/versions")

	a := &Activity{}
	approved, reasons := a.approve(context.Background(), versions, "elife-00777", "vor", "2", "silent-correction")

	assert.True(t, approved)
	assert.Empty(t, reasons)
}

func TestApprove_SilentCorrectionBelowHighestVersionDisapproved(t *testing.T) {
	server := newVersionsServer(t, `{"versions":[{"version":3,"status":"vor"}]}`, http.StatusOK)
	defer server.Close()
	versions := articleversions.NewClient(server.URL + "/articles/{article_id}/versions")

	a := &Activity{}
	approved, reasons := a.approve(context.Background(), versions, "elife-00777", "vor", "2", "silent-correction")

	assert.False(t, approved)
	require.Len(t, reasons, 1)
	assert.Contains(t, reasons[0], "less than highest")
}

func TestApprove_SilentCorrectionNoRecordedVersionsApprovedAtVersionOne(t *testing.T) {
	server := newVersionsServer(t, "", http.StatusNotFound)
	defer server.Close()
	versions := articleversions.NewClient(server.URL + "/articles/{article_id}/versions")

	a := &Activity{}
	approved, reasons := a.approve(context.Background(), versions, "elife-00777", "vor", "1", "silent-correction")

	assert.True(t, approved)
	assert.Empty(t, reasons)
}

func TestApprove_SilentCorrectionLookupFailureDisapproved(t *testing.T) {
	server := newVersionsServer(t, "", http.StatusInternalServerError)
	defer server.Close()
	versions := articleversions.NewClient(server.URL + "/articles/{article_id}/versions")

	a := &Activity{}
	approved, reasons := a.approve(context.Background(), versions, "elife-00777", "vor", "1", "silent-correction")

	assert.False(t, approved)
	require.Len(t, reasons, 1)
	assert.Contains(t, reasons[0], "error obtaining highest version")
}

func TestApprove_FirstVoROnlyRejectsNonFirstVor(t *testing.T) {
	server := newVersionsServer(t, `{"versions":[{"version":1,"status":"poa"},{"version":2,"status":"vor"}]}`, http.StatusOK)
	defer server.Close()
	versions := articleversions.NewClient(server.URL + "/articles/{article_id}/versions")

	a := &Activity{FirstVoROnly: true}
	approved, reasons := a.approve(context.Background(), versions, "elife-00777", "vor", "2", "")

	assert.False(t, approved)
	require.Len(t, reasons, 1)
	assert.Contains(t, reasons[0], "first version is not vor")
}

func TestApproveSilentCorrection_NonIntegerVersionDisapproved(t *testing.T) {
	server := newVersionsServer(t, "", http.StatusNotFound)
	defer server.Close()
	versions := articleversions.NewClient(server.URL + "/articles/{article_id}/versions")

	ok, reason := approveSilentCorrection(context.Background(), versions, "elife-00777", "not-a-number")
	assert.False(t, ok)
	assert.Contains(t, reason, "non-integer version")
}

func TestDo_DisapprovedReturnsSuccessWithoutIngest(t *testing.T) {
	versionsServer := newVersionsServer(t, "", http.StatusNotFound)
	defer versionsServer.Close()

	store := objectstore.NewMemStore()
	sess := newTestSession(t)
	sink := monitor.NewFanout(testLogger(), nil, nil)

	rt, err := activity.NewRuntime(nil, testLogger(), sess, store, sink, "run1", "ingest")
	require.NoError(t, err)
	defer rt.Close()

	a := &Activity{ArticleVersionsURL: versionsServer.URL + "/articles/{article_id}/versions"}
	payload := map[string]any{"article_id": "elife-00777", "version": "1", "status": "poa", "run_type": ""}

	result := a.Do(context.Background(), rt, payload)

	assert.Equal(t, activity.SUCCESS, result.Outcome)
	assert.Equal(t, false, result.Output["approved"])
}

func TestDo_ApprovedIngestEnrichesAndPreservesPublishedStage(t *testing.T) {
	versionsServer := newVersionsServer(t, `{"versions":[{"version":1,"status":"poa"},{"version":2,"status":"vor"}]}`, http.StatusOK)
	defer versionsServer.Close()

	var putBody []byte
	digestServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"id":"elife-00777","stage":"published","published":"2020-01-02T03:04:05Z"}`))
		case http.MethodPut:
			putBody, _ = io.ReadAll(r.Body)
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer digestServer.Close()

	store := objectstore.NewMemStore()
	sess := newTestSession(t)
	sink := monitor.NewFanout(testLogger(), nil, nil)

	rt, err := activity.NewRuntime(nil, testLogger(), sess, store, sink, "run2", "ingest")
	require.NoError(t, err)
	defer rt.Close()

	digestJSON := `{"id":"elife-00777","title":"Example"}`
	require.NoError(t, store.Put(context.Background(), "digests-bucket", objectstore.OutboxKey("digests", "elife-00777.json"), strings.NewReader(digestJSON)))

	jatsXML := `<article id="elife-00777"><doi>10.7554/eLife.00777</doi></article>`
	require.NoError(t, store.Put(context.Background(), "digests-bucket", objectstore.OutboxKey("articles", "elife-00777.xml"), strings.NewReader(jatsXML)))

	a := &Activity{
		ArticleVersionsURL: versionsServer.URL + "/articles/{article_id}/versions",
		DigestEndpointURL:  digestServer.URL,
		OutboxBucket:       "digests-bucket",
		OutboxName:         "digests",
		ArticleStoreBucket: "digests-bucket",
		PreviewBaseURL:     "https://preview.elifesciences.org",
	}
	payload := map[string]any{"article_id": "elife-00777", "version": "2", "status": "vor", "run_type": ""}

	result := a.Do(context.Background(), rt, payload)

	assert.Equal(t, activity.SUCCESS, result.Outcome)
	assert.Equal(t, true, result.Output["approved"])
	assert.Equal(t, "https://preview.elifesciences.org/elife-00777-v2", result.Output["preview_url"])
	assert.Contains(t, result.Detail, "https://preview.elifesciences.org/elife-00777-v2")

	var put map[string]any
	require.NoError(t, json.Unmarshal(putBody, &put))
	assert.Equal(t, "10.7554/eLife.00777", put["doi"])
	assert.Equal(t, "published", put["stage"])
	assert.Equal(t, "2020-01-02T03:04:05Z", put["published"])
	related, ok := put["relatedVersions"].([]any)
	require.True(t, ok)
	assert.Len(t, related, 2)
}

func TestDo_ApprovedWithNoExistingDigestDefaultsToPreviewStage(t *testing.T) {
	versionsServer := newVersionsServer(t, "", http.StatusNotFound)
	defer versionsServer.Close()

	var putBody []byte
	digestServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPut {
			putBody, _ = io.ReadAll(r.Body)
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer digestServer.Close()

	store := objectstore.NewMemStore()
	sess := newTestSession(t)
	sink := monitor.NewFanout(testLogger(), nil, nil)

	rt, err := activity.NewRuntime(nil, testLogger(), sess, store, sink, "run3", "ingest")
	require.NoError(t, err)
	defer rt.Close()

	digestJSON := `{"id":"elife-00777","title":"Example"}`
	require.NoError(t, store.Put(context.Background(), "digests-bucket", objectstore.OutboxKey("digests", "elife-00777.json"), strings.NewReader(digestJSON)))

	a := &Activity{
		ArticleVersionsURL: versionsServer.URL + "/articles/{article_id}/versions",
		DigestEndpointURL:  digestServer.URL,
		OutboxBucket:       "digests-bucket",
		OutboxName:         "digests",
	}
	payload := map[string]any{"article_id": "elife-00777", "version": "1", "status": "vor", "run_type": ""}

	result := a.Do(context.Background(), rt, payload)

	assert.Equal(t, activity.SUCCESS, result.Outcome)
	var put map[string]any
	require.NoError(t, json.Unmarshal(putBody, &put))
	assert.Equal(t, "preview", put["stage"])
	assert.NotContains(t, put, "relatedVersions")
	assert.NotContains(t, put, "doi")
}

func TestSessionOrPayloadString_PrefersSessionOverPayload(t *testing.T) {
	sess := newTestSession(t)
	require.NoError(t, sess.StoreValue(context.Background(), "run1", "status", "vor"))

	rt := &activity.Runtime{Session: sess, Run: "run1"}
	v, err := sessionOrPayloadString(context.Background(), rt, map[string]any{"status": "poa"}, "status")

	require.NoError(t, err)
	assert.Equal(t, "vor", v)
}

func TestSessionOrPayloadString_FallsBackToPayload(t *testing.T) {
	sess := newTestSession(t)
	rt := &activity.Runtime{Session: sess, Run: "run1"}

	v, err := sessionOrPayloadString(context.Background(), rt, map[string]any{"status": "poa"}, "status")

	require.NoError(t, err)
	assert.Equal(t, "poa", v)
}
