// Package ingest implements the gated digest-ingest activity: approve a
// newly ingested article version against status/run-type rules, then
// fetch, enrich, and idempotently upsert its digest document. Grounded on
// original_source/activity/activity_IngestDigestToEndpoint.py.
package ingest

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/elifesciences/pubflow/internal/activity"
	"github.com/elifesciences/pubflow/internal/adapters/articleversions"
	"github.com/elifesciences/pubflow/internal/adapters/digest"
	"github.com/elifesciences/pubflow/internal/objectstore"
	"github.com/elifesciences/pubflow/internal/session"
	"github.com/elifesciences/pubflow/internal/swfclient"
)

// Activity is the IngestDigestToEndpoint-style exemplar activity.
type Activity struct {
	ArticleVersionsURL string
	DigestEndpointURL  string
	OutboxBucket       string
	OutboxName         string // e.g. "digests"
	ArticleStoreBucket string
	PreviewBaseURL     string
	FirstVoROnly       bool
}

func New() *Activity {
	return &Activity{}
}

func (a *Activity) Name() string       { return "IngestDigestToEndpoint" }
func (a *Activity) PrettyName() string { return "Ingest Digest to API endpoint" }

func (a *Activity) Defaults() swfclient.TimeoutPolicy {
	return swfclient.TimeoutPolicy{
		HeartbeatTimeout: 30 * time.Second,
		ScheduleToStart:  30 * time.Second,
		ScheduleToClose:  5 * time.Minute,
		StartToClose:     5 * time.Minute,
	}
}

func (a *Activity) Do(ctx context.Context, rt *activity.Runtime, payload map[string]any) activity.Result {
	version, err := sessionOrPayloadString(ctx, rt, payload, "version")
	if err != nil {
		return activity.Result{Outcome: activity.PERMANENT_FAILURE, Detail: fmt.Sprintf("load version: %v", err)}
	}
	articleID, err := sessionOrPayloadString(ctx, rt, payload, "article_id")
	if err != nil {
		return activity.Result{Outcome: activity.PERMANENT_FAILURE, Detail: fmt.Sprintf("load article_id: %v", err)}
	}
	status, err := sessionOrPayloadString(ctx, rt, payload, "status")
	if err != nil {
		return activity.Result{Outcome: activity.PERMANENT_FAILURE, Detail: fmt.Sprintf("load status: %v", err)}
	}
	runType, err := sessionOrPayloadString(ctx, rt, payload, "run_type")
	if err != nil {
		return activity.Result{Outcome: activity.PERMANENT_FAILURE, Detail: fmt.Sprintf("load run_type: %v", err)}
	}

	rt.ArticleID = articleID
	rt.Version = version

	versionsClient := articleversions.NewClient(a.ArticleVersionsURL)

	approved, reasons := a.approve(ctx, versionsClient, articleID, status, version, runType)
	if !approved {
		rt.Logger.WithField("reasons", reasons).Info("ingest: article not approved for digest ingestion")
		return activity.Result{Outcome: activity.SUCCESS, Output: map[string]any{"approved": false, "reasons": reasons}}
	}

	if err := a.ingest(ctx, rt, versionsClient, articleID); err != nil {
		return activity.Result{Outcome: activity.TEMPORARY_FAILURE, Detail: err.Error()}
	}

	previewURL := a.previewURL(articleID, version)
	return activity.Result{
		Outcome: activity.SUCCESS,
		Detail:  fmt.Sprintf("ingested digest for %s, preview at %s", articleID, previewURL),
		Output:  map[string]any{"approved": true, "preview_url": previewURL},
	}
}

// previewURL composes the reader-facing preview link for one article
// version from configuration, matching the "<id>-v<version>" naming this
// codebase already uses for file identity (see internal/articleinfo).
func (a *Activity) previewURL(articleID, version string) string {
	if a.PreviewBaseURL == "" {
		return ""
	}
	return fmt.Sprintf("%s/%s-v%s", strings.TrimRight(a.PreviewBaseURL, "/"), articleID, version)
}

// approve implements the gated-ingest predicate: a boolean AND of every
// sub-check, each contributing a human-readable reason on disapproval.
func (a *Activity) approve(ctx context.Context, versions *articleversions.Client, articleID, status, version, runType string) (bool, []string) {
	var reasons []string
	approved := true

	if status == "poa" {
		approved = false
		reasons = append(reasons, fmt.Sprintf("not ingesting digest for PoA article %s", articleID))
	}

	if runType == "silent-correction" {
		ok, reason := approveSilentCorrection(ctx, versions, articleID, version)
		if !ok {
			approved = false
			reasons = append(reasons, reason)
		}
	}

	if a.FirstVoROnly {
		first, err := versions.FirstByStatus(ctx, articleID, "vor")
		if err != nil {
			approved = false
			reasons = append(reasons, fmt.Sprintf("error checking first-vor status for %s: %v", articleID, err))
		} else if !first {
			approved = false
			reasons = append(reasons, fmt.Sprintf("article %s's first version is not vor", articleID))
		}
	}

	return approved, reasons
}

// approveSilentCorrection holds iff the version being ingested is at least
// the highest known version. A 404 from the versions service (no versions
// recorded yet) is reported by Highest as 1, so a silent correction to
// version 1 of a never-before-seen article still approves; only a genuine
// lookup failure disapproves, since there is no sound integer comparison
// against an absent value.
func approveSilentCorrection(ctx context.Context, versions *articleversions.Client, articleID, version string) (bool, string) {
	v, err := strconv.Atoi(version)
	if err != nil {
		return false, fmt.Sprintf("non-integer version %q for %s", version, articleID)
	}

	highest, err := versions.Highest(ctx, articleID)
	if err != nil {
		return false, fmt.Sprintf("error obtaining highest version for %s: %v", articleID, err)
	}
	if v < *highest {
		return false, fmt.Sprintf("version %d is less than highest version %d for %s", v, *highest, articleID)
	}
	return true, ""
}

// ingest fetches the digest source document from the outbox, enriches it
// with JATS metadata and related-article snippets, preserves the stage
// and published timestamp of any already-published record, and
// idempotently upserts the result to the digest endpoint.
func (a *Activity) ingest(ctx context.Context, rt *activity.Runtime, versions *articleversions.Client, articleID string) error {
	digestKey := objectstore.OutboxKey(a.OutboxName, articleID+".json")

	var buf digestBuffer
	if err := rt.Objects.Get(ctx, a.OutboxBucket, digestKey, &buf); err != nil {
		return fmt.Errorf("ingest: fetch digest source: %w", err)
	}

	body := a.enrichDigest(ctx, rt, versions, articleID, buf.Bytes())

	digestClient := digest.NewClient(a.DigestEndpointURL)
	body, err := preserveExistingStage(ctx, digestClient, articleID, body)
	if err != nil {
		rt.Logger.WithError(err).Info("ingest: could not fetch existing digest record, defaulting to preview stage")
	}

	if err := digestClient.Put(ctx, articleID, body); err != nil {
		return fmt.Errorf("ingest: upsert digest: %w", err)
	}
	return nil
}

// preserveExistingStage fetches the currently-published digest record, if
// any, and carries its stage/published fields forward onto the new body.
// A record with no recorded stage, or no existing record at all, defaults
// to stage "preview".
func preserveExistingStage(ctx context.Context, digestClient *digest.Client, articleID string, body []byte) ([]byte, error) {
	var doc map[string]any
	if err := json.Unmarshal(body, &doc); err != nil {
		return body, nil
	}

	existingBody, found, err := digestClient.Get(ctx, articleID)
	if err != nil {
		doc["stage"] = "preview"
		out, marshalErr := json.Marshal(doc)
		if marshalErr != nil {
			return body, marshalErr
		}
		return out, err
	}

	doc["stage"] = "preview"
	if found {
		var existing map[string]any
		if err := json.Unmarshal(existingBody, &existing); err == nil {
			if stage, ok := existing["stage"]; ok && stage == "published" {
				doc["stage"] = "published"
				if published, ok := existing["published"]; ok {
					doc["published"] = published
				}
			}
		}
	}

	out, err := json.Marshal(doc)
	if err != nil {
		return body, err
	}
	return out, nil
}

// sessionOrPayloadString reads key from the run's session, falling back to
// the activity task's input payload when the session has never had it
// written. The gated-ingest exemplar is a single-activity workflow: there
// is no preceding step to populate version/article_id/status/run_type in
// session, so the starter that triggered this run seeds them as input
// instead. A longer workflow with an upstream metadata step would write
// these to session, which this lookup still honors first.
func sessionOrPayloadString(ctx context.Context, rt *activity.Runtime, payload map[string]any, key string) (string, error) {
	v, ok, err := session.LoadString(ctx, rt.Session, rt.Run, key)
	if err != nil {
		return "", err
	}
	if ok {
		return v, nil
	}
	s, _ := payload[key].(string)
	return s, nil
}

// jatsArticleMeta is the minimal JATS shape this pipeline needs from the
// article-store bucket: just enough to enrich a digest with the DOI the
// source digest JSON may not itself carry.
type jatsArticleMeta struct {
	XMLName xml.Name `xml:"article"`
	DOI     string   `xml:"doi"`
}

// enrichDigest merges JATS-sourced metadata from the article-store bucket
// and related-article version snippets from the article-versions service
// into the raw digest JSON. Failure to fetch or parse either enrichment
// source is logged and skipped rather than propagated: a partial digest
// is still preferable to none.
func (a *Activity) enrichDigest(ctx context.Context, rt *activity.Runtime, versions *articleversions.Client, articleID string, raw []byte) []byte {
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		rt.Logger.WithError(err).Warn("ingest: digest source is not valid JSON, skipping enrichment")
		return raw
	}

	if a.ArticleStoreBucket != "" {
		var buf digestBuffer
		key := objectstore.OutboxKey("articles", articleID+".xml")
		if err := rt.Objects.Get(ctx, a.ArticleStoreBucket, key, &buf); err != nil {
			rt.Logger.WithError(err).Info("ingest: no JATS source available for enrichment")
		} else {
			var meta jatsArticleMeta
			if err := xml.Unmarshal(buf.Bytes(), &meta); err != nil {
				rt.Logger.WithError(err).Warn("ingest: failed to parse JATS source for enrichment")
			} else if meta.DOI != "" {
				doc["doi"] = meta.DOI
			}
		}
	}

	if versions != nil {
		if recs, found, err := versions.Versions(ctx, articleID); err == nil && found {
			related := make([]map[string]any, 0, len(recs))
			for _, v := range recs {
				related = append(related, map[string]any{"version": v.Version, "status": v.Status})
			}
			doc["relatedVersions"] = related
		}
	}

	body, err := json.Marshal(doc)
	if err != nil {
		rt.Logger.WithError(err).Warn("ingest: failed to re-encode enriched digest, using source unmodified")
		return raw
	}
	return body
}

// digestBuffer adapts an in-memory buffer to the io.Writer the
// object-store Get expects while still exposing Bytes for downstream use.
type digestBuffer struct {
	data []byte
}

func (b *digestBuffer) Write(p []byte) (int, error) {
	b.data = append(b.data, p...)
	return len(p), nil
}

func (b *digestBuffer) Bytes() []byte { return b.data }

var _ io.Writer = (*digestBuffer)(nil)
