// Package deposit implements the outbox→deposit batch activity: list the
// outbox, download, generate deposit documents, approve, publish, archive,
// and notify. Grounded on
// original_source/activity/activity_DepositCrossref.py, with its mutable
// self.statuses dict replaced by an immutable Statuses record threaded
// through pure phase functions.
package deposit

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/elifesciences/pubflow/internal/activity"
	"github.com/elifesciences/pubflow/internal/adapters/articleversions"
	"github.com/elifesciences/pubflow/internal/adapters/cdn"
	"github.com/elifesciences/pubflow/internal/adapters/crossref"
	"github.com/elifesciences/pubflow/internal/adapters/mail"
	"github.com/elifesciences/pubflow/internal/adapters/pubmed"
	"github.com/elifesciences/pubflow/internal/articleinfo"
	"github.com/elifesciences/pubflow/internal/objectstore"
	"github.com/elifesciences/pubflow/internal/swfclient"
)

// Statuses is the immutable bookkeeping record threaded through every
// phase, replacing a mutable self.statuses dict with a struct returned (not
// mutated) by each phase function.
type Statuses struct {
	Download bool
	Generate bool
	Approve  bool
	Publish  bool
	Outbox   bool
	Purge    bool
	Email    bool
	Activity bool
}

// ArticleRecord is the parsed shape of one outbox XML file, enriched with
// publication date and version from the article-versions service as
// needed.
type ArticleRecord struct {
	DOI       string
	ArticleID string
	Version   string
	PubDate   time.Time
	Title     string
	PeerReview *PeerReviewInfo
}

type PeerReviewInfo struct {
	ReviewArticles []ReviewArticle
}

type ReviewArticle struct {
	Editors []Contributor
	Authors []Contributor
}

type Contributor struct {
	Name string
	Role string
}

// batch is the per-run state the phase functions close over: the set of
// downloaded files and which bucket/key they came from.
type batch struct {
	dateStamp         string
	outboxKeys        []string
	downloaded        map[string]string // key -> local path
	published         []string          // local file paths approved+generated
	publishedSource   map[string]string // output path -> original outbox key
	publishedRecords  []ArticleRecord   // one entry per published path, same order as published
	notPublished      []string
	httpDetail        []string
	crossrefClient    *crossref.Client
	pubmedClient      *pubmed.Client
	articleVersions   *articleversions.Client
	mailClient        *mail.Client
	cdnClient         *cdn.Client
	adminRecipients   []string
	fromEmail         string
	outboxBucket      string
	name              string // e.g. "crossref"; roots the outbox/published prefixes
}

// Activity is the DepositCrossref-style exemplar activity.
type Activity struct {
	ArticleVersionsURL string
	CrossrefURL        string
	CrossrefLogin      string
	CrossrefPassword   string
	PubMedAddr         string
	PubMedUser         string
	PubMedPassword     string
	PubMedRemoteDir    string
	SMTPHost           string
	SMTPPort           int
	SMTPUser           string
	SMTPPassword       string
	FromEmail          string
	AdminRecipients    []string
	OutboxBucket       string
	Name               string // e.g. "crossref"
	FastlyAPIKey       string
	FastlyServiceIDs   []string
}

func New() *Activity {
	return &Activity{}
}

func (a *Activity) Name() string       { return "DepositCrossref" }
func (a *Activity) PrettyName() string { return "Deposit Crossref" }

func (a *Activity) Defaults() swfclient.TimeoutPolicy {
	return swfclient.TimeoutPolicy{
		HeartbeatTimeout: 30 * time.Second,
		ScheduleToStart:  30 * time.Second,
		ScheduleToClose:  30 * time.Minute,
		StartToClose:     15 * time.Minute,
	}
}

func (a *Activity) Do(ctx context.Context, rt *activity.Runtime, payload map[string]any) activity.Result {
	b := &batch{
		dateStamp:       time.Now().UTC().Format("20060102150405"),
		downloaded:      make(map[string]string),
		publishedSource: make(map[string]string),
		crossrefClient:  crossref.NewClient(a.CrossrefURL, a.CrossrefLogin, a.CrossrefPassword),
		articleVersions: articleversions.NewClient(a.ArticleVersionsURL),
		mailClient:      mail.NewClient(a.SMTPHost, a.SMTPPort, a.SMTPUser, a.SMTPPassword, a.FromEmail),
		adminRecipients: a.AdminRecipients,
		fromEmail:       a.FromEmail,
		outboxBucket:    a.OutboxBucket,
		name:            a.Name,
	}
	if a.PubMedAddr != "" {
		b.pubmedClient = pubmed.NewClient(a.PubMedAddr, a.PubMedUser, a.PubMedPassword, a.PubMedRemoteDir)
	}
	if a.FastlyAPIKey != "" && len(a.FastlyServiceIDs) > 0 {
		b.cdnClient = cdn.NewClient(a.FastlyAPIKey, a.FastlyServiceIDs)
	}

	statuses := Statuses{}

	keys, err := listOutbox(ctx, rt, b)
	if err != nil {
		return activity.Result{Outcome: activity.TEMPORARY_FAILURE, Detail: err.Error()}
	}
	b.outboxKeys = keys

	statuses, err = downloadPhase(ctx, rt, b, statuses)
	if err != nil {
		statuses.Download = false
		return a.finish(ctx, rt, b, statuses)
	}
	statuses.Download = true

	statuses = generatePhase(ctx, rt, b, statuses)
	statuses = approvePhase(b, statuses)

	if statuses.Approve {
		statuses, err = publishPhase(ctx, rt, b, statuses)
		if err != nil {
			statuses.Publish = false
		}
		if statuses.Publish {
			statuses, err = archivePhase(ctx, rt, b, statuses)
			if err != nil {
				rt.Logger.WithError(err).Warn("deposit: archive phase encountered errors")
			}
			statuses = purgePhase(ctx, rt, b, statuses)
		}
	}

	statuses.Activity = statuses.Publish != false && statuses.Generate

	return a.finish(ctx, rt, b, statuses)
}

func (a *Activity) finish(ctx context.Context, rt *activity.Runtime, b *batch, statuses Statuses) activity.Result {
	if len(b.published) > 0 {
		if err := notifyPhase(ctx, rt, b, statuses); err != nil {
			rt.Logger.WithError(err).Warn("deposit: admin email failed")
			statuses.Email = false
		} else {
			statuses.Email = true
		}
	}

	rt.Logger.WithFields(map[string]interface{}{
		"download": statuses.Download,
		"generate": statuses.Generate,
		"approve":  statuses.Approve,
		"publish":  statuses.Publish,
		"outbox":   statuses.Outbox,
		"purge":    statuses.Purge,
		"email":    statuses.Email,
		"activity": statuses.Activity,
	}).Info("deposit: run complete")

	// Failure after approve never loops the workflow: the activity always
	// reports SUCCESS and relies on the admin email to surface detail.
	return activity.Result{Outcome: activity.SUCCESS, Output: map[string]any{
		"published":     len(b.published),
		"not_published": len(b.notPublished),
	}}
}

func listOutbox(ctx context.Context, rt *activity.Runtime, b *batch) ([]string, error) {
	keys, err := rt.Objects.List(ctx, b.outboxBucket, objectstore.OutboxPrefix(b.name))
	if err != nil {
		return nil, fmt.Errorf("deposit: list outbox: %w", err)
	}
	return objectstore.FilterSuffix(keys, ".xml"), nil
}

func downloadPhase(ctx context.Context, rt *activity.Runtime, b *batch, in Statuses) (Statuses, error) {
	for _, key := range b.outboxKeys {
		fileName := filepath.Base(key)
		localPath := filepath.Join(rt.InputDir, fileName)

		f, err := os.Create(localPath)
		if err != nil {
			return in, fmt.Errorf("deposit: create local file %s: %w", localPath, err)
		}
		err = rt.Objects.Get(ctx, b.outboxBucket, key, f)
		f.Close()
		if err != nil {
			return in, fmt.Errorf("deposit: download %s: %w", key, err)
		}
		b.downloaded[key] = localPath
	}
	return in, nil
}

// parsedArticle is a minimal XML shape sufficient to recover the article
// id, version, and DOI this pipeline needs; full JATS structure is not
// modeled since deposit generation only consumes these fields.
type parsedArticle struct {
	XMLName xml.Name `xml:"article"`
	ID      string   `xml:"id,attr"`
	DOI     string   `xml:"doi"`
	Version string   `xml:"version,attr"`
}

func generatePhase(ctx context.Context, rt *activity.Runtime, b *batch, in Statuses) Statuses {
	for sourceKey, localPath := range b.downloaded {
		data, err := os.ReadFile(localPath)
		if err != nil {
			b.notPublished = append(b.notPublished, localPath)
			continue
		}

		var parsed parsedArticle
		if err := xml.Unmarshal(data, &parsed); err != nil {
			b.notPublished = append(b.notPublished, localPath)
			continue
		}

		record := ArticleRecord{DOI: parsed.DOI, ArticleID: parsed.ID, Version: parsed.Version}
		if record.Version == "" {
			if high, err := b.articleVersions.Highest(ctx, record.ArticleID); err == nil && high != nil {
				record.Version = fmt.Sprintf("%d", *high)
			}
		}

		// The minimal XML shape this pipeline parses carries no publication
		// date of its own, so the article's first-publication date (version
		// 1) is always looked up from the article-versions service; a
		// not-found or error result leaves PubDate zero, which
		// approveToGenerate treats as "no embargo to enforce".
		if published, ok, err := b.articleVersions.PublicationDate(ctx, record.ArticleID, "1"); err == nil && ok {
			record.PubDate = published
		}

		record.PeerReview = pruneAndInheritPeerReview(record.PeerReview)

		if !approveToGenerate(record) {
			b.notPublished = append(b.notPublished, localPath)
			continue
		}

		outPath := filepath.Join(rt.OutputDir, articleinfo.StripVersionSuffix(filepath.Base(localPath)))
		if err := writeDepositXML(outPath, record); err != nil {
			b.notPublished = append(b.notPublished, localPath)
			continue
		}
		b.published = append(b.published, outPath)
		b.publishedSource[outPath] = sourceKey
		b.publishedRecords = append(b.publishedRecords, record)
	}

	// Any files generated is a success, even if individual files failed.
	in.Generate = true
	return in
}

// approveToGenerate embargoes an article whose first publication date is
// in the future; an article with no recoverable publication date is
// approved.
func approveToGenerate(record ArticleRecord) bool {
	if record.PubDate.IsZero() {
		return true
	}
	return record.PubDate.Before(time.Now().UTC())
}

// pruneAndInheritPeerReview removes review sub-articles that carry neither
// editors nor authors, and rewrites role senior_editor → editor on the
// editors of the review sub-articles that remain. It copies no editors or
// authors between articles: PeerReviewInfo holds no parent-article
// contributors, so a review sub-article without editors keeps none and a
// reply without contributors keeps none. Grounded on
// original_source/activity/activity_DepositCrossrefPeerReview.py,
// generalized to apply for every deposit target carrying peer-review
// content, not only Crossref.
func pruneAndInheritPeerReview(info *PeerReviewInfo) *PeerReviewInfo {
	if info == nil {
		return nil
	}

	pruned := make([]ReviewArticle, 0, len(info.ReviewArticles))
	for _, ra := range info.ReviewArticles {
		if len(ra.Editors) == 0 && len(ra.Authors) == 0 {
			continue
		}
		pruned = append(pruned, ra)
	}

	for i := range pruned {
		for j, ed := range pruned[i].Editors {
			if ed.Role == "senior_editor" {
				pruned[i].Editors[j].Role = "editor"
			}
		}
	}

	return &PeerReviewInfo{ReviewArticles: pruned}
}

func writeDepositXML(path string, record ArticleRecord) error {
	var buf bytes.Buffer
	buf.WriteString(fmt.Sprintf(
		"<deposit doi=%q article_id=%q version=%q/>\n",
		record.DOI, record.ArticleID, record.Version,
	))
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

func approvePhase(b *batch, in Statuses) Statuses {
	in.Approve = len(b.published) > 0
	return in
}

func publishPhase(ctx context.Context, rt *activity.Runtime, b *batch, in Statuses) (Statuses, error) {
	status := true

	for _, path := range b.published {
		data, err := os.ReadFile(path)
		if err != nil {
			status = false
			b.httpDetail = append(b.httpDetail, fmt.Sprintf("%s: read failed: %v", path, err))
			continue
		}

		accepted, respBody, err := b.crossrefClient.Deposit(ctx, filepath.Base(path), bytes.NewReader(data))
		if err != nil {
			status = false
			b.httpDetail = append(b.httpDetail, fmt.Sprintf("%s: crossref request failed: %v", path, err))
			continue
		}
		if !accepted {
			status = false
		}
		b.httpDetail = append(b.httpDetail,
			fmt.Sprintf("XML file: %s", path),
			fmt.Sprintf("Crossref response: %s", respBody),
		)
	}

	if b.pubmedClient != nil {
		if err := b.pubmedClient.Connect(); err != nil {
			status = false
			b.httpDetail = append(b.httpDetail, fmt.Sprintf("pubmed connect failed: %v", err))
		} else {
			defer b.pubmedClient.Close()
			for _, path := range b.published {
				f, err := os.Open(path)
				if err != nil {
					status = false
					continue
				}
				err = b.pubmedClient.Upload(filepath.Base(path), f)
				f.Close()
				if err != nil {
					status = false
					b.httpDetail = append(b.httpDetail, fmt.Sprintf("pubmed upload failed for %s: %v", path, err))
				}
			}
		}
	}

	in.Publish = status
	return in, nil
}

func archivePhase(ctx context.Context, rt *activity.Runtime, b *batch, in Statuses) (Statuses, error) {
	var firstErr error
	for _, path := range b.published {
		srcKey := b.publishedSource[path]
		fileName := filepath.Base(srcKey)
		dstKey := objectstore.PublishedKey(b.name, b.dateStamp, fileName)

		if err := rt.Objects.Copy(ctx, b.outboxBucket, srcKey, dstKey); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if err := rt.Objects.Delete(ctx, b.outboxBucket, srcKey); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	for _, path := range b.published {
		f, err := os.Open(path)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		batchKey := objectstore.PublishedBatchKey(b.name, b.dateStamp, filepath.Base(path))
		err = rt.Objects.Put(ctx, b.outboxBucket, batchKey, f)
		f.Close()
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	in.Outbox = firstErr == nil
	return in, firstErr
}

// purgePhase invalidates the CDN's cache of every published article version
// once it has been archived. Best-effort: a purge failure never flips
// Publish/Outbox back to false, it only logs and leaves Purge false so the
// admin email surfaces it.
func purgePhase(ctx context.Context, rt *activity.Runtime, b *batch, in Statuses) Statuses {
	if b.cdnClient == nil || len(b.publishedRecords) == 0 {
		return in
	}

	ok := true
	for _, record := range b.publishedRecords {
		if err := b.cdnClient.PurgeArticle(ctx, record.ArticleID, record.Version); err != nil {
			ok = false
			rt.Logger.WithError(err).Warn("deposit: cdn purge failed")
			b.httpDetail = append(b.httpDetail, fmt.Sprintf("cdn purge failed for %s v%s: %v", record.ArticleID, record.Version, err))
		}
	}
	in.Purge = ok
	return in
}

func notifyPhase(ctx context.Context, rt *activity.Runtime, b *batch, statuses Statuses) error {
	var body strings.Builder
	fmt.Fprintf(&body, "DepositCrossref status:\n\n")
	fmt.Fprintf(&body, "activity_status: %v\n", statuses.Activity)
	fmt.Fprintf(&body, "generate_status: %v\n", statuses.Generate)
	fmt.Fprintf(&body, "approve_status: %v\n", statuses.Approve)
	fmt.Fprintf(&body, "publish_status: %v\n", statuses.Publish)
	fmt.Fprintf(&body, "outbox_status: %v\n", statuses.Outbox)
	fmt.Fprintf(&body, "purge_status: %v\n\n", statuses.Purge)

	fmt.Fprintf(&body, "Outbox files:\n")
	if len(b.outboxKeys) == 0 {
		fmt.Fprintf(&body, "No files in outbox.\n")
	}
	for _, k := range b.outboxKeys {
		fmt.Fprintf(&body, "%s\n", k)
	}

	if len(b.published) > 0 {
		fmt.Fprintf(&body, "\nPublished files generated deposit XML:\n")
		for _, p := range b.published {
			fmt.Fprintf(&body, "%s\n", filepath.Base(p))
		}
	}
	if len(b.notPublished) > 0 {
		fmt.Fprintf(&body, "\nFiles not approved or failed generation:\n")
		for _, p := range b.notPublished {
			fmt.Fprintf(&body, "%s\n", filepath.Base(p))
		}
	}

	fmt.Fprintf(&body, "\n-------------------------------\nHTTP deposit details:\n")
	for _, d := range b.httpDetail {
		fmt.Fprintf(&body, "%s\n", d)
	}

	subject := fmt.Sprintf("DepositCrossref files: %d, %s", len(b.outboxKeys), time.Now().UTC().Format("2006-01-02 15:04"))
	return b.mailClient.Send(ctx, b.adminRecipients, subject, body.String())
}
