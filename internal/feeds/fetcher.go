// Package feeds imports RSS/Atom items from branch news feeds as branch posts.
package feeds

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cityfam/cityfam/internal/database"
	"github.com/cityfam/cityfam/internal/metrics"
	"github.com/cityfam/cityfam/internal/model"
	"github.com/mmcdole/gofeed"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Concurrency settings
const (
	// MaxConcurrencyPostgres is the number of parallel fetches for PostgreSQL
	MaxConcurrencyPostgres = 10
	// MaxConcurrencySQLite is the number of parallel fetches for SQLite (limited due to locking)
	MaxConcurrencySQLite = 1
	// MaxConcurrencyPerDomain limits parallel requests to any single domain
	MaxConcurrencyPerDomain = 2
	// DelayBetweenDomainRequests is the minimum spacing between requests to the same domain
	DelayBetweenDomainRequests = 500 * time.Millisecond
	// FetchTimeout bounds a single feed download.
	FetchTimeout = 30 * time.Second
)

// ErrUnknownBranch is returned when a feed is attached to a branch that does not exist.
var ErrUnknownBranch = errors.New("unknown branch")

// domainLimiter bounds parallel requests per host and spaces them out.
type domainLimiter struct {
	mu         sync.Mutex
	semaphores map[string]chan struct{}
	spacing    map[string]*rate.Limiter
	delay      time.Duration
}

func newDomainLimiter(delay time.Duration) *domainLimiter {
	return &domainLimiter{
		semaphores: make(map[string]chan struct{}),
		spacing:    make(map[string]*rate.Limiter),
		delay:      delay,
	}
}

// acquire takes a slot for domain, waiting for a free slot and for the spacing delay.
func (dl *domainLimiter) acquire(ctx context.Context, domain string) error {
	dl.mu.Lock()
	sem, ok := dl.semaphores[domain]
	if !ok {
		sem = make(chan struct{}, MaxConcurrencyPerDomain)
		dl.semaphores[domain] = sem
		dl.spacing[domain] = rate.NewLimiter(rate.Every(dl.delay), 1)
	}
	lim := dl.spacing[domain]
	dl.mu.Unlock()

	select {
	case sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := lim.Wait(ctx); err != nil {
		<-sem
		return err
	}
	return nil
}

func (dl *domainLimiter) release(domain string) {
	dl.mu.Lock()
	sem := dl.semaphores[domain]
	dl.mu.Unlock()
	<-sem
}

// extractDomain gets the host from a URL.
func extractDomain(feedURL string) string {
	u, err := url.Parse(feedURL)
	if err != nil || u.Host == "" {
		return feedURL
	}
	return u.Host
}

// Fetcher imports branch feeds.
type Fetcher struct {
	store         database.Store
	log           logrus.FieldLogger
	parser        *gofeed.Parser
	concurrency   int
	domainLimiter *domainLimiter
	now           func() time.Time
}

// NewFetcher creates a fetcher with concurrency based on the database backend.
func NewFetcher(store database.Store, log logrus.FieldLogger) *Fetcher {
	concurrency := MaxConcurrencySQLite
	if store.SupportsHighConcurrency() {
		concurrency = MaxConcurrencyPostgres
	}
	parser := gofeed.NewParser()
	parser.Client = &http.Client{Timeout: FetchTimeout}
	parser.UserAgent = "CityFam/1.0 (+feed importer)"
	return &Fetcher{
		store:         store,
		log:           log,
		parser:        parser,
		concurrency:   concurrency,
		domainLimiter: newDomainLimiter(DelayBetweenDomainRequests),
		now:           time.Now,
	}
}

// FetchFeed downloads one feed and imports its new items as posts of the
// feed's branch. Items already imported are skipped. Returns the number of new posts.
func (f *Fetcher) FetchFeed(ctx context.Context, feed model.BranchFeed) (int, error) {
	domain := extractDomain(feed.URL)
	if err := f.domainLimiter.acquire(ctx, domain); err != nil {
		return 0, fmt.Errorf("rate limit cancelled for %s: %w", feed.URL, err)
	}
	defer f.domainLimiter.release(domain)

	log := f.log.WithFields(logrus.Fields{"feed_id": feed.ID, "branch_id": feed.BranchID})

	parsed, err := f.parser.ParseURLWithContext(feed.URL, ctx)
	if err != nil {
		// Kept short for display next to the feed.
		errMsg := err.Error()
		if len(errMsg) > 200 {
			errMsg = errMsg[:200]
		}
		if uerr := f.store.UpdateFeedError(ctx, feed.ID, errMsg); uerr != nil {
			log.WithError(uerr).Warn("could not record feed error")
		}
		return 0, fmt.Errorf("parse feed %s: %w", feed.URL, err)
	}

	if parsed.Title != "" && parsed.Title != feed.Title && feed.Title == feed.URL {
		if err := f.store.UpdateFeedTitle(ctx, feed.ID, parsed.Title); err != nil {
			log.WithError(err).Warn("could not update feed title")
		}
	}

	now := f.now()
	newCount := 0
	for _, item := range parsed.Items {
		post := postFromItem(feed.BranchID, item, now)
		if post == nil {
			continue
		}
		isNew, err := f.store.AddImportedPost(ctx, post)
		if err != nil {
			log.WithError(err).WithField("guid", post.SourceGUID).Warn("could not import item")
			continue
		}
		if isNew {
			newCount++
		}
	}
	metrics.RecordImportedItems(newCount)

	if err := f.store.UpdateFeedLastFetched(ctx, feed.ID, now); err != nil {
		log.WithError(err).Warn("could not update last fetched")
	}
	return newCount, nil
}

func postFromItem(branchID string, item *gofeed.Item, now time.Time) *model.Post {
	guid := item.GUID
	if guid == "" {
		guid = item.Link
	}
	if guid == "" {
		return nil
	}
	created := now
	if item.PublishedParsed != nil {
		created = *item.PublishedParsed
	} else if item.UpdatedParsed != nil {
		created = *item.UpdatedParsed
	}
	post := &model.Post{
		BranchID:   branchID,
		Title:      strings.TrimSpace(item.Title),
		Content:    item.Content,
		Link:       item.Link,
		SourceGUID: guid,
		IsActive:   true,
		CreatedAt:  created,
	}
	if post.Content == "" {
		post.Content = item.Description
	}
	if item.Image != nil {
		post.ImageURL = item.Image.URL
	}
	for _, enc := range item.Enclosures {
		if post.ImageURL == "" && strings.HasPrefix(enc.Type, "image/") {
			post.ImageURL = enc.URL
		}
	}
	return post
}

// FetchAll fetches every branch feed, one worker on SQLite and a pool on
// PostgreSQL. Failed feeds are logged and left out of the result, which maps
// feed id to new post count.
func (f *Fetcher) FetchAll(ctx context.Context) (map[string]int, error) {
	feeds, err := f.store.ListBranchFeeds(ctx, "")
	if err != nil {
		return nil, err
	}
	results := make(map[string]int, len(feeds))
	if len(feeds) == 0 {
		return results, nil
	}
	f.log.WithFields(logrus.Fields{"feeds": len(feeds), "concurrency": f.concurrency}).Info("fetching branch feeds")

	var mu sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(f.concurrency)
	for _, feed := range feeds {
		if ctx.Err() != nil {
			break
		}
		feed := feed
		g.Go(func() error {
			count, err := f.FetchFeed(ctx, feed)
			if err != nil {
				f.log.WithError(err).WithField("feed_id", feed.ID).Warn("feed fetch failed")
				return nil
			}
			mu.Lock()
			results[feed.ID] = count
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results, ctx.Err()
}

// Subscribe attaches a feed to a branch and imports its current items.
// A fetch failure is recorded on the feed but does not undo the subscription.
func (f *Fetcher) Subscribe(ctx context.Context, branchID, feedURL, title string) (*model.BranchFeed, int, error) {
	if _, err := f.store.GetBranch(ctx, branchID); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, 0, fmt.Errorf("%w: %s", ErrUnknownBranch, branchID)
		}
		return nil, 0, err
	}
	u, err := url.Parse(feedURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, 0, fmt.Errorf("invalid feed url %q", feedURL)
	}

	id, _, err := f.store.GetOrCreateBranchFeed(ctx, branchID, title, feedURL)
	if err != nil {
		return nil, 0, err
	}
	if title == "" {
		title = feedURL
	}
	feed := model.BranchFeed{ID: id, BranchID: branchID, Title: title, URL: feedURL}
	n, err := f.FetchFeed(ctx, feed)
	if err != nil {
		f.log.WithError(err).WithField("feed_id", id).Warn("initial fetch failed")
	}
	return &feed, n, nil
}

// Feeds lists the feeds of a branch.
func (f *Fetcher) Feeds(ctx context.Context, branchID string) ([]model.BranchFeed, error) {
	return f.store.ListBranchFeeds(ctx, branchID)
}

// Unsubscribe removes a feed. Posts it imported stay in the branch.
func (f *Fetcher) Unsubscribe(ctx context.Context, feedID string) error {
	if err := f.store.DeleteBranchFeed(ctx, feedID); err != nil {
		return fmt.Errorf("delete feed %s: %w", feedID, err)
	}
	f.log.WithField("feed_id", feedID).Info("feed removed")
	return nil
}

// ImportResult summarizes an OPML import.
type ImportResult struct {
	Added   int      `json:"added"`
	Skipped []string `json:"skipped"`
}

// ImportOPML subscribes the feeds of an OPML document, one folder per branch id.
// Feeds outside a folder or in unknown branches are skipped.
func (f *Fetcher) ImportOPML(ctx context.Context, r io.Reader) (*ImportResult, error) {
	entries, err := ParseOPML(r)
	if err != nil {
		return nil, err
	}
	known := make(map[string]bool)
	res := &ImportResult{Skipped: []string{}}
	for _, e := range entries {
		ok, seen := known[e.BranchID]
		if !seen && e.BranchID != "" {
			_, err := f.store.GetBranch(ctx, e.BranchID)
			if err != nil && !errors.Is(err, database.ErrNotFound) {
				return nil, err
			}
			ok = err == nil
			known[e.BranchID] = ok
		}
		if !ok {
			res.Skipped = append(res.Skipped, e.URL)
			continue
		}
		_, created, err := f.store.GetOrCreateBranchFeed(ctx, e.BranchID, e.Title, e.URL)
		if err != nil {
			return nil, fmt.Errorf("add feed %s: %w", e.URL, err)
		}
		if created {
			res.Added++
		}
	}
	f.log.WithFields(logrus.Fields{"added": res.Added, "skipped": len(res.Skipped)}).Info("opml imported")
	return res, nil
}

// ExportOPML renders every branch feed as OPML.
func (f *Fetcher) ExportOPML(ctx context.Context) ([]byte, error) {
	feeds, err := f.store.ListBranchFeeds(ctx, "")
	if err != nil {
		return nil, err
	}
	return ExportOPML("CityFam branch feeds", feeds, f.now())
}
