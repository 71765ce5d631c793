package spider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"

	"github.com/datamastor/datamastor/internal/logger"
	"github.com/datamastor/datamastor/internal/storage"
)

// ItemHandler receives every scraped item, typically a storer pipeline.
// Returning an error wrapping storage.ErrDropItem rejects the item without
// aborting the run.
type ItemHandler func(ctx context.Context, item any) error

// RunResult summarizes one crawl run.
type RunResult struct {
	Visited  int
	Emitted  int
	Stored   int
	Dropped  int
	FeedPath string
}

// Run executes the crawl: privacy checks, page fetching, item extraction,
// and the feed, log, and used-args records in the output directory. Items
// are passed to handler as they are scraped.
func (s *Spider) Run(ctx context.Context, handler ItemHandler) (*RunResult, error) {
	if logPath := s.LogFile(); logPath != "" {
		if err := s.EnsureOutDir(); err != nil {
			return nil, err
		}
		runLog, closeLog, err := logger.TeeToFile(s.logger, logPath)
		if err != nil {
			return nil, err
		}
		defer closeLog()
		base := s.logger
		s.logger = runLog
		defer func() { s.logger = base }()
	}

	privacy := NewPrivacy(s.local, s.logger)
	ua := s.Settings.GetString(SettingUserAgent)
	if err := privacy.CheckUserAgent(ua); err != nil {
		return nil, err
	}
	if err := privacy.Prepare(ctx); err != nil {
		return nil, err
	}

	collector, err := s.newCollector(privacy, ua)
	if err != nil {
		return nil, err
	}

	run := &crawlRun{
		spider:  s,
		handler: handler,
		ctx:     ctx,
		result:  &RunResult{},
		seen:    map[string]bool{},
	}
	run.install(collector, privacy)

	for _, start := range s.startURLs {
		if visitErr := collector.Visit(start); visitErr != nil {
			s.logger.Error("Failed to visit start url", "url", start, "error", visitErr)
		}
	}
	collector.Wait()

	if run.err != nil {
		return run.result, run.err
	}
	if flushErr := run.flush(); flushErr != nil {
		return run.result, flushErr
	}
	s.logger.Info("Crawl finished",
		"visited", run.result.Visited,
		"emitted", run.result.Emitted,
		"stored", run.result.Stored,
		"dropped", run.result.Dropped)
	return run.result, nil
}

// newCollector builds the colly collector for this run.
func (s *Spider) newCollector(privacy *Privacy, ua string) (*colly.Collector, error) {
	opts := []colly.CollectorOption{
		colly.UserAgent(ua),
		colly.Async(true),
	}
	if !s.local && len(s.Spec.AllowedDomains) > 0 {
		opts = append(opts, colly.AllowedDomains(s.Spec.AllowedDomains...))
	}
	if s.Spec.Kind == KindSrc {
		// Depth 1 is the start page, so levels 0..MaxDepth fit.
		opts = append(opts, colly.MaxDepth(s.Spec.Fields.MaxDepth+1))
	}
	collector := colly.NewCollector(opts...)
	collector.SetRequestTimeout(s.cfg.RequestTimeout)

	if err := collector.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Delay:       s.cfg.Delay,
		Parallelism: s.cfg.Parallelism,
	}); err != nil {
		return nil, fmt.Errorf("failed to set limit rule: %w", err)
	}

	switch {
	case s.local:
		transport := &http.Transport{}
		transport.RegisterProtocol("file", http.NewFileTransport(http.Dir("/")))
		collector.WithTransport(transport)
	case privacy.Proxy != "":
		if err := collector.SetProxy(privacy.Proxy); err != nil {
			return nil, fmt.Errorf("failed to set proxy: %w", err)
		}
	case privacy.BindIP != "":
		dialer := &net.Dialer{
			LocalAddr: &net.TCPAddr{IP: net.ParseIP(privacy.BindIP)},
		}
		collector.WithTransport(&http.Transport{DialContext: dialer.DialContext})
	}
	return collector, nil
}

// crawlRun is the mutable state of one run. The collector is asynchronous,
// so everything here is guarded by mu.
type crawlRun struct {
	spider  *Spider
	handler ItemHandler
	ctx     context.Context

	mu     sync.Mutex
	result *RunResult
	items  []any
	seen   map[string]bool
	err    error
}

func (r *crawlRun) install(collector *colly.Collector, privacy *Privacy) {
	collector.OnRequest(func(req *colly.Request) {
		if err := privacy.CheckRequest(req.URL); err != nil {
			r.fail(err)
			req.Abort()
		}
	})

	collector.OnResponse(func(resp *colly.Response) {
		r.mu.Lock()
		r.result.Visited++
		r.mu.Unlock()
		if r.spider.SaveHTML() {
			if err := r.saveResponse(resp); err != nil {
				r.fail(err)
			}
		}
	})

	collector.OnError(func(resp *colly.Response, err error) {
		r.spider.logger.Error("Request failed", "url", resp.Request.URL.String(), "error", err)
	})

	switch r.spider.Spec.Kind {
	case KindSrc:
		r.installSrc(collector)
	case KindLst:
		r.installLst(collector)
	}
}

// installSrc wires the category-tree walk: the start pages become level-0
// sources and every followed category link becomes a child source.
func (r *crawlRun) installSrc(collector *colly.Collector) {
	filters := newCategoryFilters(r.spider.Args)
	maxDepth := r.spider.Spec.Fields.MaxDepth

	collector.OnResponse(func(resp *colly.Response) {
		if resp.Request.Depth == 1 {
			r.emit(storage.SourceItem{URL: resp.Request.URL.String(), Level: 0})
		}
	})

	collector.OnHTML(r.spider.Spec.Fields.Link, func(e *colly.HTMLElement) {
		level := e.Request.Depth
		if level > maxDepth {
			return
		}
		text := strings.TrimSpace(e.Text)
		if !filters.pass(level, text) {
			r.spider.logger.Debug("Category filtered out", "text", text, "level", level)
			return
		}
		link := e.Request.AbsoluteURL(e.Attr("href"))
		if link == "" {
			return
		}
		item := storage.SourceItem{
			URL:       link,
			ParentURL: e.Request.URL.String(),
			Level:     level,
		}
		if r.emit(item) && level < maxDepth {
			if err := e.Request.Visit(link); err != nil {
				r.spider.logger.Debug("Not following link", "url", link, "error", err)
			}
		}
	})
}

// installLst wires listing extraction and optional pagination.
func (r *crawlRun) installLst(collector *colly.Collector) {
	fields := r.spider.Spec.Fields

	collector.OnHTML(fields.Item, func(e *colly.HTMLElement) {
		item := storage.ListingItem{
			Text:  fieldText(e.DOM, fields.Text),
			Price: fieldText(e.DOM, fields.Price),
		}
		if item.Text == "" {
			r.spider.logger.Debug("Skipping empty listing", "url", e.Request.URL.String())
			return
		}
		r.emit(item)
	})

	if fields.Next != "" {
		collector.OnHTML(fields.Next, func(e *colly.HTMLElement) {
			next := e.Request.AbsoluteURL(e.Attr("href"))
			if next == "" {
				return
			}
			if err := e.Request.Visit(next); err != nil {
				r.spider.logger.Debug("Not following pagination", "url", next, "error", err)
			}
		})
	}
}

// fieldText extracts the trimmed text the selector matches. An empty
// selector means the item's own text.
func fieldText(sel *goquery.Selection, selector string) string {
	if selector == "" {
		return strings.TrimSpace(sel.Text())
	}
	return strings.TrimSpace(sel.Find(selector).First().Text())
}

// emit records one scraped item and hands it to the handler. Duplicates
// within the run are skipped. It reports whether the item was new.
func (r *crawlRun) emit(item any) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := itemKey(item)
	if r.seen[key] {
		return false
	}
	r.seen[key] = true
	r.items = append(r.items, item)
	r.result.Emitted++

	if r.handler == nil {
		return true
	}
	switch err := r.handler(r.ctx, item); {
	case err == nil:
		r.result.Stored++
	case errors.Is(err, storage.ErrDropItem):
		r.result.Dropped++
		r.spider.logger.Warn("Item dropped", "error", err)
	default:
		if r.err == nil {
			r.err = err
		}
	}
	return true
}

func itemKey(item any) string {
	switch v := item.(type) {
	case storage.SourceItem:
		return "src|" + v.URL + "|" + v.ParentURL
	case storage.ListingItem:
		return "lst|" + v.Text + "|" + v.Price
	default:
		return fmt.Sprintf("%v", v)
	}
}

func (r *crawlRun) fail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err == nil {
		r.err = err
	}
}

// saveResponse writes a fetched page into the output directory under its
// derived name.
func (r *crawlRun) saveResponse(resp *colly.Response) error {
	if err := r.spider.EnsureOutDir(); err != nil {
		return err
	}
	name := HTMLName(resp.Request.URL.String())
	path := filepath.Join(r.spider.OutDir(), name)
	if err := os.WriteFile(path, resp.Body, 0o644); err != nil {
		return fmt.Errorf("failed to save response: %w", err)
	}
	r.spider.logger.Debug("Saved response", "path", path)
	return nil
}

// flush writes the feed and the used-args record. Nothing is written for
// a run that produced no output.
func (r *crawlRun) flush() error {
	if len(r.items) > 0 {
		if err := r.spider.EnsureOutDir(); err != nil {
			return err
		}
		data, err := json.MarshalIndent(r.items, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal feed: %w", err)
		}
		feedPath := r.spider.FeedPath()
		if writeErr := os.WriteFile(feedPath, data, 0o644); writeErr != nil {
			return fmt.Errorf("failed to write feed: %w", writeErr)
		}
		r.result.FeedPath = feedPath
	}
	if r.spider.outDirOK {
		if err := r.spider.WriteUsedArgs(); err != nil {
			return err
		}
	}
	return nil
}

// categoryFilters are the include/exclude substring filters of a source
// spider, one pair per tree level. Level 1 defaults to single latin
// letters, matching shops whose top level is an alphabetical index.
type categoryFilters struct {
	include map[int][]string
	exclude map[int][]string
}

func newCategoryFilters(args map[string]string) *categoryFilters {
	f := &categoryFilters{
		include: map[int][]string{},
		exclude: map[int][]string{},
	}
	for level := 1; level <= 3; level++ {
		f.include[level] = splitTokens(args[fmt.Sprintf("include%d", level)])
		f.exclude[level] = splitTokens(args[fmt.Sprintf("exclude%d", level)])
	}
	if len(f.include[1]) == 0 {
		f.include[1] = latinAlphabet()
	}
	return f
}

func splitTokens(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var tokens []string
	for _, token := range strings.Split(raw, ",") {
		if token = strings.ToLower(strings.TrimSpace(token)); token != "" {
			tokens = append(tokens, token)
		}
	}
	return tokens
}

func latinAlphabet() []string {
	letters := make([]string, 0, 26)
	for c := 'a'; c <= 'z'; c++ {
		letters = append(letters, string(c))
	}
	return letters
}

// pass reports whether a category link's text survives the level's
// filters: it must contain an include token (when any are set) and no
// exclude token.
func (f *categoryFilters) pass(level int, text string) bool {
	lower := strings.ToLower(text)
	for _, token := range f.exclude[level] {
		if strings.Contains(lower, token) {
			return false
		}
	}
	include := f.include[level]
	if len(include) == 0 {
		return true
	}
	for _, token := range include {
		if strings.Contains(lower, token) {
			return true
		}
	}
	return false
}
