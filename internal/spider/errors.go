package spider

import "errors"

var (
	// ErrUnknownSetting is returned when a crawl setting key is not one the
	// spider declares.
	ErrUnknownSetting = errors.New("unknown setting")
	// ErrUnknownSpiderArg is returned when a spider argument is not one the
	// spider declares.
	ErrUnknownSpiderArg = errors.New("unknown spiderarg")
	// ErrSpiderNotFound is returned when the registry has no spider by the
	// requested name.
	ErrSpiderNotFound = errors.New("spider not found")
	// ErrNoStartURLs is returned when a listing spider ends up with no URLs
	// to visit.
	ErrNoStartURLs = errors.New("no start urls")
	// ErrBadNow is returned when an explicit run timestamp matches none of
	// the accepted layouts.
	ErrBadNow = errors.New("unparsable run timestamp")
	// ErrMixedStartURLs is returned when local and remote start URLs are
	// combined in one run.
	ErrMixedStartURLs = errors.New("local and remote start urls cannot be mixed")
	// ErrMultipleLocalDirs is returned when local start URLs do not share
	// one directory.
	ErrMultipleLocalDirs = errors.New("local start urls must share one directory")
	// ErrOutDirExists is returned when the run's output directory already
	// exists.
	ErrOutDirExists = errors.New("output directory already exists")
	// ErrNonLocalRequest is returned when a local-mode run tries to fetch a
	// non-file URL.
	ErrNonLocalRequest = errors.New("non-local request in local mode")
	// ErrBotUserAgent is returned when the outgoing User-Agent is missing
	// or looks like a bot.
	ErrBotUserAgent = errors.New("user agent is missing or looks like a bot")
	// ErrLeakTestFailed is returned when the DNS leak test does not pass.
	ErrLeakTestFailed = errors.New("dns leak test failed")
	// ErrInterfaceUnusable is returned when the allowed network interface
	// is missing, down, or has no IPv4 address.
	ErrInterfaceUnusable = errors.New("allowed interface is unusable")
)
