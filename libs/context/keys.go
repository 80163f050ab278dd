package context

import "errors"

// CTXKey - a type for context keys
type CTXKey string

const (
	// DatastoreCTXKey - the context key for getting the datastore
	DatastoreCTXKey CTXKey = "datastore"
	// ServiceKey - the key used for service context
	ServiceKey CTXKey = "service"
	// EnvironmentCTXKey - the key used for the service environment
	EnvironmentCTXKey CTXKey = "environment"
	// DebugLoggingCTXKey - context key for debug logging
	DebugLoggingCTXKey CTXKey = "debug_logging"
	// LogLevelCTXKey - context key for log level
	LogLevelCTXKey CTXKey = "log_level"
	// LogWriterCTXKey - context key for a log writer override
	LogWriterCTXKey CTXKey = "log_writer"
	// VersionCTXKey - context key for version of code
	VersionCTXKey CTXKey = "version"
	// CommitCTXKey - context key for the commit of the code
	CommitCTXKey CTXKey = "commit"
	// BuildTimeCTXKey - context key for the build time of code
	BuildTimeCTXKey CTXKey = "build_time"
	// DatabaseURLCTXKey - context key for the database url
	DatabaseURLCTXKey CTXKey = "database_url"
	// ProviderServerCTXKey - the context key for the payment provider address
	ProviderServerCTXKey CTXKey = "provider_server"
	// ProviderTokenCTXKey - the context key for the payment provider access token
	ProviderTokenCTXKey CTXKey = "provider_token"
	// ProviderTimeoutCTXKey - the context key for the provider call timeout
	ProviderTimeoutCTXKey CTXKey = "provider_timeout"
	// OutagePendingCapCTXKey - the context key for the outage pending amount cap
	OutagePendingCapCTXKey CTXKey = "outage_pending_cap_cents"
	// RateLimitPerMinuteCTXKey - context key for the rate limit per minute
	RateLimitPerMinuteCTXKey CTXKey = "rate_limit_per_minute"
	// RateLimiterBurstCTXKey - context key for the rate limiter burst
	RateLimiterBurstCTXKey CTXKey = "rate_limiter_burst"
)

var (
	// ErrNotInContext - error you get when you ask for something not in the context.
	ErrNotInContext = errors.New("failed to get value from context")
	// ErrValueWrongType - error you get when you ask for something and it is not the type you expected
	ErrValueWrongType = errors.New("context value of wrong type")
)
