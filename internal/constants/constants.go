package constants

import "time"

const (
	// Traffic constants
	BytesPerGB = int64(1024 * 1024 * 1024)

	// Duration constants
	MillisecondsInDay = int64(24 * 60 * 60 * 1000)
	SecondsInDay      = int64(24 * 60 * 60)

	// Network constants
	ConnectTimeout = 10 * time.Second
	RequestTimeout = 15 * time.Second

	// Port range for dedicated inbounds
	PortRangeStart = 10000
	PortRangeEnd   = 60000

	// Credential generation constants
	TokenLength   = 30
	SubIDLength   = 16
	ShortIDLength = 8

	// Subscription payload cache
	PayloadCacheTTL     = time.Minute
	PayloadCacheCleanup = 5 * time.Minute

	// Sweep constants
	DefaultSweepBatchSize = 100

	// Formatting constants
	TimestampFormat = "2006-01-02 15:04:05"
	DateFormat      = "2006-01-02"
)
