package summarizer

import "time"

// Compiled-in LLM call parameters (spec.md §4.4 step 4: "The environment
// cannot override these constants — they are compiled into the build").
const (
	Temperature   = 0.2
	PromptVersion = "v1"
)

// Scheduling defaults (spec.md §4.4 "Scheduling model").
const (
	DefaultBatchSize      = 5
	MaxConcurrentRequests = 3
	DefaultIdleSleep      = 5 * time.Second
)

// rateLimitWaits is the fixed 429 retry ladder (spec.md §4.4 step 5).
var rateLimitWaits = []time.Duration{10 * time.Second, 30 * time.Second, 60 * time.Second}

// cacheSize bounds the in-process input_hash -> summary fast-path cache
// (SPEC_FULL.md §11 domain stack: hashicorp/golang-lru/v2).
const cacheSize = 1000
