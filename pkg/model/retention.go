package model

import "github.com/m-mizutani/goerr/v2"

// RetentionPolicy controls when a conversation's working set is compressed.
// A "pair" is one completed user+assistant exchange. The thresholds are
// configuration, not invariants: the defaults were tuned empirically.
type RetentionPolicy struct {
	// WindowPairs is the number of trailing pairs kept raw after a prune
	WindowPairs int `yaml:"window_pairs"`

	// MaxPairsBeforeSummarize is the pair count that, once exceeded,
	// triggers summarization of everything outside the window
	MaxPairsBeforeSummarize int `yaml:"max_pairs_before_summarize"`

	// PostSummaryBufferPairs is the minimum number of pairs that must
	// accumulate after a prune before the next one may trigger
	PostSummaryBufferPairs int `yaml:"post_summary_buffer_pairs"`
}

// DefaultRetentionPolicy returns the tuned default thresholds
func DefaultRetentionPolicy() RetentionPolicy {
	return RetentionPolicy{
		WindowPairs:             8,
		MaxPairsBeforeSummarize: 16,
		PostSummaryBufferPairs:  4,
	}
}

// Validate checks if the policy thresholds are consistent
func (p RetentionPolicy) Validate() error {
	if p.WindowPairs <= 0 {
		return goerr.New("window_pairs must be positive", goerr.V("window_pairs", p.WindowPairs))
	}
	if p.MaxPairsBeforeSummarize < p.WindowPairs {
		return goerr.New("max_pairs_before_summarize must not be less than window_pairs",
			goerr.V("max_pairs_before_summarize", p.MaxPairsBeforeSummarize),
			goerr.V("window_pairs", p.WindowPairs))
	}
	if p.PostSummaryBufferPairs < 0 {
		return goerr.New("post_summary_buffer_pairs must not be negative",
			goerr.V("post_summary_buffer_pairs", p.PostSummaryBufferPairs))
	}
	return nil
}
