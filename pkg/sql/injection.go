package sql

import (
	"strings"

	libinjection "github.com/corazawaf/libinjection-go"
)

// InjectionCheckResult describes a user phrase that looks like SQL injection.
type InjectionCheckResult struct {
	IsSQLi      bool   // True if SQL injection pattern detected
	Fingerprint string // libinjection fingerprint of the detected pattern
	Phrase      string // The phrase that was checked
}

// CheckPhrase runs libinjection over a user phrase that may later be resolved
// into a filter value. Returns nil for clean or empty phrases.
//
// Example:
//
//	CheckPhrase("diabetic foot ulcers")          // nil
//	CheckPhrase("x' OR 1=1 --")                  // IsSQLi == true
func CheckPhrase(phrase string) *InjectionCheckResult {
	if strings.TrimSpace(phrase) == "" {
		return nil
	}

	isSQLi, fingerprint := libinjection.IsSQLi(phrase)
	if !isSQLi {
		return nil
	}

	return &InjectionCheckResult{
		IsSQLi:      true,
		Fingerprint: string(fingerprint),
		Phrase:      phrase,
	}
}

// CheckPhrases returns a result for every phrase that failed the check.
func CheckPhrases(phrases []string) []*InjectionCheckResult {
	var results []*InjectionCheckResult
	for _, p := range phrases {
		if r := CheckPhrase(p); r != nil {
			results = append(results, r)
		}
	}
	return results
}
