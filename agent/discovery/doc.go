// Package discovery finds skills: it loads skill bundles from disk and matches
// free-text intent against their declared triggers.
//
// The package consists of three components:
//
//   - Scanner: walks a skills directory, parses SKILL.yaml or SKILL.md
//     frontmatter plus the prompt files, and returns skills ready for
//     registration.
//   - KeywordIndex: an inverted index from normalized keywords (triggers,
//     trigger words, skill names, capability names) to skill names.
//   - KeywordMatcher: extracts keywords and phrases from user input, scores
//     them against the index and returns ranked skills.
//
// # Basic Usage
//
//	scanner := discovery.NewScanner(discovery.DefaultScannerConfig(), logger)
//	found, err := scanner.Scan(ctx, "./skills")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, s := range found.Skills {
//	    _ = registry.Register(s)
//	}
//
//	index := discovery.NewKeywordIndex(discovery.DefaultFuzzyThreshold)
//	index.Rebuild(registry.List())
//	matcher := discovery.NewKeywordMatcher(index, registry, logger)
//	results := matcher.Match("please review my pull request", discovery.DefaultMatchOptions())
//
// # Scoring
//
// A keyword that equals an indexed keyword, or an indexed trigger phrase that
// appears verbatim in the query, scores 1.0. Otherwise, when fuzzy matching is
// enabled, the similarity is 0.9 for containment and 1 - levenshtein/maxLen
// for everything else, kept only above the fuzzy threshold. A skill's score
// is its best single keyword score; ties are broken by the number of distinct
// indexed keywords that matched, then by name.
package discovery
