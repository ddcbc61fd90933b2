// Package semantic derives per-script tags, service references, require
// dependencies, keywords, and symbols from cached script source, the way
// the codebase's keyword extraction works for titles, generalized from
// "title to slug" into "source to keyword-frequency table".
package semantic

import (
	"crypto/sha1"
	"encoding/hex"
	"regexp"
	"sort"
	"strings"

	"github.com/hostbridge/hostbridge/internal/types"
)

// stopWords are common identifier fragments filtered out of keyword
// extraction; they carry no semantic weight on their own.
var stopWords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "from": true,
	"this": true, "that": true, "then": true, "else": true, "true": true,
	"false": true, "nil": true, "self": true, "local": true,
	"function": true, "return": true, "end": true, "if": true, "do": true,
	"while": true, "repeat": true, "until": true, "not": true,
}

var (
	identifierRe  = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]*`)
	getServiceRe  = regexp.MustCompile(`GetService\(\s*"([^"]+)"\s*\)`)
	requireRe     = regexp.MustCompile(`require\(([^)]*)\)`)
	functionDefRe = regexp.MustCompile(`(?m)^(?:local\s+)?function\s+([A-Za-z_][A-Za-z0-9_.:]*)`)
)

// serviceTags maps a used service to the coarse tag it contributes.
var serviceTags = map[string]string{
	"DataStoreService":    "datastore",
	"MarketplaceService":  "commerce",
	"MessagingService":    "messaging",
	"TweenService":        "animation",
	"HttpService":         "network",
	"ReplicatedStorage":   "shared",
}

// Options bounds the work the indexer does per script.
type Options struct {
	MaxSourceBytes int64
	KeywordCap     int
	SymbolCap      int
}

// DefaultOptions matches the defaults named in the spec's semantic
// indexer component.
func DefaultOptions() Options {
	return Options{MaxSourceBytes: 256 << 10, KeywordCap: 20, SymbolCap: 40}
}

// BuildIndex derives a SemanticIndex for every script in snapshot that has
// analyzable source, skipping scripts whose source is absent or exceeds
// SEMANTIC_MAX_SOURCE_BYTES.
func BuildIndex(contextID string, contextVersion int64, snapshot *types.ContextSnapshot, opts Options) types.SemanticIndex {
	idx := types.SemanticIndex{ContextID: contextID, ContextVersion: contextVersion}
	summary := types.SemanticSummary{
		TagCounts:     map[string]int{},
		ServiceCounts: map[string]int{},
	}

	for _, script := range snapshot.Scripts {
		if !script.HasSource() || int64(len(script.Source)) > opts.MaxSourceBytes {
			continue
		}
		sem := analyzeScript(script, opts)
		idx.Scripts = append(idx.Scripts, sem)

		summary.ScriptCount++
		for _, tag := range sem.Tags {
			summary.TagCounts[tag]++
		}
		for _, svc := range sem.Services {
			summary.ServiceCounts[svc]++
		}
		summary.TotalRequires += len(sem.Requires)
		summary.TotalSymbols += len(sem.Symbols)
	}

	idx.Summary = summary
	return idx
}

func analyzeScript(script types.ScriptEntry, opts Options) types.ScriptSemantic {
	src := script.Source

	services := dedupCapped(getServiceRe.FindAllStringSubmatch(src, -1), 1, 32)
	requires := dedupCapped(requireRe.FindAllStringSubmatch(src, -1), 1, 32)
	symbols, symbolLines := extractSymbols(src, opts.SymbolCap)
	keywords := extractKeywords(src, opts.KeywordCap)
	tags := deriveTags(script.Path, script.ClassName, services)

	return types.ScriptSemantic{
		Path:        script.Path,
		Tags:        tags,
		Services:    services,
		Requires:    requires,
		Keywords:    keywords,
		Symbols:     symbols,
		SymbolLines: symbolLines,
		LineCount:   strings.Count(src, "\n") + 1,
		Fingerprint: Fingerprint(script),
	}
}

func dedupCapped(matches [][]string, group, limit int) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		if len(m) <= group {
			continue
		}
		v := strings.TrimSpace(m[group])
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
		if len(out) >= limit {
			break
		}
	}
	return out
}

func extractSymbols(src string, limit int) ([]string, []types.SymbolRef) {
	lines := strings.Split(src, "\n")
	var names []string
	var refs []types.SymbolRef
	for i, line := range lines {
		m := functionDefRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		names = append(names, m[1])
		refs = append(refs, types.SymbolRef{Name: m[1], Line: i + 1})
		if len(names) >= limit {
			break
		}
	}
	return names, refs
}

func extractKeywords(src string, limit int) []string {
	counts := map[string]int{}
	for _, tok := range identifierRe.FindAllString(src, -1) {
		lower := strings.ToLower(tok)
		if len(lower) < 3 || stopWords[lower] {
			continue
		}
		counts[lower]++
	}

	type kv struct {
		word  string
		count int
	}
	ranked := make([]kv, 0, len(counts))
	for w, c := range counts {
		ranked = append(ranked, kv{w, c})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].count != ranked[j].count {
			return ranked[i].count > ranked[j].count
		}
		return ranked[i].word < ranked[j].word
	})

	out := make([]string, 0, limit)
	for _, r := range ranked {
		out = append(out, r.word)
		if len(out) >= limit {
			break
		}
	}
	return out
}

func deriveTags(path, className string, services []string) []string {
	seen := map[string]bool{}
	var tags []string
	add := func(t string) {
		if t != "" && !seen[t] {
			seen[t] = true
			tags = append(tags, t)
		}
	}

	lowerPath := strings.ToLower(path)
	switch {
	case strings.Contains(lowerPath, "serverscriptservice"), strings.Contains(lowerPath, "server_storage"), strings.Contains(lowerPath, "serverstorage"):
		add("server")
		add("server_storage")
	case strings.Contains(lowerPath, "startergui"), strings.Contains(lowerPath, "startercharacter"), strings.Contains(lowerPath, "client"):
		add("client")
		add("ui")
	case strings.Contains(lowerPath, "replicatedstorage"), strings.Contains(lowerPath, "shared"):
		add("shared")
	}

	add(strings.ToLower(className))

	for _, svc := range services {
		if tag, ok := serviceTags[svc]; ok {
			add(tag)
		}
	}

	return tags
}

// Fingerprint computes the sha1/bytes/unknown fallback chain used
// throughout the context store: prefer the explicit sha1, else hash the
// source, else fall back to a byte count, else "unknown".
func Fingerprint(script types.ScriptEntry) string {
	switch {
	case script.SHA1 != "":
		return script.SHA1
	case script.Source != "":
		sum := sha1.Sum([]byte(script.Source))
		return "sha1:" + hex.EncodeToString(sum[:])
	case script.Bytes > 0:
		return "bytes:" + itoa(script.Bytes)
	default:
		return "unknown"
	}
}

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
