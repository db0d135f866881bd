package ai

import (
	"strconv"
	"strings"

	"github.com/lotas/cognito/internal/types"
)

// MaxTags caps the tags kept from a model response.
const MaxTags = 5

const (
	findingsBadFormat  = "AI response was not in the expected format.\n\n"
	findingsBadVerdict = "AI verdict did not match a known classification.\n\n"
)

// ParseTags splits a comma-separated model response into tags. Quotes and
// surrounding whitespace are stripped, empties and case-insensitive
// duplicates dropped, and at most MaxTags kept. Never fails.
func ParseTags(raw string) []string {
	tags := []string{}
	seen := make(map[string]bool)
	for _, part := range strings.Split(raw, ",") {
		tag := strings.Trim(strings.TrimSpace(part), "\"'`")
		tag = strings.TrimSpace(tag)
		if tag == "" || strings.ContainsAny(tag, "\n\r") {
			continue
		}
		key := strings.ToLower(tag)
		if seen[key] {
			continue
		}
		seen[key] = true
		tags = append(tags, tag)
		if len(tags) == MaxTags {
			break
		}
	}
	return tags
}

// ParseProvenance reads a "<verdict>\n---\n<findings>" response. Any
// response that does not match the format yields ProvenanceUnverified with
// the raw text kept in Findings.
func ParseProvenance(raw string) types.ProvenanceResult {
	verdict, findings, ok := strings.Cut(raw, "---")
	if !ok {
		return types.ProvenanceResult{
			Status:   types.ProvenanceUnverified,
			Findings: findingsBadFormat + raw,
		}
	}

	verdict = strings.ToLower(strings.TrimSpace(verdict))
	var status types.ProvenanceStatus
	switch {
	case strings.Contains(verdict, strings.ToLower(verdictAuthentic)):
		status = types.ProvenanceAuthentic
	case strings.Contains(verdict, strings.ToLower(verdictCaution)):
		status = types.ProvenanceCaution
	case strings.Contains(verdict, strings.ToLower(verdictManipulated)):
		status = types.ProvenanceManipulated
	default:
		return types.ProvenanceResult{
			Status:   types.ProvenanceUnverified,
			Findings: findingsBadVerdict + raw,
		}
	}
	return types.ProvenanceResult{
		Status:   status,
		Findings: strings.TrimSpace(findings),
	}
}

// ParseIDs reads a comma-separated id list. Tokens that are not integers
// are dropped; an empty response is no ids.
func ParseIDs(raw string) []int64 {
	var ids []int64
	for _, tok := range strings.Split(raw, ",") {
		tok = strings.Trim(strings.TrimSpace(tok), "\"'`")
		if tok == "" {
			continue
		}
		id, err := strconv.ParseInt(tok, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}
