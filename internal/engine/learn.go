package engine

import (
	"context"
	"errors"
	"slices"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"github.com/scrypster/memindex/internal/storage"
	"github.com/scrypster/memindex/pkg/types"
)

const minLearnedTermLen = 4

var learnStopWords = map[string]bool{
	"that": true, "this": true, "what": true, "where": true, "when": true,
	"which": true, "with": true, "from": true, "have": true, "been": true,
	"were": true, "being": true, "about": true, "into": true, "through": true,
	"during": true, "before": true, "after": true, "above": true, "below": true,
	"between": true, "under": true, "again": true, "further": true, "then": true,
	"once": true, "here": true, "there": true, "each": true, "some": true,
	"other": true,
}

// LearnFromSelection adds up to three terms of query to the trigger phrases
// of the record the user picked. Terms shorter than four characters, stop
// words, numbers and existing triggers are skipped; the list stays capped at
// types.MaxTriggerPhrases. It reports whether anything was added.
func (e *Engine) LearnFromSelection(ctx context.Context, query string, id int64) (bool, error) {
	if strings.TrimSpace(query) == "" || id <= 0 {
		return false, nil
	}
	rec, err := e.store.Get(ctx, id)
	if err != nil || rec == nil {
		return false, err
	}

	have := make(map[string]bool, len(rec.TriggerPhrases))
	for _, t := range rec.TriggerPhrases {
		have[strings.ToLower(t)] = true
	}

	var terms []string
	for _, term := range strings.Fields(strings.ToLower(query)) {
		if len([]rune(term)) < minLearnedTermLen || learnStopWords[term] || have[term] || isNumber(term) {
			continue
		}
		have[term] = true
		terms = append(terms, term)
		if len(terms) == maxLearnedTermsPerSelect {
			break
		}
	}
	if len(terms) == 0 {
		return false, nil
	}

	updated := append(slices.Clone(rec.TriggerPhrases), terms...)
	if len(updated) > types.MaxTriggerPhrases {
		updated = updated[:types.MaxTriggerPhrases]
	}
	if len(updated) == len(rec.TriggerPhrases) {
		return false, nil
	}
	if err := e.store.Update(ctx, id, types.RecordUpdate{TriggerPhrases: updated}); err != nil {
		return false, err
	}
	return true, nil
}

func isNumber(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return s != ""
}

// LinkRelatedOnSave stores the up to five nearest neighbours of a freshly
// saved record (similarity at least 75) as its related memories. Content is
// embedded from its first 1000 characters. With vectors unavailable nothing
// is linked.
func (e *Engine) LinkRelatedOnSave(ctx context.Context, id int64, content string) ([]types.RelatedLink, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, nil
	}
	if r := []rune(content); len(r) > relatedEmbedChars {
		content = string(r[:relatedEmbedChars])
	}
	vec, err := e.embed(ctx, content)
	if errors.Is(err, storage.ErrVectorUnavailable) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return e.linkRelated(ctx, id, vec)
}

func (e *Engine) linkRelated(ctx context.Context, id int64, vec []float64) ([]types.RelatedLink, error) {
	similar, err := e.store.VectorSearch(ctx, vec, storage.VectorSearchOptions{
		Limit:         RelatedLinkLimit + 1,
		MinSimilarity: RelatedMinSimilarity,
		Now:           e.now(),
	})
	if errors.Is(err, storage.ErrVectorUnavailable) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var links []types.RelatedLink
	for _, r := range similar {
		if r.ID == id {
			continue
		}
		links = append(links, types.RelatedLink{ID: r.ID, Similarity: r.Similarity})
		if len(links) == RelatedLinkLimit {
			break
		}
	}
	if len(links) == 0 {
		return nil, nil
	}
	if err := e.store.SetRelatedMemories(ctx, id, links); err != nil {
		return nil, err
	}
	e.log.Debug("engine: linked related memories", zap.Int64("id", id), zap.Int("links", len(links)))
	return links, nil
}
