package resolve

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"

	"github.com/hyperlinklaw/linkengine/internal/providers"
	"github.com/hyperlinklaw/linkengine/internal/store"
)

// Options configures a Resolver.
type Options struct {
	// MinConfidence is the auto-link threshold; candidates below it are
	// escalated to arbitration.
	MinConfidence float64
	// MaxCandidates caps how many scored candidates survive per reference.
	MaxCandidates int
}

// Result summarizes one resolution run.
type Result struct {
	Links       []store.Link `json:"links"`
	AutoLinked  int          `json:"auto_linked"`
	Arbitrated  int          `json:"arbitrated"`
	NeedsReview int          `json:"needs_review"`
	// Hash fingerprints the resolved link set. Two runs over identical
	// inputs produce identical hashes.
	Hash string `json:"hash"`
}

// Resolver turns a document's index entries into links.
type Resolver struct {
	store   store.Store
	arbiter providers.Arbiter
	opts    Options
	logger  *slog.Logger
}

func NewResolver(st store.Store, arbiter providers.Arbiter, opts Options, logger *slog.Logger) *Resolver {
	if opts.MinConfidence <= 0 {
		opts.MinConfidence = 0.92
	}
	if opts.MaxCandidates <= 0 {
		opts.MaxCandidates = 3
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{store: st, arbiter: arbiter, opts: opts, logger: logger}
}

// ResolveDocument resolves every index entry to a destination page and
// atomically replaces the document's link set. Entries the matchers and
// arbitration both fail to place are stored as needs_review links with a
// zero destination so the strict validator surfaces them.
func (r *Resolver) ResolveDocument(ctx context.Context, docID string) (*Result, error) {
	items, err := r.store.ListIndexItems(ctx, docID)
	if err != nil {
		return nil, fmt.Errorf("loading index items: %w", err)
	}
	if len(items) == 0 {
		if err := r.store.ReplaceLinks(ctx, docID, nil); err != nil {
			return nil, err
		}
		return &Result{Hash: LinkHash(nil)}, nil
	}

	pages, err := r.store.ListPages(ctx, docID, 1, 0)
	if err != nil {
		return nil, fmt.Errorf("loading pages: %w", err)
	}
	pageIdx := PageIndex(pages)

	sort.Slice(items, func(i, j int) bool { return items[i].Ordinal < items[j].Ordinal })

	result := &Result{}
	links := make([]store.Link, 0, len(items))
	for _, item := range items {
		link := r.resolveItem(ctx, docID, item, pageIdx, result)
		links = append(links, link)
	}

	if err := r.store.ReplaceLinks(ctx, docID, links); err != nil {
		return nil, fmt.Errorf("storing links: %w", err)
	}

	result.Links = links
	result.Hash = LinkHash(links)
	r.logger.Info("resolution complete",
		"document_id", docID,
		"links", len(links),
		"auto_linked", result.AutoLinked,
		"arbitrated", result.Arbitrated,
		"needs_review", result.NeedsReview,
		"hash", result.Hash[:16])
	return result, nil
}

func (r *Resolver) resolveItem(ctx context.Context, docID string, item store.IndexItem, pageIdx map[int]string, result *Result) store.Link {
	ref := Classify(item)
	link := store.Link{
		DocumentID: docID,
		Ordinal:    item.Ordinal,
		SourcePage: item.SourcePage,
		Status:     store.LinkStatusPending,
	}

	candidates := GenerateCandidates(ref, pageIdx, r.opts.MaxCandidates)
	if len(candidates) == 0 {
		link.Method = string(MethodNeedsReview)
		link.Reason = "no matching pages"
		result.NeedsReview++
		return link
	}

	top := candidates[0]
	if top.Confidence >= r.opts.MinConfidence {
		link.DestPage = top.DestPage
		link.Confidence = top.Confidence
		link.Method = string(top.Method)
		result.AutoLinked++
		return link
	}

	decision := Arbitrate(ctx, r.arbiter, ref, candidates, r.opts.MinConfidence, r.logger)
	if decision.Decision == "pick" {
		for _, c := range candidates {
			if c.DestPage == decision.DestPage {
				link.DestPage = c.DestPage
				link.Confidence = c.Confidence
				link.Method = string(c.Method)
				link.Reason = decision.Reason
				result.Arbitrated++
				return link
			}
		}
	}

	link.Method = string(MethodNeedsReview)
	if decision.Reason != "" {
		link.Reason = decision.Reason
	} else {
		link.Reason = fmt.Sprintf("best candidate %.2f below threshold %.2f", top.Confidence, r.opts.MinConfidence)
	}
	result.NeedsReview++
	return link
}

// LinkHash fingerprints a link set: links sorted by ordinal, reduced to
// their placement fields, serialized, and hashed.
func LinkHash(links []store.Link) string {
	type entry struct {
		Ordinal    int    `json:"ordinal"`
		SourcePage int    `json:"source_page"`
		DestPage   int    `json:"dest_page"`
		Method     string `json:"method"`
	}
	entries := make([]entry, 0, len(links))
	for _, l := range links {
		entries = append(entries, entry{l.Ordinal, l.SourcePage, l.DestPage, l.Method})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Ordinal < entries[j].Ordinal })

	data, _ := json.Marshal(entries)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
