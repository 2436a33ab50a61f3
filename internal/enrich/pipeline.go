package enrich

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/21chrisab/mailbrief/internal/analysis"
	"github.com/21chrisab/mailbrief/internal/auth"
	"github.com/21chrisab/mailbrief/internal/logging"
	"github.com/21chrisab/mailbrief/internal/mail"
)

// DefaultConcurrency bounds the analysis fan-out per request.
const DefaultConcurrency = 8

// TokenBroker supplies a valid access token for an identity.
type TokenBroker interface {
	AccessToken(ctx context.Context, identity auth.Identity) (string, error)
}

// Gateway fetches a page of recent mail items.
type Gateway interface {
	FetchRecent(ctx context.Context, accessToken string, limit int64, query string) ([]mail.Item, error)
}

// Analyzer produces an analysis record for one message text. It must not
// fail outward; failures are substituted inside the analyzer.
type Analyzer interface {
	Analyze(ctx context.Context, text string) analysis.Result
}

// Enriched pairs a mail item with its analysis record.
type Enriched struct {
	mail.Item
	Analysis analysis.Result `json:"analysis"`
}

// Pipeline orchestrates token acquisition, the mail fetch and the per-item
// analysis fan-out.
type Pipeline struct {
	broker      TokenBroker
	gateway     Gateway
	analyzer    Analyzer
	concurrency int
	logger      *slog.Logger
}

// NewPipeline creates an enrichment pipeline. Concurrency <= 0 selects the
// default fan-out bound.
func NewPipeline(broker TokenBroker, gateway Gateway, analyzer Analyzer, concurrency int, logger *slog.Logger) *Pipeline {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		broker:      broker,
		gateway:     gateway,
		analyzer:    analyzer,
		concurrency: concurrency,
		logger:      logging.WithComponent(logger, "enrich"),
	}
}

// FetchAndEnrich fetches a page of mail for the identity and analyzes each
// item concurrently. The token is validated first so a doomed request never
// spends a mail fetch; ErrReauthRequired propagates untouched. Analysis
// failures are substituted per item, so the result always has exactly one
// entry per fetched item, in the original fetch order.
func (p *Pipeline) FetchAndEnrich(ctx context.Context, identity auth.Identity, limit int64, query string) ([]Enriched, error) {
	token, err := p.broker.AccessToken(ctx, identity)
	if err != nil {
		return nil, err
	}

	items, err := p.gateway.FetchRecent(ctx, token, limit, query)
	if err != nil {
		return nil, err
	}

	out := make([]Enriched, len(items))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for i, item := range items {
		item.Body = mail.NormalizeBody(item.Body)
		out[i].Item = item

		g.Go(func() error {
			// Each goroutine writes only its own slot; no lock needed.
			out[i].Analysis = p.analyzer.Analyze(gctx, analysisInput(out[i].Item))
			return nil
		})
	}
	// Analyze never returns an error, so Wait only joins the fan-out.
	_ = g.Wait()

	p.logger.Debug("enriched mail batch",
		logging.UserHash(identity.Email), logging.Count(len(out)))
	return out, nil
}

// analysisInput assembles the text handed to the analyzer. Subject and
// sender give the model context the body alone often lacks.
func analysisInput(item mail.Item) string {
	text := "Subject: " + item.Subject + "\nFrom: " + item.From + "\n\n" + item.Body
	if item.Body == "" {
		text += item.Snippet
	}
	return text
}
