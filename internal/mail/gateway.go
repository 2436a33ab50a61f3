package mail

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/21chrisab/mailbrief/internal/instrumentation"
	"github.com/21chrisab/mailbrief/internal/logging"
)

const (
	// DefaultPageSize applies when the caller does not bound the fetch.
	DefaultPageSize int64 = 10

	// maxPageSize caps a single fetch at the Gmail list page limit.
	maxPageSize int64 = 100
)

// Gateway is a thin request builder against the upstream mail API,
// parameterized per call by an access token. It holds no credentials
// itself.
type Gateway struct {
	endpoint string // test override, empty in production
	logger   *slog.Logger
	metrics  *instrumentation.Metrics
}

// NewGateway creates a mail gateway.
func NewGateway(logger *slog.Logger, metrics *instrumentation.Metrics) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		logger:  logging.WithComponent(logger, "mail"),
		metrics: metrics,
	}
}

// NewGatewayWithEndpoint creates a gateway pointed at a non-default API
// base URL. Tests use this with an httptest server.
func NewGatewayWithEndpoint(endpoint string, logger *slog.Logger, metrics *instrumentation.Metrics) *Gateway {
	g := NewGateway(logger, metrics)
	g.endpoint = endpoint
	return g
}

// FetchRecent lists the most recent messages for the token's mailbox, up to
// limit, optionally narrowed by a free-text query. The query is passed
// through opaquely; its syntax belongs to the provider. Output order is the
// provider's list order (newest first).
func (g *Gateway) FetchRecent(ctx context.Context, accessToken string, limit int64, query string) ([]Item, error) {
	start := time.Now()
	items, err := g.fetchRecent(ctx, accessToken, limit, query)
	if err != nil {
		g.metrics.RecordMailFetch(ctx, instrumentation.StatusError, time.Since(start))
		return nil, err
	}
	g.metrics.RecordMailFetch(ctx, instrumentation.StatusSuccess, time.Since(start))
	g.logger.Debug("fetched messages", logging.Count(len(items)))
	return items, nil
}

func (g *Gateway) fetchRecent(ctx context.Context, accessToken string, limit int64, query string) ([]Item, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	opts := []option.ClientOption{
		option.WithTokenSource(oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken})),
	}
	if g.endpoint != "" {
		opts = append(opts, option.WithEndpoint(g.endpoint))
	}

	svc, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create mail service: %w", err)
	}

	listReq := svc.Users.Messages.List("me").MaxResults(limit)
	if query != "" {
		listReq = listReq.Q(query)
	}

	listRes, err := listReq.Context(ctx).Do()
	if err != nil {
		return nil, mapUpstreamError("list messages", err)
	}

	items := make([]Item, 0, len(listRes.Messages))
	for _, ref := range listRes.Messages {
		msg, err := svc.Users.Messages.Get("me", ref.Id).Format("full").Context(ctx).Do()
		if err != nil {
			return nil, mapUpstreamError("get message", err)
		}
		items = append(items, itemFromMessage(msg))
	}

	return items, nil
}

// itemFromMessage flattens a full-format message into the Item shape.
func itemFromMessage(msg *gmail.Message) Item {
	return Item{
		ID:       msg.Id,
		ThreadID: msg.ThreadId,
		Subject:  HeaderValue(msg, "Subject"),
		From:     HeaderValue(msg, "From"),
		Date:     time.UnixMilli(msg.InternalDate).UTC(),
		Snippet:  msg.Snippet,
		Body:     extractBody(msg),
	}
}

// HeaderValue returns the value of the named header from a message, or ""
// if the header is absent.
func HeaderValue(m *gmail.Message, header string) string {
	if m.Payload == nil {
		return ""
	}
	for _, h := range m.Payload.Headers {
		if strings.EqualFold(h.Name, header) {
			return h.Value
		}
	}
	return ""
}

// mapUpstreamError folds a Gmail API error into the gateway taxonomy.
// 4xx means the provider rejected the call (scope, quota, bad query); 5xx,
// timeouts and transport errors mean it was unavailable.
func mapUpstreamError(op string, err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		if apiErr.Code >= http.StatusBadRequest && apiErr.Code < http.StatusInternalServerError {
			return fmt.Errorf("%s: %w: %v", op, ErrUpstreamRejected, err)
		}
		return fmt.Errorf("%s: %w: %v", op, ErrUpstreamUnavailable, err)
	}
	return fmt.Errorf("%s: %w: %v", op, ErrUpstreamUnavailable, err)
}
