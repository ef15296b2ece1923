package insight

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/settlr/settlr/internal/request"
	"github.com/settlr/settlr/model"
)

// Provider turns a rollup snapshot into a one-paragraph narrative.
// Providers are advisory only. Callers must treat any error as a cue
// to fall back to FallbackSummary and never surface it to the client.
type Provider interface {
	Summarize(ctx context.Context, snapshot model.RollupSnapshot) (string, error)
}

// HTTPProvider calls an external chat-completion style endpoint with a
// bearer token and a hard per-request timeout.
type HTTPProvider struct {
	url     string
	token   string
	timeout time.Duration
}

func NewHTTPProvider(url, token string, timeout time.Duration) *HTTPProvider {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPProvider{url: url, token: token, timeout: timeout}
}

type summaryRequest struct {
	Prompt string `json:"prompt"`
}

type summaryResponse struct {
	Summary string `json:"summary"`
}

func (p *HTTPProvider) Summarize(ctx context.Context, snapshot model.RollupSnapshot) (string, error) {
	if p.url == "" {
		return "", errors.New("insight provider not configured")
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	payload, err := request.ToJsonReq(&summaryRequest{Prompt: buildPrompt(snapshot)})
	if err != nil {
		return "", errors.Wrap(err, "failed to encode insight request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, payload)
	if err != nil {
		return "", errors.Wrap(err, "failed to build insight request")
	}
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}

	var result summaryResponse
	resp, err := request.Call(req, &result)
	if err != nil {
		return "", errors.Wrap(err, "insight provider request failed")
	}
	if resp.StatusCode != http.StatusOK {
		return "", errors.Errorf("insight provider returned status %d", resp.StatusCode)
	}
	if strings.TrimSpace(result.Summary) == "" {
		return "", errors.New("insight provider returned empty summary")
	}
	return result.Summary, nil
}

// buildPrompt renders the snapshot as plain lines, largest bucket
// first, so the provider sees stable input for identical snapshots.
func buildPrompt(snapshot model.RollupSnapshot) string {
	keys := make([]string, 0, len(snapshot.Buckets))
	for key := range snapshot.Buckets {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		bi, bj := snapshot.Buckets[keys[i]], snapshot.Buckets[keys[j]]
		if !bi.TotalAmount.Equal(bj.TotalAmount) {
			return bi.TotalAmount.GreaterThan(bj.TotalAmount)
		}
		return keys[i] < keys[j]
	})

	var sb strings.Builder
	sb.WriteString("Summarize this spending breakdown in one short paragraph:\n")
	for _, key := range keys {
		bucket := snapshot.Buckets[key]
		fmt.Fprintf(&sb, "%s: %d transactions totaling %s\n", key, bucket.Count, bucket.TotalAmount.String())
	}
	return sb.String()
}

// FallbackSummary is the deterministic narrative used when no provider
// is configured or the provider call fails. Same snapshot, same text.
func FallbackSummary(snapshot model.RollupSnapshot) string {
	count := snapshot.TotalCount()
	if count == 0 {
		return "No settled transactions in this window."
	}
	return fmt.Sprintf("%d transactions totaling %s, led by %s.",
		count, snapshot.TotalAmount().String(), snapshot.TopCategory())
}

// Summarize runs the provider with the fallback behind it. The only
// way this returns a non-usable string is an empty snapshot, and even
// that yields fixed text.
func Summarize(ctx context.Context, provider Provider, snapshot model.RollupSnapshot) string {
	if provider != nil {
		summary, err := provider.Summarize(ctx, snapshot)
		if err == nil {
			return summary
		}
		logrus.WithError(err).Warn("insight provider failed, using fallback summary")
	}
	return FallbackSummary(snapshot)
}
