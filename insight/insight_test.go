package insight

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/settlr/settlr/model"
)

const testURL = "http://insight.test/summarize"

func sampleSnapshot() model.RollupSnapshot {
	return model.RollupSnapshot{
		GroupBy: model.GroupByCategory,
		Buckets: map[string]model.RollupBucket{
			"food":      {Count: 3, TotalAmount: decimal.NewFromInt(45)},
			"transport": {Count: 1, TotalAmount: decimal.NewFromInt(12)},
		},
	}
}

func TestHTTPProviderSummarize(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	var seenAuth string
	httpmock.RegisterResponder(http.MethodPost, testURL,
		func(req *http.Request) (*http.Response, error) {
			seenAuth = req.Header.Get("Authorization")
			return httpmock.NewJsonResponse(http.StatusOK, map[string]string{
				"summary": "Mostly food spending this week.",
			})
		})

	provider := NewHTTPProvider(testURL, "sk-test", 5*time.Second)
	summary, err := provider.Summarize(context.Background(), sampleSnapshot())
	require.NoError(t, err)
	assert.Equal(t, "Mostly food spending this week.", summary)
	assert.Equal(t, "Bearer sk-test", seenAuth)
}

func TestHTTPProviderNon200(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder(http.MethodPost, testURL,
		httpmock.NewStringResponder(http.StatusTooManyRequests, `{}`))

	provider := NewHTTPProvider(testURL, "sk-test", 5*time.Second)
	_, err := provider.Summarize(context.Background(), sampleSnapshot())
	assert.Error(t, err)
}

func TestHTTPProviderEmptySummary(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder(http.MethodPost, testURL,
		httpmock.NewJsonResponderOrPanic(http.StatusOK, map[string]string{"summary": "  "}))

	provider := NewHTTPProvider(testURL, "", 5*time.Second)
	_, err := provider.Summarize(context.Background(), sampleSnapshot())
	assert.Error(t, err)
}

func TestFallbackSummary(t *testing.T) {
	snapshot := sampleSnapshot()
	assert.Equal(t, "4 transactions totaling 57, led by food.", FallbackSummary(snapshot))

	empty := model.RollupSnapshot{Buckets: map[string]model.RollupBucket{}}
	assert.Equal(t, "No settled transactions in this window.", FallbackSummary(empty))
}

func TestSummarizeFallsBackOnProviderError(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder(http.MethodPost, testURL,
		httpmock.NewErrorResponder(assert.AnError))

	provider := NewHTTPProvider(testURL, "sk-test", time.Second)
	text := Summarize(context.Background(), provider, sampleSnapshot())
	assert.Equal(t, "4 transactions totaling 57, led by food.", text)
}

func TestSummarizeNilProviderUsesFallback(t *testing.T) {
	text := Summarize(context.Background(), nil, sampleSnapshot())
	assert.Equal(t, "4 transactions totaling 57, led by food.", text)
}
