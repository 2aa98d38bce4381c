package keywords

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/require"

	"github.com/appsight/aso-pipeline/internal/aso"
)

type fakeMessageAPI struct {
	gotParams anthropic.MessageNewParams
	resp      *anthropic.Message
	err       error
}

func (f *fakeMessageAPI) New(_ context.Context, params anthropic.MessageNewParams, _ ...option.RequestOption) (*anthropic.Message, error) {
	f.gotParams = params
	return f.resp, f.err
}

type fakeImageFetcher struct {
	images  []aso.Image
	gotURLs []string
	gotMax  int
}

func (f *fakeImageFetcher) Fetch(context.Context, string) (aso.Image, error) {
	return aso.Image{}, errors.New("unused")
}

func (f *fakeImageFetcher) FetchAll(_ context.Context, urls []string, max int) []aso.Image {
	f.gotURLs = urls
	f.gotMax = max
	return f.images
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func toolUseMessage(t *testing.T, keywords []string) *anthropic.Message {
	t.Helper()
	input, err := json.Marshal(map[string][]string{"keywords": keywords})
	require.NoError(t, err)
	return &anthropic.Message{
		Model: anthropic.Model("claude-3-5-sonnet-20241022"),
		Content: []anthropic.ContentBlockUnion{{
			Type:  "tool_use",
			Name:  toolName,
			Input: input,
		}},
	}
}

func sampleApp() aso.AppRecord {
	return aso.AppRecord{
		Handle:      1294015297,
		Title:       "100 Questions • Party Exposed",
		Description: "Ice-breaker questions for parties.",
		Genres:      []string{"Entertainment", "Games"},
		Screenshots: []string{"https://x/s1.png", "https://x/s2.png", "https://x/s3.png", "https://x/s4.png", "https://x/s5.png"},
	}
}

func newTestGenerator(api messageAPI, fetcher aso.ImageFetcher, cfg Config) *Generator {
	return newWithAPI(api, cfg, fetcher, fixedClock{now: time.Unix(1700000000, 0).UTC()}, nil)
}

func TestGenerate_Success(t *testing.T) {
	t.Parallel()

	kws := []string{
		"party questions", "ice breaker game", "drinking game questions", "party game",
		"group questions", "question game", "party conversation", "friends questions",
		"party night game", "icebreaker questions", "fun group game", "question party",
		"get to know you game", "social game", "party starter",
	}
	api := &fakeMessageAPI{resp: toolUseMessage(t, kws)}
	fetcher := &fakeImageFetcher{images: []aso.Image{
		{URL: "https://x/s1.png", MediaType: "image/png", Data: []byte("a")},
		{URL: "https://x/s2.png", MediaType: "image/jpeg", Data: []byte("b")},
	}}
	gen := newTestGenerator(api, fetcher, Config{})

	set, err := gen.Generate(context.Background(), sampleApp())
	require.NoError(t, err)
	require.Equal(t, kws, set.Keywords)
	require.Equal(t, "100 Questions • Party Exposed", set.AppTitle)
	require.Equal(t, "claude-3-5-sonnet-20241022", set.Model)
	require.Equal(t, time.Unix(1700000000, 0).UTC(), set.GeneratedAt)
	require.Equal(t, 15, set.Count())

	// Screenshot list is bounded before it reaches the transport.
	require.Equal(t, defaultScreenshotCap, fetcher.gotMax)

	// One text block plus one image block per fetched screenshot.
	require.Len(t, api.gotParams.Messages, 1)
	require.Len(t, api.gotParams.Messages[0].Content, 3)
	require.Equal(t, anthropic.Model(defaultModel), api.gotParams.Model)
	require.NotNil(t, api.gotParams.ToolChoice.OfTool)
	require.Equal(t, toolName, api.gotParams.ToolChoice.OfTool.Name)
}

func TestGenerate_ValidationErrors(t *testing.T) {
	t.Parallel()

	gen := newTestGenerator(&fakeMessageAPI{}, &fakeImageFetcher{}, Config{})

	app := sampleApp()
	app.Title = ""
	_, err := gen.Generate(context.Background(), app)
	require.Equal(t, aso.KindValidation, aso.KindOf(err))

	app = sampleApp()
	app.Description = ""
	_, err = gen.Generate(context.Background(), app)
	require.Equal(t, aso.KindValidation, aso.KindOf(err))
}

func TestGenerate_EmptyKeywordListIsHardFailure(t *testing.T) {
	t.Parallel()

	api := &fakeMessageAPI{resp: toolUseMessage(t, nil)}
	gen := newTestGenerator(api, &fakeImageFetcher{}, Config{})

	_, err := gen.Generate(context.Background(), sampleApp())
	require.Error(t, err)
	require.Equal(t, aso.KindNoKeywords, aso.KindOf(err))
}

func TestGenerate_ShortYieldIsNotAFailure(t *testing.T) {
	t.Parallel()

	api := &fakeMessageAPI{resp: toolUseMessage(t, []string{"party questions"})}
	gen := newTestGenerator(api, &fakeImageFetcher{}, Config{})

	set, err := gen.Generate(context.Background(), sampleApp())
	require.NoError(t, err)
	require.Equal(t, 1, set.Count())
}

func TestGenerate_MissingToolBlockIsMalformed(t *testing.T) {
	t.Parallel()

	api := &fakeMessageAPI{resp: &anthropic.Message{
		Content: []anthropic.ContentBlockUnion{{Type: "text", Text: "party questions, ice breaker"}},
	}}
	gen := newTestGenerator(api, &fakeImageFetcher{}, Config{})

	_, err := gen.Generate(context.Background(), sampleApp())
	require.Error(t, err)
	require.Equal(t, aso.KindMalformed, aso.KindOf(err))
}

func TestGenerate_ErrorClassification(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		status int
		kind   aso.Kind
	}{
		{name: "auth", status: 401, kind: aso.KindAuth},
		{name: "forbidden", status: 403, kind: aso.KindAuth},
		{name: "quota", status: 402, kind: aso.KindQuota},
		{name: "rate limit", status: 429, kind: aso.KindRateLimit},
		{name: "server error", status: 500, kind: aso.KindUpstream},
		{name: "overloaded", status: 529, kind: aso.KindUpstream},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			api := &fakeMessageAPI{err: &anthropic.Error{StatusCode: tc.status}}
			gen := newTestGenerator(api, &fakeImageFetcher{}, Config{})

			_, err := gen.Generate(context.Background(), sampleApp())
			require.Error(t, err)
			require.Equal(t, tc.kind, aso.KindOf(err))
		})
	}
}

func TestGenerate_NetworkErrorIsUpstream(t *testing.T) {
	t.Parallel()

	api := &fakeMessageAPI{err: errors.New("connection reset")}
	gen := newTestGenerator(api, &fakeImageFetcher{}, Config{})

	_, err := gen.Generate(context.Background(), sampleApp())
	require.Equal(t, aso.KindUpstream, aso.KindOf(err))
}

func TestBuildPrompt_MentionsMinimumAndOrdering(t *testing.T) {
	t.Parallel()

	gen := newTestGenerator(&fakeMessageAPI{}, &fakeImageFetcher{}, Config{MinKeywords: 20})
	prompt := gen.buildPrompt(sampleApp())
	require.Contains(t, prompt, "at least 20")
	require.Contains(t, prompt, "estimated search value")
	require.Contains(t, prompt, "100 Questions • Party Exposed")
	require.Contains(t, prompt, "Entertainment, Games")
}
