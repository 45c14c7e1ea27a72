package remote

import (
	"errors"
	"net/url"
	"strings"
	"testing"
)

type issue struct {
	ID    int    `json:"id"`
	Title string `json:"title"`
	Repo  string `json:"repo,omitempty"`
}

func TestResourceURLReadsPaginationAtCallTime(t *testing.T) {
	page := 1
	res := NewResource[issue](KindList, "issues", "/repos/{owner}/{repo}/issues",
		WithPathParams[issue](map[string]string{"owner": "acme", "repo": "web app"}),
		WithParams[issue](func() url.Values { return url.Values{"state": {"open"}} }),
		WithPagination[issue](func() int { return page }, 0),
		WithFieldID[issue]("id"),
	)

	first, err := res.URL("https://api.example.com/")
	if err != nil {
		t.Fatalf("url: %v", err)
	}
	page = 2
	second, err := res.URL("https://api.example.com/")
	if err != nil {
		t.Fatalf("url: %v", err)
	}

	if !strings.HasPrefix(first, "https://api.example.com/repos/acme/web%20app/issues?") {
		t.Fatalf("unexpected url %s", first)
	}
	if !strings.Contains(first, "page=1") || !strings.Contains(first, "per_page=30") || !strings.Contains(first, "state=open") {
		t.Fatalf("missing query parameters in %s", first)
	}
	if !strings.Contains(second, "page=2") {
		t.Fatalf("expected page read at call time, got %s", second)
	}
}

func TestExpandPathMissingParameter(t *testing.T) {
	if _, err := ExpandPath("/repos/{owner}", nil); !errors.Is(err, ErrInvalidResource) {
		t.Fatalf("expected ErrInvalidResource, got %v", err)
	}
	if _, err := ExpandPath("/repos/{owner", map[string]string{"owner": "x"}); !errors.Is(err, ErrInvalidResource) {
		t.Fatalf("expected ErrInvalidResource for unterminated placeholder, got %v", err)
	}
}

func TestValidateRequiresFieldIDForLists(t *testing.T) {
	res := NewResource[issue](KindList, "issues", "/issues")
	if err := res.Validate(); !errors.Is(err, ErrInvalidResource) {
		t.Fatalf("expected ErrInvalidResource, got %v", err)
	}
	if !res.RequireAuth {
		t.Fatalf("resources should require auth by default")
	}
	if NewResource[issue](KindGet, "labels", "/labels", Public[issue]()).RequireAuth {
		t.Fatalf("Public should clear RequireAuth")
	}
}

func TestLoadRunsProjectionFirstThenTransforms(t *testing.T) {
	var seen any
	res := NewResource[issue](KindList, "issues", "/issues",
		WithFieldID[issue]("id"),
		WithPickFields[issue]("id", "title"),
		WithRawTransform[issue](func(v any) (any, error) {
			seen = v
			return v, nil
		}),
		WithTransform[issue](func(i issue) (issue, error) {
			i.Repo = "acme/web"
			return i, nil
		}),
	)

	payload := []any{
		map[string]any{"id": float64(7), "title": "Crash", "body": "long"},
		map[string]any{"id": float64(8), "title": "Docs"},
	}
	items, err := res.LoadList("https://x/issues", payload)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(items) != 2 || items[0].ID != 7 || items[1].Title != "Docs" {
		t.Fatalf("unexpected items %+v", items)
	}
	if items[0].Repo != "acme/web" {
		t.Fatalf("typed transform did not run: %+v", items[0])
	}
	if _, leaked := seen.(map[string]any)["body"]; leaked {
		t.Fatalf("raw transform saw unprojected payload: %v", seen)
	}
}

func TestLoadListRejectsNonArray(t *testing.T) {
	res := NewResource[issue](KindList, "issues", "/issues", WithFieldID[issue]("id"))
	if _, err := res.LoadList("u", map[string]any{}); !errors.Is(err, ErrFetchFailed) {
		t.Fatalf("expected ErrFetchFailed, got %v", err)
	}
}

func TestTransformErrorsStopTheChain(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	chain := Chain(
		func(v int) (int, error) { calls++; return v + 1, nil },
		func(int) (int, error) { calls++; return 0, boom },
		func(v int) (int, error) { calls++; return v, nil },
	)
	if _, err := chain(1); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected chain to stop after failure, ran %d stages", calls)
	}

	double := Compose(func(v int) (int, error) { return v * 2, nil }, func(v int) (string, error) {
		return strings.Repeat("x", v), nil
	})
	if got, _ := double(2); got != "xxxx" {
		t.Fatalf("unexpected composed result %q", got)
	}
}

func TestFieldKey(t *testing.T) {
	if got := FieldKey[issue]("id")(issue{ID: 42}); got != "42" {
		t.Fatalf("struct json tag: got %q", got)
	}
	if got := FieldKey[map[string]any]("id")(map[string]any{"id": float64(1234567890)}); got != "1234567890" {
		t.Fatalf("float ids should render as integers, got %q", got)
	}
	if got := FieldKey[map[string]any]("name")(map[string]any{}); got != "" {
		t.Fatalf("missing field should be empty, got %q", got)
	}
	type label struct{ Name string }
	if got := FieldKey[*label]("name")(&label{Name: "bug"}); got != "bug" {
		t.Fatalf("field name fallback: got %q", got)
	}
}
