// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package knowledge

import (
	"context"
	"testing"

	"github.com/ToKiDoO/crawl4ai-rag-mcp-sub001/services/knowledge/graph"
	"github.com/ToKiDoO/crawl4ai-rag-mcp-sub001/services/knowledge/report"
	"github.com/ToKiDoO/crawl4ai-rag-mcp-sub001/services/knowledge/script"
	"github.com/ToKiDoO/crawl4ai-rag-mcp-sub001/services/knowledge/suggest"
	badgerstore "github.com/ToKiDoO/crawl4ai-rag-mcp-sub001/services/knowledge/storage/badger"
	"github.com/ToKiDoO/crawl4ai-rag-mcp-sub001/services/knowledge/validate"
)

const clientLibrary = `
class Session:
    """HTTP session with connection pooling."""

    def __init__(self):
        self.headers = {}

    def get(self, url):
        return self._send("GET", url)

    def post(self, url, data=None):
        return self._send("POST", url)

    def _send(self, method, url):
        pass


def request(method, url, **kwargs):
    pass
`

func newTestEngine(t *testing.T, opts ...EngineOption) *Engine {
	t.Helper()
	store, err := badgerstore.Open("", badgerstore.WithInMemory())
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return NewEngine(store, opts...)
}

func ingestClientLibrary(t *testing.T, engine *Engine) {
	t.Helper()
	result, err := engine.IngestFiles(context.Background(), "httpclient", "inline", []graph.SourceFile{
		{Path: "httpclient.py", ModuleQName: "httpclient", Content: []byte(clientLibrary)},
	})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if result.EntitiesByKind[graph.KindClass] != 1 {
		t.Fatalf("classes = %d, want 1", result.EntitiesByKind[graph.KindClass])
	}
}

func TestEngine_IngestFixtureTree(t *testing.T) {
	engine := newTestEngine(t)

	result, err := engine.Ingest(context.Background(), "sample-client", "../../test/fixtures/sample-python-project")
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if result.FilesProcessed != 4 {
		t.Errorf("FilesProcessed = %d, want 4", result.FilesProcessed)
	}
	if result.EntitiesByKind[graph.KindClass] != 2 {
		t.Errorf("classes = %d, want Session and RetrySession", result.EntitiesByKind[graph.KindClass])
	}

	// RetrySession inherits get from Session; a script calling it through
	// the subclass must validate against the walked-up definition.
	rep, err := engine.Validate(context.Background(), "use.py", []byte(`
from client.session import RetrySession

s = RetrySession("https://example.com")
s.get("/users")
s.close()
`))
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if rep.Counts[validate.StatusInvalid] != 0 {
		t.Fatalf("clean fixture usage produced INVALID findings: %+v", rep.Findings)
	}
}

func TestEngine_ValidateCleanScript(t *testing.T) {
	engine := newTestEngine(t)
	ingestClientLibrary(t, engine)

	rep, err := engine.Validate(context.Background(), "ok.py", []byte(`
from httpclient import Session

s = Session()
s.post("https://example.com", data={"a": 1})
`))
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if rep.Counts[validate.StatusInvalid] != 0 {
		t.Fatalf("invalid findings in a clean script: %+v", rep.Findings)
	}
	if rep.Risk != report.RiskLow {
		t.Errorf("risk = %s, want LOW (overall %.2f)", rep.Risk, rep.OverallConfidence)
	}
}

func TestEngine_ValidateFlagsFabricatedMethod(t *testing.T) {
	engine := newTestEngine(t)
	ingestClientLibrary(t, engine)

	rep, err := engine.Validate(context.Background(), "bad.py", []byte(`
from httpclient import Session

s = Session()
s.post_with_auto_retry("https://example.com")
`))
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if rep.Counts[validate.StatusInvalid] != 1 {
		t.Fatalf("invalid count = %d, want 1 (%+v)", rep.Counts[validate.StatusInvalid], rep.Findings)
	}

	calls := rep.Findings[script.FactMethodCall]
	var flagged bool
	for _, f := range calls {
		if f.Result.Fact.SymbolName == "post_with_auto_retry" {
			flagged = true
			if f.Result.Status != validate.StatusInvalid {
				t.Errorf("status = %s, want INVALID", f.Result.Status)
			}
			if f.Result.Confidence > 0.1 {
				t.Errorf("confidence = %.2f, want <= 0.1", f.Result.Confidence)
			}
		}
	}
	if !flagged {
		t.Fatal("the fabricated method was not reported")
	}
}

func TestEngine_DottedImportResolvesAgainstTopLevelModule(t *testing.T) {
	engine := newTestEngine(t)
	_, err := engine.IngestFiles(context.Background(), "toolkit", "inline", []graph.SourceFile{
		{Path: "toolkit/__init__.py", ModuleQName: "toolkit", Content: []byte(`
def configure(level):
    pass
`)},
		{Path: "toolkit/render.py", ModuleQName: "toolkit.render", Content: []byte(`
def draw(shape):
    pass
`)},
	})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}

	// "import toolkit.render" binds the name toolkit to the top-level
	// module, so toolkit.configure must validate against "toolkit", not be
	// disproven against "toolkit.render".
	rep, err := engine.Validate(context.Background(), "dotted.py", []byte(`
import toolkit.render

toolkit.configure("debug")
`))
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if rep.Counts[validate.StatusInvalid] != 0 {
		t.Fatalf("existing function disproven through a dotted import: %+v", rep.Findings)
	}
	for _, f := range rep.Findings[script.FactFunctionCall] {
		if f.Result.Fact.SymbolName == "configure" && f.Result.Status != validate.StatusValid {
			t.Errorf("configure status = %s, want VALID", f.Result.Status)
		}
	}
}

func TestEngine_ValidateUncertainForUnknownModule(t *testing.T) {
	engine := newTestEngine(t)
	ingestClientLibrary(t, engine)

	rep, err := engine.Validate(context.Background(), "ghost.py", []byte(`
from ghostlib import Phantom

p = Phantom()
p.walk_through_walls()
`))
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if rep.Counts[validate.StatusInvalid] != 0 {
		t.Fatalf("never-ingested modules must not produce INVALID: %+v", rep.Findings)
	}
	if rep.Counts[validate.StatusUncertain] == 0 {
		t.Fatal("expected UNCERTAIN findings for a never-ingested module")
	}
}

func TestEngine_ReingestReplacesGraph(t *testing.T) {
	engine := newTestEngine(t)
	ingestClientLibrary(t, engine)

	// Second build drops the post method.
	_, err := engine.IngestFiles(context.Background(), "httpclient", "inline", []graph.SourceFile{
		{Path: "httpclient.py", ModuleQName: "httpclient", Content: []byte(`
class Session:
    def get(self, url):
        pass
`)},
	})
	if err != nil {
		t.Fatalf("re-ingest: %v", err)
	}

	rep, err := engine.Validate(context.Background(), "old.py", []byte(`
from httpclient import Session

s = Session()
s.post("https://example.com")
`))
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if rep.Counts[validate.StatusInvalid] != 1 {
		t.Fatalf("post should be disproven after the replacing build: %+v", rep.Findings)
	}
}

// stubRetriever returns canned suggestions and records queries.
type stubRetriever struct {
	queries []string
}

func (s *stubRetriever) Suggest(_ context.Context, _, query string, _ int) ([]suggest.Suggestion, error) {
	s.queries = append(s.queries, query)
	return []suggest.Suggestion{
		{Symbol: "post", QualifiedName: "httpclient.Session.post", Kind: "method", Score: 0.9},
	}, nil
}

func TestEngine_SuggestionsAttachedToInvalidFindings(t *testing.T) {
	retriever := &stubRetriever{}
	engine := newTestEngine(t, WithRetriever(retriever))
	ingestClientLibrary(t, engine)

	rep, err := engine.Validate(context.Background(), "bad.py", []byte(`
from httpclient import Session

s = Session()
s.psot("https://example.com")
`))
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}

	if len(retriever.queries) != 1 || retriever.queries[0] != "psot" {
		t.Fatalf("queries = %v, suggestions should be fetched for invalid findings only", retriever.queries)
	}
	finding := rep.Findings[script.FactMethodCall][0]
	if len(finding.Suggestions) == 0 {
		t.Fatal("suggestions were not attached to the finding")
	}
	if finding.Result.Status != validate.StatusInvalid {
		t.Errorf("suggestions must not change the verdict, got %s", finding.Result.Status)
	}
}

// failingRetriever simulates an unreachable similarity index.
type failingRetriever struct{}

func (failingRetriever) Suggest(context.Context, string, string, int) ([]suggest.Suggestion, error) {
	return nil, suggest.ErrSuggestionService
}

func TestEngine_RetrieverFailureMarksReportDegraded(t *testing.T) {
	engine := newTestEngine(t, WithRetriever(failingRetriever{}))
	ingestClientLibrary(t, engine)

	rep, err := engine.Validate(context.Background(), "bad.py", []byte(`
from httpclient import Session

s = Session()
s.psot("https://example.com")
`))
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !rep.Degraded {
		t.Error("a failing suggestion service must surface as a degraded report")
	}
	// The failure stays advisory: verdicts and confidence are untouched.
	if rep.Counts[validate.StatusInvalid] != 1 {
		t.Errorf("invalid count = %d, want 1", rep.Counts[validate.StatusInvalid])
	}
	for _, findings := range rep.Findings {
		for _, f := range findings {
			if len(f.Suggestions) != 0 {
				t.Errorf("unexpected suggestions on %q", f.Result.Fact.SymbolName)
			}
		}
	}
}

func TestEngine_DeleteRepository(t *testing.T) {
	engine := newTestEngine(t)
	ingestClientLibrary(t, engine)

	if err := engine.DeleteRepository(context.Background(), "httpclient"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	repos, err := engine.Repositories(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(repos) != 0 {
		t.Fatalf("repositories = %d, want 0 after delete", len(repos))
	}
}
