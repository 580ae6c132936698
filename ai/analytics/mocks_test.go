package analytics

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/insightgrid/insightgrid/ai/core/llm"
	"github.com/insightgrid/insightgrid/ai/prompts"
	"github.com/insightgrid/insightgrid/ai/queryengine"
)

// mockLLM routes prompts to canned responses by recognizing which
// built-in prompt template produced them.
type mockLLM struct {
	mu      sync.Mutex
	calls   []string
	respond func(prompt string) (string, error)
}

func (m *mockLLM) Chat(_ context.Context, messages []llm.Message) (string, *llm.CallStats, error) {
	prompt := messages[len(messages)-1].Content

	m.mu.Lock()
	m.calls = append(m.calls, prompt)
	m.mu.Unlock()

	if m.respond == nil {
		return "", nil, fmt.Errorf("mock llm: no responder configured")
	}
	out, err := m.respond(prompt)
	if err != nil {
		return "", nil, err
	}
	return out, &llm.CallStats{}, nil
}

func (m *mockLLM) callCount(marker string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if strings.Contains(c, marker) {
			n++
		}
	}
	return n
}

// Prompt markers, one distinctive phrase per built-in template.
const (
	markerPlan      = "planning component"
	markerSQLGen    = "SELECT statement answering"
	markerSQLReview = "review a SQL statement"
	markerInterpret = "data analyst writing"
	markerScore     = "Score the analysis"
	markerFormat    = "Restructure the analysis"
)

// llmScript holds one canned answer per pipeline prompt. A nil entry
// for a stage makes that call fail.
type llmScript struct {
	plan      func(prompt string) (string, error)
	sqlGen    func(prompt string) (string, error)
	sqlReview func(prompt string) (string, error)
	interpret func(prompt string) (string, error)
	score     func(prompt string) (string, error)
	format    func(prompt string) (string, error)
}

func (s *llmScript) llm() *mockLLM {
	return &mockLLM{respond: func(prompt string) (string, error) {
		pick := func(fn func(string) (string, error)) (string, error) {
			if fn == nil {
				return "", fmt.Errorf("mock llm: stage not scripted")
			}
			return fn(prompt)
		}
		switch {
		case strings.Contains(prompt, markerPlan):
			return pick(s.plan)
		case strings.Contains(prompt, markerSQLGen):
			return pick(s.sqlGen)
		case strings.Contains(prompt, markerSQLReview):
			return pick(s.sqlReview)
		case strings.Contains(prompt, markerInterpret):
			return pick(s.interpret)
		case strings.Contains(prompt, markerScore):
			return pick(s.score)
		case strings.Contains(prompt, markerFormat):
			return pick(s.format)
		default:
			return "", fmt.Errorf("mock llm: unrecognized prompt: %.80s", prompt)
		}
	}}
}

func static(response string) func(string) (string, error) {
	return func(string) (string, error) { return response, nil }
}

const (
	validPlanJSON  = `{"analysis": "rank posts by engagement", "complexity": "low", "steps": [{"agent": "data_analytics", "description": "query the posts table"}]}`
	acceptReview   = `{"answers_question": true, "confidence": 0.9, "reason": "matches the question"}`
	passingRubric  = `{"correctness": 18, "context": 17, "actionability": 16, "clarity": 18, "completeness": 17, "feedback": ""}`
	failingRubric  = `{"correctness": 10, "context": 8, "actionability": 9, "clarity": 12, "completeness": 11, "feedback": "add quantitative context"}`
	goodNarrative  = "Engagement rose 12% week over week, led by instagram. Post more reels on weekday mornings."
	formattedReply = "## Headline\n\nKey findings:\n- **12%** engagement lift\n\nRecommended actions:\n- post more reels"
)

// mockEngine returns scripted results in order; the last entry repeats.
type mockEngine struct {
	mu      sync.Mutex
	queries []string
	userIDs []string
	script  []engineResult
	// respondFn, when set, overrides the script entirely.
	respondFn func(query, userID string) (*queryengine.Rows, error)
}

type engineResult struct {
	rows *queryengine.Rows
	err  error
}

func (e *mockEngine) Execute(_ context.Context, query, userID string) (*queryengine.Rows, error) {
	e.mu.Lock()
	e.queries = append(e.queries, query)
	e.userIDs = append(e.userIDs, userID)
	n := len(e.queries)
	e.mu.Unlock()

	if e.respondFn != nil {
		return e.respondFn(query, userID)
	}
	if len(e.script) == 0 {
		return nil, fmt.Errorf("mock engine: no script")
	}
	idx := n - 1
	if idx >= len(e.script) {
		idx = len(e.script) - 1
	}
	r := e.script[idx]
	return r.rows, r.err
}

func (e *mockEngine) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.queries)
}

func sampleRows() *queryengine.Rows {
	return &queryengine.Rows{
		Columns: []string{"post_id", "title", "engagement_score"},
		Records: [][]string{
			{"p1", "Launch day recap", "98.2"},
			{"p2", "Behind the scenes", "77.5"},
		},
	}
}

// happyScript is a fully successful run: valid plan, scoped SQL,
// accepting review, good narrative, passing rubric, formatted output.
func happyScript(userID string) *llmScript {
	return &llmScript{
		plan:      static(validPlanJSON),
		sqlGen:    static(fmt.Sprintf("SELECT post_id, title, engagement_score FROM posts WHERE user_id = '%s' ORDER BY engagement_score DESC LIMIT 10", userID)),
		sqlReview: static(acceptReview),
		interpret: static(goodNarrative),
		score:     static(passingRubric),
		format:    static(formattedReply),
	}
}

func newTestPipeline(llmService *mockLLM, engine queryengine.Engine) *Pipeline {
	registry := prompts.NewDefaultRegistry()
	catalog := DefaultCatalog()

	return NewPipeline(PipelineConfig{
		Classifier:  NewClassifier(catalog),
		Planner:     NewPlanner(llmService, registry),
		Router:      NewRouter(),
		Synthesizer: NewSynthesizer(llmService, registry, NewTemplateMatcher(), catalog, ""),
		Validator:   NewSQLValidator(catalog, llmService, registry),
		Executor:    NewExecutor(engine, nil).WithBaseUnit(time.Millisecond),
		Interpreter: NewInterpreter(llmService, registry),
		Scorer:      NewInterpretationScorer(llmService, registry),
		Formatter:   NewFormatter(llmService, registry),
	})
}
