// Package ai assembles the analytics pipeline from a server profile:
// LLM service, prompt registry, schema catalog, and the workflow nodes.
package ai

import (
	"fmt"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/insightgrid/insightgrid/ai/analytics"
	"github.com/insightgrid/insightgrid/ai/core/llm"
	"github.com/insightgrid/insightgrid/ai/prompts"
	"github.com/insightgrid/insightgrid/ai/queryengine"
	"github.com/insightgrid/insightgrid/internal/profile"
)

// Config represents AI configuration.
type Config struct {
	LLM llm.Config
}

// NewConfigFromProfile creates AI config from profile.
func NewConfigFromProfile(p *profile.Profile) *Config {
	return &Config{
		LLM: llm.Config{
			Provider: p.LLMProvider,
			Model:    p.LLMModel,
			APIKey:   p.LLMAPIKey,
			BaseURL:  p.LLMBaseURL,
			Timeout:  p.LLMTimeout,
		},
	}
}

// BuildPipeline wires every node of the analytics workflow over the
// given query engine. The progress sink and metrics registry are
// optional.
func BuildPipeline(cfg *Config, engine queryengine.Engine, progress analytics.ProgressSink, registry *prometheus.Registry) (*analytics.Pipeline, error) {
	llmService, err := llm.NewService(&cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("create LLM service: %w", err)
	}

	promptRegistry := prompts.NewDefaultRegistry()
	catalog := analytics.DefaultCatalog()
	matcher := analytics.NewTemplateMatcher()

	return analytics.NewPipeline(analytics.PipelineConfig{
		Classifier:  analytics.NewClassifier(catalog),
		Planner:     analytics.NewPlanner(llmService, promptRegistry),
		Router:      analytics.NewRouter(),
		Synthesizer: analytics.NewSynthesizer(llmService, promptRegistry, matcher, catalog, ""),
		Validator:   analytics.NewSQLValidator(catalog, llmService, promptRegistry),
		Executor:    analytics.NewExecutor(engine, clockwork.NewRealClock()),
		Interpreter: analytics.NewInterpreter(llmService, promptRegistry),
		Scorer:      analytics.NewInterpretationScorer(llmService, promptRegistry),
		Formatter:   analytics.NewFormatter(llmService, promptRegistry),
		Progress:    progress,
		Metrics:     analytics.NewMetrics(registry),
	}), nil
}
