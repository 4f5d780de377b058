package config

import (
	"log/slog"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Tuning holds the hot-reloadable pipeline parameters.
//
// Values are immutable once loaded: the orchestrator takes one snapshot per
// request via Watcher.Tuning() and never observes a partial update.
type Tuning struct {
	// TopK is the number of passages selected after re-ranking.
	TopK int `mapstructure:"top_k"`

	// Oversample multiplies TopK to size the raw candidate pool.
	Oversample int `mapstructure:"oversample"`

	// Lambda trades relevance (→1) against novelty (→0) in MMR selection.
	Lambda float64 `mapstructure:"lambda"`

	// TokenCap is the hard upper bound on context packet size, enforced by
	// truncation regardless of summarizer compliance.
	TokenCap int `mapstructure:"token_cap"`

	// TriggerTerms force retrieval when present in the prompt.
	TriggerTerms []string `mapstructure:"trigger_terms"`

	// LengthThreshold forces retrieval for prompts above this word count.
	LengthThreshold int `mapstructure:"length_threshold"`

	// UseClassifier enables the model-backed decision classifier in addition
	// to the lexical and length heuristics.
	UseClassifier bool `mapstructure:"use_classifier"`

	// MaxPromptLength bounds incoming prompt length in runes.
	MaxPromptLength int `mapstructure:"max_prompt_length"`

	// MaxContentLength bounds stored message content in runes.
	MaxContentLength int `mapstructure:"max_content_length"`
}

// setTuningDefaults sets defaults mirroring the shipped config file.
func setTuningDefaults(v *viper.Viper) {
	v.SetDefault("tuning.top_k", 5)
	v.SetDefault("tuning.oversample", 4)
	v.SetDefault("tuning.lambda", 0.5)
	v.SetDefault("tuning.token_cap", 150)
	v.SetDefault("tuning.trigger_terms", []string{"cite", "source", "reference", "link", "doc", "document"})
	v.SetDefault("tuning.length_threshold", 75)
	v.SetDefault("tuning.use_classifier", false)
	v.SetDefault("tuning.max_prompt_length", 8192)
	v.SetDefault("tuning.max_content_length", 32768)
}

// Watcher serves immutable Tuning snapshots and swaps them atomically when the
// config file changes on disk.
type Watcher struct {
	current atomic.Pointer[Tuning]
	logger  *slog.Logger
}

// NewWatcher creates a Watcher primed with initial and, when v is non-nil,
// subscribes to config file changes.
func NewWatcher(v *viper.Viper, initial Tuning, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}

	w := &Watcher{logger: logger}
	w.current.Store(&initial)

	if v != nil {
		v.OnConfigChange(func(_ fsnotify.Event) {
			w.reload(v)
		})
		v.WatchConfig()
	}

	return w
}

// Tuning returns the current snapshot. The returned value must not be mutated.
func (w *Watcher) Tuning() Tuning {
	return *w.current.Load()
}

// reload re-parses the tuning section and swaps the snapshot.
// Invalid values are rejected wholesale; the previous snapshot stays active.
func (w *Watcher) reload(v *viper.Viper) {
	var next struct {
		Tuning Tuning `mapstructure:"tuning"`
	}
	if err := v.Unmarshal(&next); err != nil {
		w.logger.Warn("config reload failed, keeping previous tuning", "error", err)
		return
	}
	if err := next.Tuning.validate(); err != nil {
		w.logger.Warn("config reload rejected, keeping previous tuning", "error", err)
		return
	}

	w.current.Store(&next.Tuning)
	w.logger.Info("tuning reloaded",
		"top_k", next.Tuning.TopK,
		"oversample", next.Tuning.Oversample,
		"lambda", next.Tuning.Lambda,
		"token_cap", next.Tuning.TokenCap,
	)
}
