package sample

import (
	"math/rand/v2"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/honeycombio/beacon/config"
	"github.com/honeycombio/beacon/logger"
	"github.com/honeycombio/beacon/metrics"
	"github.com/honeycombio/beacon/types"
)

// Sampler decides which items are kept. Items that share a stable key (the
// user id, else the operation id) share a decision, so a sampled population
// still contains whole users and whole operations.
type Sampler struct {
	Config  config.Config   `inject:""`
	Logger  logger.Logger   `inject:""`
	Metrics metrics.Metrics `inject:"metrics"`

	// Rand returns a uniform value in [0, 1) for items without a stable key.
	// Defaults to math/rand/v2.
	Rand func() float64

	rate   float64
	scores *lru.Cache[string, float64]
}

// scoreCacheSize bounds the number of stable keys whose scores are memoized.
const scoreCacheSize = 10_000

var samplerMetrics = []metrics.Metadata{
	{Name: "sample_kept", Type: metrics.Counter, Unit: metrics.Dimensionless, Description: "Number of items kept by the sampler"},
	{Name: "sample_dropped", Type: metrics.Counter, Unit: metrics.Dimensionless, Description: "Number of items dropped by the sampler"},
	{Name: "sample_exempt", Type: metrics.Counter, Unit: metrics.Dimensionless, Description: "Number of items kept because their kind is never sampled"},
}

func (s *Sampler) Start() error {
	s.Logger.Debug().Logf("Starting Sampler")
	defer func() { s.Logger.Debug().Logf("Finished starting Sampler") }()

	s.rate = s.Config.GetSamplingConfig().SampleRate
	cache, err := lru.New[string, float64](scoreCacheSize)
	if err != nil {
		return err
	}
	s.scores = cache
	if s.Rand == nil {
		s.Rand = rand.Float64
	}
	for _, metric := range samplerMetrics {
		s.Metrics.Register(metric)
	}
	return nil
}

// Rate is the configured percentage of items to keep.
func (s *Sampler) Rate() float64 {
	return s.rate
}

// IsSampledIn reports whether env should be sent.
func (s *Sampler) IsSampledIn(env *types.Envelope) bool {
	if s.rate >= 100 {
		s.Metrics.Increment("sample_kept")
		return true
	}
	if env.Kind().IsSampleExempt() {
		s.Metrics.Increment("sample_exempt")
		return true
	}

	var keep bool
	if key := stableKey(env); key != "" {
		keep = s.score(key) < s.rate
	} else {
		keep = s.Rand()*100 < s.rate
	}

	if keep {
		s.Metrics.Increment("sample_kept")
	} else {
		s.Metrics.Increment("sample_dropped")
	}
	return keep
}

func (s *Sampler) score(key string) float64 {
	if v, ok := s.scores.Get(key); ok {
		return v
	}
	v := Score(key)
	s.scores.Add(key, v)
	return v
}

func stableKey(env *types.Envelope) string {
	if id := env.Tag(types.TagUserID); id != "" {
		return id
	}
	return env.Tag(types.TagOperationID)
}
