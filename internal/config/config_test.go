package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

// minimalConfig satisfies validation with everything else on defaults:
// ratings is enabled out of the box and needs its crawl target.
const minimalConfig = `
crawl:
  ratings_base_url: http://ratings.test
`

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, 5, cfg.Scheduler.PriorityLimit)
	require.Equal(t, 24*time.Hour, cfg.PriorityCooldown())
	require.Equal(t, 20*time.Second, cfg.CrawlTimeout())

	ratings, ok := cfg.Sources["ratings"]
	require.True(t, ok)
	require.True(t, ratings.Enabled)
	require.Equal(t, 40, ratings.BatchSize)
	require.Equal(t, 30*time.Minute, ratings.Buffer())
	require.Equal(t, time.Minute, ratings.Interval())
	require.True(t, ratings.StaleReadmission)

	tropes, ok := cfg.Sources["tropes"]
	require.True(t, ok)
	require.False(t, tropes.Enabled, "only ratings is on by default")
}

func TestLoadRequiresRatingsBaseURL(t *testing.T) {
	// Zero config enables the ratings source, so the crawl target must be
	// demanded up front instead of failing later during wiring.
	_, err := Load("")
	require.Error(t, err)
	require.Contains(t, err.Error(), "crawl.ratings_base_url")
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9999
scheduler:
  priority_limit: 2
crawl:
  ratings_base_url: http://ratings.test
sources:
  ratings:
    batch_size: 10
    buffer_minutes: 5
    interval_seconds: 15
    enabled: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 9999, cfg.Server.Port)
	require.Equal(t, 2, cfg.Scheduler.PriorityLimit)
	require.Equal(t, 10, cfg.Sources["ratings"].BatchSize)
	require.Equal(t, 5*time.Minute, cfg.Sources["ratings"].Buffer())
}

func TestLoadRejectsBatchSizeOutOfRange(t *testing.T) {
	path := writeConfig(t, `
crawl:
  ratings_base_url: http://ratings.test
sources:
  ratings:
    batch_size: 500
    buffer_minutes: 30
    interval_seconds: 60
    enabled: true
`)

	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "batch_size")
}

func TestLoadRejectsUnknownSource(t *testing.T) {
	path := writeConfig(t, `
crawl:
  ratings_base_url: http://ratings.test
sources:
  horoscopes:
    batch_size: 10
    buffer_minutes: 30
    interval_seconds: 60
`)

	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown source")
}

func TestValidateProviderRequirements(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	cfg.Storage.Provider = "gcs"
	require.Error(t, cfg.Validate(), "gcs without a bucket must fail")
	cfg.Storage.GCSBucket = "archive-bucket"
	require.NoError(t, cfg.Validate())

	cfg.PubSub.Provider = "pubsub"
	require.Error(t, cfg.Validate(), "pubsub without project and topic must fail")
	cfg.PubSub.ProjectID = "proj"
	cfg.PubSub.Topic = "refreshed"
	require.NoError(t, cfg.Validate())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}
