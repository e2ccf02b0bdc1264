package metrics

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteTextfile(t *testing.T) {
	SigningCacheHits.WithLabelValues("textfile-test").Inc()
	assert.Equal(t, float64(1), testutil.ToFloat64(SigningCacheHits.WithLabelValues("textfile-test")))

	path := filepath.Join(t.TempDir(), "launchpad.prom")
	require.NoError(t, WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `launchpad_signing_cache_hits_total{alias="textfile-test"} 1`)
}
