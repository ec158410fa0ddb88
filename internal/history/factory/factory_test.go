package factory

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hiveagent/warden/internal/history/opensearch"
	"github.com/hiveagent/warden/internal/history/sqlite"
)

func TestFactoryDSNTypes(t *testing.T) {
	tests := []struct {
		name        string
		dsn         string
		expectError bool
	}{
		{"Empty DSN", "", true},
		{"Invalid scheme", "invalid://test", true},
		{"OpenSearch DSN", "opensearch://localhost:9200/warden-history", false},
		{"SQLite file DSN", "sqlite://" + filepath.Join(t.TempDir(), "h.db"), false},
		{"SQLite memory DSN", "sqlite://:memory:", false},
		{"Bare path", filepath.Join(t.TempDir(), "bare.db"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink, err := NewSinkFromDSN(tt.dsn)
			if tt.expectError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, sink)
			if c, ok := sink.(interface{ Close() error }); ok {
				_ = c.Close()
			}
		})
	}
}

func TestFactoryPicksImplementation(t *testing.T) {
	s, err := NewSinkFromDSN("sqlite://:memory:")
	require.NoError(t, err)
	_, ok := s.(*sqlite.Sink)
	assert.True(t, ok)
	_ = s.(*sqlite.Sink).Close()

	s, err = NewSinkFromDSN("opensearch://search:9200/idx")
	require.NoError(t, err)
	_, ok = s.(*opensearch.Sink)
	assert.True(t, ok)
}

func TestOpenSearchTarget(t *testing.T) {
	base, index, err := OpenSearchTarget("opensearchs://search.local:9200/")
	require.NoError(t, err)
	assert.Equal(t, "https://search.local:9200", base)
	assert.Equal(t, "warden-history", index)
}

func TestNewSinks(t *testing.T) {
	sinks, err := NewSinks([]string{"sqlite://:memory:", "opensearch://localhost:9200/x"})
	require.NoError(t, err)
	assert.Len(t, sinks, 2)

	_, err = NewSinks([]string{"sqlite://:memory:", "nope://x"})
	assert.Error(t, err)
}
