package manifest

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuild(t *testing.T) {
	urls := func(n int) []string {
		out := make([]string, 0, n)
		for i := 0; i < n; i++ {
			out = append(out, fmt.Sprintf("s3://bucket/prefix/chunk_%d.csv.gz", i))
		}
		return out
	}

	t.Run("no maximum yields one manifest", func(t *testing.T) {
		manifests := Build(urls(100), 0)
		require.Len(t, manifests, 1)
		require.Len(t, manifests[0].Entries, 100)
	})

	t.Run("entries preserve input order and are all mandatory", func(t *testing.T) {
		input := urls(5)
		manifests := Build(input, 64)
		require.Len(t, manifests, 1)
		for i, entry := range manifests[0].Entries {
			require.Equal(t, input[i], entry.URL)
			require.True(t, entry.Mandatory)
		}
	})

	t.Run("partitions in input order when above the maximum", func(t *testing.T) {
		manifests := Build(urls(10), 4)
		require.Len(t, manifests, 3)
		require.Len(t, manifests[0].Entries, 4)
		require.Len(t, manifests[1].Entries, 4)
		require.Len(t, manifests[2].Entries, 2)
		require.Equal(t, "s3://bucket/prefix/chunk_0.csv.gz", manifests[0].Entries[0].URL)
		require.Equal(t, "s3://bucket/prefix/chunk_4.csv.gz", manifests[1].Entries[0].URL)
		require.Equal(t, "s3://bucket/prefix/chunk_9.csv.gz", manifests[2].Entries[1].URL)
	})

	t.Run("round trip", func(t *testing.T) {
		input := urls(3)
		manifests := Build(input, 0)
		require.Len(t, manifests, 1)

		marshalled, err := json.Marshal(manifests[0])
		require.NoError(t, err)

		var parsed Manifest
		require.NoError(t, json.Unmarshal(marshalled, &parsed))
		require.Len(t, parsed.Entries, 3)
		for i, entry := range parsed.Entries {
			require.Equal(t, input[i], entry.URL)
			require.True(t, entry.Mandatory)
		}
	})

	t.Run("serialized shape", func(t *testing.T) {
		manifests := Build([]string{"s3://bucket/key"}, 0)
		marshalled, err := json.Marshal(manifests[0])
		require.NoError(t, err)
		require.JSONEq(t, `{"entries":[{"url":"s3://bucket/key","mandatory":true}]}`, string(marshalled))
	})
}
