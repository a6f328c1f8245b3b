package export

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/charlie/backend/internal/contracts"
	"github.com/wonny/charlie/backend/internal/store/memory"
	"github.com/wonny/charlie/backend/pkg/config"
	"github.com/wonny/charlie/backend/pkg/logger"
)

func seed(t *testing.T) (*contracts.Store, *contracts.Asset) {
	t.Helper()
	ctx := context.Background()
	store := memory.New()
	asset, err := store.Assets.Upsert(ctx, "AAPL", "Apple Inc.")
	require.NoError(t, err)

	asOf := time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)
	var ids []int64
	for v := 1; v <= 2; v++ {
		id, err := store.Samples.Upsert(ctx, &contracts.AssembledSample{
			AssetID: asset.ID, AsOfDate: asOf, VariationID: v, PromptText: "Ticker: AAPL <b>", PromptTokens: 4,
			AsOfCutoff:  asOf.Add(24*time.Hour - time.Second),
			SourcesMeta: contracts.SourcesMeta{Seed: int64(v)},
		})
		require.NoError(t, err)
		ids = append(ids, id)
	}

	signal, class := 0.4, 4
	require.NoError(t, store.Labels.Upsert(ctx, &contracts.SampleLabel{SampleID: ids[0], CompositeSignal: &signal, LabelClass: &class}))
	require.NoError(t, store.Theses.Upsert(ctx, &contracts.DistilledThesis{
		SampleID: ids[1], ThesisText: "stub", Structure: contracts.ThesisStructure{Summary: "long bias"},
	}))
	return store, asset
}

func TestExportAsset_Local(t *testing.T) {
	store, asset := seed(t)
	root := t.TempDir()

	e := NewExporter(store.Export, NewLocalBackend(root), logger.Nop())
	e.now = func() time.Time { return time.Date(2024, 6, 4, 1, 2, 3, 0, time.UTC) }

	art, err := e.ExportAsset(context.Background(), asset)
	require.NoError(t, err)
	assert.Equal(t, 2, art.Rows)

	dir := filepath.Join(root, "exports", "AAPL")
	dataPath := filepath.Join(dir, "charlie_export_AAPL_20240604T010203Z.parquet")
	assert.Equal(t, dataPath, art.Data)

	data, err := os.ReadFile(dataPath)
	require.NoError(t, err)
	sum := sha256.Sum256(data)
	assert.Equal(t, hex.EncodeToString(sum[:]), art.SHA256)

	checksum, err := os.ReadFile(dataPath + ".sha256")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(checksum), art.SHA256))

	_, err = os.Stat(filepath.Join(dir, MarkerName))
	assert.NoError(t, err)

	recs, err := parquet.Read[Record](bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "AAPL", recs[0].Ticker)
	assert.Equal(t, "2024-06-03", recs[0].AsOfDate)
	assert.True(t, time.Date(2024, 6, 3, 23, 59, 59, 0, time.UTC).Equal(recs[0].AsOfCutoff))
	require.NotNil(t, recs[0].LabelClass)
	assert.Equal(t, 4, *recs[0].LabelClass)
	assert.Nil(t, recs[0].Quantile)
	assert.Nil(t, recs[0].ThesisText)
	assert.Nil(t, recs[1].LabelClass)
	require.NotNil(t, recs[1].ThesisText)
	assert.Equal(t, "Ticker: AAPL <b>", recs[1].PromptText)

	var meta contracts.SourcesMeta
	require.NoError(t, json.Unmarshal([]byte(recs[1].SourcesMeta), &meta))
	assert.Equal(t, int64(2), meta.Seed)
	require.NotNil(t, recs[1].ThesisStructure)
	var st contracts.ThesisStructure
	require.NoError(t, json.Unmarshal([]byte(*recs[1].ThesisStructure), &st))
	assert.Equal(t, "long bias", st.Summary)
}

type flakyBackend struct {
	failOn string
	puts   []string
}

func (b *flakyBackend) Name() string { return "flaky" }

func (b *flakyBackend) Put(ctx context.Context, key string, body []byte, contentType string) (string, error) {
	if b.failOn != "" && strings.HasSuffix(key, b.failOn) {
		return "", errors.New("disk full")
	}
	b.puts = append(b.puts, key)
	return key, nil
}

func TestExportAsset_NoMarkerOnFailure(t *testing.T) {
	store, asset := seed(t)
	b := &flakyBackend{failOn: ".sha256"}

	_, err := NewExporter(store.Export, b, logger.Nop()).ExportAsset(context.Background(), asset)
	require.Error(t, err)
	require.Len(t, b.puts, 1)
	for _, k := range b.puts {
		assert.NotContains(t, k, MarkerName)
	}
}

func TestExportAsset_WriteOrder(t *testing.T) {
	store, asset := seed(t)
	b := &flakyBackend{}

	art, err := NewExporter(store.Export, b, logger.Nop()).ExportAsset(context.Background(), asset)
	require.NoError(t, err)
	require.Len(t, b.puts, 3)
	assert.True(t, strings.HasSuffix(b.puts[0], ".parquet"))
	assert.True(t, strings.HasSuffix(b.puts[1], ".parquet.sha256"))
	assert.True(t, strings.HasSuffix(b.puts[2], "/"+MarkerName), "marker is written last")
	assert.Equal(t, b.puts, art.URIs())
}

func TestEncodeParquet_Empty(t *testing.T) {
	data, err := encodeParquet(nil, "AAPL")
	require.NoError(t, err)

	recs, err := parquet.Read[Record](bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestNewBackend(t *testing.T) {
	b, err := NewBackend(context.Background(), config.StorageConfig{Backend: "local", DataRoot: t.TempDir()})
	require.NoError(t, err)
	assert.Equal(t, "local", b.Name())

	_, err = NewBackend(context.Background(), config.StorageConfig{Backend: "ftp"})
	assert.Error(t, err)
}

func TestNewS3Backend_CustomEndpoint(t *testing.T) {
	b, err := NewS3Backend(context.Background(), config.StorageConfig{
		Backend: "s3", S3Bucket: "bucket", S3Prefix: "/charlie/", S3Region: "us-east-1",
		S3Endpoint: "http://localhost:9000", S3AccessKey: "a", S3SecretKey: "s",
	})
	require.NoError(t, err)
	assert.Equal(t, "s3", b.Name())
	assert.Equal(t, "charlie", b.prefix)
}
