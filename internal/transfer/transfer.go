// Package transfer drives bulk table transfers: it extracts a source result
// set, partitions and uploads it to object storage, builds load manifests and
// submits one COPY per manifest to the warehouse, rolling back staged objects
// when any stage fails.
package transfer

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/rudderlabs/rudder-go-kit/config"
	"github.com/rudderlabs/rudder-go-kit/filemanager"
	"github.com/rudderlabs/rudder-go-kit/logger"
	"github.com/rudderlabs/rudder-go-kit/stats"

	"github.com/rudderlabs/redshift-manager/internal/creds"
	"github.com/rudderlabs/redshift-manager/internal/jsonpath"
	"github.com/rudderlabs/redshift-manager/internal/logfield"
	"github.com/rudderlabs/redshift-manager/internal/manifest"
	"github.com/rudderlabs/redshift-manager/internal/partition"
	"github.com/rudderlabs/redshift-manager/internal/source"
)

// Format selects the serialization shape of the staged chunks.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

const (
	stateValidating       = "validating"
	stateExporting        = "exporting"
	stateUploading        = "uploading"
	stateManifestBuilding = "manifest_building"
	stateLoading          = "loading"
	stateSucceeded        = "succeeded"
	stateFailed           = "failed"
)

const stampFormat = "2006-01-02_15-04-05"

// Request describes one transfer. It is consumed once and never persisted.
type Request struct {
	Source           source.QuerySpec
	DestinationTable string

	Bucket    string
	KeyPrefix string

	Slices     int
	StagingDir string

	Format         Format
	SampleDocument []byte
	ListIndex      int

	Credentials creds.Credentials

	// CleanupStorageOnFailure deletes every staged object when the transfer
	// fails. Successful transfers always retain their staged objects.
	CleanupStorageOnFailure bool
	// CleanupLocal removes the staging extract and chunk files as soon as they
	// are no longer needed, on both the success and failure paths.
	CleanupLocal bool
}

func (r Request) validate() error {
	if err := r.Source.Validate(); err != nil {
		return err
	}
	if r.DestinationTable == "" {
		return errors.New("destination table is required")
	}
	if r.Bucket == "" {
		return errors.New("bucket is required")
	}
	if r.Slices < 1 {
		return fmt.Errorf("slices must be at least 1, got %d", r.Slices)
	}
	switch r.Format {
	case FormatCSV:
	case FormatJSON:
		if len(r.SampleDocument) == 0 {
			return errors.New("json transfers require a sample document")
		}
	default:
		return fmt.Errorf("unsupported format %q", r.Format)
	}
	return nil
}

// ObjectHandle names one object written to storage during a transfer.
type ObjectHandle struct {
	Bucket string
	Key    string
}

func (h ObjectHandle) URL() string {
	return "s3://" + h.Bucket + "/" + h.Key
}

type sourceConnector interface {
	ExtractToStaging(ctx context.Context, spec source.QuerySpec, stagingDir string) (string, int64, error)
}

type objectStore interface {
	Upload(ctx context.Context, file *os.File, prefixes ...string) (filemanager.UploadedFile, error)
	Delete(ctx context.Context, keys []string) error
}

type database interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	TableExists(ctx context.Context, table string) (bool, error)
}

// Manager runs transfers. One Manager may serve many sequential transfers;
// each Transfer call owns its accumulating object-handle list exclusively.
type Manager struct {
	logger  logger.Logger
	statsf  stats.Stats
	db      database
	store   objectStore
	source  sourceConnector
	nowFunc func() time.Time

	config struct {
		maxManifestEntries              int
		maxStagingReadBufferCapacityInK int
		cleanupTimeout                  time.Duration
	}
}

func New(
	conf *config.Config,
	log logger.Logger,
	statsFactory stats.Stats,
	db database,
	store objectStore,
	src sourceConnector,
) *Manager {
	m := &Manager{
		logger:  log.Child("transfer"),
		statsf:  statsFactory,
		db:      db,
		store:   store,
		source:  src,
		nowFunc: time.Now,
	}
	m.config.maxManifestEntries = conf.GetInt("Transfer.maxManifestEntries", 64)
	m.config.maxStagingReadBufferCapacityInK = conf.GetInt("Transfer.maxStagingReadBufferCapacityInK", 10240)
	m.config.cleanupTimeout = conf.GetDuration("Transfer.cleanupTimeout", 5, time.Minute)
	return m
}

// Transfer runs one bulk transfer end to end. Any returned error is a *Error
// classifying the failing stage; the original cause is available via Unwrap.
// Retrying is a caller concern, no stage retries internally.
func (m *Manager) Transfer(ctx context.Context, req Request) error {
	log := m.logger.With(
		logfield.SourceTable, req.Source.Table,
		logfield.DestinationTable, req.DestinationTable,
		logfield.Bucket, req.Bucket,
		logfield.KeyPrefix, req.KeyPrefix,
		logfield.Slices, req.Slices,
	)

	startedAt := m.nowFunc()
	err := m.transfer(ctx, req, log)

	status := stateSucceeded
	if err != nil {
		status = stateFailed
	}
	m.statsf.NewTaggedStat("transfer_duration_seconds", stats.TimerType, stats.Tags{
		"destinationTable": req.DestinationTable,
		"status":           status,
	}).Since(startedAt)
	return err
}

func (m *Manager) transfer(ctx context.Context, req Request, log logger.Logger) error {
	log.Infow("starting transfer", logfield.State, stateValidating)

	if req.Format == "" {
		req.Format = FormatCSV
	}
	if req.StagingDir == "" {
		req.StagingDir = os.TempDir()
	}
	if err := req.validate(); err != nil {
		return newError(KindInvalidRequest, err)
	}
	credentialString, err := req.Credentials.CopyString()
	if err != nil {
		return newError(KindInvalidRequest, err)
	}

	// Resolve the field mapping up front: it is pure, and a malformed sample
	// document should fail the request before any I/O happens.
	var jsonPathsPayload []byte
	if req.Format == FormatJSON {
		paths, err := jsonpath.Paths(req.SampleDocument, req.ListIndex)
		if err != nil {
			return newError(KindInvalidRequest, fmt.Errorf("deriving field mapping: %w", err))
		}
		jsonPathsPayload, err = json.Marshal(jsonpath.Document{JSONPaths: paths})
		if err != nil {
			return newError(KindInvalidRequest, fmt.Errorf("serializing field mapping: %w", err))
		}
	}

	exists, err := m.db.TableExists(ctx, req.DestinationTable)
	if err != nil {
		return newError(KindDestinationMissing, fmt.Errorf("probing destination table: %w", err))
	}
	if !exists {
		return newError(KindDestinationMissing, fmt.Errorf("destination table %s does not exist", req.DestinationTable))
	}

	stamp := m.nowFunc().Format(stampFormat)

	log.Infow("exporting source", logfield.State, stateExporting)
	chunkHandles, rowCount, terr := m.exportAndUpload(ctx, req, stamp, log)
	handles := chunkHandles
	if terr != nil {
		m.rollback(req, handles, log)
		return terr
	}

	log.Infow("building manifests",
		logfield.State, stateManifestBuilding,
		logfield.ObjectCount, len(chunkHandles),
	)
	chunkURLs := lo.Map(chunkHandles, func(h ObjectHandle, _ int) string { return h.URL() })
	manifests := manifest.Build(chunkURLs, m.config.maxManifestEntries)

	manifestURLs, manifestHandles, err := m.uploadManifests(ctx, req, manifests, stamp)
	handles = append(handles, manifestHandles...)
	if err != nil {
		m.rollback(req, handles, log)
		return newError(KindManifestFailure, err)
	}

	var jsonPathsURL string
	if req.Format == FormatJSON {
		handle, err := m.uploadPayload(ctx, req, stamp+".jsonpaths", jsonPathsPayload)
		if err != nil {
			m.rollback(req, handles, log)
			return newError(KindUploadFailure, fmt.Errorf("uploading field mapping: %w", err))
		}
		handles = append(handles, handle)
		jsonPathsURL = handle.URL()
	}

	log.Infow("loading manifests",
		logfield.State, stateLoading,
		logfield.ManifestCount, len(manifestURLs),
	)
	for _, manifestURL := range manifestURLs {
		statement := copyStatement(req.DestinationTable, manifestURL, credentialString, req.Format, jsonPathsURL)
		if _, err := m.db.ExecContext(ctx, statement); err != nil {
			m.rollback(req, handles, log)
			return newError(KindLoadFailure, fmt.Errorf("loading manifest %s: %w", manifestURL, err))
		}
	}

	log.Infow("transfer complete",
		logfield.State, stateSucceeded,
		logfield.RowCount, rowCount,
		logfield.ObjectCount, len(handles),
		logfield.ManifestCount, len(manifestURLs),
	)
	return nil
}

// exportAndUpload stages the source extract, cuts it at the partition
// boundaries and uploads each chunk in order. It returns every handle written
// so far even on failure so the caller can roll them back.
func (m *Manager) exportAndUpload(ctx context.Context, req Request, stamp string, log logger.Logger) ([]ObjectHandle, int64, error) {
	stagingPath, rowCount, err := m.source.ExtractToStaging(ctx, req.Source, req.StagingDir)
	if err != nil {
		return nil, 0, newError(KindExportFailure, fmt.Errorf("extracting source: %w", err))
	}
	if req.CleanupLocal {
		defer func() { _ = os.Remove(stagingPath) }()
	}

	ranges, err := partition.Boundaries(rowCount, req.Slices)
	if err != nil {
		return nil, 0, newError(KindInvalidRequest, err)
	}

	log.Infow("uploading chunks",
		logfield.State, stateUploading,
		logfield.RowCount, rowCount,
		logfield.StagingPath, stagingPath,
	)

	it, err := newChunkIterator(stagingPath, stamp, req.Format, ranges, m.config.maxStagingReadBufferCapacityInK)
	if err != nil {
		return nil, 0, newError(KindExportFailure, err)
	}
	defer func() { _ = it.Close() }()

	var (
		handles      []ObjectHandle
		uploadedRows int64
	)
	for it.Next() {
		chunkPath, rows, err := it.Produce()
		if err != nil {
			return handles, 0, newError(KindExportFailure, err)
		}
		handle, uploadErr := m.uploadFile(ctx, req, chunkPath)
		if req.CleanupLocal {
			_ = os.Remove(chunkPath)
		}
		if uploadErr != nil {
			return handles, 0, newError(KindUploadFailure, fmt.Errorf("uploading chunk: %w", uploadErr))
		}
		handles = append(handles, handle)
		uploadedRows += rows
	}
	if uploadedRows != rowCount {
		return handles, 0, newError(KindUploadFailure,
			fmt.Errorf("uploaded %d rows, expected %d", uploadedRows, rowCount))
	}
	return handles, rowCount, nil
}

func (m *Manager) uploadManifests(ctx context.Context, req Request, manifests []manifest.Manifest, stamp string) ([]string, []ObjectHandle, error) {
	var (
		urls    []string
		handles []ObjectHandle
		offset  int
	)
	for _, man := range manifests {
		name := fmt.Sprintf("%s_%d-%d.manifest", stamp, offset, offset+len(man.Entries))
		offset += len(man.Entries)

		payload, err := json.Marshal(man)
		if err != nil {
			return urls, handles, fmt.Errorf("serializing manifest: %w", err)
		}
		handle, err := m.uploadPayload(ctx, req, name, payload)
		if err != nil {
			return urls, handles, fmt.Errorf("uploading manifest: %w", err)
		}
		handles = append(handles, handle)
		urls = append(urls, handle.URL())
	}
	return urls, handles, nil
}

func (m *Manager) uploadPayload(ctx context.Context, req Request, name string, payload []byte) (ObjectHandle, error) {
	path := filepath.Join(req.StagingDir, name)
	if err := os.WriteFile(path, payload, 0o600); err != nil {
		return ObjectHandle{}, err
	}
	if req.CleanupLocal {
		defer func() { _ = os.Remove(path) }()
	}
	return m.uploadFile(ctx, req, path)
}

func (m *Manager) uploadFile(ctx context.Context, req Request, path string) (ObjectHandle, error) {
	file, err := os.Open(path)
	if err != nil {
		return ObjectHandle{}, err
	}
	defer func() { _ = file.Close() }()

	uploaded, err := m.store.Upload(ctx, file, prefixSegments(req.KeyPrefix)...)
	if err != nil {
		return ObjectHandle{}, err
	}
	return ObjectHandle{Bucket: req.Bucket, Key: uploaded.ObjectName}, nil
}

// rollback deletes every recorded object handle when cleanup-on-failure is
// enabled. Deletion errors are logged only so the triggering error is never
// masked. Cancellation of the request context is itself a failure path that
// must still clean up, so deletion runs on a detached context with its own
// timeout.
func (m *Manager) rollback(req Request, handles []ObjectHandle, log logger.Logger) {
	log.Infow("transfer failed", logfield.State, stateFailed, logfield.ObjectCount, len(handles))
	if !req.CleanupStorageOnFailure || len(handles) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), m.config.cleanupTimeout)
	defer cancel()

	keys := lo.Map(handles, func(h ObjectHandle, _ int) string { return h.Key })
	if err := m.store.Delete(ctx, keys); err != nil {
		log.Warnw("cleaning up staged objects", logfield.Error, err.Error())
	}
}

func copyStatement(table, manifestURL, credentialString string, format Format, jsonPathsURL string) string {
	if format == FormatJSON {
		return fmt.Sprintf(
			`COPY %s FROM '%s' CREDENTIALS '%s' JSON '%s' MANIFEST GZIP TIMEFORMAT 'auto'`,
			table, manifestURL, credentialString, jsonPathsURL,
		)
	}
	return fmt.Sprintf(
		`COPY %s FROM '%s' CREDENTIALS '%s' MANIFEST CSV GZIP TIMEFORMAT 'auto'`,
		table, manifestURL, credentialString,
	)
}

func prefixSegments(prefix string) []string {
	return lo.Filter(strings.Split(prefix, "/"), func(s string, _ int) bool { return s != "" })
}
