package services

import (
	"bytes"
	"context"
	"sort"
	"time"

	"licensehub/internal/common"
	"licensehub/internal/logs"
	"licensehub/internal/models"
	"licensehub/internal/repositories"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
)

const archivePrefix = "exports/"

// ArchiveService stores periodic full exports in object storage
type ArchiveService interface {
	// ArchiveExport uploads the full license export and returns its object name
	ArchiveExport(ctx context.Context) (string, error)

	// LatestURL returns a presigned download URL of the newest archive
	LatestURL(ctx context.Context, caller models.CallerIdentity, expiry time.Duration) (string, string, error)
}

type archiveService struct {
	objects      ObjectStore
	store        repositories.LicenseStore
	exporter     ExportService
	clock        clockwork.Clock
	storeTimeout time.Duration
	log          *logrus.Entry
}

func NewArchiveService(objects ObjectStore, store repositories.LicenseStore, exporter ExportService, clock clockwork.Clock, storeTimeout time.Duration, logger logrus.FieldLogger) ArchiveService {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &archiveService{
		objects:      objects,
		store:        store,
		exporter:     exporter,
		clock:        clock,
		storeTimeout: storeTimeout,
		log:          logs.Component(logger, "archive"),
	}
}

// ArchiveObjectName names the archive written at now
func ArchiveObjectName(now time.Time) string {
	return archivePrefix + ExportCSV.FileName(now)
}

func (s *archiveService) ArchiveExport(ctx context.Context) (string, error) {
	storeCtx, cancel := withStoreTimeout(ctx, s.storeTimeout)
	licenses, _, err := s.store.CountAndList(storeCtx, models.LicenseFilters{}, 1, 0)
	cancel()
	if err != nil {
		return "", storeError("export licenses", err)
	}

	var buf bytes.Buffer
	if err := s.exporter.Write(&buf, ExportCSV, licenses); err != nil {
		return "", err
	}

	name := ArchiveObjectName(s.clock.Now())
	if err := s.objects.Put(ctx, name, bytes.NewReader(buf.Bytes()), int64(buf.Len()), ExportCSV.ContentType()); err != nil {
		return "", err
	}

	s.log.WithFields(logrus.Fields{"object": name, "rows": len(licenses)}).Info("Export archived")
	return name, nil
}

func (s *archiveService) LatestURL(ctx context.Context, caller models.CallerIdentity, expiry time.Duration) (string, string, error) {
	if err := NewAccessScope(caller).RequireAdmin(); err != nil {
		return "", "", err
	}

	names, err := s.objects.List(ctx, archivePrefix)
	if err != nil {
		return "", "", err
	}
	if len(names) == 0 {
		return "", "", common.NewError(common.CodeNotFound, "No archived export yet")
	}
	// names embed YYYY-MM-DD, so lexical order is chronological
	sort.Strings(names)
	latest := names[len(names)-1]

	url, err := s.objects.PresignedURL(ctx, latest, expiry)
	if err != nil {
		return "", "", err
	}
	return latest, url, nil
}
