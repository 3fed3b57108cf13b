package services

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"drivingschool_go/models"
	"drivingschool_go/services/scheduling"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// MinAuditRetentionDays keeps recent audit rows queryable.
const MinAuditRetentionDays = 7

const auditArchiveBatch = 1000

// objectStore is the part of the S3 v2 client the archiver needs.
type objectStore interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// AuditArchiveService moves old SessionAudit rows into zipped archives on S3.
type AuditArchiveService struct {
	db     *gorm.DB
	s3     objectStore
	bucket string
	now    func() time.Time
}

// ArchivedAudit is the exported representation stored inside archives
type ArchivedAudit struct {
	ID          uint            `json:"id"`
	BranchID    uint            `json:"branch_id"`
	ClientID    uint            `json:"client_id"`
	ActorUserID uint            `json:"actor_user_id"`
	Action      string          `json:"action"`
	Summary     string          `json:"summary"`
	Details     json.RawMessage `json:"details,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// NewAuditArchiveService loads the default AWS v2 config for region.
func NewAuditArchiveService(db *gorm.DB, region, bucket string) *AuditArchiveService {
	cfg, err := awscfg.LoadDefaultConfig(context.Background(), awscfg.WithRegion(region))
	if err != nil {
		logrus.WithError(err).Warn("Failed to load AWS config; audit archives will fail until configured")
	}
	return &AuditArchiveService{db: db, s3: s3.NewFromConfig(cfg), bucket: bucket, now: time.Now}
}

func NewAuditArchiveServiceWithStore(db *gorm.DB, store objectStore, bucket string) *AuditArchiveService {
	return &AuditArchiveService{db: db, s3: store, bucket: bucket, now: time.Now}
}

// ArchiveOlderThan zips every audit row older than daysOld days, uploads the
// archive and deletes the rows. It returns a zero archive when there is nothing to move.
func (s *AuditArchiveService) ArchiveOlderThan(ctx context.Context, daysOld int) (models.AuditArchive, error) {
	if daysOld < MinAuditRetentionDays {
		return models.AuditArchive{}, fmt.Errorf("%w: minimum archive age is %d days", scheduling.ErrValidation, MinAuditRetentionDays)
	}
	cutoff := s.now().AddDate(0, 0, -daysOld)
	db := s.db.WithContext(ctx)

	var audits []ArchivedAudit
	var lastID uint
	for {
		var rows []models.SessionAudit
		err := db.Where("created_at < ? AND id > ?", cutoff, lastID).
			Order("id").
			Limit(auditArchiveBatch).
			Find(&rows).Error
		if err != nil {
			return models.AuditArchive{}, fmt.Errorf("failed to fetch audits for archiving: %w", err)
		}
		for _, r := range rows {
			audits = append(audits, ArchivedAudit{
				ID:          r.ID,
				BranchID:    r.BranchID,
				ClientID:    r.ClientID,
				ActorUserID: r.ActorUserID,
				Action:      r.Action,
				Summary:     r.Summary,
				Details:     json.RawMessage(r.Details),
				CreatedAt:   r.CreatedAt,
			})
			lastID = r.ID
		}
		if len(rows) < auditArchiveBatch {
			break
		}
	}

	if len(audits) == 0 {
		logrus.Info("No session audits to archive")
		return models.AuditArchive{}, nil
	}

	fileName := fmt.Sprintf("session_audits_%s.zip", cutoff.Format("2006-01-02"))
	buf, err := buildAuditZip(audits, fileName, s.now())
	if err != nil {
		return models.AuditArchive{}, fmt.Errorf("failed to create ZIP archive: %w", err)
	}
	key := fmt.Sprintf("audits/archived/%d/%02d/%s", cutoff.Year(), cutoff.Month(), fileName)

	archive := models.AuditArchive{
		FileName:    fileName,
		S3Key:       key,
		StartDate:   audits[0].CreatedAt,
		EndDate:     cutoff,
		RecordCount: len(audits),
		FileSize:    int64(buf.Len()),
		Status:      "completed",
	}

	_, err = s.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("application/zip"),
	})
	if err != nil {
		archive.Status = "failed"
		archive.Error = err.Error()
		if dbErr := db.Create(&archive).Error; dbErr != nil {
			logrus.WithError(dbErr).Error("Failed to save archive metadata")
		}
		return archive, fmt.Errorf("failed to upload archive to S3: %w", err)
	}

	// rows are hard-deleted once the archive is safely stored
	res := db.Unscoped().Where("created_at < ? AND id <= ?", cutoff, lastID).Delete(&models.SessionAudit{})
	if res.Error != nil {
		return archive, fmt.Errorf("failed to delete archived audits: %w", res.Error)
	}
	if err := db.Create(&archive).Error; err != nil {
		logrus.WithError(err).Error("Failed to save archive metadata")
	}
	logrus.WithFields(logrus.Fields{"key": key, "records": len(audits), "deleted": res.RowsAffected}).Info("Session audits archived")
	return archive, nil
}

func buildAuditZip(audits []ArchivedAudit, fileName string, now time.Time) (*bytes.Buffer, error) {
	buf := new(bytes.Buffer)
	zw := zip.NewWriter(buf)

	jsonFile, err := zw.Create("session_audits.json")
	if err != nil {
		return nil, err
	}
	enc := json.NewEncoder(jsonFile)
	enc.SetIndent("", "  ")
	if err := enc.Encode(map[string]any{
		"export_date":    now.UTC(),
		"record_count":   len(audits),
		"format_version": "1.0",
		"audits":         audits,
	}); err != nil {
		return nil, err
	}

	metaFile, err := zw.Create("metadata.json")
	if err != nil {
		return nil, err
	}
	if err := json.NewEncoder(metaFile).Encode(map[string]any{
		"file_name":    fileName,
		"created_at":   now.UTC(),
		"record_count": len(audits),
		"date_range": map[string]any{
			"start": audits[0].CreatedAt,
			"end":   audits[len(audits)-1].CreatedAt,
		},
		"schema_version": "1.0",
	}); err != nil {
		return nil, err
	}

	csvFile, err := zw.Create("session_audits.csv")
	if err != nil {
		return nil, err
	}
	w := csv.NewWriter(csvFile)
	_ = w.Write([]string{"ID", "Branch ID", "Client ID", "Actor User ID", "Action", "Summary", "Created At", "Details"})
	for _, a := range audits {
		_ = w.Write([]string{
			strconv.FormatUint(uint64(a.ID), 10),
			strconv.FormatUint(uint64(a.BranchID), 10),
			strconv.FormatUint(uint64(a.ClientID), 10),
			strconv.FormatUint(uint64(a.ActorUserID), 10),
			a.Action,
			a.Summary,
			a.CreatedAt.Format("2006-01-02 15:04:05"),
			string(a.Details),
		})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}

	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf, nil
}

// ListArchives returns archive metadata, newest first.
func (s *AuditArchiveService) ListArchives(ctx context.Context) ([]models.AuditArchive, error) {
	var archives []models.AuditArchive
	if err := s.db.WithContext(ctx).Order("created_at DESC").Find(&archives).Error; err != nil {
		return nil, fmt.Errorf("failed to retrieve archives: %w", err)
	}
	return archives, nil
}

// OpenArchive streams a stored archive from S3.
func (s *AuditArchiveService) OpenArchive(ctx context.Context, archiveID uint) (io.ReadCloser, string, error) {
	var archive models.AuditArchive
	if err := s.db.WithContext(ctx).First(&archive, archiveID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, "", fmt.Errorf("archive %d not found", archiveID)
		}
		return nil, "", err
	}
	out, err := s.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(archive.S3Key),
	})
	if err != nil {
		return nil, "", fmt.Errorf("failed to download archive from S3: %w", err)
	}
	return out.Body, archive.FileName, nil
}
