package services

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"drivingschool_go/models"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

type memObjects struct {
	objects map[string][]byte
	putErr  error
}

func (m *memObjects) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if m.putErr != nil {
		return nil, m.putErr
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	m.objects[aws.ToString(in.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func (m *memObjects) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := m.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, errors.New("no such key")
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func seedAudits(t *testing.T, svc *AuditArchiveService, now time.Time) {
	t.Helper()
	rows := []models.SessionAudit{
		{BranchID: 1, Action: "sessions.enrolled", Summary: "5 sessions scheduled", Details: datatypes.JSON(`{"session_ids":[1,2]}`)},
		{BranchID: 1, Action: "session.rescheduled", Summary: "session 2 moved"},
		{BranchID: 1, Action: "session.status_changed", Summary: "recent"},
	}
	rows[0].CreatedAt = now.AddDate(0, 0, -120)
	rows[1].CreatedAt = now.AddDate(0, 0, -95)
	rows[2].CreatedAt = now.AddDate(0, 0, -2)
	require.NoError(t, svc.db.Create(&rows).Error)
}

func TestArchiveOlderThan(t *testing.T) {
	db := openTestDB(t)
	store := &memObjects{objects: map[string][]byte{}}
	svc := NewAuditArchiveServiceWithStore(db, store, "audits-bucket")
	now := time.Date(2030, 6, 15, 2, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }
	seedAudits(t, svc, now)

	archive, err := svc.ArchiveOlderThan(context.Background(), 90)
	require.NoError(t, err)
	assert.Equal(t, "completed", archive.Status)
	assert.Equal(t, 2, archive.RecordCount)
	assert.Equal(t, "audits/archived/2030/03/session_audits_2030-03-17.zip", archive.S3Key)

	var left int64
	db.Unscoped().Model(&models.SessionAudit{}).Count(&left)
	assert.EqualValues(t, 1, left)

	data := store.objects[archive.S3Key]
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	assert.ElementsMatch(t, []string{"session_audits.json", "metadata.json", "session_audits.csv"}, names)

	archives, err := svc.ListArchives(context.Background())
	require.NoError(t, err)
	require.Len(t, archives, 1)

	body, name, err := svc.OpenArchive(context.Background(), archives[0].ID)
	require.NoError(t, err)
	defer body.Close()
	assert.Equal(t, archive.FileName, name)
}

func TestArchiveOlderThanKeepsRowsOnUploadFailure(t *testing.T) {
	db := openTestDB(t)
	store := &memObjects{objects: map[string][]byte{}, putErr: errors.New("access denied")}
	svc := NewAuditArchiveServiceWithStore(db, store, "audits-bucket")
	now := time.Date(2030, 6, 15, 2, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }
	seedAudits(t, svc, now)

	archive, err := svc.ArchiveOlderThan(context.Background(), 90)
	require.Error(t, err)
	assert.Equal(t, "failed", archive.Status)

	var left int64
	db.Model(&models.SessionAudit{}).Count(&left)
	assert.EqualValues(t, 3, left)

	_, err = svc.ArchiveOlderThan(context.Background(), 3)
	assert.Error(t, err)
}
