package payload

import (
	"bytes"
	"context"
	"crypto/rand"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yocase11/uhias-secure-ehr-sharing/internal/access"
	"github.com/yocase11/uhias-secure-ehr-sharing/internal/audit"
	"github.com/yocase11/uhias-secure-ehr-sharing/internal/crypto"
	"github.com/yocase11/uhias-secure-ehr-sharing/internal/platform/metrics"
	"github.com/yocase11/uhias-secure-ehr-sharing/internal/record"
	dErrors "github.com/yocase11/uhias-secure-ehr-sharing/pkg/domain-errors"
	"github.com/yocase11/uhias-secure-ehr-sharing/pkg/platform/sentinel"
)

type payloadFixture struct {
	service *Service
	engine  *access.Service
	records *record.InMemoryStore
	keys    *record.InMemoryKeyStore
	trail   *audit.InMemoryStore
	blobDir string
}

func newPayloadFixture(t *testing.T) *payloadFixture {
	t.Helper()

	masterKey := make([]byte, crypto.KeySize)
	_, err := rand.Read(masterKey)
	require.NoError(t, err)
	keyring, err := crypto.NewKeyring(masterKey)
	require.NoError(t, err)

	blobDir := t.TempDir()
	blobs, err := NewFSBlobStore(blobDir)
	require.NoError(t, err)

	records := record.NewInMemoryStore()
	keys := record.NewInMemoryKeyStore()
	trail := audit.NewInMemoryStore()
	publisher := audit.NewPublisher(trail, audit.NewInMemorySpool(), slog.Default(), metrics.NewTest())
	engine := access.NewService(records, publisher, slog.Default(), metrics.NewTest())

	return &payloadFixture{
		service: NewService(records, keys, blobs, keyring, engine, publisher, slog.Default(), metrics.NewTest()),
		engine:  engine,
		records: records,
		keys:    keys,
		trail:   trail,
		blobDir: blobDir,
	}
}

func (f *payloadFixture) upload(t *testing.T, body []byte) *record.Record {
	t.Helper()
	rec, err := f.service.Upload(context.Background(), UploadInput{
		Name:       "blood panel",
		Date:       "2026-02-10",
		UploadedBy: "patient-1",
		Body:       bytes.NewReader(body),
	})
	require.NoError(t, err)
	return rec
}

func TestService_UploadAndAuthorizedRead(t *testing.T) {
	f := newPayloadFixture(t)
	plaintext := []byte("hemoglobin 14.1 g/dL, platelets 250k")
	rec := f.upload(t, plaintext)

	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, "2026-02-10", rec.Metadata.Date)
	assert.Equal(t, crypto.Fingerprint(plaintext), rec.Fingerprint)
	assert.Empty(t, rec.AccessGranted, "upload must not grant anyone access")

	_, err := f.engine.GrantAccess(context.Background(), rec.ID, "doc-A")
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, f.service.Read(context.Background(), rec.ID, "doc-A", &out))
	assert.Equal(t, plaintext, out.Bytes())
}

func TestService_UploadStoresOnlyCiphertext(t *testing.T) {
	f := newPayloadFixture(t)
	plaintext := []byte("diagnosis: seasonal allergies")
	rec := f.upload(t, plaintext)

	sealed, err := os.ReadFile(filepath.Join(f.blobDir, rec.PayloadRef))
	require.NoError(t, err)
	assert.NotEmpty(t, sealed)
	assert.NotContains(t, string(sealed), "diagnosis")
}

func TestService_ReadRefusedWithoutGrant(t *testing.T) {
	f := newPayloadFixture(t)
	rec := f.upload(t, []byte("confidential"))

	var out bytes.Buffer
	err := f.service.Read(context.Background(), rec.ID, "doc-A", &out)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
	assert.Zero(t, out.Len())

	events, err := f.trail.ListByRecord(context.Background(), rec.ID)
	require.NoError(t, err)
	var refused int
	for _, e := range events {
		if e.Action == audit.ActionAccessRefused {
			refused++
		}
	}
	assert.Equal(t, 1, refused)
}

func TestService_ReadUnknownRecord(t *testing.T) {
	f := newPayloadFixture(t)

	var out bytes.Buffer
	err := f.service.Read(context.Background(), "no-such", "doc-A", &out)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))
}

func TestService_ReadFailsClosedOnTamperedBlob(t *testing.T) {
	f := newPayloadFixture(t)
	rec := f.upload(t, []byte("lipid panel results"))
	_, err := f.engine.GrantAccess(context.Background(), rec.ID, "doc-A")
	require.NoError(t, err)

	path := filepath.Join(f.blobDir, rec.PayloadRef)
	sealed, err := os.ReadFile(path)
	require.NoError(t, err)
	sealed[len(sealed)-1] ^= 0x01
	require.NoError(t, os.WriteFile(path, sealed, 0o600))

	var out bytes.Buffer
	err = f.service.Read(context.Background(), rec.ID, "doc-A", &out)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeAuthenticationFailed))
}

func TestService_UploadValidation(t *testing.T) {
	f := newPayloadFixture(t)
	ctx := context.Background()

	_, err := f.service.Upload(ctx, UploadInput{Date: "2026-02-10", UploadedBy: "p", Body: bytes.NewReader(nil)})
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))

	_, err = f.service.Upload(ctx, UploadInput{Name: "x", Date: "10.02.2026", UploadedBy: "p", Body: bytes.NewReader(nil)})
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))

	_, err = f.service.Upload(ctx, UploadInput{Name: "x", Date: "2026-02-10", Body: bytes.NewReader(nil)})
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))

	_, err = f.service.Upload(ctx, UploadInput{Name: "x", Date: "2026-02-10", UploadedBy: "p"})
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

func TestService_UploadHonorsCallerRecordID(t *testing.T) {
	f := newPayloadFixture(t)
	ctx := context.Background()
	id := uuid.NewString()

	rec, err := f.service.Upload(ctx, UploadInput{
		RecordID:   id,
		Name:       "blood panel",
		Date:       "2026-02-10",
		UploadedBy: "patient-1",
		Body:       bytes.NewReader([]byte("first")),
	})
	require.NoError(t, err)
	assert.Equal(t, id, rec.ID)

	_, err = f.service.Upload(ctx, UploadInput{
		RecordID:   id,
		Name:       "blood panel again",
		Date:       "2026-02-11",
		UploadedBy: "patient-1",
		Body:       bytes.NewReader([]byte("second")),
	})
	assert.True(t, dErrors.HasCode(err, dErrors.CodeConflict))

	_, err = f.service.Upload(ctx, UploadInput{
		RecordID:   "not-a-uuid",
		Name:       "x",
		Date:       "2026-02-10",
		UploadedBy: "patient-1",
		Body:       bytes.NewReader(nil),
	})
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

func TestService_PurgeRemovesEverything(t *testing.T) {
	f := newPayloadFixture(t)
	rec := f.upload(t, []byte("to be purged"))
	ctx := context.Background()

	require.NoError(t, f.service.Purge(ctx, rec.ID, "patient-1"))

	_, err := f.records.Get(ctx, rec.ID)
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
	_, err = f.keys.Get(ctx, rec.ID)
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
	assert.NoFileExists(t, filepath.Join(f.blobDir, rec.PayloadRef))

	err = f.service.Purge(ctx, rec.ID, "patient-1")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))
}

func TestNormalizeDate(t *testing.T) {
	got, err := NormalizeDate("2026-02-10")
	require.NoError(t, err)
	assert.Equal(t, "2026-02-10", got)

	got, err = NormalizeDate("10-02-2026")
	require.NoError(t, err)
	assert.Equal(t, "2026-02-10", got)

	_, err = NormalizeDate("")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))

	_, err = NormalizeDate("02/10/2026")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
}
