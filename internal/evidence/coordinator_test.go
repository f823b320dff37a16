package evidence_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"safeworks.org/ptw/internal/apperr"
	"safeworks.org/ptw/internal/blob"
	"safeworks.org/ptw/internal/evidence"
	"safeworks.org/ptw/internal/permit"
	"safeworks.org/ptw/internal/store/memstore"
)

var (
	pngData  = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00\x90wS\xde")
	jpegData = []byte("\xff\xd8\xff\xe0\x00\x10JFIF\x00\x01\x01\x00\x00\x01\x00\x01\x00\x00\xff\xd9")
	pdfData  = []byte("%PDF-1.4\n1 0 obj\n<<>>\nendobj\ntrailer\n<<>>\n%%EOF\n")
)

type fixture struct {
	store    *memstore.Store
	files    *blob.MemStore
	coord    *evidence.Coordinator
	permitID int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{store: memstore.New(), files: blob.NewMemStore()}
	f.coord = evidence.NewCoordinator(f.store.Evidence(), f.files)

	start := time.Date(2026, 5, 4, 7, 0, 0, 0, time.UTC)
	p := &permit.Permit{
		Serial: "PTW-TEST", SiteID: 1, CreatedBy: 7, Type: permit.TypeGeneral,
		StartTime: start, EndTime: start.Add(8 * time.Hour), Status: permit.StatusActive,
	}
	ctx := context.Background()
	require.NoError(t, f.store.Permits().InTx(ctx, func(tx permit.Tx) error {
		return tx.Create(ctx, p, nil)
	}))
	f.permitID = p.ID
	return f
}

func (f *fixture) count(t *testing.T) int {
	t.Helper()
	list, err := f.coord.ListByPermit(context.Background(), f.permitID)
	require.NoError(t, err)
	return len(list)
}

func files(n int) []evidence.File {
	out := make([]evidence.File, n)
	for i := range out {
		data := pngData
		if i%2 == 1 {
			data = jpegData
		}
		out[i] = evidence.File{Name: fmt.Sprintf("photo %d.jpg", i+1), Data: data}
	}
	return out
}

func metadata(categories ...string) string {
	parts := make([]string, len(categories))
	for i, c := range categories {
		parts[i] = fmt.Sprintf(`{"category":%q,"description":"shot %d","timestamp":"2026-05-04T0%d:00:00Z"}`, c, i+1, i+1)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

func TestUploadBatchStoresEveryFile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	out, err := f.coord.UploadBatch(ctx, evidence.BatchRequest{
		PermitID:    f.permitID,
		Files:       files(3),
		RawMetadata: metadata("ppe", "barricading", "tool_condition"),
		UploadedBy:  7,
	})
	require.NoError(t, err)
	require.Len(t, out, 3)

	for i, e := range out {
		assert.NotZero(t, e.ID)
		assert.Equal(t, evidence.PhaseWorking, e.Phase)
		assert.True(t, strings.HasPrefix(e.FilePath, "/uploads/evidences/"), e.FilePath)
		assert.Equal(t, fmt.Sprintf("shot %d", i+1), e.Description)
		require.NotNil(t, e.UploadedBy)
	}
	assert.Equal(t, evidence.CategoryPPE, out[0].Category)
	assert.Equal(t, evidence.CategoryToolCondition, out[2].Category)
	assert.Len(t, f.files.Keys(), 3)

	list, err := f.coord.ListByPermit(ctx, f.permitID)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, out[2].ID, list[0].ID, "newest capture first")

	stats, err := f.coord.Stats(ctx, f.permitID)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
	assert.Len(t, stats.ByCategory, 3)
}

func TestUploadBatchCountMismatch(t *testing.T) {
	f := newFixture(t)

	_, err := f.coord.UploadBatch(context.Background(), evidence.BatchRequest{
		PermitID:    f.permitID,
		Files:       files(2),
		RawMetadata: metadata("ppe", "ppe", "ppe"),
	})
	require.Error(t, err)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	assert.ErrorIs(t, err, evidence.ErrBatchSizeMismatch)
	msg := apperr.MessageOf(err, "")
	assert.Contains(t, msg, "(2)")
	assert.Contains(t, msg, "(3)")
	assert.Zero(t, f.count(t))
	assert.Empty(t, f.files.Keys())
}

func TestUploadBatchValidationOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.coord.UploadBatch(ctx, evidence.BatchRequest{PermitID: f.permitID, RawMetadata: "[]"})
	assert.ErrorIs(t, err, evidence.ErrNoFiles)

	_, err = f.coord.UploadBatch(ctx, evidence.BatchRequest{
		PermitID:    f.permitID,
		Files:       []evidence.File{{Name: "empty.png"}},
		RawMetadata: metadata("ppe"),
	})
	assert.ErrorIs(t, err, evidence.ErrNoFiles)

	// A missing permit wins over size and media problems.
	big := append(append([]byte{}, pngData...), make([]byte, 5<<20)...)
	for _, file := range []evidence.File{
		{Name: "notes.txt", Data: []byte("just text")},
		{Name: "big.png", Data: big},
	} {
		_, err = f.coord.UploadBatch(ctx, evidence.BatchRequest{
			PermitID:    999,
			Files:       []evidence.File{file},
			RawMetadata: metadata("ppe"),
		})
		assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err), file.Name)
	}

	// Media checks come before metadata parsing.
	_, err = f.coord.UploadBatch(ctx, evidence.BatchRequest{
		PermitID:    f.permitID,
		Files:       []evidence.File{{Name: "notes.txt", Data: []byte("just text")}},
		RawMetadata: "not json",
	})
	assert.ErrorIs(t, err, evidence.ErrUnsupportedMedia)

	// The permit lookup comes before metadata parsing.
	_, err = f.coord.UploadBatch(ctx, evidence.BatchRequest{PermitID: 999, Files: files(1), RawMetadata: "not json"})
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	_, err = f.coord.UploadBatch(ctx, evidence.BatchRequest{PermitID: f.permitID, Files: files(1), RawMetadata: "not json"})
	assert.ErrorIs(t, err, evidence.ErrInvalidMetadata)

	_, err = f.coord.UploadBatch(ctx, evidence.BatchRequest{
		PermitID: f.permitID, Files: files(1), RawMetadata: `[{"category":"ppe"}]`,
	})
	assert.ErrorIs(t, err, evidence.ErrMissingField)
	assert.Contains(t, apperr.MessageOf(err, ""), "timestamp")

	_, err = f.coord.UploadBatch(ctx, evidence.BatchRequest{
		PermitID: f.permitID, Files: files(1), RawMetadata: metadata("after"),
	})
	assert.ErrorIs(t, err, evidence.ErrInvalidMetadata, "after belongs to the closure phase")

	_, err = f.coord.UploadBatch(ctx, evidence.BatchRequest{
		PermitID: f.permitID, Files: files(1),
		RawMetadata: `[{"category":"ppe","timestamp":"2026-05-04T01:00:00Z","latitude":91}]`,
	})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	assert.Zero(t, f.count(t))
}

func TestUploadBatchRejectsOversizedFile(t *testing.T) {
	f := newFixture(t)
	big := append(append([]byte{}, pngData...), make([]byte, 5<<20)...)
	_, err := f.coord.UploadBatch(context.Background(), evidence.BatchRequest{
		PermitID:    f.permitID,
		Files:       []evidence.File{{Name: "big.png", Data: big}},
		RawMetadata: metadata("ppe"),
	})
	assert.ErrorIs(t, err, evidence.ErrFileTooLarge)
}

func TestUploadBatchRollsBackOnInsertFailure(t *testing.T) {
	f := newFixture(t)
	inserts := 0
	f.store.Hooks.BeforeEvidenceInsert = func(*evidence.Evidence) error {
		inserts++
		if inserts == 2 {
			return errors.New("disk full")
		}
		return nil
	}

	_, err := f.coord.UploadBatch(context.Background(), evidence.BatchRequest{
		PermitID:    f.permitID,
		Files:       files(3),
		RawMetadata: metadata("ppe", "ppe", "other"),
	})
	require.Error(t, err)
	assert.Equal(t, apperr.KindPersistence, apperr.KindOf(err))
	assert.Zero(t, f.count(t))
	assert.Len(t, f.files.Keys(), 2, "files written before the failure stay as orphans")
}

func TestUploadBatchStorageFailure(t *testing.T) {
	f := newFixture(t)
	f.files.FailPut = func(blob.Ref) error { return errors.New("bucket unavailable") }

	_, err := f.coord.UploadBatch(context.Background(), evidence.BatchRequest{
		PermitID:    f.permitID,
		Files:       files(1),
		RawMetadata: metadata("ppe"),
	})
	assert.Equal(t, apperr.KindStorage, apperr.KindOf(err))
	assert.Zero(t, f.count(t))
}

func TestClosurePhase(t *testing.T) {
	f := newFixture(t)
	out, err := f.coord.UploadBatch(context.Background(), evidence.BatchRequest{
		PermitID:    f.permitID,
		Phase:       evidence.PhaseClosure,
		Files:       files(2),
		RawMetadata: metadata("before", "after"),
	})
	require.NoError(t, err)
	assert.Equal(t, evidence.PhaseClosure, out[1].Phase)
	assert.Equal(t, evidence.CategoryAfter, out[1].Category)
}

func TestDeleteToleratesMissingFile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	out, err := f.coord.UploadBatch(ctx, evidence.BatchRequest{
		PermitID: f.permitID, Files: files(1), RawMetadata: metadata("ppe"),
	})
	require.NoError(t, err)

	ref, err := blob.ParseURL(out[0].FilePath)
	require.NoError(t, err)
	require.NoError(t, f.files.Delete(ctx, ref))

	require.NoError(t, f.coord.Delete(ctx, out[0].ID))
	_, err = f.coord.Get(ctx, out[0].ID)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	err = f.coord.Delete(ctx, out[0].ID)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestUpdateDetails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	out, err := f.coord.UploadBatch(ctx, evidence.BatchRequest{
		PermitID: f.permitID, Files: files(1), RawMetadata: metadata("ppe"),
	})
	require.NoError(t, err)

	e, err := f.coord.UpdateDetails(ctx, out[0].ID, evidence.CategoryBarricading, "  fence line  ")
	require.NoError(t, err)
	assert.Equal(t, evidence.CategoryBarricading, e.Category)
	assert.Equal(t, "fence line", e.Description)

	_, err = f.coord.UpdateDetails(ctx, out[0].ID, evidence.CategoryAfter, "")
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestUploadSWMSReplacesPrevious(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.coord.UploadSWMS(ctx, f.permitID, evidence.File{Name: "method.pdf", Data: pdfData})
	require.NoError(t, err)
	second, err := f.coord.UploadSWMS(ctx, f.permitID, evidence.File{Name: "method v2.pdf", Data: pdfData})
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	keys := f.files.Keys()
	require.Len(t, keys, 1)
	assert.Contains(t, second, keys[0])

	owner, err := f.coord.Owner(ctx, f.permitID)
	require.NoError(t, err)
	assert.Equal(t, second, owner.SWMSPath)

	data, mime, err := f.coord.Open(ctx, blob.Ref{Kind: blob.KindSWMS, Name: strings.TrimPrefix(keys[0], "swms/")})
	require.NoError(t, err)
	assert.Equal(t, pdfData, data)
	assert.Equal(t, "application/pdf", mime)
}

func TestUploadSignature(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	url, err := f.coord.UploadSignature(ctx, evidence.File{Name: "sig.png", Data: pngData})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(url, "/uploads/signatures/"), url)

	_, err = f.coord.UploadSignature(ctx, evidence.File{Name: "sig.pdf", Data: pdfData})
	assert.ErrorIs(t, err, evidence.ErrUnsupportedMedia)
}
