package state

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ILLUVRSE/release-orchestrator/internal/release"
)

func newRecord(t *testing.T) *Record {
	t.Helper()
	p, err := release.NewBuilder().ProjectID("JMeter").Version("5.6").CommitID("0123456789abc").
		DistURL("mem://dist").NexusURL("http://127.0.0.1:8080").Build()
	require.NoError(t, err)
	return NewRecord(p)
}

var staged = []release.Artifact{{Name: "a.zip", DigestHex: "AA"}, {Name: "b.zip", DigestHex: "bb"}}

func TestRecordLifecycle(t *testing.T) {
	r := newRecord(t)
	assert.Equal(t, PhaseCreated, r.Phase)
	assert.ErrorIs(t, r.BeginPromotion(), release.ErrOrdering)

	require.NoError(t, r.MarkDistStaged(staged, "17"))
	assert.Equal(t, PhaseCreated, r.Phase)
	require.NoError(t, r.MarkRepositoryStaged("staging-1001"))
	assert.Equal(t, PhaseStaged, r.Phase)
	assert.Equal(t, map[string]string{"a.zip": "aa", "b.zip": "bb"}, r.StagedArtifacts)
	assert.Equal(t, []release.Artifact{{Name: "a.zip", DigestHex: "aa"}, {Name: "b.zip", DigestHex: "bb"}}, r.Artifacts())

	require.NoError(t, r.BeginPromotion())
	require.NoError(t, r.MarkDistPromoted("18"))
	assert.Equal(t, PhaseStaged, r.Phase, "half promoted stays staged")
	require.NoError(t, r.MarkRepositoryReleased())
	assert.Equal(t, PhasePromoted, r.Phase)

	assert.ErrorIs(t, r.MarkDistStaged(staged, ""), release.ErrOrdering)
	assert.ErrorIs(t, r.MarkRepositoryStaged("staging-1001"), release.ErrOrdering)
}

func TestRepositoryBindingIsStable(t *testing.T) {
	r := newRecord(t)
	require.NoError(t, r.MarkRepositoryStaged("staging-1001"))
	require.NoError(t, r.MarkRepositoryStaged("staging-1001"))
	assert.ErrorIs(t, r.MarkRepositoryStaged("staging-2002"), release.ErrOrdering)
}

func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()
	_, err := s.Get(ctx, "v5.6")
	assert.True(t, errors.Is(err, ErrNotFound))

	r := newRecord(t)
	require.NoError(t, r.MarkDistStaged(staged, "17"))
	require.NoError(t, s.Put(ctx, r))

	got, err := s.Get(ctx, "v5.6")
	require.NoError(t, err)
	assert.Equal(t, r.StagedArtifacts, got.StagedArtifacts)
	assert.Equal(t, "17", got.DistRevision)
	assert.True(t, got.UpdatedAt.Equal(r.UpdatedAt))

	require.NoError(t, got.MarkRepositoryStaged("staging-1001"))
	require.NoError(t, s.Put(ctx, got))
	all, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, PhaseStaged, all[0].Phase)
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestFileStore(t *testing.T) {
	fs, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	exerciseStore(t, fs)

	_, err = fs.Get(context.Background(), "../escape")
	assert.Error(t, err)
}

func TestPGStorePut(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	defer db.Close()

	r := newRecord(t)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO release_records (tag, phase, record, updated_at)")).
		WithArgs("v5.6", "CREATED", sqlmock.AnyArg(), r.UpdatedAt).
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := NewPGStore(db).Put(context.Background(), r); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGStoreGet(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	defer db.Close()

	want := newRecord(t)
	want.UpdatedAt = time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	raw, err := json.Marshal(want)
	require.NoError(t, err)

	q := regexp.QuoteMeta("SELECT record FROM release_records WHERE tag = $1")
	mock.ExpectQuery(q).WithArgs("v5.6").WillReturnRows(sqlmock.NewRows([]string{"record"}).AddRow(raw))
	mock.ExpectQuery(q).WithArgs("v9").WillReturnRows(sqlmock.NewRows([]string{"record"}))

	s := NewPGStore(db)
	got, err := s.Get(context.Background(), "v5.6")
	require.NoError(t, err)
	assert.Equal(t, want, got)

	_, err = s.Get(context.Background(), "v9")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPGStoreList(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	a, _ := json.Marshal(&Record{Tag: "v1", Phase: PhasePromoted})
	b, _ := json.Marshal(&Record{Tag: "v2", Phase: PhaseStaged})
	mock.ExpectQuery(regexp.QuoteMeta("SELECT record FROM release_records ORDER BY tag")).
		WillReturnRows(sqlmock.NewRows([]string{"record"}).AddRow(a).AddRow(b))

	all, err := NewPGStore(db).List(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, PhaseStaged, all[1].Phase)
	assert.NoError(t, mock.ExpectationsWereMet())
}
