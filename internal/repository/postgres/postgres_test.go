package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"

	"github.com/embermail/embermail/internal/dispatch"
	"github.com/embermail/embermail/internal/domain"
	"github.com/embermail/embermail/internal/service/campaign"
	"github.com/embermail/embermail/internal/suppression"
)

func setupTestDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error: %v", err)
	}
	return db, mock, func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
		db.Close()
	}
}

func TestClaimBatchQuery(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	campaignID := uuid.New()
	jobID := uuid.New()
	subID := uuid.New()
	now := time.Now().UTC()

	rows := sqlmock.NewRows([]string{
		"id", "campaign_id", "subscriber_id", "status", "attempts", "last_error",
		"provider_message_id", "position", "created_at", "updated_at",
	}).AddRow(jobID, campaignID, subID, "claimed", 0, "", "", 0, now, now)

	mock.ExpectQuery("UPDATE send_jobs").
		WithArgs(campaignID, "300 seconds", 100).
		WillReturnRows(rows)

	store := NewDispatchStore(db)
	jobs, err := store.ClaimBatch(context.Background(), campaignID, 100, 300*time.Second)
	if err != nil {
		t.Fatalf("ClaimBatch() error: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("claimed %d jobs, want 1", len(jobs))
	}
	if jobs[0].ID != jobID || jobs[0].Status != domain.JobClaimed {
		t.Errorf("unexpected job: %+v", jobs[0])
	}
}

func TestCreateJobsReportsConflictSkips(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	now := time.Now().UTC()
	jobs := []domain.SendJob{
		{ID: uuid.New(), CampaignID: uuid.New(), SubscriberID: uuid.New(), Status: domain.JobPending, CreatedAt: now, UpdatedAt: now},
		{ID: uuid.New(), CampaignID: uuid.New(), SubscriberID: uuid.New(), Status: domain.JobPending, Position: 1, CreatedAt: now, UpdatedAt: now},
	}

	// One of the two rows hits the unique constraint and is skipped.
	mock.ExpectExec("INSERT INTO send_jobs").
		WillReturnResult(sqlmock.NewResult(0, 1))

	store := NewDispatchStore(db)
	n, err := store.CreateJobs(context.Background(), jobs)
	if err != nil {
		t.Fatalf("CreateJobs() error: %v", err)
	}
	if n != 1 {
		t.Errorf("inserted = %d, want 1", n)
	}
}

func TestTransitionCampaignGuard(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	id := uuid.New()

	// Guarded UPDATE touches no rows; the campaign exists, so the status
	// must have been wrong.
	mock.ExpectExec("UPDATE campaigns").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	store := NewDispatchStore(db)
	err := store.TransitionCampaign(context.Background(), id,
		[]domain.CampaignStatus{domain.CampaignDraft}, domain.CampaignSending)
	if !errors.Is(err, dispatch.ErrInvalidTransition) {
		t.Errorf("err = %v, want ErrInvalidTransition", err)
	}
}

func TestTransitionCampaignMissing(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	id := uuid.New()

	mock.ExpectExec("UPDATE campaigns").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	store := NewDispatchStore(db)
	err := store.TransitionCampaign(context.Background(), id,
		[]domain.CampaignStatus{domain.CampaignDraft}, domain.CampaignSending)
	if !errors.Is(err, dispatch.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestSuppressionAddKeepsFirstReason(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	created := time.Now().UTC()

	// Conflict: the insert is a no-op and the existing row is returned.
	mock.ExpectExec("INSERT INTO suppressions").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT email, reason, created_at FROM suppressions").
		WithArgs("flo@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"email", "reason", "created_at"}).
			AddRow("flo@example.com", "unsubscribe", created))

	repo := NewSuppressionRepo(db)
	entry, inserted, err := repo.Add(context.Background(), &domain.Suppression{
		Email:     "flo@example.com",
		Reason:    domain.SuppressReasonManual,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("Add() error: %v", err)
	}
	if inserted {
		t.Error("inserted = true, want false on conflict")
	}
	if entry.Reason != domain.SuppressReasonUnsubscribe {
		t.Errorf("reason = %q, want existing reason to win", entry.Reason)
	}
}

func TestSuppressionAddNewEntry(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	mock.ExpectExec("INSERT INTO suppressions").
		WillReturnResult(sqlmock.NewResult(0, 1))

	repo := NewSuppressionRepo(db)
	entry := &domain.Suppression{Email: "new@example.com", Reason: domain.SuppressReasonManual, CreatedAt: time.Now().UTC()}
	got, inserted, err := repo.Add(context.Background(), entry)
	if err != nil {
		t.Fatalf("Add() error: %v", err)
	}
	if !inserted || got != entry {
		t.Errorf("Add() = (%v, %v), want original entry with inserted=true", got, inserted)
	}
}

func TestIsSuppressed(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("gone@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	repo := NewSuppressionRepo(db)
	got, err := repo.IsSuppressed(context.Background(), "gone@example.com")
	if err != nil {
		t.Fatalf("IsSuppressed() error: %v", err)
	}
	if !got {
		t.Error("IsSuppressed() = false, want true")
	}
}

func TestScheduleRejectsNonDraft(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	id := uuid.New()
	at := time.Now().Add(time.Hour).UTC()

	mock.ExpectExec("UPDATE campaigns SET status = 'scheduled'").
		WillReturnResult(sqlmock.NewResult(0, 0))

	cols := sqlmock.NewRows([]string{
		"id", "name", "template_id", "from_name", "from_email", "segment_tags",
		"scheduled_at", "send_rate", "ab_variants", "status", "started_at",
		"completed_at", "created_at", "updated_at",
	}).AddRow(id, "March", uuid.New(), "", "news@example.com", "{}",
		nil, 10.0, []byte("[]"), "sending", nil, nil, time.Now(), time.Now())
	mock.ExpectQuery("SELECT (.+) FROM campaigns WHERE id").
		WithArgs(id).
		WillReturnRows(cols)

	repo := NewCampaignRepo(db)
	err := repo.Schedule(context.Background(), id, at)
	if !errors.Is(err, campaign.ErrInvalidTransition) {
		t.Errorf("err = %v, want ErrInvalidTransition", err)
	}
}

func TestRemoveSuppressionMissing(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	mock.ExpectExec("DELETE FROM suppressions").
		WillReturnResult(sqlmock.NewResult(0, 0))

	repo := NewSuppressionRepo(db)
	if err := repo.Remove(context.Background(), "ghost@example.com"); !errors.Is(err, suppression.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}
