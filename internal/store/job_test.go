package store_test

import (
	"context"
	"time"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/gorm"

	"github.com/eduvid/explainer/internal/store"
	"github.com/eduvid/explainer/internal/store/model"
)

var _ = Describe("job store", Ordered, func() {
	var (
		s      store.Store
		gormdb *gorm.DB
	)

	BeforeAll(func() {
		db, err := store.InitDB(testConfig("job_store_test"))
		Expect(err).To(BeNil())

		s = store.NewStore(db)
		gormdb = db
		Expect(s.InitialMigration()).To(BeNil())
	})

	AfterAll(func() {
		s.Close()
	})

	AfterEach(func() {
		gormdb.Exec("DELETE from jobs;")
	})

	Context("create", func() {
		It("successfully creates a job", func() {
			job, err := s.Job().Create(context.TODO(), model.NewJob("Trees", "beginner"))
			Expect(err).To(BeNil())
			Expect(job.Status).To(Equal(model.JobStatusPending))

			found, err := s.Job().Get(context.TODO(), job.ID)
			Expect(err).To(BeNil())
			Expect(found.ConceptKey).To(Equal("Trees"))
		})

		It("rejects a second active job for the same concept key", func() {
			_, err := s.Job().Create(context.TODO(), model.NewJob("Trees", "beginner"))
			Expect(err).To(BeNil())

			_, err = s.Job().Create(context.TODO(), model.NewJob("Trees", "advanced"))
			Expect(err).To(MatchError(store.ErrDuplicateKey))
		})

		It("allows a new job once the previous one is terminal", func() {
			old := model.NewJob("Trees", "beginner")
			old.Status = model.JobStatusCompleted
			_, err := s.Job().Create(context.TODO(), old)
			Expect(err).To(BeNil())

			_, err = s.Job().Create(context.TODO(), model.NewJob("Trees", "beginner"))
			Expect(err).To(BeNil())
		})
	})

	Context("get", func() {
		It("returns ErrRecordNotFound for an unknown id", func() {
			_, err := s.Job().Get(context.TODO(), uuid.New())
			Expect(err).To(MatchError(store.ErrRecordNotFound))
		})
	})

	Context("find by concept key", func() {
		It("finds the active job", func() {
			created, err := s.Job().Create(context.TODO(), model.NewJob("Graphs", "beginner"))
			Expect(err).To(BeNil())

			found, err := s.Job().FindActiveByConceptKey(context.TODO(), "Graphs")
			Expect(err).To(BeNil())
			Expect(found.ID).To(Equal(created.ID))
		})

		It("ignores terminal jobs when looking for an active one", func() {
			job := model.NewJob("Graphs", "beginner")
			job.Status = model.JobStatusFailed
			_, err := s.Job().Create(context.TODO(), job)
			Expect(err).To(BeNil())

			_, err = s.Job().FindActiveByConceptKey(context.TODO(), "Graphs")
			Expect(err).To(MatchError(store.ErrRecordNotFound))
		})

		It("finds the latest completed job", func() {
			oldest := model.NewJob("Graphs", "beginner")
			oldest.Status = model.JobStatusCompleted
			_, err := s.Job().Create(context.TODO(), oldest)
			Expect(err).To(BeNil())

			latest := model.NewJob("Graphs", "beginner")
			latest.Status = model.JobStatusCompleted
			latest.ArtifactRef = "videos/graphs/latest.mp4"
			_, err = s.Job().Create(context.TODO(), latest)
			Expect(err).To(BeNil())

			gormdb.Exec("UPDATE jobs SET updated_at = ? WHERE id = ?", time.Now().Add(-time.Hour), oldest.ID)

			found, err := s.Job().FindLatestCompletedByConceptKey(context.TODO(), "Graphs")
			Expect(err).To(BeNil())
			Expect(found.ID).To(Equal(latest.ID))
		})
	})

	Context("list runnable", func() {
		It("lists due unleased jobs only", func() {
			_, err := s.Job().Create(context.TODO(), model.NewJob("Trees", "beginner"))
			Expect(err).To(BeNil())

			deferred := model.NewJob("Graphs", "beginner")
			deferred.NextAttemptAt = time.Now().UTC().Add(time.Hour)
			_, err = s.Job().Create(context.TODO(), deferred)
			Expect(err).To(BeNil())

			jobs, err := s.Job().ListRunnable(context.TODO(), time.Now().UTC(), 10)
			Expect(err).To(BeNil())
			Expect(jobs).To(HaveLen(1))
			Expect(jobs[0].ConceptKey).To(Equal("Trees"))
		})

		It("skips jobs with a live lease and includes expired ones", func() {
			leased, err := s.Job().Create(context.TODO(), model.NewJob("Trees", "beginner"))
			Expect(err).To(BeNil())
			_, err = s.Job().AcquireLease(context.TODO(), leased.ID, "w1", time.Now().UTC(), time.Minute)
			Expect(err).To(BeNil())

			expired, err := s.Job().Create(context.TODO(), model.NewJob("Graphs", "beginner"))
			Expect(err).To(BeNil())
			_, err = s.Job().AcquireLease(context.TODO(), expired.ID, "w1", time.Now().UTC().Add(-2*time.Minute), time.Minute)
			Expect(err).To(BeNil())

			jobs, err := s.Job().ListRunnable(context.TODO(), time.Now().UTC(), 10)
			Expect(err).To(BeNil())
			Expect(jobs).To(HaveLen(1))
			Expect(jobs[0].ID).To(Equal(expired.ID))
		})
	})

	Context("lease", func() {
		It("acquires a lease and moves a pending job to looking_up", func() {
			created, err := s.Job().Create(context.TODO(), model.NewJob("Trees", "beginner"))
			Expect(err).To(BeNil())

			job, err := s.Job().AcquireLease(context.TODO(), created.ID, "w1", time.Now().UTC(), time.Minute)
			Expect(err).To(BeNil())
			Expect(job.Status).To(Equal(model.JobStatusLookingUp))
			Expect(job.LeaseOwner).To(Equal("w1"))
			Expect(job.LeaseExpiresAt).ToNot(BeNil())
		})

		It("refuses to double-lease", func() {
			created, err := s.Job().Create(context.TODO(), model.NewJob("Trees", "beginner"))
			Expect(err).To(BeNil())

			_, err = s.Job().AcquireLease(context.TODO(), created.ID, "w1", time.Now().UTC(), time.Minute)
			Expect(err).To(BeNil())

			_, err = s.Job().AcquireLease(context.TODO(), created.ID, "w2", time.Now().UTC(), time.Minute)
			Expect(err).To(MatchError(store.ErrLeaseConflict))
		})

		It("reclaims an expired lease", func() {
			created, err := s.Job().Create(context.TODO(), model.NewJob("Trees", "beginner"))
			Expect(err).To(BeNil())

			_, err = s.Job().AcquireLease(context.TODO(), created.ID, "w1", time.Now().UTC().Add(-2*time.Minute), time.Minute)
			Expect(err).To(BeNil())

			job, err := s.Job().AcquireLease(context.TODO(), created.ID, "w2", time.Now().UTC(), time.Minute)
			Expect(err).To(BeNil())
			Expect(job.LeaseOwner).To(Equal("w2"))
		})

		It("keeps the status of an already started job on re-lease", func() {
			created, err := s.Job().Create(context.TODO(), model.NewJob("Trees", "beginner"))
			Expect(err).To(BeNil())

			gormdb.Exec("UPDATE jobs SET status = 'rendering' WHERE id = ?", created.ID)

			job, err := s.Job().AcquireLease(context.TODO(), created.ID, "w1", time.Now().UTC(), time.Minute)
			Expect(err).To(BeNil())
			Expect(job.Status).To(Equal(model.JobStatusRendering))
		})
	})

	Context("update leased", func() {
		It("persists progress and releases the lease", func() {
			created, err := s.Job().Create(context.TODO(), model.NewJob("Trees", "beginner"))
			Expect(err).To(BeNil())

			job, err := s.Job().AcquireLease(context.TODO(), created.ID, "w1", time.Now().UTC(), time.Minute)
			Expect(err).To(BeNil())

			job.Status = model.JobStatusGenerating
			job.RecordOutput("lookup", "jobs/x/lookup/attempt-0")
			job.VersionFingerprint = "abc"

			updated, err := s.Job().UpdateLeased(context.TODO(), job, "w1")
			Expect(err).To(BeNil())
			Expect(updated.Status).To(Equal(model.JobStatusGenerating))
			Expect(updated.Outputs()).To(HaveKeyWithValue("lookup", "jobs/x/lookup/attempt-0"))
			Expect(updated.LeaseOwner).To(BeEmpty())
			Expect(updated.LeaseExpiresAt).To(BeNil())
		})

		It("rejects an update from a stale owner", func() {
			created, err := s.Job().Create(context.TODO(), model.NewJob("Trees", "beginner"))
			Expect(err).To(BeNil())

			job, err := s.Job().AcquireLease(context.TODO(), created.ID, "w1", time.Now().UTC(), time.Minute)
			Expect(err).To(BeNil())

			_, err = s.Job().UpdateLeased(context.TODO(), job, "w2")
			Expect(err).To(MatchError(store.ErrLeaseConflict))
		})
	})

	Context("cancel", func() {
		It("flags a non-terminal job", func() {
			created, err := s.Job().Create(context.TODO(), model.NewJob("Trees", "beginner"))
			Expect(err).To(BeNil())

			Expect(s.Job().RequestCancel(context.TODO(), created.ID)).To(BeNil())

			job, err := s.Job().Get(context.TODO(), created.ID)
			Expect(err).To(BeNil())
			Expect(job.CancelRequested).To(BeTrue())
		})

		It("refuses to flag a terminal job", func() {
			job := model.NewJob("Trees", "beginner")
			job.Status = model.JobStatusCompleted
			_, err := s.Job().Create(context.TODO(), job)
			Expect(err).To(BeNil())

			err = s.Job().RequestCancel(context.TODO(), job.ID)
			Expect(err).To(MatchError(store.ErrRecordNotFound))
		})
	})

	Context("reset for retry", func() {
		It("re-enters a failed job", func() {
			job := model.NewJob("Trees", "beginner")
			job.Status = model.JobStatusFailed
			job.LastError = "boom"
			job.FailureReason = model.FailureRetryExhausted
			_, err := s.Job().Create(context.TODO(), job)
			Expect(err).To(BeNil())

			job.Status = model.JobStatusRendering
			job.ResetAttempts("render")
			updated, err := s.Job().ResetForRetry(context.TODO(), job)
			Expect(err).To(BeNil())
			Expect(updated.Status).To(Equal(model.JobStatusRendering))
			Expect(updated.LastError).To(BeEmpty())
			Expect(updated.FailureReason).To(BeEmpty())
		})

		It("rejects a retry on a non-failed job", func() {
			job := model.NewJob("Trees", "beginner")
			_, err := s.Job().Create(context.TODO(), job)
			Expect(err).To(BeNil())

			job.Status = model.JobStatusPending
			_, err = s.Job().ResetForRetry(context.TODO(), job)
			Expect(err).To(MatchError(store.ErrRecordNotFound))
		})
	})

	Context("count by status", func() {
		It("groups jobs per status", func() {
			_, err := s.Job().Create(context.TODO(), model.NewJob("Trees", "beginner"))
			Expect(err).To(BeNil())

			failed := model.NewJob("Graphs", "beginner")
			failed.Status = model.JobStatusFailed
			_, err = s.Job().Create(context.TODO(), failed)
			Expect(err).To(BeNil())

			counts, err := s.Job().CountByStatus(context.TODO())
			Expect(err).To(BeNil())
			Expect(counts[model.JobStatusPending]).To(Equal(1))
			Expect(counts[model.JobStatusFailed]).To(Equal(1))
		})
	})
})
