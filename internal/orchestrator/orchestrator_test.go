package orchestrator_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/eduvid/explainer/internal/artifact"
	"github.com/eduvid/explainer/internal/config"
	"github.com/eduvid/explainer/internal/orchestrator"
	"github.com/eduvid/explainer/internal/pipeline"
	"github.com/eduvid/explainer/internal/store"
	"github.com/eduvid/explainer/internal/store/model"
)

type testEnv struct {
	cfg       *config.Config
	store     store.Store
	artifacts *artifact.MemoryStore
	concepts  *fakeConcepts
	generator *fakeGenerator
	formatter *fakeFormatter
	renderer  *fakeRenderer
	orch      *orchestrator.Orchestrator
}

func newTestEnv(name string) *testEnv {
	cfg := testConfig(name)
	db, err := store.InitDB(cfg)
	Expect(err).To(BeNil())

	s := store.NewStore(db)
	Expect(s.InitialMigration()).To(BeNil())

	env := &testEnv{
		cfg:       cfg,
		store:     s,
		artifacts: artifact.NewMemoryStore(),
		concepts:  newFakeConcepts(),
		generator: &fakeGenerator{},
		formatter: &fakeFormatter{},
		renderer:  &fakeRenderer{},
	}
	env.orch = orchestrator.New(s, env.artifacts, orchestrator.Adapters{
		Concepts:  env.concepts,
		Generator: env.generator,
		Formatter: env.formatter,
		Renderer:  env.renderer,
	}, cfg)

	return env
}

// startEngine runs the pipeline workers until the test ends.
func (e *testEnv) startEngine() {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = e.orch.Run(ctx)
	}()
	DeferCleanup(func() {
		cancel()
		<-done
		e.store.Close()
	})
}

func (e *testEnv) getJob(id uuid.UUID) *model.Job {
	job, err := e.store.Job().Get(context.TODO(), id)
	Expect(err).To(BeNil())
	return job
}

func (e *testEnv) waitForStatus(id uuid.UUID, status model.JobStatus) *model.Job {
	Eventually(func() model.JobStatus {
		return e.getJob(id).Status
	}).WithTimeout(5 * time.Second).WithPolling(10 * time.Millisecond).Should(Equal(status))
	return e.getJob(id)
}

var _ = Describe("orchestrator", func() {
	Context("submit", func() {
		It("rejects an empty concept key", func() {
			env := newTestEnv("submit_empty")
			_, err := env.orch.Submit(context.TODO(), "   ", "")
			Expect(err).To(BeAssignableToTypeOf(&orchestrator.ErrInvalidConcept{}))
		})

		It("rejects an unknown audience level", func() {
			env := newTestEnv("submit_audience")
			_, err := env.orch.Submit(context.TODO(), "Trees", "expert")
			Expect(err).To(BeAssignableToTypeOf(&orchestrator.ErrInvalidConcept{}))
		})

		It("returns the same job for repeated submits of an active concept", func() {
			env := newTestEnv("submit_dedup")
			first, err := env.orch.Submit(context.TODO(), "Trees", "")
			Expect(err).To(BeNil())

			second, err := env.orch.Submit(context.TODO(), "Trees", "advanced")
			Expect(err).To(BeNil())
			Expect(second.ID).To(Equal(first.ID))
		})

		It("converges concurrent submits for the same key on a single job", func() {
			env := newTestEnv("submit_concurrent")

			var wg sync.WaitGroup
			ids := make([]uuid.UUID, 8)
			for i := range ids {
				wg.Add(1)
				go func(i int) {
					defer GinkgoRecover()
					defer wg.Done()
					job, err := env.orch.Submit(context.TODO(), "Graphs", "")
					Expect(err).To(BeNil())
					ids[i] = job.ID
				}(i)
			}
			wg.Wait()

			for _, id := range ids {
				Expect(id).To(Equal(ids[0]))
			}
		})
	})

	Context("happy path", func() {
		It("drives a job through all stages to completion", func() {
			env := newTestEnv("happy_path")
			env.startEngine()

			job, err := env.orch.Submit(context.TODO(), "Trees", "")
			Expect(err).To(BeNil())

			completed := env.waitForStatus(job.ID, model.JobStatusCompleted)

			outputs := completed.Outputs()
			Expect(outputs).To(HaveLen(4))
			Expect(outputs).To(HaveKey("lookup"))
			Expect(outputs).To(HaveKey("generate"))
			Expect(outputs).To(HaveKey("format"))
			Expect(outputs).To(HaveKey("render"))

			Expect(completed.ArtifactRef).To(Equal(fmt.Sprintf("videos/trees/%s.mp4", job.ID)))
			video, err := env.artifacts.Get(context.TODO(), completed.ArtifactRef)
			Expect(err).To(BeNil())
			Expect(string(video)).To(ContainSubstring("FAKEVIDEO Trees"))

			Expect(env.concepts.calls.Load()).To(Equal(int64(1)))
			Expect(env.generator.calls.Load()).To(Equal(int64(1)))
			Expect(env.formatter.calls.Load()).To(Equal(int64(1)))
			Expect(env.renderer.calls.Load()).To(Equal(int64(1)))
		})

		It("records the graph fingerprint on the job", func() {
			env := newTestEnv("fingerprint")
			env.startEngine()

			job, err := env.orch.Submit(context.TODO(), "Trees", "")
			Expect(err).To(BeNil())

			completed := env.waitForStatus(job.ID, model.JobStatusCompleted)
			Expect(completed.VersionFingerprint).To(Equal("v1"))
		})
	})

	Context("caching", func() {
		It("reuses a completed job while the graph is unchanged", func() {
			env := newTestEnv("cache_fresh")
			env.startEngine()

			job, err := env.orch.Submit(context.TODO(), "Trees", "")
			Expect(err).To(BeNil())
			env.waitForStatus(job.ID, model.JobStatusCompleted)

			again, err := env.orch.Submit(context.TODO(), "Trees", "")
			Expect(err).To(BeNil())
			Expect(again.ID).To(Equal(job.ID))
			Expect(env.generator.calls.Load()).To(Equal(int64(1)))
		})

		It("regenerates when the graph fingerprint changes", func() {
			env := newTestEnv("cache_stale")
			env.startEngine()

			job, err := env.orch.Submit(context.TODO(), "Trees", "")
			Expect(err).To(BeNil())
			env.waitForStatus(job.ID, model.JobStatusCompleted)

			env.concepts.fingerprint = "v2"

			again, err := env.orch.Submit(context.TODO(), "Trees", "")
			Expect(err).To(BeNil())
			Expect(again.ID).ToNot(Equal(job.ID))
		})
	})

	Context("unknown concept", func() {
		It("fails without invoking the generator", func() {
			env := newTestEnv("unknown_concept")
			env.startEngine()

			job, err := env.orch.Submit(context.TODO(), "Quantum Chromodynamics", "")
			Expect(err).To(BeNil())

			failed := env.waitForStatus(job.ID, model.JobStatusFailed)
			Expect(failed.FailureReason).To(Equal(model.FailureConceptNotFound))
			Expect(failed.Outputs()).To(BeEmpty())
			Expect(env.generator.calls.Load()).To(Equal(int64(0)))
		})
	})

	Context("retry policy", func() {
		It("retries transient failures and exhausts after the attempt cap", func() {
			env := newTestEnv("retry_exhausted")
			env.renderer.setError(pipeline.Transientf("render farm down"))
			env.startEngine()

			job, err := env.orch.Submit(context.TODO(), "Trees", "")
			Expect(err).To(BeNil())

			failed := env.waitForStatus(job.ID, model.JobStatusFailed)
			Expect(failed.FailureReason).To(Equal(model.FailureRetryExhausted))
			Expect(failed.LastError).To(ContainSubstring("render farm down"))

			Expect(env.renderer.calls.Load()).To(Equal(int64(env.cfg.Pipeline.MaxAttempts)))
			Expect(env.generator.calls.Load()).To(Equal(int64(1)))
		})

		It("fails immediately on a permanent error", func() {
			env := newTestEnv("permanent_failure")
			env.renderer.setError(pipeline.Permanentf("document rejected"))
			env.startEngine()

			job, err := env.orch.Submit(context.TODO(), "Trees", "")
			Expect(err).To(BeNil())

			failed := env.waitForStatus(job.ID, model.JobStatusFailed)
			Expect(failed.FailureReason).To(Equal(model.FailurePermanent))
			Expect(env.renderer.calls.Load()).To(Equal(int64(1)))
		})
	})

	Context("retry operation", func() {
		It("re-enters a failed job at the failed stage only", func() {
			env := newTestEnv("retry_operation")
			env.renderer.setError(pipeline.Transientf("render farm down"))
			env.startEngine()

			job, err := env.orch.Submit(context.TODO(), "Trees", "")
			Expect(err).To(BeNil())
			env.waitForStatus(job.ID, model.JobStatusFailed)

			env.renderer.setError(nil)
			callsBefore := env.renderer.calls.Load()

			_, err = env.orch.Retry(context.TODO(), job.ID)
			Expect(err).To(BeNil())

			completed := env.waitForStatus(job.ID, model.JobStatusCompleted)
			Expect(completed.Outputs()).To(HaveLen(4))

			Expect(env.concepts.calls.Load()).To(Equal(int64(1)))
			Expect(env.generator.calls.Load()).To(Equal(int64(1)))
			Expect(env.formatter.calls.Load()).To(Equal(int64(1)))
			Expect(env.renderer.calls.Load()).To(Equal(callsBefore + 1))
		})

		It("rejects a retry on a non-failed job", func() {
			env := newTestEnv("retry_not_failed")

			job, err := env.orch.Submit(context.TODO(), "Trees", "")
			Expect(err).To(BeNil())

			_, err = env.orch.Retry(context.TODO(), job.ID)
			Expect(err).To(BeAssignableToTypeOf(&orchestrator.ErrNotFailed{}))
		})

		It("rejects a retry on an unknown job", func() {
			env := newTestEnv("retry_unknown")
			_, err := env.orch.Retry(context.TODO(), uuid.New())
			Expect(err).To(BeAssignableToTypeOf(&orchestrator.ErrJobNotFound{}))
		})
	})

	Context("resume", func() {
		It("adopts a durable stage output instead of re-invoking its adapter", func() {
			env := newTestEnv("resume_adopt")

			job, err := env.orch.Submit(context.TODO(), "Trees", "")
			Expect(err).To(BeNil())

			// A previous process looked the concept up and crashed before
			// committing the job row.
			concept := pipeline.Concept{
				Key:                "Trees",
				Definition:         "A hierarchical data structure.",
				Related:            []string{"Graphs"},
				VersionFingerprint: "v1",
			}
			data, err := json.Marshal(concept)
			Expect(err).To(BeNil())
			ref := fmt.Sprintf("jobs/%s/lookup/attempt-0", job.ID)
			Expect(env.artifacts.Put(context.TODO(), ref, data)).To(BeNil())

			env.startEngine()

			completed := env.waitForStatus(job.ID, model.JobStatusCompleted)
			Expect(completed.Outputs()).To(HaveKeyWithValue("lookup", ref))
			Expect(completed.VersionFingerprint).To(Equal("v1"))
			Expect(env.concepts.calls.Load()).To(Equal(int64(0)))
		})
	})

	Context("cancel", func() {
		It("terminates a pending job as cancelled", func() {
			env := newTestEnv("cancel_pending")

			job, err := env.orch.Submit(context.TODO(), "Trees", "")
			Expect(err).To(BeNil())
			Expect(env.orch.Cancel(context.TODO(), job.ID)).To(BeNil())

			env.startEngine()

			failed := env.waitForStatus(job.ID, model.JobStatusFailed)
			Expect(failed.FailureReason).To(Equal(model.FailureCancelled))
		})

		It("rejects a cancel on a terminal job", func() {
			env := newTestEnv("cancel_terminal")
			env.startEngine()

			job, err := env.orch.Submit(context.TODO(), "Trees", "")
			Expect(err).To(BeNil())
			env.waitForStatus(job.ID, model.JobStatusCompleted)

			err = env.orch.Cancel(context.TODO(), job.ID)
			Expect(err).To(BeAssignableToTypeOf(&orchestrator.ErrAlreadyTerminal{}))
		})
	})

	Context("status", func() {
		It("returns ErrJobNotFound for an unknown id", func() {
			env := newTestEnv("status_unknown")
			_, err := env.orch.Status(context.TODO(), uuid.New())
			Expect(err).To(BeAssignableToTypeOf(&orchestrator.ErrJobNotFound{}))
		})
	})
})
