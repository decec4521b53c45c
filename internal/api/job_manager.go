package api

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/rasterpyramid/engine/internal/engine"
	"github.com/rasterpyramid/engine/internal/geo"
	"github.com/rasterpyramid/engine/internal/regionjobs"
)

// JobManagerConfig configures a RegionJobManager.
type JobManagerConfig struct {
	MaxConcurrent int    // max concurrent region queries (default 1)
	SQLitePath    string // path to the job SQLite database
	RetentionDays int    // days to keep completed jobs (default 7)
	CleanupPeriod time.Duration
}

// RegionJobManager runs region queries asynchronously with SQLite
// persistence, for queries wide or fine-grained enough that a caller
// would rather poll than hold one HTTP request open. One submit/worker/
// cleanup pipeline, narrowed to one executor kind.
type RegionJobManager struct {
	cfg      JobManagerConfig
	store    *regionjobs.Store
	eng      *engine.Engine
	queue    chan string
	running  map[string]context.CancelFunc
	mu       sync.Mutex
	wg       sync.WaitGroup
	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewRegionJobManager creates a job manager backed by a SQLite store.
func NewRegionJobManager(eng *engine.Engine, cfg JobManagerConfig) (*RegionJobManager, error) {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 7
	}
	if cfg.CleanupPeriod <= 0 {
		cfg.CleanupPeriod = 1 * time.Hour
	}

	store, err := regionjobs.NewStore(cfg.SQLitePath)
	if err != nil {
		return nil, err
	}

	jm := &RegionJobManager{
		cfg:     cfg,
		store:   store,
		eng:     eng,
		queue:   make(chan string, 100),
		running: make(map[string]context.CancelFunc),
		stopCh:  make(chan struct{}),
	}
	return jm, nil
}

// Store returns the underlying store for direct access.
func (jm *RegionJobManager) Store() *regionjobs.Store {
	return jm.store
}

// Start starts worker goroutines and the cleanup ticker, recovering
// queued/running jobs left over from a previous shutdown.
func (jm *RegionJobManager) Start() {
	if err := jm.store.MarkRunningAsFailed("server restarted"); err != nil {
		log.Printf("[RegionJobManager] failed to mark running jobs as failed: %v", err)
	}

	queued, err := jm.store.ListQueuedJobs()
	if err != nil {
		log.Printf("[RegionJobManager] failed to list queued jobs: %v", err)
	} else {
		for _, job := range queued {
			select {
			case jm.queue <- job.ID:
				log.Printf("[RegionJobManager] re-queued job %s", job.ID)
			default:
				log.Printf("[RegionJobManager] queue full, cannot re-queue job %s", job.ID)
			}
		}
	}

	for i := 0; i < jm.cfg.MaxConcurrent; i++ {
		jm.wg.Add(1)
		go jm.worker()
	}
	go jm.cleaner()
}

// Stop stops all workers gracefully and closes the store.
func (jm *RegionJobManager) Stop() {
	jm.stopOnce.Do(func() {
		close(jm.stopCh)
		close(jm.queue)
		jm.wg.Wait()
		jm.store.Close()
	})
}

func (jm *RegionJobManager) worker() {
	defer jm.wg.Done()
	for jobID := range jm.queue {
		jm.runJob(jobID)
	}
}

func (jm *RegionJobManager) runJob(jobID string) {
	ctx, cancel := context.WithCancel(context.Background())

	jm.mu.Lock()
	jm.running[jobID] = cancel
	jm.mu.Unlock()
	defer func() {
		jm.mu.Lock()
		delete(jm.running, jobID)
		jm.mu.Unlock()
	}()

	job, err := jm.store.GetJob(jobID)
	if err != nil || job == nil {
		log.Printf("[RegionJobManager] failed to load job %s: %v", jobID, err)
		return
	}
	if err := jm.store.UpdateJobStarted(jobID); err != nil {
		log.Printf("[RegionJobManager] failed to mark job %s started: %v", jobID, err)
		return
	}

	sel, err := parseSelector(job.Params.Selector)
	if err != nil {
		jm.store.UpdateJobStatus(jobID, regionjobs.JobStatusFailed, err.Error())
		return
	}
	region, err := engine.NewRegion(geo.LngLat{Lat: job.Params.Lat, Lng: job.Params.Lng}, job.Params.Radius, job.Params.Units)
	if err != nil {
		jm.store.UpdateJobStatus(jobID, regionjobs.JobStatusFailed, err.Error())
		return
	}

	result, err := jm.eng.QueryRegion(ctx, region, sel)
	switch {
	case ctx.Err() == context.Canceled:
		jm.store.UpdateJobStatus(jobID, regionjobs.JobStatusCancelled, "cancelled by user")
	case err != nil:
		jm.store.UpdateJobStatus(jobID, regionjobs.JobStatusFailed, err.Error())
	case result == nil:
		jm.store.UpdateJobStatus(jobID, regionjobs.JobStatusFailed, "region query superseded before completion")
	default:
		data, marshalErr := json.Marshal(result)
		if marshalErr != nil {
			jm.store.UpdateJobStatus(jobID, regionjobs.JobStatusFailed, marshalErr.Error())
			return
		}
		if saveErr := jm.store.SaveResult(jobID, data, len(result.Lat)); saveErr != nil {
			jm.store.UpdateJobStatus(jobID, regionjobs.JobStatusFailed, saveErr.Error())
			return
		}
		jm.store.UpdateJobStatus(jobID, regionjobs.JobStatusCompleted, "")
	}
}

func (jm *RegionJobManager) cleaner() {
	ticker := time.NewTicker(jm.cfg.CleanupPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-jm.stopCh:
			return
		case <-ticker.C:
			if deleted, err := jm.store.DeleteExpiredJobs(jm.cfg.RetentionDays); err != nil {
				log.Printf("[RegionJobManager] cleanup error: %v", err)
			} else if deleted > 0 {
				log.Printf("[RegionJobManager] cleaned up %d expired jobs", deleted)
			}
		}
	}
}

// Submit creates a new region job and enqueues it for execution.
func (jm *RegionJobManager) Submit(params regionjobs.Params) (*regionjobs.Job, error) {
	id := generateJobID()
	job := &regionjobs.Job{
		ID:        id,
		Status:    regionjobs.JobStatusQueued,
		Params:    params,
		CreatedAt: time.Now(),
	}
	if err := jm.store.CreateJob(job); err != nil {
		return nil, err
	}

	select {
	case jm.queue <- id:
	default:
		jm.store.UpdateJobStatus(id, regionjobs.JobStatusFailed, "job queue is full; try again later")
	}
	return job, nil
}

// Get returns a job by ID.
func (jm *RegionJobManager) Get(id string) *regionjobs.Job {
	job, err := jm.store.GetJob(id)
	if err != nil {
		log.Printf("[RegionJobManager] error getting job %s: %v", id, err)
		return nil
	}
	return job
}

// Cancel attempts to cancel a running or queued job.
func (jm *RegionJobManager) Cancel(id string) bool {
	jm.mu.Lock()
	cancel, ok := jm.running[id]
	jm.mu.Unlock()
	if ok && cancel != nil {
		cancel()
		return true
	}

	job, err := jm.store.GetJob(id)
	if err != nil || job == nil {
		return false
	}
	if job.Status == regionjobs.JobStatusQueued {
		jm.store.UpdateJobStatus(id, regionjobs.JobStatusCancelled, "cancelled before start")
		return true
	}
	return false
}

func generateJobID() string {
	b := make([]byte, 8)
	rand.Read(b)
	return hex.EncodeToString(b)
}
