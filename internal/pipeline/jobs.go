package pipeline

import (
	"sync"
	"time"

	"github.com/examforge/examforge/internal/question"
)

// JobStatus represents the state of an extraction job.
type JobStatus string

const (
	StatusQueued     JobStatus = "queued"
	StatusChunking   JobStatus = "chunking"
	StatusExtracting JobStatus = "extracting"
	StatusLocalizing JobStatus = "localizing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
	StatusPartial    JobStatus = "partial"
)

// Job tracks the state of a single document extraction run. Documents and
// their records live only for the run; nothing here is persisted.
type Job struct {
	mu sync.Mutex

	ID       string    `json:"job_id"`
	Status   JobStatus `json:"status"`
	Phase    string    `json:"phase"`
	Filename string    `json:"filename"`

	Progress Progress `json:"progress"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Internal: not serialized.
	fileData  []byte
	answerKey string
	result    *Result
	errors    []string
}

// Progress tracks processing progress.
type Progress struct {
	Pages           int      `json:"pages"`
	TotalChunks     int      `json:"total_chunks"`
	ChunksProcessed int      `json:"chunks_processed"`
	RecordsParsed   int      `json:"records_parsed"`
	ImagesFlagged   int      `json:"images_flagged"`
	ImagesAttached  int      `json:"images_attached"`
	Errors          []string `json:"errors"`
}

// Result is the success/failure envelope returned to the caller. Partial
// results (text extracted, some diagrams missing) stay usable; Success is
// false only when zero usable records were produced.
type Result struct {
	Success  bool              `json:"success"`
	Records  []question.Record `json:"records"`
	Metadata Metadata          `json:"metadata"`
	Error    string            `json:"error,omitempty"`
}

// Metadata carries diagnostic context sufficient to reproduce failures.
type Metadata struct {
	Pages          int `json:"pages"`
	Chunks         int `json:"chunks"`
	ChunkFailures  int `json:"chunk_failures"`
	RecordsParsed  int `json:"records_parsed"`
	ImagesFlagged  int `json:"images_flagged"`
	ImagesAttached int `json:"images_attached"`
	ImageFailures  int `json:"image_failures"`
}

// JobStore is a thread-safe in-memory job registry with TTL eviction.
type JobStore struct {
	mu   sync.Mutex
	jobs map[string]*Job
	ttl  time.Duration
}

func NewJobStore(ttl time.Duration) *JobStore {
	return &JobStore{
		jobs: make(map[string]*Job),
		ttl:  ttl,
	}
}

func (s *JobStore) Put(job *Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
}

func (s *JobStore) Get(id string) *Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs[id]
}

// Cleanup removes expired jobs.
func (s *JobStore) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for id, job := range s.jobs {
		if now.Sub(job.UpdatedAt) > s.ttl {
			delete(s.jobs, id)
		}
	}
}

// SetStatus updates job status atomically.
func (j *Job) SetStatus(status JobStatus, phase string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Status = status
	j.Phase = phase
	j.UpdatedAt = time.Now()
}

// AddError records a diagnostic error string.
func (j *Job) AddError(err string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.errors = append(j.errors, err)
	j.Progress.Errors = j.errors
	j.UpdatedAt = time.Now()
}

// IncrChunksProcessed atomically increments chunks processed.
func (j *Job) IncrChunksProcessed() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Progress.ChunksProcessed++
	j.UpdatedAt = time.Now()
}

// SetCounts records page and chunk totals.
func (j *Job) SetCounts(pages, chunks int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Progress.Pages = pages
	j.Progress.TotalChunks = chunks
	j.UpdatedAt = time.Now()
}

// AddRecords accumulates parsed record and image counts.
func (j *Job) AddRecords(parsed, flagged, attached int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Progress.RecordsParsed += parsed
	j.Progress.ImagesFlagged += flagged
	j.Progress.ImagesAttached += attached
	j.UpdatedAt = time.Now()
}

// SetInput sets the raw document bytes and parsed answer-key text.
func (j *Job) SetInput(data []byte, answerKey string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.fileData = data
	j.answerKey = answerKey
}

// Input returns the raw document bytes and answer-key text.
func (j *Job) Input() ([]byte, string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.fileData, j.answerKey
}

// SetResult stores the final envelope and releases the document bytes.
func (j *Job) SetResult(r *Result) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.result = r
	j.fileData = nil
	j.UpdatedAt = time.Now()
}

// Result returns the final envelope, or nil while the job is running.
func (j *Job) Result() *Result {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.result
}

// JobSnapshot is a read-only, JSON-safe copy of job state.
type JobSnapshot struct {
	ID       string    `json:"job_id"`
	Status   JobStatus `json:"status"`
	Phase    string    `json:"phase"`
	Filename string    `json:"filename"`
	Progress Progress  `json:"progress"`
}

// Snapshot returns a JSON-safe copy of the job state.
func (j *Job) Snapshot() JobSnapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	errs := j.Progress.Errors
	if errs == nil {
		errs = []string{}
	}
	snap := JobSnapshot{
		ID:       j.ID,
		Status:   j.Status,
		Phase:    j.Phase,
		Filename: j.Filename,
		Progress: j.Progress,
	}
	snap.Progress.Errors = errs
	return snap
}
