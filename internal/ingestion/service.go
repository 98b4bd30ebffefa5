package ingestion

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Thobla/TempAISpotter/internal/registry"
	"github.com/Thobla/TempAISpotter/internal/verdict"
	"github.com/Thobla/TempAISpotter/pkg/kafka"
	"github.com/Thobla/TempAISpotter/pkg/storage/blobstore"
)

// VerdictClient is the slice of the analyzer client the orchestrator needs.
type VerdictClient interface {
	RequestVerdict(ctx context.Context, locator string) (*verdict.Verdict, error)
}

// ValidationError reports a malformed upload rejected before any bytes are
// stored.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid upload: " + e.Reason
}

// errSuperseded stops a dispatch loop whose record already reached a
// terminal state, so a stale retry never re-applies.
var errSuperseded = errors.New("record reached a terminal state")

// Service is the ingestion orchestrator. It drives each video through
// blob storage, registry insertion, dispatch to the analyzer, and verdict
// reconciliation, and owns the per-video state machine.
//
// Operations on the same video id are serialized through a per-id mutex;
// operations on different ids run fully concurrently.
type Service struct {
	store    blobstore.Store
	registry *registry.Registry
	analyzer VerdictClient
	producer *kafka.Producer
	logger   *zap.Logger

	retryBudget    int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	allowedTypes   []string

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu      sync.Mutex
	closed  bool
	nextID  int64
	idLocks map[int64]*sync.Mutex
}

type Params struct {
	Store    blobstore.Store
	Registry *registry.Registry
	Analyzer VerdictClient
	Producer *kafka.Producer
	Logger   *zap.Logger

	RetryBudget      int
	InitialBackoff   time.Duration
	MaxBackoff       time.Duration
	AllowedMIMETypes []string
}

// UploadOptions captures metadata about one upload. A zero ID asks the
// orchestrator to assign one.
type UploadOptions struct {
	ID          int64
	Filename    string
	ContentType string
}

// NewService constructs the orchestrator. Background dispatches run on a
// context owned by the Service and are stopped by Close.
func NewService(p Params) *Service {
	if p.RetryBudget <= 0 {
		p.RetryBudget = 3
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = time.Second
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = 10 * time.Second
	}

	baseCtx, cancel := context.WithCancel(context.Background())
	return &Service{
		store:          p.Store,
		registry:       p.Registry,
		analyzer:       p.Analyzer,
		producer:       p.Producer,
		logger:         p.Logger,
		retryBudget:    p.RetryBudget,
		initialBackoff: p.InitialBackoff,
		maxBackoff:     p.MaxBackoff,
		allowedTypes:   p.AllowedMIMETypes,
		baseCtx:        baseCtx,
		cancel:         cancel,
		nextID:         p.Registry.MaxID(),
		idLocks:        map[int64]*sync.Mutex{},
	}
}

// Create validates and stores the upload, registers the record, and kicks
// off background dispatch to the analyzer. On any failure after the blob
// write the blob is removed before the error is returned, so a failed
// create never leaves an orphan blob.
func (s *Service) Create(ctx context.Context, reader io.Reader, size int64, opts UploadOptions) (registry.Video, error) {
	if err := s.validateUpload(size, opts.ContentType); err != nil {
		return registry.Video{}, err
	}

	hasher := sha256.New()
	buffered := bufio.NewReaderSize(io.TeeReader(reader, hasher), 64*1024)

	locator, err := s.store.Put(ctx, buffered, size, blobstore.PutOptions{
		Filename:    opts.Filename,
		ContentType: opts.ContentType,
	})
	if err != nil {
		return registry.Video{}, fmt.Errorf("store blob: %w", err)
	}

	id := opts.ID
	if id == 0 {
		id = s.allocateID()
	} else {
		s.noteID(id)
	}

	now := time.Now().UTC()
	video := registry.Video{
		ID:          id,
		Name:        opts.Filename,
		Locator:     locator,
		ContentType: opts.ContentType,
		SizeBytes:   size,
		Checksum:    hex.EncodeToString(hasher.Sum(nil)),
		Status:      registry.StatusUploaded,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	lock := s.lockFor(id)
	lock.Lock()
	err = s.registry.Insert(video)
	lock.Unlock()
	if err != nil {
		if derr := s.store.Delete(ctx, locator); derr != nil && !errors.Is(derr, blobstore.ErrNotFound) {
			s.logger.Error("orphan blob cleanup failed",
				zap.String("locator", locator), zap.Error(derr))
		}
		return registry.Video{}, fmt.Errorf("register video %d: %w", id, err)
	}

	s.publishEvent(ctx, VideoEvent{
		Type:      EventVideoUploaded,
		VideoID:   id,
		Name:      video.Name,
		Locator:   locator,
		Status:    string(video.Status),
		SizeBytes: size,
		Checksum:  video.Checksum,
	})

	if !s.tryDispatch(id, locator) {
		// Shutting down: the record stays Uploaded and a later Resume
		// picks it up.
		s.logger.Info("skipping dispatch during shutdown", zap.Int64("video_id", id))
	}

	return video, nil
}

// Get returns the record for id.
func (s *Service) Get(id int64) (registry.Video, error) {
	v, ok := s.registry.Get(id)
	if !ok {
		return registry.Video{}, registry.ErrNotFound
	}
	return v, nil
}

// List returns a snapshot of all records in insertion order.
func (s *Service) List() []registry.Video {
	return s.registry.List()
}

// Delete removes the blob first and the record second, so a record never
// outlives the blob it claims to own. A blob that is already gone is
// treated as a prior partial failure now completed; any other blob failure
// aborts with both blob and record intact.
func (s *Service) Delete(ctx context.Context, id int64) error {
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	v, ok := s.registry.Get(id)
	if !ok {
		return registry.ErrNotFound
	}

	if err := s.store.Delete(ctx, v.Locator); err != nil && !errors.Is(err, blobstore.ErrNotFound) {
		return fmt.Errorf("delete blob %s: %w", v.Locator, err)
	}

	if err := s.registry.Delete(id); err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.idLocks, id)
	s.mu.Unlock()

	s.publishEvent(ctx, VideoEvent{
		Type:    EventVideoDeleted,
		VideoID: id,
		Name:    v.Name,
		Locator: v.Locator,
		Status:  string(v.Status),
	})
	return nil
}

// Resume re-dispatches records left in a non-terminal state, consuming the
// remaining retry budget. Called once at boot to recover records stranded
// by a crash mid-dispatch.
func (s *Service) Resume(ctx context.Context) {
	for _, v := range s.registry.List() {
		if v.Status.Terminal() {
			continue
		}
		s.logger.Info("resuming stranded video",
			zap.Int64("video_id", v.ID), zap.String("status", string(v.Status)))
		if !s.tryDispatch(v.ID, v.Locator) {
			return
		}
	}
}

// tryDispatch launches the background dispatch goroutine unless the
// service is shutting down. Registering with the wait group and checking
// the closed flag happen under one lock, so a dispatch can never start
// after Close began waiting.
func (s *Service) tryDispatch(id int64, locator string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.wg.Add(1)
	go s.dispatch(s.baseCtx, id, locator)
	return true
}

// Close stops background dispatches and releases underlying resources.
// In-flight dispatches are cancelled, leaving their records Dispatched for
// a later Resume.
func (s *Service) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := s.producer.Close(ctx); err != nil {
		return err
	}
	return s.store.Close()
}

// dispatch drives one video from Uploaded through Dispatched to a terminal
// Analyzed or Failed. Cancellation stops further retries without touching
// the record, so it stays Dispatched for later resumption.
func (s *Service) dispatch(ctx context.Context, id int64, locator string) {
	defer s.wg.Done()

	backoff := s.initialBackoff
	for attempt := 1; ; attempt++ {
		if err := s.markDispatched(id, attempt); err != nil {
			// Deleted concurrently or already settled by an earlier attempt.
			return
		}

		v, err := s.analyzer.RequestVerdict(ctx, locator)
		if err == nil {
			s.applyVerdict(ctx, id, v)
			return
		}

		var rejected *verdict.RejectedError
		if errors.As(err, &rejected) {
			s.markFailed(ctx, id, rejected.Reason)
			return
		}

		if ctx.Err() != nil {
			s.logger.Warn("dispatch cancelled, leaving record dispatched",
				zap.Int64("video_id", id))
			return
		}

		if !verdict.Retryable(err) || attempt >= s.retryBudget {
			s.markFailed(ctx, id, err.Error())
			return
		}

		s.logger.Warn("analysis attempt failed, retrying",
			zap.Int64("video_id", id),
			zap.Int("attempt", attempt),
			zap.Int("retry_budget", s.retryBudget),
			zap.Duration("backoff", backoff),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > s.maxBackoff {
			backoff = s.maxBackoff
		}
	}
}

// markDispatched records the transition before the analyzer call returns,
// so a crash mid-call is observable as a stuck Dispatched record.
func (s *Service) markDispatched(id int64, attempt int) error {
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	transitioned := false
	err := s.registry.Update(id, func(v *registry.Video) {
		if v.Status.Terminal() {
			return
		}
		v.Status = registry.StatusDispatched
		v.Attempts = attempt
		transitioned = true
	})
	if err != nil {
		return err
	}
	if !transitioned {
		return errSuperseded
	}
	return nil
}

// applyVerdict settles the record exactly once: a verdict arriving after
// the record left Dispatched is discarded.
func (s *Service) applyVerdict(ctx context.Context, id int64, result *verdict.Verdict) {
	lock := s.lockFor(id)
	lock.Lock()

	applied := false
	var snapshot registry.Video
	err := s.registry.Update(id, func(v *registry.Video) {
		if v.Status != registry.StatusDispatched {
			return
		}
		v.Status = registry.StatusAnalyzed
		v.Verdict = result
		v.LastError = ""
		applied = true
		snapshot = *v
	})
	lock.Unlock()

	if err != nil || !applied {
		s.logger.Debug("stale verdict discarded", zap.Int64("video_id", id))
		return
	}

	s.logger.Info("video analyzed",
		zap.Int64("video_id", id),
		zap.String("label", result.Label),
		zap.Float64("confidence", result.Confidence))

	s.publishEvent(ctx, VideoEvent{
		Type:       EventVideoAnalyzed,
		VideoID:    id,
		Name:       snapshot.Name,
		Locator:    snapshot.Locator,
		Status:     string(snapshot.Status),
		Label:      result.Label,
		Confidence: result.Confidence,
	})
}

func (s *Service) markFailed(ctx context.Context, id int64, reason string) {
	lock := s.lockFor(id)
	lock.Lock()

	applied := false
	var snapshot registry.Video
	err := s.registry.Update(id, func(v *registry.Video) {
		if v.Status != registry.StatusDispatched {
			return
		}
		v.Status = registry.StatusFailed
		v.LastError = reason
		applied = true
		snapshot = *v
	})
	lock.Unlock()

	if err != nil || !applied {
		return
	}

	s.logger.Warn("video analysis failed",
		zap.Int64("video_id", id), zap.String("reason", reason))

	s.publishEvent(ctx, VideoEvent{
		Type:    EventVideoFailed,
		VideoID: id,
		Name:    snapshot.Name,
		Locator: snapshot.Locator,
		Status:  string(snapshot.Status),
		Reason:  reason,
	})
}

func (s *Service) validateUpload(size int64, contentType string) error {
	if size <= 0 {
		return &ValidationError{Reason: "empty payload"}
	}
	if len(s.allowedTypes) == 0 {
		if !strings.HasPrefix(contentType, "video/") {
			return &ValidationError{Reason: "unsupported media type " + strconv.Quote(contentType)}
		}
		return nil
	}
	for _, allowed := range s.allowedTypes {
		if strings.EqualFold(contentType, allowed) {
			return nil
		}
	}
	return &ValidationError{Reason: "unsupported media type " + strconv.Quote(contentType)}
}

// allocateID hands out fresh ids under the orchestrator's own lock, so
// concurrent creates never race a read-max-then-insert sequence.
func (s *Service) allocateID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	return s.nextID
}

// noteID keeps the allocator ahead of client-supplied ids, so a later
// assigned id never collides with one a client chose.
func (s *Service) noteID(id int64) {
	s.mu.Lock()
	if id > s.nextID {
		s.nextID = id
	}
	s.mu.Unlock()
}

func (s *Service) lockFor(id int64) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.idLocks[id]
	if !ok {
		lock = &sync.Mutex{}
		s.idLocks[id] = lock
	}
	return lock
}

// publishEvent emits a lifecycle event to the bus. The bus is advisory:
// publish failures are logged, never surfaced into the state machine.
func (s *Service) publishEvent(ctx context.Context, event VideoEvent) {
	event.OccurredAt = time.Now().UTC()

	payload, err := json.Marshal(event)
	if err != nil {
		s.logger.Error("marshal lifecycle event", zap.Error(err))
		return
	}

	key := []byte(strconv.FormatInt(event.VideoID, 10))
	headers := map[string]string{"event_type": event.Type}
	if err := s.producer.Publish(ctx, key, payload, headers); err != nil {
		s.logger.Error("publish lifecycle event",
			zap.String("event_type", event.Type),
			zap.Int64("video_id", event.VideoID),
			zap.Error(err))
	}
}
