package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/IotchulindraRai/photofilter/internal/config"
	"github.com/IotchulindraRai/photofilter/internal/domain"
	"github.com/IotchulindraRai/photofilter/internal/metrics"
	"github.com/IotchulindraRai/photofilter/internal/payment"
	"github.com/IotchulindraRai/photofilter/internal/repository"
	"github.com/IotchulindraRai/photofilter/internal/worker"
)

const exportPrefix = "filtered/"

type ImageService interface {
	Upload(ctx context.Context, req domain.UploadRequest) (domain.ImageRecord, error)
	Transform(ctx context.Context, id string) (domain.ImageRecord, <-chan domain.TransformOutcome, error)
	Retry(ctx context.Context, id string) (domain.ImageRecord, <-chan domain.TransformOutcome, error)
	Get(ctx context.Context, id string) (domain.ImageRecord, error)
	Current(ctx context.Context) (domain.ImageRecord, bool)
	SelectCurrent(ctx context.Context, id string) (domain.ImageRecord, error)
	History(ctx context.Context) []domain.ImageRecord
	Download(ctx context.Context, id string) (domain.Download, error)
	Pay(ctx context.Context, id string) (domain.PaymentReceipt, error)
	Export(ctx context.Context, id string) (domain.ExportResult, error)
	ListExports(ctx context.Context) ([]string, error)
	OpenExport(ctx context.Context, key string) (io.ReadCloser, error)
	Close()
}

type imageService struct {
	store    repository.RecordStore
	exporter repository.S3Repository
	gateway  payment.Gateway
	pool     *worker.Pool
	cfg      *config.Config
	log      *zap.Logger

	mu     sync.RWMutex
	closed bool
	done   chan struct{}

	pendingMu sync.Mutex
	pending   map[string]chan domain.TransformOutcome
}

// NewImageService starts the transform workers. exporter may be nil when
// object storage is not configured.
func NewImageService(
	store repository.RecordStore,
	transformer worker.Transformer,
	gateway payment.Gateway,
	exporter repository.S3Repository,
	cfg *config.Config,
	log *zap.Logger,
) ImageService {
	s := &imageService{
		store:    store,
		exporter: exporter,
		gateway:  gateway,
		pool:     worker.NewPool(cfg.App.Workers, transformer, log),
		cfg:      cfg,
		log:      log,
		pending:  make(map[string]chan domain.TransformOutcome),
		done:     make(chan struct{}),
	}

	s.pool.Start()
	go s.consumeResults()

	return s
}

func (s *imageService) Upload(ctx context.Context, req domain.UploadRequest) (domain.ImageRecord, error) {
	size := req.Size
	if n := int64(len(req.Data)); n > size {
		size = n
	}

	if size > s.cfg.App.MaxUploadSize {
		metrics.RecordUpload("rejected")
		return domain.ImageRecord{}, &domain.ValidationError{
			Field:  "size",
			Reason: fmt.Sprintf("image must be at most %d bytes, got %d", s.cfg.App.MaxUploadSize, size),
		}
	}
	if len(req.Data) == 0 {
		metrics.RecordUpload("rejected")
		return domain.ImageRecord{}, &domain.ValidationError{Field: "file", Reason: "file is empty"}
	}

	contentType := req.ContentType
	if contentType == "" {
		contentType = mimetype.Detect(req.Data).String()
	}
	if !strings.HasPrefix(contentType, "image/") {
		metrics.RecordUpload("rejected")
		return domain.ImageRecord{}, &domain.ValidationError{
			Field:  "content_type",
			Reason: fmt.Sprintf("%q is not an image", contentType),
		}
	}

	name := req.Name
	if name != "" {
		name = filepath.Base(name)
	}

	record := domain.ImageRecord{
		ID:                  uuid.New().String(),
		Name:                name,
		OriginalImage:       bytes.Clone(req.Data),
		OriginalContentType: contentType,
		Status:              domain.StatusInitial,
		Timestamp:           time.Now().UTC(),
	}
	s.store.AddToHistory(record)
	s.store.SetCurrent(&record)
	metrics.RecordUpload("accepted")
	metrics.SetHistorySize(len(s.store.History()))

	s.log.Info("Image uploaded successfully",
		zap.String("id", record.ID),
		zap.String("filename", record.Name),
		zap.String("content_type", contentType),
		zap.Int64("size", size))

	return record, nil
}

func (s *imageService) Transform(ctx context.Context, id string) (domain.ImageRecord, <-chan domain.TransformOutcome, error) {
	return s.start(ctx, id, []domain.Status{domain.StatusInitial, domain.StatusError})
}

// Retry re-runs a failed transform on the same original payload.
func (s *imageService) Retry(ctx context.Context, id string) (domain.ImageRecord, <-chan domain.TransformOutcome, error) {
	return s.start(ctx, id, []domain.Status{domain.StatusError})
}

func (s *imageService) start(ctx context.Context, id string, allowed []domain.Status) (domain.ImageRecord, <-chan domain.TransformOutcome, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return domain.ImageRecord{}, nil, domain.ErrShuttingDown
	}

	record, err := s.store.Transition(id, allowed, domain.RecordUpdate{
		Status:    domain.StatusPtr(domain.StatusProcessing),
		LastError: domain.StringPtr(""),
	})
	if err != nil {
		return record, nil, err
	}

	outcome := make(chan domain.TransformOutcome, 1)
	s.setPending(id, outcome)
	metrics.TransformStarted()

	s.log.Info("Transform requested", zap.String("id", id))

	submitted := s.pool.Submit(worker.Job{
		Ctx:      context.Background(),
		RecordID: id,
		Payload:  record.OriginalImage,
		Timeout:  s.cfg.App.TransformTimeout,
	})
	if !submitted {
		s.complete(worker.Result{
			RecordID: id,
			Err:      &domain.TransformError{Kind: domain.ErrTimeout, Err: errors.New("worker pool unavailable")},
		})
	}

	return record, outcome, nil
}

func (s *imageService) consumeResults() {
	defer close(s.done)
	for res := range s.pool.Results() {
		s.complete(res)
	}
}

// complete moves a processing record to its terminal state and notifies the
// waiter. A record evicted while processing is only logged.
func (s *imageService) complete(res worker.Result) {
	processing := []domain.Status{domain.StatusProcessing}

	var (
		record domain.ImageRecord
		err    error
		status = domain.StatusCompleted
	)

	if res.Err != nil {
		status = domain.StatusError
		var uerr error
		record, uerr = s.store.Transition(res.RecordID, processing, domain.RecordUpdate{
			Status:    domain.StatusPtr(domain.StatusError),
			LastError: domain.StringPtr(res.Err.Error()),
		})
		if uerr != nil {
			s.log.Warn("Failed to record transform error",
				zap.String("id", res.RecordID),
				zap.Error(uerr))
		}
		err = res.Err
		s.log.Error("Transform failed",
			zap.String("id", res.RecordID),
			zap.Error(res.Err))
	} else {
		record, err = s.store.Transition(res.RecordID, processing, domain.RecordUpdate{
			Status:              domain.StatusPtr(domain.StatusCompleted),
			FilteredImage:       res.Output.Data,
			FilteredContentType: res.Output.ContentType,
			LastError:           domain.StringPtr(""),
		})
		if err != nil {
			s.log.Warn("Failed to store transform result",
				zap.String("id", res.RecordID),
				zap.Error(err))
		}
	}

	metrics.TransformFinished(string(status), res.Latency)

	if ch := s.takePending(res.RecordID); ch != nil {
		ch <- domain.TransformOutcome{Record: record, Err: err}
		close(ch)
	}
}

func (s *imageService) setPending(id string, ch chan domain.TransformOutcome) {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()

	s.pending[id] = ch
}

func (s *imageService) takePending(id string) chan domain.TransformOutcome {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()

	ch := s.pending[id]
	delete(s.pending, id)
	return ch
}

func (s *imageService) Get(ctx context.Context, id string) (domain.ImageRecord, error) {
	return s.store.Get(id)
}

func (s *imageService) Current(ctx context.Context) (domain.ImageRecord, bool) {
	return s.store.Current()
}

func (s *imageService) SelectCurrent(ctx context.Context, id string) (domain.ImageRecord, error) {
	return s.store.SelectCurrent(id)
}

func (s *imageService) History(ctx context.Context) []domain.ImageRecord {
	return s.store.History()
}

func (s *imageService) Download(ctx context.Context, id string) (domain.Download, error) {
	record, err := s.transformed(id)
	if err != nil {
		return domain.Download{}, err
	}

	return domain.Download{
		Name:        record.DownloadName(),
		ContentType: record.FilteredContentType,
		Data:        record.FilteredImage,
	}, nil
}

// Pay requests a checkout session for a transformed image. The outcome never
// changes the record.
func (s *imageService) Pay(ctx context.Context, id string) (domain.PaymentReceipt, error) {
	if _, err := s.transformed(id); err != nil {
		return domain.PaymentReceipt{}, err
	}

	req := payment.Request{
		RecordID: id,
		Amount:   s.cfg.Payment.Amount,
		Currency: s.cfg.Payment.Currency,
	}
	session, err := s.gateway.CreateSession(ctx, req)
	if err != nil {
		metrics.RecordPayment("failed")
		s.log.Error("Payment failed",
			zap.String("id", id),
			zap.Error(err))
		return domain.PaymentReceipt{}, &domain.PaymentError{Err: err}
	}
	metrics.RecordPayment("created")

	return domain.PaymentReceipt{
		RecordID:  id,
		SessionID: session.ID,
		URL:       session.URL,
		Amount:    req.Amount,
		Currency:  req.Currency,
	}, nil
}

func (s *imageService) Export(ctx context.Context, id string) (domain.ExportResult, error) {
	if s.exporter == nil {
		return domain.ExportResult{}, domain.ErrExportDisabled
	}
	record, err := s.transformed(id)
	if err != nil {
		return domain.ExportResult{}, err
	}

	key := path.Join(exportPrefix, record.ID, record.DownloadName())
	if err := s.exporter.UploadFile(ctx, key, record.FilteredImage, record.FilteredContentType); err != nil {
		return domain.ExportResult{}, fmt.Errorf("export %s: %w", id, err)
	}

	s.log.Info("Image exported",
		zap.String("id", id),
		zap.String("key", key))

	return domain.ExportResult{RecordID: id, Key: key, Size: int64(len(record.FilteredImage))}, nil
}

func (s *imageService) ListExports(ctx context.Context) ([]string, error) {
	if s.exporter == nil {
		return nil, domain.ErrExportDisabled
	}
	return s.exporter.ListFiles(ctx, exportPrefix)
}

func (s *imageService) OpenExport(ctx context.Context, key string) (io.ReadCloser, error) {
	if s.exporter == nil {
		return nil, domain.ErrExportDisabled
	}
	key = strings.TrimPrefix(key, "/")
	if !strings.HasPrefix(key, exportPrefix) || strings.Contains(key, "..") {
		return nil, &domain.ValidationError{Field: "key", Reason: "not an export key"}
	}
	return s.exporter.DownloadFile(ctx, key)
}

// Close stops accepting transforms and waits for queued ones to finish.
func (s *imageService) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.pool.Shutdown()
	<-s.done
}

func (s *imageService) transformed(id string) (domain.ImageRecord, error) {
	record, err := s.store.Get(id)
	if err != nil {
		return record, err
	}
	if !record.HasFiltered() {
		return record, fmt.Errorf("%s: %w", id, domain.ErrNotTransformed)
	}
	return record, nil
}
