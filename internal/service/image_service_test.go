package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/IotchulindraRai/photofilter/internal/config"
	"github.com/IotchulindraRai/photofilter/internal/domain"
	"github.com/IotchulindraRai/photofilter/internal/payment"
	"github.com/IotchulindraRai/photofilter/internal/repository"
	"github.com/IotchulindraRai/photofilter/internal/worker"
	"github.com/IotchulindraRai/photofilter/pkg/imaging"
)

type failFirstTransformer struct {
	calls int32
	next  *imaging.ImageProcessor
}

func (f *failFirstTransformer) Transform(ctx context.Context, payload []byte) (*imaging.Output, error) {
	if atomic.AddInt32(&f.calls, 1) == 1 {
		return nil, &domain.TransformError{Kind: domain.ErrDecode, Err: errors.New("simulated decode failure")}
	}
	return f.next.Transform(ctx, payload)
}

type blockingTransformer struct {
	release chan struct{}
}

func (b *blockingTransformer) Transform(ctx context.Context, payload []byte) (*imaging.Output, error) {
	<-b.release
	return &imaging.Output{Data: []byte("out"), Format: "png", ContentType: "image/png"}, nil
}

type fakeGateway struct {
	err   error
	calls int
}

func (g *fakeGateway) CreateSession(ctx context.Context, req payment.Request) (payment.Session, error) {
	g.calls++
	if g.err != nil {
		return payment.Session{}, g.err
	}
	return payment.Session{ID: "cs_1", URL: "https://checkout.example/cs_1"}, nil
}

type memoryExporter struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (m *memoryExporter) UploadFile(ctx context.Context, key string, data []byte, contentType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	return nil
}

func (m *memoryExporter) DownloadFile(ctx context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("no such key %s", key)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memoryExporter) ListFiles(ctx context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for k := range m.objects {
		keys = append(keys, k)
	}
	return keys, nil
}

func testConfig() *config.Config {
	return &config.Config{
		App: config.AppConfig{
			MaxUploadSize:    5 * 1024 * 1024,
			HistorySize:      6,
			Workers:          2,
			TransformTimeout: 5 * time.Second,
		},
		Payment: config.PaymentConfig{Amount: 5, Currency: "npr"},
	}
}

type fixture struct {
	svc      ImageService
	store    repository.RecordStore
	gateway  *fakeGateway
	exporter *memoryExporter
}

func newFixture(t *testing.T, transformer worker.Transformer) *fixture {
	t.Helper()
	cfg := testConfig()
	store := repository.NewRecordStore(cfg.App.HistorySize, zap.NewNop())
	gw := &fakeGateway{}
	exp := &memoryExporter{objects: map[string][]byte{}}
	if transformer == nil {
		transformer = imaging.NewImageProcessor(zap.NewNop(), 0)
	}
	svc := NewImageService(store, transformer, gw, exp, cfg, zap.NewNop())
	t.Cleanup(svc.Close)
	return &fixture{svc: svc, store: store, gateway: gw, exporter: exp}
}

func samplePNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 16, 16))
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x * 16), G: uint8(y * 16), B: 90, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func upload(t *testing.T, svc ImageService, name string) domain.ImageRecord {
	t.Helper()
	data := samplePNG(t)
	rec, err := svc.Upload(context.Background(), domain.UploadRequest{
		Name:        name,
		ContentType: "image/png",
		Size:        int64(len(data)),
		Data:        data,
	})
	require.NoError(t, err)
	return rec
}

func await(t *testing.T, ch <-chan domain.TransformOutcome) domain.TransformOutcome {
	t.Helper()
	select {
	case out := <-ch:
		return out
	case <-time.After(5 * time.Second):
		t.Fatal("transform did not finish")
		return domain.TransformOutcome{}
	}
}

func TestUpload_CreatesCurrentInitialRecord(t *testing.T) {
	f := newFixture(t, nil)

	rec := upload(t, f.svc, "a.png")

	assert.Equal(t, domain.StatusInitial, rec.Status)
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, "a.png", rec.Name)

	history := f.svc.History(context.Background())
	require.Len(t, history, 1)
	assert.Equal(t, rec.ID, history[0].ID)

	cur, ok := f.svc.Current(context.Background())
	require.True(t, ok)
	assert.Equal(t, rec.ID, cur.ID)
}

func TestUpload_TooLargeRejectedWithoutRecord(t *testing.T) {
	f := newFixture(t, nil)
	upload(t, f.svc, "a.png")

	_, err := f.svc.Upload(context.Background(), domain.UploadRequest{
		Name:        "big.png",
		ContentType: "image/png",
		Size:        6_000_000,
		Data:        make([]byte, 6_000_000),
	})

	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "size", verr.Field)
	assert.Len(t, f.svc.History(context.Background()), 1)
}

func TestUpload_NonImageRejected(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.svc.Upload(context.Background(), domain.UploadRequest{
		Name:        "notes.txt",
		ContentType: "text/plain",
		Size:        5,
		Data:        []byte("hello"),
	})

	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "content_type", verr.Field)
	assert.Empty(t, f.svc.History(context.Background()))
}

func TestUpload_SniffsMissingContentType(t *testing.T) {
	f := newFixture(t, nil)
	data := samplePNG(t)

	rec, err := f.svc.Upload(context.Background(), domain.UploadRequest{Name: "x", Data: data})
	require.NoError(t, err)
	assert.Equal(t, "image/png", rec.OriginalContentType)
}

func TestTransform_HappyPath(t *testing.T) {
	f := newFixture(t, nil)
	rec := upload(t, f.svc, "a.png")

	processing, done, err := f.svc.Transform(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusProcessing, processing.Status)

	out := await(t, done)
	require.NoError(t, out.Err)
	assert.Equal(t, domain.StatusCompleted, out.Record.Status)
	assert.True(t, out.Record.HasFiltered())
	assert.Equal(t, "image/png", out.Record.FilteredContentType)

	history := f.svc.History(context.Background())
	assert.Equal(t, domain.StatusCompleted, history[0].Status)
	assert.Equal(t, out.Record.FilteredImage, history[0].FilteredImage)

	cur, _ := f.svc.Current(context.Background())
	assert.Equal(t, history[0], cur)
}

func TestTransform_FailureThenRetry(t *testing.T) {
	f := newFixture(t, &failFirstTransformer{next: imaging.NewImageProcessor(zap.NewNop(), 0)})
	rec := upload(t, f.svc, "a.png")

	_, done, err := f.svc.Transform(context.Background(), rec.ID)
	require.NoError(t, err)
	out := await(t, done)
	assert.ErrorIs(t, out.Err, domain.ErrDecode)
	assert.Equal(t, domain.StatusError, out.Record.Status)
	assert.False(t, out.Record.HasFiltered())
	assert.Contains(t, out.Record.LastError, "simulated decode failure")

	processing, done, err := f.svc.Retry(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusProcessing, processing.Status)
	assert.Empty(t, processing.LastError)

	out = await(t, done)
	require.NoError(t, out.Err)
	assert.Equal(t, domain.StatusCompleted, out.Record.Status)
	assert.True(t, out.Record.HasFiltered())
}

func TestTransform_InvalidPayloadEndsInError(t *testing.T) {
	f := newFixture(t, nil)
	rec, err := f.svc.Upload(context.Background(), domain.UploadRequest{
		Name:        "fake.png",
		ContentType: "image/png",
		Data:        []byte("not really a png"),
	})
	require.NoError(t, err)

	_, done, err := f.svc.Transform(context.Background(), rec.ID)
	require.NoError(t, err)

	out := await(t, done)
	assert.ErrorIs(t, out.Err, domain.ErrDecode)
	got, _ := f.svc.Get(context.Background(), rec.ID)
	assert.Equal(t, domain.StatusError, got.Status)
}

func TestTransform_BusyWhileProcessing(t *testing.T) {
	bt := &blockingTransformer{release: make(chan struct{})}
	f := newFixture(t, bt)
	rec := upload(t, f.svc, "a.png")

	_, done, err := f.svc.Transform(context.Background(), rec.ID)
	require.NoError(t, err)

	_, _, err = f.svc.Transform(context.Background(), rec.ID)
	assert.ErrorIs(t, err, domain.ErrBusy)

	_, _, err = f.svc.Retry(context.Background(), rec.ID)
	assert.ErrorIs(t, err, domain.ErrBusy)

	close(bt.release)
	out := await(t, done)
	require.NoError(t, out.Err)
}

func TestTransform_CompletedIsTerminal(t *testing.T) {
	f := newFixture(t, nil)
	rec := upload(t, f.svc, "a.png")

	_, done, err := f.svc.Transform(context.Background(), rec.ID)
	require.NoError(t, err)
	await(t, done)

	_, _, err = f.svc.Transform(context.Background(), rec.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestRetry_OnlyFromError(t *testing.T) {
	f := newFixture(t, nil)
	rec := upload(t, f.svc, "a.png")

	_, _, err := f.svc.Retry(context.Background(), rec.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, _, err = f.svc.Transform(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestUpload_SevenImagesEvictsFirst(t *testing.T) {
	f := newFixture(t, nil)

	var ids []string
	for i := 0; i < 7; i++ {
		ids = append(ids, upload(t, f.svc, fmt.Sprintf("img%d.png", i)).ID)
	}

	history := f.svc.History(context.Background())
	require.Len(t, history, 6)
	for i, rec := range history {
		assert.Equal(t, ids[6-i], rec.ID)
	}
	_, err := f.svc.Get(context.Background(), ids[0])
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDownload(t *testing.T) {
	f := newFixture(t, nil)
	rec := upload(t, f.svc, "a.png")

	_, err := f.svc.Download(context.Background(), rec.ID)
	assert.ErrorIs(t, err, domain.ErrNotTransformed)

	_, done, err := f.svc.Transform(context.Background(), rec.ID)
	require.NoError(t, err)
	out := await(t, done)

	dl, err := f.svc.Download(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "filtered-a.png", dl.Name)
	assert.Equal(t, "image/png", dl.ContentType)
	assert.Equal(t, out.Record.FilteredImage, dl.Data)
}

func TestPay(t *testing.T) {
	f := newFixture(t, nil)
	rec := upload(t, f.svc, "a.png")

	_, err := f.svc.Pay(context.Background(), rec.ID)
	assert.ErrorIs(t, err, domain.ErrNotTransformed)
	assert.Zero(t, f.gateway.calls)

	_, done, err := f.svc.Transform(context.Background(), rec.ID)
	require.NoError(t, err)
	await(t, done)
	before, _ := f.svc.Get(context.Background(), rec.ID)

	receipt, err := f.svc.Pay(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "cs_1", receipt.SessionID)
	assert.Equal(t, int64(5), receipt.Amount)
	assert.Equal(t, "npr", receipt.Currency)

	f.gateway.err = errors.New("card declined")
	_, err = f.svc.Pay(context.Background(), rec.ID)
	var perr *domain.PaymentError
	assert.ErrorAs(t, err, &perr)

	after, _ := f.svc.Get(context.Background(), rec.ID)
	assert.Equal(t, before, after)
}

func TestExport(t *testing.T) {
	f := newFixture(t, nil)
	rec := upload(t, f.svc, "a.png")

	_, done, err := f.svc.Transform(context.Background(), rec.ID)
	require.NoError(t, err)
	await(t, done)

	res, err := f.svc.Export(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "filtered/"+rec.ID+"/filtered-a.png", res.Key)

	keys, err := f.svc.ListExports(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{res.Key}, keys)

	rc, err := f.svc.OpenExport(context.Background(), res.Key)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), res.Size)

	_, err = f.svc.OpenExport(context.Background(), "../secrets")
	var verr *domain.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestExport_Disabled(t *testing.T) {
	cfg := testConfig()
	store := repository.NewRecordStore(cfg.App.HistorySize, zap.NewNop())
	svc := NewImageService(store, imaging.NewImageProcessor(zap.NewNop(), 0), &fakeGateway{}, nil, cfg, zap.NewNop())
	t.Cleanup(svc.Close)

	_, err := svc.Export(context.Background(), "any")
	assert.ErrorIs(t, err, domain.ErrExportDisabled)
}

func TestClose_RejectsNewTransforms(t *testing.T) {
	f := newFixture(t, nil)
	rec := upload(t, f.svc, "a.png")

	f.svc.Close()

	_, _, err := f.svc.Transform(context.Background(), rec.ID)
	assert.ErrorIs(t, err, domain.ErrShuttingDown)
}

func TestCompletedIffFiltered(t *testing.T) {
	f := newFixture(t, &failFirstTransformer{next: imaging.NewImageProcessor(zap.NewNop(), 0)})

	a := upload(t, f.svc, "a.png")
	b := upload(t, f.svc, "b.png")
	for _, id := range []string{a.ID, b.ID} {
		_, done, err := f.svc.Transform(context.Background(), id)
		require.NoError(t, err)
		await(t, done)
	}

	for _, rec := range f.svc.History(context.Background()) {
		assert.Equal(t, rec.Status == domain.StatusCompleted, rec.HasFiltered(), rec.ID)
	}
}
