// ledger.go — журнал скачиваний и учёт счётчиков файла.
//
// Download pipeline передаёт запись через Submit и не ждёт результата.
// Записи обрабатываются пулом воркеров из ограниченной очереди; при
// переполнении отбрасывается самая старая запись. Две записи в БД
// (журнал и счётчики) выполняются независимо: сбой или паника одной
// не мешает попытке второй.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/radiodesk/media-module/internal/domain/model"
)

// Операции журнала (значения лейбла op).
const (
	ledgerOpRecord   = "record"
	ledgerOpCounters = "counters"
)

var (
	ledgerFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mm_ledger_failures_total",
		Help: "Ошибки записи журнала скачиваний по операциям (record, counters).",
	}, []string{"op"})
	ledgerDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mm_ledger_dropped_total",
		Help: "Записи, вытесненные из переполненной очереди журнала.",
	})
	ledgerQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mm_ledger_queue_depth",
		Help: "Текущая длина очереди журнала скачиваний.",
	})
)

// DownloadLogWriter — запись в журнал скачиваний.
type DownloadLogWriter interface {
	Insert(ctx context.Context, e *model.DownloadLogEntry) error
}

// AccessRecorder — атомарный учёт скачивания в метаданных файла.
type AccessRecorder interface {
	RecordAccess(ctx context.Context, id string, at time.Time) error
}

// LedgerConfig — параметры очереди и воркеров.
type LedgerConfig struct {
	QueueSize    int
	Workers      int
	WriteTimeout time.Duration
}

// DownloadLedger — асинхронный приёмник записей о скачиваниях.
type DownloadLedger struct {
	logs     DownloadLogWriter
	counters AccessRecorder
	cfg      LedgerConfig
	now      func() time.Time
	logger   *slog.Logger

	mu     sync.Mutex
	queue  chan *model.DownloadLogEntry
	closed bool
	wg     sync.WaitGroup
}

// NewDownloadLedger создаёт журнал. Воркеры запускаются через Start.
func NewDownloadLedger(logs DownloadLogWriter, counters AccessRecorder, cfg LedgerConfig, logger *slog.Logger) *DownloadLedger {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	return &DownloadLedger{
		logs:     logs,
		counters: counters,
		cfg:      cfg,
		now:      time.Now,
		logger:   logger.With(slog.String("component", "download_ledger")),
		queue:    make(chan *model.DownloadLogEntry, cfg.QueueSize),
	}
}

// Start запускает воркеры.
func (l *DownloadLedger) Start() {
	for i := 0; i < l.cfg.Workers; i++ {
		l.wg.Add(1)
		go l.worker()
	}
	l.logger.Info("Журнал скачиваний запущен",
		slog.Int("workers", l.cfg.Workers),
		slog.Int("queue_size", l.cfg.QueueSize),
	)
}

// Stop закрывает очередь и ждёт, пока воркеры обработают оставшиеся записи,
// но не дольше, чем позволяет ctx.
func (l *DownloadLedger) Stop(ctx context.Context) error {
	l.mu.Lock()
	if !l.closed {
		l.closed = true
		close(l.queue)
	}
	l.mu.Unlock()

	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		l.logger.Info("Журнал скачиваний остановлен")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("остановка журнала скачиваний: %w", ctx.Err())
	}
}

// Submit ставит запись в очередь и сразу возвращает управление.
// При заполненной очереди вытесняется самая старая запись.
func (l *DownloadLedger) Submit(e *model.DownloadLogEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		l.logger.Warn("Журнал остановлен, запись отброшена",
			slog.String("file_id", e.FileID),
		)
		ledgerDroppedTotal.Inc()
		return
	}

	for {
		select {
		case l.queue <- e:
			ledgerQueueDepth.Set(float64(len(l.queue)))
			return
		default:
		}
		// Очередь полна — освобождаем место, вытесняя самую старую запись
		select {
		case dropped := <-l.queue:
			ledgerDroppedTotal.Inc()
			l.logger.Warn("Очередь журнала переполнена, старая запись вытеснена",
				slog.String("file_id", dropped.FileID),
				slog.String("download_id", dropped.ID),
			)
		default:
		}
	}
}

func (l *DownloadLedger) worker() {
	defer l.wg.Done()
	for e := range l.queue {
		ledgerQueueDepth.Set(float64(len(l.queue)))
		l.Process(e)
	}
}

// Process выполняет обе записи для одной попытки скачивания.
// Счётчики файла обновляются только для завершённых скачиваний.
func (l *DownloadLedger) Process(e *model.DownloadLogEntry) {
	_ = l.Record(context.Background(), e)
	if e.DownloadStatus == model.DownloadCompleted {
		_ = l.UpdateFileCounters(context.Background(), e.FileID, e.DownloadSize)
	}
}

// Record сохраняет запись журнала. Ошибка уже залогирована и учтена в метриках.
func (l *DownloadLedger) Record(ctx context.Context, e *model.DownloadLogEntry) error {
	err := l.guard(ctx, ledgerOpRecord, func(ctx context.Context) error {
		return l.logs.Insert(ctx, e)
	})
	if err != nil {
		l.report(ledgerOpRecord, e.FileID, err)
	}
	return err
}

// UpdateFileCounters увеличивает download_count и обновляет last_accessed_at.
// bytesSent используется только в диагностике.
func (l *DownloadLedger) UpdateFileCounters(ctx context.Context, fileID string, bytesSent int64) error {
	err := l.guard(ctx, ledgerOpCounters, func(ctx context.Context) error {
		return l.counters.RecordAccess(ctx, fileID, l.now())
	})
	if err != nil {
		l.report(ledgerOpCounters, fileID, err, slog.Int64("bytes_sent", bytesSent))
	}
	return err
}

// guard выполняет fn с таймаутом и превращает панику в ошибку.
func (l *DownloadLedger) guard(ctx context.Context, op string, fn func(context.Context) error) (err error) {
	ctx, cancel := context.WithTimeout(ctx, l.cfg.WriteTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %s: паника: %v", ErrLogWrite, op, r)
		}
	}()

	if err := fn(ctx); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrLogWrite, op, err)
	}
	return nil
}

// report — канал оператора: ERROR-лог и счётчик сбоев.
func (l *DownloadLedger) report(op, fileID string, err error, attrs ...any) {
	ledgerFailuresTotal.WithLabelValues(op).Inc()
	args := append([]any{
		slog.String("op", op),
		slog.String("file_id", fileID),
		slog.String("error", err.Error()),
	}, attrs...)
	l.logger.Error("Ошибка записи журнала скачиваний", args...)
}
