// Package anchor 将链下账目异步写入链上合约（outbox 模式）
package anchor

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mautops/moneylens/internal/chain"
	"github.com/mautops/moneylens/internal/metrics"
	"github.com/mautops/moneylens/internal/model"
	"github.com/mautops/moneylens/internal/repository"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// 推送给订阅方的事件类型
const (
	EventAnchored     = "anchored"
	EventAnchorFailed = "anchor_failed"
)

// clockSkew 区块时间与本机时间之间允许的偏差
const clockSkew = time.Minute

// ErrInProgress 账目正在锚定中
var ErrInProgress = errors.New("anchor already in progress")

// Publisher 账目事件发布者
type Publisher interface {
	PublishEntryEvent(eventType string, entry *model.LedgerEntryModel)
}

// Options 锚定配置
type Options struct {
	PollInterval time.Duration
	BatchSize    int
	MaxAttempts  int
}

// Worker 锚定 worker，单签名者下逐条处理事件
type Worker struct {
	db        *gorm.DB
	ledger    chain.Ledger
	publisher Publisher
	logger    *logrus.Logger
	opts      Options

	// mu 保证同一时刻只有一条账目在上链
	mu   sync.Mutex
	wake chan struct{}
	stop chan struct{}
	done chan struct{}
	now  func() time.Time
}

// NewWorker 创建锚定 worker
func NewWorker(db *gorm.DB, ledger chain.Ledger, publisher Publisher, logger *logrus.Logger, opts Options) *Worker {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 10
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	return &Worker{
		db:        db,
		ledger:    ledger,
		publisher: publisher,
		logger:    logger,
		opts:      opts,
		wake:      make(chan struct{}, 1),
		now:       time.Now,
	}
}

// SetPublisher 设置事件发布者
func (w *Worker) SetPublisher(p Publisher) {
	w.publisher = p
}

// Start 启动后台轮询，先把上次进程遗留的 processing 事件放回队列
func (w *Worker) Start(ctx context.Context) error {
	reset, err := repository.NewAnchorEventRepository(w.db).ResetProcessing()
	if err != nil {
		return fmt.Errorf("failed to reset interrupted anchor events: %w", err)
	}
	if reset > 0 {
		w.logger.WithField("count", reset).Warn("requeued interrupted anchor events")
	}

	w.stop = make(chan struct{})
	w.done = make(chan struct{})
	go w.loop(ctx)
	return nil
}

// Stop 停止后台轮询并等待当前批次结束
func (w *Worker) Stop() {
	if w.stop == nil {
		return
	}
	close(w.stop)
	<-w.done
	w.stop = nil
}

// Notify 有新事件时唤醒 worker
func (w *Worker) Notify() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *Worker) loop(ctx context.Context) {
	defer close(w.done)

	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()

	for {
		if _, err := w.ProcessPending(ctx); err != nil && ctx.Err() == nil {
			w.logger.WithError(err).Error("anchor batch failed")
		}
		w.updateQueueDepth()

		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case <-ticker.C:
		case <-w.wake:
		}
	}
}

func (w *Worker) updateQueueDepth() {
	depth, err := repository.NewAnchorEventRepository(w.db).CountPending()
	if err != nil {
		w.logger.WithError(err).Warn("failed to count pending anchor events")
		return
	}
	metrics.SetAnchorQueueDepth(depth)
}

// ProcessPending 处理一批待锚定事件，返回成功锚定的条数
func (w *Worker) ProcessPending(ctx context.Context) (int, error) {
	events := repository.NewAnchorEventRepository(w.db)
	pending, err := events.FindPending(w.opts.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to load pending anchor events: %w", err)
	}

	anchored := 0
	for _, evt := range pending {
		if err := ctx.Err(); err != nil {
			return anchored, err
		}

		claimed, err := events.Claim(evt.ID)
		if err != nil {
			return anchored, fmt.Errorf("failed to claim anchor event: %w", err)
		}
		if !claimed {
			continue
		}
		current, err := events.FindByID(evt.ID)
		if err != nil {
			return anchored, fmt.Errorf("failed to reload anchor event: %w", err)
		}

		if _, err := w.anchor(ctx, current); err == nil {
			anchored++
		}
	}
	return anchored, nil
}

// AnchorEntry 立即锚定指定账目，已锚定时直接返回
// 失败过的事件会被重新抢占，没有事件的账目会新建事件
func (w *Worker) AnchorEntry(ctx context.Context, entryID uint) (*model.LedgerEntryModel, error) {
	entry, err := repository.NewLedgerEntryRepository(w.db).FindByID(entryID)
	if err != nil {
		return nil, err
	}
	if entry.AnchorState == model.AnchorAnchored {
		return entry, nil
	}

	evt, err := w.claimForEntry(entry)
	if err != nil {
		return nil, err
	}
	return w.anchor(ctx, evt)
}

// claimForEntry 为手动锚定抢占（或新建）事件
func (w *Worker) claimForEntry(entry *model.LedgerEntryModel) (*model.AnchorEventModel, error) {
	events := repository.NewAnchorEventRepository(w.db)
	existing, err := events.FindByEntryID(entry.TransactionID)
	if err != nil {
		return nil, err
	}

	var latest *model.AnchorEventModel
	for _, e := range existing {
		if e.Status != model.AnchorEventDone {
			latest = e
		}
	}

	if latest == nil {
		now := w.now()
		evt := &model.AnchorEventModel{
			ID:        uuid.New().String(),
			EntryID:   entry.TransactionID,
			Status:    model.AnchorEventProcessing,
			Attempts:  1,
			CreatedAt: now,
			UpdatedAt: now,
		}
		err := w.db.Transaction(func(tx *gorm.DB) error {
			if err := repository.NewAnchorEventRepository(tx).Save(evt); err != nil {
				return err
			}
			return repository.NewLedgerEntryRepository(tx).UpdateAnchor(entry.TransactionID, map[string]interface{}{
				"anchor_state": model.AnchorQueued,
				"anchor_error": "",
				"updated_at":   now,
			})
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create anchor event: %w", err)
		}
		return evt, nil
	}

	var claimed bool
	switch latest.Status {
	case model.AnchorEventPending:
		claimed, err = events.Claim(latest.ID)
	case model.AnchorEventFailed:
		claimed, err = events.Reclaim(latest.ID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim anchor event: %w", err)
	}
	if !claimed {
		return nil, fmt.Errorf("%w: entry %d", ErrInProgress, entry.TransactionID)
	}
	return events.FindByID(latest.ID)
}

// anchor 对已抢占的事件执行上链
func (w *Worker) anchor(ctx context.Context, evt *model.AnchorEventModel) (*model.LedgerEntryModel, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	log := w.logger.WithFields(logrus.Fields{
		"event_id": evt.ID,
		"entry_id": evt.EntryID,
		"attempt":  evt.Attempts,
	})

	entry, err := repository.NewLedgerEntryRepository(w.db).FindByID(evt.EntryID)
	if err != nil {
		w.closeEvent(evt, model.AnchorEventFailed, err.Error())
		return nil, fmt.Errorf("failed to load entry %d: %w", evt.EntryID, err)
	}
	if entry.AnchorState == model.AnchorAnchored {
		w.closeEvent(evt, model.AnchorEventDone, "")
		return entry, nil
	}

	amount, err := chain.ToFixedPoint(entry.Amount)
	if err != nil {
		return nil, w.fail(entry, evt, err, true, log)
	}

	// 之前的尝试可能已经上链（超时或进程中断），先认领链上未被占用的相同记录
	if evt.Attempts > 1 {
		index, found, err := w.locate(ctx, entry, amount)
		if err != nil {
			return nil, w.fail(entry, evt, err, false, log)
		}
		if found {
			log.WithField("chain_index", index).Warn("adopted chain record from an earlier attempt")
			return w.succeed(entry, evt, nil, &index, log)
		}
	}

	receipt, err := w.ledger.AddTransaction(ctx, entry.FromDept, entry.ToDept, amount, entry.Purpose)
	if err != nil {
		return nil, w.fail(entry, evt, err, errors.Is(err, chain.ErrReverted), log)
	}

	index := receipt.Index
	if index != nil {
		claimed, err := repository.NewLedgerEntryRepository(w.db).ClaimedChainIndexes()
		if err == nil {
			if owner, taken := claimed[*index]; taken && owner != entry.TransactionID {
				index = nil
			}
		}
	}
	if index == nil {
		// 回执无法唯一定位时退回全量扫描
		if i, found, err := w.locate(ctx, entry, amount); err == nil && found {
			index = &i
		}
	}

	hash := receipt.TxHash.Hex()
	return w.succeed(entry, evt, &hash, index, log)
}

// locate 从后向前查找本账户写入、与账目一致、未被其他账目占用且不早于账目创建时间的链上记录
func (w *Worker) locate(ctx context.Context, entry *model.LedgerEntryModel, amount *big.Int) (uint64, bool, error) {
	records, err := w.ledger.GetAllTransactions(ctx)
	if err != nil {
		return 0, false, err
	}
	claimed, err := repository.NewLedgerEntryRepository(w.db).ClaimedChainIndexes()
	if err != nil {
		return 0, false, err
	}

	sender := w.ledger.Sender()
	notBefore := entry.CreatedAt.Add(-clockSkew).Unix()
	for i := len(records) - 1; i >= 0; i-- {
		rec := records[i]
		if _, taken := claimed[uint64(i)]; taken {
			continue
		}
		if rec.Timestamp != nil && rec.Timestamp.Int64() < notBefore {
			break
		}
		if rec.Recorder == sender && rec.Matches(entry.FromDept, entry.ToDept, amount, entry.Purpose) {
			return uint64(i), true, nil
		}
	}
	return 0, false, nil
}

// succeed 写回锚定结果
func (w *Worker) succeed(entry *model.LedgerEntryModel, evt *model.AnchorEventModel, txHash *string, index *uint64, log *logrus.Entry) (*model.LedgerEntryModel, error) {
	now := w.now()
	fields := map[string]interface{}{
		"anchor_state": model.AnchorAnchored,
		"anchor_error": "",
		"chain_index":  index,
		"anchored_at":  now,
		"updated_at":   now,
	}
	if txHash != nil {
		fields["transaction_hash"] = *txHash
	}

	err := w.db.Transaction(func(tx *gorm.DB) error {
		if err := repository.NewLedgerEntryRepository(tx).UpdateAnchor(entry.TransactionID, fields); err != nil {
			return err
		}
		evt.Status = model.AnchorEventDone
		evt.LastError = ""
		evt.UpdatedAt = now
		return repository.NewAnchorEventRepository(tx).Save(evt)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to store anchor result for entry %d: %w", entry.TransactionID, err)
	}

	metrics.RecordAnchor("anchored")
	logFields := logrus.Fields{}
	if txHash != nil {
		logFields["tx_hash"] = *txHash
	}
	if index != nil {
		logFields["chain_index"] = *index
	} else {
		log.Warn("anchored but chain index could not be located")
	}
	log.WithFields(logFields).Info("entry anchored")

	updated, err := repository.NewLedgerEntryRepository(w.db).FindByID(entry.TransactionID)
	if err != nil {
		return nil, err
	}
	w.publish(EventAnchored, updated)
	return updated, nil
}

// fail 记录失败，未到上限的事件放回队列
func (w *Worker) fail(entry *model.LedgerEntryModel, evt *model.AnchorEventModel, cause error, terminal bool, log *logrus.Entry) error {
	final := terminal || evt.Attempts >= w.opts.MaxAttempts
	now := w.now()

	eventStatus := model.AnchorEventPending
	fields := map[string]interface{}{
		"anchor_error": cause.Error(),
		"updated_at":   now,
	}
	if final {
		eventStatus = model.AnchorEventFailed
		fields["anchor_state"] = model.AnchorFailed
	}

	err := w.db.Transaction(func(tx *gorm.DB) error {
		if err := repository.NewLedgerEntryRepository(tx).UpdateAnchor(entry.TransactionID, fields); err != nil {
			return err
		}
		evt.Status = eventStatus
		evt.LastError = cause.Error()
		evt.UpdatedAt = now
		return repository.NewAnchorEventRepository(tx).Save(evt)
	})
	if err != nil {
		log.WithError(err).Error("failed to store anchor failure")
	}

	if !final {
		metrics.RecordAnchor("retry")
		log.WithError(cause).Warn("anchor attempt failed, will retry")
		return fmt.Errorf("anchor entry %d: %w", entry.TransactionID, cause)
	}

	metrics.RecordAnchor("failed")
	log.WithError(cause).Error("anchor failed")
	if updated, err := repository.NewLedgerEntryRepository(w.db).FindByID(entry.TransactionID); err == nil {
		w.publish(EventAnchorFailed, updated)
	}
	return fmt.Errorf("anchor entry %d: %w", entry.TransactionID, cause)
}

func (w *Worker) closeEvent(evt *model.AnchorEventModel, status, lastError string) {
	evt.Status = status
	evt.LastError = lastError
	evt.UpdatedAt = w.now()
	if err := repository.NewAnchorEventRepository(w.db).Save(evt); err != nil {
		w.logger.WithError(err).WithField("event_id", evt.ID).Error("failed to close anchor event")
	}
}

func (w *Worker) publish(eventType string, entry *model.LedgerEntryModel) {
	if w.publisher != nil {
		w.publisher.PublishEntryEvent(eventType, entry)
	}
}
