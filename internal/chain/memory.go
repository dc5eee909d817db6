package chain

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// MemoryLedger 进程内账本，用于开发模式与测试
type MemoryLedger struct {
	mu       sync.RWMutex
	records  []Record
	address  common.Address
	recorder common.Address
	gasUsed  uint64
	now      func() time.Time
	failures []error
}

// NewMemoryLedger 创建进程内账本
func NewMemoryLedger(contract, recorder common.Address) *MemoryLedger {
	return &MemoryLedger{
		address:  contract,
		recorder: recorder,
		gasUsed:  21000 + 90000,
		now:      time.Now,
	}
}

// SetClock 替换时间源
func (m *MemoryLedger) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// FailNext 让后续调用依次返回给定错误
func (m *MemoryLedger) FailNext(errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = append(m.failures, errs...)
}

func (m *MemoryLedger) popFailure() error {
	if len(m.failures) == 0 {
		return nil
	}
	err := m.failures[0]
	m.failures = m.failures[1:]
	return err
}

// Address 合约地址
func (m *MemoryLedger) Address() common.Address {
	return m.address
}

// Ping 检查可用性
func (m *MemoryLedger) Ping(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	return m.popFailure()
}

// Sender 写入记录使用的账户
func (m *MemoryLedger) Sender() common.Address {
	return m.recorder
}

// AddTransaction 追加记录
func (m *MemoryLedger) AddTransaction(ctx context.Context, fromDept, toDept string, amount *big.Int, purpose string) (*Receipt, error) {
	return m.AddTransactionAs(ctx, m.recorder, fromDept, toDept, amount, purpose)
}

// AddTransactionAs 以指定账户追加记录，模拟其他写入者
func (m *MemoryLedger) AddTransactionAs(ctx context.Context, recorder common.Address, fromDept, toDept string, amount *big.Int, purpose string) (*Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, classify(ctx, err, false)
	}
	if err := m.popFailure(); err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() < 0 {
		return nil, fmt.Errorf("%w: invalid amount", ErrReverted)
	}

	index := uint64(len(m.records))
	m.records = append(m.records, Record{
		FromDept:  fromDept,
		ToDept:    toDept,
		Amount:    new(big.Int).Set(amount),
		Purpose:   purpose,
		Timestamp: big.NewInt(m.now().Unix()),
		Recorder:  recorder,
	})

	var seed [8]byte
	binary.BigEndian.PutUint64(seed[:], index)
	hash := crypto.Keccak256Hash(m.address.Bytes(), seed[:], []byte(fromDept), []byte(toDept), amount.Bytes(), []byte(purpose))

	return &Receipt{
		TxHash:      hash,
		GasUsed:     m.gasUsed,
		BlockNumber: index + 1,
		Index:       &index,
	}, nil
}

// GetTransaction 按下标读取记录
func (m *MemoryLedger) GetTransaction(ctx context.Context, index uint64) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.popFailure(); err != nil {
		return nil, err
	}
	if index >= uint64(len(m.records)) {
		return nil, fmt.Errorf("%w: index %d", ErrNotFound, index)
	}
	rec := m.records[index]
	return &rec, nil
}

// GetAllTransactions 读取全部记录
func (m *MemoryLedger) GetAllTransactions(ctx context.Context) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.popFailure(); err != nil {
		return nil, err
	}
	out := make([]Record, len(m.records))
	copy(out, m.records)
	return out, nil
}

// GetTransactionCount 记录总数
func (m *MemoryLedger) GetTransactionCount(ctx context.Context) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.popFailure(); err != nil {
		return 0, err
	}
	return uint64(len(m.records)), nil
}

var _ Ledger = (*MemoryLedger)(nil)
