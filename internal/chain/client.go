package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/mautops/moneylens/internal/metrics"
	"github.com/sirupsen/logrus"
)

// locateWindow 定位新记录下标时向前回溯的最大条数
const locateWindow = 16

// Options 链上客户端配置
type Options struct {
	URL             string
	ContractAddress string
	// ChainID 为 0 时不校验节点链 ID
	ChainID int64
	// PrivateKey 为空时使用节点托管账户（eth_sendTransaction）
	PrivateKey          string
	CallTimeout         time.Duration
	WriteTimeout        time.Duration
	ReceiptPollInterval time.Duration
	Retry               RetryPolicy
}

// Client 基于 JSON-RPC 的账本合约客户端
// 同一签名者的写入通过 writeMu 串行化，锁覆盖 nonce 获取到交易确认的全过程
type Client struct {
	rpc      *rpc.Client
	eth      *ethclient.Client
	contract *bind.BoundContract
	address  common.Address
	chainID  *big.Int
	key      *ecdsa.PrivateKey
	from     common.Address
	opts     Options
	logger   *logrus.Logger

	writeMu sync.Mutex
}

// Dial 连接节点并校验链 ID 与合约代码，任何一步失败都返回错误
func Dial(ctx context.Context, opts Options, logger *logrus.Logger) (*Client, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	opts = withDefaults(opts)

	if !common.IsHexAddress(opts.ContractAddress) {
		return nil, fmt.Errorf("invalid contract address %q", opts.ContractAddress)
	}

	// 1. 建立 RPC 连接
	rc, err := rpc.DialContext(ctx, opts.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial chain node %s: %w", opts.URL, err)
	}
	eth := ethclient.NewClient(rc)

	c := &Client{
		rpc:     rc,
		eth:     eth,
		address: common.HexToAddress(opts.ContractAddress),
		opts:    opts,
		logger:  logger,
	}
	c.contract = bind.NewBoundContract(c.address, parsedABI, eth, eth, eth)

	// 2. 校验链 ID
	var chainID *big.Int
	err = c.read(ctx, "eth_chainId", func(ctx context.Context) error {
		var err error
		chainID, err = eth.ChainID(ctx)
		return err
	})
	if err != nil {
		rc.Close()
		return nil, fmt.Errorf("failed to reach chain node %s: %w", opts.URL, err)
	}
	if opts.ChainID != 0 && chainID.Int64() != opts.ChainID {
		rc.Close()
		return nil, fmt.Errorf("chain id mismatch: node reports %s, configured %d", chainID, opts.ChainID)
	}
	c.chainID = chainID

	// 3. 校验合约代码存在
	var code []byte
	err = c.read(ctx, "eth_getCode", func(ctx context.Context) error {
		var err error
		code, err = eth.CodeAt(ctx, c.address, nil)
		return err
	})
	if err != nil {
		rc.Close()
		return nil, fmt.Errorf("failed to load contract code: %w", err)
	}
	if len(code) == 0 {
		rc.Close()
		return nil, fmt.Errorf("%w %s", ErrNoContract, c.address.Hex())
	}

	// 4. 准备签名者
	if opts.PrivateKey != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(opts.PrivateKey, "0x"))
		if err != nil {
			rc.Close()
			return nil, fmt.Errorf("invalid signer private key: %w", err)
		}
		c.key = key
		c.from = crypto.PubkeyToAddress(key.PublicKey)
	} else {
		var accounts []common.Address
		err = c.read(ctx, "eth_accounts", func(ctx context.Context) error {
			return rc.CallContext(ctx, &accounts, "eth_accounts")
		})
		if err != nil {
			rc.Close()
			return nil, fmt.Errorf("failed to list node accounts: %w", err)
		}
		if len(accounts) == 0 {
			rc.Close()
			return nil, errors.New("node exposes no unlocked account and no signer private key is configured")
		}
		c.from = accounts[0]
	}

	logger.WithFields(logrus.Fields{
		"contract":  c.address.Hex(),
		"chain_id":  chainID.String(),
		"signer":    c.from.Hex(),
		"local_key": c.key != nil,
	}).Info("connected to ledger contract")

	return c, nil
}

func withDefaults(opts Options) Options {
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 10 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 60 * time.Second
	}
	if opts.ReceiptPollInterval <= 0 {
		opts.ReceiptPollInterval = 500 * time.Millisecond
	}
	if opts.Retry.BaseDelay <= 0 {
		opts.Retry.BaseDelay = DefaultRetryPolicy.BaseDelay
	}
	return opts
}

// Close 关闭 RPC 连接
func (c *Client) Close() {
	if c.rpc != nil {
		c.rpc.Close()
	}
}

// Address 合约地址
func (c *Client) Address() common.Address {
	return c.address
}

// Sender 写入交易使用的账户
func (c *Client) Sender() common.Address {
	return c.from
}

// Ping 检查节点是否可达
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.opts.CallTimeout)
	defer cancel()
	_, err := c.eth.BlockNumber(ctx)
	if err != nil {
		return classify(ctx, err, IsTransient(err))
	}
	return nil
}

// read 执行只读调用：超时 + 重试 + 指标
func (c *Client) read(ctx context.Context, method string, fn func(ctx context.Context) error) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, c.opts.CallTimeout)
	defer cancel()

	attempt := 0
	err := withRetry(ctx, c.opts.Retry, func(ctx context.Context) error {
		attempt++
		err := fn(ctx)
		if err != nil && IsTransient(err) {
			c.logger.WithFields(logrus.Fields{
				"method":  method,
				"attempt": attempt,
			}).WithError(err).Warn("transient chain error")
		}
		return err
	})
	metrics.RecordChainCall(method, outcome(err), time.Since(start).Seconds())
	return err
}

// GetTransactionCount 获取记录总数
func (c *Client) GetTransactionCount(ctx context.Context) (uint64, error) {
	return c.countAt(ctx, nil)
}

func (c *Client) countAt(ctx context.Context, block *big.Int) (uint64, error) {
	var out []interface{}
	err := c.read(ctx, "getTransactionCount", func(ctx context.Context) error {
		out = nil
		return c.contract.Call(&bind.CallOpts{Context: ctx, BlockNumber: block}, &out, "getTransactionCount")
	})
	if err != nil {
		return 0, err
	}
	count := *abi.ConvertType(out[0], new(*big.Int)).(**big.Int)
	if !count.IsUint64() {
		return 0, fmt.Errorf("transaction count %s overflows uint64", count)
	}
	return count.Uint64(), nil
}

// GetTransaction 按下标读取一条记录，revert 视为不存在
func (c *Client) GetTransaction(ctx context.Context, index uint64) (*Record, error) {
	return c.transactionAt(ctx, index, nil)
}

func (c *Client) transactionAt(ctx context.Context, index uint64, block *big.Int) (*Record, error) {
	var out []interface{}
	err := c.read(ctx, "getTransaction", func(ctx context.Context) error {
		out = nil
		return c.contract.Call(&bind.CallOpts{Context: ctx, BlockNumber: block}, &out, "getTransaction", new(big.Int).SetUint64(index))
	})
	if err != nil {
		if errors.Is(err, ErrUnavailable) || errors.Is(err, ErrTimeout) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: index %d: %v", ErrNotFound, index, err)
	}
	return &Record{
		FromDept:  *abi.ConvertType(out[0], new(string)).(*string),
		ToDept:    *abi.ConvertType(out[1], new(string)).(*string),
		Amount:    *abi.ConvertType(out[2], new(*big.Int)).(**big.Int),
		Purpose:   *abi.ConvertType(out[3], new(string)).(*string),
		Timestamp: *abi.ConvertType(out[4], new(*big.Int)).(**big.Int),
		Recorder:  *abi.ConvertType(out[5], new(common.Address)).(*common.Address),
	}, nil
}

// GetAllTransactions 读取全部记录，顺序即下标
func (c *Client) GetAllTransactions(ctx context.Context) ([]Record, error) {
	var out []interface{}
	err := c.read(ctx, "getAllTransactions", func(ctx context.Context) error {
		out = nil
		return c.contract.Call(&bind.CallOpts{Context: ctx}, &out, "getAllTransactions")
	})
	if err != nil {
		return nil, err
	}
	records := *abi.ConvertType(out[0], new([]Record)).(*[]Record)
	if records == nil {
		records = []Record{}
	}
	return records, nil
}

// AddTransaction 追加记录并阻塞到一次确认
func (c *Client) AddTransaction(ctx context.Context, fromDept, toDept string, amount *big.Int, purpose string) (*Receipt, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, c.opts.WriteTimeout)
	defer cancel()

	receipt, err := c.addTransaction(ctx, fromDept, toDept, amount, purpose)
	if err != nil {
		err = classify(ctx, err, IsTransient(err))
	}
	metrics.RecordChainCall("addTransaction", outcome(err), time.Since(start).Seconds())
	return receipt, err
}

func (c *Client) addTransaction(ctx context.Context, fromDept, toDept string, amount *big.Int, purpose string) (*Receipt, error) {
	// 1. 发送交易
	var (
		hash common.Hash
		err  error
	)
	if c.key != nil {
		hash, err = c.sendSigned(ctx, fromDept, toDept, amount, purpose)
	} else {
		hash, err = c.sendFromNode(ctx, fromDept, toDept, amount, purpose)
	}
	if err != nil {
		return nil, err
	}

	entry := c.logger.WithFields(logrus.Fields{
		"tx_hash":   hash.Hex(),
		"from_dept": fromDept,
		"to_dept":   toDept,
	})
	entry.Debug("ledger transaction sent")

	// 2. 等待确认
	rcpt, err := c.waitReceipt(ctx, hash)
	if err != nil {
		return nil, err
	}
	if rcpt.Status != types.ReceiptStatusSuccessful {
		return nil, fmt.Errorf("%w: %s (gas used %d)", ErrReverted, hash.Hex(), rcpt.GasUsed)
	}

	receipt := &Receipt{
		TxHash:      hash,
		GasUsed:     rcpt.GasUsed,
		BlockNumber: rcpt.BlockNumber.Uint64(),
	}

	// 3. 定位新记录下标（失败不影响写入结果）
	index, err := c.locate(ctx, rcpt.BlockNumber, fromDept, toDept, amount, purpose)
	if err != nil {
		entry.WithError(err).Warn("failed to locate ledger index for confirmed transaction")
	} else {
		receipt.Index = index
	}

	entry.WithField("gas_used", rcpt.GasUsed).Info("ledger transaction confirmed")
	return receipt, nil
}

// sendSigned 本地签名后广播；已签名的原始交易重复广播是幂等的，因此可以安全重试
func (c *Client) sendSigned(ctx context.Context, fromDept, toDept string, amount *big.Int, purpose string) (common.Hash, error) {
	opts, err := bind.NewKeyedTransactorWithChainID(c.key, c.chainID)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to build transactor: %w", err)
	}
	opts.Context = ctx
	opts.NoSend = true

	var tx *types.Transaction
	err = withRetry(ctx, c.opts.Retry, func(ctx context.Context) error {
		opts.Context = ctx
		var err error
		tx, err = c.contract.Transact(opts, "addTransaction", fromDept, toDept, amount, purpose)
		return err
	})
	if err != nil {
		return common.Hash{}, err
	}

	err = withRetry(ctx, c.opts.Retry, func(ctx context.Context) error {
		err := c.eth.SendTransaction(ctx, tx)
		if err != nil && strings.Contains(strings.ToLower(err.Error()), "already known") {
			return nil
		}
		return err
	})
	if err != nil {
		return common.Hash{}, err
	}
	return tx.Hash(), nil
}

// sendFromNode 由节点托管账户签名；节点端不可去重，因此不重试
func (c *Client) sendFromNode(ctx context.Context, fromDept, toDept string, amount *big.Int, purpose string) (common.Hash, error) {
	data, err := parsedABI.Pack("addTransaction", fromDept, toDept, amount, purpose)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to encode addTransaction: %w", err)
	}

	msg := map[string]interface{}{
		"from": c.from,
		"to":   c.address,
		"data": hexutil.Bytes(data),
	}
	var hash common.Hash
	if err := c.rpc.CallContext(ctx, &hash, "eth_sendTransaction", msg); err != nil {
		return common.Hash{}, err
	}
	return hash, nil
}

// waitReceipt 轮询交易回执直到确认或超时
func (c *Client) waitReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(c.opts.ReceiptPollInterval)
	defer ticker.Stop()

	for {
		rcpt, err := c.eth.TransactionReceipt(ctx, hash)
		if err == nil {
			return rcpt, nil
		}
		if !errors.Is(err, ethereum.NotFound) && !IsTransient(err) {
			return nil, fmt.Errorf("failed to fetch receipt for %s: %w", hash.Hex(), err)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: transaction %s not confirmed: %v", ErrTimeout, hash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}

// locate 在确认区块的状态下回溯查找刚写入的记录
// 同一区块内可能有其他写入者，因此按字段与签名者匹配而不是直接取 count-1
func (c *Client) locate(ctx context.Context, block *big.Int, fromDept, toDept string, amount *big.Int, purpose string) (*uint64, error) {
	count, err := c.countAt(ctx, block)
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, errors.New("contract reports zero transactions after confirmation")
	}

	var lowest uint64
	if count > locateWindow {
		lowest = count - locateWindow
	}
	for i := count; i > lowest; i-- {
		idx := i - 1
		rec, err := c.transactionAt(ctx, idx, block)
		if err != nil {
			return nil, err
		}
		if rec.Recorder == c.from && rec.Matches(fromDept, toDept, amount, purpose) {
			return &idx, nil
		}
	}
	return nil, fmt.Errorf("record not found in last %d entries at block %s", locateWindow, block)
}

var _ Ledger = (*Client)(nil)
