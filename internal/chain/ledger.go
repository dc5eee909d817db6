// Package chain 封装已部署的账本合约（MoneyLensLedger）的读写调用
package chain

import (
	"context"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// ledgerABI 合约对外接口（与部署产物保持一致）
const ledgerABI = `[
	{"inputs":[
		{"internalType":"string","name":"_fromDept","type":"string"},
		{"internalType":"string","name":"_toDept","type":"string"},
		{"internalType":"uint256","name":"_amount","type":"uint256"},
		{"internalType":"string","name":"_purpose","type":"string"}],
	 "name":"addTransaction","outputs":[],"stateMutability":"nonpayable","type":"function"},
	{"inputs":[],"name":"getAllTransactions","outputs":[
		{"components":[
			{"internalType":"string","name":"fromDept","type":"string"},
			{"internalType":"string","name":"toDept","type":"string"},
			{"internalType":"uint256","name":"amount","type":"uint256"},
			{"internalType":"string","name":"purpose","type":"string"},
			{"internalType":"uint256","name":"timestamp","type":"uint256"},
			{"internalType":"address","name":"recorder","type":"address"}],
		 "internalType":"struct MoneyLensLedger.Transaction[]","name":"","type":"tuple[]"}],
	 "stateMutability":"view","type":"function"},
	{"inputs":[{"internalType":"uint256","name":"_index","type":"uint256"}],
	 "name":"getTransaction","outputs":[
		{"internalType":"string","name":"fromDept","type":"string"},
		{"internalType":"string","name":"toDept","type":"string"},
		{"internalType":"uint256","name":"amount","type":"uint256"},
		{"internalType":"string","name":"purpose","type":"string"},
		{"internalType":"uint256","name":"timestamp","type":"uint256"},
		{"internalType":"address","name":"recorder","type":"address"}],
	 "stateMutability":"view","type":"function"},
	{"inputs":[],"name":"getTransactionCount","outputs":[
		{"internalType":"uint256","name":"","type":"uint256"}],
	 "stateMutability":"view","type":"function"}
]`

// parsedABI 解析后的合约 ABI
var parsedABI = mustParseABI()

func mustParseABI() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(ledgerABI))
	if err != nil {
		panic("chain: invalid ledger ABI: " + err.Error())
	}
	return parsed
}

// ABI 返回合约 ABI
func ABI() abi.ABI {
	return parsedABI
}

// Record 链上交易记录，字段名与 ABI 中的 tuple 组件一一对应
type Record struct {
	FromDept  string
	ToDept    string
	Amount    *big.Int
	Purpose   string
	Timestamp *big.Int
	Recorder  common.Address
}

// Receipt 写入确认后的回执
type Receipt struct {
	TxHash      common.Hash
	GasUsed     uint64
	BlockNumber uint64
	// Index 新记录在合约中的下标，无法定位时为 nil
	Index *uint64
}

// Ledger 账本合约接口
type Ledger interface {
	// AddTransaction 追加一条记录并等待一次确认
	AddTransaction(ctx context.Context, fromDept, toDept string, amount *big.Int, purpose string) (*Receipt, error)
	GetTransaction(ctx context.Context, index uint64) (*Record, error)
	GetAllTransactions(ctx context.Context) ([]Record, error)
	GetTransactionCount(ctx context.Context) (uint64, error)
	// Ping 检查节点是否可达
	Ping(ctx context.Context) error
	Address() common.Address
	// Sender 写入交易的账户，即链上记录的 recorder
	Sender() common.Address
}

// Matches 判断链上记录是否与给定字段一致
func (r *Record) Matches(fromDept, toDept string, amount *big.Int, purpose string) bool {
	if r == nil || r.Amount == nil || amount == nil {
		return false
	}
	return r.FromDept == fromDept &&
		r.ToDept == toDept &&
		r.Purpose == purpose &&
		r.Amount.Cmp(amount) == 0
}
