package chainlink

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/StrathCole/feedguard/pkg/feeds"
	"github.com/StrathCole/feedguard/pkg/logging"
	"github.com/StrathCole/feedguard/pkg/metrics"
)

// AggregatorV3Interface subset used by consumers.
const aggregatorABIJSON = `[
	{
		"inputs": [],
		"name": "latestRoundData",
		"outputs": [
			{"internalType": "uint80", "name": "roundId", "type": "uint80"},
			{"internalType": "int256", "name": "answer", "type": "int256"},
			{"internalType": "uint256", "name": "startedAt", "type": "uint256"},
			{"internalType": "uint256", "name": "updatedAt", "type": "uint256"},
			{"internalType": "uint80", "name": "answeredInRound", "type": "uint80"}
		],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [],
		"name": "decimals",
		"outputs": [{"internalType": "uint8", "name": "", "type": "uint8"}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [],
		"name": "description",
		"outputs": [{"internalType": "string", "name": "", "type": "string"}],
		"stateMutability": "view",
		"type": "function"
	}
]`

const defaultTimeout = 10 * time.Second

// Caller executes read-only contract calls. *ethclient.Client implements it.
type Caller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Round is the decoded result of latestRoundData().
type Round struct {
	RoundId         *big.Int //nolint:revive // matches ABI output name
	Answer          *big.Int
	StartedAt       *big.Int
	UpdatedAt       *big.Int
	AnsweredInRound *big.Int
}

// Aggregator reads answers from a Chainlink-style aggregator contract.
type Aggregator struct {
	caller  Caller
	release func()
	address common.Address
	abi     abi.ABI
	timeout time.Duration
	logger  *logging.Logger

	// decimals and description are immutable on-chain
	metaMu      sync.Mutex
	metaLoaded  bool
	decimals    uint8
	description string
}

var _ feeds.Feed = (*Aggregator)(nil)

// NewFromConfig creates an aggregator feed from configuration.
//
//	rpc_url: https://eth.llamarpc.com
//	address: "0x5f4eC3Df9cbd43714FE2740f5E3616155c5b8419"
//	timeout: 10s
func NewFromConfig(ctx context.Context, config map[string]interface{}) (feeds.Feed, error) {
	rpcURL := feeds.GetString(config, "rpc_url", "")
	if rpcURL == "" {
		return nil, fmt.Errorf("%w", ErrRPCURLRequired)
	}

	address, err := ParseAddress(feeds.GetString(config, "address", ""))
	if err != nil {
		return nil, err
	}

	timeout, err := feeds.GetDuration(config, "timeout", defaultTimeout)
	if err != nil {
		return nil, err
	}

	client, release, err := acquireClient(ctx, rpcURL)
	if err != nil {
		return nil, err
	}

	agg, err := New(address, client, feeds.GetLoggerFromConfig(config))
	if err != nil {
		release()
		return nil, err
	}
	agg.release = release
	agg.timeout = timeout
	return agg, nil
}

// New creates an aggregator feed using an existing caller.
func New(address common.Address, caller Caller, logger *logging.Logger) (*Aggregator, error) {
	if address == (common.Address{}) {
		return nil, fmt.Errorf("%w", ErrZeroAddress)
	}

	parsed, err := abi.JSON(strings.NewReader(aggregatorABIJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to parse aggregator ABI: %w", err)
	}

	if logger == nil {
		logger = logging.NewNoopLogger()
	}

	return &Aggregator{
		caller:  caller,
		release: func() {},
		address: address,
		abi:     parsed,
		timeout: defaultTimeout,
		logger:  logger,
	}, nil
}

// ParseAddress validates a hex contract address.
func ParseAddress(s string) (common.Address, error) {
	if s == "" {
		return common.Address{}, fmt.Errorf("%w", ErrAddressRequired)
	}
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%w: %s", ErrInvalidAddress, s)
	}
	addr := common.HexToAddress(s)
	if addr == (common.Address{}) {
		return common.Address{}, fmt.Errorf("%w", ErrZeroAddress)
	}
	return addr, nil
}

// ID returns the checksummed contract address.
func (a *Aggregator) ID() string {
	return a.address.Hex()
}

// Address returns the aggregator contract address.
func (a *Aggregator) Address() common.Address {
	return a.address
}

// FetchLatest calls latestRoundData() and returns the answer and updatedAt.
func (a *Aggregator) FetchLatest(ctx context.Context) (*big.Int, time.Time, error) {
	start := time.Now()
	round, err := a.LatestRoundData(ctx)
	if err != nil {
		metrics.RecordSourceFetch(a.ID(), "error", time.Since(start))
		return nil, time.Time{}, err
	}
	metrics.RecordSourceFetch(a.ID(), "ok", time.Since(start))

	// Round completeness is not checked: an unset updatedAt reads as epoch and is stale.
	if !round.UpdatedAt.IsInt64() {
		return nil, time.Time{}, fmt.Errorf("%w: updatedAt %s out of range", feeds.ErrNoAnswer, round.UpdatedAt)
	}

	a.logger.Debug("Read aggregator round",
		"address", a.ID(),
		"round_id", round.RoundId.String(),
		"answered_in_round", round.AnsweredInRound.String(),
		"answer", round.Answer.String(),
		"updated_at", round.UpdatedAt.Int64())

	return round.Answer, time.Unix(round.UpdatedAt.Int64(), 0), nil
}

// LatestRoundData calls latestRoundData() on the aggregator.
func (a *Aggregator) LatestRoundData(ctx context.Context) (*Round, error) {
	result, err := a.call(ctx, "latestRoundData")
	if err != nil {
		return nil, err
	}

	var round Round
	if err := a.abi.UnpackIntoInterface(&round, "latestRoundData", result); err != nil {
		return nil, fmt.Errorf("failed to unpack latestRoundData result: %w", err)
	}
	if round.Answer == nil || round.UpdatedAt == nil || round.RoundId == nil || round.AnsweredInRound == nil {
		return nil, fmt.Errorf("%w: latestRoundData", ErrEmptyResult)
	}
	return &round, nil
}

// Decimals returns the number of decimals in answers.
func (a *Aggregator) Decimals(ctx context.Context) (uint8, error) {
	decimals, _, err := a.metadata(ctx)
	return decimals, err
}

// Description returns the aggregator description, e.g. "ETH / USD".
func (a *Aggregator) Description(ctx context.Context) (string, error) {
	_, description, err := a.metadata(ctx)
	return description, err
}

// metadata caches decimals and description after the first successful read.
func (a *Aggregator) metadata(ctx context.Context) (uint8, string, error) {
	a.metaMu.Lock()
	defer a.metaMu.Unlock()

	if a.metaLoaded {
		return a.decimals, a.description, nil
	}

	rawDecimals, err := a.callOne(ctx, "decimals")
	if err != nil {
		return 0, "", err
	}
	rawDescription, err := a.callOne(ctx, "description")
	if err != nil {
		return 0, "", err
	}

	decimals, ok := rawDecimals.(uint8)
	if !ok {
		return 0, "", fmt.Errorf("unexpected decimals type %T", rawDecimals)
	}
	description, ok := rawDescription.(string)
	if !ok {
		return 0, "", fmt.Errorf("unexpected description type %T", rawDescription)
	}

	a.decimals, a.description, a.metaLoaded = decimals, description, true
	return decimals, description, nil
}

func (a *Aggregator) callOne(ctx context.Context, method string) (interface{}, error) {
	result, err := a.call(ctx, method)
	if err != nil {
		return nil, err
	}
	values, err := a.abi.Unpack(method, result)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack %s result: %w", method, err)
	}
	if len(values) != 1 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyResult, method)
	}
	return values[0], nil
}

func (a *Aggregator) call(ctx context.Context, method string) ([]byte, error) {
	data, err := a.abi.Pack(method)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s call: %w", method, err)
	}

	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	result, err := a.caller.CallContract(callCtx, ethereum.CallMsg{
		To:   &a.address,
		Data: data,
	}, nil) // nil = latest block
	if err != nil {
		return nil, fmt.Errorf("failed to call %s on %s: %w", method, a.ID(), err)
	}
	if len(result) == 0 {
		return nil, fmt.Errorf("%w: %s on %s", ErrEmptyResult, method, a.ID())
	}
	return result, nil
}

// Close releases the shared RPC client.
func (a *Aggregator) Close() error {
	a.release()
	return nil
}

// sharedClient lets feeds on the same RPC endpoint reuse one connection.
type sharedClient struct {
	client *ethclient.Client
	refs   int
}

var (
	clientsMu sync.Mutex
	clients   = make(map[string]*sharedClient)
)

func acquireClient(ctx context.Context, rpcURL string) (Caller, func(), error) {
	clientsMu.Lock()
	defer clientsMu.Unlock()

	shared, ok := clients[rpcURL]
	if !ok {
		client, err := ethclient.DialContext(ctx, rpcURL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to RPC: %w", err)
		}
		shared = &sharedClient{client: client}
		clients[rpcURL] = shared
	}
	shared.refs++

	var once sync.Once
	release := func() {
		once.Do(func() {
			clientsMu.Lock()
			defer clientsMu.Unlock()
			shared.refs--
			if shared.refs == 0 {
				shared.client.Close()
				delete(clients, rpcURL)
			}
		})
	}
	return shared.client, release, nil
}
