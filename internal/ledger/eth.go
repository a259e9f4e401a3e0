package ledger

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"ballotgate/internal/vote/models"
	"ballotgate/pkg/platform/sentinel"
)

// votingABI is the minimum contract surface: vote, getCandidate, and the
// VoteCast event used to discover existing votes during reconciliation.
const votingABI = `[
	{"inputs":[{"internalType":"uint256","name":"_candidateId","type":"uint256"}],"name":"vote","outputs":[],"stateMutability":"nonpayable","type":"function"},
	{"inputs":[{"internalType":"uint256","name":"_candidateId","type":"uint256"}],"name":"getCandidate","outputs":[{"internalType":"string","name":"","type":"string"},{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
	{"anonymous":false,"inputs":[{"indexed":true,"internalType":"address","name":"voter","type":"address"},{"indexed":true,"internalType":"uint256","name":"candidateId","type":"uint256"}],"name":"VoteCast","type":"event"}
]`

const receiptPollInterval = 2 * time.Second

// EthLedger talks to the voting contract over JSON-RPC. Submission signs with
// the service wallet key; confirmation is bounded receipt polling.
type EthLedger struct {
	client   *ethclient.Client
	contract *bind.BoundContract
	address  common.Address
	parsed   abi.ABI
	key      *ecdsa.PrivateKey
	chainID  *big.Int
}

// DialEth connects to the RPC endpoint and binds the voting contract.
func DialEth(ctx context.Context, rpcURL, contractAddress string, key *ecdsa.PrivateKey) (*EthLedger, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial ledger rpc: %w", err)
	}
	chainID, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("query chain id: %w", err)
	}
	parsed, err := abi.JSON(strings.NewReader(votingABI))
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("parse voting abi: %w", err)
	}
	addr := common.HexToAddress(contractAddress)
	return &EthLedger{
		client:   client,
		contract: bind.NewBoundContract(addr, parsed, client, client, client),
		address:  addr,
		parsed:   parsed,
		key:      key,
		chainID:  chainID,
	}, nil
}

func (l *EthLedger) Close() { l.client.Close() }

func (l *EthLedger) Submit(ctx context.Context, candidateID int64, auth *models.Authorization) (string, error) {
	expected := crypto.PubkeyToAddress(l.key.PublicKey).Hex()
	if !strings.EqualFold(auth.Address, expected) {
		return "", fmt.Errorf("%w: authorization address %s does not match signer %s",
			ErrRejectedByLedger, auth.Address, expected)
	}

	opts, err := bind.NewKeyedTransactorWithChainID(l.key, l.chainID)
	if err != nil {
		return "", fmt.Errorf("%w: build transactor: %v", ErrTransientSubmit, err)
	}
	opts.Context = ctx

	tx, err := l.contract.Transact(opts, "vote", big.NewInt(candidateID))
	if err != nil {
		return "", classifySubmitError(err)
	}
	return tx.Hash().Hex(), nil
}

// classifySubmitError splits deterministic reverts from everything else.
// Anything ambiguous stays transient so the orchestrator re-checks ledger
// state before deciding.
func classifySubmitError(err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "execution reverted") || strings.Contains(msg, "revert") {
		return fmt.Errorf("%w: %v", ErrRejectedByLedger, err)
	}
	return fmt.Errorf("%w: %v", ErrTransientSubmit, err)
}

func (l *EthLedger) AwaitConfirmation(ctx context.Context, ref string, timeout time.Duration) (Confirmation, error) {
	deadline := time.Now().Add(timeout)
	hash := common.HexToHash(ref)
	ticker := time.NewTicker(receiptPollInterval)
	defer ticker.Stop()

	for {
		receipt, err := l.client.TransactionReceipt(ctx, hash)
		switch {
		case err == nil:
			if receipt.Status == 1 {
				return Confirmation{Status: StatusConfirmed}, nil
			}
			return Confirmation{Status: StatusFailed, Reason: "transaction reverted"}, nil
		case errors.Is(err, ethereum.NotFound):
			// not mined yet, keep polling
		default:
			return Confirmation{}, fmt.Errorf("query receipt: %w", err)
		}

		if time.Now().After(deadline) {
			return Confirmation{Status: StatusPending}, nil
		}
		select {
		case <-ctx.Done():
			return Confirmation{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (l *EthLedger) GetCandidate(ctx context.Context, candidateID int64) (*models.Candidate, error) {
	var out []any
	err := l.contract.Call(&bind.CallOpts{Context: ctx}, &out, "getCandidate", big.NewInt(candidateID))
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "revert") {
			return nil, fmt.Errorf("%w: %d", ErrUnknownCandidate, candidateID)
		}
		return nil, fmt.Errorf("get candidate %d: %w", candidateID, err)
	}
	if len(out) != 2 {
		return nil, fmt.Errorf("get candidate %d: unexpected return arity %d", candidateID, len(out))
	}
	name, ok := out[0].(string)
	if !ok {
		return nil, fmt.Errorf("get candidate %d: unexpected name type %T", candidateID, out[0])
	}
	count, ok := out[1].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("get candidate %d: unexpected count type %T", candidateID, out[1])
	}
	// The original contract returns an empty name for unset candidate slots.
	if name == "" {
		return nil, fmt.Errorf("%w: %d", ErrUnknownCandidate, candidateID)
	}
	return &models.Candidate{
		ID:        candidateID,
		Name:      name,
		VoteCount: count.Uint64(),
	}, nil
}

func (l *EthLedger) FindVote(ctx context.Context, address string, candidateID int64) (string, error) {
	eventID := l.parsed.Events["VoteCast"].ID
	query := ethereum.FilterQuery{
		Addresses: []common.Address{l.address},
		Topics: [][]common.Hash{
			{eventID},
			{common.BytesToHash(common.HexToAddress(address).Bytes())},
			{common.BigToHash(big.NewInt(candidateID))},
		},
	}
	logs, err := l.client.FilterLogs(ctx, query)
	if err != nil {
		return "", fmt.Errorf("filter vote logs: %w", err)
	}
	if len(logs) == 0 {
		return "", sentinel.ErrNotFound
	}
	return logs[0].TxHash.Hex(), nil
}
