// Package contractclient is a thin typed wrapper around one EVM contract:
// ABI-aware calls, signed sends, and receipt/event decoding. The Proxy
// chain client builds its DEX/NFPM reads and writes on top of it.
package contractclient

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"math/big"

	coordtypes "coordinatorcore/pkg/types"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// ContractClient is the surface every EVM contract wrapper is built from.
type ContractClient interface {
	ContractAddress() common.Address
	Abi() abi.ABI
	Call(caller *common.Address, method string, args ...interface{}) ([]interface{}, error)
	Send(txType coordtypes.TxType, gasLimit *uint64, from *common.Address, pk *ecdsa.PrivateKey, method string, args ...interface{}) (common.Hash, error)
	TransactionData(hash common.Hash) ([]byte, error)
	DecodeTransaction(data []byte) (*coordtypes.DecodedTx, error)
	ParseReceipt(receipt *coordtypes.TxReceipt) (string, error)
}

type contractClient struct {
	client  *ethclient.Client
	address common.Address
	abi     abi.ABI
}

func NewContractClient(client *ethclient.Client, address common.Address, contractAbi abi.ABI) ContractClient {
	return &contractClient{client: client, address: address, abi: contractAbi}
}

func (c *contractClient) ContractAddress() common.Address { return c.address }

func (c *contractClient) Abi() abi.ABI { return c.abi }

func (c *contractClient) Call(caller *common.Address, method string, args ...interface{}) ([]interface{}, error) {
	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack call %s: %w", method, err)
	}

	var from common.Address
	if caller != nil {
		from = *caller
	}
	msg := ethereum.CallMsg{From: from, To: &c.address, Data: data}

	output, err := c.client.CallContract(context.Background(), msg, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to call %s: %w", method, err)
	}

	result, err := c.abi.Unpack(method, output)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack result of %s: %w", method, err)
	}
	return result, nil
}

func (c *contractClient) Send(txType coordtypes.TxType, gasLimit *uint64, from *common.Address, pk *ecdsa.PrivateKey, method string, args ...interface{}) (common.Hash, error) {
	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to pack %s: %w", method, err)
	}

	ctx := context.Background()
	nonce, err := c.client.PendingNonceAt(ctx, *from)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to fetch nonce: %w", err)
	}

	gasPrice, err := c.client.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to suggest gas price: %w", err)
	}

	limit := uint64(500000)
	if gasLimit != nil {
		limit = *gasLimit
	} else {
		estimated, err := c.client.EstimateGas(ctx, ethereum.CallMsg{From: *from, To: &c.address, Data: data})
		if err == nil && estimated > 0 {
			limit = estimated
		}
	}

	chainID, err := c.client.NetworkID(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to fetch chain id: %w", err)
	}

	var tx *types.Transaction
	switch txType {
	case coordtypes.DynamicFee:
		tipCap, err := c.client.SuggestGasTipCap(ctx)
		if err != nil {
			return common.Hash{}, fmt.Errorf("failed to suggest gas tip cap: %w", err)
		}
		tx = types.NewTx(&types.DynamicFeeTx{
			ChainID:   chainID,
			Nonce:     nonce,
			To:        &c.address,
			Value:     big.NewInt(0),
			Gas:       limit,
			GasFeeCap: gasPrice,
			GasTipCap: tipCap,
			Data:      data,
		})
	default:
		tx = types.NewTx(&types.LegacyTx{
			Nonce:    nonce,
			To:       &c.address,
			Value:    big.NewInt(0),
			Gas:      limit,
			GasPrice: gasPrice,
			Data:     data,
		})
	}

	signer := types.LatestSignerForChainID(chainID)
	signedTx, err := types.SignTx(tx, signer, pk)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to sign transaction: %w", err)
	}

	if err := c.client.SendTransaction(ctx, signedTx); err != nil {
		return common.Hash{}, fmt.Errorf("failed to send transaction: %w", err)
	}

	return signedTx.Hash(), nil
}

func (c *contractClient) TransactionData(hash common.Hash) ([]byte, error) {
	tx, _, err := c.client.TransactionByHash(context.Background(), hash)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch transaction %s: %w", hash.Hex(), err)
	}
	return tx.Data(), nil
}

func (c *contractClient) DecodeTransaction(data []byte) (*coordtypes.DecodedTx, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("transaction data too short to contain a method selector")
	}

	method, err := c.abi.MethodById(data[:4])
	if err != nil {
		return nil, fmt.Errorf("failed to resolve method selector: %w", err)
	}

	args := make(map[string]interface{})
	if err := method.Inputs.UnpackIntoMap(args, data[4:]); err != nil {
		return nil, fmt.Errorf("failed to unpack arguments for %s: %w", method.Name, err)
	}

	return &coordtypes.DecodedTx{MethodName: method.Name, Parameter: args}, nil
}

// ParseReceipt decodes every log carried by receipt's block against this
// contract's ABI and returns the events as a JSON array of
// {EventName, Parameter}.
func (c *contractClient) ParseReceipt(receipt *coordtypes.TxReceipt) (string, error) {
	query := ethereum.FilterQuery{
		BlockHash: &receipt.BlockHash,
		Addresses: []common.Address{c.address},
	}
	logs, err := c.client.FilterLogs(context.Background(), query)
	if err != nil {
		return "", fmt.Errorf("failed to fetch logs for receipt %s: %w", receipt.TxHash.Hex(), err)
	}

	var events []coordtypes.DecodedEvent
	for _, l := range logs {
		if l.TxHash != receipt.TxHash || len(l.Topics) == 0 {
			continue
		}
		event, err := c.abi.EventByID(l.Topics[0])
		if err != nil {
			continue
		}
		params := make(map[string]interface{})
		if err := event.Inputs.UnpackIntoMap(params, l.Data); err != nil {
			continue
		}
		indexed := 0
		for _, input := range event.Inputs {
			if !input.Indexed {
				continue
			}
			indexed++
			if indexed < len(l.Topics) {
				params[input.Name] = l.Topics[indexed].Hex()
			}
		}
		events = append(events, coordtypes.DecodedEvent{EventName: event.Name, Parameter: params})
	}

	out, err := json.Marshal(events)
	if err != nil {
		return "", fmt.Errorf("failed to marshal decoded events: %w", err)
	}
	return string(out), nil
}

// PublicKeyToAddress is a small convenience used by callers signing with a
// raw ecdsa key rather than a keystore account.
func PublicKeyToAddress(pk *ecdsa.PrivateKey) common.Address {
	return crypto.PubkeyToAddress(pk.PublicKey)
}
