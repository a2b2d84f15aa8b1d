package settlement

import (
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

func TestSplitMergeABI_PacksBothFunctions(t *testing.T) {
	t.Parallel()

	parsed, err := abi.JSON(strings.NewReader(splitMergeABI))
	if err != nil {
		t.Fatalf("parse ABI: %v", err)
	}

	usdc := common.HexToAddress(usdcAddress)
	cond := common.HexToHash("0x1234")
	amount := big.NewInt(5_000_000) // 5 USDC, 6 decimals

	for _, fn := range []string{"splitPosition", "mergePositions"} {
		data, err := parsed.Pack(fn, usdc, common.Hash{}, cond, yesNoPartition, amount)
		if err != nil {
			t.Fatalf("pack %s: %v", fn, err)
		}
		if len(data) == 0 {
			t.Errorf("%s: packed call data is empty", fn)
		}
	}
}

func TestYesNoPartition_IsOneAndTwo(t *testing.T) {
	t.Parallel()

	if len(yesNoPartition) != 2 {
		t.Fatalf("partition length = %d, want 2", len(yesNoPartition))
	}
	if yesNoPartition[0].Cmp(big.NewInt(1)) != 0 || yesNoPartition[1].Cmp(big.NewInt(2)) != 0 {
		t.Errorf("partition = %v, want [1, 2]", yesNoPartition)
	}
}

func TestExecute_RejectsNonPositiveAmount(t *testing.T) {
	t.Parallel()

	parsed, err := abi.JSON(strings.NewReader(splitMergeABI))
	if err != nil {
		t.Fatalf("parse ABI: %v", err)
	}
	c := &OnChainClient{parsed: parsed}

	for _, amt := range []float64{0, -1.5} {
		_, err := c.execute(nil, "mergePositions", "0x1234", amt) //nolint:staticcheck // nil ctx never reaches a blocking call; amount check is first
		if err == nil {
			t.Errorf("amount %v: expected error before any RPC dial", amt)
		}
	}
}

func TestConditionalTokensAddressDistinctFromExchange(t *testing.T) {
	t.Parallel()

	// The ConditionalTokens framework contract and the CTF Exchange
	// order-book contract are separate deployments; settlement calls must
	// never be sent to the exchange contract.
	if conditionalTokensAddress == "0x4bFb41d5B3570DeFd03C39a9A4d8dE6Bd8b8982E" {
		t.Error("conditionalTokensAddress must not equal the CTF Exchange address")
	}
}
