package ethereum

import (
	"bytes"
	"context"
	"fmt"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// callResponder answers eth_calls by method selector with packed outputs.
// A method mapped to an error returns that error instead.
type callResponder struct {
	abi     *abi.ABI
	outputs map[string][]interface{}
	errs    map[string]error
}

func newCallResponder(parsed *abi.ABI) *callResponder {
	return &callResponder{abi: parsed, outputs: map[string][]interface{}{}, errs: map[string]error{}}
}

func (r *callResponder) Call(_ context.Context, _ common.Address, data []byte) ([]byte, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("short calldata")
	}
	for name, method := range r.abi.Methods {
		if !bytes.Equal(method.ID, data[:4]) {
			continue
		}
		if err := r.errs[name]; err != nil {
			return nil, err
		}
		values, ok := r.outputs[name]
		if !ok {
			return nil, fmt.Errorf("no response for %s", name)
		}
		return method.Outputs.Pack(values...)
	}
	return nil, fmt.Errorf("unknown selector %x", data[:4])
}

// decodeCall splits calldata into its method name and arguments.
func decodeCall(t *testing.T, parsed *abi.ABI, data []byte) (string, []interface{}) {
	t.Helper()
	method, err := parsed.MethodById(data[:4])
	if err != nil {
		t.Fatalf("MethodById: %v", err)
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		t.Fatalf("unpacking %s args: %v", method.Name, err)
	}
	return method.Name, args
}
