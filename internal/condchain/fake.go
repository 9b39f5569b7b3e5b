package condchain

import "context"

// Fake is an in-memory condition.Backend for tests: callers preload
// responses by key rather than standing up an HTTP server.
type Fake struct {
	Allowed map[string]bool
	Times   map[string]int64
	Rpc     map[string]interface{}
	JsonRpc map[string]interface{}
}

// NewFake returns an empty Fake with every map initialized.
func NewFake() *Fake {
	return &Fake{
		Allowed: map[string]bool{},
		Times:   map[string]int64{},
		Rpc:     map[string]interface{}{},
		JsonRpc: map[string]interface{}{},
	}
}

func (f *Fake) ChainAllowed(chain string) bool { return f.Allowed[chain] }

func (f *Fake) ReadTime(ctx context.Context, chain string) (int64, error) {
	return f.Times[chain], nil
}

func (f *Fake) ReadRpc(ctx context.Context, chain, method string, params []interface{}) (interface{}, error) {
	return f.Rpc[chain+"/"+method], nil
}

func (f *Fake) ReadContract(ctx context.Context, chain, address, abiEntry string, params []interface{}) (interface{}, error) {
	return f.Rpc[chain+"/"+address+"/"+abiEntry], nil
}

func (f *Fake) ReadJsonRpc(ctx context.Context, endpoint, method string, params []interface{}) (interface{}, error) {
	return f.JsonRpc[endpoint+"/"+method], nil
}
