package headless

type RPCMethod string

// The subset of the Delve headless API the attach workflow needs.
// Documentation: https://pkg.go.dev/github.com/go-delve/delve/service/rpc2
const (
	RPCCommand          RPCMethod = "RPCServer.Command"
	RPCState            RPCMethod = "RPCServer.State"
	RPCCreateBreakpoint RPCMethod = "RPCServer.CreateBreakpoint"
	RPCEval             RPCMethod = "RPCServer.Eval"
	RPCDetach           RPCMethod = "RPCServer.Detach"
)
