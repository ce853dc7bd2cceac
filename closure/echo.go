package closure

import (
	"github.com/ghostproc/ghostproc/encodable"
	"github.com/ghostproc/ghostproc/id"
	"github.com/ghostproc/ghostproc/process"
	"github.com/ghostproc/ghostproc/rpc"
)

// Sender is the capability the bundled "echo" closure needs to answer a
// request: deliver a value to a ProcessId, locally or over the wire,
// exactly like the send router's Send. Defined here rather than imported
// from the router package to keep closure free of a dependency on
// routing/transport.
type Sender interface {
	Send(pid id.ProcessId, value encodable.Encodable) error
}

// RegisterEcho registers the bundled "echo" closure: it takes no
// arguments and, for as long as it runs, answers every
// rpc.EchoInt/EchoString it receives by sending Value back to ReplyTo.
func RegisterEcho(reg *Registry, sender Sender) error {
	return reg.Register("echo",
		func(data []byte) (interface{}, error) { return nil, nil },
		func(p *process.Process, arg interface{}) {
			for {
				err := p.Receive(0,
					process.Handler{Tag: "rpc.echo.int", Fn: func(v interface{}) {
						req := v.(rpc.EchoInt)
						sender.Send(req.ReplyTo, encodable.Int(req.Value))
					}},
					process.Handler{Tag: "rpc.echo.string", Fn: func(v interface{}) {
						req := v.(rpc.EchoString)
						sender.Send(req.ReplyTo, encodable.String(req.Value))
					}},
				)
				if err != nil {
					return
				}
			}
		},
	)
}
