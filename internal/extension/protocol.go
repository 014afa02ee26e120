// Package extension implements the handler-extension loader: compiled
// handlers are registered at build time, but extension handlers ship as
// separate binaries and are discovered, verified, and supervised at
// runtime. This is grounded on goatflow's internal/plugin/grpc (the
// host-side go-plugin loading and the net/rpc bridge) and
// pkg/plugin/grpcutil (the shared handshake and Serve entrypoint), adapted
// from goatflow's generic Call(fn, args) RPC surface to the runtime's own
// Execute(requestJSON) -> resultJSON contract, and from goatflow's
// ResourcePolicy/ HostAPI bridging to the plugin execution runtime's
// own permission-gated capability context: an extension handler is invoked
// exactly like a compiled-in one, just across a process boundary instead of
// a function call.
package extension

import (
	"encoding/json"
	"net/rpc"

	goplugin "github.com/hashicorp/go-plugin"
)

// Handshake is the shared handshake config for the host and extension
// binaries. Extension authors must use the same values to connect.
var Handshake = goplugin.HandshakeConfig{
	ProtocolVersion:  1,
	MagicCookieKey:   "PLUGINRT_EXTENSION",
	MagicCookieValue: "pluginrt-v1",
}

// HandlerManifest is what Register returns: the handlerRefs this binary
// serves.
type HandlerManifest struct {
	HandlerRefs []string `json:"handlerRefs"`
}

// Interface is what an extension binary implements. Execute receives the
// handler's raw JSON input and returns the handler's JSON output;
// neither context nor typed Go values cross the RPC boundary, matching the
// teacher's Call(fn, args json.RawMessage) shape.
type Interface interface {
	Register() (HandlerManifest, error)
	Init(config map[string]string) error
	Execute(handlerRef string, request json.RawMessage) (json.RawMessage, error)
	Shutdown() error
}

// Plugin is the go-plugin.Plugin implementation shared by both sides.
type Plugin struct {
	goplugin.Plugin
	Impl Interface
}

func (p *Plugin) Server(*goplugin.MuxBroker) (any, error) {
	return &rpcServer{impl: p.Impl}, nil
}

func (p *Plugin) Client(b *goplugin.MuxBroker, c *rpc.Client) (any, error) {
	return &rpcClient{client: c}, nil
}

type executeArgs struct {
	HandlerRef string
	Request    json.RawMessage
}

type executeReply struct {
	Response json.RawMessage
	Error    string
}

// rpcServer runs inside the extension process.
type rpcServer struct {
	impl Interface
}

func (s *rpcServer) Register(_ any, reply *HandlerManifest) error {
	m, err := s.impl.Register()
	if err != nil {
		return err
	}
	*reply = m
	return nil
}

func (s *rpcServer) Init(config map[string]string, _ *any) error {
	return s.impl.Init(config)
}

func (s *rpcServer) Execute(args executeArgs, reply *executeReply) error {
	resp, err := s.impl.Execute(args.HandlerRef, args.Request)
	if err != nil {
		reply.Error = err.Error()
		return nil
	}
	reply.Response = resp
	return nil
}

func (s *rpcServer) Shutdown(_ any, _ *any) error {
	return s.impl.Shutdown()
}

// rpcClient runs on the host and implements Interface over RPC.
type rpcClient struct {
	client *rpc.Client
}

func (c *rpcClient) Register() (HandlerManifest, error) {
	var reply HandlerManifest
	err := c.client.Call("Plugin.Register", new(any), &reply)
	return reply, err
}

func (c *rpcClient) Init(config map[string]string) error {
	var reply any
	return c.client.Call("Plugin.Init", config, &reply)
}

func (c *rpcClient) Execute(handlerRef string, request json.RawMessage) (json.RawMessage, error) {
	args := executeArgs{HandlerRef: handlerRef, Request: request}
	var reply executeReply
	if err := c.client.Call("Plugin.Execute", args, &reply); err != nil {
		return nil, err
	}
	if reply.Error != "" {
		return nil, &RemoteError{Message: reply.Error}
	}
	return reply.Response, nil
}

func (c *rpcClient) Shutdown() error {
	var reply any
	return c.client.Call("Plugin.Shutdown", new(any), &reply)
}

// RemoteError wraps an error message returned from across the extension
// process boundary, where the original error type is lost to RPC.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string { return e.Message }

// Serve is called by an extension binary's main() to serve impl.
func Serve(impl Interface) {
	goplugin.Serve(&goplugin.ServeConfig{
		HandshakeConfig: Handshake,
		Plugins: map[string]goplugin.Plugin{
			"handler": &Plugin{Impl: impl},
		},
	})
}
