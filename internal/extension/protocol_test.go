package extension

import (
	"encoding/json"
	"net"
	"net/rpc"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeImpl struct {
	initConfig map[string]string
	shutdown   bool
}

func (f *fakeImpl) Register() (HandlerManifest, error) {
	return HandlerManifest{HandlerRefs: []string{"widget.render"}}, nil
}

func (f *fakeImpl) Init(config map[string]string) error {
	f.initConfig = config
	return nil
}

func (f *fakeImpl) Execute(handlerRef string, request json.RawMessage) (json.RawMessage, error) {
	if handlerRef == "missing" {
		return nil, errBoom{}
	}
	return json.RawMessage(`{"echo":true}`), nil
}

func (f *fakeImpl) Shutdown() error {
	f.shutdown = true
	return nil
}

type errBoom struct{}

func (errBoom) Error() string { return "boom" }

// serveOverPipe wires an rpcServer to an rpcClient over an in-memory
// net.Pipe, exercising the same net/rpc registration the go-plugin
// transport uses (service name "Plugin").
func serveOverPipe(t *testing.T, impl Interface) *rpcClient {
	t.Helper()
	serverConn, clientConn := net.Pipe()

	server := rpc.NewServer()
	require.NoError(t, server.RegisterName("Plugin", &rpcServer{impl: impl}))
	go server.ServeConn(serverConn)

	return &rpcClient{client: rpc.NewClient(clientConn)}
}

func TestRPCRoundTripExecute(t *testing.T) {
	impl := &fakeImpl{}
	client := serveOverPipe(t, impl)

	manifest, err := client.Register()
	require.NoError(t, err)
	assert.Equal(t, []string{"widget.render"}, manifest.HandlerRefs)

	require.NoError(t, client.Init(map[string]string{"extension_name": "widgets"}))
	assert.Equal(t, "widgets", impl.initConfig["extension_name"])

	resp, err := client.Execute("widget.render", json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"echo":true}`, string(resp))

	require.NoError(t, client.Shutdown())
	assert.True(t, impl.shutdown)
}

func TestRPCRoundTripExecuteError(t *testing.T) {
	impl := &fakeImpl{}
	client := serveOverPipe(t, impl)

	_, err := client.Execute("missing", json.RawMessage(`{}`))
	require.Error(t, err)
	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, "boom", remote.Message)
}

func TestHandshakeMagicCookie(t *testing.T) {
	assert.Equal(t, "PLUGINRT_EXTENSION", Handshake.MagicCookieKey)
	assert.Equal(t, "pluginrt-v1", Handshake.MagicCookieValue)
}
