package extension

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"

	"github.com/hashicorp/go-hclog"
	goplugin "github.com/hashicorp/go-plugin"

	"github.com/goatkit/pluginrt/internal/plugin/signing"
	"github.com/goatkit/pluginrt/pkg/plugin"
)

// Process supervises one spawned extension binary and adapts it to
// plugin.Handler per registered handlerRef, the same contract a
// compiled-in handler satisfies (internal/runner.Registry does not
// distinguish the two).
type Process struct {
	name    string
	binPath string
	client  *goplugin.Client
	impl    Interface
	manifest HandlerManifest
}

// Load spawns binPath as a go-plugin subprocess, optionally verifying its
// signature first (internal/plugin/signing, grounded on
// internal/plugin/signing/signing.go), and calls Register/Init.
func Load(ctx context.Context, name, binPath string, config map[string]string, trustedKeys []ed25519.PublicKey) (*Process, error) {
	if len(trustedKeys) > 0 {
		sigPath := signing.DefaultSignaturePath(binPath)
		if err := signing.VerifyBinary(binPath, sigPath, trustedKeys); err != nil {
			return nil, fmt.Errorf("extension %q failed signature verification: %w", name, err)
		}
	}

	logger := hclog.New(&hclog.LoggerOptions{
		Name:   "extension." + name,
		Output: os.Stderr,
		Level:  hclog.Warn,
	})

	client := goplugin.NewClient(&goplugin.ClientConfig{
		HandshakeConfig:  Handshake,
		Plugins:          map[string]goplugin.Plugin{"handler": &Plugin{}},
		Cmd:              exec.CommandContext(ctx, binPath),
		Logger:           logger,
		AllowedProtocols: []goplugin.Protocol{goplugin.ProtocolNetRPC},
	})

	rpcClient, err := client.Client()
	if err != nil {
		client.Kill()
		return nil, fmt.Errorf("dial extension %q: %w", name, err)
	}

	raw, err := rpcClient.Dispense("handler")
	if err != nil {
		client.Kill()
		return nil, fmt.Errorf("dispense extension %q: %w", name, err)
	}

	impl, ok := raw.(Interface)
	if !ok {
		client.Kill()
		return nil, fmt.Errorf("extension %q does not implement extension.Interface", name)
	}

	manifest, err := impl.Register()
	if err != nil {
		client.Kill()
		return nil, fmt.Errorf("register extension %q: %w", name, err)
	}

	if err := impl.Init(config); err != nil {
		client.Kill()
		return nil, fmt.Errorf("init extension %q: %w", name, err)
	}

	return &Process{name: name, binPath: binPath, client: client, impl: impl, manifest: manifest}, nil
}

// HandlerRefs returns the handlerRefs this process registered.
func (p *Process) HandlerRefs() []string { return p.manifest.HandlerRefs }

// Handler returns a plugin.Handler bound to one of this process's
// handlerRefs, suitable for runner.Registry.Register.
func (p *Process) Handler(handlerRef string) plugin.Handler {
	return plugin.HandlerFunc(func(ctx context.Context, input json.RawMessage) (any, error) {
		type result struct {
			resp json.RawMessage
			err  error
		}
		done := make(chan result, 1)
		go func() {
			resp, err := p.impl.Execute(handlerRef, input)
			done <- result{resp, err}
		}()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case r := <-done:
			if r.err != nil {
				return nil, r.err
			}
			return r.resp, nil
		}
	})
}

// Shutdown asks the extension to shut down gracefully, then kills the
// subprocess.
func (p *Process) Shutdown() error {
	err := p.impl.Shutdown()
	p.client.Kill()
	return err
}
