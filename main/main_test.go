// (c) 2023, Fluence Labs Limited. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ava-labs/avalanchego/utils/formatting"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluencelabs/aquavm-sub004/client"
	"github.com/fluencelabs/aquavm-sub004/runner"
	"github.com/fluencelabs/aquavm-sub004/signatures"
)

const scenarioYAML = `
script_file: script.air
particle_id: particle
init_peer_id: P
timestamp: 1337
ttl: 7000
call_results:
  1:
    ret_code: 0
    result: '"hello"'
`

func writeFile(t *testing.T, dir, name, content string) string {
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	cmd := newRootCommand()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRunScenario(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	dir := t.TempDir()
	writeFile(t, dir, "script.air", `(call %init_peer_id% ("s" "f") [] x)`)
	scenario := writeFile(t, dir, "scenario.yaml", scenarioYAML)
	output := filepath.Join(dir, "data.json")

	stdout, err := execute(t, "run", "--peer-id", "P", "--scenario", scenario, "--output", output)
	require.NoError(err)

	var view struct {
		RetCode      int64           `json:"ret_code"`
		NextPeerPKs  []string        `json:"next_peer_pks"`
		CallRequests json.RawMessage `json:"call_requests"`
	}
	require.NoError(json.Unmarshal([]byte(stdout), &view))
	assert.Equal(int64(0), view.RetCode)
	assert.Empty(view.NextPeerPKs)
	assert.JSONEq("{}", string(view.CallRequests))

	data, err := os.ReadFile(output)
	require.NoError(err)
	assert.Contains(string(data), `"hello"`)
}

func TestRunFlagsOverrideScenario(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	dir := t.TempDir()
	writeFile(t, dir, "script.air", `(call %init_peer_id% ("s" "f") [] x)`)
	scenario := writeFile(t, dir, "scenario.yaml", scenarioYAML)
	results := writeFile(t, dir, "results.json", `{"1": {"ret_code": 1, "result": "\"boom\""}}`)

	stdout, err := execute(t, "run", "--peer-id", "P", "--scenario", scenario, "--call-results", results)
	require.ErrorIs(err, errInvocationFailed)
	assert.Contains(stdout, "boom")
}

func TestLoadInvocationDefaults(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	dir := t.TempDir()
	script := writeFile(t, dir, "script.air", "(null)")

	cmd := newRunCommand()
	addGlobalFlags(cmd.Flags())
	require.NoError(cmd.ParseFlags([]string{"--peer-id", "P", "--script", script, "--ttl", "10"}))
	v, err := getViper(cmd)
	require.NoError(err)

	now := time.UnixMilli(4242)
	inv, err := loadInvocation(v, now)
	require.NoError(err)
	assert.Equal("(null)", inv.script)
	assert.Equal("P", inv.params.InitPeerID)
	assert.Equal(uint64(4242), inv.params.Timestamp)
	assert.Equal(uint32(10), inv.params.TTL)
	assert.NotEmpty(inv.params.ParticleID)

	require.NoError(cmd.ParseFlags([]string{"--script", ""}))
	_, err = loadInvocation(v, now)
	assert.ErrorIs(err, errNoScript)
}

func TestPeerIDFromSecretKey(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	keyPair, err := signatures.NewKeyPair(signatures.Ed25519)
	require.NoError(err)
	secret, err := formatting.EncodeWithChecksum(formatting.CB58, keyPair.Secret())
	require.NoError(err)

	cmd := newRunCommand()
	addGlobalFlags(cmd.Flags())
	require.NoError(cmd.ParseFlags([]string{"--secret-key", secret}))
	v, err := getViper(cmd)
	require.NoError(err)

	id, err := peerID(v)
	require.NoError(err)
	assert.Equal(keyPair.PublicKey(), id)

	cmd = newRunCommand()
	addGlobalFlags(cmd.Flags())
	v, err = getViper(cmd)
	require.NoError(err)
	_, err = peerID(v)
	assert.ErrorIs(err, errNoPeerID)
}

func TestVersionAndKeygen(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	stdout, err := execute(t, "version")
	require.NoError(err)
	assert.Contains(stdout, Name+"@"+Version)

	stdout, err = execute(t, "keygen")
	require.NoError(err)
	assert.Contains(stdout, "peer-id: ")
	assert.Contains(stdout, "secret-key: ")
}

func TestServe(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	cmd := newServeCommand()
	addGlobalFlags(cmd.Flags())
	require.NoError(cmd.ParseFlags([]string{"--peer-id", "P"}))
	v, err := getViper(cmd)
	require.NoError(err)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, v, listener) }()

	cli := client.New("http://" + listener.Addr().String() + apiPath)
	reply, _, err := cli.Invoke(ctx, runner.Particle{Script: "(null)"}, nil)
	require.NoError(err)
	assert.Equal(int64(0), reply.RetCode)
	assert.NotEmpty(reply.ParticleID)

	cancel()
	assert.NoError(<-done)
}
