// (c) 2023, Fluence Labs Limited. All rights reserved.
// See the file LICENSE for licensing terms.

package client

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/ava-labs/avalanchego/database/memdb"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluencelabs/aquavm-sub004/datastore"
	"github.com/fluencelabs/aquavm-sub004/execution"
	"github.com/fluencelabs/aquavm-sub004/interpreter/testutils"
	"github.com/fluencelabs/aquavm-sub004/runner"
	"github.com/fluencelabs/aquavm-sub004/service"
)

func newTestServer(t *testing.T) *httptest.Server {
	state, err := datastore.NewState(memdb.New(), nil)
	require.NoError(t, err)
	r, err := runner.New(runner.Config{PeerID: "P"}, state)
	require.NoError(t, err)
	handler, err := service.NewHandler(r, prometheus.NewRegistry())
	require.NoError(t, err)
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server
}

func TestClientInvoke(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	cli := New(newTestServer(t).URL)
	ctx := context.Background()
	p := runner.Particle{
		ID:     "p1",
		Script: `(seq (call %init_peer_id% ("s" "f") [] x) (call "R" ("s" "g") [x] y))`,
	}

	reply, _, err := cli.Invoke(ctx, p, nil)
	require.NoError(err)
	require.Equal(int64(0), reply.RetCode, reply.ErrorMessage)
	require.Contains(reply.CallRequests, uint32(1))

	reply, data, err := cli.Invoke(ctx, p, execution.CallResults{1: testutils.Ok("v")})
	require.NoError(err)
	require.Equal(int64(0), reply.RetCode, reply.ErrorMessage)
	assert.Equal([]string{"R"}, reply.NextPeerPKs)
	assert.Equal([]string{`executed("v")`, "sent_by(P)"}, testutils.DescribeTrace(data))

	ok, err := cli.Forget(ctx, "p1")
	require.NoError(err)
	assert.True(ok)
}

func TestClientAnomalies(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	cli := New(newTestServer(t).URL)
	ctx := context.Background()

	reply, _, err := cli.Invoke(ctx, runner.Particle{
		ID:     "broken",
		Script: "(seq",
	}, nil)
	require.NoError(err)
	assert.NotZero(reply.RetCode)

	anomalies, err := cli.Anomalies(ctx, "")
	require.NoError(err)
	require.Len(anomalies, 1)
	assert.Equal("broken", anomalies[0].ParticleID)
	assert.Equal(reply.RetCode, anomalies[0].RetCode)
}

func TestClientReportsServerErrors(t *testing.T) {
	cli := New(newTestServer(t).URL)
	_, _, err := cli.Invoke(context.Background(), runner.Particle{}, nil)
	assert.Error(t, err)
}
