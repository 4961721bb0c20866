// (c) 2023, Fluence Labs Limited. All rights reserved.
// See the file LICENSE for licensing terms.

package service

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ava-labs/avalanchego/database/memdb"
	"github.com/ava-labs/avalanchego/utils/formatting"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluencelabs/aquavm-sub004/datastore"
	"github.com/fluencelabs/aquavm-sub004/execution"
	"github.com/fluencelabs/aquavm-sub004/runner"
)

const localCall = `(call %init_peer_id% ("s" "f") [] x)`

func newTestService(t *testing.T) *Service {
	state, err := datastore.NewState(memdb.New(), nil)
	require.NoError(t, err)
	r, err := runner.New(runner.Config{PeerID: "P"}, state)
	require.NoError(t, err)
	m, err := newMetrics(prometheus.NewRegistry())
	require.NoError(t, err)
	return &Service{runner: r, metrics: m}
}

func TestInvokeRoundTrip(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	s := newTestService(t)
	req := httptest.NewRequest(http.MethodPost, "/", nil)

	args := &InvokeArgs{ParticleID: "p1", Script: localCall, Encoding: formatting.Hex}
	reply := &InvokeReply{}
	require.NoError(s.Invoke(req, args, reply))
	assert.Equal(int64(0), reply.RetCode)
	require.Contains(reply.CallRequests, uint32(1))
	assert.Equal("f", reply.CallRequests[1].FunctionName)

	args.CallResults = execution.CallResults{1: {Result: `"v"`}}
	reply = &InvokeReply{}
	require.NoError(s.Invoke(req, args, reply))
	assert.Equal(int64(0), reply.RetCode)
	assert.Empty(reply.CallRequests)

	data, err := formatting.Decode(formatting.Hex, reply.Data)
	require.NoError(err)
	assert.Contains(string(data), `"trace"`)

	assert.Equal(2.0, testutil.ToFloat64(s.metrics.invocations.WithLabelValues("success")))
}

func TestInvokeRecordsAnomalies(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	s := newTestService(t)
	req := httptest.NewRequest(http.MethodPost, "/", nil)

	garbage, err := formatting.EncodeWithChecksum(formatting.Hex, []byte("garbage"))
	require.NoError(err)
	reply := &InvokeReply{}
	require.NoError(s.Invoke(req, &InvokeArgs{
		ParticleID: "broken",
		Script:     localCall,
		Data:       garbage,
		Encoding:   formatting.Hex,
	}, reply))
	assert.True(reply.Anomaly)
	assert.NotZero(reply.RetCode)
	assert.Equal(1.0, testutil.ToFloat64(s.metrics.anomalies))
	assert.Equal(1.0, testutil.ToFloat64(s.metrics.invocations.WithLabelValues("failure")))

	anomalies := &AnomaliesReply{}
	require.NoError(s.Anomalies(req, &AnomaliesArgs{ParticleID: "broken"}, anomalies))
	require.Len(anomalies.Anomalies, 1)
	assert.Equal(reply.RetCode, anomalies.Anomalies[0].RetCode)

	require.NoError(s.Anomalies(req, &AnomaliesArgs{ParticleID: "other"}, anomalies))
	assert.Empty(anomalies.Anomalies)
}

func TestStaticEncodeDecode(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	ss := CreateStaticService()
	envelope := `{"trace":[]}`

	encoded := &EncodeReply{}
	require.NoError(ss.Encode(nil, &EncodeArgs{Data: envelope, Encoding: formatting.Hex}, encoded))
	assert.Equal(formatting.Hex, encoded.Encoding)

	decoded := &DecodeReply{}
	require.NoError(ss.Decode(nil, &DecodeArgs{Bytes: encoded.Bytes, Encoding: formatting.Hex}, decoded))
	assert.Contains(decoded.Data, `"trace":[]`)

	assert.Error(ss.Decode(nil, &DecodeArgs{Bytes: "0xzz", Encoding: formatting.Hex}, decoded))
}

func TestHandlerServesJSONRPC(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	state, err := datastore.NewState(memdb.New(), nil)
	require.NoError(err)
	r, err := runner.New(runner.Config{PeerID: "P"}, state)
	require.NoError(err)
	handler, err := NewHandler(r, prometheus.NewRegistry())
	require.NoError(err)

	server := httptest.NewServer(handler)
	defer server.Close()

	body, err := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "aquavm.invoke",
		"params": map[string]interface{}{
			"particleID": "p1",
			"script":     localCall,
			"encoding":   "hex",
		},
	})
	require.NoError(err)
	resp, err := http.Post(server.URL, "application/json", bytes.NewReader(body))
	require.NoError(err)
	defer resp.Body.Close()
	require.Equal(http.StatusOK, resp.StatusCode)

	var decoded struct {
		Result InvokeReply `json:"result"`
	}
	require.NoError(json.NewDecoder(resp.Body).Decode(&decoded))
	assert.Equal("p1", decoded.Result.ParticleID)
	assert.Equal([]string{}, decoded.Result.NextPeerPKs)
	assert.Contains(decoded.Result.CallRequests, uint32(1))

	_, err = NewHandler(nil, prometheus.NewRegistry())
	assert.ErrorIs(err, errNoRunner)
}
