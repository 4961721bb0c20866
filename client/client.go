// (c) 2023, Fluence Labs Limited. All rights reserved.
// See the file LICENSE for licensing terms.

package client

import (
	"bytes"
	"context"
	"fmt"
	"net/http"

	"github.com/ava-labs/avalanchego/utils/formatting"
	"github.com/gorilla/rpc/v2/json2"

	cjson "github.com/ava-labs/avalanchego/utils/json"

	"github.com/fluencelabs/aquavm-sub004/execution"
	"github.com/fluencelabs/aquavm-sub004/runner"
	"github.com/fluencelabs/aquavm-sub004/service"
)

// Client defines aquavm client operations.
type Client interface {
	// Invoke executes a particle on the peer behind the endpoint
	Invoke(ctx context.Context, p runner.Particle, callResults execution.CallResults) (*service.InvokeReply, []byte, error)

	// Forget drops the data the peer stored for a particle
	Forget(ctx context.Context, particleID string) (bool, error)

	// Anomalies lists the anomalies the peer recorded for a particle, or all
	// of them when [particleID] is empty
	Anomalies(ctx context.Context, particleID string) ([]service.Anomaly, error)
}

// New creates a new client object.
func New(uri string) Client {
	return &client{uri: uri, http: http.DefaultClient}
}

type client struct {
	uri  string
	http *http.Client
}

func (cli *client) Invoke(ctx context.Context, p runner.Particle, callResults execution.CallResults) (*service.InvokeReply, []byte, error) {
	var encoded string
	if len(p.Data) > 0 {
		var err error
		encoded, err = formatting.EncodeWithChecksum(formatting.Hex, p.Data)
		if err != nil {
			return nil, nil, err
		}
	}

	resp := new(service.InvokeReply)
	err := cli.sendRequest(ctx, "invoke", &service.InvokeArgs{
		ParticleID:  p.ID,
		InitPeerID:  p.InitPeerID,
		Script:      p.Script,
		Data:        encoded,
		Encoding:    formatting.Hex,
		Timestamp:   cjson.Uint64(p.Timestamp),
		TTL:         cjson.Uint32(p.TTL),
		CallResults: callResults,
	}, resp)
	if err != nil {
		return nil, nil, err
	}
	data, err := formatting.Decode(formatting.Hex, resp.Data)
	if err != nil {
		return nil, nil, err
	}
	return resp, data, nil
}

func (cli *client) Forget(ctx context.Context, particleID string) (bool, error) {
	resp := new(service.ForgetReply)
	err := cli.sendRequest(ctx, "forget", &service.ForgetArgs{ParticleID: particleID}, resp)
	if err != nil {
		return false, err
	}
	return resp.Success, nil
}

func (cli *client) Anomalies(ctx context.Context, particleID string) ([]service.Anomaly, error) {
	resp := new(service.AnomaliesReply)
	err := cli.sendRequest(ctx, "anomalies", &service.AnomaliesArgs{ParticleID: particleID}, resp)
	if err != nil {
		return nil, err
	}
	return resp.Anomalies, nil
}

func (cli *client) sendRequest(ctx context.Context, method string, args, reply interface{}) error {
	body, err := json2.EncodeClientRequest(service.Name+"."+method, args)
	if err != nil {
		return fmt.Errorf("couldn't encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cli.uri, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := cli.http.Do(req)
	if err != nil {
		return fmt.Errorf("request %s failed: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("request %s returned status %d", method, resp.StatusCode)
	}
	return json2.DecodeClientResponse(resp.Body, reply)
}
