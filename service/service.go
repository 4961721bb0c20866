// (c) 2023, Fluence Labs Limited. All rights reserved.
// See the file LICENSE for licensing terms.

// Package service exposes a runner over JSON-RPC.
package service

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/ava-labs/avalanchego/utils/formatting"
	"github.com/gorilla/rpc/v2"
	log "github.com/inconshreveable/log15"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	cjson "github.com/ava-labs/avalanchego/utils/json"

	"github.com/fluencelabs/aquavm-sub004/execution"
	"github.com/fluencelabs/aquavm-sub004/runner"
)

const Name = "aquavm"

var (
	logger = log.New("module", "service")
	tracer = otel.Tracer("github.com/fluencelabs/aquavm-sub004/service")

	errNoRunner = errors.New("service needs a runner")
)

// Service is the API service of a peer.
type Service struct {
	StaticService

	runner  *runner.Runner
	metrics *metrics
}

// NewHandler returns the JSON-RPC handler serving [r]. Metrics are
// registered with [registerer].
func NewHandler(r *runner.Runner, registerer prometheus.Registerer) (http.Handler, error) {
	if r == nil {
		return nil, errNoRunner
	}
	m, err := newMetrics(registerer)
	if err != nil {
		return nil, err
	}

	server := rpc.NewServer()
	codec := cjson.NewCodec()
	server.RegisterCodec(codec, "application/json")
	server.RegisterCodec(codec, "application/json;charset=UTF-8")
	return server, server.RegisterService(&Service{runner: r, metrics: m}, Name)
}

// NewStaticHandler returns a handler serving only the encoding helpers.
func NewStaticHandler() (http.Handler, error) {
	server := rpc.NewServer()
	codec := cjson.NewCodec()
	server.RegisterCodec(codec, "application/json")
	server.RegisterCodec(codec, "application/json;charset=UTF-8")
	return server, server.RegisterService(CreateStaticService(), Name)
}

// InvokeArgs describe a particle arriving at this peer. [Data] holds the
// envelope in [Encoding]; empty data is an empty envelope.
type InvokeArgs struct {
	ParticleID  string                `json:"particleID"`
	InitPeerID  string                `json:"initPeerID"`
	Script      string                `json:"script"`
	Data        string                `json:"data"`
	Encoding    formatting.Encoding   `json:"encoding"`
	Timestamp   cjson.Uint64          `json:"timestamp"`
	TTL         cjson.Uint32          `json:"ttl"`
	CallResults execution.CallResults `json:"callResults"`
}

// InvokeReply is the outcome of an invocation.
type InvokeReply struct {
	ParticleID    string                                 `json:"particleID"`
	RetCode       int64                                  `json:"retCode"`
	ErrorMessage  string                                 `json:"errorMessage"`
	Data          string                                 `json:"data"`
	Encoding      formatting.Encoding                    `json:"encoding"`
	NextPeerPKs   []string                               `json:"nextPeerPKs"`
	CallRequests  map[uint32]execution.CallRequestParams `json:"callRequests"`
	ExecutionTime cjson.Uint64                           `json:"executionTime"`
	Anomaly       bool                                   `json:"anomaly"`
}

// Invoke executes a particle on this peer.
func (s *Service) Invoke(req *http.Request, args *InvokeArgs, reply *InvokeReply) error {
	ctx, span := tracer.Start(req.Context(), "aquavm.invoke")
	defer span.End()

	var data []byte
	if args.Data != "" {
		var err error
		data, err = formatting.Decode(args.Encoding, args.Data)
		if err != nil {
			return fmt.Errorf("couldn't decode data: %w", err)
		}
	}

	res, err := s.runner.Execute(ctx, runner.Particle{
		ID:         args.ParticleID,
		InitPeerID: args.InitPeerID,
		Script:     args.Script,
		Data:       data,
		Timestamp:  uint64(args.Timestamp),
		TTL:        uint32(args.TTL),
	}, args.CallResults)
	if err != nil {
		logger.Error("invocation failed", "particleID", args.ParticleID, "error", err)
		return err
	}
	span.SetAttributes(attribute.Int64("ret_code", res.RetCode))
	s.metrics.observe(res.RetCode, res.ExecutionTime, len(res.NextPeerPKs), res.Anomaly)

	requests, err := res.DecodeCallRequests()
	if err != nil {
		return err
	}
	encoded, err := formatting.EncodeWithChecksum(args.Encoding, res.Data)
	if err != nil {
		return fmt.Errorf("couldn't encode data: %w", err)
	}

	reply.ParticleID = res.ParticleID
	reply.RetCode = res.RetCode
	reply.ErrorMessage = res.ErrorMessage
	reply.Data = encoded
	reply.Encoding = args.Encoding
	reply.NextPeerPKs = res.NextPeerPKs
	reply.CallRequests = requests
	reply.ExecutionTime = cjson.Uint64(res.ExecutionTime.Milliseconds())
	reply.Anomaly = res.Anomaly
	return nil
}

// ForgetArgs name a particle whose stored data is dropped.
type ForgetArgs struct {
	ParticleID string `json:"particleID"`
}

// ForgetReply is the reply from Forget
type ForgetReply struct {
	Success bool `json:"success"`
}

// Forget drops the data this peer stored for a particle.
func (s *Service) Forget(_ *http.Request, args *ForgetArgs, reply *ForgetReply) error {
	if err := s.runner.Forget(args.ParticleID); err != nil {
		return err
	}
	reply.Success = true
	return nil
}

// AnomaliesArgs filter the listed anomalies. An empty particle id lists
// them all.
type AnomaliesArgs struct {
	ParticleID string `json:"particleID"`
}

// Anomaly summarizes a recorded anomaly.
type Anomaly struct {
	ParticleID    string       `json:"particleID"`
	RetCode       int64        `json:"retCode"`
	ErrorMessage  string       `json:"errorMessage"`
	ExecutionTime cjson.Uint64 `json:"executionTime"`
}

// AnomaliesReply is the reply from Anomalies
type AnomaliesReply struct {
	Anomalies []Anomaly `json:"anomalies"`
}

// Anomalies lists the anomalies recorded by this peer.
func (s *Service) Anomalies(_ *http.Request, args *AnomaliesArgs, reply *AnomaliesReply) error {
	records, err := s.runner.Anomalies()
	if err != nil {
		return err
	}
	reply.Anomalies = []Anomaly{}
	for _, rec := range records {
		if args.ParticleID != "" && rec.ParticleID != args.ParticleID {
			continue
		}
		reply.Anomalies = append(reply.Anomalies, Anomaly{
			ParticleID:    rec.ParticleID,
			RetCode:       rec.RetCode,
			ErrorMessage:  rec.ErrorMessage,
			ExecutionTime: cjson.Uint64(rec.ExecutionTime),
		})
	}
	return nil
}
