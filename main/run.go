// (c) 2023, Fluence Labs Limited. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/ava-labs/avalanchego/utils/formatting"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/fluencelabs/aquavm-sub004/execution"
	"github.com/fluencelabs/aquavm-sub004/interpreter"
)

var (
	errNoScript         = errors.New("no script given")
	errInvocationFailed = errors.New("invocation failed")
)

func newRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Executes a script once and prints the outcome",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			v, err := getViper(cmd)
			if err != nil {
				return err
			}
			if err := setupLogging(v); err != nil {
				return err
			}
			inv, err := loadInvocation(v, time.Now())
			if err != nil {
				return err
			}
			outcome := inv.run(cmd.Context())
			if err := writeOutcome(cmd.OutOrStdout(), v.GetString(outputKey), outcome); err != nil {
				return err
			}
			if !outcome.IsSuccess() {
				return fmt.Errorf("%w with code %d", errInvocationFailed, outcome.RetCode)
			}
			return nil
		},
	}
	addRunFlags(cmd.Flags())
	return cmd
}

type invocation struct {
	config      interpreter.Config
	script      string
	prevData    []byte
	currentData []byte
	callResults execution.CallResults
	params      interpreter.RunParameters
}

// loadInvocation merges the scenario file with the flags. Flags win.
func loadInvocation(v *viper.Viper, now time.Time) (*invocation, error) {
	scenario := &Scenario{}
	if path := v.GetString(scenarioKey); path != "" {
		var err error
		scenario, err = LoadScenario(path)
		if err != nil {
			return nil, err
		}
	}

	config, err := interpreterConfig(v)
	if err != nil {
		return nil, err
	}
	inv := &invocation{config: config, callResults: scenario.CallResults}

	if path := v.GetString(scriptKey); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		inv.script = string(raw)
	} else if inv.script, err = scenario.LoadScript(); err != nil {
		return nil, err
	}
	if inv.script == "" {
		return nil, errNoScript
	}

	if inv.prevData, err = readFlagOr(v, prevDataKey, scenario.LoadPrevData); err != nil {
		return nil, err
	}
	if inv.currentData, err = readFlagOr(v, currentDataKey, scenario.LoadCurrentData); err != nil {
		return nil, err
	}
	if path := v.GetString(callResultsKey); path != "" {
		if inv.callResults, err = LoadCallResults(path); err != nil {
			return nil, err
		}
	}

	peer, err := peerID(v)
	if err != nil {
		return nil, err
	}
	keyFormat, secret, err := peerKey(v)
	if err != nil {
		return nil, err
	}
	inv.params = interpreter.RunParameters{
		InitPeerID:    firstNonEmpty(v.GetString(initPeerIDKey), scenario.InitPeerID, peer),
		CurrentPeerID: peer,
		Timestamp:     scenario.Timestamp,
		TTL:           scenario.TTL,
		KeyFormat:     keyFormat,
		SecretKey:     secret,
		ParticleID:    firstNonEmpty(v.GetString(particleIDKey), scenario.ParticleID),
	}
	if ts := v.GetUint64(timestampKey); ts != 0 {
		inv.params.Timestamp = ts
	}
	if inv.params.Timestamp == 0 {
		inv.params.Timestamp = uint64(now.UnixMilli())
	}
	if ttl := v.GetUint32(ttlKey); ttl != 0 {
		inv.params.TTL = ttl
	}
	if inv.params.ParticleID == "" {
		inv.params.ParticleID = uuid.NewString()
	}
	return inv, nil
}

func (inv *invocation) run(ctx context.Context) *interpreter.Outcome {
	vm := interpreter.New(inv.config)
	return vm.Invoke(ctx, inv.script, inv.prevData, inv.currentData, inv.callResults, inv.params)
}

type outcomeView struct {
	RetCode      int64           `json:"ret_code"`
	ErrorMessage string          `json:"error_message,omitempty"`
	NextPeerPKs  []string        `json:"next_peer_pks"`
	CallRequests json.RawMessage `json:"call_requests"`
	Data         json.RawMessage `json:"data,omitempty"`
}

// writeOutcome prints the outcome to [w]. The data goes to [output] when
// set and is inlined otherwise.
func writeOutcome(w io.Writer, output string, outcome *interpreter.Outcome) error {
	view := outcomeView{
		RetCode:      outcome.RetCode,
		ErrorMessage: outcome.ErrorMessage,
		NextPeerPKs:  outcome.NextPeerPKs,
		CallRequests: outcome.CallRequests,
	}
	switch {
	case output != "":
		if err := os.WriteFile(output, outcome.Data, 0o600); err != nil {
			return err
		}
	case json.Valid(outcome.Data):
		view.Data = outcome.Data
	case len(outcome.Data) > 0:
		encoded, err := formatting.EncodeWithChecksum(formatting.Hex, outcome.Data)
		if err != nil {
			return err
		}
		view.Data, err = json.Marshal(encoded)
		if err != nil {
			return err
		}
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(view)
}

func readFlagOr(v *viper.Viper, key string, fallback func() ([]byte, error)) ([]byte, error) {
	if path := v.GetString(key); path != "" {
		return os.ReadFile(path)
	}
	return fallback()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
