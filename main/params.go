// (c) 2023, Fluence Labs Limited. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ava-labs/avalanchego/utils/formatting"
	log "github.com/inconshreveable/log15"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/fluencelabs/aquavm-sub004/interpreter"
	"github.com/fluencelabs/aquavm-sub004/interpreterdata"
	"github.com/fluencelabs/aquavm-sub004/signatures"
)

const (
	envPrefix = "AQUAVM"

	configFileKey  = "config-file"
	logLevelKey    = "log-level"
	peerIDKey      = "peer-id"
	keyFormatKey   = "key-format"
	secretKeyKey   = "secret-key"
	maxASTDepthKey = "max-ast-depth"
	maxDataSizeKey = "max-data-size"
	dataFormatKey  = "data-format"

	scenarioKey    = "scenario"
	scriptKey      = "script"
	prevDataKey    = "prev-data"
	currentDataKey = "current-data"
	callResultsKey = "call-results"
	initPeerIDKey  = "init-peer-id"
	particleIDKey  = "particle-id"
	timestampKey   = "timestamp"
	ttlKey         = "ttl"
	outputKey      = "output"

	httpAddrKey      = "http-addr"
	dbDirKey         = "db-dir"
	slowThresholdKey = "slow-threshold"
	shutdownKey      = "shutdown-timeout"
)

func addGlobalFlags(fs *pflag.FlagSet) {
	defaults := interpreter.DefaultConfig()

	fs.String(configFileKey, "", "Config file (yaml, json or toml)")
	fs.String(logLevelKey, "info", "Log level (debug, info, warn, error, crit)")
	fs.String(peerIDKey, "", "Id of the peer the interpreter runs on")
	fs.String(keyFormatKey, string(signatures.Ed25519), "Format of the peer key (ed25519, secp256k1)")
	fs.String(secretKeyKey, "", "CB58 encoded secret key of the peer. Unsigned if empty")
	fs.Int(maxASTDepthKey, defaults.MaxASTDepth, "Maximum nesting of a script")
	fs.Int(maxDataSizeKey, defaults.MaxDataSize, "Maximum size of a script or envelope in bytes, 0 to disable")
	fs.String(dataFormatKey, defaults.DataFormat.String(), "Format of produced envelopes (json, binary)")
}

func addRunFlags(fs *pflag.FlagSet) {
	fs.String(scenarioKey, "", "Scenario file (yaml or json) describing the invocation")
	fs.String(scriptKey, "", "File holding the AIR script")
	fs.String(prevDataKey, "", "File holding the previous data")
	fs.String(currentDataKey, "", "File holding the current data")
	fs.String(callResultsKey, "", "File holding the call results (yaml or json)")
	fs.String(initPeerIDKey, "", "Id of the peer that created the particle. Defaults to the peer id")
	fs.String(particleIDKey, "", "Id of the particle. Generated if empty")
	fs.Uint64(timestampKey, 0, "Particle creation time in milliseconds. Defaults to now")
	fs.Uint32(ttlKey, 0, "Particle time to live in milliseconds")
	fs.String(outputKey, "", "File the produced data is written to")
}

func addServeFlags(fs *pflag.FlagSet) {
	fs.String(httpAddrKey, "127.0.0.1:9650", "Address the API listens on")
	fs.String(dbDirKey, "", "Database directory. The store is kept in memory if empty")
	fs.Duration(slowThresholdKey, 2*time.Second, "Executions slower than this are recorded as anomalies")
	fs.Duration(shutdownKey, 5*time.Second, "Time allowed for in flight requests on shutdown")
}

// getViper returns the viper environment of [cmd]: its flags, the
// environment and the config file, in that order of precedence.
func getViper(cmd *cobra.Command) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return nil, err
	}
	if configFile := v.GetString(configFileKey); configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("couldn't read config file %s: %w", configFile, err)
		}
	}
	return v, nil
}

func setupLogging(v *viper.Viper) error {
	lvl, err := log.LvlFromString(v.GetString(logLevelKey))
	if err != nil {
		return err
	}
	log.Root().SetHandler(log.LvlFilterHandler(lvl, log.StreamHandler(os.Stderr, log.LogfmtFormat())))
	return nil
}

func interpreterConfig(v *viper.Viper) (interpreter.Config, error) {
	config := interpreter.DefaultConfig()
	config.MaxASTDepth = v.GetInt(maxASTDepthKey)
	config.MaxDataSize = v.GetInt(maxDataSizeKey)

	format, err := interpreterdata.ParseFormat(v.GetString(dataFormatKey))
	if err != nil {
		return config, err
	}
	config.DataFormat = format
	return config, nil
}

func peerKey(v *viper.Viper) (signatures.KeyFormat, []byte, error) {
	format := signatures.KeyFormat(v.GetString(keyFormatKey))
	encoded := v.GetString(secretKeyKey)
	if encoded == "" {
		return format, nil, nil
	}
	secret, err := formatting.Decode(formatting.CB58, encoded)
	if err != nil {
		return format, nil, fmt.Errorf("couldn't decode secret key: %w", err)
	}
	return format, secret, nil
}

// peerID returns the configured peer id, falling back to the public key of
// the configured secret.
func peerID(v *viper.Viper) (string, error) {
	if id := v.GetString(peerIDKey); id != "" {
		return id, nil
	}
	format, secret, err := peerKey(v)
	if err != nil {
		return "", err
	}
	if secret == nil {
		return "", errNoPeerID
	}
	keyPair, err := signatures.KeyPairFromSecret(format, secret)
	if err != nil {
		return "", err
	}
	return keyPair.PublicKey(), nil
}
