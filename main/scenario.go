// (c) 2023, Fluence Labs Limited. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/fluencelabs/aquavm-sub004/execution"
)

// Scenario describes a single invocation. File paths are relative to the
// scenario file.
type Scenario struct {
	Script          string                `yaml:"script" json:"script"`
	ScriptFile      string                `yaml:"script_file" json:"script_file"`
	PrevDataFile    string                `yaml:"prev_data_file" json:"prev_data_file"`
	CurrentDataFile string                `yaml:"current_data_file" json:"current_data_file"`
	CallResults     execution.CallResults `yaml:"call_results" json:"call_results"`

	InitPeerID string `yaml:"init_peer_id" json:"init_peer_id"`
	ParticleID string `yaml:"particle_id" json:"particle_id"`
	Timestamp  uint64 `yaml:"timestamp" json:"timestamp"`
	TTL        uint32 `yaml:"ttl" json:"ttl"`

	dir string
}

// LoadScenario reads the scenario in [path].
func LoadScenario(path string) (*Scenario, error) {
	s := &Scenario{}
	if err := decodeFile(path, s); err != nil {
		return nil, err
	}
	s.dir = filepath.Dir(path)
	return s, nil
}

func (s *Scenario) resolve(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(s.dir, path)
}

// LoadScript returns the inline script or the content of the script file.
func (s *Scenario) LoadScript() (string, error) {
	if s.Script != "" {
		return s.Script, nil
	}
	raw, err := readOptional(s.resolve(s.ScriptFile))
	return string(raw), err
}

func (s *Scenario) LoadPrevData() ([]byte, error) {
	return readOptional(s.resolve(s.PrevDataFile))
}

func (s *Scenario) LoadCurrentData() ([]byte, error) {
	return readOptional(s.resolve(s.CurrentDataFile))
}

// LoadCallResults reads call results from a yaml or json file.
func LoadCallResults(path string) (execution.CallResults, error) {
	results := execution.CallResults{}
	if err := decodeFile(path, &results); err != nil {
		return nil, err
	}
	return results, nil
}

func decodeFile(path string, v interface{}) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if strings.EqualFold(filepath.Ext(path), ".json") {
		err = json.Unmarshal(raw, v)
	} else {
		err = yaml.Unmarshal(raw, v)
	}
	if err != nil {
		return fmt.Errorf("couldn't parse %s: %w", path, err)
	}
	return nil
}

func readOptional(path string) ([]byte, error) {
	if path == "" {
		return nil, nil
	}
	return os.ReadFile(path)
}
