// Package config loads the bridge configuration file.
//
// A configuration lists connection nodes, which name a device by address and
// token, and the instances (nodes) that use them:
//
//	connections:
//	  - id: vacuum
//	    host: 192.168.1.20
//	    token: ${ROBOROCK_TOKEN}
//	nodes:
//	  - id: living-room
//	    type: roborockEvent
//	    connection: vacuum
//	    pooling: 30
//	    events: true
//
// ${VAR} references are expanded from the environment before parsing. A
// dotenv file can seed the environment.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/lopelex/roborock-bridge/pkg/connection"
)

// Defaults applied by Load.
const (
	DefaultPooling         = 30
	DefaultMaxPollFailures = 3
	DefaultDialTimeout     = 10 * time.Second
	DefaultRetries         = 2
	DefaultLogLevel        = "info"
)

// Configuration errors.
var (
	ErrMissingField = errors.New("missing required field")
	ErrDuplicateID  = errors.New("duplicate id")
	ErrInvalidValue = errors.New("invalid value")
)

// File is the top-level configuration.
type File struct {
	Log         Log          `yaml:"log"`
	Device      Device       `yaml:"device"`
	Connections []Connection `yaml:"connections"`
	Nodes       []Node       `yaml:"nodes"`
}

// Log configures logging.
type Log struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`

	// Protocol is the path of a protocol capture file. Empty disables it.
	Protocol string `yaml:"protocol"`

	// ProtocolMaxSize rotates the capture file past this many bytes.
	// Zero keeps a single growing file.
	ProtocolMaxSize int64 `yaml:"protocolMaxSize"`
}

// Device holds protocol timing shared by all connections. Retries is how
// often a request is resent; zero sends it once.
type Device struct {
	DialTimeout time.Duration            `yaml:"dialTimeout"`
	CallTimeout time.Duration            `yaml:"callTimeout"`
	Retries     int                      `yaml:"retries"`
	Backoff     connection.BackoffConfig `yaml:"backoff"`
}

// Connection is a connection config node.
type Connection struct {
	ID    string `yaml:"id"`
	Name  string `yaml:"name"`
	Host  string `yaml:"host"`
	Token string `yaml:"token"`
}

// Node is one configured instance. Params holds every key besides the
// common ones, for the node type to decode.
type Node struct {
	ID     string         `yaml:"id"`
	Type   string         `yaml:"type"`
	Name   string         `yaml:"name"`
	Params map[string]any `yaml:",inline"`
}

// Decode decodes the node parameters into v.
func (n Node) Decode(v any) error {
	b, err := yaml.Marshal(n.Params)
	if err != nil {
		return fmt.Errorf("node %s: %w", n.ID, err)
	}
	if err := yaml.Unmarshal(b, v); err != nil {
		return fmt.Errorf("node %s: %w", n.ID, err)
	}
	return nil
}

// Connection returns the connection node with the given ID.
func (f *File) Connection(id string) (Connection, bool) {
	for _, c := range f.Connections {
		if c.ID == id {
			return c, true
		}
	}
	return Connection{}, false
}

// LoadEnv loads a dotenv file into the process environment. A missing file
// is not an error. Variables already set are kept.
func LoadEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

// Load reads, expands and parses a configuration file and applies defaults.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse expands and parses configuration data and applies defaults.
func Parse(data []byte) (*File, error) {
	expanded := os.ExpandEnv(string(data))

	// Retries is preset because an explicit zero is meaningful.
	f := File{Device: Device{Retries: DefaultRetries}}
	if err := yaml.Unmarshal([]byte(expanded), &f); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	f.ApplyDefaults()
	return &f, nil
}

// ApplyDefaults fills unset fields. Parse calls it; configurations built in
// code call it before Validate.
func (f *File) ApplyDefaults() {
	if f.Log.Level == "" {
		f.Log.Level = DefaultLogLevel
	}
	if f.Device.DialTimeout <= 0 {
		f.Device.DialTimeout = DefaultDialTimeout
	}
	if f.Device.Backoff == (connection.BackoffConfig{}) {
		f.Device.Backoff = connection.DefaultBackoffConfig()
	}
}

// Validate reports every problem of the configuration.
// Nodes referring to unknown connections are valid; they stay inert.
func (f *File) Validate() error {
	var errs []error

	switch f.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level: %w: %q", ErrInvalidValue, f.Log.Level))
	}
	if f.Log.ProtocolMaxSize < 0 {
		errs = append(errs, fmt.Errorf("log.protocolMaxSize: %w: %d", ErrInvalidValue, f.Log.ProtocolMaxSize))
	}
	if f.Device.Retries < 0 {
		errs = append(errs, fmt.Errorf("device.retries: %w: %d", ErrInvalidValue, f.Device.Retries))
	}

	seen := make(map[string]bool)
	for i, c := range f.Connections {
		where := fmt.Sprintf("connections[%d]", i)
		if c.ID == "" {
			errs = append(errs, fmt.Errorf("%s.id: %w", where, ErrMissingField))
		} else if seen[c.ID] {
			errs = append(errs, fmt.Errorf("%s: %w: %s", where, ErrDuplicateID, c.ID))
		}
		seen[c.ID] = true

		if c.Host == "" {
			errs = append(errs, fmt.Errorf("%s.host: %w", where, ErrMissingField))
		}
		if c.Token == "" {
			errs = append(errs, fmt.Errorf("%s.token: %w", where, ErrMissingField))
		} else if b, err := hex.DecodeString(c.Token); err != nil || len(b) != 16 {
			errs = append(errs, fmt.Errorf("%s.token: %w: want 32 hex digits", where, ErrInvalidValue))
		}
	}

	for i, n := range f.Nodes {
		where := fmt.Sprintf("nodes[%d]", i)
		if n.ID == "" {
			errs = append(errs, fmt.Errorf("%s.id: %w", where, ErrMissingField))
		} else if seen[n.ID] {
			errs = append(errs, fmt.Errorf("%s: %w: %s", where, ErrDuplicateID, n.ID))
		}
		seen[n.ID] = true

		if n.Type == "" {
			errs = append(errs, fmt.Errorf("%s.type: %w", where, ErrMissingField))
		}
	}

	return errors.Join(errs...)
}
