// config.go - minimix configuration.
// Copyright (C) 2017  Yawning Angel.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package config provides the minimix network configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/katzenpost/minimix/core/identity"
	"github.com/katzenpost/minimix/core/log"
	"github.com/katzenpost/minimix/core/sphinx"
)

const (
	// DefaultEnvPrefix is the prefix of the environment variables that
	// override configuration values.
	DefaultEnvPrefix = "MINIMIX"

	defaultLogLevel           = "NOTICE"
	defaultBufferSize         = 32
	defaultNumHops            = 3
	defaultForwardProbability = 0.7
	defaultMeanDelay          = 1000 // 1 sec.
	defaultBootstrapInterval  = 2000 // 2 sec.
	defaultMinAddressBook     = 3
	defaultSendInterval       = 1000 // 1 sec.
	defaultMetricsAddress     = ":5050"
)

var defaultLogging = Logging{
	Disable: false,
	File:    "",
	Level:   defaultLogLevel,
}

// Logging is the minimix logging configuration.
type Logging struct {
	// Disable disables logging entirely.
	Disable bool

	// File specifies the log file, if omitted stdout will be used.
	File string

	// Level specifies the log level.
	Level string
}

func (lCfg *Logging) validate() error {
	if lCfg.Level == "" {
		lCfg.Level = defaultLogLevel
	}
	lvl, err := log.ValidLevel(lCfg.Level)
	if err != nil {
		return fmt.Errorf("config: Logging: Level '%v' is invalid", lCfg.Level)
	}
	lCfg.Level = lvl
	return nil
}

// Directory is the public key directory configuration.
type Directory struct {
	// BufferSize is the depth of the directory's request queue.
	BufferSize int
}

// Server is the routing server configuration.
type Server struct {
	// BufferSize is the depth of the server's request queue.
	BufferSize int
}

// Transport is the store and forward transport configuration.
type Transport struct {
	// StoreAndForward routes packets through the store and forward
	// transport instead of the routing server.  Packets to clients that are
	// not yet registered are then buffered instead of dropped.
	StoreAndForward bool

	// BufferSize is the depth of the transport's request queue.
	BufferSize int
}

// Mixing is the path selection and relaying configuration shared by every
// client.
type Mixing struct {
	// NumHops is the number of relays on each path.
	NumHops int

	// ForwardProbability is the probability that a relay forwards a packet.
	ForwardProbability float64

	// MeanDelay is the mean per hop delay in milliseconds.
	MeanDelay int

	// BootstrapInterval is the wait between directory pulls while a client
	// learns its peers, in milliseconds.
	BootstrapInterval int

	// MinAddressBook is the number of peers a client learns before its
	// first send.  It is capped to the number of other clients.
	MinAddressBook int

	// PayloadLength is the maximum encoded message length in bytes.
	PayloadLength int
}

func (mCfg *Mixing) applyDefaults() {
	if mCfg.NumHops == 0 {
		mCfg.NumHops = defaultNumHops
	}
	if mCfg.ForwardProbability == 0 {
		mCfg.ForwardProbability = defaultForwardProbability
	}
	if mCfg.MeanDelay == 0 {
		mCfg.MeanDelay = defaultMeanDelay
	}
	if mCfg.BootstrapInterval == 0 {
		mCfg.BootstrapInterval = defaultBootstrapInterval
	}
	if mCfg.MinAddressBook == 0 {
		mCfg.MinAddressBook = defaultMinAddressBook
	}
	if mCfg.PayloadLength == 0 {
		mCfg.PayloadLength = sphinx.DefaultUserPayloadLength
	}
}

func (mCfg *Mixing) validate() error {
	if mCfg.NumHops < 1 || mCfg.NumHops > sphinx.DefaultNrHops-1 {
		return fmt.Errorf("config: Mixing: NumHops %v is not in [1, %v]", mCfg.NumHops, sphinx.DefaultNrHops-1)
	}
	if mCfg.ForwardProbability < 0 || mCfg.ForwardProbability > 1 {
		return fmt.Errorf("config: Mixing: ForwardProbability %v is not a probability", mCfg.ForwardProbability)
	}
	if mCfg.MeanDelay < 0 {
		return fmt.Errorf("config: Mixing: MeanDelay %v is negative", mCfg.MeanDelay)
	}
	if mCfg.BootstrapInterval < 0 {
		return fmt.Errorf("config: Mixing: BootstrapInterval %v is negative", mCfg.BootstrapInterval)
	}
	if mCfg.MinAddressBook < 0 {
		return fmt.Errorf("config: Mixing: MinAddressBook %v is negative", mCfg.MinAddressBook)
	}
	if mCfg.PayloadLength < 0 {
		return fmt.Errorf("config: Mixing: PayloadLength %v is negative", mCfg.PayloadLength)
	}
	return nil
}

// Geometry returns the packet geometry for the configured payload length.
func (mCfg *Mixing) Geometry() *sphinx.Geometry {
	return sphinx.GeometryFromUserPayloadLength(mCfg.PayloadLength, sphinx.DefaultNrHops)
}

// Metrics is the Prometheus exposition configuration.
type Metrics struct {
	// Disable disables the metrics listener.
	Disable bool

	// Address is the address the /metrics endpoint listens on.
	Address string
}

// Client is the configuration of one client and the user driving it.
type Client struct {
	// ID is the client's identity.
	ID string

	// BufferSize is the depth of the client's request queue.
	BufferSize int

	// Peer is the client messages are sent to, by default the next client
	// in the list.
	Peer string

	// Body is the message text, by default a greeting to Peer.
	Body string

	// SendInterval is the wait between messages in milliseconds.
	SendInterval int

	// Silent clients relay but never send.
	Silent bool
}

func (cCfg *Client) validate() error {
	if cCfg.ID == "" {
		return errors.New("config: Client: ID is not set")
	}
	if err := identity.Validate(cCfg.ID); err != nil {
		return fmt.Errorf("config: Client: ID '%v' is invalid: %v", cCfg.ID, err)
	}
	if err := identity.Validate(cCfg.Peer); err != nil {
		return fmt.Errorf("config: Client '%v': Peer '%v' is invalid: %v", cCfg.ID, cCfg.Peer, err)
	}
	if cCfg.BufferSize < 0 {
		return fmt.Errorf("config: Client '%v': BufferSize %v is negative", cCfg.ID, cCfg.BufferSize)
	}
	if cCfg.SendInterval < 0 {
		return fmt.Errorf("config: Client '%v': SendInterval %v is negative", cCfg.ID, cCfg.SendInterval)
	}
	return nil
}

// Config is the top level minimix configuration.
type Config struct {
	Logging   *Logging
	Directory *Directory
	Server    *Server
	Transport *Transport
	Mixing    *Mixing
	Metrics   *Metrics

	Clients []*Client
}

// MeanDelay returns the configured mean per hop delay.
func (cfg *Config) MeanDelay() time.Duration {
	return time.Duration(cfg.Mixing.MeanDelay) * time.Millisecond
}

// BootstrapInterval returns the configured directory pull interval.
func (cfg *Config) BootstrapInterval() time.Duration {
	return time.Duration(cfg.Mixing.BootstrapInterval) * time.Millisecond
}

// FixupAndValidate applies defaults to config entries and validates the
// supplied configuration.  Most people should call one of the Load variants
// instead.
func (cfg *Config) FixupAndValidate() error {
	if len(cfg.Clients) == 0 {
		return errors.New("config: No Clients block was present")
	}
	if cfg.Logging == nil {
		l := defaultLogging
		cfg.Logging = &l
	}
	if cfg.Directory == nil {
		cfg.Directory = &Directory{}
	}
	if cfg.Server == nil {
		cfg.Server = &Server{}
	}
	if cfg.Transport == nil {
		cfg.Transport = &Transport{}
	}
	if cfg.Mixing == nil {
		cfg.Mixing = &Mixing{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = &Metrics{}
	}

	if err := cfg.Logging.validate(); err != nil {
		return err
	}
	for _, p := range []*int{&cfg.Directory.BufferSize, &cfg.Server.BufferSize, &cfg.Transport.BufferSize} {
		if *p < 0 {
			return fmt.Errorf("config: BufferSize %v is negative", *p)
		}
		if *p == 0 {
			*p = defaultBufferSize
		}
	}
	cfg.Mixing.applyDefaults()
	if err := cfg.Mixing.validate(); err != nil {
		return err
	}
	if cfg.Metrics.Address == "" {
		cfg.Metrics.Address = defaultMetricsAddress
	}

	seen := make(map[string]bool)
	for i, c := range cfg.Clients {
		if c == nil {
			return fmt.Errorf("config: Client %d is empty", i)
		}
		if seen[c.ID] {
			return fmt.Errorf("config: Client ID '%v' is not unique", c.ID)
		}
		seen[c.ID] = true

		if c.Peer == "" {
			c.Peer = cfg.Clients[(i+1)%len(cfg.Clients)].ID
		}
		if c.Body == "" {
			c.Body = fmt.Sprintf("Hello, %s!", c.Peer)
		}
		if c.BufferSize == 0 {
			c.BufferSize = defaultBufferSize
		}
		if c.SendInterval == 0 {
			c.SendInterval = defaultSendInterval
		}
		if err := c.validate(); err != nil {
			return err
		}
	}
	return nil
}

// ApplyEnv overrides section values with environment variables named
// PREFIX_SECTION_FIELD, eg: MINIMIX_SERVER_BUFFERSIZE.  An empty prefix
// selects DefaultEnvPrefix.  Clients can not be overridden.
func (cfg *Config) ApplyEnv(prefix string) error {
	if prefix == "" {
		prefix = DefaultEnvPrefix
	}

	v := reflect.ValueOf(cfg).Elem()
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if sf.Type.Kind() != reflect.Pointer || sf.Type.Elem().Kind() != reflect.Struct {
			continue
		}
		section, st := v.Field(i), sf.Type.Elem()
		for j := 0; j < st.NumField(); j++ {
			key := strings.ToUpper(prefix + "_" + sf.Name + "_" + st.Field(j).Name)
			s, ok := os.LookupEnv(key)
			if !ok {
				continue
			}
			if section.IsNil() {
				section.Set(reflect.New(st))
			}
			if err := setFromString(section.Elem().Field(j), s); err != nil {
				return fmt.Errorf("config: %v: %v", key, err)
			}
		}
	}
	return nil
}

func setFromString(f reflect.Value, s string) error {
	switch f.Kind() {
	case reflect.String:
		f.SetString(s)
	case reflect.Bool:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return err
		}
		f.SetBool(b)
	case reflect.Int:
		n, err := strconv.ParseInt(s, 10, 0)
		if err != nil {
			return err
		}
		f.SetInt(n)
	case reflect.Float64:
		x, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return err
		}
		f.SetFloat(x)
	default:
		return fmt.Errorf("unsupported field kind %v", f.Kind())
	}
	return nil
}

// Decode parses the provided buffer b as a config file body without
// applying defaults.
func Decode(b []byte) (*Config, error) {
	if b == nil {
		return nil, errors.New("No nil buffer as config file")
	}

	cfg := new(Config)
	md, err := toml.Decode(string(b), cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := md.Undecoded(); len(undecoded) != 0 {
		return nil, fmt.Errorf("config: Undecoded keys in config file: %v", undecoded)
	}
	return cfg, nil
}

// Load parses and validates the provided buffer b as a config file body and
// returns the Config.
func Load(b []byte) (*Config, error) {
	cfg, err := Decode(b)
	if err != nil {
		return nil, err
	}
	if err := cfg.FixupAndValidate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile loads, parses and validates the provided file, with the
// DefaultEnvPrefix environment overrides applied, and returns the Config.
func LoadFile(f string) (*Config, error) {
	return LoadFileWithEnv(f, "")
}

// LoadFileWithEnv loads and parses the provided file, overlays the
// environment variables carrying envPrefix, and validates the result.
func LoadFileWithEnv(f, envPrefix string) (*Config, error) {
	b, err := os.ReadFile(f)
	if err != nil {
		return nil, err
	}
	cfg, err := Decode(b)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(envPrefix); err != nil {
		return nil, err
	}
	if err := cfg.FixupAndValidate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
