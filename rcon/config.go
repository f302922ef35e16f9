package rcon

import (
	"net"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

const (
	DefaultPort     = 25575
	DefaultGamePort = 25565
)

var ErrUnknownServer = errors.New("unknown server")

// Config is loaded once at startup and handed to whatever needs it.
type Config struct {
	DefaultServer string             `mapstructure:"default_server"`
	Timeout       time.Duration      `mapstructure:"timeout"`
	Quirks        bool               `mapstructure:"quirks"`
	LogLevel      string             `mapstructure:"log_level"`
	Servers       map[string]*Server `mapstructure:"servers"`
}

// Server describes one Minecraft instance.
type Server struct {
	Name     string `mapstructure:"name"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	GamePort int    `mapstructure:"game_port"`
	Password string `mapstructure:"password"`
	PanelID  string `mapstructure:"panel_id"`
	// Operator servers also grant op on whitelist add.
	Operator bool `mapstructure:"operator"`
}

// Address is the host:port of the RCON listener.
func (s *Server) Address() string {
	if _, _, err := net.SplitHostPort(s.Host); err == nil {
		return s.Host
	}
	port := s.Port
	if port == 0 {
		port = DefaultPort
	}
	return net.JoinHostPort(s.Host, strconv.Itoa(port))
}

// GameHost splits the game (server list ping) endpoint.
func (s *Server) GameHost() (string, int) {
	host := s.Host
	if h, _, err := net.SplitHostPort(s.Host); err == nil {
		host = h
	}
	port := s.GamePort
	if port == 0 {
		port = DefaultGamePort
	}
	return host, port
}

func (s *Server) String() string {
	return s.Name
}

// Options builds connection options from the config.
func (c *Config) Options() Options {
	return Options{Timeout: c.Timeout, Quirks: c.Quirks}
}

// Server looks up a server by name, falling back to DefaultServer for an
// empty name.
func (c *Config) Server(name string) (*Server, error) {
	if name == "" {
		name = c.DefaultServer
	}
	s, ok := c.Servers[name]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownServer, "%q", name)
	}
	return s, nil
}

// ServerList returns every configured server ordered by name.
func (c *Config) ServerList() []*Server {
	servers := make([]*Server, 0, len(c.Servers))
	for _, s := range c.Servers {
		servers = append(servers, s)
	}
	sort.Slice(servers, func(i, j int) bool {
		return servers[i].Name < servers[j].Name
	})
	return servers
}

// ReadConfig reads in config file and ENV variables if set.
func ReadConfig(cfgFile string) (*Config, error) {
	v := viper.New()
	// Find home directory.
	home, _ := homedir.Dir()
	v.AddConfigPath(home)
	v.AddConfigPath(".")
	v.AddConfigPath("../")
	v.SetConfigName("mcrcon")
	if os.Getenv("MCRCON_CONFIG") != "" {
		v.SetConfigFile(os.Getenv("MCRCON_CONFIG"))
	} else if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	}
	v.SetEnvPrefix("mcrcon")
	v.AutomaticEnv() // read in environment variables that match
	v.SetDefault("timeout", DefaultTimeout)
	v.SetDefault("quirks", true)
	v.SetDefault("log_level", "info")

	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "Failed to read config")
	}
	log.Debugf("Using config file: %s", v.ConfigFileUsed())
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrapf(err, "Failed to parse config")
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) normalize() error {
	for name, server := range c.Servers {
		if server == nil {
			return errors.Errorf("server %q has no settings", name)
		}
		server.Name = name
		if server.Host == "" {
			return errors.Errorf("server %q has no host", name)
		}
		if _, err := ParseAddress(server.Address()); err != nil {
			return errors.Wrapf(err, "server %q", name)
		}
	}
	if c.DefaultServer != "" {
		if _, ok := c.Servers[c.DefaultServer]; !ok {
			return errors.Wrapf(ErrUnknownServer, "default_server %q", c.DefaultServer)
		}
	}
	return nil
}
