package connector

import (
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/mensylisir/remotexec/pkg/common"
	"github.com/mensylisir/remotexec/pkg/logger"
)

// SSHConfig holds everything needed to open an authenticated SSH session.
type SSHConfig struct {
	Host string
	Port int
	// AuthType is common.AuthTypeCredentials or common.AuthTypePublicKey.
	// When empty it is inferred from the fields that are set.
	AuthType       string
	User           string
	Password       string
	PrivateKey     []byte
	PrivateKeyPath string
	Passphrase     string
	// KnownHostsPath defaults to ~/.ssh/known_hosts.
	KnownHostsPath string
	// InsecureIgnoreHostKey skips host key verification. A warning is logged.
	InsecureIgnoreHostKey bool
	// HostKeyCallback takes precedence over the known hosts file.
	HostKeyCallback ssh.HostKeyCallback
	Timeout         time.Duration
	// Bastion is an optional jump host the session is tunnelled through.
	Bastion *SSHConfig
}

// Addr returns host:port, applying the default SSH port.
func (c SSHConfig) Addr() string {
	port := c.Port
	if port == 0 {
		port = common.DefaultSSHPort
	}
	return net.JoinHostPort(c.Host, strconv.Itoa(port))
}

func (c SSHConfig) timeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return common.DefaultConnectionTimeout
}

func (c SSHConfig) authType() string {
	if c.AuthType != "" {
		return c.AuthType
	}
	if len(c.PrivateKey) > 0 || c.PrivateKeyPath != "" {
		return common.AuthTypePublicKey
	}
	return common.AuthTypeCredentials
}

// Validate reports missing host, user or credentials as configuration errors.
func (c SSHConfig) Validate() error {
	if c.Host == "" {
		return common.ConfigurationError("validate ssh config", "host is required")
	}
	if c.Port < 0 || c.Port > 65535 {
		return common.ConfigurationError("validate ssh config", "invalid port %d for host %s", c.Port, c.Host)
	}
	if c.User == "" {
		return common.ConfigurationError("validate ssh config", "user is required for host %s", c.Host)
	}
	switch c.authType() {
	case common.AuthTypeCredentials:
		if c.Password == "" {
			return common.ConfigurationError("validate ssh config", "password is required for credentials authentication on host %s", c.Host)
		}
	case common.AuthTypePublicKey:
		if len(c.PrivateKey) == 0 && c.PrivateKeyPath == "" {
			return common.ConfigurationError("validate ssh config", "private key is required for public key authentication on host %s", c.Host)
		}
	default:
		return common.ConfigurationError("validate ssh config", "unknown authentication type %q", c.AuthType)
	}
	if c.Bastion != nil {
		if err := c.Bastion.Validate(); err != nil {
			return errors.Wrap(err, "bastion")
		}
	}
	return nil
}

func buildAuthMethods(cfg SSHConfig) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod

	if cfg.authType() == common.AuthTypePublicKey {
		key := cfg.PrivateKey
		if len(key) == 0 {
			path, err := expandHome(cfg.PrivateKeyPath)
			if err != nil {
				return nil, err
			}
			key, err = os.ReadFile(path)
			if err != nil {
				return nil, errors.Wrapf(err, "failed to read private key file %s", path)
			}
		}
		var signer ssh.Signer
		var err error
		if cfg.Passphrase != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase(key, []byte(cfg.Passphrase))
		} else {
			signer, err = ssh.ParsePrivateKey(key)
		}
		if err != nil {
			return nil, errors.Wrap(err, "failed to parse private key")
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}

	if cfg.Password != "" {
		methods = append(methods, ssh.Password(cfg.Password))
	}

	if len(methods) == 0 {
		return nil, errors.Errorf("no SSH authentication method provided (password or private key required for host %s)", cfg.Host)
	}
	return methods, nil
}

func hostKeyCallback(cfg SSHConfig, log *logger.Logger) (ssh.HostKeyCallback, error) {
	if cfg.HostKeyCallback != nil {
		return cfg.HostKeyCallback, nil
	}
	if cfg.InsecureIgnoreHostKey {
		log.Warnf("Strict host key checking is disabled for %s, the host key will not be verified", cfg.Host)
		return ssh.InsecureIgnoreHostKey(), nil
	}
	path := cfg.KnownHostsPath
	if path == "" {
		path = filepath.Join("~", common.DefaultKnownHostsFile)
	}
	path, err := expandHome(path)
	if err != nil {
		return nil, err
	}
	cb, err := knownhosts.New(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load known hosts from %s", path)
	}
	return cb, nil
}

func expandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrap(err, "failed to resolve home directory")
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}
