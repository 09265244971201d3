package connector

import (
	"context"
	"net"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/crypto/ssh"

	"github.com/mensylisir/remotexec/pkg/logger"
)

// dialSSHFunc opens the client for cfg and, when a bastion is configured,
// the bastion client it runs through.
type dialSSHFunc func(ctx context.Context, cfg SSHConfig, log *logger.Logger) (client *ssh.Client, bastion *ssh.Client, err error)

// currentDialer is replaced in tests.
var currentDialer dialSSHFunc = dialSSH

func clientConfig(cfg SSHConfig, log *logger.Logger) (*ssh.ClientConfig, error) {
	auth, err := buildAuthMethods(cfg)
	if err != nil {
		return nil, &ConnectionError{Host: cfg.Host, Err: errors.Wrap(err, "auth error")}
	}
	cb, err := hostKeyCallback(cfg, log)
	if err != nil {
		return nil, &ConnectionError{Host: cfg.Host, Err: err}
	}
	return &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            auth,
		HostKeyCallback: cb,
		Timeout:         cfg.timeout(),
	}, nil
}

func dialSSH(ctx context.Context, cfg SSHConfig, log *logger.Logger) (*ssh.Client, *ssh.Client, error) {
	targetCfg, err := clientConfig(cfg, log)
	if err != nil {
		return nil, nil, err
	}

	if cfg.Bastion != nil {
		return dialViaBastion(ctx, cfg, targetCfg, log)
	}

	d := net.Dialer{Timeout: cfg.timeout()}
	conn, err := d.DialContext(ctx, "tcp", cfg.Addr())
	if err != nil {
		return nil, nil, &ConnectionError{Host: cfg.Host, Err: errors.Wrap(err, "direct dial failed")}
	}
	client, err := handshake(ctx, conn, cfg.Addr(), targetCfg)
	if err != nil {
		return nil, nil, &ConnectionError{Host: cfg.Host, Err: errors.Wrap(err, "SSH handshake failed")}
	}
	return client, nil, nil
}

func dialViaBastion(ctx context.Context, cfg SSHConfig, targetCfg *ssh.ClientConfig, log *logger.Logger) (*ssh.Client, *ssh.Client, error) {
	bastionCfg := *cfg.Bastion
	bastionCfg.Bastion = nil
	bastionClient, _, err := dialSSH(ctx, bastionCfg, log)
	if err != nil {
		return nil, nil, err
	}

	conn, err := bastionClient.Dial("tcp", cfg.Addr())
	if err != nil {
		bastionClient.Close()
		return nil, nil, &ConnectionError{Host: cfg.Host, Err: errors.Wrap(err, "dial target via bastion failed")}
	}
	client, err := handshake(ctx, conn, cfg.Addr(), targetCfg)
	if err != nil {
		bastionClient.Close()
		return nil, nil, &ConnectionError{Host: cfg.Host, Err: errors.Wrap(err, "SSH handshake to target via bastion failed")}
	}
	return client, bastionClient, nil
}

// handshake runs the SSH handshake on conn, bounded by the client timeout and
// ctx.
func handshake(ctx context.Context, conn net.Conn, addr string, cc *ssh.ClientConfig) (*ssh.Client, error) {
	deadline := time.Now().Add(cc.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetDeadline(deadline)

	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Unix(1, 0)) })
	ncc, chans, reqs, err := ssh.NewClientConn(conn, addr, cc)
	stopped := stop()
	if err != nil {
		conn.Close()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	if !stopped {
		ncc.Close()
		return nil, ctx.Err()
	}
	_ = conn.SetDeadline(time.Time{})
	return ssh.NewClient(ncc, chans, reqs), nil
}
