package connector

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"

	scp "github.com/bramvdbogaerde/go-scp"
	"github.com/pkg/errors"
	"github.com/pkg/sftp"
)

// CopyFile uploads localPath into remoteDir as remoteName with the scp
// protocol.
func (s *SSHSession) CopyFile(ctx context.Context, localPath, remoteDir, remoteName string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return errors.Wrapf(err, "failed to open %s", localPath)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return errors.Wrapf(err, "failed to stat %s", localPath)
	}

	client, err := scp.NewClientBySSH(s.client)
	if err != nil {
		return &ConnectionError{Host: s.cfg.Host, Err: errors.Wrap(err, "failed to create scp client")}
	}
	// Only the spare session is released: client.Close would take the shared
	// SSH connection down with it.
	defer func() {
		if client.Session != nil {
			_ = client.Session.Close()
		}
	}()
	target := path.Join(remoteDir, remoteName)
	if err := client.CopyFromFile(ctx, *f, target, fmt.Sprintf("%04o", info.Mode().Perm())); err != nil {
		return &ConnectionError{Host: s.cfg.Host, Err: errors.Wrapf(err, "scp of %s to %s failed", localPath, target)}
	}
	s.log.Debugf("Copied %s to %s", localPath, target)
	return nil
}

// CopyFileSFTP uploads localPath into remoteDir as remoteName over the sftp
// subsystem.
func (s *SSHSession) CopyFileSFTP(ctx context.Context, localPath, remoteDir, remoteName string) error {
	src, err := os.Open(localPath)
	if err != nil {
		return errors.Wrapf(err, "failed to open %s", localPath)
	}
	defer src.Close()

	client, err := sftp.NewClient(s.client)
	if err != nil {
		return &ConnectionError{Host: s.cfg.Host, Err: errors.Wrap(err, "failed to start sftp subsystem")}
	}
	defer client.Close()
	stop := context.AfterFunc(ctx, func() { client.Close() })
	defer stop()

	target := path.Join(remoteDir, remoteName)
	dst, err := client.Create(target)
	if err != nil {
		return errors.Wrapf(err, "failed to create remote file %s", target)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return errors.Wrapf(err, "failed to upload %s to %s", localPath, target)
	}
	if err := dst.Close(); err != nil {
		return errors.Wrapf(err, "failed to finish upload of %s", target)
	}
	s.log.Debugf("Copied %s to %s over sftp", localPath, target)
	return nil
}
