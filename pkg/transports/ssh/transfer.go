package ssh

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog/log"
)

// sftpClient returns the shared SFTP session, opening it on first use.
func (c *Client) sftpClient() (*sftp.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client == nil {
		return nil, &TransportError{Op: "sftp-init", Err: fmt.Errorf("not connected")}
	}
	if c.sftp != nil {
		return c.sftp, nil
	}
	s, err := sftp.NewClient(c.client)
	if err != nil {
		return nil, &TransportError{
			Op:          "sftp-init",
			Err:         fmt.Errorf("failed to create SFTP client: %w", err),
			IsTemporary: true,
		}
	}
	c.sftp = s
	return s, nil
}

// WriteFile writes data to remotePath, creating parent directories.
func (c *Client) WriteFile(ctx context.Context, remotePath string, data []byte, mode os.FileMode) error {
	return c.upload(ctx, bytes.NewReader(data), remotePath, mode)
}

// UploadFile copies a local file to remotePath.
func (c *Client) UploadFile(ctx context.Context, localPath, remotePath string, mode os.FileMode) error {
	f, err := os.Open(localPath)
	if err != nil {
		return &TransportError{Op: "upload", Err: fmt.Errorf("failed to open local file: %w", err)}
	}
	defer f.Close()
	return c.upload(ctx, f, remotePath, mode)
}

func (c *Client) upload(ctx context.Context, src io.Reader, remotePath string, mode os.FileMode) error {
	s, err := c.sftpClient()
	if err != nil {
		return err
	}

	if err := s.MkdirAll(path.Dir(remotePath)); err != nil {
		return &TransportError{Op: "upload", Err: fmt.Errorf("failed to create remote directory: %w", err)}
	}
	dst, err := s.Create(remotePath)
	if err != nil {
		return &TransportError{Op: "upload", Err: fmt.Errorf("failed to create remote file: %w", err), IsTemporary: true}
	}
	defer dst.Close()

	n, err := copyWithContext(ctx, dst, src)
	if err != nil {
		return &TransportError{Op: "upload", Err: fmt.Errorf("failed to copy file: %w", err), IsTemporary: true}
	}
	if mode != 0 {
		if err := s.Chmod(remotePath, mode); err != nil {
			log.Warn().Err(err).Str("remote", remotePath).Msg("failed to set file permissions")
		}
	}

	log.Debug().Str("remote", remotePath).Int64("bytes", n).Msg("file uploaded")
	return nil
}

// ReadFile returns the content of remotePath.
func (c *Client) ReadFile(ctx context.Context, remotePath string) ([]byte, error) {
	s, err := c.sftpClient()
	if err != nil {
		return nil, err
	}
	f, err := s.Open(remotePath)
	if err != nil {
		return nil, &TransportError{Op: "download", Err: err}
	}
	defer f.Close()

	var buf bytes.Buffer
	if _, err := copyWithContext(ctx, &buf, f); err != nil {
		return nil, &TransportError{Op: "download", Err: err, IsTemporary: true}
	}
	return buf.Bytes(), nil
}

// Glob returns the remote paths matching pattern.
func (c *Client) Glob(pattern string) ([]string, error) {
	s, err := c.sftpClient()
	if err != nil {
		return nil, err
	}
	return s.Glob(pattern)
}

// MkdirAll creates a remote directory and its parents.
func (c *Client) MkdirAll(dir string) error {
	s, err := c.sftpClient()
	if err != nil {
		return err
	}
	return s.MkdirAll(dir)
}

// copyWithContext copies src to dst, checking ctx between chunks.
func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, 32*1024)
	var written int64

	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}

		nr, err := src.Read(buf)
		if nr > 0 {
			nw, werr := dst.Write(buf[:nr])
			written += int64(nw)
			if werr != nil {
				return written, werr
			}
			if nr != nw {
				return written, io.ErrShortWrite
			}
		}
		if err == io.EOF {
			return written, nil
		}
		if err != nil {
			return written, err
		}
	}
}
