// Package fetch downloads remote dataset archives (shapefile ZIPs and
// friends) over FTP and HTTP, and reads the YAML manifest describing them.
package fetch

import (
	"context"
	"io"
	"net"
	"net/url"
	"os"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// FTPOptions configures the FTP fetcher.
type FTPOptions struct {
	Timeout  time.Duration // dial timeout, default 30s
	User     string        // default "anonymous"
	Password string        // default "anonymous@"
}

// FTPFetcher downloads files from FTP servers such as the Census TIGER host.
type FTPFetcher struct {
	opts FTPOptions
}

// NewFTPFetcher creates an FTPFetcher with the given options.
func NewFTPFetcher(opts FTPOptions) *FTPFetcher {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.User == "" {
		opts.User = "anonymous"
		opts.Password = "anonymous@"
	}
	return &FTPFetcher{opts: opts}
}

// Download connects, retrieves the file at the FTP URL, and returns a
// reader. Closing the reader releases both the transfer and the connection.
func (f *FTPFetcher) Download(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	host, path, err := splitFTPURL(rawURL)
	if err != nil {
		return nil, err
	}

	zap.L().Debug("fetch: ftp connect", zap.String("host", host), zap.String("path", path))

	conn, err := ftp.Dial(host, ftp.DialWithTimeout(f.opts.Timeout), ftp.DialWithContext(ctx))
	if err != nil {
		return nil, eris.Wrap(err, "fetch: ftp dial")
	}
	if err := conn.Login(f.opts.User, f.opts.Password); err != nil {
		_ = conn.Quit()
		return nil, eris.Wrap(err, "fetch: ftp login")
	}

	resp, err := conn.Retr(path)
	if err != nil {
		_ = conn.Quit()
		return nil, eris.Wrapf(err, "fetch: ftp retrieve %s", path)
	}
	return &ftpTransfer{resp: resp, conn: conn}, nil
}

// DownloadToFile downloads the FTP URL to a local file and returns the
// number of bytes written.
func (f *FTPFetcher) DownloadToFile(ctx context.Context, rawURL, dest string) (int64, error) {
	rc, err := f.Download(ctx, rawURL)
	if err != nil {
		return 0, err
	}
	defer func() { _ = rc.Close() }()

	return writeToFile(rc, dest)
}

// splitFTPURL extracts host:port and path from an FTP URL, defaulting to
// port 21.
func splitFTPURL(rawURL string) (host, path string, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", eris.Wrap(err, "fetch: parse ftp url")
	}
	if u.Scheme != "ftp" {
		return "", "", eris.Errorf("fetch: expected ftp scheme, got %q", u.Scheme)
	}
	if u.Path == "" {
		return "", "", eris.New("fetch: empty path in ftp url")
	}

	host = u.Host
	if _, _, splitErr := net.SplitHostPort(host); splitErr != nil {
		host = net.JoinHostPort(host, "21")
	}
	return host, u.Path, nil
}

// ftpTransfer ties the FTP response to its connection so closing the reader
// also disconnects.
type ftpTransfer struct {
	resp *ftp.Response
	conn *ftp.ServerConn
}

func (t *ftpTransfer) Read(p []byte) (int, error) {
	return t.resp.Read(p)
}

func (t *ftpTransfer) Close() error {
	respErr := t.resp.Close()
	quitErr := t.conn.Quit()
	if respErr != nil {
		return eris.Wrap(respErr, "fetch: close ftp transfer")
	}
	if quitErr != nil {
		return eris.Wrap(quitErr, "fetch: quit ftp connection")
	}
	return nil
}

// writeToFile copies a stream to a local file.
func writeToFile(r io.Reader, dest string) (int64, error) {
	file, err := os.Create(dest)
	if err != nil {
		return 0, eris.Wrapf(err, "fetch: create %s", dest)
	}
	defer func() { _ = file.Close() }()

	n, err := io.Copy(file, r)
	if err != nil {
		return n, eris.Wrapf(err, "fetch: write %s", dest)
	}
	return n, nil
}
