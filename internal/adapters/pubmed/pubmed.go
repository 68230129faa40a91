// Package pubmed uploads deposit documents to PubMed's SFTP drop box.
// golang.org/x/crypto/ssh and github.com/pkg/sftp are the SFTP client
// libraries used, wired behind the same streaming-upload idiom used for
// object-store uploads elsewhere (io.Copy against an opened remote handle).
package pubmed

import (
	"fmt"
	"io"
	"path"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

type Client struct {
	addr       string
	user       string
	password   string
	remoteDir  string
	sshClient  *ssh.Client
	sftpClient *sftp.Client
}

func NewClient(addr, user, password, remoteDir string) *Client {
	return &Client{addr: addr, user: user, password: password, remoteDir: remoteDir}
}

// Connect dials the SFTP server. It must be called before Upload and
// Close'd when the caller is done.
func (c *Client) Connect() error {
	config := &ssh.ClientConfig{
		User:            c.user,
		Auth:            []ssh.AuthMethod{ssh.Password(c.password)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         30 * time.Second,
	}

	sshClient, err := ssh.Dial("tcp", c.addr, config)
	if err != nil {
		return fmt.Errorf("pubmed: ssh dial: %w", err)
	}

	sftpClient, err := sftp.NewClient(sshClient)
	if err != nil {
		sshClient.Close()
		return fmt.Errorf("pubmed: sftp client: %w", err)
	}

	c.sshClient = sshClient
	c.sftpClient = sftpClient
	return nil
}

func (c *Client) Close() error {
	var errs []error
	if c.sftpClient != nil {
		if err := c.sftpClient.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if c.sshClient != nil {
		if err := c.sshClient.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("pubmed: close: %v", errs)
	}
	return nil
}

// Upload writes body to remoteDir/fileName, creating remoteDir first if it
// does not yet exist.
func (c *Client) Upload(fileName string, body io.Reader) error {
	if err := c.sftpClient.MkdirAll(c.remoteDir); err != nil {
		return fmt.Errorf("pubmed: mkdir %s: %w", c.remoteDir, err)
	}

	remotePath := path.Join(c.remoteDir, fileName)
	remoteFile, err := c.sftpClient.Create(remotePath)
	if err != nil {
		return fmt.Errorf("pubmed: create %s: %w", remotePath, err)
	}
	defer remoteFile.Close()

	if _, err := io.Copy(remoteFile, body); err != nil {
		return fmt.Errorf("pubmed: upload %s: %w", remotePath, err)
	}
	return nil
}
