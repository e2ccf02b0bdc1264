package export

import (
	"fmt"
	"net"
	"os/exec"
	"runtime"

	billy "github.com/go-git/go-billy/v5"
	nfs "github.com/willscott/go-nfs"
	nfshelper "github.com/willscott/go-nfs/helpers"
)

// Server exposes a unit content view over NFSv3 so launch documents and
// signed jars can be inspected, or served by a static web server, from a
// mount point.
type Server struct {
	listener net.Listener
	port     int
}

// NewServer serves fs, normally an export FS over the content repository,
// on addr. ":0" picks a free port. Requests are answered from a handle cache
// sized for a few thousand documents and artifacts.
func NewServer(fs billy.Filesystem, addr string) (*Server, error) {
	if addr == "" {
		addr = ":0"
	}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("nfs listen: %w", err)
	}
	port := listener.Addr().(*net.TCPAddr).Port

	handles := nfshelper.NewCachingHandler(nfshelper.NewNullAuthHandler(fs), 4096)
	go func() { _ = nfs.Serve(listener, handles) }()

	return &Server{listener: listener, port: port}, nil
}

// Port returns the port clients pass to Mount.
func (s *Server) Port() int {
	return s.port
}

// Close stops accepting requests. Mounted clients see I/O errors.
func (s *Server) Close() error {
	return s.listener.Close()
}

// Mount attaches the content view read-only at mountpoint with the system
// mount command. Requires sudo.
func Mount(port int, mountpoint string) error {
	var opts string
	switch runtime.GOOS {
	case "darwin":
		opts = fmt.Sprintf("port=%d,mountport=%d,vers=3,tcp,locallocks,noresvport,rdonly", port, port)
	case "linux":
		opts = fmt.Sprintf("port=%d,mountport=%d,vers=3,tcp,local_lock=all,nolock,ro", port, port)
	default:
		return fmt.Errorf("unsupported OS: %s", runtime.GOOS)
	}

	cmd := exec.Command("sudo", "mount", "-t", "nfs", "-o", opts, "localhost:/", mountpoint)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("mount failed: %w\n%s", err, string(output))
	}
	return nil
}

// Unmount detaches a content view mounted with Mount.
func Unmount(mountpoint string) error {
	if runtime.GOOS == "darwin" {
		// diskutil needs no sudo for user NFS mounts
		if err := exec.Command("diskutil", "unmount", mountpoint).Run(); err == nil {
			return nil
		}
	}
	output, err := exec.Command("sudo", "umount", mountpoint).CombinedOutput()
	if err != nil {
		return fmt.Errorf("unmount failed: %w\n%s", err, string(output))
	}
	return nil
}
