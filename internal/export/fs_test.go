package export

import (
	"fmt"
	"io"
	"net"
	"os"
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/ohler55/ojg/jp"
	"github.com/ohler55/ojg/oj"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-research/launchpad/internal/content"
	"github.com/agentic-research/launchpad/internal/repository"
)

func newTestRepo(t *testing.T) *repository.Repository {
	t.Helper()
	artifacts := memfs.New()
	require.NoError(t, util.WriteFile(artifacts, "lib/app.jar", []byte("PK-app"), 0o644))

	repo := repository.New()
	main := content.NewDynamic(`<jnlp codebase="${request.codebase}"/>`, "", true)
	jar := content.NewStatic(artifacts, "lib/app.jar", "", true)
	hidden := content.NewDynamic("<jnlp/>", "", false)
	main.Start()
	jar.Start()
	hidden.Start()
	hidden.Suspend()

	require.NoError(t, repo.Register("shop", "/shop-client", main))
	require.NoError(t, repo.Register("shop", "/shop-client/main.jnlp", main))
	require.NoError(t, repo.Register("shop", "/shop-client/lib/app.jar", jar))
	require.NoError(t, repo.Register("shop", "/shop-client/client.jnlp", hidden))
	return repo
}

func newTestFS(t *testing.T) *FS {
	return New(newTestRepo(t), WithCodebase(BaseURL("http://example.com/")))
}

func names(infos []os.FileInfo) []string {
	out := make([]string, len(infos))
	for i, fi := range infos {
		out[i] = fi.Name()
	}
	return out
}

func TestStatRoot(t *testing.T) {
	info, err := newTestFS(t).Stat("/")
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestBareContextRootIsDirectory(t *testing.T) {
	info, err := newTestFS(t).Stat("/shop-client")
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.Equal(t, "shop-client", info.Name())
}

func TestReadDir_OnlyServable(t *testing.T) {
	fs := newTestFS(t)

	root, err := fs.ReadDir("/")
	require.NoError(t, err)
	assert.Equal(t, []string{IndexFile, "shop-client"}, names(root))

	entries, err := fs.ReadDir("/shop-client")
	require.NoError(t, err)
	assert.Equal(t, []string{"lib", "main.jnlp"}, names(entries))

	_, err = fs.ReadDir("/shop-client/main.jnlp")
	assert.Error(t, err)
	_, err = fs.ReadDir("/nope")
	assert.True(t, os.IsNotExist(err))
}

func TestOpen_RendersWithCodebase(t *testing.T) {
	fs := newTestFS(t)
	f, err := fs.Open("/shop-client/main.jnlp")
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	data, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, `<jnlp codebase="http://example.com/shop-client"/>`, string(data))

	info, err := fs.Stat("/shop-client/main.jnlp")
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), info.Size())
}

func TestOpen_Static(t *testing.T) {
	fs := newTestFS(t)
	f, err := fs.Open("shop-client/lib/app.jar")
	require.NoError(t, err)

	buf := make([]byte, 3)
	n, _ := f.ReadAt(buf, 3)
	assert.Equal(t, "app", string(buf[:n]))

	pos, err := f.Seek(-3, io.SeekEnd)
	require.NoError(t, err)
	assert.Equal(t, int64(3), pos)
}

func TestOpen_SuspendedIsHidden(t *testing.T) {
	_, err := newTestFS(t).Open("/shop-client/client.jnlp")
	assert.True(t, os.IsNotExist(err))
}

func TestIndexFile(t *testing.T) {
	f, err := newTestFS(t).Open("/" + IndexFile)
	require.NoError(t, err)
	data, err := io.ReadAll(f)
	require.NoError(t, err)

	doc, err := oj.Parse(data)
	require.NoError(t, err)
	keys := jp.MustParseString("$[*].key").Get(doc)
	assert.Equal(t, []any{"/shop-client/lib/app.jar", "/shop-client/main.jnlp"}, keys)
}

func TestReadOnly(t *testing.T) {
	fs := newTestFS(t)
	_, err := fs.Create("x")
	assert.Equal(t, errReadOnly, err)
	_, err = fs.OpenFile("/shop-client/main.jnlp", os.O_RDWR, 0)
	assert.Equal(t, errReadOnly, err)
	assert.Equal(t, errReadOnly, fs.MkdirAll("/d", 0o755))
	assert.Equal(t, errReadOnly, fs.Remove("/shop-client/main.jnlp"))
	assert.Equal(t, errReadOnly, fs.Rename("/a", "/b"))

	caps := fs.Capabilities()
	assert.Zero(t, caps&1) // WriteCapability
}

func TestNFSServerStarts(t *testing.T) {
	srv, err := NewServer(newTestFS(t), "")
	require.NoError(t, err)
	defer func() { _ = srv.Close() }()

	assert.True(t, srv.Port() > 0)
	conn, err := net.Dial("tcp", fmt.Sprintf("localhost:%d", srv.Port()))
	require.NoError(t, err)
	_ = conn.Close()
}
