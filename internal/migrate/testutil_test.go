package migrate

import (
	"bufio"
	"fmt"
	"net"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bruceqiwang/incubator-kvrocks/internal/cluster/hash"
	"github.com/bruceqiwang/incubator-kvrocks/internal/db"
	"github.com/bruceqiwang/incubator-kvrocks/internal/storage"
)

// recorder is a scripted destination: it parses multi-bulk commands off the
// wire, remembers them, and answers +OK to each.
type recorder struct {
	ln net.Listener

	mu   sync.Mutex
	cmds [][]string
}

func newRecorder(t *testing.T) *recorder {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	r := &recorder{ln: ln}
	go r.serve()
	t.Cleanup(func() { ln.Close() })
	return r
}

func (r *recorder) addr() string { return r.ln.Addr().String() }

func (r *recorder) serve() {
	for {
		conn, err := r.ln.Accept()
		if err != nil {
			return
		}
		go r.handle(conn)
	}
}

func (r *recorder) handle(conn net.Conn) {
	defer conn.Close()
	br := bufio.NewReader(conn)
	for {
		args, err := readCommand(br)
		if err != nil {
			return
		}
		r.mu.Lock()
		r.cmds = append(r.cmds, args)
		r.mu.Unlock()
		if _, err := conn.Write([]byte("+OK\r\n")); err != nil {
			return
		}
	}
}

func (r *recorder) commands() [][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([][]string, len(r.cmds))
	copy(out, r.cmds)
	return out
}

func readCommand(br *bufio.Reader) ([]string, error) {
	header, err := readCRLF(br)
	if err != nil {
		return nil, err
	}
	if len(header) < 2 || header[0] != '*' {
		return nil, fmt.Errorf("bad command header %q", header)
	}
	argc, err := strconv.Atoi(header[1:])
	if err != nil {
		return nil, err
	}
	args := make([]string, 0, argc)
	for i := 0; i < argc; i++ {
		sizeLine, err := readCRLF(br)
		if err != nil {
			return nil, err
		}
		if len(sizeLine) < 2 || sizeLine[0] != '$' {
			return nil, fmt.Errorf("bad bulk header %q", sizeLine)
		}
		size, err := strconv.Atoi(sizeLine[1:])
		if err != nil {
			return nil, err
		}
		body := make([]byte, size+2)
		for read := 0; read < len(body); {
			n, err := br.Read(body[read:])
			if err != nil {
				return nil, err
			}
			read += n
		}
		args = append(args, string(body[:size]))
	}
	return args, nil
}

func readCRLF(br *bufio.Reader) (string, error) {
	line, err := br.ReadString('\n')
	if err != nil {
		return "", err
	}
	if len(line) < 2 {
		return "", fmt.Errorf("short line %q", line)
	}
	return line[:len(line)-2], nil
}

// dialSink opens a sink against the recorder with pacing disabled.
func dialSink(t *testing.T, rec *recorder, maxPipeline int, canceled func() bool) *sink {
	t.Helper()
	conn, err := net.Dial("tcp", rec.addr())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return newSink(conn, maxPipeline, 0, canceled)
}

func openTestStore(t *testing.T) *storage.Storage {
	t.Helper()
	store, err := storage.Open(storage.Options{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func openTestDB(t *testing.T) (*storage.Storage, *db.DB) {
	t.Helper()
	store := openTestStore(t)
	return store, db.New(store, storage.DefaultNamespace, nil)
}

// keyInSlot returns a printable key hashing to the given slot.
func keyInSlot(t *testing.T, slot uint16) []byte {
	t.Helper()
	for i := 0; i < 1_000_000; i++ {
		k := "k" + strconv.Itoa(i)
		if hash.KeySlot(k) == slot {
			return []byte(k)
		}
	}
	t.Fatalf("no key found for slot %d", slot)
	return nil
}
