package protocol_test

import (
	"bufio"
	"fmt"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bruceqiwang/incubator-kvrocks/internal/cluster"
	"github.com/bruceqiwang/incubator-kvrocks/internal/cluster/hash"
	"github.com/bruceqiwang/incubator-kvrocks/internal/db"
	"github.com/bruceqiwang/incubator-kvrocks/internal/migrate"
	"github.com/bruceqiwang/incubator-kvrocks/internal/protocol"
	"github.com/bruceqiwang/incubator-kvrocks/internal/storage"
)

type testNode struct {
	store    *storage.Storage
	db       *db.DB
	topology *cluster.Topology
	migrator *migrate.Migrator
	server   *protocol.Server
}

func startNode(t *testing.T, requirePass string) *testNode {
	t.Helper()
	store, err := storage.Open(storage.Options{InMemory: true})
	require.NoError(t, err)
	database := db.New(store, storage.DefaultNamespace, nil)
	topo, err := cluster.Open(t.TempDir(), "node-a", nil)
	require.NoError(t, err)
	migrator := migrate.NewMigrator(store, storage.DefaultNamespace, migrate.Config{}, nil)

	handler := protocol.NewHandler(database, migrator, topo, requirePass, nil)
	server := protocol.NewServer("127.0.0.1:0", handler, nil)
	go server.Start()
	require.Eventually(t, func() bool {
		return server.Addr() != "127.0.0.1:0"
	}, time.Second, 5*time.Millisecond)

	t.Cleanup(func() {
		server.Stop()
		migrator.Close()
		topo.Close()
		store.Close()
	})
	return &testNode{store: store, db: database, topology: topo, migrator: migrator, server: server}
}

// client is a minimal blocking RESP client for exercising the server.
type client struct {
	conn net.Conn
	br   *bufio.Reader
}

func dialNode(t *testing.T, n *testNode) *client {
	t.Helper()
	conn, err := net.Dial("tcp", n.server.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &client{conn: conn, br: bufio.NewReader(conn)}
}

func (c *client) do(t *testing.T, args ...string) string {
	t.Helper()
	buf := []byte("*" + strconv.Itoa(len(args)) + "\r\n")
	for _, a := range args {
		buf = append(buf, '$')
		buf = strconv.AppendInt(buf, int64(len(a)), 10)
		buf = append(buf, "\r\n"...)
		buf = append(buf, a...)
		buf = append(buf, "\r\n"...)
	}
	_, err := c.conn.Write(buf)
	require.NoError(t, err)
	return c.read(t)
}

func (c *client) read(t *testing.T) string {
	t.Helper()
	require.NoError(t, c.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	line, err := c.br.ReadString('\n')
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(line), 2)
	line = line[:len(line)-2]
	switch line[0] {
	case '+', '-', ':':
		return line
	case '$':
		n, err := strconv.Atoi(line[1:])
		require.NoError(t, err)
		if n < 0 {
			return "(nil)"
		}
		body := make([]byte, n+2)
		for read := 0; read < len(body); {
			m, err := c.br.Read(body[read:])
			require.NoError(t, err)
			read += m
		}
		return string(body[:n])
	default:
		t.Fatalf("unexpected reply %q", line)
		return ""
	}
}

func TestServerDataCommands(t *testing.T) {
	n := startNode(t, "")
	c := dialNode(t, n)

	require.Equal(t, "+PONG", c.do(t, "PING"))
	require.Equal(t, "+OK", c.do(t, "SET", "k", "v"))
	require.Equal(t, "v", c.do(t, "GET", "k"))
	require.Equal(t, "(nil)", c.do(t, "GET", "missing"))
	require.Equal(t, ":1", c.do(t, "EXISTS", "k"))
	require.Equal(t, "+string", c.do(t, "TYPE", "k"))
	require.Equal(t, ":1", c.do(t, "DEL", "k"))
	require.Equal(t, ":0", c.do(t, "EXISTS", "k"))

	require.Equal(t, ":2", c.do(t, "HSET", "h", "f1", "v1", "f2", "v2"))
	require.Equal(t, "v1", c.do(t, "HGET", "h", "f1"))
	require.Equal(t, "+OK", c.do(t, "HMSET", "h", "f3", "v3"))
	require.Equal(t, ":1", c.do(t, "HDEL", "h", "f3"))

	require.Equal(t, ":2", c.do(t, "RPUSH", "l", "a", "b"))
	require.Equal(t, ":3", c.do(t, "LPUSH", "l", "z"))
	require.Equal(t, ":3", c.do(t, "LLEN", "l"))
	require.Equal(t, "z", c.do(t, "LINDEX", "l", "0"))
	require.Equal(t, "z", c.do(t, "LPOP", "l"))
	require.Equal(t, "b", c.do(t, "RPOP", "l"))

	require.Equal(t, ":1", c.do(t, "ZADD", "z", "1.5", "m"))
	require.Equal(t, "1.5", c.do(t, "ZSCORE", "z", "m"))
	require.Equal(t, ":1", c.do(t, "ZREM", "z", "m"))

	require.Equal(t, ":2", c.do(t, "SADD", "s", "a", "b"))
	require.Equal(t, ":1", c.do(t, "SISMEMBER", "s", "a"))
	require.Equal(t, ":1", c.do(t, "SREM", "s", "b"))

	require.Equal(t, ":0", c.do(t, "SETBIT", "bits", "9", "1"))
	require.Equal(t, ":1", c.do(t, "GETBIT", "bits", "9"))

	require.Equal(t, ":2", c.do(t, "SIADD", "ids", "3", "5"))
	require.Equal(t, ":1", c.do(t, "SIEXISTS", "ids", "5"))
	require.Equal(t, ":1", c.do(t, "SIREM", "ids", "3"))

	require.Equal(t, "5-1", c.do(t, "XADD", "st", "5-1", "f", "v"))
	require.Equal(t, ":1", c.do(t, "XLEN", "st"))
	require.Equal(t, "+OK", c.do(t, "XSETID", "st", "9-0", "ENTRIESADDED", "4", "MAXDELETEDID", "5-1"))
	require.Equal(t, ":1", c.do(t, "XDEL", "st", "5-1"))
}

func TestServerTypeAndArgErrors(t *testing.T) {
	n := startNode(t, "")
	c := dialNode(t, n)

	require.Equal(t, "+OK", c.do(t, "SET", "k", "v"))
	reply := c.do(t, "HGET", "k", "f")
	require.Contains(t, reply, "WRONGTYPE")

	reply = c.do(t, "NOSUCHCMD")
	require.Contains(t, reply, "unknown command")

	reply = c.do(t, "GET")
	require.Contains(t, reply, "wrong number of arguments")

	reply = c.do(t, "XADD", "st", "5-1", "f", "v")
	require.Equal(t, "5-1", reply)
	reply = c.do(t, "XADD", "st", "4-0", "f", "v")
	require.Contains(t, reply, "equal or smaller")
}

func TestServerAuth(t *testing.T) {
	n := startNode(t, "hunter2")
	c := dialNode(t, n)

	require.Contains(t, c.do(t, "GET", "k"), "NOAUTH")
	require.Contains(t, c.do(t, "AUTH", "wrong"), "WRONGPASS")
	require.Equal(t, "+OK", c.do(t, "AUTH", "hunter2"))
	require.Equal(t, "(nil)", c.do(t, "GET", "k"))
}

func TestServerMovedRedirect(t *testing.T) {
	n := startNode(t, "")
	c := dialNode(t, n)

	slot := hash.KeySlot("k")
	require.Equal(t, "+OK", c.do(t, "CLUSTERX", "ADDNODE", "node-b", "10.0.0.2:6666"))
	require.Equal(t, "+OK", c.do(t, "CLUSTERX", "SETSLOT", strconv.Itoa(int(slot)), "NODE", "node-b"))

	reply := c.do(t, "SET", "k", "v")
	require.Equal(t, fmt.Sprintf("-MOVED %d 10.0.0.2:6666", slot), reply)

	// Reads on unowned slots still answer locally.
	require.Equal(t, "(nil)", c.do(t, "GET", "k"))
}

func TestServerClusterAdmin(t *testing.T) {
	n := startNode(t, "")
	c := dialNode(t, n)

	require.Equal(t, "node-a", c.do(t, "CLUSTERX", "MYID"))
	info := c.do(t, "CLUSTERX", "INFO")
	require.Contains(t, info, "migrating_slot: -1")
	require.Contains(t, info, "migrating_state: none")

	require.Equal(t, "+OK", c.do(t, "CLUSTER", "IMPORT", "12", "0"))
	require.Equal(t, "+OK", c.do(t, "CLUSTER", "IMPORT", "12", "1"))
	require.Equal(t, "+OK", c.do(t, "CLUSTER", "IMPORT", "12", "2"))
	require.Contains(t, c.do(t, "CLUSTER", "IMPORT", "12", "7"), "Invalid import state")
	require.Contains(t, c.do(t, "CLUSTER", "IMPORT", "99999", "0"), "Invalid slot")

	require.Contains(t, c.do(t, "CLUSTERX", "MIGRATE", "12", "node-a"), "myself")
	require.Contains(t, c.do(t, "CLUSTERX", "MIGRATE", "12", "ghost"), "destination node")
}

func TestServerPipelinedCommands(t *testing.T) {
	n := startNode(t, "")
	c := dialNode(t, n)

	var buf []byte
	for _, args := range [][]string{
		{"SET", "p1", "a"},
		{"SET", "p2", "b"},
		{"GET", "p1"},
	} {
		buf = append(buf, '*')
		buf = strconv.AppendInt(buf, int64(len(args)), 10)
		buf = append(buf, "\r\n"...)
		for _, a := range args {
			buf = append(buf, '$')
			buf = strconv.AppendInt(buf, int64(len(a)), 10)
			buf = append(buf, "\r\n"...)
			buf = append(buf, a...)
			buf = append(buf, "\r\n"...)
		}
	}
	_, err := c.conn.Write(buf)
	require.NoError(t, err)

	require.Equal(t, "+OK", c.read(t))
	require.Equal(t, "+OK", c.read(t))
	require.Equal(t, "a", c.read(t))
}
