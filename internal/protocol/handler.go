package protocol

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/tidwall/redcon"
	"go.uber.org/zap"

	"github.com/bruceqiwang/incubator-kvrocks/internal/cluster"
	"github.com/bruceqiwang/incubator-kvrocks/internal/cluster/hash"
	"github.com/bruceqiwang/incubator-kvrocks/internal/db"
	"github.com/bruceqiwang/incubator-kvrocks/internal/metrics"
	"github.com/bruceqiwang/incubator-kvrocks/internal/migrate"
	"github.com/bruceqiwang/incubator-kvrocks/internal/storage"
	kvbytes "github.com/bruceqiwang/incubator-kvrocks/pkg/bytes"
)

// Handler dispatches parsed commands against the typed layer, redirecting
// writes for slots this node no longer serves.
type Handler struct {
	db          *db.DB
	migrator    *migrate.Migrator
	topology    *cluster.Topology
	requirePass string
	logger      *zap.Logger
}

// NewHandler wires the command surface. migrator and topology may be nil for
// a storage-only handler, which then serves every slot locally.
func NewHandler(database *db.DB, migrator *migrate.Migrator, topology *cluster.Topology, requirePass string, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Handler{
		db:          database,
		migrator:    migrator,
		topology:    topology,
		requirePass: requirePass,
		logger:      logger,
	}
	if migrator != nil {
		// The guard runs under the storage write latch, so a write admitted
		// here can no longer race the migration cutover flipping the slot
		// read-only.
		database.SetWriteGuard(func(slot uint16) error {
			if addr, forbidden := migrator.Gate().WriteForbidden(slot); forbidden {
				return &db.SlotMovedError{Slot: slot, Addr: addr}
			}
			return nil
		})
	}
	return h
}

// Execute runs one command for a connection.
func (h *Handler) Execute(client *Client, conn redcon.Conn, args [][]byte) {
	cmd := strings.ToUpper(string(args[0]))
	args = args[1:]

	if h.requirePass != "" && !client.authenticated && cmd != "AUTH" && cmd != "QUIT" {
		conn.WriteError("NOAUTH Authentication required.")
		return
	}

	status := "ok"
	if !h.dispatch(client, conn, cmd, args) {
		status = "err"
	}
	metrics.CommandsTotal.WithLabelValues(cmd, status).Inc()
}

// dispatch returns false for unknown commands and argument errors.
func (h *Handler) dispatch(client *Client, conn redcon.Conn, cmd string, args [][]byte) bool {
	switch cmd {
	case "PING":
		if len(args) == 1 {
			conn.WriteBulk(args[0])
		} else {
			conn.WriteString("PONG")
		}
	case "QUIT":
		conn.WriteString("OK")
		conn.Close()
	case "AUTH":
		return h.auth(client, conn, args)
	case "SET":
		return h.set(conn, args)
	case "GET":
		return h.get(conn, args)
	case "DEL":
		return h.del(conn, args)
	case "EXISTS":
		return h.exists(conn, args)
	case "TYPE":
		return h.typeCmd(conn, args)
	case "PEXPIREAT":
		return h.pexpireat(conn, args)
	case "HSET", "HMSET":
		return h.hset(conn, cmd, args)
	case "HGET":
		return h.hget(conn, args)
	case "HDEL":
		return h.hdel(conn, args)
	case "SADD":
		return h.sadd(conn, args)
	case "SREM":
		return h.srem(conn, args)
	case "SISMEMBER":
		return h.sismember(conn, args)
	case "ZADD":
		return h.zadd(conn, args)
	case "ZREM":
		return h.zrem(conn, args)
	case "ZSCORE":
		return h.zscore(conn, args)
	case "RPUSH", "LPUSH":
		return h.push(conn, cmd, args)
	case "LPOP", "RPOP":
		return h.pop(conn, cmd, args)
	case "LLEN":
		return h.llen(conn, args)
	case "LINDEX":
		return h.lindex(conn, args)
	case "SETBIT":
		return h.setbit(conn, args)
	case "GETBIT":
		return h.getbit(conn, args)
	case "SIADD":
		return h.siadd(conn, args)
	case "SIREM":
		return h.sirem(conn, args)
	case "SIEXISTS":
		return h.siexists(conn, args)
	case "XADD":
		return h.xadd(conn, args)
	case "XDEL":
		return h.xdel(conn, args)
	case "XLEN":
		return h.xlen(conn, args)
	case "XSETID":
		return h.xsetid(conn, args)
	case "CLUSTERX":
		return h.clusterx(conn, args)
	case "CLUSTER":
		return h.clusterImport(conn, args)
	default:
		conn.WriteError("ERR unknown command '" + cmd + "'")
		return false
	}
	return true
}

func (h *Handler) auth(client *Client, conn redcon.Conn, args [][]byte) bool {
	if len(args) != 1 {
		conn.WriteError("ERR wrong number of arguments for 'auth' command")
		return false
	}
	if h.requirePass == "" {
		conn.WriteError("ERR Client sent AUTH, but no password is set.")
		return false
	}
	if kvbytes.BytesToString(args[0]) != h.requirePass {
		conn.WriteError("WRONGPASS invalid username-password pair or user is disabled.")
		return false
	}
	client.authenticated = true
	conn.WriteString("OK")
	return true
}

// admitWrite rejects writes to slots owned elsewhere, redirecting to the
// owner. Slots mid-cutover are caught by the write guard under the storage
// latch, where the check cannot race the cutover.
func (h *Handler) admitWrite(conn redcon.Conn, key []byte) bool {
	slot := hash.KeySlot(kvbytes.BytesToString(key))
	if h.topology != nil && !h.topology.IsMine(slot) {
		addr, ok := h.topology.NodeAddr(h.topology.SlotOwner(slot))
		if !ok {
			addr = "?"
		}
		conn.WriteError(fmt.Sprintf("MOVED %d %s", slot, addr))
		return false
	}
	return true
}

func (h *Handler) writeTypedErr(conn redcon.Conn, err error) {
	var moved *db.SlotMovedError
	if errors.As(err, &moved) {
		conn.WriteError(moved.Error())
		return
	}
	if errors.Is(err, db.ErrWrongType) || errors.Is(err, db.ErrStreamIDNotGreater) {
		conn.WriteError(err.Error())
		return
	}
	conn.WriteError("ERR " + err.Error())
}

func (h *Handler) set(conn redcon.Conn, args [][]byte) bool {
	if len(args) < 2 {
		conn.WriteError("ERR wrong number of arguments for 'set' command")
		return false
	}
	if !h.admitWrite(conn, args[0]) {
		return false
	}
	var err error
	if len(args) == 2 {
		err = h.db.Set(args[0], args[1])
	} else if len(args) == 4 && strings.EqualFold(kvbytes.BytesToString(args[2]), "PXAT") {
		var at uint64
		at, err = strconv.ParseUint(kvbytes.BytesToString(args[3]), 10, 64)
		if err != nil {
			conn.WriteError("ERR value is not an integer or out of range")
			return false
		}
		err = h.db.SetPXAT(args[0], args[1], at)
	} else {
		conn.WriteError("ERR syntax error")
		return false
	}
	if err != nil {
		h.writeTypedErr(conn, err)
		return false
	}
	conn.WriteString("OK")
	return true
}

func (h *Handler) get(conn redcon.Conn, args [][]byte) bool {
	if len(args) != 1 {
		conn.WriteError("ERR wrong number of arguments for 'get' command")
		return false
	}
	val, ok, err := h.db.Get(args[0])
	if err != nil {
		h.writeTypedErr(conn, err)
		return false
	}
	if !ok {
		conn.WriteNull()
		return true
	}
	conn.WriteBulk(val)
	return true
}

func (h *Handler) del(conn redcon.Conn, args [][]byte) bool {
	if len(args) == 0 {
		conn.WriteError("ERR wrong number of arguments for 'del' command")
		return false
	}
	var n int
	for _, key := range args {
		if !h.admitWrite(conn, key) {
			return false
		}
		gone, err := h.db.Del(key)
		if err != nil {
			h.writeTypedErr(conn, err)
			return false
		}
		if gone {
			n++
		}
	}
	conn.WriteInt(n)
	return true
}

func (h *Handler) exists(conn redcon.Conn, args [][]byte) bool {
	if len(args) == 0 {
		conn.WriteError("ERR wrong number of arguments for 'exists' command")
		return false
	}
	var n int
	for _, key := range args {
		ok, err := h.db.Exists(key)
		if err != nil {
			h.writeTypedErr(conn, err)
			return false
		}
		if ok {
			n++
		}
	}
	conn.WriteInt(n)
	return true
}

func (h *Handler) typeCmd(conn redcon.Conn, args [][]byte) bool {
	if len(args) != 1 {
		conn.WriteError("ERR wrong number of arguments for 'type' command")
		return false
	}
	t, err := h.db.Type(args[0])
	if err != nil {
		h.writeTypedErr(conn, err)
		return false
	}
	conn.WriteString(t.String())
	return true
}

func (h *Handler) pexpireat(conn redcon.Conn, args [][]byte) bool {
	if len(args) != 2 {
		conn.WriteError("ERR wrong number of arguments for 'pexpireat' command")
		return false
	}
	if !h.admitWrite(conn, args[0]) {
		return false
	}
	at, err := strconv.ParseUint(kvbytes.BytesToString(args[1]), 10, 64)
	if err != nil {
		conn.WriteError("ERR value is not an integer or out of range")
		return false
	}
	ok, err := h.db.PExpireAt(args[0], at)
	if err != nil {
		h.writeTypedErr(conn, err)
		return false
	}
	if ok {
		conn.WriteInt(1)
	} else {
		conn.WriteInt(0)
	}
	return true
}

func (h *Handler) hset(conn redcon.Conn, cmd string, args [][]byte) bool {
	if len(args) < 3 || len(args)%2 != 1 {
		conn.WriteError("ERR wrong number of arguments for '" + strings.ToLower(cmd) + "' command")
		return false
	}
	if !h.admitWrite(conn, args[0]) {
		return false
	}
	fields := make(map[string][]byte, (len(args)-1)/2)
	for i := 1; i < len(args); i += 2 {
		fields[string(args[i])] = args[i+1]
	}
	added, err := h.db.HSet(args[0], fields)
	if err != nil {
		h.writeTypedErr(conn, err)
		return false
	}
	if cmd == "HMSET" {
		conn.WriteString("OK")
	} else {
		conn.WriteInt(added)
	}
	return true
}

func (h *Handler) hget(conn redcon.Conn, args [][]byte) bool {
	if len(args) != 2 {
		conn.WriteError("ERR wrong number of arguments for 'hget' command")
		return false
	}
	val, ok, err := h.db.HGet(args[0], args[1])
	if err != nil {
		h.writeTypedErr(conn, err)
		return false
	}
	if !ok {
		conn.WriteNull()
		return true
	}
	conn.WriteBulk(val)
	return true
}

func (h *Handler) hdel(conn redcon.Conn, args [][]byte) bool {
	if len(args) < 2 {
		conn.WriteError("ERR wrong number of arguments for 'hdel' command")
		return false
	}
	if !h.admitWrite(conn, args[0]) {
		return false
	}
	n, err := h.db.HDel(args[0], args[1:]...)
	if err != nil {
		h.writeTypedErr(conn, err)
		return false
	}
	conn.WriteInt(n)
	return true
}

func (h *Handler) sadd(conn redcon.Conn, args [][]byte) bool {
	if len(args) < 2 {
		conn.WriteError("ERR wrong number of arguments for 'sadd' command")
		return false
	}
	if !h.admitWrite(conn, args[0]) {
		return false
	}
	n, err := h.db.SAdd(args[0], args[1:]...)
	if err != nil {
		h.writeTypedErr(conn, err)
		return false
	}
	conn.WriteInt(n)
	return true
}

func (h *Handler) srem(conn redcon.Conn, args [][]byte) bool {
	if len(args) < 2 {
		conn.WriteError("ERR wrong number of arguments for 'srem' command")
		return false
	}
	if !h.admitWrite(conn, args[0]) {
		return false
	}
	n, err := h.db.SRem(args[0], args[1:]...)
	if err != nil {
		h.writeTypedErr(conn, err)
		return false
	}
	conn.WriteInt(n)
	return true
}

func (h *Handler) sismember(conn redcon.Conn, args [][]byte) bool {
	if len(args) != 2 {
		conn.WriteError("ERR wrong number of arguments for 'sismember' command")
		return false
	}
	ok, err := h.db.SIsMember(args[0], args[1])
	if err != nil {
		h.writeTypedErr(conn, err)
		return false
	}
	if ok {
		conn.WriteInt(1)
	} else {
		conn.WriteInt(0)
	}
	return true
}

func (h *Handler) zadd(conn redcon.Conn, args [][]byte) bool {
	if len(args) < 3 || len(args)%2 != 1 {
		conn.WriteError("ERR wrong number of arguments for 'zadd' command")
		return false
	}
	if !h.admitWrite(conn, args[0]) {
		return false
	}
	members := make(map[string]float64, (len(args)-1)/2)
	for i := 1; i < len(args); i += 2 {
		score, err := strconv.ParseFloat(kvbytes.BytesToString(args[i]), 64)
		if err != nil {
			conn.WriteError("ERR value is not a valid float")
			return false
		}
		members[string(args[i+1])] = score
	}
	added, err := h.db.ZAdd(args[0], members)
	if err != nil {
		h.writeTypedErr(conn, err)
		return false
	}
	conn.WriteInt(added)
	return true
}

func (h *Handler) zrem(conn redcon.Conn, args [][]byte) bool {
	if len(args) < 2 {
		conn.WriteError("ERR wrong number of arguments for 'zrem' command")
		return false
	}
	if !h.admitWrite(conn, args[0]) {
		return false
	}
	n, err := h.db.ZRem(args[0], args[1:]...)
	if err != nil {
		h.writeTypedErr(conn, err)
		return false
	}
	conn.WriteInt(n)
	return true
}

func (h *Handler) zscore(conn redcon.Conn, args [][]byte) bool {
	if len(args) != 2 {
		conn.WriteError("ERR wrong number of arguments for 'zscore' command")
		return false
	}
	score, ok, err := h.db.ZScore(args[0], args[1])
	if err != nil {
		h.writeTypedErr(conn, err)
		return false
	}
	if !ok {
		conn.WriteNull()
		return true
	}
	conn.WriteBulkString(storage.FormatDouble(score))
	return true
}

func (h *Handler) push(conn redcon.Conn, cmd string, args [][]byte) bool {
	if len(args) < 2 {
		conn.WriteError("ERR wrong number of arguments for '" + strings.ToLower(cmd) + "' command")
		return false
	}
	if !h.admitWrite(conn, args[0]) {
		return false
	}
	var n int
	var err error
	if cmd == "RPUSH" {
		n, err = h.db.RPush(args[0], args[1:]...)
	} else {
		n, err = h.db.LPush(args[0], args[1:]...)
	}
	if err != nil {
		h.writeTypedErr(conn, err)
		return false
	}
	conn.WriteInt(n)
	return true
}

func (h *Handler) pop(conn redcon.Conn, cmd string, args [][]byte) bool {
	if len(args) != 1 {
		conn.WriteError("ERR wrong number of arguments for '" + strings.ToLower(cmd) + "' command")
		return false
	}
	if !h.admitWrite(conn, args[0]) {
		return false
	}
	var val []byte
	var ok bool
	var err error
	if cmd == "LPOP" {
		val, ok, err = h.db.LPop(args[0])
	} else {
		val, ok, err = h.db.RPop(args[0])
	}
	if err != nil {
		h.writeTypedErr(conn, err)
		return false
	}
	if !ok {
		conn.WriteNull()
		return true
	}
	conn.WriteBulk(val)
	return true
}

func (h *Handler) llen(conn redcon.Conn, args [][]byte) bool {
	if len(args) != 1 {
		conn.WriteError("ERR wrong number of arguments for 'llen' command")
		return false
	}
	n, err := h.db.LLen(args[0])
	if err != nil {
		h.writeTypedErr(conn, err)
		return false
	}
	conn.WriteInt(n)
	return true
}

func (h *Handler) lindex(conn redcon.Conn, args [][]byte) bool {
	if len(args) != 2 {
		conn.WriteError("ERR wrong number of arguments for 'lindex' command")
		return false
	}
	idx, err := strconv.ParseInt(kvbytes.BytesToString(args[1]), 10, 32)
	if err != nil {
		conn.WriteError("ERR value is not an integer or out of range")
		return false
	}
	val, ok, err := h.db.LIndex(args[0], int(idx))
	if err != nil {
		h.writeTypedErr(conn, err)
		return false
	}
	if !ok {
		conn.WriteNull()
		return true
	}
	conn.WriteBulk(val)
	return true
}

func (h *Handler) setbit(conn redcon.Conn, args [][]byte) bool {
	if len(args) != 3 {
		conn.WriteError("ERR wrong number of arguments for 'setbit' command")
		return false
	}
	if !h.admitWrite(conn, args[0]) {
		return false
	}
	offset, err := strconv.ParseUint(kvbytes.BytesToString(args[1]), 10, 32)
	if err != nil {
		conn.WriteError("ERR bit offset is not an integer or out of range")
		return false
	}
	var bit bool
	switch string(args[2]) {
	case "0":
	case "1":
		bit = true
	default:
		conn.WriteError("ERR bit is not an integer or out of range")
		return false
	}
	old, err := h.db.SetBit(args[0], uint32(offset), bit)
	if err != nil {
		h.writeTypedErr(conn, err)
		return false
	}
	if old {
		conn.WriteInt(1)
	} else {
		conn.WriteInt(0)
	}
	return true
}

func (h *Handler) getbit(conn redcon.Conn, args [][]byte) bool {
	if len(args) != 2 {
		conn.WriteError("ERR wrong number of arguments for 'getbit' command")
		return false
	}
	offset, err := strconv.ParseUint(kvbytes.BytesToString(args[1]), 10, 32)
	if err != nil {
		conn.WriteError("ERR bit offset is not an integer or out of range")
		return false
	}
	bit, err := h.db.GetBit(args[0], uint32(offset))
	if err != nil {
		h.writeTypedErr(conn, err)
		return false
	}
	if bit {
		conn.WriteInt(1)
	} else {
		conn.WriteInt(0)
	}
	return true
}

func parseIDs(args [][]byte) ([]uint64, error) {
	ids := make([]uint64, len(args))
	for i, a := range args {
		id, err := strconv.ParseUint(kvbytes.BytesToString(a), 10, 64)
		if err != nil {
			return nil, err
		}
		ids[i] = id
	}
	return ids, nil
}

func (h *Handler) siadd(conn redcon.Conn, args [][]byte) bool {
	if len(args) < 2 {
		conn.WriteError("ERR wrong number of arguments for 'siadd' command")
		return false
	}
	if !h.admitWrite(conn, args[0]) {
		return false
	}
	ids, err := parseIDs(args[1:])
	if err != nil {
		conn.WriteError("ERR value is not an integer or out of range")
		return false
	}
	n, err := h.db.SIAdd(args[0], ids...)
	if err != nil {
		h.writeTypedErr(conn, err)
		return false
	}
	conn.WriteInt(n)
	return true
}

func (h *Handler) sirem(conn redcon.Conn, args [][]byte) bool {
	if len(args) < 2 {
		conn.WriteError("ERR wrong number of arguments for 'sirem' command")
		return false
	}
	if !h.admitWrite(conn, args[0]) {
		return false
	}
	ids, err := parseIDs(args[1:])
	if err != nil {
		conn.WriteError("ERR value is not an integer or out of range")
		return false
	}
	n, err := h.db.SIRem(args[0], ids...)
	if err != nil {
		h.writeTypedErr(conn, err)
		return false
	}
	conn.WriteInt(n)
	return true
}

func (h *Handler) siexists(conn redcon.Conn, args [][]byte) bool {
	if len(args) != 2 {
		conn.WriteError("ERR wrong number of arguments for 'siexists' command")
		return false
	}
	ids, err := parseIDs(args[1:])
	if err != nil {
		conn.WriteError("ERR value is not an integer or out of range")
		return false
	}
	ok, err := h.db.SIExists(args[0], ids[0])
	if err != nil {
		h.writeTypedErr(conn, err)
		return false
	}
	if ok {
		conn.WriteInt(1)
	} else {
		conn.WriteInt(0)
	}
	return true
}

func (h *Handler) xadd(conn redcon.Conn, args [][]byte) bool {
	if len(args) < 4 || len(args)%2 != 0 {
		conn.WriteError("ERR wrong number of arguments for 'xadd' command")
		return false
	}
	if !h.admitWrite(conn, args[0]) {
		return false
	}
	var id *storage.StreamID
	if string(args[1]) != "*" {
		parsed, err := storage.ParseStreamID(kvbytes.BytesToString(args[1]))
		if err != nil {
			conn.WriteError("ERR Invalid stream ID specified as stream command argument")
			return false
		}
		id = &parsed
	}
	entryID, err := h.db.XAdd(args[0], id, args[2:])
	if err != nil {
		h.writeTypedErr(conn, err)
		return false
	}
	conn.WriteBulkString(entryID.String())
	return true
}

func (h *Handler) xdel(conn redcon.Conn, args [][]byte) bool {
	if len(args) < 2 {
		conn.WriteError("ERR wrong number of arguments for 'xdel' command")
		return false
	}
	if !h.admitWrite(conn, args[0]) {
		return false
	}
	ids := make([]storage.StreamID, 0, len(args)-1)
	for _, a := range args[1:] {
		id, err := storage.ParseStreamID(kvbytes.BytesToString(a))
		if err != nil {
			conn.WriteError("ERR Invalid stream ID specified as stream command argument")
			return false
		}
		ids = append(ids, id)
	}
	n, err := h.db.XDel(args[0], ids...)
	if err != nil {
		h.writeTypedErr(conn, err)
		return false
	}
	conn.WriteInt(n)
	return true
}

func (h *Handler) xlen(conn redcon.Conn, args [][]byte) bool {
	if len(args) != 1 {
		conn.WriteError("ERR wrong number of arguments for 'xlen' command")
		return false
	}
	n, err := h.db.XLen(args[0])
	if err != nil {
		h.writeTypedErr(conn, err)
		return false
	}
	conn.WriteInt(n)
	return true
}

func (h *Handler) xsetid(conn redcon.Conn, args [][]byte) bool {
	if len(args) != 2 && len(args) != 6 {
		conn.WriteError("ERR wrong number of arguments for 'xsetid' command")
		return false
	}
	if !h.admitWrite(conn, args[0]) {
		return false
	}
	last, err := storage.ParseStreamID(kvbytes.BytesToString(args[1]))
	if err != nil {
		conn.WriteError("ERR Invalid stream ID specified as stream command argument")
		return false
	}
	var entriesAdded uint64
	var maxDeleted storage.StreamID
	for i := 2; i+1 < len(args); i += 2 {
		switch strings.ToUpper(string(args[i])) {
		case "ENTRIESADDED":
			entriesAdded, err = strconv.ParseUint(kvbytes.BytesToString(args[i+1]), 10, 64)
			if err != nil {
				conn.WriteError("ERR value is not an integer or out of range")
				return false
			}
		case "MAXDELETEDID":
			maxDeleted, err = storage.ParseStreamID(kvbytes.BytesToString(args[i+1]))
			if err != nil {
				conn.WriteError("ERR Invalid stream ID specified as stream command argument")
				return false
			}
		default:
			conn.WriteError("ERR syntax error")
			return false
		}
	}
	if err := h.db.XSetID(args[0], last, entriesAdded, maxDeleted); err != nil {
		h.writeTypedErr(conn, err)
		return false
	}
	conn.WriteString("OK")
	return true
}

// clusterx serves the admin surface: topology management and migration
// control.
func (h *Handler) clusterx(conn redcon.Conn, args [][]byte) bool {
	if len(args) == 0 {
		conn.WriteError("ERR wrong number of arguments for 'clusterx' command")
		return false
	}
	sub := strings.ToUpper(string(args[0]))
	switch sub {
	case "INFO":
		if h.migrator == nil {
			conn.WriteError("ERR cluster support disabled")
			return false
		}
		conn.WriteBulkString(h.migrator.InfoString())
	case "MYID":
		if h.topology == nil {
			conn.WriteError("ERR cluster support disabled")
			return false
		}
		conn.WriteBulkString(h.topology.MyID())
	case "ADDNODE":
		if h.topology == nil {
			conn.WriteError("ERR cluster support disabled")
			return false
		}
		if len(args) != 3 {
			conn.WriteError("ERR wrong number of arguments for 'clusterx addnode' command")
			return false
		}
		h.topology.AddNode(cluster.Node{ID: string(args[1]), Addr: string(args[2])})
		conn.WriteString("OK")
	case "SETSLOT":
		return h.setslot(conn, args[1:])
	case "MIGRATE":
		return h.migrateSlot(conn, args[1:])
	default:
		conn.WriteError("ERR unknown CLUSTERX subcommand '" + sub + "'")
		return false
	}
	return true
}

func (h *Handler) setslot(conn redcon.Conn, args [][]byte) bool {
	if h.topology == nil {
		conn.WriteError("ERR cluster support disabled")
		return false
	}
	if len(args) != 3 || !strings.EqualFold(kvbytes.BytesToString(args[1]), "NODE") {
		conn.WriteError("ERR syntax error, try CLUSTERX SETSLOT <slot> NODE <nodeid>")
		return false
	}
	slot, err := strconv.ParseUint(kvbytes.BytesToString(args[0]), 10, 16)
	if err != nil || slot >= hash.SlotCount {
		conn.WriteError("ERR Invalid slot id: out of range")
		return false
	}
	if err := h.topology.SetSlot(uint16(slot), string(args[2])); err != nil {
		conn.WriteError("ERR " + err.Error())
		return false
	}
	conn.WriteString("OK")
	return true
}

func (h *Handler) migrateSlot(conn redcon.Conn, args [][]byte) bool {
	if h.migrator == nil || h.topology == nil {
		conn.WriteError("ERR cluster support disabled")
		return false
	}
	if len(args) != 2 {
		conn.WriteError("ERR wrong number of arguments for 'clusterx migrate' command")
		return false
	}
	slot, err := strconv.ParseUint(kvbytes.BytesToString(args[0]), 10, 16)
	if err != nil || slot >= hash.SlotCount {
		conn.WriteError("ERR Invalid slot id: out of range")
		return false
	}
	nodeID := string(args[1])
	if nodeID == h.topology.MyID() {
		conn.WriteError("ERR Can't migrate slot to myself")
		return false
	}
	addr, ok := h.topology.NodeAddr(nodeID)
	if !ok {
		conn.WriteError("ERR Can't find the destination node id")
		return false
	}
	if err := h.migrator.Submit(migrate.Job{
		Slot:      uint16(slot),
		DstNodeID: nodeID,
		DstAddr:   addr,
	}); err != nil {
		conn.WriteError("ERR " + err.Error())
		return false
	}
	conn.WriteString("OK")
	return true
}

// clusterImport acknowledges the destination-side migration framing. The
// payload commands arrive as ordinary writes, so the phases only need
// validation here.
func (h *Handler) clusterImport(conn redcon.Conn, args [][]byte) bool {
	if len(args) != 3 || !strings.EqualFold(kvbytes.BytesToString(args[0]), "IMPORT") {
		conn.WriteError("ERR unknown CLUSTER subcommand")
		return false
	}
	slot, err := strconv.ParseUint(kvbytes.BytesToString(args[1]), 10, 16)
	if err != nil || slot >= hash.SlotCount {
		conn.WriteError("ERR Invalid slot id: out of range")
		return false
	}
	switch string(args[2]) {
	case "0", "1", "2":
	default:
		conn.WriteError("ERR Invalid import state")
		return false
	}
	conn.WriteString("OK")
	return true
}
