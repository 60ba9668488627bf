package uf2

// Lua-scripted image composition. Scripts build up segments at explicit
// addresses from files, hex/base64 strings, or byte tables, and can pick
// the base address and family themselves; the caller merges and encodes.

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml"
	lua "github.com/yuin/gopher-lua"
)

// Everything a compose script produced.
type ComposeResult struct {
	Segments []Segment
	BaseAddr *uint32 // set by base_addr(), nil if the script didn't call it
	FamilyID *uint32 // set by family(), nil if the script didn't call it
}

// Tracking data for a running compose script.
type ComposeState struct {
	Result ComposeResult
	Args   []string // passed through to arguments()
	Dir    string   // directory file() resolves relative paths against
}

// Shorthand to add global function that also accepts this state
func (state *ComposeState) AddFunction(name string, f func(*lua.LState, *ComposeState) int, L *lua.LState) {
	L.SetGlobal(name, L.NewFunction(func(L *lua.LState) int { return f(L, state) }))
}

// -----------------------------
//          READERS
// -----------------------------

// Read an entire file, resolved against the compose data directory.
func luaFile(L *lua.LState, state *ComposeState) int {
	filename := L.ToString(1)
	if !filepath.IsAbs(filename) && state.Dir != "" {
		filename = filepath.Join(state.Dir, filename)
	}
	data, err := os.ReadFile(filename)
	if err != nil {
		L.RaiseError("Error reading file %s in lua script: %s", filename, err)
		return 0
	}
	log.Printf("Read %d bytes from file %s in lua script", len(data), filename)
	L.Push(lua.LString(string(data)))
	return 1
}

// Function for lua scripts that lets you parse hex
func luaHex(L *lua.LState) int {
	hexstring := L.ToString(1)
	data, err := hex.DecodeString(hexstring)
	if err != nil {
		L.RaiseError("Error decoding hex in lua script: %s", err)
		return 0
	}
	L.Push(lua.LString(string(data)))
	return 1
}

// Function for lua scripts that lets you parse base64
func luaBase64(L *lua.LState) int {
	b64string := L.ToString(1)
	data, err := base64.StdEncoding.DecodeString(b64string)
	if err != nil {
		L.RaiseError("Error decoding base64 in lua script: %s", err)
		return 0
	}
	L.Push(lua.LString(string(data)))
	return 1
}

// Takes a number table and turns it into the general writable type (string).
// The second parameter picks the element encoding (default single bytes).
func luaBytes(L *lua.LState) int {
	table := L.ToTable(1)
	typ := L.ToString(2)
	if table == nil {
		L.RaiseError("Error: must pass a table!")
		return 0
	}
	var buf bytes.Buffer
	var err error
	writebuf := func(d any) {
		err = binary.Write(&buf, binary.LittleEndian, d)
	}
	for i := 1; i <= table.Len(); i++ {
		lv := table.RawGetInt(i)
		if num, ok := lv.(lua.LNumber); ok {
			raw := float64(num)
			switch typ {
			case "float64":
				writebuf(raw)
			case "float32":
				writebuf(float32(raw))
			case "int32":
				writebuf(int32(raw))
			case "uint32":
				writebuf(uint32(raw))
			case "int16":
				writebuf(int16(raw))
			case "uint16":
				writebuf(uint16(raw))
			case "int8":
				writebuf(int8(raw))
			case "uint8", "byte", "":
				writebuf(uint8(raw))
			default:
				L.RaiseError("Error: unknown byte type %s", typ)
				return 0
			}
			if err != nil {
				L.RaiseError("Error converting array to bytes: %s", err)
				return 0
			}
		} else {
			L.RaiseError("Error: index %d must be a number!", i)
			return 0
		}
	}
	L.Push(lua.LString(buf.String()))
	return 1
}

// Simple function to decode a string into a lua table. Returns the table.
// Raises script error on any error.
func luaJson(L *lua.LState) int {
	str := L.ToString(1)
	var value interface{}
	err := json.Unmarshal([]byte(str), &value)
	if err != nil {
		L.RaiseError("Couldn't parse json: %s", err)
		return 0
	}
	L.Push(luaDecodeValue(L, value))
	return 1
}

// Same as json but toml. Also returns the table.
func luaToml(L *lua.LState) int {
	str := L.ToString(1)
	var value interface{}
	err := toml.Unmarshal([]byte(str), &value)
	if err != nil {
		L.RaiseError("Couldn't parse toml: %s", err)
		return 0
	}
	L.Push(luaDecodeValue(L, value))
	return 1
}

// Parse an Intel HEX string into an array of {addr=..., data=...} tables,
// ready to be handed to segment() entry by entry.
func luaIntelHex(L *lua.LState) int {
	str := L.ToString(1)
	segments, err := ParseIntelHex(strings.NewReader(str))
	if err != nil {
		L.RaiseError("Couldn't parse intel hex: %s", err)
		return 0
	}
	result := L.CreateTable(len(segments), 0)
	for _, segment := range segments {
		entry := L.CreateTable(0, 2)
		entry.RawSetString("addr", lua.LNumber(segment.Addr))
		entry.RawSetString("data", lua.LString(string(segment.Data)))
		result.Append(entry)
	}
	L.Push(result)
	return 1
}

// DecodeValue converts the value to a Lua value.
// Taken from https://github.com/layeh/gopher-json
// This function only converts values that the encoding/json package decodes to.
// All other values will return lua.LNil.
func luaDecodeValue(L *lua.LState, value interface{}) lua.LValue {
	switch converted := value.(type) {
	case bool:
		return lua.LBool(converted)
	case float64:
		return lua.LNumber(converted)
	case int64: // NOTE: wasn't needed for json, needed for toml
		return lua.LNumber(converted)
	case string:
		return lua.LString(converted)
	case json.Number:
		return lua.LString(converted)
	case []interface{}:
		arr := L.CreateTable(len(converted), 0)
		for _, item := range converted {
			arr.Append(luaDecodeValue(L, item))
		}
		return arr
	case map[string]interface{}:
		tbl := L.CreateTable(0, len(converted))
		for key, item := range converted {
			tbl.RawSetH(lua.LString(key), luaDecodeValue(L, item))
		}
		return tbl
	case nil:
		return lua.LNil
	}

	return lua.LNil
}

// -----------------------------
//          WRITERS
// -----------------------------

// Place data at an explicit flash address. Later segments overwrite earlier
// ones where they overlap, so scripts can patch over previously placed data.
func luaSegment(L *lua.LState, state *ComposeState) int {
	addr := L.ToInt64(1)
	data := L.ToString(2)
	if addr < 0 {
		L.RaiseError("Segment address must not be negative!")
		return 0
	}
	if len(data) == 0 {
		L.RaiseError("Segment data must not be empty!")
		return 0
	}
	state.Result.Segments = append(state.Result.Segments, Segment{
		Addr: uint64(addr),
		Data: []byte(data),
	})
	return 0
}

// Override the UF2 target base address for the composed image.
func luaBaseAddr(L *lua.LState, state *ComposeState) int {
	addr := uint32(L.ToInt64(1))
	state.Result.BaseAddr = &addr
	return 0
}

// Pick the target family, by preset name or number.
func luaFamily(L *lua.LState, state *ComposeState) int {
	id, err := ParseFamily(L.ToString(1))
	if err != nil {
		L.RaiseError("%s", err)
		return 0
	}
	state.Result.FamilyID = &id
	return 0
}

// Return the extra command line arguments as a table.
func luaArguments(L *lua.LState, state *ComposeState) int {
	result := L.CreateTable(len(state.Args), 0)
	for _, arg := range state.Args {
		result.Append(lua.LString(arg))
	}
	L.Push(result)
	return 1
}

// Let scripts log through the normal logger.
func luaLog(L *lua.LState) int {
	parts := make([]string, L.GetTop())
	for i := 1; i <= L.GetTop(); i++ {
		parts[i-1] = L.ToStringMeta(L.Get(i)).String()
	}
	log.Printf("lua: %s", strings.Join(parts, " "))
	return 0
}

// Run an entire compose script. The caller merges the resulting segments
// (via MergeSegments) and encodes; dir is the directory file() reads from.
func RunLuaComposer(script string, args []string, dir string) (*ComposeResult, error) {
	state := ComposeState{
		Args: args,
		Dir:  dir,
	}

	L := lua.NewState()
	defer L.Close()

	L.SetGlobal("hex", L.NewFunction(luaHex))
	L.SetGlobal("base64", L.NewFunction(luaBase64))
	L.SetGlobal("bytes", L.NewFunction(luaBytes))
	L.SetGlobal("json", L.NewFunction(luaJson))
	L.SetGlobal("toml", L.NewFunction(luaToml))
	L.SetGlobal("intel_hex", L.NewFunction(luaIntelHex))
	L.SetGlobal("log", L.NewFunction(luaLog))
	state.AddFunction("file", luaFile, L)
	state.AddFunction("segment", luaSegment, L)
	state.AddFunction("base_addr", luaBaseAddr, L)
	state.AddFunction("family", luaFamily, L)
	state.AddFunction("arguments", luaArguments, L)

	err := L.DoString(script)
	if err != nil {
		return nil, err
	}

	if len(state.Result.Segments) == 0 {
		return nil, fmt.Errorf("compose script placed no segments")
	}

	return &state.Result, nil
}
