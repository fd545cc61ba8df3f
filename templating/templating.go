// Sandboxed execution of user supplied templates.
//
// A template is a Lua chunk. It sees the request arguments as the global table `args` and the
// caller as `guild_id` and `user_id`; the chunk's return value, converted to JSON, is the result.
package templating

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"

	"github.com/Shopify/go-lua"
)

var ErrEmptyTemplate = errors.New("empty template")

// ExecContext is the caller side of a template execution.
type ExecContext struct {
	Args    json.RawMessage
	GuildID string
	UserID  string
}

type Executor interface {
	Execute(ctx context.Context, template string, ec ExecContext) (json.RawMessage, error)
}

type LuaExecutor struct {
	Logger *slog.Logger
}

var _ Executor = (*LuaExecutor)(nil)

func NewLuaExecutor(logger *slog.Logger) *LuaExecutor {
	if logger == nil {
		logger = slog.Default()
	}
	return &LuaExecutor{Logger: logger.With("component", "templating")}
}

// Execute runs a template on a fresh interpreter. The interpreter checks ctx every
// hookInterval instructions and aborts the chunk once it is done; Execute returns only after
// the chunk has stopped.
func (e *LuaExecutor) Execute(ctx context.Context, template string, ec ExecContext) (json.RawMessage, error) {
	if template == "" {
		return nil, ErrEmptyTemplate
	}
	var args any
	if len(ec.Args) > 0 {
		if err := json.Unmarshal(ec.Args, &args); err != nil {
			return nil, fmt.Errorf("decoding template args: %w", err)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out, err := run(ctx, template, args, ec)
	if err != nil && ctx.Err() != nil {
		e.Logger.Warn("template execution interrupted", "guild", ec.GuildID, "err", ctx.Err())
		return nil, fmt.Errorf("running template: %w", ctx.Err())
	}
	return out, err
}

// instructions between context checks
const hookInterval = 1000

// cap on nested tables in a result; also stops self-referencing tables
const maxResultDepth = 64

func newState(ctx context.Context) *lua.State {
	l := lua.NewState()
	for _, lib := range []lua.RegistryFunction{
		{Name: "_G", Function: lua.BaseOpen},
		{Name: "string", Function: lua.StringOpen},
		{Name: "table", Function: lua.TableOpen},
		{Name: "math", Function: lua.MathOpen},
	} {
		lua.Require(l, lib.Name, lib.Function, true)
		l.Pop(1)
	}
	// no filesystem access from the base library
	for _, name := range []string{"dofile", "loadfile", "load", "require"} {
		l.PushNil()
		l.SetGlobal(name)
	}
	lua.SetDebugHook(l, func(l *lua.State, _ lua.Debug) {
		if err := ctx.Err(); err != nil {
			lua.Errorf(l, "%s", err.Error())
		}
	}, lua.MaskCount, hookInterval)
	return l
}

func run(ctx context.Context, template string, args any, ec ExecContext) (out json.RawMessage, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("template panicked: %v", r)
		}
	}()

	l := newState(ctx)
	pushValue(l, args)
	l.SetGlobal("args")
	l.PushString(ec.GuildID)
	l.SetGlobal("guild_id")
	l.PushString(ec.UserID)
	l.SetGlobal("user_id")

	if err := lua.LoadString(l, template); err != nil {
		return nil, fmt.Errorf("compiling template: %w", err)
	}
	if err := l.ProtectedCall(0, 1, 0); err != nil {
		return nil, fmt.Errorf("running template: %w", err)
	}
	v, err := luaToGo(l, -1, 0)
	l.Pop(1)
	if err != nil {
		return nil, fmt.Errorf("converting template result: %w", err)
	}
	return json.Marshal(v)
}

func pushValue(l *lua.State, v any) {
	switch v := v.(type) {
	case nil:
		l.PushNil()
	case bool:
		l.PushBoolean(v)
	case float64:
		l.PushNumber(v)
	case string:
		l.PushString(v)
	case []any:
		l.NewTable()
		for i, item := range v {
			pushValue(l, item)
			l.RawSetInt(-2, i+1)
		}
	case map[string]any:
		l.NewTable()
		for k, item := range v {
			pushValue(l, item)
			l.SetField(-2, k)
		}
	default:
		l.PushString(fmt.Sprint(v))
	}
}

func luaToGo(l *lua.State, index, depth int) (any, error) {
	switch l.TypeOf(index) {
	case lua.TypeString:
		s, _ := l.ToString(index)
		return s, nil
	case lua.TypeNumber:
		n, _ := l.ToNumber(index)
		if math.Mod(n, 1) == 0 && math.Abs(n) < 1<<53 {
			return int64(n), nil
		}
		return n, nil
	case lua.TypeBoolean:
		return l.ToBoolean(index), nil
	case lua.TypeTable:
		if depth >= maxResultDepth {
			return nil, fmt.Errorf("tables nested deeper than %d", maxResultDepth)
		}
		return tableToGo(l, index, depth+1)
	default:
		return nil, nil
	}
}

// Tables with keys 1..n become arrays. Anything else becomes an object; number and boolean
// keys are written in their Lua string form.
func tableToGo(l *lua.State, index, depth int) (any, error) {
	index = l.AbsIndex(index)
	isArray := true
	maxIndex, count := 0, 0
	l.PushNil()
	for l.Next(index) {
		if isArray {
			if l.TypeOf(-2) != lua.TypeNumber {
				isArray = false
			} else if i, ok := l.ToInteger(-2); ok && i > 0 {
				count++
				if i > maxIndex {
					maxIndex = i
				}
			} else {
				isArray = false
			}
		}
		l.Pop(1)
	}
	if isArray && count > 0 && maxIndex == count {
		out := make([]any, 0, maxIndex)
		for i := 1; i <= maxIndex; i++ {
			l.RawGetInt(index, i)
			v, err := luaToGo(l, -1, depth)
			l.Pop(1)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	}

	out := map[string]any{}
	l.PushNil()
	for l.Next(index) {
		k, err := tableKey(l, -2)
		if err != nil {
			l.Pop(2)
			return nil, err
		}
		v, err := luaToGo(l, -1, depth)
		if err != nil {
			l.Pop(2)
			return nil, err
		}
		out[k] = v
		l.Pop(1)
	}
	return out, nil
}

// tableKey never converts in place: lua_tostring on a number key would break Next.
func tableKey(l *lua.State, index int) (string, error) {
	switch l.TypeOf(index) {
	case lua.TypeString:
		s, _ := l.ToString(index)
		return s, nil
	case lua.TypeNumber:
		n, _ := l.ToNumber(index)
		if math.Mod(n, 1) == 0 && math.Abs(n) < 1<<53 {
			return strconv.FormatInt(int64(n), 10), nil
		}
		return strconv.FormatFloat(n, 'g', 14, 64), nil
	case lua.TypeBoolean:
		return strconv.FormatBool(l.ToBoolean(index)), nil
	default:
		return "", fmt.Errorf("unsupported table key of type %s", lua.TypeNameOf(l, index))
	}
}
