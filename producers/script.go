package producers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	glua "github.com/yuin/gopher-lua"
	"gopkg.in/yaml.v3"

	"gitlab.com/tinyland/lab/pulsebar/status"
)

// ScriptArgs configures a Lua producer. Exactly one of File and Source is
// set. The named function is called with a table that persists across
// calls for the slot and returns a string, or nil and an error message.
type ScriptArgs struct {
	File     string        `yaml:"file"`
	Source   string        `yaml:"source"`
	Function string        `yaml:"function"`
	Timeout  time.Duration `yaml:"timeout"`
}

// scriptState is one Lua VM per slot.
type scriptState struct {
	L     *glua.LState
	fn    *glua.LFunction
	store *glua.LTable
}

func (s *scriptState) Close() error {
	if s.L != nil {
		s.L.Close()
		s.L = nil
	}
	return nil
}

// Script runs a Lua function to produce slot content.
type Script struct {
	args ScriptArgs
}

// NewScript is the Factory for the "script" kind.
func NewScript(args yaml.Node) (status.Producer, error) {
	a := ScriptArgs{Function: "status", Timeout: time.Second}
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	if (a.File == "") == (a.Source == "") {
		return nil, errors.New("exactly one of file or source is required")
	}
	if a.Function == "" {
		a.Function = "status"
	}
	return &Script{args: a}, nil
}

// NewState returns an empty state; the VM is created on first use so that
// load errors surface as slot failures and are retried.
func (s *Script) NewState() status.State { return &scriptState{} }

func (s *Script) load(st *scriptState) error {
	L := glua.NewState()
	var err error
	if s.args.File != "" {
		err = L.DoFile(s.args.File)
	} else {
		err = L.DoString(s.args.Source)
	}
	if err != nil {
		L.Close()
		return fmt.Errorf("script: load: %w", err)
	}
	fn, ok := L.GetGlobal(s.args.Function).(*glua.LFunction)
	if !ok {
		L.Close()
		return fmt.Errorf("script: function %q not defined", s.args.Function)
	}
	st.L, st.fn, st.store = L, fn, L.NewTable()
	return nil
}

// Produce calls the Lua function and writes its result.
func (s *Script) Produce(ctx context.Context, buf *status.Buffer, st status.State) error {
	ss, ok := st.(*scriptState)
	if !ok {
		return fmt.Errorf("script: unexpected state %T", st)
	}
	if ss.L == nil {
		if err := s.load(ss); err != nil {
			return err
		}
	}

	if s.args.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.args.Timeout)
		defer cancel()
	}
	ss.L.SetContext(ctx)
	defer ss.L.RemoveContext()

	if err := ss.L.CallByParam(glua.P{
		Fn:      ss.fn,
		NRet:    2,
		Protect: true,
	}, ss.store); err != nil {
		return fmt.Errorf("script: %w", err)
	}
	ret, msg := ss.L.Get(-2), ss.L.Get(-1)
	ss.L.Pop(2)

	switch v := ret.(type) {
	case glua.LString:
		_, err := buf.WriteString(string(v))
		return err
	case glua.LNumber:
		_, err := buf.WriteString(v.String())
		return err
	case *glua.LNilType:
		if msg != glua.LNil {
			return fmt.Errorf("script: %s", strings.TrimSpace(msg.String()))
		}
		return nil
	default:
		return fmt.Errorf("script: %s returned %s, want string", s.args.Function, ret.Type())
	}
}
